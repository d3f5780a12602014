package parser

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const manifestFilename = "manifest.yaml"

// Manifest declares one parser instance in a manifest directory.
//
//	name: office_energy
//	kind: energy        # catalog registration, defaults to name
//	priority: 10
//	config:
//	  alpha: 0.1
type Manifest struct {
	Name        string         `yaml:"name"`
	Kind        string         `yaml:"kind,omitempty"`
	Priority    *int           `yaml:"priority,omitempty"`
	Description string         `yaml:"description,omitempty"`
	Config      map[string]any `yaml:"config,omitempty"`

	// Path is the manifest file the entry was read from.
	Path string `yaml:"-"`
}

// candidate is a parser the loader may instantiate.
type candidate struct {
	Name        string
	Kind        string
	Priority    *int
	Description string
	Config      map[string]any
	Source      string
}

// DiscoverManifests walks dir for manifest.yaml files in lexical order.
// Invalid manifests are logged and skipped; duplicate names keep the first
// discovered. Only a missing or unreadable dir is an error.
func DiscoverManifests(dir string, logger *slog.Logger) ([]Manifest, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("manifest directory is empty")
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manifest directory %q: %w", dir, err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("manifest directory does not exist: %s", absDir)
		}
		return nil, fmt.Errorf("failed to stat manifest directory %s: %w", absDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("manifest directory is not a directory: %s", absDir)
	}

	var out []Manifest
	seen := make(map[string]string)
	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != manifestFilename {
			return nil
		}

		m, err := loadManifest(path)
		if err != nil {
			logger.Warn("failed to load parser manifest", "path", path, "error", err.Error())
			return nil
		}
		if kept, dup := seen[m.Name]; dup {
			logger.Warn("duplicate parser ignored (keeping first discovered)",
				"parser", m.Name,
				"ignored_path", path,
				"kept_path", kept,
			)
			return nil
		}
		seen[m.Name] = path
		out = append(out, m)
		logger.Debug("discovered parser manifest", "parser", m.Name, "kind", m.Kind, "path", path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan manifest directory %s: %w", absDir, err)
	}
	return out, nil
}

func loadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	m.Name = strings.TrimSpace(m.Name)
	m.Kind = strings.TrimSpace(m.Kind)
	if m.Kind == "" {
		m.Kind = m.Name
	}
	if err := validateManifest(&m); err != nil {
		return Manifest{}, fmt.Errorf("invalid manifest: %w", err)
	}
	m.Path = path
	return m, nil
}

func validateManifest(m *Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(m.Name, " \t/") {
		return fmt.Errorf("name %q must not contain whitespace or '/'", m.Name)
	}
	return nil
}
