package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/hearken/internal/log"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Load reads, interpolates, defaults, verifies and validates a config file.
// A directory is accepted and resolved to its config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := resolvePath(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.Path = absPath
	cfg = applyConfigDefaults(cfg)

	// Relative manifest directories are anchored at the config file.
	if cfg.AudioParsers.Dir != "" && !filepath.IsAbs(cfg.AudioParsers.Dir) {
		cfg.AudioParsers.Dir = filepath.Join(filepath.Dir(absPath), cfg.AudioParsers.Dir)
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $HEARKEN_CONFIG, ~/.config/hearken/config.yaml,
// /etc/hearken/config.yaml, ./config.yaml.
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("HEARKEN_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	var candidates []string
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "hearken", "config.yaml"))
	}
	candidates = append(candidates, "/etc/hearken/config.yaml", "./config.yaml")

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $HEARKEN_CONFIG, %s)", strings.Join(candidates, ", "))
}

func resolvePath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// verifyConfigHash checks path against .checksums in the same directory.
// A missing .checksums skips verification.
func verifyConfigHash(path string) error {
	dir := filepath.Dir(path)
	checksums, err := LoadChecksums(dir)
	if err != nil {
		log.Debug("config integrity not verified", "dir", dir, "reason", err.Error())
		return nil
	}

	basename := filepath.Base(path)
	expectedHash, ok := checksums.Hashes[basename]
	if !ok {
		return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
			"Run: hearken config lock --config %s", basename, dir, path)
	}
	if err := VerifyFileHash(path, expectedHash); err != nil {
		return fmt.Errorf("config verification failed for %s: %w\n"+
			"This indicates tampering or unauthorized modification.\n"+
			"If you edited this file intentionally, run: hearken config lock --config %s", path, err, path)
	}
	return nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.Telemetry.OTLPEndpoint == "" {
		cfg.Telemetry.OTLPEndpoint = defaults.Telemetry.OTLPEndpoint
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = defaults.Telemetry.SampleRate
	}
	if cfg.AudioParsers.MaxConcurrency == 0 {
		cfg.AudioParsers.MaxConcurrency = defaults.AudioParsers.MaxConcurrency
	}
	if cfg.AudioParsers.Parsers == nil {
		cfg.AudioParsers.Parsers = defaults.AudioParsers.Parsers
	}
	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and rejected by validate.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	if !slices.Contains(validLogLevels, cfg.Service.LogLevel) {
		return fmt.Errorf("service.log_level must be one of: %s (got %q)",
			strings.Join(validLogLevels, ", "), cfg.Service.LogLevel)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if err := checkUnresolved("state.path", cfg.State.Path); err != nil {
		return err
	}

	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when the API is enabled")
	}

	if cfg.Telemetry.SampleRate < 0 || cfg.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be within [0, 1] (got %g)", cfg.Telemetry.SampleRate)
	}
	if err := checkUnresolved("telemetry.otlp_endpoint", cfg.Telemetry.OTLPEndpoint); err != nil {
		return err
	}

	ap := cfg.AudioParsers
	if ap.MaxConcurrency < 1 {
		return fmt.Errorf("audio_parsers.max_concurrency must be positive (got %d)", ap.MaxConcurrency)
	}
	if err := checkUnresolved("audio_parsers.dir", ap.Dir); err != nil {
		return err
	}
	for i, name := range ap.Blacklist {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("audio_parsers.blacklist[%d] is empty", i)
		}
	}
	for name, pc := range ap.Parsers {
		if pc.Priority != nil && *pc.Priority < 0 {
			return fmt.Errorf("parser %q: priority must not be negative (got %d)", name, *pc.Priority)
		}
		if pc.Config != nil {
			if err := checkUnresolvedEnvVars(pc.Config, name); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkUnresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); m != nil {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

// checkUnresolvedEnvVars recursively checks for ${VAR} placeholders in config values.
func checkUnresolvedEnvVars(data map[string]any, parserName string) error {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if m := envVarPattern.FindStringSubmatch(v); m != nil {
				return fmt.Errorf("parser %q: environment variable ${%s} is not set (config.%s)", parserName, m[1], key)
			}
		case map[string]any:
			if err := checkUnresolvedEnvVars(v, parserName); err != nil {
				return err
			}
		}
	}
	return nil
}
