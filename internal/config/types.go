package config

import (
	"maps"

	"github.com/mattjoyce/hearken/internal/parser"
)

// Config represents the complete hearken configuration.
type Config struct {
	Service      ServiceConfig      `yaml:"service"`
	State        StateConfig        `yaml:"state"`
	API          APIConfig          `yaml:"api,omitempty"`
	Telemetry    TelemetryConfig    `yaml:"telemetry,omitempty"`
	AudioParsers AudioParsersConfig `yaml:"audio_parsers"`

	// Path is the absolute path the config was loaded from.
	Path string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// StateConfig defines the utterance ledger location.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// TelemetryConfig controls OpenTelemetry trace export. Disabled leaves the
// global tracer provider as a no-op.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"` // 0 means the default
}

// AudioParsersConfig is the audio_parsers section.
type AudioParsersConfig struct {
	// Dir optionally holds parser manifests. Empty means every built-in kind
	// is a candidate.
	Dir            string                `yaml:"dir,omitempty"`
	Blacklist      []string              `yaml:"blacklist,omitempty"`
	Concurrent     bool                  `yaml:"concurrent"`
	MaxConcurrency int                   `yaml:"max_concurrency"`
	Parsers        map[string]ParserConf `yaml:"parsers,omitempty"`
}

// ParserConf is the per-parser slice injected by the loader.
type ParserConf struct {
	Enabled  *bool          `yaml:"enabled,omitempty"`
	Priority *int           `yaml:"priority,omitempty"`
	Config   map[string]any `yaml:"config,omitempty"`
}

// ChecksumManifest is the .checksums file written by `hearken config lock`.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "hearken",
			LogLevel: "info",
		},
		State: StateConfig{
			Path: "./data/hearken.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
		AudioParsers: AudioParsersConfig{
			MaxConcurrency: 4,
			Parsers:        make(map[string]ParserConf),
		},
	}
}

// LoaderOptions converts the section into parser loader options.
func (c AudioParsersConfig) LoaderOptions() parser.Options {
	settings := make(map[string]parser.Settings, len(c.Parsers))
	for name, pc := range c.Parsers {
		settings[name] = parser.Settings{
			Enabled:  pc.Enabled,
			Priority: pc.Priority,
			Config:   maps.Clone(pc.Config),
		}
	}
	return parser.Options{
		Dir:       c.Dir,
		Blacklist: append([]string(nil), c.Blacklist...),
		Parsers:   settings,
	}
}
