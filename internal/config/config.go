// Package config loads and validates the listmirror YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the full CLI configuration loaded from YAML.
type Config struct {
	// DBPath is the SQLite database file backing the embedded store.
	// Defaults to ~/.local/share/listmirror/store.db if unset.
	DBPath string `yaml:"db_path"`

	// DataPath is the store location holding full record bodies. Required.
	DataPath string `yaml:"data_path"`

	// IDIndexPath is the store location holding the boolean id markers.
	// Defaults to DataPath + "-ids".
	IDIndexPath string `yaml:"id_index_path"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "listmirror".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/listmirror/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "listmirror", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if c.DataPath == "" {
		return fmt.Errorf("data_path is required")
	}
	if err := validPath(c.DataPath); err != nil {
		return fmt.Errorf("data_path: %w", err)
	}

	if c.IDIndexPath == "" {
		c.IDIndexPath = c.DataPath + "-ids"
	}
	if err := validPath(c.IDIndexPath); err != nil {
		return fmt.Errorf("id_index_path: %w", err)
	}
	if c.IDIndexPath == c.DataPath {
		return fmt.Errorf("id_index_path must differ from data_path")
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

// validPath rejects store paths with empty segments, which would collide
// with the slash-joined child addressing.
func validPath(p string) error {
	if strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") || strings.Contains(p, "//") {
		return fmt.Errorf("%q must not contain empty segments", p)
	}
	return nil
}
