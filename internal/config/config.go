// Package config loads pvs2scene settings from YAML or TOML files.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/atlas-foundry/pvs-go-sdk/pvs"
)

// Config holds the full pvs2scene configuration.
type Config struct {
	LogLevel          string       `yaml:"log_level" toml:"log_level"`
	LogFormat         string       `yaml:"log_format" toml:"log_format"` // text | json
	Pretty            bool         `yaml:"pretty" toml:"pretty"`
	Strict            bool         `yaml:"strict" toml:"strict"`
	MaxDepth          int          `yaml:"max_depth" toml:"max_depth"`
	RootIndex         *int         `yaml:"root_index" toml:"root_index"`
	TranslationScale  float32      `yaml:"translation_scale" toml:"translation_scale"`
	RevisionID        string       `yaml:"revision_id" toml:"revision_id"`
	CheckRotations    bool         `yaml:"check_rotations" toml:"check_rotations"`
	RotationTolerance float32      `yaml:"rotation_tolerance" toml:"rotation_tolerance"`
	Report            ReportConfig `yaml:"report" toml:"report"`
	SQLitePath        string       `yaml:"sqlite_path" toml:"sqlite_path"`
	Serve             ServeConfig  `yaml:"serve" toml:"serve"`
	Watch             WatchConfig  `yaml:"watch" toml:"watch"`
}

// ReportConfig configures the optional assembly report.
type ReportConfig struct {
	Path string `yaml:"path" toml:"path"`
	// Source is the text format rendered to HTML for .html paths.
	Source string `yaml:"source" toml:"source"`
}

// ServeConfig configures the HTTP conversion service.
type ServeConfig struct {
	Listen       string `yaml:"listen" toml:"listen"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	// Debounce of zero uses the watcher default; negative runs on every event.
	Debounce Duration `yaml:"debounce" toml:"debounce"`
}

// Duration decodes Go duration strings such as "250ms" from either format.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		TranslationScale:  pvs.DefaultTranslationScale,
		RevisionID:        pvs.DefaultRevisionID,
		RotationTolerance: pvs.DefaultRotationTolerance,
		Report:            ReportConfig{Source: string(pvs.FormatMarkdown)},
		Serve: ServeConfig{
			Listen:       ":8086",
			MaxBodyBytes: 32 << 20,
		},
		Watch: WatchConfig{Debounce: Duration{250 * time.Millisecond}},
	}
}

// LoadConfig reads a YAML (.yaml, .yml) or TOML (.toml) file over the
// defaults. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that values are sane.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be >= 0")
	}
	if c.RootIndex != nil && *c.RootIndex < 0 {
		return fmt.Errorf("root_index must be >= 0")
	}
	if c.TranslationScale <= 0 {
		return fmt.Errorf("translation_scale must be > 0")
	}
	if strings.TrimSpace(c.RevisionID) == "" {
		return fmt.Errorf("revision_id is required")
	}
	if c.RotationTolerance < 0 {
		return fmt.Errorf("rotation_tolerance must be >= 0")
	}
	switch pvs.TextFormat(c.Report.Source) {
	case pvs.FormatMarkdown, pvs.FormatOrg:
	default:
		return fmt.Errorf("report.source must be markdown or org, got %q", c.Report.Source)
	}
	if c.Serve.MaxBodyBytes <= 0 {
		return fmt.Errorf("serve.max_body_bytes must be > 0")
	}
	return nil
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log_level must be debug, info, warn or error, got %q", s)
	}
}

// NewLogger builds the configured slog handler writing to w.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	lvl, _ := ParseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: lvl}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// FlattenOptions maps the flattening settings onto pvs.FlattenOptions.
func (c *Config) FlattenOptions(logger *slog.Logger) pvs.FlattenOptions {
	opts := pvs.FlattenOptions{
		MaxDepth:         c.MaxDepth,
		TranslationScale: c.TranslationScale,
		RevisionID:       c.RevisionID,
		Logger:           logger,
	}
	if c.RootIndex != nil {
		root := *c.RootIndex
		opts.Root = &root
	}
	return opts
}

// ParseOptions maps the parse settings onto pvs.ParseOptions.
func (c *Config) ParseOptions() pvs.ParseOptions {
	return pvs.ParseOptions{Validate: c.Strict}
}
