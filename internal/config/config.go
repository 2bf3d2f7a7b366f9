package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kikiluvv/velocityclip/pkg/util"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Export modes accepted in config and project files
const (
	ModeSeparate = "separate"
	ModeMerged   = "merged"
)

// Config holds all application configuration
type Config struct {
	// Core settings
	WorkDir   string `yaml:"work_dir"`
	OutputDir string `yaml:"output_dir"`

	// Upload slots and their colours
	Slots   int      `yaml:"slots"`
	Palette []string `yaml:"palette"`

	Mark   MarkConfig   `yaml:"mark"`
	Export ExportConfig `yaml:"export"`
	FFmpeg FFmpegConfig `yaml:"ffmpeg"`
	Server ServerConfig `yaml:"server"`
}

// MarkConfig is the window placed around a marked moment
type MarkConfig struct {
	LeadSeconds float64 `yaml:"lead_seconds"`
	TailSeconds float64 `yaml:"tail_seconds"`
}

type ExportConfig struct {
	Mode string `yaml:"mode"`
}

type FFmpegConfig struct {
	BinaryPath string `yaml:"binary_path"`
	ProbePath  string `yaml:"probe_path"`
	Threads    int    `yaml:"threads"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads configuration from file or returns defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := util.EnsureDir(dir); err != nil {
			return err
		}
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks values that would otherwise fail deep inside an export
func (c *Config) Validate() error {
	if c.Slots < 1 {
		return fmt.Errorf("slots must be at least 1")
	}
	if len(c.Palette) == 0 {
		return fmt.Errorf("palette must not be empty")
	}
	if c.Mark.LeadSeconds < 0 || c.Mark.TailSeconds < 0 {
		return fmt.Errorf("mark window must not be negative")
	}
	if c.Mark.LeadSeconds+c.Mark.TailSeconds <= 0 {
		return fmt.Errorf("mark window must be longer than zero")
	}
	switch c.Export.Mode {
	case ModeSeparate, ModeMerged:
	default:
		return fmt.Errorf("export mode must be %q or %q, got %q", ModeSeparate, ModeMerged, c.Export.Mode)
	}
	if c.FFmpeg.Threads < 0 {
		return fmt.Errorf("ffmpeg threads cannot be negative")
	}
	return nil
}

// Color returns the palette colour for a slot, wrapping when there are more
// slots than colours.
func (c *Config) Color(slot int) string {
	if slot < 0 || len(c.Palette) == 0 {
		return ""
	}
	return c.Palette[slot%len(c.Palette)]
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		WorkDir:   "",
		OutputDir: "./exports",
		Slots:     5,
		Palette:   []string{"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A", "#98D8C8"},
		Mark: MarkConfig{
			LeadSeconds: 5,
			TailSeconds: 25,
		},
		Export: ExportConfig{
			Mode: ModeSeparate,
		},
		FFmpeg: FFmpegConfig{
			BinaryPath: "ffmpeg",
			ProbePath:  "ffprobe",
			Threads:    0,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8788",
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".velocityclip", "config.yaml"))
	}

	for _, path := range candidates {
		if util.FileExists(path) {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return Default()
}
