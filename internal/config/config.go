package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the resolved datacat runtime configuration.
type Config struct {
	Name          string
	Addr          string
	ExtensionRoot string
	DatabasePath  string
	CorsOrigins   []string
	LogLevel      string
	Panels        PanelsConfig
	Surface       SurfaceConfig
}

// PanelsConfig mirrors the options every panel surface is created with.
type PanelsConfig struct {
	EnableScripts           bool
	RetainContextWhenHidden bool
}

// SurfaceConfig bounds the websocket-backed surfaces.
type SurfaceConfig struct {
	MaxSurfaces  int
	SendBuffer   int
	QueueLimit   int
	WriteTimeout time.Duration
	PongWait     time.Duration
	DetachGrace  time.Duration
}

// fileConfig is the on-disk TOML shape.
type fileConfig struct {
	Name          string            `toml:"name"`
	Addr          string            `toml:"addr"`
	ExtensionRoot string            `toml:"extension_root"`
	DatabasePath  string            `toml:"database_path"`
	CorsOrigins   []string          `toml:"cors_origins"`
	LogLevel      string            `toml:"log_level"`
	Panels        filePanelsConfig  `toml:"panels"`
	Surface       fileSurfaceConfig `toml:"surface"`
}

type filePanelsConfig struct {
	EnableScripts           bool `toml:"enable_scripts"`
	RetainContextWhenHidden bool `toml:"retain_context_when_hidden"`
}

type fileSurfaceConfig struct {
	MaxSurfaces  int    `toml:"max_surfaces"`
	SendBuffer   int    `toml:"send_buffer"`
	QueueLimit   int    `toml:"queue_limit"`
	WriteTimeout string `toml:"write_timeout"`
	PongWait     string `toml:"pong_wait"`
	DetachGrace  string `toml:"detach_grace"`
}

// DefaultConfig returns standalone defaults.
func DefaultConfig() Config {
	return Config{
		Name:          "datacat",
		Addr:          "127.0.0.1:7780",
		ExtensionRoot: ".",
		DatabasePath:  "datacat.db",
		CorsOrigins:   []string{"http://localhost:5173"},
		LogLevel:      "info",
		Panels: PanelsConfig{
			EnableScripts:           true,
			RetainContextWhenHidden: true,
		},
		Surface: SurfaceConfig{
			MaxSurfaces:  64,
			SendBuffer:   32,
			QueueLimit:   64,
			WriteTimeout: 10 * time.Second,
			PongWait:     60 * time.Second,
			DetachGrace:  2 * time.Second,
		},
	}
}

// Load decodes path on top of DefaultConfig and validates the result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("extension_root") {
		cfg.ExtensionRoot = strings.TrimSpace(raw.ExtensionRoot)
	}
	if meta.IsDefined("database_path") {
		cfg.DatabasePath = strings.TrimSpace(raw.DatabasePath)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("panels", "enable_scripts") {
		cfg.Panels.EnableScripts = raw.Panels.EnableScripts
	}
	if meta.IsDefined("panels", "retain_context_when_hidden") {
		cfg.Panels.RetainContextWhenHidden = raw.Panels.RetainContextWhenHidden
	}
	if meta.IsDefined("surface", "max_surfaces") {
		cfg.Surface.MaxSurfaces = raw.Surface.MaxSurfaces
	}
	if meta.IsDefined("surface", "send_buffer") {
		cfg.Surface.SendBuffer = raw.Surface.SendBuffer
	}
	if meta.IsDefined("surface", "queue_limit") {
		cfg.Surface.QueueLimit = raw.Surface.QueueLimit
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"write_timeout", raw.Surface.WriteTimeout, &cfg.Surface.WriteTimeout},
		{"pong_wait", raw.Surface.PongWait, &cfg.Surface.PongWait},
		{"detach_grace", raw.Surface.DetachGrace, &cfg.Surface.DetachGrace},
	}
	for _, d := range durations {
		if !meta.IsDefined("surface", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): surface.%s: %w", path, d.key, err)
		}
		*d.dst = v
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("config missing name")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("config missing addr")
	}
	if strings.TrimSpace(cfg.ExtensionRoot) == "" {
		return fmt.Errorf("config missing extension_root")
	}
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		return fmt.Errorf("config missing database_path")
	}
	for _, origin := range cfg.CorsOrigins {
		if origin == "*" || strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://") {
			continue
		}
		return fmt.Errorf("cors_origins: %q must be \"*\" or start with http:// or https://", origin)
	}
	if cfg.Surface.MaxSurfaces < 0 {
		return fmt.Errorf("surface.max_surfaces must be >= 0")
	}
	if cfg.Surface.SendBuffer <= 0 {
		return fmt.Errorf("surface.send_buffer must be > 0")
	}
	if cfg.Surface.QueueLimit <= 0 {
		return fmt.Errorf("surface.queue_limit must be > 0")
	}
	if cfg.Surface.WriteTimeout <= 0 || cfg.Surface.PongWait <= 0 {
		return fmt.Errorf("surface timeouts must be positive")
	}
	if cfg.Surface.DetachGrace < 0 {
		return fmt.Errorf("surface.detach_grace must be >= 0")
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
