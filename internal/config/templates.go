package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders cfg in the on-disk TOML shape.
func Template(cfg Config) (string, error) {
	raw := fileConfig{
		Name:          cfg.Name,
		Addr:          cfg.Addr,
		ExtensionRoot: cfg.ExtensionRoot,
		DatabasePath:  cfg.DatabasePath,
		CorsOrigins:   cfg.CorsOrigins,
		LogLevel:      cfg.LogLevel,
		Panels: filePanelsConfig{
			EnableScripts:           cfg.Panels.EnableScripts,
			RetainContextWhenHidden: cfg.Panels.RetainContextWhenHidden,
		},
		Surface: fileSurfaceConfig{
			MaxSurfaces:  cfg.Surface.MaxSurfaces,
			SendBuffer:   cfg.Surface.SendBuffer,
			QueueLimit:   cfg.Surface.QueueLimit,
			WriteTimeout: cfg.Surface.WriteTimeout.String(),
			PongWait:     cfg.Surface.PongWait.String(),
			DetachGrace:  cfg.Surface.DetachGrace.String(),
		},
	}
	data, err := toml.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("config template: %w", err)
	}
	return string(data), nil
}

// WriteTemplate writes the default config to path.
func WriteTemplate(path string, overwrite bool) error {
	template, err := Template(DefaultConfig())
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
