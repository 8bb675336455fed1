package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/datacat/internal/testutil/testlog"
)

func TestLoadDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(filepath.Join("testdata", "ex.config.toml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Name != "datacat.local" {
		t.Fatalf("unexpected name: %q", cfg.Name)
	}
	if cfg.Addr != "127.0.0.1:7790" {
		t.Fatalf("unexpected addr: %q", cfg.Addr)
	}
	if cfg.ExtensionRoot != "/opt/datacat" {
		t.Fatalf("unexpected extension root: %q", cfg.ExtensionRoot)
	}
	if len(cfg.CorsOrigins) != 1 || cfg.CorsOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected cors origins: %+v", cfg.CorsOrigins)
	}
	if !cfg.Panels.EnableScripts {
		t.Fatalf("expected enable_scripts default to survive")
	}
	if cfg.Panels.RetainContextWhenHidden {
		t.Fatalf("expected retain_context_when_hidden override")
	}
	if cfg.Surface.SendBuffer != 8 {
		t.Fatalf("unexpected send buffer: %d", cfg.Surface.SendBuffer)
	}
	if cfg.Surface.WriteTimeout != 5*time.Second {
		t.Fatalf("unexpected write timeout: %v", cfg.Surface.WriteTimeout)
	}
	if cfg.Surface.DetachGrace != 0 {
		t.Fatalf("unexpected detach grace: %v", cfg.Surface.DetachGrace)
	}
	if cfg.Surface.PongWait != DefaultConfig().Surface.PongWait {
		t.Fatalf("unexpected pong wait: %v", cfg.Surface.PongWait)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("unexpected log level: %q", cfg.LogLevel)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[surface]\npong_wait = \"soon\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "surface.pong_wait") {
		t.Fatalf("expected pong_wait parse error, got %v", err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		body string
		want string
	}{
		{"blank addr", "addr = \"  \"\n", "missing addr"},
		{"origin without scheme", "cors_origins = [\"localhost:5173\"]\n", "cors_origins"},
		{"origin with other scheme", "cors_origins = [\"ws://localhost:5173\"]\n", "cors_origins"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.toml")
			if err := os.WriteFile(path, []byte(tc.body), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(path); err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q error, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateAcceptsWildcardAndSchemedOrigins(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.CorsOrigins = []string{"*", "http://localhost:5173", "https://datacat.example"}
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	testlog.Start(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestWriteTemplateRoundTripsDefaults(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "datacat.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("overwrite template: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	def := DefaultConfig()
	if cfg.Addr != def.Addr || cfg.Surface != def.Surface || cfg.Panels != def.Panels {
		t.Fatalf("template did not round trip defaults: %+v", cfg)
	}
}
