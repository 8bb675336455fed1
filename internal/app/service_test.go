package app

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/datacat/internal/config"
	"github.com/danmuck/datacat/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func testConfig(t *testing.T) config.Config {
	cfg := config.DefaultConfig()
	cfg.Addr = freeAddr(t)
	cfg.ExtensionRoot = t.TempDir()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "datacat.db")
	return cfg
}

func TestServiceRunServesUntilCancelled(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	cfg := testConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewService(cfg).RunContext(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get("http://" + cfg.Addr + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("unexpected health status: %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never became healthy: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("service did not stop")
	}
}

func TestServiceBootstrapRejectsInvalidConfig(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	cfg.DatabasePath = ""
	if err := NewService(cfg).RunContext(context.Background()); err == nil {
		t.Fatalf("expected invalid config error")
	}
}

func TestServiceShutdownReleasesInReverse(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	s := NewService(testConfig(t))
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if s.Extension() == nil || s.Server() == nil {
		t.Fatalf("expected extension and server after bootstrap")
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}
