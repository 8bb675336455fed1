// Package app runs the datacat process: store, surface host, extension and
// HTTP server, brought up in order and torn down in reverse.
package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/danmuck/datacat/internal/config"
	"github.com/danmuck/datacat/internal/connstore"
	"github.com/danmuck/datacat/internal/dispose"
	"github.com/danmuck/datacat/internal/extension"
	"github.com/danmuck/datacat/internal/logging"
	"github.com/danmuck/datacat/internal/panel"
	"github.com/danmuck/datacat/internal/webhost"
	"github.com/rs/zerolog/log"
)

// Service owns one datacat process lifecycle.
type Service struct {
	cfg config.Config

	store   *connstore.Store
	host    *webhost.Host
	ext     *extension.Extension
	server  *webhost.Server
	cleanup dispose.Stack
}

func NewService(cfg config.Config) *Service {
	return &Service{cfg: cfg}
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext boots, serves until ctx ends, then shuts down.
func (s *Service) RunContext(ctx context.Context) error {
	if err := s.Bootstrap(ctx); err != nil {
		return errors.Join(err, s.Shutdown())
	}
	serveErr := s.server.Run(ctx)
	return errors.Join(serveErr, s.Shutdown())
}

// Bootstrap opens the store and activates the extension behind the server.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := config.Validate(s.cfg); err != nil {
		return err
	}
	logging.ApplyLevel(s.cfg.LogLevel)

	store, err := connstore.Open(s.cfg.DatabasePath)
	if err != nil {
		return err
	}
	s.store = store
	s.cleanup.Push(dispose.Func(store.Close))

	host, err := webhost.NewHost(webhost.HostConfig{
		ExtensionRoot: s.cfg.ExtensionRoot,
		MaxSurfaces:   s.cfg.Surface.MaxSurfaces,
		SendBuffer:    s.cfg.Surface.SendBuffer,
		QueueLimit:    s.cfg.Surface.QueueLimit,
		WriteTimeout:  s.cfg.Surface.WriteTimeout,
		PongWait:      s.cfg.Surface.PongWait,
		DetachGrace:   s.cfg.Surface.DetachGrace,
	})
	if err != nil {
		return err
	}
	s.host = host
	s.cleanup.Push(dispose.Func(host.Close))

	ext, err := extension.Activate(ctx, extension.Deps{
		Store:  store,
		Host:   host,
		Assets: host,
		Pool: panel.PoolConfig{
			ExtensionRoot:           s.cfg.ExtensionRoot,
			EnableScripts:           s.cfg.Panels.EnableScripts,
			RetainContextWhenHidden: s.cfg.Panels.RetainContextWhenHidden,
		},
	})
	if err != nil {
		return fmt.Errorf("app bootstrap: %w", err)
	}
	s.ext = ext
	s.cleanup.Push(dispose.Func(ext.Deactivate))

	s.server = webhost.NewServer(s.cfg.Name, s.cfg.Addr, s.cfg.CorsOrigins, ext, host)
	log.Info().
		Str("name", s.cfg.Name).
		Str("addr", s.cfg.Addr).
		Str("root", s.cfg.ExtensionRoot).
		Str("database", s.cfg.DatabasePath).
		Msg("app_ready")
	return nil
}

// Shutdown deactivates the extension, closes surfaces and the store.
func (s *Service) Shutdown() error {
	err := s.cleanup.Drain()
	if err != nil {
		log.Warn().Err(err).Msg("app_shutdown_failed")
	}
	return err
}

func (s *Service) Extension() *extension.Extension { return s.ext }
func (s *Service) Server() *webhost.Server         { return s.server }
