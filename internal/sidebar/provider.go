// Package sidebar handles the create-connection form.
package sidebar

import (
	"context"
	"fmt"
	"strings"

	"github.com/danmuck/datacat/internal/connstore"
	"github.com/rs/zerolog/log"
)

// ViewID is the sidebar view the form is registered under.
const ViewID = "create-connection"

type Form struct {
	Name   string `json:"name" binding:"required"`
	Driver string `json:"driver" binding:"required"`
	DSN    string `json:"dsn"`
}

type Store interface {
	Add(ctx context.Context, conn connstore.Connection) (connstore.Connection, error)
}

// Executor runs a registered command by name.
type Executor interface {
	Execute(ctx context.Context, name string, args ...string) (any, error)
}

type Provider struct {
	store          Store
	exec           Executor
	refreshCommand string
}

// NewProvider returns a provider that runs refreshCommand after every
// successful create.
func NewProvider(store Store, exec Executor, refreshCommand string) *Provider {
	return &Provider{store: store, exec: exec, refreshCommand: refreshCommand}
}

// CreateConnection stores the form and refreshes the connection tree. A failed
// refresh is logged; the connection is still created.
func (p *Provider) CreateConnection(ctx context.Context, form Form) (connstore.Connection, error) {
	conn, err := p.store.Add(ctx, connstore.Connection{
		Name:   strings.TrimSpace(form.Name),
		Driver: strings.TrimSpace(form.Driver),
		DSN:    strings.TrimSpace(form.DSN),
	})
	if err != nil {
		return connstore.Connection{}, fmt.Errorf("sidebar create: %w", err)
	}
	log.Info().Str("connection", conn.Name).Str("driver", conn.Driver).Msg("connection_created")

	if p.exec != nil && p.refreshCommand != "" {
		if _, err := p.exec.Execute(ctx, p.refreshCommand); err != nil {
			log.Warn().Err(err).Str("command", p.refreshCommand).Msg("connection_refresh_failed")
		}
	}
	return conn, nil
}
