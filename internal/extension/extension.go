// Package extension activates datacat: it builds the service registry, the
// providers, the panel pool and the command table, and tears them down again.
package extension

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/datacat/internal/connstore"
	"github.com/danmuck/datacat/internal/dispose"
	"github.com/danmuck/datacat/internal/panel"
	"github.com/danmuck/datacat/internal/registry"
	"github.com/danmuck/datacat/internal/sidebar"
	"github.com/danmuck/datacat/internal/tree"
	"github.com/rs/zerolog/log"
)

const (
	DisposeAllCommand = "datacat.disposeAllPanels"
	ClosePanelCommand = "datacat.closePanel"
)

// Well-known registry slots.
var (
	ContextKey         = registry.NewKey[*Context]("extensionContext")
	SidebarProviderKey = registry.NewKey[*sidebar.Provider]("sidebarProvider")
	TreeProviderKey    = registry.NewKey[*tree.Provider]("treeProvider")
)

// Store is everything the extension reads and writes about connections.
type Store interface {
	tree.Source
	sidebar.Store
	panel.ConnectionData
}

var _ Store = (*connstore.Store)(nil)

// Context is the activation record published under ContextKey.
type Context struct {
	ExtensionRoot string
	ActivatedAt   time.Time
	Subscriptions *dispose.Stack
}

type Deps struct {
	Store  Store
	Host   panel.SurfaceHost
	Assets panel.AssetResolver
	Pool   panel.PoolConfig
}

// Extension is an activated datacat instance.
type Extension struct {
	ctx      *Context
	services *registry.Registry
	commands *Commands
	tree     *tree.Provider
	sidebar  *sidebar.Provider
	pool     *panel.Pool
	subs     dispose.Stack
}

// Activate wires every component and registers the commands.
func Activate(ctx context.Context, deps Deps) (*Extension, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("%w: store", panel.ErrMissingDependency)
	}
	services := registry.New()
	pool, err := panel.NewPool(deps.Pool, panel.PoolDeps{
		Host:     deps.Host,
		Assets:   deps.Assets,
		Data:     deps.Store,
		Services: services,
	})
	if err != nil {
		return nil, fmt.Errorf("extension activate: %w", err)
	}

	ext := &Extension{
		services: services,
		commands: NewCommands(),
		tree:     tree.NewProvider(deps.Store),
		pool:     pool,
	}
	ext.sidebar = sidebar.NewProvider(deps.Store, ext.commands, tree.RefreshCommand)
	ext.ctx = &Context{
		ExtensionRoot: deps.Pool.ExtensionRoot,
		ActivatedAt:   time.Now().UTC(),
		Subscriptions: &ext.subs,
	}

	handlers := []struct {
		name string
		fn   Handler
	}{
		{tree.RefreshCommand, ext.refreshTree},
		{tree.ActivateCommand, ext.openPanel},
		{ClosePanelCommand, ext.closePanel},
		{DisposeAllCommand, ext.disposeAll},
	}
	for _, h := range handlers {
		d, err := ext.commands.Register(h.name, h.fn)
		if err != nil {
			_ = ext.subs.Drain()
			return nil, fmt.Errorf("extension activate: %w", err)
		}
		ext.subs.Push(d)
	}

	registry.Set(services, ContextKey, ext.ctx)
	registry.Set(services, SidebarProviderKey, ext.sidebar)
	registry.Set(services, TreeProviderKey, ext.tree)

	log.Info().
		Str("root", ext.ctx.ExtensionRoot).
		Strs("commands", ext.commands.List()).
		Msg("extension_activated")
	return ext, nil
}

// Deactivate disposes every panel, then drains subscriptions LIFO.
func (e *Extension) Deactivate() error {
	panelsErr := e.pool.DisposeAll()
	subsErr := e.subs.Drain()
	log.Info().Msg("extension_deactivated")
	return errors.Join(panelsErr, subsErr)
}

func (e *Extension) Services() *registry.Registry { return e.services }
func (e *Extension) Commands() *Commands          { return e.commands }
func (e *Extension) Tree() *tree.Provider         { return e.tree }
func (e *Extension) Sidebar() *sidebar.Provider   { return e.sidebar }
func (e *Extension) Pool() *panel.Pool            { return e.pool }
func (e *Extension) Context() *Context            { return e.ctx }

func (e *Extension) refreshTree(ctx context.Context, args ...string) (any, error) {
	e.tree.Refresh()
	return nil, nil
}

// openPanel takes (connection, table).
func (e *Extension) openPanel(ctx context.Context, args ...string) (any, error) {
	if len(args) != 2 || strings.TrimSpace(args[1]) == "" {
		return nil, fmt.Errorf("%w: %s wants connection and table", ErrBadArguments, tree.ActivateCommand)
	}
	s, err := e.pool.Render(ctx, strings.TrimSpace(args[0]), strings.TrimSpace(args[1]))
	if err != nil {
		return nil, err
	}
	return PanelInfo(s), nil
}

func (e *Extension) closePanel(ctx context.Context, args ...string) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: %s wants a table", ErrBadArguments, ClosePanelCommand)
	}
	closed, err := e.pool.Close(strings.TrimSpace(args[0]))
	return closed, err
}

func (e *Extension) disposeAll(ctx context.Context, args ...string) (any, error) {
	return nil, e.pool.DisposeAll()
}

// Panel is the serializable view of a live session.
type Panel struct {
	Key        string `json:"key"`
	Connection string `json:"connection"`
	SurfaceID  string `json:"surface_id"`
	State      string `json:"state"`
}

func PanelInfo(s *panel.Session) Panel {
	return Panel{
		Key:        s.Key(),
		Connection: s.ConnectionName(),
		SurfaceID:  s.SurfaceID(),
		State:      s.State().String(),
	}
}

// Panels lists live sessions in key order.
func (e *Extension) Panels() []Panel {
	keys := e.pool.Keys()
	out := make([]Panel, 0, len(keys))
	for _, key := range keys {
		if s, ok := e.pool.Get(key); ok {
			out = append(out, PanelInfo(s))
		}
	}
	return out
}
