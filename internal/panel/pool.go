package panel

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/datacat/internal/observability"
	"github.com/danmuck/datacat/internal/registry"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidKey        = errors.New("panel: invalid table key")
	ErrSurfaceCreate     = errors.New("panel: surface create failed")
	ErrClosedOnActivate  = errors.New("panel: surface closed during activation")
	ErrMissingDependency = errors.New("panel: missing pool dependency")
)

// PoolConfig configures how surfaces are created for every session.
type PoolConfig struct {
	// ExtensionRoot is the packaged extension directory; surfaces may only
	// load assets below its out and webview-ui/build directories.
	ExtensionRoot           string
	EnableScripts           bool
	RetainContextWhenHidden bool
}

// DefaultPoolConfig returns the surface defaults panels are opened with.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		ExtensionRoot:           ".",
		EnableScripts:           true,
		RetainContextWhenHidden: true,
	}
}

// PoolDeps binds the pool to its host collaborators.
type PoolDeps struct {
	Host     SurfaceHost
	Assets   AssetResolver
	Data     ConnectionData
	Services *registry.Registry
}

// Pool keeps at most one live session per table key.
type Pool struct {
	cfg      PoolConfig
	host     SurfaceHost
	assets   AssetResolver
	data     ConnectionData
	services *registry.Registry

	// renderMu serializes Render so evict/create/insert is one step per key.
	renderMu sync.Mutex

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewPool validates deps and returns an empty pool.
func NewPool(cfg PoolConfig, deps PoolDeps) (*Pool, error) {
	switch {
	case deps.Host == nil:
		return nil, fmt.Errorf("%w: surface host", ErrMissingDependency)
	case deps.Assets == nil:
		return nil, fmt.Errorf("%w: asset resolver", ErrMissingDependency)
	case deps.Data == nil:
		return nil, fmt.Errorf("%w: connection data", ErrMissingDependency)
	}
	if deps.Services == nil {
		deps.Services = registry.New()
	}
	if strings.TrimSpace(cfg.ExtensionRoot) == "" {
		cfg.ExtensionRoot = "."
	}
	return &Pool{
		cfg:      cfg,
		host:     deps.Host,
		assets:   deps.Assets,
		data:     deps.Data,
		services: deps.Services,
		sessions: make(map[string]*Session),
	}, nil
}

// ResourceRoots returns the directories below extensionRoot that surfaces
// may load assets from.
func ResourceRoots(extensionRoot string) []string {
	return []string{
		filepath.Join(extensionRoot, "out"),
		filepath.Join(extensionRoot, "webview-ui", "build"),
	}
}

// LocalResourceRoots returns the resource roots for this pool's surfaces.
func (p *Pool) LocalResourceRoots() []string {
	return ResourceRoots(p.cfg.ExtensionRoot)
}

// Render opens tableKey for connectionName. Any session already open for the
// table is disposed before the new surface is created.
func (p *Pool) Render(ctx context.Context, connectionName, tableKey string) (*Session, error) {
	if strings.TrimSpace(tableKey) == "" {
		return nil, ErrInvalidKey
	}

	p.renderMu.Lock()
	defer p.renderMu.Unlock()

	replaced := false
	if old, ok := p.take(tableKey); ok {
		replaced = true
		if err := isolate(old); err != nil {
			log.Warn().Err(err).Str("panel", tableKey).Msg("panel_replace_dispose_failed")
		}
	}

	surface, err := p.host.CreateSurface(ctx, SurfaceOptions{
		ViewType:                tableKey,
		Title:                   tableKey,
		EnableScripts:           p.cfg.EnableScripts,
		RetainContextWhenHidden: p.cfg.RetainContextWhenHidden,
		LocalResourceRoots:      p.LocalResourceRoots(),
	})
	if err != nil {
		observability.RecordPanelRender("surface_error", replaced)
		return nil, fmt.Errorf("%w: %s: %w", ErrSurfaceCreate, tableKey, err)
	}

	s, err := newSession(ctx, p, surface, connectionName, tableKey)
	if err != nil {
		observability.RecordPanelRender("activate_error", replaced)
		return nil, err
	}

	if !p.insert(tableKey, s) {
		observability.RecordPanelRender("closed", replaced)
		return nil, fmt.Errorf("%w: %s", ErrClosedOnActivate, tableKey)
	}

	observability.RecordPanelRender("ok", replaced)
	log.Info().
		Str("panel", tableKey).
		Str("connection", connectionName).
		Str("surface", s.SurfaceID()).
		Bool("replaced", replaced).
		Msg("panel_rendered")
	return s, nil
}

// Get returns the live session for tableKey.
func (p *Pool) Get(tableKey string) (*Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[tableKey]
	return s, ok
}

// Keys returns pooled table keys in sorted order.
func (p *Pool) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.sessions))
	for key := range p.sessions {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// Close disposes the session for tableKey, reporting whether one was open.
func (p *Pool) Close(tableKey string) (bool, error) {
	s, ok := p.Get(tableKey)
	if !ok {
		return false, nil
	}
	return true, isolate(s)
}

// DisposeAll disposes every live session. One session failing does not stop
// the others; failures are joined.
func (p *Pool) DisposeAll() error {
	p.mu.Lock()
	snapshot := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		snapshot = append(snapshot, s)
	}
	p.mu.Unlock()

	var errs []error
	for _, s := range snapshot {
		if err := isolate(s); err != nil {
			errs = append(errs, fmt.Errorf("panel %s: %w", s.Key(), err))
		}
	}

	// Sessions whose dispose panicked before removing themselves.
	p.mu.Lock()
	for key, s := range p.sessions {
		if s.State() == StateDisposed {
			delete(p.sessions, key)
		}
	}
	n := len(p.sessions)
	p.mu.Unlock()
	observability.SetPanelsOpen(n)

	log.Info().Int("disposed", len(snapshot)).Int("failed", len(errs)).Msg("panels_disposed_all")
	return errors.Join(errs...)
}

func (p *Pool) insert(key string, s *Session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.State() == StateDisposed {
		return false
	}
	p.sessions[key] = s
	registry.Set(p.services, RegistryKey(key), s)
	observability.SetPanelsOpen(len(p.sessions))
	return true
}

func (p *Pool) take(key string) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[key]
	if ok {
		delete(p.sessions, key)
		observability.SetPanelsOpen(len(p.sessions))
	}
	return s, ok
}

// remove drops key only while it still maps to s, so a late dispose of a
// replaced session cannot evict its successor.
func (p *Pool) remove(key string, s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.sessions[key]; ok && cur == s {
		delete(p.sessions, key)
		observability.SetPanelsOpen(len(p.sessions))
	}
}

func isolate(s *Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panel %s: dispose panicked: %v", s.Key(), r)
		}
	}()
	return s.Dispose()
}
