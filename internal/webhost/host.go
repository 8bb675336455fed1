// Package webhost serves datacat over HTTP. Panel surfaces are browser pages
// fed by one websocket each; assets are served from the extension root.
package webhost

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/datacat/internal/panel"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const AssetPrefix = "/assets/"

var (
	ErrTooManySurfaces   = errors.New("webhost: surface limit reached")
	ErrSurfaceNotFound   = errors.New("webhost: surface not found")
	ErrSurfaceDisposed   = errors.New("webhost: surface disposed")
	ErrQueueFull         = errors.New("webhost: surface queue full")
	ErrViewerSlow        = errors.New("webhost: viewer send buffer full")
	ErrAssetOutsideRoots = errors.New("webhost: asset outside resource roots")
)

// HostConfig bounds the surfaces a Host creates.
type HostConfig struct {
	ExtensionRoot string
	// MaxSurfaces of zero means unlimited.
	MaxSurfaces  int
	SendBuffer   int
	QueueLimit   int
	WriteTimeout time.Duration
	PongWait     time.Duration
	// DetachGrace is how long a surface survives without a viewer once one
	// has attached and left.
	DetachGrace time.Duration
}

func DefaultHostConfig() HostConfig {
	return HostConfig{
		ExtensionRoot: ".",
		MaxSurfaces:   64,
		SendBuffer:    32,
		QueueLimit:    64,
		WriteTimeout:  10 * time.Second,
		PongWait:      60 * time.Second,
		DetachGrace:   2 * time.Second,
	}
}

// Host creates websocket-backed surfaces and resolves their asset URIs.
type Host struct {
	cfg   HostConfig
	root  string
	roots []string

	mu       sync.RWMutex
	surfaces map[string]*Surface
}

var (
	_ panel.SurfaceHost   = (*Host)(nil)
	_ panel.AssetResolver = (*Host)(nil)
)

func NewHost(cfg HostConfig) (*Host, error) {
	def := DefaultHostConfig()
	if strings.TrimSpace(cfg.ExtensionRoot) == "" {
		cfg.ExtensionRoot = def.ExtensionRoot
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = def.QueueLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	root, err := filepath.Abs(cfg.ExtensionRoot)
	if err != nil {
		return nil, fmt.Errorf("webhost root %s: %w", cfg.ExtensionRoot, err)
	}
	roots, err := absAll(panel.ResourceRoots(root))
	if err != nil {
		return nil, err
	}
	return &Host{
		cfg:      cfg,
		root:     root,
		roots:    roots,
		surfaces: make(map[string]*Surface),
	}, nil
}

// CreateSurface allocates a new surface with a random id.
func (h *Host) CreateSurface(ctx context.Context, opts panel.SurfaceOptions) (panel.Surface, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cfg.MaxSurfaces > 0 && len(h.surfaces) >= h.cfg.MaxSurfaces {
		return nil, fmt.Errorf("%w: %d", ErrTooManySurfaces, h.cfg.MaxSurfaces)
	}
	s := newSurface(h, uuid.NewString(), opts)
	h.surfaces[s.id] = s
	log.Debug().Str("surface", s.id).Str("view", opts.ViewType).Msg("surface_created")
	return s, nil
}

// Surface returns a live surface by id.
func (h *Host) Surface(id string) (*Surface, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.surfaces[id]
	return s, ok
}

// SurfaceIDs returns live surface ids in sorted order.
func (h *Host) SurfaceIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.surfaces))
	for id := range h.surfaces {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close disposes every surface still alive.
func (h *Host) Close() error {
	h.mu.RLock()
	snapshot := make([]*Surface, 0, len(h.surfaces))
	for _, s := range h.surfaces {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	var errs []error
	for _, s := range snapshot {
		if err := s.Dispose(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Host) forget(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.surfaces, id)
}

// AsWebviewURI maps a path below the extension root to its served URI. The
// path must lie inside one of the surface's resource roots.
func (h *Host) AsWebviewURI(surface panel.Surface, segments ...string) (string, error) {
	full := filepath.Join(append([]string{h.root}, segments...)...)
	roots, err := absAll(surface.Options().LocalResourceRoots)
	if err != nil {
		return "", err
	}
	if !within(full, roots) {
		return "", fmt.Errorf("%w: %s", ErrAssetOutsideRoots, path.Join(segments...))
	}
	rel, err := filepath.Rel(h.root, full)
	if err != nil {
		return "", err
	}
	return AssetPrefix + filepath.ToSlash(rel), nil
}

// ResolveAsset maps a served asset path back to a file below one of the
// host's resource roots.
func (h *Host) ResolveAsset(rel string) (string, error) {
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	full := filepath.Join(h.root, filepath.FromSlash(rel))
	if !within(full, h.roots) {
		return "", fmt.Errorf("%w: %s", ErrAssetOutsideRoots, rel)
	}
	return full, nil
}

func absAll(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("webhost resource root %s: %w", p, err)
		}
		out = append(out, abs)
	}
	return out, nil
}

func within(full string, roots []string) bool {
	for _, root := range roots {
		rel, err := filepath.Rel(root, full)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "." {
			return true
		}
	}
	return false
}
