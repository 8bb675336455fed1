package panel

import (
	"context"
	"encoding/json"

	"github.com/danmuck/datacat/internal/dispose"
	"github.com/danmuck/datacat/internal/protocol"
)

// SurfaceOptions configures one rendering surface at creation time.
type SurfaceOptions struct {
	ViewType                string
	Title                   string
	EnableScripts           bool
	RetainContextWhenHidden bool
	// LocalResourceRoots bounds which files the surface may load.
	LocalResourceRoots []string
}

// Surface is one host-provided rendering container.
type Surface interface {
	ID() string
	Options() SurfaceOptions
	SetHTML(html string)
	PostMessage(msg protocol.Message) error
	// OnDidDispose registers fn to run once when the surface goes away,
	// whether closed by the user or disposed by the host.
	OnDidDispose(fn func()) dispose.Disposable
	OnDidReceiveMessage(fn func(raw []byte)) dispose.Disposable
	Dispose() error
}

// SurfaceHost creates surfaces.
type SurfaceHost interface {
	CreateSurface(ctx context.Context, opts SurfaceOptions) (Surface, error)
}

// AssetResolver turns a path below the extension root into a URI the surface
// can load. Paths outside the surface's resource roots are rejected.
type AssetResolver interface {
	AsWebviewURI(surface Surface, segments ...string) (string, error)
}

// ConnectionData supplies table -> row payload maps per connection name.
type ConnectionData interface {
	Tables(ctx context.Context, connection string) (map[string]json.RawMessage, bool, error)
}
