package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/danmuck/datacat/internal/dispose"
	"github.com/danmuck/datacat/internal/protocol"
)

type fakeSurface struct {
	id   string
	opts SurfaceOptions

	mu          sync.Mutex
	html        string
	messages    []protocol.Message
	disposed    int
	nextID      int
	onDispose   map[int]func()
	onMessage   map[int]func([]byte)
	postErr     error
	closeOnPost bool
}

func newFakeSurface(id string, opts SurfaceOptions) *fakeSurface {
	return &fakeSurface{
		id:        id,
		opts:      opts,
		onDispose: make(map[int]func()),
		onMessage: make(map[int]func([]byte)),
	}
}

func (f *fakeSurface) ID() string               { return f.id }
func (f *fakeSurface) Options() SurfaceOptions { return f.opts }

func (f *fakeSurface) SetHTML(html string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.html = html
}

func (f *fakeSurface) PostMessage(msg protocol.Message) error {
	f.mu.Lock()
	if f.postErr != nil {
		f.mu.Unlock()
		return f.postErr
	}
	f.messages = append(f.messages, msg)
	closeNow := f.closeOnPost
	f.mu.Unlock()
	if closeNow {
		f.Close()
	}
	return nil
}

func (f *fakeSurface) OnDidDispose(fn func()) dispose.Disposable {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.onDispose[id] = fn
	return dispose.Func(func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.onDispose, id)
		return nil
	})
}

func (f *fakeSurface) OnDidReceiveMessage(fn func([]byte)) dispose.Disposable {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.onMessage[id] = fn
	return dispose.Func(func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.onMessage, id)
		return nil
	})
}

// Close simulates the user closing the surface.
func (f *fakeSurface) Close() {
	_ = f.Dispose()
}

func (f *fakeSurface) Dispose() error {
	f.mu.Lock()
	f.disposed++
	if f.disposed > 1 {
		f.mu.Unlock()
		return nil
	}
	hooks := make([]func(), 0, len(f.onDispose))
	for _, fn := range f.onDispose {
		hooks = append(hooks, fn)
	}
	f.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	return nil
}

func (f *fakeSurface) Listeners() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.onDispose), len(f.onMessage)
}

func (f *fakeSurface) Messages() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Message, len(f.messages))
	copy(out, f.messages)
	return out
}

func (f *fakeSurface) DisposeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disposed
}

type fakeHost struct {
	mu       sync.Mutex
	surfaces []*fakeSurface
	err      error
	// configure runs on every new surface before it is returned.
	configure func(*fakeSurface)
	// liveAtCreate records how many surfaces were undisposed when each
	// CreateSurface call started.
	liveAtCreate []int
}

func (h *fakeHost) CreateSurface(ctx context.Context, opts SurfaceOptions) (Surface, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	live := 0
	for _, s := range h.surfaces {
		if s.DisposeCount() == 0 {
			live++
		}
	}
	h.liveAtCreate = append(h.liveAtCreate, live)
	if h.err != nil {
		return nil, h.err
	}
	s := newFakeSurface(fmt.Sprintf("surface-%d", len(h.surfaces)+1), opts)
	if h.configure != nil {
		h.configure(s)
	}
	h.surfaces = append(h.surfaces, s)
	return s, nil
}

func (h *fakeHost) Last() *fakeSurface {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.surfaces) == 0 {
		return nil
	}
	return h.surfaces[len(h.surfaces)-1]
}

type fakeAssets struct {
	root string
	err  error
}

func (a fakeAssets) AsWebviewURI(surface Surface, segments ...string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	rel := path.Join(segments...)
	full := path.Join(a.root, rel)
	for _, allowed := range surface.Options().LocalResourceRoots {
		if strings.HasPrefix(full, strings.TrimSuffix(allowed, "/")+"/") {
			return "/assets/" + rel, nil
		}
	}
	return "", errors.New("asset outside resource roots: " + rel)
}

type fakeData struct {
	conns map[string]map[string]json.RawMessage
	err   error
}

func (d fakeData) Tables(ctx context.Context, connection string) (map[string]json.RawMessage, bool, error) {
	if d.err != nil {
		return nil, false, d.err
	}
	tables, ok := d.conns[connection]
	return tables, ok, nil
}
