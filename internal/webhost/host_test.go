package webhost

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/datacat/internal/panel"
	"github.com/danmuck/datacat/internal/protocol"
	"github.com/danmuck/datacat/internal/testutil/testlog"
	"github.com/gorilla/websocket"
)

func newTestRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	assets := filepath.Join(root, "webview-ui", "build", "assets")
	if err := os.MkdirAll(assets, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files := map[string]string{
		filepath.Join(assets, "index.js"):  "console.log('ui');",
		filepath.Join(assets, "index.css"): "body{}",
		filepath.Join(root, "secret.txt"):  "nope",
	}
	for path, body := range files {
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	return root
}

func newTestHost(t *testing.T, mutate func(*HostConfig)) (*Host, string) {
	t.Helper()
	root := newTestRoot(t)
	cfg := DefaultHostConfig()
	cfg.ExtensionRoot = root
	cfg.DetachGrace = 0
	if mutate != nil {
		mutate(&cfg)
	}
	h, err := NewHost(cfg)
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h, root
}

func newTestSurface(t *testing.T, h *Host, root string) *Surface {
	t.Helper()
	s, err := h.CreateSurface(context.Background(), panel.SurfaceOptions{
		ViewType:           "orders",
		Title:              "orders",
		EnableScripts:      true,
		LocalResourceRoots: panel.ResourceRoots(root),
	})
	if err != nil {
		t.Fatalf("create surface: %v", err)
	}
	return s.(*Surface)
}

// serveSurface exposes s on a test server and dials it.
func serveSurface(t *testing.T, s *Surface) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = s.Serve(conn)
	}))
	t.Cleanup(srv.Close)
	return dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

func TestAsWebviewURIRestrictsToResourceRoots(t *testing.T) {
	testlog.Start(t)
	h, root := newTestHost(t, nil)
	s := newTestSurface(t, h, root)

	uri, err := h.AsWebviewURI(s, "webview-ui", "build", "assets", "index.js")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if uri != "/assets/webview-ui/build/assets/index.js" {
		t.Fatalf("unexpected uri: %q", uri)
	}
	for _, segs := range [][]string{{"secret.txt"}, {"webview-ui", "..", "..", "etc"}, {"webview-ui"}} {
		if _, err := h.AsWebviewURI(s, segs...); !errors.Is(err, ErrAssetOutsideRoots) {
			t.Fatalf("expected %v rejected, got %v", segs, err)
		}
	}
}

func TestResolveAsset(t *testing.T) {
	testlog.Start(t)
	h, root := newTestHost(t, nil)

	full, err := h.ResolveAsset("/webview-ui/build/assets/index.css")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if full != filepath.Join(root, "webview-ui", "build", "assets", "index.css") {
		t.Fatalf("unexpected path: %q", full)
	}
	for _, rel := range []string{"secret.txt", "../../etc/passwd", "webview-ui/build/../../secret.txt"} {
		if _, err := h.ResolveAsset(rel); !errors.Is(err, ErrAssetOutsideRoots) {
			t.Fatalf("expected %q rejected, got %v", rel, err)
		}
	}
}

func TestCreateSurfaceLimitsAndContext(t *testing.T) {
	testlog.Start(t)
	h, root := newTestHost(t, func(cfg *HostConfig) { cfg.MaxSurfaces = 1 })

	first := newTestSurface(t, h, root)
	if _, err := h.CreateSurface(context.Background(), panel.SurfaceOptions{}); !errors.Is(err, ErrTooManySurfaces) {
		t.Fatalf("expected ErrTooManySurfaces, got %v", err)
	}
	if err := first.Dispose(); err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if _, ok := h.Surface(first.ID()); ok {
		t.Fatalf("expected disposed surface forgotten")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.CreateSurface(ctx, panel.SurfaceOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	newTestSurface(t, h, root)
	if got := len(h.SurfaceIDs()); got != 1 {
		t.Fatalf("expected one live surface, got %d", got)
	}
}

func TestSurfaceQueuesUntilViewerAttaches(t *testing.T) {
	testlog.Start(t)
	h, root := newTestHost(t, nil)
	s := newTestSurface(t, h, root)

	page, err := protocol.SetPage(protocol.ConnPagePath("orders"))
	if err != nil {
		t.Fatalf("set page: %v", err)
	}
	if err := s.PostMessage(page); err != nil {
		t.Fatalf("post page: %v", err)
	}
	if err := s.PostMessage(protocol.OpenConnWindow([]byte(`[{"id":1}]`))); err != nil {
		t.Fatalf("post rows: %v", err)
	}
	if s.Pending() != 2 {
		t.Fatalf("expected 2 queued, got %d", s.Pending())
	}

	conn := serveSurface(t, s)
	if got := readMessage(t, conn); got.Kind != protocol.KindSetPage {
		t.Fatalf("expected setPage first, got %s", got.Kind)
	}
	if got := readMessage(t, conn); got.Kind != protocol.KindOpenConnWindow {
		t.Fatalf("expected openConnWindow second, got %s", got.Kind)
	}
	if s.Pending() != 0 {
		t.Fatalf("expected queue flushed, got %d", s.Pending())
	}

	if err := s.PostMessage(protocol.OpenConnWindow(nil)); err != nil {
		t.Fatalf("post live: %v", err)
	}
	got := readMessage(t, conn)
	if got.Kind != protocol.KindOpenConnWindow || !got.IsNull() {
		t.Fatalf("unexpected live message: %+v", got)
	}
}

func TestSurfaceQueueLimit(t *testing.T) {
	testlog.Start(t)
	h, root := newTestHost(t, func(cfg *HostConfig) { cfg.QueueLimit = 1 })
	s := newTestSurface(t, h, root)

	if err := s.PostMessage(protocol.OpenConnWindow(nil)); err != nil {
		t.Fatalf("first post: %v", err)
	}
	if err := s.PostMessage(protocol.OpenConnWindow(nil)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestViewerCloseDisposesSurface(t *testing.T) {
	testlog.Start(t)
	h, root := newTestHost(t, nil)
	s := newTestSurface(t, h, root)

	fired := make(chan struct{}, 1)
	s.OnDidDispose(func() { fired <- struct{}{} })

	conn := serveSurface(t, s)
	if err := s.PostMessage(protocol.OpenConnWindow(nil)); err != nil {
		t.Fatalf("post: %v", err)
	}
	readMessage(t, conn)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	_ = conn.Close()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispose hook did not fire")
	}
	if !s.Disposed() {
		t.Fatalf("expected surface disposed")
	}
	if _, ok := h.Surface(s.ID()); ok {
		t.Fatalf("expected host to forget surface")
	}
	if err := s.PostMessage(protocol.OpenConnWindow(nil)); !errors.Is(err, ErrSurfaceDisposed) {
		t.Fatalf("expected ErrSurfaceDisposed, got %v", err)
	}
}

func TestViewerReattachWithinGraceKeepsSurface(t *testing.T) {
	testlog.Start(t)
	h, root := newTestHost(t, func(cfg *HostConfig) { cfg.DetachGrace = 5 * time.Second })
	s := newTestSurface(t, h, root)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = s.Serve(conn)
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	first := dial(t, url)
	if err := s.PostMessage(protocol.OpenConnWindow(nil)); err != nil {
		t.Fatalf("post: %v", err)
	}
	readMessage(t, first)
	_ = first.Close()

	second := dial(t, url)
	if err := s.PostMessage(protocol.OpenConnWindow([]byte(`[]`))); err != nil {
		t.Fatalf("post after reattach: %v", err)
	}
	if got := readMessage(t, second); got.Kind != protocol.KindOpenConnWindow {
		t.Fatalf("unexpected message: %+v", got)
	}
	time.Sleep(50 * time.Millisecond)
	if s.Disposed() {
		t.Fatalf("expected surface to survive reattach")
	}
}

func TestSurfaceDeliversInboundFrames(t *testing.T) {
	testlog.Start(t)
	h, root := newTestHost(t, nil)
	s := newTestSurface(t, h, root)

	got := make(chan string, 1)
	s.OnDidReceiveMessage(func(raw []byte) { got <- string(raw) })

	conn := serveSurface(t, s)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"command":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case raw := <-got:
		if raw != `{"command":"ping"}` {
			t.Fatalf("unexpected frame: %s", raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("inbound frame not delivered")
	}
}

func TestDisposedSurfaceRejectsViewerAndHooks(t *testing.T) {
	testlog.Start(t)
	h, root := newTestHost(t, nil)
	s := newTestSurface(t, h, root)

	calls := 0
	s.OnDidDispose(func() { calls++ })
	_ = s.Dispose()
	_ = s.Dispose()
	if calls != 1 {
		t.Fatalf("expected one dispose hook call, got %d", calls)
	}

	late := s.OnDidDispose(func() { calls++ })
	if late == nil {
		t.Fatalf("expected a disposable for late hook")
	}
	if err := late.Dispose(); err != nil {
		t.Fatalf("late dispose: %v", err)
	}

	conn := serveSurface(t, s)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("late hook must not fire, got %d calls", calls)
	}
}

func TestGraceExpiryKeepsReattachedSurface(t *testing.T) {
	testlog.Start(t)
	h, root := newTestHost(t, func(cfg *HostConfig) { cfg.DetachGrace = time.Hour })
	s := newTestSurface(t, h, root)

	conn := serveSurface(t, s)
	if err := s.PostMessage(protocol.OpenConnWindow(nil)); err != nil {
		t.Fatalf("post: %v", err)
	}
	readMessage(t, conn)

	// A grace timer that fires after a viewer attached must not dispose.
	if s.disposeDetached() {
		t.Fatalf("expected attached surface to survive grace expiry")
	}
	if s.Disposed() {
		t.Fatalf("expected surface alive")
	}

	idle := newTestSurface(t, h, root)
	if !idle.disposeDetached() {
		t.Fatalf("expected detached surface disposed")
	}
	if !idle.Disposed() {
		t.Fatalf("expected idle surface disposed")
	}
	if idle.disposeDetached() {
		t.Fatalf("expected second expiry to be a no-op")
	}
}
