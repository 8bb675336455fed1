package webhost

import (
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/datacat/internal/dispose"
	"github.com/danmuck/datacat/internal/observability"
	"github.com/danmuck/datacat/internal/panel"
	"github.com/danmuck/datacat/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Surface is a panel page. Messages posted before a viewer attaches are
// queued and flushed in order on attach. Once a viewer has attached, losing
// it for longer than the host's DetachGrace disposes the surface.
type Surface struct {
	id   string
	opts panel.SurfaceOptions
	host *Host

	mu        sync.Mutex
	html      string
	queue     [][]byte
	viewer    *viewer
	detach    *time.Timer
	disposed  bool
	nextHook  int
	onDispose map[int]func()
	onMessage map[int]func([]byte)
}

var _ panel.Surface = (*Surface)(nil)

type viewer struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func (v *viewer) close() {
	v.once.Do(func() { close(v.done) })
}

func newSurface(h *Host, id string, opts panel.SurfaceOptions) *Surface {
	return &Surface{
		id:        id,
		opts:      opts,
		host:      h,
		onDispose: make(map[int]func()),
		onMessage: make(map[int]func([]byte)),
	}
}

func (s *Surface) ID() string                    { return s.id }
func (s *Surface) Options() panel.SurfaceOptions { return s.opts }

func (s *Surface) SetHTML(html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.html = html
}

func (s *Surface) HTML() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.html
}

// PostMessage encodes msg and hands it to the viewer, or queues it when no
// viewer is attached.
func (s *Surface) PostMessage(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return fmt.Errorf("%w: %s", ErrSurfaceDisposed, s.id)
	}
	if s.viewer == nil {
		if len(s.queue) >= s.host.cfg.QueueLimit {
			return fmt.Errorf("%w: %s", ErrQueueFull, s.id)
		}
		s.queue = append(s.queue, data)
		return nil
	}
	select {
	case s.viewer.sendCh <- data:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrViewerSlow, s.id)
	}
}

// Pending returns how many messages wait for a viewer.
func (s *Surface) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Surface) OnDidDispose(fn func()) dispose.Disposable {
	return s.addHook(func(id int) { s.onDispose[id] = fn }, func(id int) { delete(s.onDispose, id) })
}

func (s *Surface) OnDidReceiveMessage(fn func(raw []byte)) dispose.Disposable {
	return s.addHook(func(id int) { s.onMessage[id] = fn }, func(id int) { delete(s.onMessage, id) })
}

func (s *Surface) addHook(add, remove func(id int)) dispose.Disposable {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return dispose.Func(nil)
	}
	id := s.nextHook
	s.nextHook++
	add(id)
	return dispose.Func(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		remove(id)
		return nil
	})
}

// Dispose closes the viewer and fires the dispose hooks once.
func (s *Surface) Dispose() error {
	s.dispose(false)
	return nil
}

// disposeDetached is the grace timer path. A viewer that attached after the
// timer fired keeps the surface alive.
func (s *Surface) disposeDetached() bool {
	return s.dispose(true)
}

func (s *Surface) dispose(onlyDetached bool) bool {
	s.mu.Lock()
	if s.disposed || (onlyDetached && s.viewer != nil) {
		s.mu.Unlock()
		return false
	}
	s.disposed = true
	if s.detach != nil {
		s.detach.Stop()
		s.detach = nil
	}
	v := s.viewer
	s.viewer = nil
	s.queue = nil
	hooks := make([]func(), 0, len(s.onDispose))
	for _, fn := range s.onDispose {
		hooks = append(hooks, fn)
	}
	s.onDispose = make(map[int]func())
	s.onMessage = make(map[int]func([]byte))
	s.mu.Unlock()

	s.host.forget(s.id)
	if v != nil {
		v.close()
		observability.AddSurfaceViewers(-1)
	}
	for _, fn := range hooks {
		runHook(s.id, fn)
	}
	log.Debug().Str("surface", s.id).Msg("surface_disposed")
	return true
}

func (s *Surface) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Serve attaches conn as the surface's viewer and blocks until it leaves.
// A newer viewer replaces an older one.
func (s *Surface) Serve(conn *websocket.Conn) error {
	cfg := s.host.cfg
	v := &viewer{
		conn:   conn,
		sendCh: make(chan []byte, cfg.SendBuffer+cfg.QueueLimit),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "surface disposed"),
			time.Now().Add(cfg.WriteTimeout))
		_ = conn.Close()
		return fmt.Errorf("%w: %s", ErrSurfaceDisposed, s.id)
	}
	if s.detach != nil {
		s.detach.Stop()
		s.detach = nil
	}
	old := s.viewer
	for _, data := range s.queue {
		v.sendCh <- data
	}
	s.queue = nil
	s.viewer = v
	s.mu.Unlock()

	if old != nil {
		old.close()
	} else {
		observability.AddSurfaceViewers(1)
	}
	log.Info().Str("surface", s.id).Bool("replaced", old != nil).Msg("surface_viewer_attached")

	go s.writePump(v)
	s.readPump(v)
	s.detachViewer(v)
	return nil
}

func (s *Surface) readPump(v *viewer) {
	pongWait := s.host.cfg.PongWait
	v.conn.SetReadLimit(protocol.MaxMessageBytes)
	_ = v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("surface", s.id).Msg("surface_viewer_read_failed")
			}
			return
		}
		s.deliver(data)
	}
}

func (s *Surface) writePump(v *viewer) {
	cfg := s.host.cfg
	ticker := time.NewTicker(cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		v.close()
		_ = v.conn.Close()
	}()

	for {
		select {
		case data := <-v.sendCh:
			_ = v.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := v.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("surface", s.id).Msg("surface_viewer_write_failed")
				return
			}
		case <-ticker.C:
			_ = v.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-v.done:
			_ = v.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(cfg.WriteTimeout))
			return
		}
	}
}

// detachViewer drops v if it is still current and arms the dispose timer.
func (s *Surface) detachViewer(v *viewer) {
	v.close()

	s.mu.Lock()
	if s.disposed || s.viewer != v {
		s.mu.Unlock()
		return
	}
	s.viewer = nil
	grace := s.host.cfg.DetachGrace
	if grace > 0 {
		s.detach = time.AfterFunc(grace, func() { s.disposeDetached() })
	}
	s.mu.Unlock()

	observability.AddSurfaceViewers(-1)
	log.Info().Str("surface", s.id).Dur("grace", grace).Msg("surface_viewer_detached")
	if grace <= 0 {
		s.disposeDetached()
	}
}

func (s *Surface) deliver(data []byte) {
	s.mu.Lock()
	hooks := make([]func([]byte), 0, len(s.onMessage))
	for _, fn := range s.onMessage {
		hooks = append(hooks, fn)
	}
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(data)
	}
}

func runHook(id string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("surface", id).Interface("panic", r).Msg("surface_dispose_hook_panicked")
		}
	}()
	fn()
}
