package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/danmuck/datacat/internal/dispose"
	"github.com/danmuck/datacat/internal/observability"
	"github.com/danmuck/datacat/internal/protocol"
	"github.com/danmuck/datacat/internal/registry"
	"github.com/rs/zerolog/log"
)

var ErrShellRender = errors.New("panel: shell render failed")

// State is the session lifecycle phase.
type State int32

const (
	StateConstructing State = iota
	StateActive
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateConstructing:
		return "constructing"
	case StateActive:
		return "active"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// RegistryKey names the registry slot a table's session is published under.
func RegistryKey(table string) registry.Key[*Session] {
	return registry.NewKey[*Session](table + "Panel")
}

// Session owns one rendering surface for one table.
type Session struct {
	key            string
	connectionName string
	surface        Surface
	pool           *Pool

	state       atomic.Int32
	disposables dispose.Stack

	mu       sync.Mutex
	messages []protocol.Kind
}

// newSession activates a session around surface: dispose hook, shell, inbound
// listener, initial populate. On failure the surface is released.
func newSession(ctx context.Context, pool *Pool, surface Surface, connectionName, key string) (*Session, error) {
	s := &Session{
		key:            key,
		connectionName: connectionName,
		surface:        surface,
		pool:           pool,
	}
	s.state.Store(int32(StateConstructing))

	s.disposables.Push(surface.OnDidDispose(func() { _ = s.Dispose() }))

	html, err := renderShell(pool.assets, surface, key)
	if err != nil {
		_ = s.Dispose()
		return nil, fmt.Errorf("%w: %s: %w", ErrShellRender, key, err)
	}
	surface.SetHTML(html)

	s.disposables.Push(surface.OnDidReceiveMessage(s.handleMessage))

	s.openPage(ctx, pool.data)

	s.state.CompareAndSwap(int32(StateConstructing), int32(StateActive))
	return s, nil
}

// Key returns the table key the session is pooled under.
func (s *Session) Key() string {
	return s.key
}

func (s *Session) ConnectionName() string {
	return s.connectionName
}

func (s *Session) SurfaceID() string {
	return s.surface.ID()
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// SentKinds returns the outbound message kinds posted so far, in order.
func (s *Session) SentKinds() []protocol.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Kind, len(s.messages))
	copy(out, s.messages)
	return out
}

// Dispose removes the session from its pool, disposes the surface and
// releases every registered guard in LIFO order. Only the first call does
// work; later calls return nil.
func (s *Session) Dispose() error {
	prev := State(s.state.Swap(int32(StateDisposed)))
	if prev == StateDisposed {
		return nil
	}

	if s.pool != nil {
		s.pool.remove(s.key, s)
	}

	var errs []error
	if err := disposeSurface(s.surface); err != nil {
		errs = append(errs, fmt.Errorf("surface %s: %w", s.surface.ID(), err))
	}
	if err := s.disposables.Drain(); err != nil {
		errs = append(errs, err)
	}
	err := errors.Join(errs...)

	observability.RecordPanelDisposal(err)
	event := log.Info()
	if err != nil {
		event = log.Warn().Err(err)
	}
	event.
		Str("panel", s.key).
		Str("connection", s.connectionName).
		Str("surface", s.surface.ID()).
		Str("from", prev.String()).
		Msg("panel_disposed")
	return err
}

// Track registers an extra guard released when the session is disposed.
// Guards tracked after disposal are released immediately.
func (s *Session) Track(d dispose.Disposable) {
	s.disposables.Push(d)
	if s.State() == StateDisposed {
		_ = s.disposables.Drain()
	}
}

func (s *Session) openPage(ctx context.Context, data ConnectionData) {
	var rows []byte
	tables, ok, err := data.Tables(ctx, s.connectionName)
	switch {
	case err != nil:
		log.Warn().
			Err(err).
			Str("panel", s.key).
			Str("connection", s.connectionName).
			Msg("panel_connection_lookup_failed")
	case !ok:
		log.Debug().
			Str("panel", s.key).
			Str("connection", s.connectionName).
			Msg("panel_connection_missing")
	default:
		rows = tables[s.key]
	}

	page, err := protocol.SetPage(protocol.ConnPagePath(s.key))
	if err != nil {
		log.Error().Err(err).Str("panel", s.key).Msg("panel_set_page_invalid")
		return
	}
	s.post(page)
	s.post(protocol.OpenConnWindow(rows))
}

func (s *Session) post(msg protocol.Message) {
	err := s.surface.PostMessage(msg)
	observability.RecordPanelMessage(string(msg.Kind), err == nil)
	if err != nil {
		log.Warn().
			Err(err).
			Str("panel", s.key).
			Str("kind", string(msg.Kind)).
			Msg("panel_post_failed")
		return
	}
	s.mu.Lock()
	s.messages = append(s.messages, msg.Kind)
	s.mu.Unlock()
}

// handleMessage receives UI->host frames. No inbound contract exists yet.
func (s *Session) handleMessage(raw []byte) {
	log.Debug().
		Str("panel", s.key).
		Int("bytes", len(raw)).
		Msg("panel_inbound_ignored")
}

func disposeSurface(surface Surface) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("surface dispose panicked: %v", r)
		}
	}()
	return surface.Dispose()
}
