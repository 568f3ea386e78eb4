// Package panel is the inspector panel's side of the relay protocol: it
// attaches to one tab, keeps a local view of that tab's widgets and sends
// reset commands.
package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neboloop/tabrelay/internal/envelope"
	"github.com/neboloop/tabrelay/internal/logging"
)

// ErrClosed is returned when using a closed session.
var ErrClosed = errors.New("panel: session closed")

const writeWait = 10 * time.Second

// Session is one panel connection bound to a tab.
type Session struct {
	tabID int
	ws    *websocket.Conn

	writeMu sync.Mutex

	// detached sessions never send init
	detached bool

	mu       sync.RWMutex
	widgets  map[string]int
	onChange func(map[string]int)

	hydrated    chan struct{}
	hydrateOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Session
type Option func(*Session)

// WithOnChange calls fn with a copy of the widget view after every update.
// fn runs on the goroutine calling Run.
func WithOnChange(fn func(widgets map[string]int)) Option {
	return func(s *Session) {
		s.onChange = fn
	}
}

// WithoutInit connects without attaching to the tab. The session can send
// commands but receives no updates, and a panel already attached to the
// tab stays attached. Use it for one-shot commands.
func WithoutInit() Option {
	return func(s *Session) {
		s.detached = true
	}
}

// Dial connects to the relay's panel endpoint and sends init for tabID
// unless WithoutInit is given.
func Dial(ctx context.Context, url string, tabID int, opts ...Option) (*Session, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	s := &Session{
		tabID:    tabID,
		ws:       ws,
		widgets:  make(map[string]int),
		hydrated: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.detached {
		return s, nil
	}
	if err := s.Send(envelope.ActionInit, envelope.Init{TabID: tabID}); err != nil {
		ws.Close()
		return nil, fmt.Errorf("send init: %w", err)
	}
	return s, nil
}

// TabID returns the inspected tab.
func (s *Session) TabID() int {
	return s.tabID
}

// Run reads from the relay until the connection closes or ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		_, raw, err := s.ws.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		s.apply(raw)
	}
}

func (s *Session) apply(raw []byte) {
	env, ok := envelope.Expect(raw, envelope.SourceBackground)
	if !ok {
		return
	}

	s.mu.Lock()
	switch env.Action {
	case envelope.ActionRendered:
		var p envelope.Rendered
		if err := env.Decode(&p); err != nil {
			s.mu.Unlock()
			return
		}
		s.widgets[p.WidgetID] = p.Count
	case envelope.ActionRemoved:
		var p envelope.Removed
		if err := env.Decode(&p); err != nil {
			s.mu.Unlock()
			return
		}
		delete(s.widgets, p.WidgetID)
	case envelope.ActionHydrate:
		var state envelope.State
		if err := env.Decode(&state); err != nil {
			s.mu.Unlock()
			return
		}
		for id, count := range state {
			s.widgets[id] = count
		}
		s.hydrateOnce.Do(func() { close(s.hydrated) })
	default:
		s.mu.Unlock()
		logging.Debugf("[panel] ignoring %s", env.Action)
		return
	}
	view := s.copyLocked()
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(view)
	}
}

// WaitHydrated blocks until the first hydrate-state has been applied.
func (s *Session) WaitHydrated(ctx context.Context) error {
	select {
	case <-s.hydrated:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Widgets returns a copy of the current view.
func (s *Session) Widgets() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

func (s *Session) copyLocked() map[string]int {
	out := make(map[string]int, len(s.widgets))
	for id, count := range s.widgets {
		out[id] = count
	}
	return out
}

// Reset asks the inspected tab to set widgetID back to zero.
func (s *Session) Reset(widgetID string) error {
	return s.Send(envelope.ActionReset, envelope.Reset{WidgetID: widgetID, TabID: s.tabID})
}

// Send sends a panel envelope with the given action and payload.
func (s *Session) Send(action envelope.Action, data any) error {
	env, err := envelope.Format(envelope.SourcePanel, action, data)
	if err != nil {
		return err
	}

	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteJSON(env)
}

// Close sends a close frame and shuts the connection.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.ws.Close()
	})
	return err
}
