// Package router implements the background coordinator: it caches widget
// state per tab, keeps at most one inspector panel per tab, forwards
// content-script events to the attached panel and routes panel commands back
// down to the right tab.
//
// Every state change happens inside one event sequence. Run drives that
// sequence from a channel fed by Submit; Handle is the same step for callers
// that already own the sequence.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/neboloop/tabrelay/internal/envelope"
	"github.com/neboloop/tabrelay/internal/lifecycle"
	"github.com/neboloop/tabrelay/internal/logging"
)

// ErrStopped is returned when submitting to a router whose loop has exited.
var ErrStopped = errors.New("router: stopped")

// Port is a long-lived panel connection.
type Port interface {
	// ID identifies the connection; it must be unique per connection.
	ID() string
	// Post queues env for delivery. It must not block the caller for long.
	Post(env envelope.Envelope) error
}

// TabMessenger delivers envelopes to the content scripts of one tab.
type TabMessenger interface {
	SendToTab(tabID int, env envelope.Envelope) error
}

// EventKind says which channel an Event arrived on.
type EventKind int

const (
	// PortMessage is a message received on a panel connection.
	PortMessage EventKind = iota + 1
	// PortDisconnected means the panel connection closed.
	PortDisconnected
	// ContentMessage is a one-shot message from a content script.
	ContentMessage

	queryEvent
)

func (k EventKind) String() string {
	switch k {
	case PortMessage:
		return "port-message"
	case PortDisconnected:
		return "port-disconnected"
	case ContentMessage:
		return "content-message"
	case queryEvent:
		return "query"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is one inbound occurrence for the router.
type Event struct {
	Kind EventKind
	// Port is set for PortMessage and PortDisconnected.
	Port Port
	// TabID is the sender tab of a ContentMessage.
	TabID int
	Raw   []byte

	query func(*RouterState)
}

// Stats is a point-in-time summary of router state.
type Stats struct {
	Tabs   int `json:"tabs"`
	Panels int `json:"panels"`
}

type route struct {
	source envelope.Source
	action envelope.Action
}

type handlerFunc func(r *Router, ev Event, env envelope.Envelope)

// Router is the connection router. Create one per process with New.
type Router struct {
	state     *RouterState
	messenger TabMessenger
	hooks     *lifecycle.Manager

	routes   map[route]handlerFunc
	fallback map[envelope.Source]handlerFunc

	inbox chan Event
	done  chan struct{}
}

// Option configures a Router
type Option func(*Router)

// WithHooks emits panel attach/detach events on m.
func WithHooks(m *lifecycle.Manager) Option {
	return func(r *Router) {
		r.hooks = m
	}
}

// WithQueueSize sets the inbox buffer size.
func WithQueueSize(n int) Option {
	return func(r *Router) {
		r.inbox = make(chan Event, n)
	}
}

// New creates a router that sends panel commands through messenger.
func New(messenger TabMessenger, opts ...Option) *Router {
	r := &Router{
		state:     NewState(),
		messenger: messenger,
		inbox:     make(chan Event, 256),
		done:      make(chan struct{}),
		routes: map[route]handlerFunc{
			{envelope.SourcePanel, envelope.ActionInit}:       handleInit,
			{envelope.SourceContent, envelope.ActionRendered}: handleRendered,
			{envelope.SourceContent, envelope.ActionRemoved}:  handleRemoved,
		},
		fallback: map[envelope.Source]handlerFunc{
			envelope.SourcePanel:   handleCommand,
			envelope.SourceContent: handleContentEvent,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes submitted events until ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.inbox:
			r.Handle(ev)
		}
	}
}

// Submit queues ev for the Run loop. Events from one caller are handled in
// the order they were submitted.
func (r *Router) Submit(ctx context.Context, ev Event) error {
	select {
	case r.inbox <- ev:
		return nil
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle applies one event to the router state. It must only be called from
// the goroutine that owns the event sequence.
func (r *Router) Handle(ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Errorf("[router] recovered while handling %s: %v", ev.Kind, rec)
		}
	}()

	switch ev.Kind {
	case queryEvent:
		ev.query(r.state)
	case PortDisconnected:
		r.disconnect(ev.Port)
	case PortMessage:
		r.dispatch(ev, envelope.SourcePanel)
	case ContentMessage:
		r.dispatch(ev, envelope.SourceContent)
	default:
		logging.Debugf("[router] dropping event of unknown kind %s", ev.Kind)
	}
}

func (r *Router) dispatch(ev Event, expected envelope.Source) {
	if ev.Kind == PortMessage && ev.Port == nil {
		return
	}
	env, ok := envelope.Expect(ev.Raw, expected)
	if !ok {
		logging.Debugf("[router] dropping foreign %s", ev.Kind)
		return
	}

	h, ok := r.routes[route{env.Source, env.Action}]
	if !ok {
		h, ok = r.fallback[env.Source]
	}
	if !ok {
		return
	}
	h(r, ev, env)
}

func (r *Router) disconnect(p Port) {
	if p == nil {
		return
	}
	tabID, ok := r.state.Detach(p)
	if !ok {
		return
	}
	logging.Debugf("[router] panel %s detached from tab %d", p.ID(), tabID)
	r.hooks.Emit(lifecycle.EventPanelDetached, lifecycle.TabEventData{TabID: tabID, ConnID: p.ID()})
}

// forwardToPanel re-wraps env as coming from the background and posts it to
// the panel of tabID, if one is attached.
func (r *Router) forwardToPanel(tabID int, env envelope.Envelope) {
	port, ok := r.state.PanelFor(tabID)
	if !ok {
		return
	}
	if err := port.Post(env.Restamp(envelope.SourceBackground)); err != nil {
		logging.Debugf("[router] forward %s to panel %s failed: %v", env.Action, port.ID(), err)
	}
}

// Stats returns the number of cached tabs and attached panels.
func (r *Router) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := r.query(ctx, func(s *RouterState) {
		out = Stats{Tabs: s.Tabs.Tabs(), Panels: s.Panels()}
	})
	return out, err
}

// Snapshot returns the cached widget state of tabID.
func (r *Router) Snapshot(ctx context.Context, tabID int) (map[string]int, error) {
	var out map[string]int
	err := r.query(ctx, func(s *RouterState) {
		out = s.Tabs.Snapshot(tabID)
	})
	return out, err
}

func (r *Router) query(ctx context.Context, fn func(*RouterState)) error {
	reply := make(chan struct{})
	ev := Event{Kind: queryEvent, query: func(s *RouterState) {
		fn(s)
		close(reply)
	}}
	if err := r.Submit(ctx, ev); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
