// Package lifecycle provides event hooks for relay startup, shutdown and
// connection changes.
package lifecycle

import (
	"sync"

	"github.com/neboloop/tabrelay/internal/logging"
)

// Event types for lifecycle hooks
type Event string

const (
	// Server lifecycle events
	EventServerStarted   Event = "server_started"
	EventShutdownStarted Event = "shutdown_started"

	// Panel registry events
	EventPanelAttached Event = "panel_attached"
	EventPanelDetached Event = "panel_detached"

	// Content script connection events
	EventContentConnected    Event = "content_connected"
	EventContentDisconnected Event = "content_disconnected"
)

// Handler is a function that handles a lifecycle event
type Handler func(event Event, data any)

// TabEventData is the payload of panel and content events.
type TabEventData struct {
	TabID  int
	ConnID string
}

// Manager manages lifecycle event subscriptions and dispatching.
// A nil *Manager is valid and drops every event.
type Manager struct {
	mu       sync.RWMutex
	handlers map[Event][]Handler
}

// NewManager creates an empty manager
func NewManager() *Manager {
	return &Manager{handlers: make(map[Event][]Handler)}
}

// On registers a handler for a lifecycle event
func (m *Manager) On(event Event, handler Handler) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], handler)
}

// Emit calls every handler of event in registration order, on the caller's
// goroutine. Router hooks run inside the router's event sequence and must
// not call back into the router.
func (m *Manager) Emit(event Event, data any) {
	if m == nil {
		return
	}
	m.mu.RLock()
	handlers := m.handlers[event]
	m.mu.RUnlock()

	if d, ok := data.(TabEventData); ok {
		logging.Debugf("[lifecycle] %s tab=%d conn=%s", event, d.TabID, d.ConnID)
	} else {
		logging.Debugf("[lifecycle] %s", event)
	}
	for _, h := range handlers {
		h(event, data)
	}
}

func (m *Manager) onTab(event Event, handler func(TabEventData)) {
	m.On(event, func(_ Event, data any) {
		if d, ok := data.(TabEventData); ok {
			handler(d)
		}
	})
}

// OnPanelAttached registers a handler for panel attach events
func (m *Manager) OnPanelAttached(handler func(data TabEventData)) {
	m.onTab(EventPanelAttached, handler)
}

// OnPanelDetached registers a handler for panel detach events, including a
// panel replaced by a newer one for the same tab.
func (m *Manager) OnPanelDetached(handler func(data TabEventData)) {
	m.onTab(EventPanelDetached, handler)
}

// OnContentChange registers a handler for content scripts joining and
// leaving tabs.
func (m *Manager) OnContentChange(handler func(data TabEventData, connected bool)) {
	m.onTab(EventContentConnected, func(d TabEventData) { handler(d, true) })
	m.onTab(EventContentDisconnected, func(d TabEventData) { handler(d, false) })
}

// OnServerStarted is a convenience function to register a server started handler
func (m *Manager) OnServerStarted(handler func()) {
	m.On(EventServerStarted, func(e Event, data any) {
		handler()
	})
}

// OnShutdown is a convenience function to register a shutdown handler
func (m *Manager) OnShutdown(handler func()) {
	m.On(EventShutdownStarted, func(e Event, data any) {
		handler()
	})
}
