package router

import (
	"github.com/neboloop/tabrelay/internal/envelope"
	"github.com/neboloop/tabrelay/internal/lifecycle"
	"github.com/neboloop/tabrelay/internal/logging"
)

// handleInit registers the sending port as the panel of the requested tab and
// replies with the tab's current state.
func handleInit(r *Router, ev Event, env envelope.Envelope) {
	if ev.Kind != PortMessage {
		return
	}
	var req envelope.Init
	if err := env.Decode(&req); err != nil {
		logging.Debugf("[router] dropping init: %v", err)
		return
	}
	if _, ok := env.TabID(); !ok || req.TabID < 0 {
		return
	}

	if prev := r.state.Attach(req.TabID, ev.Port); prev != nil {
		logging.Debugf("[router] panel %s replaced %s on tab %d", ev.Port.ID(), prev.ID(), req.TabID)
		r.hooks.Emit(lifecycle.EventPanelDetached, lifecycle.TabEventData{TabID: req.TabID, ConnID: prev.ID()})
	}
	r.hooks.Emit(lifecycle.EventPanelAttached, lifecycle.TabEventData{TabID: req.TabID, ConnID: ev.Port.ID()})

	reply, err := envelope.Format(envelope.SourceBackground, envelope.ActionHydrate, envelope.State(r.state.Tabs.Snapshot(req.TabID)))
	if err != nil {
		logging.Errorf("[router] build hydrate-state: %v", err)
		return
	}
	if err := ev.Port.Post(reply); err != nil {
		logging.Debugf("[router] hydrate panel %s failed: %v", ev.Port.ID(), err)
	}
}

// handleCommand sends any other panel message to the content scripts of the
// tab named in its payload, which need not be the tab the panel inspects.
func handleCommand(r *Router, ev Event, env envelope.Envelope) {
	if ev.Kind != PortMessage {
		return
	}
	tabID, ok := env.TabID()
	if !ok || tabID < 0 {
		logging.Debugf("[router] dropping %s command without tabId", env.Action)
		return
	}
	if r.messenger == nil {
		return
	}
	if err := r.messenger.SendToTab(tabID, env.Restamp(envelope.SourceBackground)); err != nil {
		logging.Debugf("[router] %s to tab %d not delivered: %v", env.Action, tabID, err)
	}
}

func handleRendered(r *Router, ev Event, env envelope.Envelope) {
	if ev.TabID < 0 {
		return
	}
	var p envelope.Rendered
	if err := env.Decode(&p); err != nil || p.WidgetID == "" {
		logging.Debugf("[router] dropping malformed rendered from tab %d", ev.TabID)
		return
	}
	r.state.Tabs.Upsert(ev.TabID, p.WidgetID, p.Count)
	r.forwardToPanel(ev.TabID, env)
}

func handleRemoved(r *Router, ev Event, env envelope.Envelope) {
	if ev.TabID < 0 {
		return
	}
	var p envelope.Removed
	if err := env.Decode(&p); err != nil || p.WidgetID == "" {
		logging.Debugf("[router] dropping malformed removed from tab %d", ev.TabID)
		return
	}
	r.state.Tabs.Remove(ev.TabID, p.WidgetID)
	r.forwardToPanel(ev.TabID, env)
}

// handleContentEvent passes other content actions through to the panel
// without touching the cache.
func handleContentEvent(r *Router, ev Event, env envelope.Envelope) {
	if ev.TabID < 0 {
		return
	}
	r.forwardToPanel(ev.TabID, env)
}
