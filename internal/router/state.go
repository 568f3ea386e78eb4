package router

import "github.com/neboloop/tabrelay/internal/tabstate"

// RouterState is everything the background coordinator remembers: the
// per-tab widget cache and the panel registry. It is owned by one Router and
// only touched from its event sequence.
type RouterState struct {
	Tabs *tabstate.Cache

	// at most one panel per tab, indexed both ways so a disconnect can be
	// resolved without scanning
	byTab  map[int]Port
	byPort map[string]int
}

// NewState returns empty state.
func NewState() *RouterState {
	return &RouterState{
		Tabs:   tabstate.New(),
		byTab:  make(map[int]Port),
		byPort: make(map[string]int),
	}
}

// Attach registers p as the panel for tabID. A port already registered for
// another tab is moved. The previously attached port for tabID, if any and
// different from p, is returned; it stays connected but no longer receives
// traffic for the tab.
func (s *RouterState) Attach(tabID int, p Port) Port {
	if prevTab, ok := s.byPort[p.ID()]; ok && prevTab != tabID {
		delete(s.byTab, prevTab)
	}

	var replaced Port
	if prev, ok := s.byTab[tabID]; ok && prev.ID() != p.ID() {
		delete(s.byPort, prev.ID())
		replaced = prev
	}

	s.byTab[tabID] = p
	s.byPort[p.ID()] = tabID
	return replaced
}

// Detach removes p from the registry and reports the tab it was serving.
func (s *RouterState) Detach(p Port) (int, bool) {
	tabID, ok := s.byPort[p.ID()]
	if !ok {
		return 0, false
	}
	delete(s.byPort, p.ID())
	if cur, ok := s.byTab[tabID]; ok && cur.ID() == p.ID() {
		delete(s.byTab, tabID)
	}
	return tabID, true
}

// PanelFor returns the panel attached to tabID.
func (s *RouterState) PanelFor(tabID int) (Port, bool) {
	p, ok := s.byTab[tabID]
	return p, ok
}

// Panels returns how many tabs have a panel attached.
func (s *RouterState) Panels() int {
	return len(s.byTab)
}
