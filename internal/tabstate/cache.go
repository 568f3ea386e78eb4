// Package tabstate keeps the last known counter value of every widget, per
// browser tab, so a panel that attaches late can be hydrated.
//
// A Cache is owned by a single event sequence and is not safe for
// concurrent use.
package tabstate

// Cache maps tab id to widget id to count. Tabs are created lazily on the
// first upsert and never dropped for the life of the process.
type Cache struct {
	tabs map[int]map[string]int
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{tabs: make(map[int]map[string]int)}
}

// Upsert records count as the latest value of widgetID in tabID.
func (c *Cache) Upsert(tabID int, widgetID string, count int) {
	widgets, ok := c.tabs[tabID]
	if !ok {
		widgets = make(map[string]int)
		c.tabs[tabID] = widgets
	}
	widgets[widgetID] = count
}

// Remove deletes widgetID from tabID. Removing from an unknown tab does not
// create it.
func (c *Cache) Remove(tabID int, widgetID string) {
	widgets, ok := c.tabs[tabID]
	if !ok {
		return
	}
	delete(widgets, widgetID)
}

// Snapshot returns a copy of the widget mapping for tabID. A tab with no
// recorded activity yields an empty, non-nil map.
func (c *Cache) Snapshot(tabID int) map[string]int {
	widgets := c.tabs[tabID]
	out := make(map[string]int, len(widgets))
	for id, count := range widgets {
		out[id] = count
	}
	return out
}

// Tabs returns how many tabs have cached state.
func (c *Cache) Tabs() int {
	return len(c.tabs)
}

// Len returns how many widgets are cached for tabID.
func (c *Cache) Len(tabID int) int {
	return len(c.tabs[tabID])
}
