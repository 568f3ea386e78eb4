// Package counter is the demo application widget: a named counter living on
// a page that reports every render and its removal to the extension, and
// obeys reset commands aimed at its id.
package counter

import (
	"errors"
	"sync"

	"github.com/neboloop/tabrelay/internal/envelope"
	"github.com/neboloop/tabrelay/internal/page"
)

var ErrNotMounted = errors.New("counter: not mounted")

// Widget is one counter.
type Widget struct {
	id     string
	window *page.Window

	mu       sync.Mutex
	count    int
	unlisten func()
}

// New returns an unmounted counter. Its widget id is "counter-<name>".
func New(window *page.Window, name string) *Widget {
	return &Widget{id: "counter-" + name, window: window}
}

// ID returns the widget id.
func (w *Widget) ID() string {
	return w.id
}

// Count returns the current value.
func (w *Widget) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Mount attaches the widget to its page and reports the first render.
func (w *Widget) Mount() error {
	w.mu.Lock()
	if w.unlisten == nil {
		w.unlisten = w.window.AddListener(w.onMessage)
	}
	w.mu.Unlock()
	return w.set(func(n int) int { return n })
}

// Unmount detaches the widget and reports its removal. No render is posted
// after the removal.
func (w *Widget) Unmount() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.unlisten == nil {
		return ErrNotMounted
	}
	w.unlisten()
	w.unlisten = nil
	return w.post(envelope.ActionRemoved, envelope.Removed{WidgetID: w.id})
}

func (w *Widget) Increment() error {
	return w.set(func(n int) int { return n + 1 })
}

func (w *Widget) Decrement() error {
	return w.set(func(n int) int { return n - 1 })
}

// Reset sets the counter back to zero.
func (w *Widget) Reset() error {
	return w.set(func(int) int { return 0 })
}

func (w *Widget) set(next func(int) int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.unlisten == nil {
		return ErrNotMounted
	}

	// posting under the lock keeps renders in the order of the changes
	w.count = next(w.count)
	return w.post(envelope.ActionRendered, envelope.Rendered{WidgetID: w.id, Count: w.count})
}

func (w *Widget) onMessage(ev page.MessageEvent) {
	if ev.Source != w.window {
		return
	}
	env, ok := envelope.Expect(ev.Data, envelope.SourceBackground)
	if !ok || env.Action != envelope.ActionReset {
		return
	}
	var req envelope.Reset
	if err := env.Decode(&req); err != nil || req.WidgetID != w.id {
		return
	}
	w.Reset()
}

func (w *Widget) post(action envelope.Action, data any) error {
	env, err := envelope.Format(envelope.SourceApplication, action, data)
	if err != nil {
		return err
	}
	return w.window.PostToPage(env)
}
