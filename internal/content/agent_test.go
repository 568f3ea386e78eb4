package content_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/tabrelay/internal/content"
	"github.com/neboloop/tabrelay/internal/counter"
	"github.com/neboloop/tabrelay/internal/envelope"
	"github.com/neboloop/tabrelay/internal/page"
	"github.com/neboloop/tabrelay/internal/panel"
	"github.com/neboloop/tabrelay/internal/relay"
)

type harness struct {
	relay *relay.Relay
	base  string
	ctx   context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	rl := relay.New(relay.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go rl.Run(ctx)
	srv := httptest.NewServer(rl.Handler())
	t.Cleanup(func() {
		cancel()
		rl.Stop()
		srv.Close()
	})
	return &harness{relay: rl, base: "ws" + strings.TrimPrefix(srv.URL, "http"), ctx: ctx}
}

func (h *harness) tab(t *testing.T, tabID int) *page.Window {
	t.Helper()
	w := page.NewWindow()
	a, err := content.Dial(h.ctx, h.base, tabID, w)
	require.NoError(t, err)
	go a.Run(h.ctx)
	t.Cleanup(func() {
		a.Close()
		w.Close()
	})
	return w
}

func (h *harness) panel(t *testing.T, tabID int) *panel.Session {
	t.Helper()
	s, err := panel.Dial(h.ctx, h.base+"/panel", tabID)
	require.NoError(t, err)
	go s.Run(h.ctx)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.WaitHydrated(h.ctx))
	return s
}

func TestURL(t *testing.T) {
	u, err := content.URL("ws://127.0.0.1:8765", 12)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8765/content?tabId=12", u)
}

func TestCounterVisibleInPanelAndResettable(t *testing.T) {
	h := newHarness(t)
	w := h.tab(t, 7)

	c := counter.New(w, "exercise-1")
	require.NoError(t, c.Mount())
	require.NoError(t, c.Increment())
	require.NoError(t, c.Increment())

	// late joiner: the panel opens after the counter rendered
	require.Eventually(t, func() bool {
		snap, err := h.relay.Router().Snapshot(h.ctx, 7)
		return err == nil && snap["counter-exercise-1"] == 2
	}, 2*time.Second, 10*time.Millisecond)

	p := h.panel(t, 7)
	assert.Equal(t, map[string]int{"counter-exercise-1": 2}, p.Widgets())

	require.NoError(t, p.Reset("counter-exercise-1"))
	require.Eventually(t, func() bool {
		return c.Count() == 0 && p.Widgets()["counter-exercise-1"] == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Unmount())
	require.Eventually(t, func() bool {
		_, ok := p.Widgets()["counter-exercise-1"]
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResetDoesNotLeakAcrossTabs(t *testing.T) {
	h := newHarness(t)
	w1 := h.tab(t, 1)
	w2 := h.tab(t, 2)

	c1 := counter.New(w1, "same")
	c2 := counter.New(w2, "same")
	require.NoError(t, c1.Mount())
	require.NoError(t, c2.Mount())
	require.NoError(t, c1.Increment())
	require.NoError(t, c2.Increment())

	require.Eventually(t, func() bool {
		s1, err1 := h.relay.Router().Snapshot(h.ctx, 1)
		s2, err2 := h.relay.Router().Snapshot(h.ctx, 2)
		return err1 == nil && err2 == nil && s1["counter-same"] == 1 && s2["counter-same"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	p := h.panel(t, 1)
	require.NoError(t, p.Reset("counter-same"))

	require.Eventually(t, func() bool { return c1.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, c2.Count())
}

func TestFrameMessagesAreNotRelayed(t *testing.T) {
	h := newHarness(t)
	w := h.tab(t, 3)
	frame := page.NewWindow()
	defer frame.Close()

	env, err := envelope.Format(envelope.SourceApplication, envelope.ActionRendered, envelope.Rendered{WidgetID: "counter-frame", Count: 1})
	require.NoError(t, err)
	data, err := envelope.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, w.PostMessageFrom(frame, data))

	c := counter.New(w, "page")
	require.NoError(t, c.Mount())

	require.Eventually(t, func() bool {
		snap, err := h.relay.Router().Snapshot(h.ctx, 3)
		return err == nil && len(snap) > 0
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := h.relay.Router().Snapshot(h.ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"counter-page": 0}, snap)
}

func TestOneShotResetKeepsLivePanelAttached(t *testing.T) {
	h := newHarness(t)
	w := h.tab(t, 7)

	c := counter.New(w, "a")
	require.NoError(t, c.Mount())
	live := h.panel(t, 7)

	require.NoError(t, c.Increment())
	require.NoError(t, c.Increment())
	require.Eventually(t, func() bool { return live.Widgets()["counter-a"] == 2 }, 2*time.Second, 10*time.Millisecond)

	oneShot, err := panel.Dial(h.ctx, h.base+"/panel", 7, panel.WithoutInit())
	require.NoError(t, err)
	require.NoError(t, oneShot.Reset("counter-a"))
	require.NoError(t, oneShot.Close())

	require.Eventually(t, func() bool { return c.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return live.Widgets()["counter-a"] == 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Increment())
	require.Eventually(t, func() bool { return live.Widgets()["counter-a"] == 1 }, 2*time.Second, 10*time.Millisecond)

	st, err := h.relay.Stats(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Panels)
}
