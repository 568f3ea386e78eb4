package panel

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/tabrelay/internal/envelope"
	"github.com/neboloop/tabrelay/internal/relay"
)

func setup(t *testing.T) (*relay.Relay, *httptest.Server, context.Context) {
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
	return rl, srv, ctx
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func contentConn(t *testing.T, srv *httptest.Server, tabID string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/content?tabId="+tabID), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendContent(t *testing.T, ws *websocket.Conn, action envelope.Action, data any) {
	t.Helper()
	env, err := envelope.Format(envelope.SourceContent, action, data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(env))
}

func TestSessionTracksWidgets(t *testing.T) {
	_, srv, ctx := setup(t)

	var mu sync.Mutex
	var changes int
	s, err := Dial(ctx, wsURL(srv, "/panel"), 4, WithOnChange(func(map[string]int) {
		mu.Lock()
		changes++
		mu.Unlock()
	}))
	require.NoError(t, err)
	defer s.Close()
	go s.Run(ctx)

	require.NoError(t, s.WaitHydrated(ctx))
	assert.Empty(t, s.Widgets())

	content := contentConn(t, srv, "4")
	sendContent(t, content, envelope.ActionRendered, envelope.Rendered{WidgetID: "counter-a", Count: 2})
	sendContent(t, content, envelope.ActionRendered, envelope.Rendered{WidgetID: "counter-b", Count: 5})
	sendContent(t, content, envelope.ActionRemoved, envelope.Removed{WidgetID: "counter-a"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return changes == 4
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, map[string]int{"counter-b": 5}, s.Widgets())
}

func TestSessionHydrateMergesIntoView(t *testing.T) {
	s := &Session{widgets: map[string]int{"counter-old": 9}, hydrated: make(chan struct{}), done: make(chan struct{})}

	env, err := envelope.Format(envelope.SourceBackground, envelope.ActionHydrate, envelope.State{"counter-new": 1, "counter-old": 3})
	require.NoError(t, err)
	raw, err := envelope.Marshal(env)
	require.NoError(t, err)
	s.apply(raw)

	assert.Equal(t, map[string]int{"counter-new": 1, "counter-old": 3}, s.Widgets())
	require.NoError(t, s.WaitHydrated(context.Background()))
}

func TestSessionIgnoresNonBackgroundSources(t *testing.T) {
	s := &Session{widgets: map[string]int{}, hydrated: make(chan struct{}), done: make(chan struct{})}

	for _, source := range []envelope.Source{envelope.SourceContent, envelope.SourceApplication, envelope.SourcePanel} {
		env, err := envelope.Format(source, envelope.ActionRendered, envelope.Rendered{WidgetID: "counter-x", Count: 1})
		require.NoError(t, err)
		raw, err := envelope.Marshal(env)
		require.NoError(t, err)
		s.apply(raw)
	}
	s.apply([]byte(`{"extension":"other","source":"background","action":"rendered","data":{"widgetId":"counter-x","count":1}}`))
	s.apply([]byte(`not json`))

	assert.Empty(t, s.Widgets())
}

func TestSessionResetReachesTab(t *testing.T) {
	rl, srv, ctx := setup(t)

	content := contentConn(t, srv, "9")
	require.Eventually(t, func() bool {
		st, err := rl.Stats(ctx)
		return err == nil && st.ContentConnections == 1
	}, 2*time.Second, 10*time.Millisecond)

	s, err := Dial(ctx, wsURL(srv, "/panel"), 9)
	require.NoError(t, err)
	defer s.Close()
	go s.Run(ctx)
	require.NoError(t, s.WaitHydrated(ctx))

	require.NoError(t, s.Reset("counter-exercise-1"))

	content.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got envelope.Envelope
	require.NoError(t, content.ReadJSON(&got))
	assert.Equal(t, envelope.SourceBackground, got.Source)
	assert.Equal(t, envelope.ActionReset, got.Action)
	assert.JSONEq(t, `{"widgetId":"counter-exercise-1","tabId":9}`, string(got.Data))
}

func TestWithoutInitDoesNotAttach(t *testing.T) {
	rl, srv, ctx := setup(t)

	content := contentConn(t, srv, "9")
	require.Eventually(t, func() bool {
		st, err := rl.Stats(ctx)
		return err == nil && st.ContentConnections == 1
	}, 2*time.Second, 10*time.Millisecond)

	s, err := Dial(ctx, wsURL(srv, "/panel"), 9, WithoutInit())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Reset("counter-exercise-1"))

	content.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got envelope.Envelope
	require.NoError(t, content.ReadJSON(&got))
	assert.Equal(t, envelope.ActionReset, got.Action)

	st, err := rl.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Panels)
}

func TestSendAfterClose(t *testing.T) {
	_, srv, ctx := setup(t)

	s, err := Dial(ctx, wsURL(srv, "/panel"), 1)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Reset("counter-a"), ErrClosed)
	assert.ErrorIs(t, s.WaitHydrated(ctx), ErrClosed)
}
