// Package content runs the per-tab content script: it joins a page's
// message channel to the relay's /content endpoint through a bridge.
package content

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neboloop/tabrelay/internal/bridge"
	"github.com/neboloop/tabrelay/internal/envelope"
	"github.com/neboloop/tabrelay/internal/logging"
	"github.com/neboloop/tabrelay/internal/page"
)

// ErrClosed is returned when sending on a closed agent.
var ErrClosed = errors.New("content: agent closed")

const writeWait = 10 * time.Second

// Agent is the content script of one tab.
type Agent struct {
	tabID  int
	ws     *websocket.Conn
	window *page.Window
	bridge *bridge.Bridge

	unlisten func()
	writeMu  sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// URL returns the content endpoint for tabID under base (ws://host:port).
func URL(base string, tabID int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = "/content"
	u.RawQuery = url.Values{"tabId": {strconv.Itoa(tabID)}}.Encode()
	return u.String(), nil
}

// Dial connects tab tabID of window to the relay at base and starts
// listening on the window.
func Dial(ctx context.Context, base string, tabID int, window *page.Window) (*Agent, error) {
	target, err := URL(base, tabID)
	if err != nil {
		return nil, fmt.Errorf("content url: %w", err)
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	a := &Agent{
		tabID:  tabID,
		ws:     ws,
		window: window,
		done:   make(chan struct{}),
	}
	a.bridge = bridge.New(window, a)
	a.unlisten = window.AddListener(func(ev page.MessageEvent) {
		a.bridge.HandlePageMessage(bridge.PageMessage{
			Data:         ev.Data,
			SameDocument: ev.Source == window,
		})
	})
	return a, nil
}

// TabID returns the tab this agent runs in.
func (a *Agent) TabID() int {
	return a.tabID
}

// SendToExtension implements bridge.ExtensionSender.
func (a *Agent) SendToExtension(env envelope.Envelope) error {
	select {
	case <-a.done:
		return ErrClosed
	default:
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	a.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return a.ws.WriteJSON(env)
}

// Run hands every message from the relay to the bridge until the
// connection closes or ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { a.Close() })
	defer stop()

	for {
		_, raw, err := a.ws.ReadMessage()
		if err != nil {
			select {
			case <-a.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if !a.bridge.HandleExtensionMessage(raw) {
			logging.Debugf("[content] tab %d dropped message from relay", a.tabID)
		}
	}
}

// Close detaches from the window and closes the connection.
func (a *Agent) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.done)
		a.unlisten()
		a.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = a.ws.Close()
	})
	return err
}
