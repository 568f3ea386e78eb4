package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/neboloop/tabrelay/internal/envelope"
	"github.com/neboloop/tabrelay/internal/events"
	"github.com/neboloop/tabrelay/internal/logging"
	"github.com/neboloop/tabrelay/internal/router"
)

var (
	errConnClosed = errors.New("relay: connection closed")
	errSlowPeer   = errors.New("relay: outbound queue full")
)

type connKind string

const (
	kindPanel   connKind = "panel"
	kindContent connKind = "content"
)

// conn is one websocket peer. Each connection owns an outbound subject, so
// its writes are serialized without a lock and a slow peer only fills its
// own queue.
type conn struct {
	id    string
	kind  connKind
	tabID int
	ws    *websocket.Conn
	relay *Relay
	topic string
	out   *events.Subject

	done      chan struct{}
	closeOnce sync.Once
}

func (r *Relay) newConn(ws *websocket.Conn, kind connKind, tabID int) *conn {
	c := &conn{
		id:    uuid.NewString(),
		kind:  kind,
		tabID: tabID,
		ws:    ws,
		relay: r,
		done:  make(chan struct{}),
		out: events.NewSubject(
			events.WithSyncDelivery(),
			events.WithBufferSize(r.opts.OutboundBuffer),
			events.WithLogger(logging.Logger()),
		),
	}
	if kind == kindPanel {
		c.topic = events.PanelTopic(c.id)
	} else {
		c.topic = events.ContentTopic(c.id)
	}

	events.Subscribe(c.out, c.topic, func(_ context.Context, env envelope.Envelope) error {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteJSON(env); err != nil {
			return err
		}
		r.delivered.Add(1)
		return nil
	})
	return c
}

// ID implements router.Port.
func (c *conn) ID() string {
	return c.id
}

// Post implements router.Port. It only queues the write and never waits: a
// peer whose queue is full is disconnected.
func (c *conn) Post(env envelope.Envelope) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	err := events.TryEmit(c.out, c.topic, env)
	if errors.Is(err, events.ErrBufferFull) {
		logging.Warnf("[relay] %s %s is not reading, closing", c.kind, c.id)
		go c.close()
		return errSlowPeer
	}
	return err
}

// readLoop feeds every inbound message to the router until the peer goes
// away or the router stops.
func (c *conn) readLoop(ctx context.Context, toEvent func([]byte) router.Event) {
	pongWait := c.relay.opts.PongWait
	c.ws.SetReadLimit(c.relay.opts.MaxMessageBytes)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.pingLoop(pongWait * 9 / 10)

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debugf("[relay] %s %s read error: %v", c.kind, c.id, err)
			}
			return
		}
		if err := c.relay.router.Submit(ctx, toEvent(msg)); err != nil {
			logging.Debugf("[relay] %s %s: router unavailable: %v", c.kind, c.id, err)
			return
		}
	}
}

func (c *conn) pingLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
		events.Complete(c.out)
	})
}
