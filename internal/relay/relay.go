// Package relay carries the background coordinator's message bus over
// websockets. Panels hold a long-lived connection on /panel; content scripts
// connect per tab on /content?tabId=N and send one-shot envelopes. All
// routing decisions are made by the router; this package only moves bytes
// and tracks which connection belongs to which tab.
package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/neboloop/tabrelay/internal/envelope"
	"github.com/neboloop/tabrelay/internal/httputil"
	"github.com/neboloop/tabrelay/internal/lifecycle"
	"github.com/neboloop/tabrelay/internal/logging"
	"github.com/neboloop/tabrelay/internal/middleware"
	"github.com/neboloop/tabrelay/internal/router"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 32768
	defaultOutboundBuffer = 256
)

// ErrNoContentScript is returned by SendToTab when no content script of the
// tab is connected.
var ErrNoContentScript = errors.New("relay: no content script connected for tab")

// Options configures a Relay.
type Options struct {
	// AllowRemote accepts connections from non-loopback addresses.
	AllowRemote bool
	// AllowedOrigins are accepted in addition to extension and localhost origins.
	AllowedOrigins []string
	// MaxMessageBytes caps inbound websocket messages.
	MaxMessageBytes int64
	// PongWait is how long a connection may stay silent before it is
	// considered gone. Pings are sent at 9/10 of it.
	PongWait time.Duration
	// OutboundBuffer is the size of each connection's outbound write queue.
	OutboundBuffer int
	// Hooks receives lifecycle events; may be nil.
	Hooks *lifecycle.Manager
}

// Stats extends the router summary with transport counters.
type Stats struct {
	router.Stats
	ContentConnections int `json:"contentConnections"`
	// Delivered counts outbound envelopes written to a peer.
	Delivered int64 `json:"delivered"`
}

// Relay owns the router and every websocket connection.
type Relay struct {
	opts     Options
	router   *router.Router
	upgrader websocket.Upgrader

	delivered atomic.Int64

	mu      sync.RWMutex
	content map[int]map[string]*conn
	panels  map[string]*conn
	stopped bool
}

// New creates a relay and its router.
func New(opts Options) *Relay {
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaultMaxMessageSize
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}
	if opts.OutboundBuffer <= 0 {
		opts.OutboundBuffer = defaultOutboundBuffer
	}

	r := &Relay{
		opts:    opts,
		content: make(map[int]map[string]*conn),
		panels:  make(map[string]*conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     middleware.OriginChecker(opts.AllowedOrigins),
		},
	}
	r.router = router.New(r, router.WithHooks(opts.Hooks))
	return r
}

// Router returns the relay's router.
func (r *Relay) Router() *router.Router {
	return r.router
}

// Run drives the router until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Handler returns an http.Handler that can be mounted on an existing server.
func (r *Relay) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	if !r.opts.AllowRemote {
		mux.Use(middleware.LoopbackOnly)
	}

	mux.Get("/", r.HandleRoot)
	mux.Head("/", r.HandleRoot)
	mux.Get("/status", r.HandleStatus)
	mux.Get("/tabs/{tabId}/state", r.HandleTabState)
	mux.HandleFunc("/panel", r.HandlePanelWS)
	mux.HandleFunc("/content", r.HandleContentWS)
	mux.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httputil.NotFound(w, "")
	})
	return mux
}

// SendToTab posts env to every content script connected for tabID.
func (r *Relay) SendToTab(tabID int, env envelope.Envelope) error {
	r.mu.RLock()
	conns := make([]*conn, 0, len(r.content[tabID]))
	for _, c := range r.content[tabID] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	if len(conns) == 0 {
		return ErrNoContentScript
	}

	var errs []error
	for _, c := range conns {
		if err := c.Post(env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns router and connection counters.
func (r *Relay) Stats(ctx context.Context) (Stats, error) {
	rs, err := r.router.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}

	r.mu.RLock()
	n := 0
	for _, conns := range r.content {
		n += len(conns)
	}
	r.mu.RUnlock()

	return Stats{Stats: rs, ContentConnections: n, Delivered: r.delivered.Load()}, nil
}

// Stop closes every connection and its outbound queue. The router loop is
// stopped by cancelling the context given to Run.
func (r *Relay) Stop() {
	r.mu.Lock()
	r.stopped = true
	all := make([]*conn, 0, len(r.panels))
	for _, c := range r.panels {
		all = append(all, c)
	}
	for _, conns := range r.content {
		for _, c := range conns {
			all = append(all, c)
		}
	}
	r.mu.Unlock()

	for _, c := range all {
		c.close()
	}
}

// HTTP Handlers

func (r *Relay) HandleRoot(w http.ResponseWriter, req *http.Request) {
	w.Write([]byte("OK"))
}

func (r *Relay) HandleStatus(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()

	stats, err := r.Stats(ctx)
	if err != nil {
		httputil.ServiceUnavailable(w, err.Error())
		return
	}
	httputil.OkJSON(w, stats)
}

func (r *Relay) HandleTabState(w http.ResponseWriter, req *http.Request) {
	tabID, err := httputil.TabIDParam(req, "tabId")
	if err != nil {
		httputil.BadRequest(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()

	snap, err := r.router.Snapshot(ctx, tabID)
	if err != nil {
		httputil.ServiceUnavailable(w, err.Error())
		return
	}
	httputil.OkJSON(w, snap)
}

// WebSocket Handlers

func (r *Relay) HandlePanelWS(w http.ResponseWriter, req *http.Request) {
	if r.isStopped() {
		httputil.ServiceUnavailable(w, "relay stopped")
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		logging.Debugf("[relay] panel upgrade failed: %v", err)
		return
	}

	c := r.newConn(ws, kindPanel, -1)
	r.mu.Lock()
	r.panels[c.id] = c
	r.mu.Unlock()
	logging.Debugf("[relay] panel connection %s opened", c.id)

	c.readLoop(req.Context(), func(msg []byte) router.Event {
		return router.Event{Kind: router.PortMessage, Port: c, Raw: msg}
	})

	r.mu.Lock()
	delete(r.panels, c.id)
	r.mu.Unlock()
	c.close()

	// The router is the only place that forgets the panel.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.router.Submit(ctx, router.Event{Kind: router.PortDisconnected, Port: c}); err != nil {
		logging.Debugf("[relay] disconnect of %s not delivered: %v", c.id, err)
	}
	logging.Debugf("[relay] panel connection %s closed", c.id)
}

func (r *Relay) HandleContentWS(w http.ResponseWriter, req *http.Request) {
	if r.isStopped() {
		httputil.ServiceUnavailable(w, "relay stopped")
		return
	}

	tabID, err := httputil.TabIDQuery(req, "tabId")
	if err != nil {
		httputil.BadRequest(w, err)
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		logging.Debugf("[relay] content upgrade failed: %v", err)
		return
	}

	c := r.newConn(ws, kindContent, tabID)
	r.mu.Lock()
	if r.content[tabID] == nil {
		r.content[tabID] = make(map[string]*conn)
	}
	r.content[tabID][c.id] = c
	r.mu.Unlock()
	r.opts.Hooks.Emit(lifecycle.EventContentConnected, lifecycle.TabEventData{TabID: tabID, ConnID: c.id})

	c.readLoop(req.Context(), func(msg []byte) router.Event {
		return router.Event{Kind: router.ContentMessage, TabID: tabID, Raw: msg}
	})

	r.mu.Lock()
	delete(r.content[tabID], c.id)
	if len(r.content[tabID]) == 0 {
		delete(r.content, tabID)
	}
	r.mu.Unlock()
	c.close()
	r.opts.Hooks.Emit(lifecycle.EventContentDisconnected, lifecycle.TabEventData{TabID: tabID, ConnID: c.id})
}

func (r *Relay) isStopped() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stopped
}
