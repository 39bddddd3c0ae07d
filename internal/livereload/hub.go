// Package livereload keeps the websocket connections of browser tabs opened
// through the proxy and tells them to reload or swap stylesheets after a
// rebuild.
//
// The hub pattern is a single goroutine owning the client set; handlers and
// notifiers talk to it over channels.
package livereload

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/conneroisu/assetpipe/internal/catalog"
	"github.com/conneroisu/assetpipe/internal/logging"
	"github.com/conneroisu/assetpipe/internal/metrics"
	"github.com/conneroisu/assetpipe/internal/orchestrator"
)

// Message types understood by the browser client.
const (
	TypeFullReload = "full_reload"
	TypeCSSUpdate  = "css_update"
)

// ClientScript is the browser side of the protocol. The proxy serves it and
// injects a tag loading it into every HTML page.
//
//go:embed client.js
var ClientScript []byte

// UpdateMessage represents a message sent to the browser
type UpdateMessage struct {
	Type      string    `json:"type"`
	Target    string    `json:"target,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Client represents a WebSocket client connection
type Client struct {
	conn         *websocket.Conn
	send         chan []byte
	remote       string
	lastActivity atomic.Int64
}

// OriginValidator decides which page origins may open a live-reload socket.
type OriginValidator interface {
	IsAllowedOrigin(origin, host string) bool
}

// SameHostValidator accepts pages served from the host the socket was
// requested on, which is the proxy itself, plus any extra origins listed.
type SameHostValidator struct {
	Extra []string
}

// IsAllowedOrigin implements OriginValidator.
func (v SameHostValidator) IsAllowedOrigin(origin, host string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if u.Host == host {
		return true
	}
	for _, allowed := range v.Extra {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Hub handles all live-reload connections and broadcasting.
//
// Invariants:
//   - clients is only touched under clientsMutex
//   - broadcast, register and unregister are never closed
//   - isShutdown goes from false to true exactly once
type Hub struct {
	clients      map[*websocket.Conn]*Client
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *websocket.Conn

	originValidator OriginValidator
	recorder        metrics.Recorder
	logger          logging.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	isShutdown   atomic.Bool
}

// HubOptions configures a Hub. Every field is optional.
type HubOptions struct {
	OriginValidator OriginValidator
	Recorder        metrics.Recorder
	Logger          logging.Logger
}

// NewHub creates a hub and starts its goroutine.
func NewHub(opts HubOptions) *Hub {
	if opts.OriginValidator == nil {
		opts.OriginValidator = SameHostValidator{}
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:         make(map[*websocket.Conn]*Client),
		broadcast:       make(chan []byte, 64),
		register:        make(chan *Client, 32),
		unregister:      make(chan *websocket.Conn, 32),
		originValidator: opts.OriginValidator,
		recorder:        opts.Recorder,
		logger:          opts.Logger.WithComponent("livereload"),
		ctx:             ctx,
		cancel:          cancel,
	}

	go h.run()
	return h
}

// ServeHTTP upgrades a browser request to a live-reload socket.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.isShutdown.Load() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	origin := r.Header.Get("Origin")
	if !h.originValidator.IsAllowedOrigin(origin, r.Host) {
		h.logger.Warn(r.Context(), nil, "Live-reload connection rejected", "origin", origin, "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin was validated above.
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, 16),
		remote: r.RemoteAddr,
	}
	client.lastActivity.Store(time.Now().UnixNano())

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusServiceRestart, "Server shutting down")
		return
	default:
		_ = conn.Close(websocket.StatusTryAgainLater, "Server busy")
		return
	}

	go h.handleClient(client)
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case conn := <-h.unregister:
			h.unregisterClient(conn)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.clientsMutex.Lock()
	h.clients[client.conn] = client
	n := len(h.clients)
	h.clientsMutex.Unlock()

	h.recorder.SetClients(n)
	h.logger.Debug(h.ctx, "Browser connected", "remote", client.remote, "clients", n)
}

func (h *Hub) unregisterClient(conn *websocket.Conn) {
	h.clientsMutex.Lock()
	client, exists := h.clients[conn]
	if exists {
		delete(h.clients, conn)
		close(client.send)
	}
	n := len(h.clients)
	h.clientsMutex.Unlock()

	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.recorder.SetClients(n)
		h.logger.Debug(h.ctx, "Browser disconnected", "remote", client.remote, "clients", n)
	}
}

func (h *Hub) broadcastToClients(message []byte) {
	h.clientsMutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clientsMutex.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			// A tab that stopped reading is dropped; it reconnects on reload.
			go func(c *Client) {
				select {
				case h.unregister <- c.conn:
				case <-h.ctx.Done():
				}
			}(client)
		}
	}
}

func (h *Hub) handleClient(client *Client) {
	defer func() {
		select {
		case h.unregister <- client.conn:
		case <-h.ctx.Done():
		}
	}()

	go h.writeToClient(client)
	h.readFromClient(client)
}

// readFromClient drains the socket so close frames and pings are processed.
// The client never sends anything meaningful.
func (h *Hub) readFromClient(client *Client) {
	for {
		_, _, err := client.conn.Read(h.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure &&
				websocket.CloseStatus(err) != websocket.StatusGoingAway && h.ctx.Err() == nil {
				h.logger.Debug(h.ctx, "WebSocket read ended", "error", err.Error())
			}
			return
		}
		client.lastActivity.Store(time.Now().UnixNano())
	}
}

func (h *Hub) writeToClient(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(h.ctx, 10*time.Second)
			err := client.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				h.logger.Debug(h.ctx, "WebSocket write failed", "error", err.Error())
				return
			}
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(h.ctx, 10*time.Second)
			err := client.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}
		case <-h.ctx.Done():
			return
		}
	}
}

// Broadcast queues a message for every connected browser.
func (h *Hub) Broadcast(message UpdateMessage) error {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", message.Type, err)
	}

	select {
	case h.broadcast <- data:
		h.recorder.IncNotifications(message.Type)
		return nil
	case <-h.ctx.Done():
		return fmt.Errorf("live-reload hub is shut down")
	default:
		return fmt.Errorf("broadcast queue full, dropped %s", message.Type)
	}
}

// Notify implements orchestrator.Notifier. Inject rebuilds send one
// css_update per stylesheet written; full rebuilds send one full_reload.
func (h *Hub) Notify(_ context.Context, n orchestrator.Notification) error {
	switch n.Policy {
	case catalog.ReloadNone:
		return nil
	case catalog.ReloadInject:
		sent := 0
		for _, p := range n.Paths {
			if path.Ext(p) != ".css" {
				continue
			}
			if err := h.Broadcast(UpdateMessage{Type: TypeCSSUpdate, Target: p}); err != nil {
				return err
			}
			sent++
		}
		if sent > 0 {
			return nil
		}
		// Nothing injectable was written; fall back to a reload.
	}
	return h.Broadcast(UpdateMessage{Type: TypeFullReload, Target: n.Category})
}

// ConnectedClients returns the number of connected browsers.
func (h *Hub) ConnectedClients() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection and stops the hub.
func (h *Hub) Shutdown(_ context.Context) error {
	h.shutdownOnce.Do(func() {
		h.isShutdown.Store(true)
		h.cancel()

		// Writers exit on the cancelled context; send channels are left open
		// so a late broadcast cannot hit a closed channel.
		h.clientsMutex.Lock()
		for conn := range h.clients {
			_ = conn.Close(websocket.StatusGoingAway, "Server shutdown")
		}
		h.clients = make(map[*websocket.Conn]*Client)
		h.clientsMutex.Unlock()
		h.recorder.SetClients(0)
	})
	return nil
}

// IsShutdown reports whether Shutdown has run.
func (h *Hub) IsShutdown() bool {
	return h.isShutdown.Load()
}
