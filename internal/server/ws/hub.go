// Package ws bridges the domain event stream to websocket clients. The hub
// tails the event bus and fans each event out as a JSON text frame; clients
// may narrow delivery to specific event types.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oddslane/hedgebot/internal/domain"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long a client may go silent before the read side
	// gives up on it.
	pongWait = 60 * time.Second

	// pingPeriod is the ping interval, kept under pongWait so a healthy
	// client always answers in time.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds incoming subscription messages.
	maxMessageSize = 1024

	// sendBufferSize is the per-client buffer of outgoing frames.
	sendBufferSize = 64

	// readBatch is how many stream entries one bus poll pulls.
	readBatch = 100

	// readRetryDelay spaces out polls after a stream read failure.
	readRetryDelay = 5 * time.Second
)

// subscribeMsg is the JSON frame a client sends to narrow or widen the
// event types it receives, e.g. {"subscribe":["trade_settled"]}.
type subscribeMsg struct {
	Subscribe   []string `json:"subscribe"`
	Unsubscribe []string `json:"unsubscribe"`
}

// client is one websocket connection.
type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	types map[domain.EventType]bool // empty receives everything
	mu    sync.RWMutex
}

// Hub tails the event bus and broadcasts to connected clients.
type Hub struct {
	bus        domain.EventBus
	clients    map[*client]bool
	broadcast  chan domain.Event
	register   chan *client
	unregister chan *client
	upgrader   websocket.Upgrader
	mode       string
	startedAt  time.Time
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a Hub. allowedOrigins restricts websocket upgrades the
// same way the CORS middleware restricts HTTP; empty allows all.
func NewHub(bus domain.EventBus, allowedOrigins []string, mode string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		bus:        bus,
		clients:    make(map[*client]bool),
		broadcast:  make(chan domain.Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		mode:      mode,
		startedAt: time.Now().UTC(),
		logger:    logger.With(slog.String("component", "ws")),
	}
}

// originChecker admits upgrade requests from the allowed origins. Requests
// without an Origin header (non-browser clients) always pass.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Run is the hub's main loop: client registration, unregistration, and
// event fan-out. It starts the bus tail and exits when ctx is cancelled,
// always returning ctx.Err().
func (h *Hub) Run(ctx context.Context) error {
	go h.tail(ctx)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", total))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", total))

		case evt := <-h.broadcast:
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(evt.Type) {
					continue
				}
				select {
				case c.send <- data:
				default:
					// Slow client: drop the frame rather than stall the hub.
					h.logger.Warn("dropping frame for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// tail follows the event stream from new entries onward and feeds the
// broadcast loop.
func (h *Hub) tail(ctx context.Context) {
	lastID := "$"
	for {
		if ctx.Err() != nil {
			return
		}

		entries, err := h.bus.Read(ctx, lastID, readBatch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logger.Warn("event stream read failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(readRetryDelay):
			}
			continue
		}

		for _, entry := range entries {
			lastID = entry.ID
			select {
			case h.broadcast <- entry.Event:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client. New clients
// receive every event type until they send a subscribe frame.
// GET /api/ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		types: make(map[domain.EventType]bool),
	}

	h.register <- c
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

// sendHello pushes a connection envelope so clients can mark the socket
// healthy before any domain event flows.
func (c *client) sendHello() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	msg, err := json.Marshal(map[string]any{
		"type": "hello",
		"detail": map[string]any{
			"mode":           c.hub.mode,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// wants reports whether the client receives this event type. An empty
// subscription set receives everything.
func (c *client) wants(t domain.EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types) == 0 || c.types[t]
}

// apply updates the client's subscription set from one control frame.
func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range msg.Subscribe {
		c.types[domain.EventType(t)] = true
	}
	for _, t := range msg.Unsubscribe {
		delete(c.types, domain.EventType(t))
	}
}

// readPump consumes control frames until the connection drops.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && (len(sub.Subscribe) > 0 || len(sub.Unsubscribe) > 0) {
			c.apply(sub)
		}
	}
}

// writePump sends queued frames and keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
