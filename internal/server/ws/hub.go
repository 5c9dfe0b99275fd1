// Package ws fans committed ledger events out to WebSocket clients.
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

	"github.com/alanyoungcy/shproduct/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// catchUpLimit bounds the backlog replayed to a reconnecting client.
	catchUpLimit = 1000
)

// Topic names a client subscription. "events" receives everything,
// "product:<addr>" one contract and "kind:<Kind>" one event kind.
const allTopic = "events"

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to change its topics.
type subscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Topics []string `json:"topics"`
}

// envelope is the frame pushed to clients.
type envelope struct {
	Type     string          `json:"type"`
	StreamID string          `json:"streamId,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// broadcastMsg carries an event with the topics it is routed on.
type broadcastMsg struct {
	topics []string
	data   []byte
}

// Hub manages connected WebSocket clients and broadcasts committed events
// read from the signal bus.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	channel    string
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
	block      func() uint64
}

// NewHub creates a hub that relays payloads published on channel. block
// reports the ledger height in the greeting frame.
func NewHub(bus domain.SignalBus, channel string, block func() uint64, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		channel:    channel,
		logger:     logger.With(slog.String("component", "ws_hub")),
		startedAt:  time.Now().UTC(),
		block:      block,
	}
}

// Run starts the hub's main event loop. It exits when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	go h.subscribe(ctx)

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
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(msg.topics) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribe forwards bus payloads to the broadcast loop.
func (h *Hub) subscribe(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, h.channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", h.channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed to channel", slog.String("channel", h.channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed", slog.String("channel", h.channel))
				return
			}
			frame, err := json.Marshal(envelope{Type: "event", Payload: data})
			if err != nil {
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{topics: topicsOf(data), data: frame}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// topicsOf returns the topics an event payload is routed on.
func topicsOf(payload []byte) []string {
	var e struct {
		Contract string `json:"contract"`
		Kind     string `json:"kind"`
	}
	topics := []string{allTopic}
	if err := json.Unmarshal(payload, &e); err != nil {
		return topics
	}
	if e.Contract != "" {
		topics = append(topics, "product:"+strings.ToLower(e.Contract))
	}
	if e.Kind != "" {
		topics = append(topics, "kind:"+e.Kind)
	}
	return topics
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. A client resuming with ?since=<streamId> first
// receives the events it missed.
// GET /ws?topics=product:0xabc,kind:Deposit&since=12-0
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	c.setTopics(true, parseTopics(r.URL.Query().Get("topics")))

	c.sendGreeting()
	h.register <- c
	if since := r.URL.Query().Get("since"); since != "" {
		h.catchUp(r.Context(), c, since)
	}

	go c.writePump()
	go c.readPump()
}

func parseTopics(v string) []string {
	var out []string
	for _, t := range strings.Split(v, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		out = []string{allTopic}
	}
	return out
}

// catchUp pushes stream entries newer than since to c.
func (h *Hub) catchUp(ctx context.Context, c *client, since string) {
	msgs, err := h.bus.StreamRead(ctx, h.channel, since, catchUpLimit)
	if err != nil {
		h.logger.Warn("ws: catch-up read failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range msgs {
		if !c.wants(topicsOf(m.Payload)) {
			continue
		}
		frame, err := json.Marshal(envelope{Type: "event", StreamID: m.ID, Payload: m.Payload})
		if err != nil {
			continue
		}
		select {
		case c.send <- frame:
		default:
			return
		}
	}
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads subscription changes from the connection.
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
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err != nil {
			continue
		}
		switch sub.Action {
		case "subscribe":
			c.setTopics(true, sub.Topics)
		case "unsubscribe":
			c.setTopics(false, sub.Topics)
		}
	}
}

func (c *client) setTopics(on bool, topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		t = normaliseTopic(t)
		if on {
			c.subs[t] = true
		} else {
			delete(c.subs, t)
		}
	}
}

// normaliseTopic lower-cases product addresses so checksummed and plain hex
// subscribe to the same topic.
func normaliseTopic(t string) string {
	if rest, ok := strings.CutPrefix(t, "product:"); ok {
		return "product:" + strings.ToLower(rest)
	}
	return t
}

// wants reports whether c subscribes to any of topics.
func (c *client) wants(topics []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range topics {
		if c.subs[t] {
			return true
		}
	}
	return false
}

// sendGreeting lets clients mark the connection healthy before any event
// flows.
func (c *client) sendGreeting() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	payload, err := json.Marshal(map[string]any{
		"block":          c.hub.block(),
		"uptime_seconds": max(uptime, 0),
	})
	if err != nil {
		return
	}
	msg, err := json.Marshal(envelope{Type: "status", Payload: payload})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// writePump pumps messages from the hub to the connection as text frames and
// sends periodic pings.
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
