package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"shiporacle/blockchain/types"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	clientQueueLen = 32
)

type streamClient struct {
	conn     *websocket.Conn
	send     chan types.Event
	shipment string // empty receives every shipment
	once     sync.Once
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.send) })
}

// EventHub fans ledger events out to websocket subscribers. It implements
// types.EventSink; a subscriber that falls behind is disconnected.
type EventHub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

// NewEventHub creates an empty hub.
func NewEventHub(logger *zap.Logger) *EventHub {
	return &EventHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger.Named("event-hub"),
		clients: make(map[*streamClient]struct{}),
	}
}

// PublishEvent implements types.EventSink. It never blocks on a subscriber.
func (h *EventHub) PublishEvent(_ context.Context, ev types.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.shipment != "" && c.shipment != ev.ShipmentID {
			continue
		}
		select {
		case c.send <- ev:
		default:
			h.logger.Warn("Dropping slow event subscriber", zap.String("remote", c.conn.RemoteAddr().String()))
			delete(h.clients, c)
			c.close()
		}
	}
	return nil
}

// Clients returns the number of connected subscribers.
func (h *EventHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events as JSON text frames.
// The optional shipment_id query parameter filters the stream.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	c := &streamClient{conn: conn, send: make(chan types.Event, clientQueueLen), shipment: r.URL.Query().Get("shipment_id")}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("Event subscriber connected", zap.String("remote", conn.RemoteAddr().String()), zap.String("shipment_id", c.shipment))

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop consumes control frames until the peer goes away.
func (h *EventHub) readLoop(c *streamClient) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHub) writeLoop(c *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *EventHub) remove(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

// Close disconnects every subscriber and refuses new ones.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

var _ types.EventSink = (*EventHub)(nil)
