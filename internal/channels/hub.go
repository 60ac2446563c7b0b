package channels

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

type hubClient struct {
	id   string
	send chan any
}

// Hub streams JSON events to connected dashboard clients over WebSocket.
// Slow clients are disconnected rather than allowed to block broadcasters.
type Hub struct {
	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	logger  *slog.Logger
	origins []string
}

// NewHub creates an empty hub. origins lists accepted Origin host patterns;
// empty means same-origin only.
func NewHub(logger *slog.Logger, origins ...string) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*hubClient]struct{}),
		logger:  logger.With("channel", "websocket"),
		origins: origins,
	}
}

func (h *Hub) Name() string { return "websocket" }

// Notify broadcasts a notification event.
func (h *Hub) Notify(_ context.Context, text string) error {
	h.Broadcast(map[string]string{"type": "notification", "content": text})
	return nil
}

// Broadcast queues v for every connected client.
func (h *Hub) Broadcast(v any) {
	h.mu.RLock()
	var slow []*hubClient
	for c := range h.clients {
		select {
		case c.send <- v:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow websocket client", "client", c.id)
		h.remove(c)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream ended")

	c := &hubClient{id: uuid.New().String(), send: make(chan any, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer h.remove(c)

	h.logger.Info("websocket client connected", "client", c.id, "remote", r.RemoteAddr)

	// Clients never send; CloseRead handles control frames and reports disconnects.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("websocket client left", "client", c.id)
			return
		case v, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "client too slow")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, v)
			cancel()
			if err != nil {
				h.logger.Debug("websocket write failed", "client", c.id, "error", err)
				return
			}
		}
	}
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}
