// Package wsfeed is an optional websocket PresentationSink: it broadcasts
// AgentEvents to connected UI clients as they are emitted by an agent
// run, for UIs that want a live feed instead of polling the run handle.
//
// Grounded on the teacher's internal/gateway/ws_control_plane.go: the
// per-connection send channel plus a dedicated writeLoop goroutine
// draining it (so a slow client can never block the broadcaster) is
// carried over directly; the handshake/request-dispatch half of that
// file has no equivalent here since this feed is output-only.
package wsfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

const (
	maxSendBuffer = 64
	writeWait     = 10 * time.Second
	pingInterval  = 15 * time.Second
)

// Frame is one broadcast unit: a tagged AgentEvent plus the conversation
// it belongs to, so a UI subscribed to multiple conversations can route
// it client-side.
type Frame struct {
	ConversationID string              `json:"conversation_id"`
	Event          contract.AgentEvent `json:"event"`
}

// Feed fans out Frames to every currently connected websocket client.
// It implements engine.Observer-compatible publishing via Broadcast.
type Feed struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// New builds an empty Feed. logger may be nil.
func New(logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request to a websocket and registers the
// connection as a broadcast recipient until it disconnects. The feed is
// send-only: any client message is read and discarded, purely to detect
// disconnects and keep the read side of the socket draining.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{conn: conn, send: make(chan []byte, maxSendBuffer)}
	f.register(c)
	defer f.unregister(c)

	go f.writeLoop(c)
	f.readLoop(c)
}

func (f *Feed) register(c *client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[c] = struct{}{}
}

func (f *Feed) unregister(c *client) {
	f.mu.Lock()
	_, ok := f.clients[c]
	delete(f.clients, c)
	f.mu.Unlock()
	if ok {
		c.once.Do(func() { close(c.send) })
	}
}

func (f *Feed) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// Broadcast sends one frame to every connected client. Per spec.md §4.6's
// observer contract, delivery is non-blocking and best-effort: for a
// client whose send buffer is already full the frame is dropped (the
// client stays connected) rather than allowed to stall the broadcaster,
// and the drop is logged, not escalated into a run failure.
func (f *Feed) Broadcast(ctx context.Context, conversationID string, event contract.AgentEvent) {
	payload, err := json.Marshal(Frame{ConversationID: conversationID, Event: event})
	if err != nil {
		f.logger.Error("failed to marshal broadcast frame", "error", err)
		return
	}

	f.mu.Lock()
	targets := make([]*client, 0, len(f.clients))
	for c := range f.clients {
		targets = append(targets, c)
	}
	f.mu.Unlock()

	for _, c := range targets {
		select {
		case c.send <- payload:
		default:
			f.logger.Warn("dropping broadcast frame for a slow websocket client", "conversation_id", conversationID)
		}
	}
}

// ClientCount reports how many clients are currently connected, mostly
// useful for health/metrics endpoints.
func (f *Feed) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}
