package dashboard

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devicelab-dev/simlens/pkg/logger"
)

// WebSocket message types.
const (
	MessageDashboardData  = "dashboard_data"
	MessageActivityUpdate = "activity_update"
)

const (
	sendBuffer   = 16
	writeTimeout = 5 * time.Second
)

// Message is the envelope pushed over /ws.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// hub fans messages out to WebSocket clients. A client that cannot keep up
// is disconnected.
type hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

// add registers conn and queues first as its first message.
func (h *hub) add(conn *websocket.Conn, first []byte) {
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if first != nil {
		c.send <- first
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *hub) writeLoop(c *client) {
	defer h.wg.Done()
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			logger.Debug("dashboard: websocket write: %v", err)
			h.remove(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

// readLoop discards client messages and notices disconnects.
func (h *hub) readLoop(c *client) {
	defer h.wg.Done()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) broadcast(typ string, data interface{}) {
	msg, err := json.Marshal(Message{Type: typ, Data: data})
	if err != nil {
		logger.Warn("dashboard: encode %s: %v", typ, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// close disconnects every client and waits for their goroutines.
func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.wg.Wait()
}
