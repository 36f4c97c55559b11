package gateway

import (
	model "auction-engine/internal/models"
	"auction-engine/utils"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// SendBuffer is the per-connection outbound queue size
	SendBuffer = 64
)

// Client is a websocket connection observing auctions. Events are queued by
// Send and written in order by WritePump, the only writer on the socket.
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan model.Event
	done   chan struct{}
	once   sync.Once
}

// NewClient wraps an upgraded connection. userID may be empty for
// anonymous observers.
func NewClient(conn *websocket.Conn, userID string) *Client {
	return &Client{
		id:     utils.GenerateID(),
		userID: userID,
		conn:   conn,
		send:   make(chan model.Event, SendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) UserID() string { return c.userID }

// Send queues ev without blocking
func (c *Client) Send(ev model.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the socket
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// Done is closed once the client has been closed
func (c *Client) Done() <-chan struct{} { return c.done }

// ReadPump reads inbound frames and hands them to handle until the
// connection fails or the client is closed.
func (c *Client) ReadPump(handle func(raw []byte)) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.Warn("gateway: unexpected websocket close", map[string]any{
					"client_id": c.id,
					"error":     err.Error(),
				})
			}
			return
		}
		handle(raw)
	}
}

// WritePump drains the outbound queue onto the socket
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
