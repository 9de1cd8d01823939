package realtime

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type client struct {
	id      string
	conn    *websocket.Conn
	send    chan ServerMessage
	dropped atomic.Bool
}

// enqueue never blocks. A connection whose buffer is full is closed; its read
// loop then tears it down and releases the cart.
func (c *client) enqueue(msg ServerMessage) {
	if c.dropped.Load() {
		return
	}
	select {
	case c.send <- msg:
	default:
		if c.dropped.CompareAndSwap(false, true) {
			_ = c.conn.Close()
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
