package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gridsync/internal/presence"
	"gridsync/internal/scope"
)

// conn is one upgraded client. Frames are queued on send and written by a
// single writer goroutine, which gives per-connection FIFO delivery.
type conn struct {
	id    string
	scope scope.Scope
	info  presence.ConnInfo
	ws    *websocket.Conn
	cfg   Config

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(id string, sc scope.Scope, info presence.ConnInfo, ws *websocket.Conn, cfg Config) *conn {
	return &conn{
		id:    id,
		scope: sc,
		info:  info,
		ws:    ws,
		cfg:   cfg,
		send:  make(chan []byte, cfg.SendBuffer),
		done:  make(chan struct{}),
	}
}

func (c *conn) ID() string { return c.id }

func (c *conn) Info() presence.ConnInfo { return c.info }

// Send enqueues frame without blocking. A full queue or a closed connection
// drops the frame.
func (c *conn) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump owns all writes to the socket.
func (c *conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteWait))
			return
		}
	}
}

// readPump calls handle for every inbound frame until the socket fails or the
// connection is closed.
func (c *conn) readPump(handle func(frame []byte)) {
	c.ws.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		select {
		case <-c.done:
			return
		default:
		}
		handle(frame)
	}
}
