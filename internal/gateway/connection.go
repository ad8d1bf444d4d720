package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/bricerising/homegame/internal/engine"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Ping cadence; a pong must arrive before the next ping is due.
	pingPeriod = 30 * time.Second
	pongWait   = pingPeriod + 10*time.Second

	// Deadline for a query token or an Authenticate frame.
	authDeadline = 5 * time.Second

	maxFrameSize = 8192
)

// connection is one client socket. Setup steps push teardown hooks; close
// runs them in reverse so partial setups unwind cleanly.
type connection struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	gateway *Gateway
	log     *log.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu       sync.Mutex
	userID   string
	teardown []func()
}

func (c *connection) start() {
	go c.writePump()
	go c.readPump()
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		hooks := c.teardown
		c.teardown = nil
		c.mu.Unlock()
		for i := len(hooks) - 1; i >= 0; i-- {
			hooks[i]()
		}
		close(c.send)
		_ = c.conn.Close()
	})
}

// closeWithPolicy sends a close frame before tearing down.
func (c *connection) closeWithPolicy(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	c.close()
}

// pushTeardown registers an undo hook for a completed setup step.
func (c *connection) pushTeardown(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardown = append(c.teardown, fn)
}

func (c *connection) user() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *connection) setUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

// write queues a frame; a full buffer means the client is not keeping up and
// the socket is dropped.
func (c *connection) write(frame []byte) {
	defer func() {
		if recover() != nil {
			// send was closed during shutdown
		}
	}()
	select {
	case c.send <- frame:
	case <-c.ctx.Done():
	default:
		c.log.Warn("send buffer full, dropping connection", "connId", c.id)
		c.close()
	}
}

func (c *connection) writeError(code, message string) {
	c.write(errorFrame(code, message))
}

func (c *connection) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Debug("read failed", "connId", c.id, "err", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.writeError("INVALID_MESSAGE", "malformed frame")
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *connection) handleMessage(msg *clientMessage) {
	if msg.Type == msgAuthenticate {
		c.gateway.authenticate(c, msg.Token)
		return
	}
	if c.user() == "" {
		c.writeError("NOT_AUTHENTICATED", "authenticate first")
		return
	}

	switch msg.Type {
	case msgSubscribeTable:
		c.gateway.subscribeTable(c, msg.TableID)

	case msgUnsubscribeTable:
		c.gateway.unsubscribeTable(c, msg.TableID)

	case msgAction:
		c.handleAction(msg)

	case msgChatSend:
		if err := c.gateway.orch.Chat(c.ctx, msg.TableID, c.user(), msg.Text); err != nil {
			c.writeError(string(engine.CodeOf(err)), err.Error())
		}

	default:
		c.writeError("UNKNOWN_MESSAGE_TYPE", "unknown message type: "+msg.Type)
	}
}

func (c *connection) handleAction(msg *clientMessage) {
	actionType, err := engine.ParseActionType(msg.Action)
	if err != nil {
		c.write(actionResultFrame(false, err.Error()))
		return
	}
	input := engine.ActionInput{Type: actionType}
	if msg.Amount != nil {
		input.Amount = *msg.Amount
		input.HasAmount = true
	}
	if _, err := c.gateway.orch.SubmitAction(c.ctx, msg.TableID, c.user(), input); err != nil {
		c.write(actionResultFrame(false, string(engine.CodeOf(err))))
		return
	}
	c.write(actionResultFrame(true, ""))
}
