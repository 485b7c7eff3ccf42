package hub

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/civic-chat/internal/logging"
)

var (
	errClientClosed   = errors.New("client closed")
	errSendBufferFull = errors.New("send buffer full")
)

// transport is the part of *websocket.Conn a Client drives.
type transport interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Client is one websocket connection. Its pointer identity is the connection
// handle used by the registry; a Client is never reused.
type Client struct {
	id      string
	hub     *Hub
	conn    transport
	addr    string
	send    chan []byte
	limiter *rate.Limiter
	log     zerolog.Logger

	state atomic.Int32

	mu     sync.Mutex
	closed bool
}

func newClient(h *Hub, conn transport, addr string) *Client {
	id := uuid.NewString()
	c := &Client{
		id:      id,
		hub:     h,
		conn:    conn,
		addr:    addr,
		send:    make(chan []byte, h.ws.SendBuffer),
		limiter: rate.NewLimiter(rate.Every(h.rl.RefillInterval), h.rl.Burst),
		log: h.log.With().
			Str(logging.FieldConnID, id).
			Str(logging.FieldRemoteAddr, addr).
			Logger(),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// ID returns the connection id used in logs.
func (c *Client) ID() string {
	return c.id
}

// State returns the connection's lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// enqueue queues an outbound frame without blocking.
func (c *Client) enqueue(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return errSendBufferFull
	}
}

// closeSend closes the send channel once; the write pump then sends a close
// frame and exits.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// closeWith sends a close frame with code and reason and closes the transport.
func (c *Client) closeWith(code int, reason string) {
	deadline := time.Now().Add(c.hub.ws.WriteWait)
	if err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil && !isExpectedCloseError(err) {
		c.log.Debug().Err(err).Int("code", code).Msg("Failed to write close frame")
	}
	c.closeConn()
}

func (c *Client) closeConn() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug().Err(err).Msg("Error closing connection")
	}
}

// servePumps runs the connection until both pumps have exited.
func (h *Hub) servePumps(c *Client) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()
	c.readPump()
	<-done
}

// readPump drives the Active state: every inbound frame goes to the relay
// until the transport fails, then the connection is deactivated.
func (c *Client) readPump() {
	defer c.hub.deactivate(c)

	c.conn.SetReadLimit(c.hub.ws.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.ws.PongWait)); err != nil {
		c.log.Warn().Err(err).Msg("Failed to set initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.ws.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.limiter.Allow() {
			c.hub.metrics.dropInbound("rate_limited")
			c.log.Warn().
				Int("burst", c.hub.rl.Burst).
				Dur("refill_interval", c.hub.rl.RefillInterval).
				Msg("Rate limit exceeded; discarding message")
			continue
		}

		c.hub.HandleInbound(c, raw)
	}
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int64("max_bytes", c.hub.ws.MaxMessageSize).Msg("Message exceeded maximum size")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug().Err(err).Msg("Client disconnected")
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isExpectedCloseError(err):
		c.log.Debug().Err(err).Msg("Connection closed")
	default:
		c.log.Info().Err(err).Msg("Websocket read error")
	}
}

// writePump writes one frame per queued envelope and keeps the connection
// alive with pings. It owns all data writes on the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.ws.PingInterval)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.ws.WriteWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Info().Err(err).Msg("Error writing message")
				}
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.hub.ws.WriteWait)); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Info().Err(err).Msg("Error writing ping")
				}
				return
			}
		}
	}
}

func isExpectedCloseError(err error) bool {
	return err == nil ||
		errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
