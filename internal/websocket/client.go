package websocket

import (
	"context"
	"sync"
	"time"

	"dm-service/internal/model"
	"dm-service/internal/presence"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Options tunes a connection.
type Options struct {
	MaxMessageSize  int64
	SendBuffer      int
	EventsPerSecond float64
	EventBurst      int
	EventTimeout    time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.EventsPerSecond <= 0 {
		o.EventsPerSecond = 20
	}
	if o.EventBurst <= 0 {
		o.EventBurst = 40
	}
	if o.EventTimeout <= 0 {
		o.EventTimeout = 10 * time.Second
	}
	return o
}

// Client is one WebSocket connection. Inbound events are handled in order
// on the read goroutine; outbound events go through the send buffer.
type Client struct {
	id         presence.ConnID
	conn       *websocket.Conn
	hub        *Hub
	dispatcher *Dispatcher
	session    *Session
	limiter    *rate.Limiter
	opts       Options
	logger     *zap.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(conn *websocket.Conn, hub *Hub, dispatcher *Dispatcher, session *Session, opts Options, logger *zap.Logger) *Client {
	return &Client{
		id:         session.Conn,
		conn:       conn,
		hub:        hub,
		dispatcher: dispatcher,
		session:    session,
		limiter:    rate.NewLimiter(rate.Limit(opts.EventsPerSecond), opts.EventBurst),
		opts:       opts,
		logger:     logger.With(zap.String("conn", string(session.Conn))),
		send:       make(chan []byte, opts.SendBuffer),
	}
}

func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.dispatcher.Close(c.session)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket error", zap.Error(err))
			}
			return
		}

		if !c.limiter.Allow() {
			c.dispatcher.metrics.RecordDroppedEvent("rate_limited")
			// unannounced connections get no replies at all
			if _, announced := c.session.UserID(); announced {
				c.hub.SendTo(c.id, model.ErrorEvent("", "", "Too many events, slow down"))
			}
			continue
		}

		c.handle(message)
	}
}

func (c *Client) handle(message []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Recovered from panic while handling event",
				zap.Any("panic", r),
				zap.Stack("stacktrace"))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.EventTimeout)
	defer cancel()

	c.dispatcher.Handle(ctx, c.session, message)
}

func (c *Client) writePump() {
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
