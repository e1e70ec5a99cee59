package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/polly/internal/domain"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const outboundBuffer = 64

var errSendTimeout = errors.New("outbound buffer full")

// connection wraps one WebSocket. All writes go through a single writer
// goroutine so events reach the client in the order they were sent.
type connection struct {
	id           string
	ws           *websocket.Conn
	out          chan []byte
	writeTimeout time.Duration
	pingInterval time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

func newConnection(ws *websocket.Conn, writeTimeout, pingInterval time.Duration) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &connection{
		id:           uuid.NewString(),
		ws:           ws,
		out:          make(chan []byte, outboundBuffer),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

// ID implements room.Member.
func (c *connection) ID() string {
	return c.id
}

// Send queues ev for delivery. Sending on a closed connection is a no-op.
func (c *connection) Send(ctx context.Context, ev domain.Event) error {
	if c.ctx.Err() != nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()
	select {
	case c.out <- data:
		return nil
	case <-c.ctx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errSendTimeout
	}
}

// writeNow writes ev synchronously. Used only before start.
func (c *connection) writeNow(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *connection) start() {
	go c.writeLoop()
}

func (c *connection) writeLoop() {
	defer close(c.done)

	var tick <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case data := <-c.out:
			ctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
			err := c.ws.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("WebSocket write error", "conn_id", c.id, "error", err)
				c.Close(websocket.StatusGoingAway, "write failed")
				return
			}
		case <-tick:
			ctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
			err := c.ws.Ping(ctx)
			cancel()
			if err != nil {
				slog.Debug("WebSocket ping failed", "conn_id", c.id, "error", err)
				c.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Close stops the writer and closes the socket once.
func (c *connection) Close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		if err := c.ws.Close(code, reason); err != nil {
			slog.Debug("Failed to close websocket", "conn_id", c.id, "error", err)
		}
	})
}
