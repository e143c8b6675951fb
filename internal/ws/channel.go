package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/talkwire/internal/event"
)

// ErrChannelClosed is returned by Send after the channel is closed.
var ErrChannelClosed = errors.New("ws: channel closed")

const (
	defaultSendQueue = 64
	writeTimeout     = 10 * time.Second
)

// channel adapts a websocket connection into an [event.Channel]. Sends
// enqueue into a bounded outbound queue drained by a single writer
// goroutine, so a slow reader never blocks the registries; a full queue is
// a send failure, which the presence registry treats as a dead connection.
type channel struct {
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

// newChannel wraps conn and starts its writer goroutine. queue bounds the
// outbound buffer; zero means a sensible default.
func newChannel(conn *websocket.Conn, queue int) *channel {
	if queue <= 0 {
		queue = defaultSendQueue
	}
	c := &channel{
		conn: conn,
		out:  make(chan []byte, queue),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Send encodes ev and enqueues it for delivery. It never blocks on the
// network; per-channel event order is the enqueue order.
func (c *channel) Send(ctx context.Context, ev event.Event) error {
	payload, err := event.Marshal(ev)
	if err != nil {
		return fmt.Errorf("ws: encode %s: %w", ev.Kind(), err)
	}
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	select {
	case c.out <- payload:
		return nil
	default:
		return fmt.Errorf("ws: outbound queue full: %w", ErrChannelClosed)
	}
}

// Close shuts the writer down and closes the underlying connection. Safe to
// call more than once.
func (c *channel) Close() error {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close(websocket.StatusNormalClosure, "channel closed")
	})
	return nil
}

func (c *channel) writeLoop() {
	for {
		select {
		case payload := <-c.out:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
