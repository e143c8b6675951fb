// Package mock provides an in-memory event.Channel test double.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/talkwire/internal/event"
)

// ErrClosed is returned by Send after the channel is closed.
var ErrClosed = errors.New("mock channel: closed")

// Channel records every event sent through it. The zero value is ready to
// use and safe for concurrent use.
type Channel struct {
	mu     sync.Mutex
	events []event.Event
	closed bool

	// SendErr, when non-nil, is returned by every Send call.
	SendErr error
}

// Send implements event.Channel.
func (c *Channel) Send(_ context.Context, ev event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.events = append(c.events, ev)
	return nil
}

// Close implements event.Channel. Closing more than once is safe.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Events returns a copy of all recorded events in delivery order.
func (c *Channel) Events() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Event, len(c.events))
	copy(out, c.events)
	return out
}

// Kinds returns the kinds of all recorded events in delivery order.
func (c *Channel) Kinds() []event.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]event.Kind, len(c.events))
	for i, ev := range c.events {
		kinds[i] = ev.Kind()
	}
	return kinds
}
