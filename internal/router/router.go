// Package router fans events out to the right channels: personal presence
// notices, call-wide broadcasts and presence change announcements. Delivery
// is best-effort per recipient; one dead channel never blocks the rest.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/talkwire/internal/call"
	"github.com/MrWong99/talkwire/internal/event"
)

// ErrNotFound is returned when a broadcast targets an unknown call.
var ErrNotFound = errors.New("router: call not found")

// Presence resolves a user's live presence channel. Implemented by the
// presence registry.
type Presence interface {
	Send(ctx context.Context, userID int64, ev event.Event) bool
}

// CallDirectory resolves the live channels attached to a call. Implemented
// by the call session registry.
type CallDirectory interface {
	Channels(callID int64) ([]event.Channel, error)
}

// Audience resolves who should hear about a user's presence changes.
// Implemented by the connection graph gateway.
type Audience interface {
	ConnectionsOf(ctx context.Context, userID int64) ([]int64, error)
}

// RouterConfig holds the dependencies for a [Router].
type RouterConfig struct {
	Presence Presence
	Calls    CallDirectory
	Audience Audience
}

// Router delivers events across the two channel surfaces.
type Router struct {
	presence Presence
	calls    CallDirectory
	audience Audience
}

// New creates a Router with the given dependencies.
func New(cfg RouterConfig) *Router {
	return &Router{
		presence: cfg.Presence,
		calls:    cfg.Calls,
		audience: cfg.Audience,
	}
}

// NotifyUser sends ev to userID's presence channel and reports whether it
// was handed off. An offline or unreachable recipient is not an error.
func (r *Router) NotifyUser(ctx context.Context, userID int64, ev event.Event) bool {
	delivered := r.presence.Send(ctx, userID, ev)
	if !delivered {
		slog.Debug("router: personal notice dropped", "user_id", userID, "type", ev.Kind())
	}
	return delivered
}

// BroadcastToCall sends ev to every channel attached to callID. Recipients
// whose channels fail are skipped; only an unknown call is an error.
func (r *Router) BroadcastToCall(ctx context.Context, callID int64, ev event.Event) error {
	channels, err := r.calls.Channels(callID)
	if err != nil {
		if errors.Is(err, call.ErrNotFound) {
			return fmt.Errorf("broadcast to call %d: %w", callID, ErrNotFound)
		}
		return fmt.Errorf("broadcast to call %d: %w", callID, err)
	}
	for _, ch := range channels {
		if err := ch.Send(ctx, ev); err != nil {
			slog.Warn("router: call broadcast drop", "call_id", callID, "type", ev.Kind(), "err", err)
		}
	}
	return nil
}

// BroadcastPresence announces userID's presence change to every connected
// peer that is currently online. Failures are isolated per recipient; when
// the audience cannot be resolved at all the announcement is dropped with a
// warning rather than propagated.
func (r *Router) BroadcastPresence(ctx context.Context, userID int64, online bool) {
	peers, err := r.audience.ConnectionsOf(ctx, userID)
	if err != nil {
		slog.Warn("router: presence audience unavailable", "user_id", userID, "err", err)
		return
	}
	ev := event.PresenceUpdate{UserID: userID, IsOnline: online}
	for _, peer := range peers {
		r.presence.Send(ctx, peer, ev)
	}
}
