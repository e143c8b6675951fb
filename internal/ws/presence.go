// Package ws serves the two websocket channel surfaces: the long-lived
// per-user presence channel and the per-call channel that carries audio in
// and live events out. Authentication happens before any registry state is
// touched; an unauthenticated socket is closed with a policy violation and
// leaves no trace.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/talkwire/internal/auth"
	"github.com/MrWong99/talkwire/internal/event"
	"github.com/MrWong99/talkwire/internal/presence"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultHeartbeatTimeout  = 90 * time.Second
)

// PresenceHandlerConfig holds the dependencies for a [PresenceHandler].
type PresenceHandlerConfig struct {
	Auth     auth.Authenticator
	Registry *presence.Registry

	// HeartbeatInterval is how often the server pings the client. Zero
	// means a sensible default.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout is how long the client may go without a
	// heartbeat_response before the connection is considered dead.
	HeartbeatTimeout time.Duration

	// SendQueue bounds each connection's outbound buffer.
	SendQueue int
}

// PresenceHandler serves GET /ws/presence. Each user holds at most one
// presence connection; a newer connection for the same user displaces the
// older one.
type PresenceHandler struct {
	auth     auth.Authenticator
	registry *presence.Registry
	interval time.Duration
	timeout  time.Duration
	queue    int
}

// NewPresenceHandler creates a PresenceHandler.
func NewPresenceHandler(cfg PresenceHandlerConfig) *PresenceHandler {
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	timeout := cfg.HeartbeatTimeout
	if timeout <= 0 {
		timeout = defaultHeartbeatTimeout
	}
	return &PresenceHandler{
		auth:     cfg.Auth,
		registry: cfg.Registry,
		interval: interval,
		timeout:  timeout,
		queue:    cfg.SendQueue,
	}
}

// ServeHTTP upgrades the connection, authenticates the token query
// parameter and runs the presence session until the client disconnects or
// goes silent.
func (h *PresenceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	principal, err := h.auth.Authenticate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	ch := newChannel(conn, h.queue)
	lease := h.registry.Connect(principal.UserID, ch)
	slog.Info("presence connected", "user_id", principal.UserID)

	// lastSeen carries the unix nano timestamp of the latest client sign
	// of life.
	var lastSeen atomic.Int64
	lastSeen.Store(time.Now().UnixNano())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.heartbeatLoop(ctx, cancel, ch, &lastSeen)

	h.readLoop(ctx, conn, &lastSeen)

	cancel()
	if h.registry.Disconnect(principal.UserID, lease) {
		slog.Info("presence disconnected", "user_id", principal.UserID)
	}
	_ = ch.Close()
}

// heartbeatLoop pings the client on the configured interval and cancels the
// session when the client has been silent past the timeout.
func (h *PresenceHandler) heartbeatLoop(ctx context.Context, cancel context.CancelFunc, ch event.Channel, lastSeen *atomic.Int64) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			silent := time.Since(time.Unix(0, lastSeen.Load()))
			if silent > h.timeout {
				slog.Info("presence heartbeat timeout", "silent_for", silent.Round(time.Second))
				cancel()
				return
			}
			if err := ch.Send(ctx, event.Heartbeat{}); err != nil {
				cancel()
				return
			}
		}
	}
}

// readLoop consumes client frames until disconnect. Any readable frame
// counts as a sign of life; unknown types are ignored the same way
// malformed ones are.
func (h *PresenceHandler) readLoop(ctx context.Context, conn *websocket.Conn, lastSeen *atomic.Int64) {
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return
		}
		lastSeen.Store(time.Now().UnixNano())

		msg, err := decodeInbound(raw)
		if err != nil {
			continue
		}
		switch msg.Type {
		case msgHeartbeatResponse:
			// Already counted above.
		case msgDisconnect:
			return
		}
	}
}

// isNormalClosure reports whether err is an ordinary websocket goodbye.
func isNormalClosure(err error) bool {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.StatusNormalClosure || ce.Code == websocket.StatusGoingAway
	}
	return false
}
