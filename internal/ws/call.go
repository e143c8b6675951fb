package ws

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coder/websocket"

	"github.com/MrWong99/talkwire/internal/auth"
	"github.com/MrWong99/talkwire/internal/call"
	"github.com/MrWong99/talkwire/internal/event"
	"github.com/MrWong99/talkwire/internal/relay"
)

// CallHandlerConfig holds the dependencies for a [CallHandler].
type CallHandlerConfig struct {
	Auth      auth.Authenticator
	Calls     *call.Registry
	Relay     *relay.Relay
	SendQueue int
}

// CallHandler serves GET /ws/call/{callID}. Only call participants are
// admitted; everyone else is turned away with a policy violation before any
// session state is touched.
type CallHandler struct {
	auth  auth.Authenticator
	calls *call.Registry
	relay *relay.Relay
	queue int
}

// NewCallHandler creates a CallHandler.
func NewCallHandler(cfg CallHandlerConfig) *CallHandler {
	return &CallHandler{
		auth:  cfg.Auth,
		calls: cfg.Calls,
		relay: cfg.Relay,
		queue: cfg.SendQueue,
	}
}

// ServeHTTP upgrades the connection, admits the participant and runs the
// call session loop until the client disconnects or the call ends.
func (h *CallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	principal, err := h.auth.Authenticate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	callID, err := strconv.ParseInt(r.PathValue("callID"), 10, 64)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "invalid call id")
		return
	}

	sess, err := h.calls.Get(callID)
	if err != nil || !sess.HasParticipant(principal.UserID) {
		// Unknown calls and non-participants get the same refusal.
		_ = conn.Close(websocket.StatusPolicyViolation, "not a call participant")
		return
	}

	ch := newChannel(conn, h.queue)
	detach, err := h.calls.AttachChannel(callID, ch)
	if err != nil {
		_ = ch.Close()
		return
	}
	defer detach()
	defer ch.Close()

	slog.Info("call channel attached", "call_id", callID, "user_id", principal.UserID)
	h.readLoop(r.Context(), conn, ch, callID)

	// The relay, if running, outlives individual channels only until the
	// last one departs or the call ends; a dropped socket mid-stream must
	// still flush what was heard.
	if _, err := h.relay.Stop(context.Background(), callID); err != nil {
		slog.Warn("ws: flush on detach failed", "call_id", callID, "err", err)
	}
}

func (h *CallHandler) readLoop(ctx context.Context, conn *websocket.Conn, ch event.Channel, callID int64) {
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			if !isNormalClosure(err) {
				slog.Debug("ws: call read ended", "call_id", callID, "err", err)
			}
			return
		}

		msg, err := decodeInbound(raw)
		if err != nil {
			h.sendError(ctx, ch, event.CodeBadRequest, "malformed message")
			continue
		}

		switch msg.Type {
		case msgStartTranscription:
			if err := h.startTranscription(ctx, ch, callID); err != nil {
				return
			}
		case msgAudio:
			h.pushAudio(ctx, ch, callID, msg.Data)
		case msgStopTranscription:
			if _, err := h.relay.Stop(ctx, callID); err != nil {
				h.sendError(ctx, ch, event.CodeUnavailable, "transcript could not be saved")
				continue
			}
			_ = ch.Send(ctx, event.Status{Message: "Transcription stopped and saved"})
		default:
			h.sendError(ctx, ch, event.CodeBadRequest, "unknown message type "+msg.Type)
		}
	}
}

func (h *CallHandler) startTranscription(ctx context.Context, ch event.Channel, callID int64) error {
	if err := h.relay.Start(ctx, callID); err != nil {
		slog.Error("ws: start transcription", "call_id", callID, "err", err)
		h.sendError(ctx, ch, event.CodeUnavailable, "transcription unavailable")
		return nil
	}
	// Ending the call must flush the stream even if no socket survives to
	// request it.
	if err := h.calls.OnEnd(callID, func(endCtx context.Context) {
		if _, err := h.relay.Stop(endCtx, callID); err != nil {
			slog.Warn("ws: flush on call end failed", "call_id", callID, "err", err)
		}
	}); err != nil {
		return err
	}
	return ch.Send(ctx, event.Status{Message: "Transcription started"})
}

func (h *CallHandler) pushAudio(ctx context.Context, ch event.Channel, callID int64, data string) {
	chunk, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		h.sendError(ctx, ch, event.CodeBadRequest, "audio frame is not valid base64")
		return
	}
	if err := h.relay.PushAudio(callID, chunk); err != nil {
		// Audio before start_transcription is dropped, matching a client
		// that keeps streaming while the stream spins up or down.
		slog.Debug("ws: audio dropped", "call_id", callID, "err", err)
	}
}

func (h *CallHandler) sendError(ctx context.Context, ch event.Channel, code, message string) {
	_ = ch.Send(ctx, event.Error{Code: code, Message: message})
}
