package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/talkwire/pkg/store"
)

type initiateCallRequest struct {
	TargetUserID int64  `json:"target_user_id"`
	RoomName     string `json:"room_name,omitempty"`
}

type initiateCallResponse struct {
	CallID   int64  `json:"call_id"`
	RoomName string `json:"room_name"`
}

type callResponse struct {
	ID              int64  `json:"id"`
	RoomName        string `json:"room_name"`
	Status          string `json:"status"`
	StartedAt       string `json:"started_at,omitempty"`
	EndedAt         string `json:"ended_at,omitempty"`
	DurationSeconds *int64 `json:"duration_seconds,omitempty"`
}

func toCallResponse(c store.Call) callResponse {
	resp := callResponse{
		ID:              c.ID,
		RoomName:        c.RoomName,
		Status:          string(c.Status),
		DurationSeconds: c.DurationSeconds,
	}
	if !c.StartedAt.IsZero() {
		resp.StartedAt = c.StartedAt.UTC().Format(time.RFC3339)
	}
	if c.EndedAt != nil {
		resp.EndedAt = c.EndedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func callIDFrom(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("callID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid call id")
		return 0, false
	}
	return id, true
}

// handleInitiateCall starts a call to a connected user and returns the call
// id and room name for the websocket that follows.
func (s *Server) handleInitiateCall(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	var req initiateCallRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TargetUserID == 0 {
		writeError(w, http.StatusBadRequest, "target_user_id is required")
		return
	}
	sess, err := s.calls.Create(r.Context(), p.UserID, req.TargetUserID, req.RoomName)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, initiateCallResponse{
		CallID:   sess.ID(),
		RoomName: sess.RoomName(),
	})
}

func (s *Server) handleAnswerCall(w http.ResponseWriter, r *http.Request) {
	callID, ok := callIDFrom(w, r)
	if !ok {
		return
	}
	if err := s.calls.Answer(r.Context(), callID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Call answered",
		"status":  string(store.CallPickedUp),
	})
}

func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	callID, ok := callIDFrom(w, r)
	if !ok {
		return
	}
	duration, err := s.calls.End(r.Context(), callID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":          "Call ended",
		"duration_seconds": duration,
	})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	callID, ok := callIDFrom(w, r)
	if !ok {
		return
	}
	rec, err := s.calls.Lookup(r.Context(), callID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCallResponse(rec))
}
