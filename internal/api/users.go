package api

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/talkwire/internal/event"
	"github.com/MrWong99/talkwire/pkg/store"
)

const (
	connectionCodeLength   = 8
	connectionCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	connectionCodeTTL      = 5 * time.Minute
)

type profileResponse struct {
	ID             int64  `json:"id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	DisplayName    string `json:"display_name,omitempty"`
	ConnectionCode string `json:"connection_code"`
	CodeExpiresAt  string `json:"code_expires_at"`
}

type updateProfileRequest struct {
	DisplayName string `json:"display_name"`
}

type searchResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
}

type connectionResponse struct {
	UserID      int64  `json:"user_id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	IsOnline    bool   `json:"is_online"`
}

type addConnectionRequest struct {
	UserID int64 `json:"user_id"`
}

// rotateCode mints a fresh connection code for id and stores it.
func (s *Server) rotateCode(ctx context.Context, id int64) (store.User, error) {
	code, err := newConnectionCode()
	if err != nil {
		return store.User{}, err
	}
	expires := time.Now().UTC().Add(connectionCodeTTL)
	if err := s.store.SetConnectionCode(ctx, id, code, expires); err != nil {
		return store.User{}, err
	}
	return s.store.GetUser(ctx, id)
}

func newConnectionCode() (string, error) {
	buf := make([]byte, connectionCodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(connectionCodeAlphabet))))
		if err != nil {
			return "", err
		}
		buf[i] = connectionCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

func toProfile(u store.User) profileResponse {
	return profileResponse{
		ID:             u.ID,
		Email:          u.Email,
		Name:           u.Name,
		DisplayName:    u.DisplayName,
		ConnectionCode: u.ConnectionCode,
		CodeExpiresAt:  u.ConnectionCodeExpiresAt.UTC().Format(time.RFC3339),
	}
}

// handleGetProfile returns the caller's profile. An expired connection code
// is replaced on the way out so the client always sees a usable one.
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	user, err := s.store.GetUser(r.Context(), p.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !user.CodeValid(time.Now().UTC()) {
		user, err = s.rotateCode(r.Context(), p.UserID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toProfile(user))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	var req updateProfileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.store.UpdateDisplayName(r.Context(), p.UserID, strings.TrimSpace(req.DisplayName)); err != nil {
		writeDomainError(w, err)
		return
	}
	user, err := s.store.GetUser(r.Context(), p.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfile(user))
}

func (s *Server) handleRefreshCode(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	user, err := s.rotateCode(r.Context(), p.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfile(user))
}

// handleSearchByCode resolves a connection code to its owner. Expired codes
// behave exactly like unknown ones.
func (s *Server) handleSearchByCode(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	code := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("code")))
	if code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	user, err := s.store.GetUserByCode(r.Context(), code)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !user.CodeValid(time.Now().UTC()) || user.ID == p.UserID {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{
		ID:          user.ID,
		Name:        user.Name,
		DisplayName: user.DisplayName,
	})
}

// handleListConnections returns the caller's connections with a live online
// flag taken from the presence registry, not the store mirror.
func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	peerIDs, err := s.store.ConnectionsOf(r.Context(), p.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]connectionResponse, 0, len(peerIDs))
	for _, id := range peerIDs {
		peer, err := s.store.GetUser(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			writeDomainError(w, err)
			return
		}
		out = append(out, connectionResponse{
			UserID:      peer.ID,
			Name:        peer.Name,
			DisplayName: peer.DisplayName,
			IsOnline:    s.presence.IsOnline(peer.ID),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAddConnection creates a symmetric edge to another user and pushes a
// new_connection notice onto their presence channel.
func (s *Server) handleAddConnection(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	var req addConnectionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == p.UserID {
		writeError(w, http.StatusBadRequest, "cannot add yourself as a connection")
		return
	}
	target, err := s.store.GetUser(r.Context(), req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if _, err := s.store.AddConnection(r.Context(), p.UserID, target.ID); err != nil {
		writeDomainError(w, err)
		return
	}

	me, err := s.store.GetUser(r.Context(), p.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.notifier.NotifyUser(r.Context(), target.ID, event.NewConnection{
		User: event.UserSummary{
			ID:          me.ID,
			Name:        me.Name,
			DisplayName: me.DisplayName,
		},
	})

	writeJSON(w, http.StatusOK, connectionResponse{
		UserID:      target.ID,
		Name:        target.Name,
		DisplayName: target.DisplayName,
		IsOnline:    s.presence.IsOnline(target.ID),
	})
}

func (s *Server) handleRemoveConnection(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	targetID, err := strconv.ParseInt(r.PathValue("userID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := s.store.RemoveConnection(r.Context(), p.UserID, targetID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "connection removed"})
}
