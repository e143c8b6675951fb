package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MrWong99/talkwire/internal/auth"
	"github.com/MrWong99/talkwire/pkg/store"
)

type loginRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type userResponse struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// handleLogin exchanges verified credentials for a session token. A first
// login creates the user record along with an initial connection code.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		created, cerr := s.store.CreateUser(r.Context(), store.User{
			Email: req.Email,
			Name:  req.Name,
		})
		if cerr != nil {
			writeDomainError(w, cerr)
			return
		}
		user = created
		if _, rerr := s.rotateCode(r.Context(), user.ID); rerr != nil {
			writeDomainError(w, rerr)
			return
		}
	case err != nil:
		writeDomainError(w, err)
		return
	}

	token, err := s.issuer.Issue(auth.Principal{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

// handleMe returns the authenticated user's record.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	user, err := s.store.GetUser(r.Context(), p.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{ID: user.ID, Email: user.Email, Name: user.Name})
}
