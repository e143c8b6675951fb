// Package api serves the REST surface: login, profiles, connections, call
// control and post-call analysis. Websocket traffic lives in internal/ws;
// everything here is plain request/response JSON on the stdlib mux.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrWong99/talkwire/internal/auth"
	"github.com/MrWong99/talkwire/internal/call"
	"github.com/MrWong99/talkwire/internal/event"
	"github.com/MrWong99/talkwire/internal/presence"
	"github.com/MrWong99/talkwire/pkg/provider/analysis"
	"github.com/MrWong99/talkwire/pkg/store"
)

// TokenIssuer mints session tokens at login. Implemented by
// [auth.TokenAuthenticator].
type TokenIssuer interface {
	Issue(p auth.Principal) (string, error)
}

// Notifier pushes personal notices onto presence channels. Implemented by
// the notification router.
type Notifier interface {
	NotifyUser(ctx context.Context, userID int64, ev event.Event) bool
}

// ServerConfig holds the dependencies for a [Server].
type ServerConfig struct {
	Auth     auth.Authenticator
	Issuer   TokenIssuer
	Store    store.Store
	Calls    *call.Registry
	Presence *presence.Registry
	Notifier Notifier
	Analyzer analysis.Provider
}

// Server is the REST API surface.
type Server struct {
	auth     auth.Authenticator
	issuer   TokenIssuer
	store    store.Store
	calls    *call.Registry
	presence *presence.Registry
	notifier Notifier
	analyzer analysis.Provider
}

// NewServer creates a Server with the given dependencies.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		auth:     cfg.Auth,
		issuer:   cfg.Issuer,
		store:    cfg.Store,
		calls:    cfg.Calls,
		presence: cfg.Presence,
		notifier: cfg.Notifier,
		analyzer: cfg.Analyzer,
	}
}

// Register mounts every route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/auth/me", s.authed(s.handleMe))

	mux.HandleFunc("GET /api/users/me/profile", s.authed(s.handleGetProfile))
	mux.HandleFunc("PUT /api/users/me/profile", s.authed(s.handleUpdateProfile))
	mux.HandleFunc("POST /api/users/me/refresh-code", s.authed(s.handleRefreshCode))
	mux.HandleFunc("GET /api/users/search", s.authed(s.handleSearchByCode))
	mux.HandleFunc("GET /api/users/me/connections", s.authed(s.handleListConnections))
	mux.HandleFunc("POST /api/users/me/connections", s.authed(s.handleAddConnection))
	mux.HandleFunc("DELETE /api/users/me/connections/{userID}", s.authed(s.handleRemoveConnection))

	mux.HandleFunc("POST /api/calls/initiate", s.authed(s.handleInitiateCall))
	mux.HandleFunc("POST /api/calls/{callID}/answer", s.authed(s.handleAnswerCall))
	mux.HandleFunc("POST /api/calls/{callID}/end", s.authed(s.handleEndCall))
	mux.HandleFunc("GET /api/calls/{callID}", s.authed(s.handleGetCall))

	mux.HandleFunc("POST /api/analysis/{callID}", s.authed(s.handleAnalyzeCall))
	mux.HandleFunc("GET /api/analysis/{callID}", s.authed(s.handleGetAnalysis))
}

type principalKey struct{}

// authed wraps next with bearer-token authentication; the resolved principal
// travels in the request context.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		principal, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	return token, ok && token != ""
}

// principalFrom returns the authenticated caller. Only valid inside handlers
// wrapped by authed.
func principalFrom(r *http.Request) auth.Principal {
	p, _ := r.Context().Value(principalKey{}).(auth.Principal)
	return p
}
