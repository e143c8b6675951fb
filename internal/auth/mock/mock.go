// Package mock provides a static in-memory Authenticator for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/talkwire/internal/auth"
)

// Authenticator resolves tokens from a fixed map. The zero value is usable.
type Authenticator struct {
	mu         sync.Mutex
	principals map[string]auth.Principal
}

// Grant registers token as a valid credential for p.
func (a *Authenticator) Grant(token string, p auth.Principal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.principals == nil {
		a.principals = make(map[string]auth.Principal)
	}
	a.principals[token] = p
}

// Authenticate implements auth.Authenticator.
func (a *Authenticator) Authenticate(_ context.Context, token string) (auth.Principal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.principals[token]
	if !ok {
		return auth.Principal{}, fmt.Errorf("%w: unknown token", auth.ErrInvalidToken)
	}
	return p, nil
}
