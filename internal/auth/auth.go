// Package auth resolves opaque credential tokens into principals.
//
// Every entry point, HTTP request or websocket admission, passes its bearer
// token through an [Authenticator] before any other work happens. The rest of
// the system only ever sees a [Principal]; token format and signing are
// confined to this package.
package auth

import (
	"context"
	"errors"
)

// ErrInvalidToken is returned when a credential fails verification for any
// reason: malformed, bad signature, or expired. Callers must treat all three
// identically and refuse admission.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// Principal is the resolved identity behind a valid credential.
type Principal struct {
	// UserID is the stable user identifier.
	UserID int64

	// Email is the account email, carried for display purposes only.
	Email string

	// Name is the account's human-readable name.
	Name string
}

// Authenticator validates an opaque credential string and yields the
// principal it was issued to. Implementations must be safe for concurrent use.
type Authenticator interface {
	// Authenticate resolves token into a Principal, or fails with an error
	// wrapping [ErrInvalidToken] if the token cannot be verified.
	Authenticate(ctx context.Context, token string) (Principal, error)
}
