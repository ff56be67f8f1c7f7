// Package auth is the bearer-token contract the HTTP transport enforces in
// front of the editor. An Authenticator verifies the token on each request
// and yields the principal whose subject scopes the project session.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthorized rejects a request outright; the transport answers 401.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInsufficientScope means the token verified but may not use this
// resource; the transport answers 403.
var ErrInsufficientScope = errors.New("insufficient scope")

// UserInfo is the authenticated principal behind a validated token.
type UserInfo interface {
	// UserID is the stable subject identifier, used as the tenant scope for
	// project isolation.
	UserID() string
	// Claims decodes the token's claim set into ref.
	Claims(ref any) error
}

// Authenticator verifies one bearer token per request. Failures wrap
// ErrUnauthorized or ErrInsufficientScope so the transport can map them to
// status codes without knowing the token scheme.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, token string) (UserInfo, error)
}
