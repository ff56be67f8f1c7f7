package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sigee-min/bbmcp-sub011/internal/jwtauth"
)

// OIDCConfig parameterizes discovery-based token validation.
type OIDCConfig struct {
	// Issuer is the authorization server; discovery resolves its JWKS.
	Issuer string
	// Audience must appear in validated tokens when set.
	Audience string
	// RequiredScopes must all be granted when set.
	RequiredScopes []string
	// JWKSURI bypasses discovery and loads keys from this URL directly.
	JWKSURI string
	// Logger receives token rejection events.
	Logger *slog.Logger
}

// NewOIDC builds an authenticator that validates RFC 9068 access tokens
// against the issuer's published keys. Discovery happens once at
// construction; key rotation is handled by the underlying JWKS cache.
func NewOIDC(ctx context.Context, cfg OIDCConfig) (Authenticator, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("oidc: issuer is required")
	}
	policy := jwtauth.Policy{
		Issuer: cfg.Issuer,
		Scopes: cfg.RequiredScopes,
		Logger: cfg.Logger,
	}
	if cfg.Audience != "" {
		policy.Audiences = []string{cfg.Audience}
	}

	var (
		inner jwtauth.Authenticator
		err   error
	)
	if cfg.JWKSURI != "" {
		inner, err = jwtauth.NewWithJWKS(ctx, policy, cfg.JWKSURI)
	} else {
		inner, err = jwtauth.NewFromDiscovery(ctx, policy)
	}
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	return &oidcAuthenticator{inner: inner}, nil
}

type oidcAuthenticator struct {
	inner jwtauth.Authenticator
}

var _ Authenticator = (*oidcAuthenticator)(nil)

// CheckAuthentication maps the internal sentinel errors onto this package's
// so transports only ever branch on auth.ErrUnauthorized and
// auth.ErrInsufficientScope.
func (a *oidcAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	ui, err := a.inner.CheckAuthentication(ctx, tok)
	if err != nil {
		switch {
		case errors.Is(err, jwtauth.ErrUnauthorized):
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		case errors.Is(err, jwtauth.ErrInsufficientScope):
			return nil, fmt.Errorf("%w: %v", ErrInsufficientScope, err)
		}
		return nil, err
	}
	return ui, nil
}
