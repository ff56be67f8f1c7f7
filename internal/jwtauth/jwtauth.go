// Package jwtauth validates OAuth 2.0 bearer tokens in front of the MCP
// endpoint. Tokens must be RFC 9068 JWT access tokens; signing keys come
// either from OIDC discovery on the issuer or from an explicit JWKS URL, and
// are cached and refreshed in the background by keyfunc.
package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthorized covers every validation failure that should yield 401.
	ErrUnauthorized = errors.New("jwtauth: unauthorized")
	// ErrInsufficientScope means the token verified but lacks a required
	// scope; transports answer 403 with a scope hint.
	ErrInsufficientScope = errors.New("jwtauth: insufficient_scope")
)

// Policy is what a token must satisfy before its caller may reach the
// editor.
type Policy struct {
	// Issuer is the authorization server; the iss claim must match exactly.
	Issuer string
	// Audiences lists acceptable aud values. When set, at least one must
	// appear in the token (aud may be a string or an array on the wire).
	Audiences []string
	// Scopes the token must grant. With AnyScope set, one granted scope
	// satisfies the policy; otherwise all are required.
	Scopes   []string
	AnyScope bool
	// Algorithms allow-lists JWS signing algorithms. Empty means RS256.
	Algorithms []string
	// Leeway absorbs clock skew on the time claims. Zero means one minute.
	Leeway time.Duration
	// Logger receives rejection events at debug level.
	Logger *slog.Logger
}

func (p Policy) withDefaults() Policy {
	if len(p.Algorithms) == 0 {
		p.Algorithms = []string{"RS256"}
	}
	if p.Leeway == 0 {
		p.Leeway = time.Minute
	}
	if p.Logger == nil {
		p.Logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// UserInfo is the authenticated principal handed back to the transport.
type UserInfo interface {
	// UserID is the stable subject identifier.
	UserID() string
	// Claims decodes the full token claim set into ref.
	Claims(ref any) error
}

// Authenticator validates one bearer token per call.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, token string) (UserInfo, error)
}

// Validator checks bearer tokens against a Policy using a cached JWKS.
type Validator struct {
	policy Policy
	keys   jwt.Keyfunc
	parser *jwt.Parser
}

var _ Authenticator = (*Validator)(nil)

// NewFromDiscovery resolves the issuer's JWKS through OIDC discovery and
// returns a validator bound to it. The key set keeps refreshing until ctx is
// canceled.
func NewFromDiscovery(ctx context.Context, policy Policy) (*Validator, error) {
	if policy.Issuer == "" {
		return nil, errors.New("jwtauth: policy needs an issuer")
	}
	provider, err := oidc.NewProvider(ctx, policy.Issuer)
	if err != nil {
		return nil, fmt.Errorf("jwtauth: discover %s: %w", policy.Issuer, err)
	}
	var meta struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("jwtauth: decode discovery document: %w", err)
	}
	if meta.JWKSURI == "" {
		return nil, fmt.Errorf("jwtauth: discovery document of %s has no jwks_uri", policy.Issuer)
	}
	return NewWithJWKS(ctx, policy, meta.JWKSURI)
}

// NewWithJWKS skips discovery and trusts keys from an explicit JWKS URL, for
// issuers whose discovery document is unreachable from the deployment.
func NewWithJWKS(ctx context.Context, policy Policy, jwksURL string) (*Validator, error) {
	if policy.Issuer == "" {
		return nil, errors.New("jwtauth: policy needs an issuer")
	}
	policy = policy.withDefaults()
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("jwtauth: load jwks %s: %w", jwksURL, err)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(policy.Algorithms),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(policy.Issuer),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(policy.Leeway),
	)
	return &Validator{policy: policy, keys: jwks.Keyfunc, parser: parser}, nil
}

// CheckAuthentication validates one bearer token. Every failure wraps
// ErrUnauthorized, except a scope shortfall on an otherwise valid token,
// which wraps ErrInsufficientScope.
func (v *Validator) CheckAuthentication(ctx context.Context, token string) (UserInfo, error) {
	claims := jwt.MapClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, v.keys)
	if err != nil {
		return nil, v.reject(ctx, "signature or claims", err)
	}

	// RFC 9068: only access tokens, never ID or refresh tokens.
	if typ, _ := parsed.Header["typ"].(string); typ != "at+jwt" && typ != "application/at+jwt" {
		return nil, v.reject(ctx, "token type", fmt.Errorf("typ %q is not an access token", typ))
	}
	if len(v.policy.Audiences) > 0 && !audienceMatches(claims["aud"], v.policy.Audiences) {
		return nil, v.reject(ctx, "audience", errors.New("aud does not include this resource"))
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, v.reject(ctx, "subject", errors.New("sub claim missing"))
	}
	if missing := v.missingScopes(claims); len(missing) > 0 {
		v.policy.Logger.DebugContext(ctx, "jwtauth.scope.denied",
			slog.String("subject", sub), slog.Any("missing", missing))
		return nil, fmt.Errorf("%w: token lacks scope %s", ErrInsufficientScope, strings.Join(missing, " "))
	}

	raw, err := json.Marshal(map[string]any(claims))
	if err != nil {
		return nil, v.reject(ctx, "claims", err)
	}
	return &principal{subject: sub, claims: raw}, nil
}

func (v *Validator) reject(ctx context.Context, stage string, err error) error {
	v.policy.Logger.DebugContext(ctx, "jwtauth.token.rejected",
		slog.String("stage", stage), slog.Any("err", err))
	return fmt.Errorf("%w: %s: %v", ErrUnauthorized, stage, err)
}

// missingScopes reports which policy scopes the token does not grant. The
// scope claim is the space-separated OAuth form. In any-of mode a single
// granted scope clears the whole requirement.
func (v *Validator) missingScopes(claims jwt.MapClaims) []string {
	if len(v.policy.Scopes) == 0 {
		return nil
	}
	granted := make(map[string]bool)
	if s, _ := claims["scope"].(string); s != "" {
		for _, sc := range strings.Fields(s) {
			granted[sc] = true
		}
	}
	var missing []string
	for _, want := range v.policy.Scopes {
		if granted[want] {
			if v.policy.AnyScope {
				return nil
			}
			continue
		}
		missing = append(missing, want)
	}
	if v.policy.AnyScope {
		return v.policy.Scopes
	}
	return missing
}

// audienceMatches handles both wire forms of the aud claim.
func audienceMatches(aud any, accepted []string) bool {
	switch got := aud.(type) {
	case string:
		for _, want := range accepted {
			if got == want {
				return true
			}
		}
	case []any:
		for _, item := range got {
			s, ok := item.(string)
			if !ok {
				continue
			}
			for _, want := range accepted {
				if s == want {
					return true
				}
			}
		}
	}
	return false
}

// principal carries the claim set decoded once at validation time.
type principal struct {
	subject string
	claims  json.RawMessage
}

func (p *principal) UserID() string { return p.subject }

func (p *principal) Claims(ref any) error {
	return json.Unmarshal(p.claims, ref)
}
