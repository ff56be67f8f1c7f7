package jwtauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// fakeIssuer is an in-process authorization server: a discovery document, a
// JWKS endpoint, and a token mint sharing one RSA key.
type fakeIssuer struct {
	srv           *httptest.Server
	key           *rsa.PrivateKey
	kid           string
	discoveryHits int
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	iss := &fakeIssuer{key: key, kid: "sign-1"}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		iss.discoveryHits++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                   iss.srv.URL,
			"jwks_uri":                 iss.srv.URL + "/jwks",
			"authorization_endpoint":   iss.srv.URL + "/authorize",
			"token_endpoint":           iss.srv.URL + "/token",
			"response_types_supported": []string{"code"},
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &iss.key.PublicKey,
			KeyID:     iss.kid,
			Algorithm: "RS256",
			Use:       "sig",
		}}})
	})
	iss.srv = httptest.NewServer(mux)
	t.Cleanup(iss.srv.Close)
	return iss
}

// mint signs an access token with sensible defaults; mutate tweaks claims or
// header before signing to build the failure cases.
func (iss *fakeIssuer) mint(t *testing.T, mutate func(claims jwt.MapClaims, header map[string]any)) string {
	t.Helper()
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   iss.srv.URL,
		"sub":   "agent-7",
		"aud":   "bbmcp",
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"scope": "model.read model.write",
	}
	header := map[string]any{"typ": "at+jwt", "kid": iss.kid}
	if mutate != nil {
		mutate(claims, header)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	for k, v := range header {
		tok.Header[k] = v
	}
	signed, err := tok.SignedString(iss.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (iss *fakeIssuer) policy() Policy {
	return Policy{Issuer: iss.srv.URL, Audiences: []string{"bbmcp"}}
}

func discoveryValidator(t *testing.T, p Policy) *Validator {
	t.Helper()
	v, err := NewFromDiscovery(context.Background(), p)
	if err != nil {
		t.Fatalf("NewFromDiscovery: %v", err)
	}
	return v
}

func TestValidTokenYieldsPrincipal(t *testing.T) {
	iss := newFakeIssuer(t)
	v := discoveryValidator(t, iss.policy())

	ui, err := v.CheckAuthentication(context.Background(), iss.mint(t, nil))
	if err != nil {
		t.Fatalf("CheckAuthentication: %v", err)
	}
	if ui.UserID() != "agent-7" {
		t.Fatalf("UserID = %q", ui.UserID())
	}
	var got struct {
		Scope string `json:"scope"`
	}
	if err := ui.Claims(&got); err != nil {
		t.Fatalf("Claims: %v", err)
	}
	if got.Scope != "model.read model.write" {
		t.Fatalf("scope claim = %q", got.Scope)
	}
}

func TestAudienceArrayAccepted(t *testing.T) {
	iss := newFakeIssuer(t)
	v := discoveryValidator(t, iss.policy())

	tok := iss.mint(t, func(claims jwt.MapClaims, _ map[string]any) {
		claims["aud"] = []string{"other-api", "bbmcp"}
	})
	if _, err := v.CheckAuthentication(context.Background(), tok); err != nil {
		t.Fatalf("array aud containing ours must pass: %v", err)
	}
}

func TestWrongAudienceRejected(t *testing.T) {
	iss := newFakeIssuer(t)
	v := discoveryValidator(t, iss.policy())

	tok := iss.mint(t, func(claims jwt.MapClaims, _ map[string]any) {
		claims["aud"] = "someone-else"
	})
	if _, err := v.CheckAuthentication(context.Background(), tok); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong aud: got %v", err)
	}
}

func TestScopePolicyAllOf(t *testing.T) {
	iss := newFakeIssuer(t)
	p := iss.policy()
	p.Scopes = []string{"model.read", "model.admin"}
	v := discoveryValidator(t, p)

	_, err := v.CheckAuthentication(context.Background(), iss.mint(t, nil))
	if !errors.Is(err, ErrInsufficientScope) {
		t.Fatalf("missing model.admin: got %v", err)
	}
}

func TestScopePolicyAnyOf(t *testing.T) {
	iss := newFakeIssuer(t)
	p := iss.policy()
	p.Scopes = []string{"model.admin", "model.write"}
	p.AnyScope = true
	v := discoveryValidator(t, p)

	if _, err := v.CheckAuthentication(context.Background(), iss.mint(t, nil)); err != nil {
		t.Fatalf("one granted scope must satisfy any-of: %v", err)
	}
}

func TestNonAccessTokenTypRejected(t *testing.T) {
	iss := newFakeIssuer(t)
	v := discoveryValidator(t, iss.policy())

	tok := iss.mint(t, func(_ jwt.MapClaims, header map[string]any) {
		header["typ"] = "JWT"
	})
	if _, err := v.CheckAuthentication(context.Background(), tok); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("plain JWT typ: got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	iss := newFakeIssuer(t)
	v := discoveryValidator(t, iss.policy())

	tok := iss.mint(t, func(claims jwt.MapClaims, _ map[string]any) {
		claims["exp"] = time.Now().Add(-2 * time.Hour).Unix()
	})
	if _, err := v.CheckAuthentication(context.Background(), tok); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expired token: got %v", err)
	}
}

func TestIssuerMismatchRejected(t *testing.T) {
	iss := newFakeIssuer(t)
	v := discoveryValidator(t, iss.policy())

	tok := iss.mint(t, func(claims jwt.MapClaims, _ map[string]any) {
		claims["iss"] = "https://evil.example"
	})
	if _, err := v.CheckAuthentication(context.Background(), tok); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("foreign issuer: got %v", err)
	}
}

func TestMissingSubjectRejected(t *testing.T) {
	iss := newFakeIssuer(t)
	v := discoveryValidator(t, iss.policy())

	tok := iss.mint(t, func(claims jwt.MapClaims, _ map[string]any) {
		delete(claims, "sub")
	})
	if _, err := v.CheckAuthentication(context.Background(), tok); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("no sub: got %v", err)
	}
}

func TestDiscoveryWithoutJWKSFails(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"issuer": srv.URL})
	}))
	defer srv.Close()

	if _, err := NewFromDiscovery(context.Background(), Policy{Issuer: srv.URL}); err == nil {
		t.Fatalf("discovery without jwks_uri must fail")
	}
}

func TestExplicitJWKSSkipsDiscovery(t *testing.T) {
	iss := newFakeIssuer(t)
	v, err := NewWithJWKS(context.Background(), iss.policy(), iss.srv.URL+"/jwks")
	if err != nil {
		t.Fatalf("NewWithJWKS: %v", err)
	}
	if _, err := v.CheckAuthentication(context.Background(), iss.mint(t, nil)); err != nil {
		t.Fatalf("CheckAuthentication: %v", err)
	}
	if iss.discoveryHits != 0 {
		t.Fatalf("discovery endpoint was hit %d times", iss.discoveryHits)
	}
}
