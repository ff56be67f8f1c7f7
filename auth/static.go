package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
)

// StaticAuthenticator validates a single pre-shared bearer token. It serves
// local and single-operator deployments where an OAuth server is overkill.
type StaticAuthenticator struct {
	token   []byte
	subject string
}

var _ Authenticator = (*StaticAuthenticator)(nil)

// NewStatic builds an authenticator around one pre-shared token. All callers
// presenting it authenticate as the same fixed subject.
func NewStatic(token string) *StaticAuthenticator {
	return &StaticAuthenticator{token: []byte(token), subject: "static"}
}

// CheckAuthentication compares in constant time. An empty configured token
// never matches: misconfiguration fails closed.
func (a *StaticAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if len(a.token) == 0 {
		return nil, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(tok), a.token) != 1 {
		return nil, ErrUnauthorized
	}
	return staticUser{id: a.subject}, nil
}

type staticUser struct {
	id string
}

func (u staticUser) UserID() string { return u.id }

func (u staticUser) Claims(ref any) error {
	return json.Unmarshal([]byte(`{}`), ref)
}
