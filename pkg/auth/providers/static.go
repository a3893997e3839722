package providers

import (
	"context"
	"fmt"
	"strings"
)

var _ AuthProvider = &StaticAuthProvider{}

// StaticAuthProvider accepts tokens of the form "<uid>:<secret>" for one
// shared secret. With an empty secret any non-empty token is taken as the
// uid, which is only meant for local play and tests.
type StaticAuthProvider struct {
	secret string
}

func NewStaticAuthProvider(secret string) *StaticAuthProvider {
	return &StaticAuthProvider{secret: secret}
}

func (p *StaticAuthProvider) VerifyToken(ctx context.Context, idToken string) (*TokenClaims, error) {
	if p.secret == "" {
		if idToken == "" {
			return nil, fmt.Errorf("empty token")
		}
		uid, _, _ := strings.Cut(idToken, ":")
		return &TokenClaims{UID: uid}, nil
	}
	uid, secret, ok := strings.Cut(idToken, ":")
	if !ok || uid == "" || secret != p.secret {
		return nil, fmt.Errorf("invalid token")
	}
	return &TokenClaims{UID: uid}, nil
}

// StaticToken builds a token StaticAuthProvider accepts.
func StaticToken(uid, secret string) string {
	return uid + ":" + secret
}
