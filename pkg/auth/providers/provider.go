package providers

import "context"

// AuthProvider verifies the token a client presents at login.
type AuthProvider interface {
	VerifyToken(ctx context.Context, idToken string) (*TokenClaims, error)
}

type TokenClaims struct {
	UID string `json:"uid"`
	// Admin is set by the "admin" custom claim and grants every in-game
	// permission, like listing the user id in the config's admins.
	Admin bool `json:"admin"`
}
