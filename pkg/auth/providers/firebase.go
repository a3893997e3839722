package providers

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/auth"
	"google.golang.org/api/option"
)

// AdminClaim is the custom claim that marks a Firebase user as an admin.
const AdminClaim = "admin"

var _ AuthProvider = &FirebaseAuthProvider{}

// FirebaseAuthProvider verifies Firebase ID tokens.
type FirebaseAuthProvider struct {
	auth *auth.Client
}

// NewFirebaseAuthProvider creates a provider for projectID. The API key is
// optional; without it the application default credentials are used.
func NewFirebaseAuthProvider(ctx context.Context, projectID string, apiKey string) (*FirebaseAuthProvider, error) {
	if projectID == "" {
		return nil, fmt.Errorf("firebase project id is required")
	}
	var opts []option.ClientOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %v", err)
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting firebase auth client: %v", err)
	}
	return &FirebaseAuthProvider{auth: client}, nil
}

func (p *FirebaseAuthProvider) VerifyToken(ctx context.Context, idToken string) (*TokenClaims, error) {
	token, err := p.auth.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("error verifying token: %v", err)
	}
	return claimsFromToken(token), nil
}

func claimsFromToken(token *auth.Token) *TokenClaims {
	admin, _ := token.Claims[AdminClaim].(bool)
	return &TokenClaims{
		UID:   token.UID,
		Admin: admin,
	}
}
