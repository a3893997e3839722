// Package auth obtains login tokens for the client.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// DefaultFirebaseEndpoint is the Firebase Auth REST API.
const DefaultFirebaseEndpoint = "https://identitytoolkit.googleapis.com/v1"

// ErrSignInFailed carries the error message returned by Firebase.
type ErrSignInFailed struct {
	Message string
}

func (e *ErrSignInFailed) Error() string {
	return fmt.Sprintf("sign in failed: %s", e.Message)
}

func IsSignInFailed(err error) bool {
	_, ok := err.(*ErrSignInFailed)
	return ok
}

type FirebaseClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

type NewFirebaseClientOptions struct {
	APIKey string
	// Endpoint defaults to DefaultFirebaseEndpoint.
	Endpoint   string
	HTTPClient *http.Client
}

func NewFirebaseClient(opts NewFirebaseClientOptions) *FirebaseClient {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultFirebaseEndpoint
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &FirebaseClient{
		endpoint:   opts.Endpoint,
		apiKey:     opts.APIKey,
		httpClient: opts.HTTPClient,
	}
}

type signInRequestBody struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

// SignInResponseBody is the response of the email/password sign in.
type SignInResponseBody struct {
	IDToken      string `json:"idToken"`
	Email        string `json:"email"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
}

type errorResponseBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SignIn exchanges an email and password for an ID token the server's
// firebase provider accepts.
// https://firebase.google.com/docs/reference/rest/auth#section-sign-in-email-password
func (c *FirebaseClient) SignIn(ctx context.Context, email, password string) (*SignInResponseBody, error) {
	body := bytes.NewBuffer(nil)
	if err := json.NewEncoder(body).Encode(&signInRequestBody{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}); err != nil {
		return nil, fmt.Errorf("error encoding request body: %v", err)
	}

	url := fmt.Sprintf("%s/accounts:signInWithPassword?key=%s", c.endpoint, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorResponse := &errorResponseBody{}
		if err := json.NewDecoder(resp.Body).Decode(errorResponse); err != nil {
			return nil, fmt.Errorf("failed to decode error response (%s): %v", resp.Status, err)
		}
		return nil, &ErrSignInFailed{Message: errorResponse.Error.Message}
	}

	result := &SignInResponseBody{}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return nil, fmt.Errorf("error decoding response: %v", err)
	}
	return result, nil
}
