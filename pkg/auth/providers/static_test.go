package providers

import (
	"context"
	"testing"

	"firebase.google.com/go/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticAuthProvider(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		token   string
		wantUID string
		wantErr bool
	}{
		{name: "valid", secret: "s3", token: StaticToken("alice", "s3"), wantUID: "alice"},
		{name: "wrong secret", secret: "s3", token: StaticToken("alice", "nope"), wantErr: true},
		{name: "missing uid", secret: "s3", token: ":s3", wantErr: true},
		{name: "no separator", secret: "s3", token: "alice", wantErr: true},
		{name: "open mode", token: "bob", wantUID: "bob"},
		{name: "open mode ignores secret part", token: StaticToken("bob", "x"), wantUID: "bob"},
		{name: "open mode empty", token: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := NewStaticAuthProvider(tt.secret).VerifyToken(context.Background(), tt.token)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUID, claims.UID)
		})
	}
}

func TestClaimsFromToken(t *testing.T) {
	claims := claimsFromToken(&auth.Token{UID: "alice", Claims: map[string]interface{}{AdminClaim: true}})
	assert.Equal(t, &TokenClaims{UID: "alice", Admin: true}, claims)

	claims = claimsFromToken(&auth.Token{UID: "bob", Claims: map[string]interface{}{AdminClaim: "yes"}})
	assert.False(t, claims.Admin)
}
