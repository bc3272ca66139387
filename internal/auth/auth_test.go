// ABOUTME: Tests for bearer token extraction and verification
// ABOUTME: Covers static tokens, HS256 JWTs and the unconfigured case

package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticVerifier(t *testing.T) {
	v := NewStaticVerifier("hub-secret")

	principal, err := v.Verify("hub-secret")
	require.NoError(t, err)
	assert.Equal(t, "client", principal)

	_, err = v.Verify("wrong")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestStaticVerifier_UnconfiguredRejectsEverything(t *testing.T) {
	v := NewStaticVerifier("")

	_, err := v.Verify("anything")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = v.Verify("")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := NewJWTVerifier([]byte("signing-secret"))

	token, err := v.Generate("alice", time.Hour)
	require.NoError(t, err)

	principal, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", principal)
}

func TestJWTVerifier_Rejections(t *testing.T) {
	v := NewJWTVerifier([]byte("signing-secret"))

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTVerifier([]byte("different-secret"))
		token, err := other.Generate("alice", time.Hour)
		require.NoError(t, err)

		_, err = v.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := v.Generate("alice", -time.Minute)
		require.NoError(t, err)

		_, err = v.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := v.Verify("not.a.jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestFromConfig(t *testing.T) {
	assert.IsType(t, &JWTVerifier{}, FromConfig("token", "secret"))
	assert.IsType(t, &StaticVerifier{}, FromConfig("token", ""))
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		token   string
		wantErr error
	}{
		{"valid", "Bearer abc123", "abc123", nil},
		{"case insensitive scheme", "bearer abc123", "abc123", nil},
		{"missing header", "", "", ErrMissingToken},
		{"wrong scheme", "Basic abc123", "", ErrInvalidToken},
		{"empty token", "Bearer   ", "", ErrMissingToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/v1/messages", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			token, err := ExtractBearer(r)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.token, token)
		})
	}
}
