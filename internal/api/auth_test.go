package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/chat-relay/internal/config"
	"github.com/npezzotti/chat-relay/internal/testutil"
	"github.com/npezzotti/chat-relay/internal/types"
	"github.com/stretchr/testify/assert"
)

func newTestApp(t *testing.T) *RelayApp {
	return NewRelayApp(http.NewServeMux(), testutil.TestLogger(t), nil, nil, nil, &config.Config{
		SigningKey: []byte("test-signing-key"),
	})
}

func Test_bearerToken(t *testing.T) {
	tcases := []struct {
		name     string
		header   string
		query    string
		expected string
		wantErr  bool
	}{
		{
			name:     "authorization header",
			header:   "Bearer abc123",
			expected: "abc123",
		},
		{
			name:     "case insensitive scheme",
			header:   "bearer abc123",
			expected: "abc123",
		},
		{
			name:    "malformed header",
			header:  "abc123",
			wantErr: true,
		},
		{
			name:    "wrong scheme",
			header:  "Basic abc123",
			wantErr: true,
		},
		{
			name:     "token query parameter fallback",
			query:    "abc123",
			expected: "abc123",
		},
		{
			name:    "no token",
			wantErr: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			url := "/ws"
			if tc.query != "" {
				url += "?token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, url, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}

			token, err := bearerToken(req)
			if tc.wantErr {
				assert.Error(t, err, "expected an error extracting token")
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, token)
		})
	}
}

func TestJwtRoundTrip(t *testing.T) {
	app := newTestApp(t)

	token, err := app.createJwtForSession(types.User{Id: 42}, defaultJwtExpiration)
	assert.NoError(t, err, "expected token creation to succeed")
	assert.NotEmpty(t, token)

	userId, err := app.extractUserIdFromToken(token)
	assert.NoError(t, err, "expected token verification to succeed")
	assert.Equal(t, 42, userId, "expected user id claim round-tripped")
}

func TestJwtWrongKey(t *testing.T) {
	app := newTestApp(t)
	token, err := app.createJwtForSession(types.User{Id: 42}, defaultJwtExpiration)
	assert.NoError(t, err)

	other := NewRelayApp(http.NewServeMux(), testutil.TestLogger(t), nil, nil, nil, &config.Config{
		SigningKey: []byte("different-signing-key"),
	})
	_, err = other.extractUserIdFromToken(token)
	assert.Error(t, err, "expected verification with a different key to fail")
}

func TestJwtExpired(t *testing.T) {
	app := newTestApp(t)
	token, err := app.createJwtForSession(types.User{Id: 42}, -time.Minute)
	assert.NoError(t, err)

	_, err = app.extractUserIdFromToken(token)
	assert.Error(t, err, "expected expired token to be rejected")
}

func TestUserIdContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, ok := UserId(req.Context())
	assert.False(t, ok, "expected no user id on a bare context")

	ctx := WithUserId(req.Context(), 7)
	userId, ok := UserId(ctx)
	assert.True(t, ok)
	assert.Equal(t, 7, userId)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := hashPassword("password")
	assert.NoError(t, err, "expected hashing to succeed")
	assert.NotEqual(t, "password", hash)

	assert.True(t, verifyPassword(hash, "password"), "expected correct password to verify")
	assert.False(t, verifyPassword(hash, "wrong"), "expected wrong password to fail")
}
