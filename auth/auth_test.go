package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/equity-vesting/auth"
	"github.com/warp/equity-vesting/generic"
)

const admin = "0x00000000000000000000000000000000000000AD"

var secret = []byte("0123456789abcdef0123456789abcdef")

func TestAdminIdentity(t *testing.T) {
	ctx := context.Background()
	gate, err := auth.NewAdminIdentity(admin)
	require.NoError(t, err)

	assert.True(t, gate.IsAdmin(ctx, admin))
	assert.True(t, gate.IsAdmin(ctx, "0x00000000000000000000000000000000000000ad"), "case-insensitive for hex addresses")
	assert.False(t, gate.IsAdmin(ctx, "0x00000000000000000000000000000000000000ae"))
	assert.False(t, gate.IsAdmin(ctx, ""))

	var nilGate *auth.AdminIdentity
	assert.False(t, nilGate.IsAdmin(ctx, admin))

	_, err = auth.NewAdminIdentity("  ")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestJWT_IssueAndAuthenticate(t *testing.T) {
	authn, err := auth.NewJWTAuthenticator(secret, "equity-vesting")
	require.NoError(t, err)

	token, err := authn.Issue(admin, time.Hour)
	require.NoError(t, err)

	caller, err := authn.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, generic.Identity("0x00000000000000000000000000000000000000ad"), caller)
}

func TestJWT_Rejects(t *testing.T) {
	authn, err := auth.NewJWTAuthenticator(secret, "equity-vesting")
	require.NoError(t, err)

	sign := func(claims jwt.Claims, method jwt.SigningMethod, key any) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Subject:   "alice",
			Issuer:    "equity-vesting",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	wrongIssuer := valid()
	wrongIssuer.Issuer = "someone-else"
	noExpiry := valid()
	noExpiry.ExpiresAt = nil
	noSubject := valid()
	noSubject.Subject = ""

	tests := map[string]string{
		"expired":      sign(expired, jwt.SigningMethodHS256, secret),
		"wrong issuer": sign(wrongIssuer, jwt.SigningMethodHS256, secret),
		"no expiry":    sign(noExpiry, jwt.SigningMethodHS256, secret),
		"wrong secret": sign(valid(), jwt.SigningMethodHS256, []byte("another-secret-another-secret-xx")),
		"wrong alg":    sign(valid(), jwt.SigningMethodHS512, secret),
		"no subject":   sign(noSubject, jwt.SigningMethodHS256, secret),
		"garbage":      "not.a.token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := authn.Authenticate(token)
			assert.Error(t, err)
		})
	}
}

func TestMiddleware(t *testing.T) {
	authn, err := auth.NewJWTAuthenticator(secret, "equity-vesting")
	require.NoError(t, err)
	token, err := authn.Issue("alice", time.Hour)
	require.NoError(t, err)

	var seen generic.Identity
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.CallerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		authn  *auth.JWTAuthenticator
		header string
		status int
	}{
		{"valid token", authn, "Bearer " + token, http.StatusNoContent},
		{"missing header", authn, "", http.StatusUnauthorized},
		{"wrong scheme", authn, "Basic " + token, http.StatusUnauthorized},
		{"bad token", authn, "Bearer nope", http.StatusUnauthorized},
		{"not configured", nil, "Bearer " + token, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodPost, "/api/claims", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			auth.Middleware(tt.authn)(ok).ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusNoContent {
				assert.Equal(t, generic.Identity("alice"), seen)
			} else {
				assert.Empty(t, seen)
				assert.Contains(t, rec.Body.String(), `"code":"unauthorized"`)
			}
		})
	}
}
