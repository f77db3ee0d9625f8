/*
Package auth resolves who is calling and whether they may administer the
registry.

PURPOSE:
  AdminIdentity is the vesting.AccessGate: one identity, injected at
  construction, compared on every call. JWTAuthenticator turns an HS256
  bearer token into a caller identity (the "sub" claim) and Middleware
  puts that identity into the request context, failing closed.

USAGE:
  gate, _ := auth.NewAdminIdentity(cfg.Auth.AdminIdentity)
  authn, _ := auth.NewJWTAuthenticator([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)

  r.Group(func(r chi.Router) {
      r.Use(auth.Middleware(authn))
      r.Post("/api/claims", ...)   // auth.CallerFromContext(ctx)
  })

SEE ALSO:
  - vesting/custody.go: AccessGate interface
  - api/server.go: Route groups using Middleware
*/
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/equity-vesting/generic"
	"github.com/warp/equity-vesting/vesting"
)

// =============================================================================
// ADMIN GATE
// =============================================================================

// AdminIdentity grants administration to exactly one identity.
type AdminIdentity struct {
	admin generic.Identity
}

func NewAdminIdentity(raw string) (*AdminIdentity, error) {
	id, err := generic.NewIdentity(raw)
	if err != nil {
		return nil, fmt.Errorf("admin identity: %w", err)
	}
	return &AdminIdentity{admin: id}, nil
}

// IsAdmin compares the normalized caller with the admin identity.
func (a *AdminIdentity) IsAdmin(_ context.Context, caller generic.Identity) bool {
	if a == nil {
		return false
	}
	id, err := generic.NewIdentity(string(caller))
	return err == nil && id == a.admin
}

func (a *AdminIdentity) Identity() generic.Identity { return a.admin }

var _ vesting.AccessGate = (*AdminIdentity)(nil)

// =============================================================================
// JWT
// =============================================================================

// Claims are the JWT claims accepted by the API.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HS256 tokens issued with a shared secret.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTAuthenticator(secret []byte, issuer string) (*JWTAuthenticator, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	return &JWTAuthenticator{secret: secret, issuer: issuer, now: time.Now}, nil
}

// Issue signs a token for subject valid for ttl.
func (a *JWTAuthenticator) Issue(subject generic.Identity, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   string(subject),
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Authenticate validates tokenStr and returns the normalized subject.
func (a *JWTAuthenticator) Authenticate(tokenStr string) (generic.Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	return generic.NewIdentity(claims.Subject)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type contextKey string

const callerKey contextKey = "caller"

// WithCaller attaches the caller identity to ctx.
func WithCaller(ctx context.Context, caller generic.Identity) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext returns the identity set by Middleware.
func CallerFromContext(ctx context.Context) (generic.Identity, bool) {
	id, ok := ctx.Value(callerKey).(generic.Identity)
	return id, ok && id != ""
}

// Middleware requires a valid bearer token on every request it wraps.
// A nil authenticator rejects everything.
func Middleware(authn *JWTAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeUnauthorized(w, "missing Authorization header")
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeUnauthorized(w, "invalid Authorization header format (expected 'Bearer <token>')")
				return
			}
			if authn == nil {
				writeUnauthorized(w, "authentication not configured")
				return
			}

			caller, err := authn.Authenticate(parts[1])
			if err != nil {
				writeUnauthorized(w, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="equity-vesting"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": "unauthorized"})
}
