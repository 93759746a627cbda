/*
auth.go - Bearer-token authentication for callable endpoints

PURPOSE:
  Both callable entry points (step sync, redemption) require an
  authenticated caller identity. Identity arrives as a JWT bearer token
  whose subject is the account uid; the middleware validates it and places
  the uid on the request context. A missing or invalid token maps to the
  unauthenticated error kind before any handler logic runs.

TOKENS:
  HS256, issued by the identity service that also fires the account
  provisioning event. GenerateToken exists for that service and for tests.
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const uidKey ctxKey = iota

// Claims carries the caller identity. The account uid is the subject.
type Claims struct {
	jwt.RegisteredClaims
}

// GenerateToken mints an HS256 token for uid.
func GenerateToken(secret, issuer, uid string, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// Authenticator validates the Authorization header and stores the caller
// uid in the request context. Rejects with 401 otherwise.
func Authenticator(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeUnauthenticated(w, "missing authorization header")
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeUnauthenticated(w, "invalid authorization format")
				return
			}
			claims, err := parseToken(secret, parts[1])
			if err != nil || claims.Subject == "" {
				writeUnauthenticated(w, "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), uidKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UIDFromContext returns the authenticated caller uid, "" if none.
func UIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(uidKey).(string)
	return uid
}
