/*
auth.go - Actor role extraction

PURPOSE:
  Every mutating servicing operation is checked against the caller's role
  (discounts, manual refinance rates). This middleware resolves the role
  once per request and stores it in the request context.

SOURCES (first match wins):
  1. Authorization: Bearer <jwt>   HS256 token with a "role" claim.
                                   Only when a JWT secret is configured.
  2. X-Actor-Role: <role>          Trusted header for internal callers.
                                   Ignored when a JWT secret is configured.

  No role at all is allowed: the request proceeds with an empty role and
  the engine rejects anything that needs one.

SEE ALSO:
  - lending/policy.go: Role constants and permission checks
  - config/config.go: auth.jwt_secret
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/credit-engine/factory"
	"github.com/warp/credit-engine/lending"
)

// RoleHeader carries the actor role when no JWT secret is configured.
const RoleHeader = "X-Actor-Role"

type roleKey struct{}

// RoleClaims are the JWT claims understood by the API.
type RoleClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// RoleMiddleware resolves the actor role of each request.
func RoleMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, err := resolveRole(r, secret)
			if err != nil {
				status := http.StatusBadRequest
				if errors.Is(err, errUnauthenticated) {
					status = http.StatusUnauthorized
				}
				writeError(w, status, "Invalid actor role", err)
				return
			}
			ctx := context.WithValue(r.Context(), roleKey{}, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RoleFrom returns the role stored by RoleMiddleware.
func RoleFrom(ctx context.Context) lending.Role {
	role, _ := ctx.Value(roleKey{}).(lending.Role)
	return role
}

var errUnauthenticated = errors.New("unauthenticated")

func resolveRole(r *http.Request, secret string) (lending.Role, error) {
	if secret == "" {
		name := r.Header.Get(RoleHeader)
		if name == "" {
			return "", nil
		}
		return factory.ParseRole(name)
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return "", nil
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", fmt.Errorf("%w: expected a bearer token", errUnauthenticated)
	}

	claims := &RoleClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errUnauthenticated, err)
	}
	return factory.ParseRole(claims.Role)
}

// SignRole issues an HS256 token carrying role. Used by tooling and tests.
func SignRole(secret string, role lending.Role) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, RoleClaims{Role: string(role)})
	return token.SignedString([]byte(secret))
}
