/*
auth.go - Bearer token identity

PURPOSE:
  Every /api route runs behind Authenticate. The caller presents an HS256
  JWT whose claims name a role and, for pharmacy staff, the pharmacy they
  act for. Tokens are minted elsewhere; this package only verifies the
  signature and expiry.

ROLES:
  admin     HQ staff. May touch any pharmacy and all admin-only routes.
  pharmacy  Branch staff. Scoped to their own pharmacy_id.
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RolePharmacy Role = "pharmacy"
)

// Identity is the authenticated caller.
type Identity struct {
	Role       Role
	PharmacyID int64
}

func (id Identity) IsAdmin() bool { return id.Role == RoleAdmin }

// CanAccess reports whether the caller may see data of the given pharmacy.
func (id Identity) CanAccess(pharmacyID int64) bool {
	return id.IsAdmin() || id.PharmacyID == pharmacyID
}

type authClaims struct {
	Role       Role  `json:"role"`
	PharmacyID int64 `json:"pharmacy_id,omitempty"`
	jwt.RegisteredClaims
}

type ctxKey int

const ctxIdentity ctxKey = iota

var (
	errUnauthorized = errors.New("unauthorized")
	errForbidden    = errors.New("forbidden")
)

// SignToken issues a token for id that expires after ttl.
func SignToken(secret string, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := authClaims{
		Role:       id.Role,
		PharmacyID: id.PharmacyID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(secret, tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &authClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return Identity{}, errUnauthorized
	}
	claims, ok := token.Claims.(*authClaims)
	if !ok {
		return Identity{}, errUnauthorized
	}
	switch claims.Role {
	case RoleAdmin:
	case RolePharmacy:
		if claims.PharmacyID <= 0 {
			return Identity{}, errUnauthorized
		}
	default:
		return Identity{}, errUnauthorized
	}
	return Identity{Role: claims.Role, PharmacyID: claims.PharmacyID}, nil
}

// Authenticate rejects requests without a valid bearer token and stores the
// caller's Identity in the request context.
func Authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
				return
			}
			id, err := parseToken(secret, strings.TrimSpace(header[len("Bearer "):]))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireAdmin lets only admin callers through.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IdentityFrom(r.Context()).IsAdmin() {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "admin role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxIdentity, id)
}

// IdentityFrom returns the caller stored by Authenticate, or the zero
// Identity, which has no access to anything.
func IdentityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(ctxIdentity).(Identity)
	return id
}
