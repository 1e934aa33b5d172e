package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

type contextKey string

const claimsKey contextKey = "insafe_agent_claims"

// Middleware rejects requests without a valid agent token and stores the
// verified claims on the request context.
func Middleware(issuer *Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := Authenticate(issuer, r)
			if err != nil {
				unauthorized(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// Authenticate verifies the request's bearer token.
func Authenticate(issuer *Issuer, r *http.Request) (*Claims, error) {
	token, err := ExtractBearer(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}
	return issuer.Verify(token)
}

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok && claims != nil
}

func unauthorized(w http.ResponseWriter, err error) {
	msg := ErrInvalidToken.Error()
	if errors.Is(err, ErrMissingToken) {
		msg = ErrMissingToken.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}
