package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/cardbox/cardbox/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated admin.
	AuthPrincipalKey contextKeyAuth = "auth_principal"

	// GrantKey is the context key for a card-key grant.
	GrantKey contextKeyAuth = "card_grant"
)

// Principal represents the authenticated admin making the request.
type Principal struct {
	AdminID int64
	Email   string
}

// Authenticate validates the JWT bearer token on the Authorization
// header. On success, a Principal is attached to the request context;
// on failure, a 401 JSON error is returned.
func Authenticate(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide a Bearer token.")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			p, err := authSvc.ValidateJWT(r.Context(), token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			principal := &Principal{AdminID: p.AdminID, Email: p.Email}
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated admin from the context.
// Returns nil for an unauthenticated request.
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

// IngestAuth gates the ingest endpoint on a shared token carried in
// the X-Ingest-Token header. The phone-side agent is the only caller.
func IngestAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Ingest-Token")
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeAuthError(w, http.StatusUnauthorized, "Invalid ingest token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CardAuth turns the X-Card-Key header into a read grant via the
// access gate. Every pass through this middleware runs the full
// validation state machine, so it stamps first use and is audited.
// Denials distinguish an expired key (410) from an invalid one (404).
func CardAuth(gate *service.AccessGate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-Card-Key")
			if key == "" {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide the X-Card-Key header.")
				return
			}

			grant, err := gate.Authorize(r.Context(), key)
			if err != nil {
				switch err {
				case service.ErrKeyExpired:
					writeAuthError(w, http.StatusGone, "Card key expired")
				case service.ErrKeyInvalid:
					writeAuthError(w, http.StatusNotFound, "Card key not found")
				default:
					writeAuthError(w, http.StatusInternalServerError, "Validation failed")
				}
				return
			}

			ctx := context.WithValue(r.Context(), GrantKey, grant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetGrant extracts the card-key grant from the context. Returns nil
// when the request did not pass through CardAuth.
func GetGrant(ctx context.Context) *service.Grant {
	if g, ok := ctx.Value(GrantKey).(*service.Grant); ok {
		return g
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Manually construct JSON to avoid import cycle with handler package
	w.Write([]byte(`{"error":{"code":` + httpStatusString(status) + `,"message":"` + message + `"}}`))
}

func httpStatusString(code int) string {
	switch code {
	case 401:
		return "401"
	case 404:
		return "404"
	case 410:
		return "410"
	default:
		return "500"
	}
}
