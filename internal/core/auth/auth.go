// Package auth provides report signing and bearer token authentication for
// the local control API.
package auth

import (
	"context"
	"crypto/rand"
	"net/http"
	"strings"

	"github.com/go-chi/render"
)

// contextKey is a typed key for context values to avoid collisions.
type contextKey string

// callerKey is the context key for the authenticated caller label.
const callerKey = contextKey("caller")

// Authenticator validates API tokens. Only the HMAC of the configured token
// is held in memory; presented tokens are hashed with the same per-process
// key and compared in constant time.
type Authenticator struct {
	key       []byte
	tokenHash []byte
}

// NewAuthenticator creates an authenticator for token. An empty token
// disables authentication.
func NewAuthenticator(token string) *Authenticator {
	if token == "" {
		return &Authenticator{}
	}
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	return &Authenticator{
		key:       key,
		tokenHash: ComputeHMAC(key, token),
	}
}

// Enabled reports whether a token is required.
func (a *Authenticator) Enabled() bool {
	return len(a.tokenHash) > 0
}

// Authenticate checks a presented token.
func (a *Authenticator) Authenticate(token string) error {
	if !a.Enabled() {
		return nil
	}
	if token == "" {
		return ErrMissingToken
	}
	if !VerifyHMAC(a.tokenHash, ComputeHMAC(a.key, token)) {
		return ErrInvalidToken
	}
	return nil
}

// Middleware returns chi middleware that requires "Authorization: Bearer <token>".
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r.Header.Get("Authorization"))
		if err := a.Authenticate(token); err != nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{
				"code":    "ERR_UNAUTHORIZED",
				"message": err.Error(),
			})
			return
		}

		ctx := context.WithValue(r.Context(), callerKey, "api-token")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// CallerFromContext returns the authenticated caller label, or "" when the
// request was not authenticated.
func CallerFromContext(ctx context.Context) string {
	if caller, ok := ctx.Value(callerKey).(string); ok {
		return caller
	}
	return ""
}
