package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openclerk/recordsync/internal/server/jwt"
)

type contextKey string

// SubjectKey is the request context key holding the authenticated token
// subject (device or publisher identity).
const SubjectKey contextKey = "subject"

// AuthMiddleware validates the Bearer token on every request and stores
// its subject in the request context.
func AuthMiddleware(logger *slog.Logger, tokens *jwt.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := Authenticate(tokens, r)
			if err != nil {
				logger.Warn("request rejected", "path", r.URL.Path, "error", err)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), SubjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticate extracts and validates the Bearer token of a request and
// returns its subject. Exposed separately for the websocket handler, which
// must authenticate before upgrading.
func Authenticate(tokens *jwt.Service, r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errMissingToken
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errBadAuthHeader
	}

	return tokens.Validate(parts[1])
}

// Subject returns the authenticated subject stored by AuthMiddleware,
// "" when the request was not authenticated.
func Subject(ctx context.Context) string {
	subject, _ := ctx.Value(SubjectKey).(string)
	return subject
}
