package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gabrielee5/grafo-sub000/internal/domain"
	"github.com/gabrielee5/grafo-sub000/internal/i18n"
	"github.com/gabrielee5/grafo-sub000/internal/infra"
)

// Authenticator resolves a bearer token to an active user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

type userKey string

const (
	userIDKey userKey = "user_id"
	userObjKey userKey = "user"
)

// RequireAuth rejects requests without a valid bearer token and stores the
// user in the request context.
func RequireAuth(auth Authenticator, logger *infra.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				WriteError(w, r, http.StatusUnauthorized, i18n.MsgMissingToken)
				return
			}
			user, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, domain.ErrUnauthorized) {
					WriteError(w, r, http.StatusUnauthorized, i18n.MsgInvalidToken)
					return
				}
				if logger != nil {
					logger.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("authenticate request")
				}
				WriteError(w, r, http.StatusInternalServerError, i18n.MsgInternal)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *domain.User {
	if v, ok := ctx.Value(userObjKey).(*domain.User); ok {
		return v
	}
	return nil
}

func ContextWithUser(ctx context.Context, user *domain.User) context.Context {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return ctx
	}
	ctx = context.WithValue(ctx, userIDKey, user.ID)
	return context.WithValue(ctx, userObjKey, user)
}
