package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/akarpov/crmsync/internal/server/handlers"
)

// AuthMiddleware создает middleware для проверки JWT токена принципала.
// Идентификатор и роль из claims кладутся в контекст запроса.
func AuthMiddleware(logger *slog.Logger, jwtConfig handlers.JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("missing Authorization header")
				http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
				return
			}

			// Ожидаем формат: "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("invalid Authorization header format")
				http.Error(w, "Unauthorized: invalid token format", http.StatusUnauthorized)
				return
			}

			claims, err := handlers.ValidatePrincipalToken(jwtConfig, parts[1])
			if err != nil {
				logger.Warn("invalid access token", "error", err)
				http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
				return
			}

			principal := claims.Principal()
			ctx := handlers.WithPrincipal(r.Context(), principal)

			logger.Debug("principal authenticated",
				"principal", principal.ID, "role", principal.Role)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
