package handlers

import (
	"context"

	"github.com/akarpov/crmsync/internal/models"
)

// contextKey тип для ключей контекста
type contextKey string

// PrincipalKey ключ для хранения принципала в контексте
const PrincipalKey contextKey = "principal"

// WithPrincipal кладет принципала запроса в контекст
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// GetPrincipal извлекает принципала из контекста запроса
func GetPrincipal(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(models.Principal)
	return p, ok
}
