package middleware

import (
	"context"

	"github.com/mind-engage/mindengage-editor/internal/auth"
)

type ctxKey string

const ctxKeyLaunch ctxKey = "ltik"

func WithLaunchKey(ctx context.Context, k auth.LaunchKey) context.Context {
	return context.WithValue(ctx, ctxKeyLaunch, k)
}

func LaunchKeyFromContext(ctx context.Context) (auth.LaunchKey, bool) {
	k, ok := ctx.Value(ctxKeyLaunch).(auth.LaunchKey)
	return k, ok
}
