package common

import "context"

type ctxKey string

const actorKey ctxKey = "auth/actor"

// WithActor stores the authenticated admin actor on the context.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// Actor extracts the authenticated admin actor from the context if present.
func Actor(ctx context.Context) (string, bool) {
	v := ctx.Value(actorKey)
	if v == nil {
		return "", false
	}
	actor, ok := v.(string)
	return actor, ok
}
