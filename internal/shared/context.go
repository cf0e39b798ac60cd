package shared

import (
	"context"
	"strconv"
)

// Actor identifies the user performing an operation. It is resolved once at
// the HTTP boundary and travels explicitly through context.
type Actor struct {
	ID         int64
	Roles      []string
	Attributes map[string]string
}

// IDString renders the actor id for logs and audit entity ids.
func (a Actor) IDString() string {
	return strconv.FormatInt(a.ID, 10)
}

// RequestMeta carries request metadata captured for audit records.
type RequestMeta struct {
	RequestID string
	IP        string
	UserAgent string
}

type actorContextKey struct{}

type requestMetaContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// ContextWithRequestMeta stores request metadata in context.
func ContextWithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaContextKey{}, meta)
}

// RequestMetaFromContext extracts request metadata; the zero value is returned when absent.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaContextKey{}).(RequestMeta)
	return meta
}
