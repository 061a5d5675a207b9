package shared

import "context"

// Actor identifies the authenticated user acting on a request.
type Actor struct {
	ID   int64
	Name string
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// ActorID returns the acting user id, or zero when unauthenticated.
func ActorID(ctx context.Context) int64 {
	actor, _ := ActorFromContext(ctx)
	return actor.ID
}
