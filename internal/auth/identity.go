package auth

import "context"

// Identity is the authenticated caller populated by Middleware and read by
// downstream handlers.
type Identity struct {
	UserID   string
	DeviceID string
	Email    string
	JTI      string
}

type contextKey int

const identityKey contextKey = iota

// NewContext returns a context carrying the given identity.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the identity stored by Middleware, or nil if the
// request was never authenticated.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}
