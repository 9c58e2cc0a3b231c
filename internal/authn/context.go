// ABOUTME: Context propagation of the verified identity to downstream handlers
// ABOUTME: Provides WithIdentity/FromContext for handlers past the enforcement stage

package authn

import (
	"context"

	"github.com/2389/gatewarden/internal/realm"
)

// Identity is the verified caller identity forwarded to downstream pipeline
// stages after the coordinator has passed the request.
type Identity struct {
	Principal *realm.Principal
	AuthType  string
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context carrying the verified identity.
func WithIdentity(ctx context.Context, p *realm.Principal, authType string) context.Context {
	return context.WithValue(ctx, identityKey{}, &Identity{Principal: p, AuthType: authType})
}

// FromContext retrieves the Identity from the context, returning nil if the
// request never passed the enforcement stage or was unauthenticated.
func FromContext(ctx context.Context) *Identity {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok {
		return nil
	}
	return id
}
