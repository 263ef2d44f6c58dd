// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"

	"github.com/google/uuid"
)

type userIDContextKey struct{}
type identityContextKey struct{}

var ctxUserIDKey userIDContextKey
var ctxIdentityKey identityContextKey

// Identity is the authenticated caller resolved from a bearer token.
type Identity struct {
	UserID uuid.UUID
	Admin  bool
}

// WithUserID stores the authenticated user id on the request context.
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxUserIDKey, userID)
}

// WithIdentity stores the resolved identity on the request context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, ctxIdentityKey, id)
	return context.WithValue(ctx, ctxUserIDKey, id.UserID)
}

// UserIDFromContext reads the authenticated user id from context.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if id, ok := IdentityFromContext(ctx); ok {
		return id.UserID, true
	}

	v := ctx.Value(ctxUserIDKey)
	id, ok := v.(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// IdentityFromContext reads the resolved identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v := ctx.Value(ctxIdentityKey)
	id, ok := v.(Identity)
	if !ok || id.UserID == uuid.Nil {
		return Identity{}, false
	}
	return id, true
}
