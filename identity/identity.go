// Package identity supplies the caller's owner id to owner scoped operations.
package identity

import (
	"context"
	"errors"
	"strings"
)

// ErrUnauthenticated means no caller identity is available. It is never
// turned into an empty result.
var ErrUnauthenticated = errors.New("identity: caller is not authenticated")

// Provider resolves the current caller.
type Provider interface {
	OwnerID(ctx context.Context) (string, error)
}

type ownerKey struct{}

// WithOwner returns a context carrying ownerID.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// ContextProvider reads the owner placed on the context by WithOwner,
// typically by authentication middleware.
type ContextProvider struct{}

func (ContextProvider) OwnerID(ctx context.Context) (string, error) {
	if ctx == nil {
		return "", ErrUnauthenticated
	}
	owner, _ := ctx.Value(ownerKey{}).(string)
	return Require(owner)
}

// Static always returns the same owner. Useful for CLIs and tests.
type Static string

func (s Static) OwnerID(context.Context) (string, error) {
	return Require(string(s))
}

// Require turns a blank owner id into ErrUnauthenticated.
func Require(ownerID string) (string, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return "", ErrUnauthenticated
	}
	return ownerID, nil
}
