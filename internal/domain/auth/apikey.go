// Package auth models the API keys operators use for mutating calls.
package auth

import (
	"context"
	"slices"
)

// Scopes an API key can be granted. Each guards one area of the API.
const (
	ScopeOrders      = "orders"
	ScopeStock       = "stock"
	ScopeLoyalty     = "loyalty"
	ScopeFulfillment = "fulfillment"
)

// APIKeyInfo holds the identity and grants of a stored API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// Allows reports whether the key may act on scope. A key without scopes is
// unrestricted.
func (k *APIKeyInfo) Allows(scope string) bool {
	if len(k.Scopes) == 0 || scope == "" {
		return true
	}
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
