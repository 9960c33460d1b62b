package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIKeyInfo_Allows(t *testing.T) {
	unrestricted := &APIKeyInfo{ID: "root"}
	assert.True(t, unrestricted.Allows(ScopeOrders))
	assert.True(t, unrestricted.Allows(ScopeFulfillment))

	warehouse := &APIKeyInfo{ID: "wh", Scopes: []string{ScopeStock, ScopeFulfillment}}
	assert.True(t, warehouse.Allows(ScopeStock))
	assert.True(t, warehouse.Allows(ScopeFulfillment))
	assert.False(t, warehouse.Allows(ScopeOrders))
	assert.False(t, warehouse.Allows(ScopeLoyalty))
	assert.True(t, warehouse.Allows(""), "unscoped routes are open to any key")
}
