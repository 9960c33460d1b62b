// Package loyalty holds the customer point ledger and the bonus rules used
// to award points for confirmed orders.
package loyalty

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrInsufficientPoints is returned when a redemption exceeds the balance.
var ErrInsufficientPoints = errors.New("insufficient loyalty points")

// ErrInvalidPoints is returned for zero or negative point amounts.
var ErrInvalidPoints = errors.New("points must be greater than 0")

// Item is the part of an order line the bonus rules look at.
type Item struct {
	ProductID int64
	Quantity  int
}

// Balance is a customer's current point count and its monetary value.
type Balance struct {
	CustomerID string
	Points     int64
	Value      decimal.Decimal
}

// Repository persists balances and their audit trail.
//
// Redeem must decrement conditionally in a single statement so a balance never
// goes negative; it returns ErrInsufficientPoints when the row was not updated.
type Repository interface {
	Redeem(ctx context.Context, customerID string, orderID, points int64) error
	Accrue(ctx context.Context, customerID string, orderID, points int64) (int64, error)
	Points(ctx context.Context, customerID string) (int64, error)
	TotalIssued(ctx context.Context) (int64, error)
}
