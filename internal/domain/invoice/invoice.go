// Package invoice holds invoices raised for confirmed orders and the credit
// checks computed from them.
package invoice

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTerm is the payment term of a new invoice.
const DefaultTerm = 30 * 24 * time.Hour

// Invoice is a payment request for one order.
type Invoice struct {
	ID         int64
	OrderID    int64
	CustomerID string
	Amount     decimal.Decimal
	DueDate    time.Time
	Paid       bool
	CreatedAt  time.Time
}

// Overdue reports whether the invoice is unpaid past its due date.
func (i Invoice) Overdue(now time.Time) bool {
	if i.Paid {
		return false
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, i.DueDate.Location())
	return i.DueDate.Before(today)
}

// Repository persists invoices. Create must keep at most one invoice per
// order and leave an existing one unchanged.
type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	ListByCustomer(ctx context.Context, customerID string) ([]Invoice, error)
	MarkPaidByOrder(ctx context.Context, orderID int64) error
}
