package invoice

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DefaultCreditLimit is the outstanding amount a customer may owe.
var DefaultCreditLimit = decimal.NewFromInt(500)

// Credit summarizes a customer's unpaid invoices.
type Credit struct {
	CustomerID  string
	Outstanding decimal.Decimal
	Limit       decimal.Decimal
	WithinLimit bool
	HasOverdue  bool
}

// CreditService evaluates customer credit from invoices.
type CreditService struct {
	repo  Repository
	limit decimal.Decimal
	now   func() time.Time
}

// NewCreditService creates a CreditService. A non-positive limit falls back
// to DefaultCreditLimit.
func NewCreditService(repo Repository, limit decimal.Decimal) *CreditService {
	if !limit.IsPositive() {
		limit = DefaultCreditLimit
	}
	return &CreditService{repo: repo, limit: limit, now: time.Now}
}

// Check sums the customer's unpaid invoices and flags overdue ones.
func (s *CreditService) Check(ctx context.Context, customerID string) (Credit, error) {
	invoices, err := s.repo.ListByCustomer(ctx, customerID)
	if err != nil {
		return Credit{}, errors.Wrap(err, "list invoices")
	}

	now := s.now()
	c := Credit{CustomerID: customerID, Outstanding: decimal.Zero, Limit: s.limit}
	for _, inv := range invoices {
		if inv.Paid {
			continue
		}
		c.Outstanding = c.Outstanding.Add(inv.Amount)
		if inv.Overdue(now) {
			c.HasOverdue = true
		}
	}
	c.WithinLimit = c.Outstanding.LessThanOrEqual(s.limit)
	return c, nil
}

// Invoices lists the customer's invoices.
func (s *CreditService) Invoices(ctx context.Context, customerID string) ([]Invoice, error) {
	invoices, err := s.repo.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "list invoices")
	}
	return invoices, nil
}
