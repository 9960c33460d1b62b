// Package order implements the checkout saga: placing an order redeems
// points and reserves stock, confirming it invoices, accrues points and
// hands the order to fulfillment.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the saga state of an order.
type Status string

// Order statuses.
const (
	StatusPending             Status = "PENDING"
	StatusRedemptionFailed    Status = "REDEMPTION_FAILED"
	StatusRejected            Status = "REJECTED"
	StatusPendingConfirmation Status = "PENDING_CONFIRMATION"
	StatusConfirmed           Status = "CONFIRMED"
	StatusConfirmationFailed  Status = "CONFIRMATION_FAILED"
	StatusError               Status = "ERROR"
	StatusPaid                Status = "PAID"
	StatusShipped             Status = "SHIPPED"
)

// Outcome classifies a status for callers.
type Outcome int

// Outcomes.
const (
	OutcomeSuccess Outcome = iota
	OutcomeConflict
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeConflict:
		return "conflict"
	default:
		return "error"
	}
}

// Outcome reports how the status should be surfaced to a caller.
func (s Status) Outcome() Outcome {
	switch s {
	case StatusPending, StatusPendingConfirmation, StatusConfirmed, StatusPaid, StatusShipped:
		return OutcomeSuccess
	case StatusRedemptionFailed, StatusRejected:
		return OutcomeConflict
	default:
		return OutcomeError
	}
}

// externalTransitions lists the moves allowed through AdvanceStatus.
var externalTransitions = map[Status][]Status{
	StatusConfirmed: {StatusPaid, StatusShipped},
	StatusShipped:   {StatusPaid},
	StatusPaid:      {StatusShipped},
}

// CanAdvance reports whether an operator may move an order from s to next.
func (s Status) CanAdvance(next Status) bool {
	for _, to := range externalTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Confirmable reports whether confirm may run from s. Re-running confirm on
// a confirmed or half-confirmed order is allowed.
func (s Status) Confirmable() bool {
	switch s {
	case StatusPendingConfirmation, StatusConfirmed, StatusConfirmationFailed:
		return true
	default:
		return false
	}
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusRedemptionFailed, StatusRejected, StatusPendingConfirmation,
		StatusConfirmed, StatusConfirmationFailed, StatusError, StatusPaid, StatusShipped:
		return st, nil
	default:
		return "", &InvalidStatusError{Status: s}
	}
}

// Item is one line of an order.
type Item struct {
	ProductID int64
	Quantity  int
}

// Order is a checkout attempt and its saga state. Orders are never deleted.
type Order struct {
	ID                  int64
	CustomerID          string
	Status              Status
	Total               decimal.Decimal
	PointsToRedeem      int64
	PointsEarned        int64
	Items               []Item
	NeedsReconciliation bool
	ReconciliationNote  string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Sentinel errors.
var (
	ErrNotFound      = errors.New("order not found")
	ErrEmptyCustomer = errors.New("customer id required")
	ErrEmptyItems    = errors.New("items required")
	ErrInvalidAmount = errors.New("total amount must not be negative")
	ErrInvalidPoints = errors.New("points to redeem must not be negative")
)

// InvalidItemError indicates a line item with a bad product or quantity.
type InvalidItemError struct {
	Index  int
	Reason string
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("item %d: %s", e.Index, e.Reason)
}

// InvalidStatusError indicates an unknown status name.
type InvalidStatusError struct {
	Status string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid order status %q", e.Status)
}

// InvalidTransitionError indicates a status change the state machine forbids.
type InvalidTransitionError struct {
	OrderID int64
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %d: cannot move from %s to %s", e.OrderID, e.From, e.To)
}

// FulfillmentError is returned by Confirm when the order was confirmed but
// could not be handed to fulfillment. The order is left CONFIRMATION_FAILED.
type FulfillmentError struct {
	OrderID int64
	Err     error
}

func (e *FulfillmentError) Error() string {
	return fmt.Sprintf("order %d: notify fulfillment: %v", e.OrderID, e.Err)
}

func (e *FulfillmentError) Unwrap() error { return e.Err }

// Repository persists orders.
type Repository interface {
	// Create stores the order with its items in one transaction and sets ID,
	// CreatedAt and UpdatedAt.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id int64) (*Order, error)
	// List returns orders newest first. An empty customerID lists all.
	List(ctx context.Context, customerID string) ([]Order, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	SetPointsEarned(ctx context.Context, id int64, points int64) error
	FlagReconciliation(ctx context.Context, id int64, note string) error
}
