// Package fulfillment keeps the warehouse's record of orders that need
// picking and shipping.
package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Status is the picking state of a fulfillment record.
type Status string

// Record statuses.
const (
	StatusPending Status = "PENDING"
	StatusShipped Status = "SHIPPED"
)

// ErrNotFound is returned when no record exists for an order.
var ErrNotFound = errors.New("fulfillment record not found")

// InvalidStatusError indicates an unknown fulfillment status.
type InvalidStatusError struct {
	Status string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid fulfillment status %q", e.Status)
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusShipped:
		return st, nil
	default:
		return "", &InvalidStatusError{Status: s}
	}
}

// Record is the fulfillment entry for one order.
type Record struct {
	OrderID   int64
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository persists fulfillment records. Create must be a no-op returning
// false when a record for the order already exists.
type Repository interface {
	Create(ctx context.Context, orderID int64) (bool, error)
	UpdateStatus(ctx context.Context, orderID int64, status Status) error
	List(ctx context.Context) ([]Record, error)
}

// Service is the fulfillment notifier.
type Service struct {
	repo Repository
}

// NewService creates a fulfillment Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create registers an order for fulfillment. Repeated calls for the same
// order succeed and report created=false.
func (s *Service) Create(ctx context.Context, orderID int64) (bool, error) {
	created, err := s.repo.Create(ctx, orderID)
	if err != nil {
		return false, errors.Wrapf(err, "create fulfillment for order %d", orderID)
	}
	lg := zctx.From(ctx).With(zap.Int64("order_id", orderID))
	if created {
		lg.Info("Fulfillment record created")
	} else {
		lg.Info("Fulfillment record already exists")
	}
	return created, nil
}

// UpdateStatus changes the status of an existing record.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, status Status) error {
	if _, err := ParseStatus(string(status)); err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, orderID, status); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return errors.Wrapf(err, "update fulfillment for order %d", orderID)
	}
	zctx.From(ctx).Info("Fulfillment status updated",
		zap.Int64("order_id", orderID),
		zap.String("status", string(status)),
	)
	return nil
}

// List returns all records, newest first.
func (s *Service) List(ctx context.Context) ([]Record, error) {
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list fulfillment")
	}
	return list, nil
}
