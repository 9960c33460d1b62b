package loyalty

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultPointsPerEuro is how many points make up one EUR of balance value.
const DefaultPointsPerEuro = 10

// ErrEmptyCustomer is returned when no customer identifier is given.
var ErrEmptyCustomer = errors.New("customer id required")

// Calculation is a preview of the points an order would earn.
type Calculation struct {
	Points int64
	Rules  []Rule
}

// Service is the loyalty ledger. It owns the January override flag and hands
// it to Evaluate explicitly on every call.
type Service struct {
	repo          Repository
	pointsPerEuro decimal.Decimal
	forceJanuary  atomic.Bool
	now           func() time.Time
}

// NewService creates a ledger Service. A pointsPerEuro below 1 falls back to
// DefaultPointsPerEuro.
func NewService(repo Repository, pointsPerEuro int, forceJanuary bool) *Service {
	if pointsPerEuro < 1 {
		pointsPerEuro = DefaultPointsPerEuro
	}
	s := &Service{
		repo:          repo,
		pointsPerEuro: decimal.NewFromInt(int64(pointsPerEuro)),
		now:           time.Now,
	}
	s.forceJanuary.Store(forceJanuary)
	return s
}

// Redeem subtracts points from the customer's balance. It fails with
// ErrInsufficientPoints and leaves the balance untouched when the customer
// holds fewer points than requested.
func (s *Service) Redeem(ctx context.Context, customerID string, orderID, points int64) error {
	if err := validate(customerID, points); err != nil {
		return err
	}
	if err := s.repo.Redeem(ctx, customerID, orderID, points); err != nil {
		if errors.Is(err, ErrInsufficientPoints) {
			return ErrInsufficientPoints
		}
		return errors.Wrap(err, "redeem points")
	}
	zctx.From(ctx).Info("Points redeemed",
		zap.String("customer_id", customerID),
		zap.Int64("order_id", orderID),
		zap.Int64("points", points),
	)
	return nil
}

// Accrue adds points to the customer's balance and returns the points awarded.
func (s *Service) Accrue(ctx context.Context, customerID string, orderID, points int64) (int64, error) {
	if err := validate(customerID, points); err != nil {
		return 0, err
	}
	balance, err := s.repo.Accrue(ctx, customerID, orderID, points)
	if err != nil {
		return 0, errors.Wrap(err, "accrue points")
	}
	zctx.From(ctx).Info("Points accrued",
		zap.String("customer_id", customerID),
		zap.Int64("order_id", orderID),
		zap.Int64("points", points),
		zap.Int64("balance", balance),
	)
	return points, nil
}

// Balance returns the customer's points and their EUR value. Unknown
// customers have a zero balance.
func (s *Service) Balance(ctx context.Context, customerID string) (Balance, error) {
	if strings.TrimSpace(customerID) == "" {
		return Balance{}, ErrEmptyCustomer
	}
	points, err := s.repo.Points(ctx, customerID)
	if err != nil {
		return Balance{}, errors.Wrap(err, "get balance")
	}
	return Balance{
		CustomerID: customerID,
		Points:     points,
		Value:      decimal.NewFromInt(points).Div(s.pointsPerEuro).Round(2),
	}, nil
}

// TotalIssued returns the sum of all points ever accrued.
func (s *Service) TotalIssued(ctx context.Context) (int64, error) {
	total, err := s.repo.TotalIssued(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "total issued")
	}
	return total, nil
}

// Points evaluates the bonus rules for an order at the current time.
func (s *Service) Points(amount decimal.Decimal, items []Item) int64 {
	return Evaluate(amount, items, s.now(), s.options())
}

// Calculate previews the points for an order together with the active rules.
func (s *Service) Calculate(amount decimal.Decimal, items []Item) Calculation {
	now, opts := s.now(), s.options()
	return Calculation{
		Points: Evaluate(amount, items, now, opts),
		Rules:  Rules(now, opts),
	}
}

// ActiveRules lists the rules for the current date.
func (s *Service) ActiveRules() []Rule {
	return Rules(s.now(), s.options())
}

// SetForceJanuary toggles the January override.
func (s *Service) SetForceJanuary(ctx context.Context, on bool) {
	s.forceJanuary.Store(on)
	zctx.From(ctx).Info("January bonus override changed", zap.Bool("force_january", on))
}

// ForceJanuary reports whether the January override is set.
func (s *Service) ForceJanuary() bool {
	return s.forceJanuary.Load()
}

func (s *Service) options() BonusOptions {
	return BonusOptions{ForceJanuary: s.forceJanuary.Load()}
}

func validate(customerID string, points int64) error {
	if strings.TrimSpace(customerID) == "" {
		return ErrEmptyCustomer
	}
	if points <= 0 {
		return ErrInvalidPoints
	}
	return nil
}
