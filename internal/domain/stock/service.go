package stock

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// Service is the stock reservation engine.
type Service struct {
	repo   Repository
	levels LevelPublisher
	locks  *keyedMutex
	now    func() time.Time

	reservations metric.Int64Counter
}

// NewService creates a reservation engine. levels may be nil when no catalog
// publication is configured.
func NewService(repo Repository, levels LevelPublisher, mp metric.MeterProvider) *Service {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter("github.com/xenking/webshop-saga/internal/domain/stock")
	reservations, _ := meter.Int64Counter("stock.reservations",
		metric.WithDescription("Stock reservation attempts by result"),
	)
	return &Service{
		repo:         repo,
		levels:       levels,
		locks:        newKeyedMutex(),
		now:          time.Now,
		reservations: reservations,
	}
}

// Reserve moves quantity New units of the product to Reserved. It returns
// false without touching any unit when fewer than quantity are available.
// Calls for the same product are serialized.
func (s *Service) Reserve(ctx context.Context, productID int64, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, ErrInvalidQuantity
	}

	ok, err := s.reserve(ctx, productID, quantity)
	if err != nil {
		s.record(ctx, "error")
		return false, err
	}
	if !ok {
		s.record(ctx, "insufficient")
		zctx.From(ctx).Info("Insufficient stock",
			zap.Int64("product_id", productID),
			zap.Int("quantity", quantity),
		)
		return false, nil
	}
	s.record(ctx, "reserved")
	s.publish(ctx, productID)
	return true, nil
}

func (s *Service) reserve(ctx context.Context, productID int64, quantity int) (bool, error) {
	unlock := s.locks.Lock(productID)
	defer unlock()

	available, err := s.repo.CountAvailable(ctx, productID)
	if err != nil {
		return false, errors.Wrapf(err, "count product %d", productID)
	}
	if available < quantity {
		return false, nil
	}

	n, err := s.repo.ReserveUnits(ctx, productID, quantity)
	if err != nil {
		return false, errors.Wrapf(err, "reserve product %d", productID)
	}
	return n == quantity, nil
}

// CountAvailable returns the number of New units of the product.
func (s *Service) CountAvailable(ctx context.Context, productID int64) (int, error) {
	n, err := s.repo.CountAvailable(ctx, productID)
	if err != nil {
		return 0, errors.Wrapf(err, "count product %d", productID)
	}
	return n, nil
}

// ReceiveDelivery records a delivery and its units in state New.
func (s *Service) ReceiveDelivery(ctx context.Context, sender string, units []Unit) (*Delivery, error) {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return nil, ErrEmptySender
	}
	if len(units) == 0 {
		return nil, ErrEmptyDelivery
	}

	d := &Delivery{Sender: sender, Units: make([]Unit, len(units))}
	for i, u := range units {
		u.SerialNumber = strings.TrimSpace(u.SerialNumber)
		if u.ProductID <= 0 || u.SerialNumber == "" {
			return nil, &InvalidUnitError{Index: i}
		}
		u.State = StateNew
		d.Units[i] = u
	}

	if err := s.repo.CreateDelivery(ctx, d); err != nil {
		return nil, errors.Wrap(err, "create delivery")
	}
	zctx.From(ctx).Info("Delivery received",
		zap.Int64("delivery_id", d.ID),
		zap.String("sender", d.Sender),
		zap.Int("units", len(d.Units)),
	)

	for _, id := range productIDs(d.Units) {
		s.publish(ctx, id)
	}
	return d, nil
}

// GetDelivery returns a delivery with its units.
func (s *Service) GetDelivery(ctx context.Context, id int64) (*Delivery, error) {
	d, err := s.repo.GetDelivery(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDeliveryNotFound) {
			return nil, ErrDeliveryNotFound
		}
		return nil, errors.Wrapf(err, "get delivery %d", id)
	}
	return d, nil
}

// ListDeliveries returns all deliveries, newest first.
func (s *Service) ListDeliveries(ctx context.Context) ([]Delivery, error) {
	list, err := s.repo.ListDeliveries(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list deliveries")
	}
	return list, nil
}

// DeleteDelivery removes a delivery and, with it, all of its units whatever
// their state. Reserved units are not handed back to any order.
func (s *Service) DeleteDelivery(ctx context.Context, id int64) error {
	products, err := s.repo.DeleteDelivery(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDeliveryNotFound) {
			return ErrDeliveryNotFound
		}
		return errors.Wrapf(err, "delete delivery %d", id)
	}
	zctx.From(ctx).Info("Delivery deleted", zap.Int64("delivery_id", id))

	for _, p := range products {
		s.publish(ctx, p)
	}
	return nil
}

// publish recounts the product and hands the level to the catalog publisher.
// Failures are logged only.
func (s *Service) publish(ctx context.Context, productID int64) {
	if s.levels == nil {
		return
	}
	lg := zctx.From(ctx).With(zap.Int64("product_id", productID))

	// Stamp and count under the product lock so a later At never carries
	// an older count.
	unlock := s.locks.Lock(productID)
	at := s.now()
	n, err := s.repo.CountAvailable(ctx, productID)
	unlock()
	if err != nil {
		lg.Warn("Count for stock level failed", zap.Error(err))
		return
	}
	level := Level{ProductID: productID, Available: n, At: at}
	if err := s.levels.PublishLevel(ctx, level); err != nil {
		lg.Warn("Publish stock level failed", zap.Error(err))
	}
}

func (s *Service) record(ctx context.Context, result string) {
	if s.reservations == nil {
		return
	}
	s.reservations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func productIDs(units []Unit) []int64 {
	seen := make(map[int64]struct{}, len(units))
	var ids []int64
	for _, u := range units {
		if _, ok := seen[u.ProductID]; ok {
			continue
		}
		seen[u.ProductID] = struct{}{}
		ids = append(ids, u.ProductID)
	}
	return ids
}
