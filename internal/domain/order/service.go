package order

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/webshop-saga/internal/domain/invoice"
	"github.com/xenking/webshop-saga/internal/domain/loyalty"
	"github.com/xenking/webshop-saga/internal/events"
)

const instrumentation = "github.com/xenking/webshop-saga/internal/domain/order"

// Ledger is the loyalty capability the saga needs.
type Ledger interface {
	Redeem(ctx context.Context, customerID string, orderID, points int64) error
	Accrue(ctx context.Context, customerID string, orderID, points int64) (int64, error)
}

// Reserver reserves stock. A false result without error means insufficient
// stock.
type Reserver interface {
	Reserve(ctx context.Context, productID int64, quantity int) (bool, error)
}

// PointsCalculator computes the points an order earns.
type PointsCalculator interface {
	Points(amount decimal.Decimal, items []loyalty.Item) int64
}

// Notifier hands confirmed orders to the warehouse. Create is idempotent.
type Notifier interface {
	Create(ctx context.Context, orderID int64) (bool, error)
}

// PlaceRequest holds the input of a checkout.
type PlaceRequest struct {
	CustomerID     string
	Items          []Item
	Total          decimal.Decimal
	PointsToRedeem int64
}

func (r *PlaceRequest) validate() error {
	r.CustomerID = strings.TrimSpace(r.CustomerID)
	if r.CustomerID == "" {
		return ErrEmptyCustomer
	}
	if len(r.Items) == 0 {
		return ErrEmptyItems
	}
	for i, it := range r.Items {
		if it.ProductID <= 0 {
			return &InvalidItemError{Index: i, Reason: "product id must be positive"}
		}
		if it.Quantity <= 0 {
			return &InvalidItemError{Index: i, Reason: "quantity must be greater than 0"}
		}
	}
	if r.Total.IsNegative() {
		return ErrInvalidAmount
	}
	if r.PointsToRedeem < 0 {
		return ErrInvalidPoints
	}
	return nil
}

// Option configures a Service.
type Option func(*Service)

// WithTracerProvider sets the tracer provider for saga spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(instrumentation)
		}
	}
}

// WithMeterProvider sets the meter provider for saga counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) {
		if mp != nil {
			s.meter = mp.Meter(instrumentation)
		}
	}
}

// WithPublisher sets where saga events go.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

// WithInvoiceTerm overrides the payment term of invoices raised on confirm.
func WithInvoiceTerm(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.term = d
		}
	}
}

// Service is the saga coordinator. Steps of one saga run strictly in order
// and stop at the first failure; nothing is retried.
type Service struct {
	orders   Repository
	invoices invoice.Repository
	ledger   Ledger
	stock    Reserver
	points   PointsCalculator
	notifier Notifier

	events events.Publisher
	tracer trace.Tracer
	meter  metric.Meter
	term   time.Duration
	now    func() time.Time

	placed    metric.Int64Counter
	confirmed metric.Int64Counter
}

// NewService creates the order orchestrator.
func NewService(
	orders Repository,
	invoices invoice.Repository,
	ledger Ledger,
	stock Reserver,
	points PointsCalculator,
	notifier Notifier,
	opts ...Option,
) *Service {
	s := &Service{
		orders:   orders,
		invoices: invoices,
		ledger:   ledger,
		stock:    stock,
		points:   points,
		notifier: notifier,
		events:   events.Nop{},
		tracer:   tracenoop.NewTracerProvider().Tracer(instrumentation),
		meter:    metricnoop.NewMeterProvider().Meter(instrumentation),
		term:     invoice.DefaultTerm,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.placed, _ = s.meter.Int64Counter("saga.orders.placed",
		metric.WithDescription("Orders placed by final status"),
	)
	s.confirmed, _ = s.meter.Int64Counter("saga.orders.confirmed",
		metric.WithDescription("Confirm attempts by final status"),
	)
	return s
}

// Place runs the checkout saga. The order is persisted PENDING before any
// collaborator is called, so every attempt leaves an audit row. A returned
// order always carries its final status; an error is returned only for
// invalid input or when the order ends in ERROR.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (*Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "order.Place",
		trace.WithAttributes(
			attribute.String("customer.id", req.CustomerID),
			attribute.Int("order.items", len(req.Items)),
			attribute.Int64("order.points_to_redeem", req.PointsToRedeem),
		),
	)
	defer span.End()

	o := &Order{
		CustomerID:     req.CustomerID,
		Status:         StatusPending,
		Total:          req.Total.Truncate(2),
		PointsToRedeem: req.PointsToRedeem,
		Items:          append([]Item(nil), req.Items...),
	}
	if err := s.orders.Create(ctx, o); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order")
		return nil, errors.Wrap(err, "create order")
	}
	span.SetAttributes(attribute.Int64("order.id", o.ID))

	lg := zctx.From(ctx).With(
		zap.Int64("order_id", o.ID),
		zap.String("customer_id", o.CustomerID),
	)
	lg.Info("Order created", zap.String("status", string(o.Status)))

	err := s.place(ctx, lg, span, o)
	if err != nil {
		s.markError(ctx, lg, o, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "place order")
	}
	span.SetAttributes(attribute.String("order.status", string(o.Status)))
	s.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(o.Status))))
	s.publish(ctx, lg, events.TopicOrderPlaced, o.ID, PlacedEvent{Order: o})

	if err != nil {
		return o, errors.Wrapf(err, "place order %d", o.ID)
	}
	return o, nil
}

func (s *Service) place(ctx context.Context, lg *zap.Logger, span trace.Span, o *Order) error {
	redeemed := false
	if o.PointsToRedeem > 0 {
		if err := s.ledger.Redeem(ctx, o.CustomerID, o.ID, o.PointsToRedeem); err != nil {
			reason := "ledger_unavailable"
			if errors.Is(err, loyalty.ErrInsufficientPoints) {
				reason = "insufficient_points"
			}
			lg.Warn("Point redemption failed",
				zap.String("reason", reason),
				zap.Int64("points", o.PointsToRedeem),
				zap.Error(err),
			)
			span.AddEvent("points.redeem_failed", trace.WithAttributes(attribute.String("reason", reason)))
			return s.setStatus(ctx, lg, o, StatusRedemptionFailed)
		}
		redeemed = true
		span.AddEvent("points.redeemed")
	}

	for i, it := range o.Items {
		ok, err := s.stock.Reserve(ctx, it.ProductID, it.Quantity)
		if err == nil && ok {
			span.AddEvent("stock.reserved", trace.WithAttributes(
				attribute.Int64("product.id", it.ProductID),
				attribute.Int("quantity", it.Quantity),
			))
			continue
		}

		reason := "insufficient_stock"
		if err != nil {
			reason = "stock_unavailable"
		}
		lg.Warn("Stock reservation failed",
			zap.String("reason", reason),
			zap.Int("position", i),
			zap.Int64("product_id", it.ProductID),
			zap.Int("quantity", it.Quantity),
			zap.Error(err),
		)
		span.AddEvent("stock.reserve_failed", trace.WithAttributes(attribute.String("reason", reason)))

		if redeemed {
			if err := s.flagReconciliation(ctx, lg, o, reason); err != nil {
				return err
			}
		}
		return s.setStatus(ctx, lg, o, StatusRejected)
	}

	return s.setStatus(ctx, lg, o, StatusPendingConfirmation)
}

// flagReconciliation records that points were redeemed for an order that
// will not ship. The points are not refunded.
func (s *Service) flagReconciliation(ctx context.Context, lg *zap.Logger, o *Order, reason string) error {
	note := fmt.Sprintf("%d points redeemed, order rejected: %s", o.PointsToRedeem, reason)
	lg.Error("Points redeemed for rejected order, manual reconciliation required",
		zap.Bool("reconciliation", true),
		zap.Int64("points", o.PointsToRedeem),
		zap.String("reason", reason),
	)
	if err := s.orders.FlagReconciliation(ctx, o.ID, note); err != nil {
		return errors.Wrap(err, "flag reconciliation")
	}
	o.NeedsReconciliation = true
	o.ReconciliationNote = note
	s.publish(ctx, lg, events.TopicReconciliationRequired, o.ID, ReconciliationEvent{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Points:     o.PointsToRedeem,
		Reason:     reason,
	})
	return nil
}

// Confirm finalizes an order: CONFIRMED, invoice, point accrual, then the
// fulfillment record. A fulfillment failure leaves the order
// CONFIRMATION_FAILED and returns *FulfillmentError.
//
// Confirm may be repeated. Fulfillment and invoicing stay single per order
// but points are accrued on every call.
func (s *Service) Confirm(ctx context.Context, id int64) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Confirm",
		trace.WithAttributes(attribute.Int64("order.id", id)),
	)
	defer span.End()

	o, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "get order")
		return nil, errors.Wrapf(err, "get order %d", id)
	}
	if !o.Status.Confirmable() {
		return o, &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: StatusConfirmed}
	}

	lg := zctx.From(ctx).With(
		zap.Int64("order_id", o.ID),
		zap.String("customer_id", o.CustomerID),
	)

	awarded, created, err := s.confirm(ctx, lg, span, o)
	var ferr *FulfillmentError
	if err != nil && !errors.As(err, &ferr) {
		s.markError(ctx, lg, o, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirm order")
	}
	span.SetAttributes(attribute.String("order.status", string(o.Status)))
	s.confirmed.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(o.Status))))
	s.publish(ctx, lg, events.TopicOrderConfirmed, o.ID, ConfirmedEvent{
		Order:         o,
		PointsAwarded: awarded,
		Fulfillment:   created,
	})

	if err != nil {
		if ferr != nil {
			return o, ferr
		}
		return o, errors.Wrapf(err, "confirm order %d", o.ID)
	}
	return o, nil
}

func (s *Service) confirm(ctx context.Context, lg *zap.Logger, span trace.Span, o *Order) (awarded int64, created bool, err error) {
	if err := s.setStatus(ctx, lg, o, StatusConfirmed); err != nil {
		return 0, false, err
	}

	now := s.now()
	inv := &invoice.Invoice{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Amount:     o.Total,
		DueDate:    now.Add(s.term),
	}
	if err := s.invoices.Create(ctx, inv); err != nil {
		return 0, false, errors.Wrap(err, "create invoice")
	}
	span.AddEvent("invoice.created")

	points := s.points.Points(o.Total, loyaltyItems(o.Items))
	if points > 0 {
		if _, err := s.ledger.Accrue(ctx, o.CustomerID, o.ID, points); err != nil {
			// The order stays confirmed without points; accrual can be
			// replayed by an operator through the ledger.
			lg.Warn("Point accrual failed",
				zap.String("reason", "ledger_unavailable"),
				zap.Int64("points", points),
				zap.Error(err),
			)
			span.AddEvent("points.accrue_failed")
		} else {
			if err := s.orders.SetPointsEarned(ctx, o.ID, points); err != nil {
				return 0, false, errors.Wrap(err, "set points earned")
			}
			o.PointsEarned = points
			awarded = points
			span.AddEvent("points.accrued", trace.WithAttributes(attribute.Int64("points", points)))
		}
	}

	created, err = s.notifier.Create(ctx, o.ID)
	if err != nil {
		lg.Error("Fulfillment notification failed, operator attention required",
			zap.String("reason", "fulfillment_unavailable"),
			zap.Error(err),
		)
		if serr := s.setStatus(ctx, lg, o, StatusConfirmationFailed); serr != nil {
			return awarded, false, serr
		}
		return awarded, false, &FulfillmentError{OrderID: o.ID, Err: err}
	}
	span.AddEvent("fulfillment.notified", trace.WithAttributes(attribute.Bool("created", created)))
	return awarded, created, nil
}

// AdvanceStatus applies an operator transition such as CONFIRMED to PAID.
// Moving to PAID settles the order's invoice.
func (s *Service) AdvanceStatus(ctx context.Context, id int64, to Status) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "get order %d", id)
	}
	if o.Status == to {
		return o, nil
	}
	if !o.Status.CanAdvance(to) {
		return o, &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: to}
	}

	lg := zctx.From(ctx).With(zap.Int64("order_id", o.ID))
	from := o.Status
	if to == StatusPaid {
		if err := s.invoices.MarkPaidByOrder(ctx, o.ID); err != nil {
			return o, errors.Wrapf(err, "mark invoice paid for order %d", o.ID)
		}
	}
	if err := s.setStatus(ctx, lg, o, to); err != nil {
		return o, err
	}
	s.publish(ctx, lg, events.TopicOrderStatusChanged, o.ID, StatusChangedEvent{
		OrderID: o.ID,
		From:    from,
		To:      to,
	})
	return o, nil
}

// Get returns an order by id.
func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "get order %d", id)
	}
	return o, nil
}

// List returns a customer's orders, or all orders for an empty customerID.
func (s *Service) List(ctx context.Context, customerID string) ([]Order, error) {
	orders, err := s.orders.List(ctx, strings.TrimSpace(customerID))
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

func (s *Service) setStatus(ctx context.Context, lg *zap.Logger, o *Order, status Status) error {
	if err := s.orders.UpdateStatus(ctx, o.ID, status); err != nil {
		return errors.Wrapf(err, "set status %s", status)
	}
	lg.Info("Order status changed",
		zap.String("from", string(o.Status)),
		zap.String("to", string(status)),
	)
	o.Status = status
	return nil
}

// markError moves the order to ERROR. The write is best effort: the store
// that just failed may fail again.
func (s *Service) markError(ctx context.Context, lg *zap.Logger, o *Order, cause error) {
	lg.Error("Order saga failed", zap.String("status", string(o.Status)), zap.Error(cause))
	if err := s.orders.UpdateStatus(context.WithoutCancel(ctx), o.ID, StatusError); err != nil {
		lg.Error("Persist ERROR status", zap.Error(err))
	}
	o.Status = StatusError
}

func (s *Service) publish(ctx context.Context, lg *zap.Logger, topic string, orderID int64, p events.Payload) {
	ev := events.Event{
		Topic:   topic,
		Key:     strconv.FormatInt(orderID, 10),
		Payload: p,
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		lg.Warn("Publish event", zap.String("topic", topic), zap.Error(err))
	}
}

func loyaltyItems(items []Item) []loyalty.Item {
	out := make([]loyalty.Item, len(items))
	for i, it := range items {
		out[i] = loyalty.Item{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return out
}
