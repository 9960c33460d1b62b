package order

import (
	"github.com/go-faster/jx"

	"github.com/xenking/webshop-saga/internal/events"
)

// PlacedEvent is published when place finishes, whatever the outcome.
type PlacedEvent struct {
	Order *Order
}

func (PlacedEvent) EventType() string { return events.TopicOrderPlaced }

func (ev PlacedEvent) Encode(e *jx.Encoder) {
	o := ev.Order
	e.Obj(func(e *jx.Encoder) {
		e.Field("order_id", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("customer_id", func(e *jx.Encoder) { e.Str(o.CustomerID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("total", func(e *jx.Encoder) { e.Str(o.Total.StringFixed(2)) })
		e.Field("points_redeemed", func(e *jx.Encoder) { e.Int64(o.PointsToRedeem) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Int64(it.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
					})
				}
			})
		})
	})
}

// ConfirmedEvent is published after every confirm attempt.
type ConfirmedEvent struct {
	Order *Order
	// PointsAwarded is what this confirm accrued, which differs from
	// Order.PointsEarned only when accrual failed.
	PointsAwarded int64
	Fulfillment   bool
}

func (ConfirmedEvent) EventType() string { return events.TopicOrderConfirmed }

func (ev ConfirmedEvent) Encode(e *jx.Encoder) {
	o := ev.Order
	e.Obj(func(e *jx.Encoder) {
		e.Field("order_id", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("customer_id", func(e *jx.Encoder) { e.Str(o.CustomerID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("points_awarded", func(e *jx.Encoder) { e.Int64(ev.PointsAwarded) })
		e.Field("fulfillment_created", func(e *jx.Encoder) { e.Bool(ev.Fulfillment) })
	})
}

// StatusChangedEvent is published for operator-driven transitions.
type StatusChangedEvent struct {
	OrderID int64
	From    Status
	To      Status
}

func (StatusChangedEvent) EventType() string { return events.TopicOrderStatusChanged }

func (ev StatusChangedEvent) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("order_id", func(e *jx.Encoder) { e.Int64(ev.OrderID) })
		e.Field("from", func(e *jx.Encoder) { e.Str(string(ev.From)) })
		e.Field("to", func(e *jx.Encoder) { e.Str(string(ev.To)) })
	})
}

// ReconciliationEvent asks an operator to settle points redeemed for an
// order that was then rejected.
type ReconciliationEvent struct {
	OrderID    int64
	CustomerID string
	Points     int64
	Reason     string
}

func (ReconciliationEvent) EventType() string { return events.TopicReconciliationRequired }

func (ev ReconciliationEvent) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("order_id", func(e *jx.Encoder) { e.Int64(ev.OrderID) })
		e.Field("customer_id", func(e *jx.Encoder) { e.Str(ev.CustomerID) })
		e.Field("points", func(e *jx.Encoder) { e.Int64(ev.Points) })
		e.Field("reason", func(e *jx.Encoder) { e.Str(ev.Reason) })
	})
}
