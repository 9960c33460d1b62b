package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/webshop-saga/internal/domain/fulfillment"
	"github.com/xenking/webshop-saga/internal/domain/order"
)

// ListFulfillment lists fulfillment records.
func (h *Handler) ListFulfillment(w http.ResponseWriter, r *http.Request) {
	list, err := h.fulfillment.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, rec := range list {
				e.Obj(func(e *jx.Encoder) {
					e.Field("orderId", func(e *jx.Encoder) { e.Int64(rec.OrderID) })
					e.Field("status", func(e *jx.Encoder) { e.Str(string(rec.Status)) })
					e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, rec.CreatedAt) })
					e.Field("updatedAt", func(e *jx.Encoder) { encodeTime(e, rec.UpdatedAt) })
				})
			}
		})
	})
}

// CreateFulfillment registers an order for fulfillment. Repeating it is
// harmless and answers 200 instead of 201.
func (h *Handler) CreateFulfillment(w http.ResponseWriter, r *http.Request) {
	var orderID int64
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "orderId" {
			return d.Skip()
		}
		var err error
		orderID, err = d.Int64()
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if orderID <= 0 {
		writeMessage(w, http.StatusBadRequest, "orderId must be positive")
		return
	}
	created, err := h.fulfillment.Create(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orderId", func(e *jx.Encoder) { e.Int64(orderID) })
			e.Field("created", func(e *jx.Encoder) { e.Bool(created) })
		})
	})
}

// UpdateFulfillment changes a record's status. Shipping a record also
// advances its order to SHIPPED.
func (h *Handler) UpdateFulfillment(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var raw string
	err = decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		var err error
		raw, err = d.Str()
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	status, err := fulfillment.ParseStatus(raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// The order is checked before the record changes, so a refused
	// transition leaves the record untouched.
	ship := status == fulfillment.StatusShipped
	if ship {
		o, err := h.orders.Get(r.Context(), orderID)
		switch {
		case errors.Is(err, order.ErrNotFound):
			zctx.From(r.Context()).Warn("Shipped record has no order", zap.Int64("order_id", orderID))
			ship = false
		case err != nil:
			writeError(w, r, err)
			return
		case !o.Status.CanAdvance(order.StatusShipped):
			writeError(w, r, &order.InvalidTransitionError{OrderID: orderID, From: o.Status, To: order.StatusShipped})
			return
		}
	}

	if err := h.fulfillment.UpdateStatus(r.Context(), orderID, status); err != nil {
		writeError(w, r, err)
		return
	}
	if ship {
		if _, err := h.orders.AdvanceStatus(r.Context(), orderID, order.StatusShipped); err != nil {
			writeError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orderId", func(e *jx.Encoder) { e.Int64(orderID) })
			e.Field("status", func(e *jx.Encoder) { e.Str(string(status)) })
		})
	})
}
