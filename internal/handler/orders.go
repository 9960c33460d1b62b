package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/webshop-saga/internal/domain/order"
)

func decodePlaceRequest(r *http.Request) (order.PlaceRequest, error) {
	var req order.PlaceRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "customerId":
			req.CustomerID, err = d.Str()
		case "totalAmount":
			req.Total, err = decodeDecimal(d)
		case "pointsToRedeem":
			req.PointsToRedeem, err = d.Int64()
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				it, err := decodeItem(d)
				req.Items = append(req.Items, order.Item{ProductID: it.productID, Quantity: it.quantity})
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

type itemDTO struct {
	productID int64
	quantity  int
}

func decodeItem(d *jx.Decoder) (itemDTO, error) {
	var it itemDTO
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			it.productID, err = d.Int64()
		case "quantity":
			it.quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return it, err
}

func encodeOrder(e *jx.Encoder, o *order.Order, message string) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("orderId", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("customerId", func(e *jx.Encoder) { e.Str(o.CustomerID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("outcome", func(e *jx.Encoder) { e.Str(o.Status.Outcome().String()) })
		e.Field("totalAmount", func(e *jx.Encoder) { encodeDecimal(e, o.Total) })
		e.Field("pointsToRedeem", func(e *jx.Encoder) { e.Int64(o.PointsToRedeem) })
		e.Field("pointsEarned", func(e *jx.Encoder) { e.Int64(o.PointsEarned) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Int64(it.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
					})
				}
			})
		})
		if o.NeedsReconciliation {
			e.Field("needsReconciliation", func(e *jx.Encoder) { e.Bool(true) })
			e.Field("reconciliationNote", func(e *jx.Encoder) { e.Str(o.ReconciliationNote) })
		}
		if !o.CreatedAt.IsZero() {
			e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
		}
		if !o.UpdatedAt.IsZero() {
			e.Field("updatedAt", func(e *jx.Encoder) { encodeTime(e, o.UpdatedAt) })
		}
		if message != "" {
			e.Field("message", func(e *jx.Encoder) { e.Str(message) })
		}
	})
}

// outcomeStatus maps a saga status to the HTTP status of its response.
func outcomeStatus(s order.Status, success int) int {
	switch s.Outcome() {
	case order.OutcomeSuccess:
		return success
	case order.OutcomeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeSagaResult answers place and confirm. Whenever an order exists the
// body carries it, whatever the outcome.
func writeSagaResult(w http.ResponseWriter, r *http.Request, o *order.Order, err error, success int) {
	if o == nil {
		writeError(w, r, err)
		return
	}
	status := outcomeStatus(o.Status, success)
	var message string
	if err != nil {
		var (
			terr *order.InvalidTransitionError
			ferr *order.FulfillmentError
		)
		switch {
		case errors.As(err, &terr):
			status, message = http.StatusConflict, terr.Error()
		case errors.As(err, &ferr):
			status, message = http.StatusInternalServerError, "fulfillment notification failed"
			zctx.From(r.Context()).Error("Confirm failed", zap.Error(err))
		default:
			code, msg := mapError(err)
			if code >= http.StatusInternalServerError {
				zctx.From(r.Context()).Error("Saga failed", zap.Error(err))
			}
			if status < http.StatusBadRequest {
				status = code
			}
			message = msg
		}
	}
	writeJSON(w, status, func(e *jx.Encoder) { encodeOrder(e, o, message) })
}

// PlaceOrder runs the checkout saga.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodePlaceRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.Place(r.Context(), req)
	writeSagaResult(w, r, o, err, http.StatusCreated)
}

// ConfirmOrder finalizes a placed order.
func (h *Handler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.Confirm(r.Context(), id)
	writeSagaResult(w, r, o, err, http.StatusOK)
}

// GetOrder returns one order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o, "") })
}

// ListOrders lists orders, filtered by the customer query parameter.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.List(r.Context(), r.URL.Query().Get("customer"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range orders {
				encodeOrder(e, &orders[i], "")
			}
		})
	})
}

// AdvanceOrder applies an operator status transition.
func (h *Handler) AdvanceOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
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
	to, err := order.ParseStatus(raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.AdvanceStatus(r.Context(), id, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o, "") })
}
