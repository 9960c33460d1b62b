package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/webshop-saga/internal/domain/loyalty"
)

type pointsRequest struct {
	customerID string
	orderID    int64
	points     int64
}

func decodePointsRequest(r *http.Request) (pointsRequest, error) {
	var req pointsRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "customerId":
			req.customerID, err = d.Str()
		case "orderId":
			req.orderID, err = d.Int64()
		case "points":
			req.points, err = d.Int64()
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

func encodeRules(e *jx.Encoder, rules []loyalty.Rule) {
	e.Arr(func(e *jx.Encoder) {
		for _, rule := range rules {
			e.Obj(func(e *jx.Encoder) {
				e.Field("name", func(e *jx.Encoder) { e.Str(rule.Name) })
				e.Field("description", func(e *jx.Encoder) { e.Str(rule.Description) })
				e.Field("multiplier", func(e *jx.Encoder) { e.Num(jx.Num(rule.Multiplier.String())) })
			})
		}
	})
}

// GetBalance returns a customer's points and their value.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.loyalty.Balance(r.Context(), chi.URLParam(r, "customer"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("customerId", func(e *jx.Encoder) { e.Str(b.CustomerID) })
			e.Field("points", func(e *jx.Encoder) { e.Int64(b.Points) })
			e.Field("value", func(e *jx.Encoder) { encodeDecimal(e, b.Value) })
		})
	})
}

// GetRules lists the bonus rules active today.
func (h *Handler) GetRules(w http.ResponseWriter, r *http.Request) {
	rules := h.loyalty.ActiveRules()
	force := h.loyalty.ForceJanuary()
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("forceJanuary", func(e *jx.Encoder) { e.Bool(force) })
			e.Field("rules", func(e *jx.Encoder) { encodeRules(e, rules) })
		})
	})
}

// CalculatePoints previews the points an order would earn.
func (h *Handler) CalculatePoints(w http.ResponseWriter, r *http.Request) {
	var (
		amount = decimal.Zero
		items  []loyalty.Item
	)
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "amount":
			amount, err = decodeDecimal(d)
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				it, err := decodeItem(d)
				items = append(items, loyalty.Item{ProductID: it.productID, Quantity: it.quantity})
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if amount.IsNegative() {
		writeMessage(w, http.StatusBadRequest, "amount must not be negative")
		return
	}

	calc := h.loyalty.Calculate(amount, items)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("points", func(e *jx.Encoder) { e.Int64(calc.Points) })
			e.Field("rules", func(e *jx.Encoder) { encodeRules(e, calc.Rules) })
		})
	})
}

// GetLoyaltyStats reports the total points issued.
func (h *Handler) GetLoyaltyStats(w http.ResponseWriter, r *http.Request) {
	total, err := h.loyalty.TotalIssued(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("totalIssued", func(e *jx.Encoder) { e.Int64(total) })
		})
	})
}

// RedeemPoints subtracts points from a balance.
func (h *Handler) RedeemPoints(w http.ResponseWriter, r *http.Request) {
	req, err := decodePointsRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.loyalty.Redeem(r.Context(), req.customerID, req.orderID, req.points); err != nil {
		writeError(w, r, err)
		return
	}
	h.writeBalance(w, r, req.customerID, "pointsRedeemed", req.points)
}

// AccruePoints adds points to a balance.
func (h *Handler) AccruePoints(w http.ResponseWriter, r *http.Request) {
	req, err := decodePointsRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	awarded, err := h.loyalty.Accrue(r.Context(), req.customerID, req.orderID, req.points)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeBalance(w, r, req.customerID, "pointsAwarded", awarded)
}

func (h *Handler) writeBalance(w http.ResponseWriter, r *http.Request, customerID, field string, points int64) {
	b, err := h.loyalty.Balance(r.Context(), customerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("customerId", func(e *jx.Encoder) { e.Str(b.CustomerID) })
			e.Field(field, func(e *jx.Encoder) { e.Int64(points) })
			e.Field("balance", func(e *jx.Encoder) { e.Int64(b.Points) })
		})
	})
}

// SetBonus toggles the January bonus override.
func (h *Handler) SetBonus(w http.ResponseWriter, r *http.Request) {
	var (
		force bool
		seen  bool
	)
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "forceJanuary" {
			return d.Skip()
		}
		seen = true
		var err error
		force, err = d.Bool()
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !seen {
		writeMessage(w, http.StatusBadRequest, "forceJanuary required")
		return
	}
	h.loyalty.SetForceJanuary(r.Context(), force)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("forceJanuary", func(e *jx.Encoder) { e.Bool(h.loyalty.ForceJanuary()) })
		})
	})
}
