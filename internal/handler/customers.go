package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
)

func customerParam(r *http.Request) (string, bool) {
	c := strings.TrimSpace(chi.URLParam(r, "customer"))
	return c, c != ""
}

// ListInvoices lists a customer's invoices.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	customer, ok := customerParam(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "customer required")
		return
	}
	invoices, err := h.credit.Invoices(r.Context(), customer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, inv := range invoices {
				e.Obj(func(e *jx.Encoder) {
					e.Field("id", func(e *jx.Encoder) { e.Int64(inv.ID) })
					e.Field("orderId", func(e *jx.Encoder) { e.Int64(inv.OrderID) })
					e.Field("amount", func(e *jx.Encoder) { encodeDecimal(e, inv.Amount) })
					e.Field("dueDate", func(e *jx.Encoder) { encodeDate(e, inv.DueDate) })
					e.Field("paid", func(e *jx.Encoder) { e.Bool(inv.Paid) })
				})
			}
		})
	})
}

// GetCredit reports a customer's outstanding amount against the limit.
func (h *Handler) GetCredit(w http.ResponseWriter, r *http.Request) {
	customer, ok := customerParam(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "customer required")
		return
	}
	c, err := h.credit.Check(r.Context(), customer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("customerId", func(e *jx.Encoder) { e.Str(c.CustomerID) })
			e.Field("outstanding", func(e *jx.Encoder) { encodeDecimal(e, c.Outstanding) })
			e.Field("limit", func(e *jx.Encoder) { encodeDecimal(e, c.Limit) })
			e.Field("withinLimit", func(e *jx.Encoder) { e.Bool(c.WithinLimit) })
			e.Field("hasOverdue", func(e *jx.Encoder) { e.Bool(c.HasOverdue) })
		})
	})
}
