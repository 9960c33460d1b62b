package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/webshop-saga/internal/domain/stock"
)

func encodeDelivery(e *jx.Encoder, d *stock.Delivery, withUnits bool) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(d.ID) })
		e.Field("sender", func(e *jx.Encoder) { e.Str(d.Sender) })
		e.Field("receivedAt", func(e *jx.Encoder) { encodeTime(e, d.ReceivedAt) })
		if !withUnits {
			return
		}
		e.Field("units", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, u := range d.Units {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Int64(u.ID) })
						e.Field("productId", func(e *jx.Encoder) { e.Int64(u.ProductID) })
						e.Field("serialNumber", func(e *jx.Encoder) { e.Str(u.SerialNumber) })
						e.Field("state", func(e *jx.Encoder) { e.Str(u.State) })
					})
				}
			})
		})
	})
}

func encodeLevel(e *jx.Encoder, lvl stock.Level) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("productId", func(e *jx.Encoder) { e.Int64(lvl.ProductID) })
		e.Field("available", func(e *jx.Encoder) { e.Int(lvl.Available) })
		if !lvl.At.IsZero() {
			e.Field("at", func(e *jx.Encoder) { encodeTime(e, lvl.At) })
		}
	})
}

// GetStock returns the live available count of a product.
func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "productId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := h.stock.CountAvailable(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeLevel(e, stock.Level{ProductID: id, Available: n})
	})
}

// GetCatalogStock returns the level last published to the catalog cache.
func (h *Handler) GetCatalogStock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "productId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.levels == nil {
		writeMessage(w, http.StatusNotFound, "catalog cache not configured")
		return
	}
	lvl, err := h.levels.Level(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeLevel(e, lvl) })
}

// ReserveStock reserves units outside the saga. Insufficient stock is a
// conflict.
func (h *Handler) ReserveStock(w http.ResponseWriter, r *http.Request) {
	var it itemDTO
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
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
	if err != nil {
		writeError(w, r, err)
		return
	}
	if it.productID <= 0 {
		writeMessage(w, http.StatusBadRequest, "productId must be positive")
		return
	}
	ok, err := h.stock.Reserve(r.Context(), it.productID, it.quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("productId", func(e *jx.Encoder) { e.Int64(it.productID) })
			e.Field("quantity", func(e *jx.Encoder) { e.Int(it.quantity) })
			e.Field("reserved", func(e *jx.Encoder) { e.Bool(ok) })
		})
	})
}

// ListDeliveries lists deliveries without their units.
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	list, err := h.stock.ListDeliveries(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range list {
				encodeDelivery(e, &list[i], false)
			}
		})
	})
}

// GetDelivery returns a delivery with its units.
func (h *Handler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := h.stock.GetDelivery(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeDelivery(e, d, true) })
}

// CreateDelivery receives a delivery of serialized units.
func (h *Handler) CreateDelivery(w http.ResponseWriter, r *http.Request) {
	var (
		sender string
		units  []stock.Unit
	)
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "sender":
			sender, err = d.Str()
		case "units":
			err = d.Arr(func(d *jx.Decoder) error {
				var u stock.Unit
				err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "productId":
						u.ProductID, err = d.Int64()
					case "serialNumber":
						u.SerialNumber, err = d.Str()
					default:
						err = d.Skip()
					}
					return err
				})
				units = append(units, u)
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
	d, err := h.stock.ReceiveDelivery(r.Context(), sender, units)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeDelivery(e, d, true) })
}

// DeleteDelivery removes a delivery and its units.
func (h *Handler) DeleteDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.stock.DeleteDelivery(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
