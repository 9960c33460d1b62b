package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/webshop-saga/internal/catalog"
	"github.com/xenking/webshop-saga/internal/domain/fulfillment"
	"github.com/xenking/webshop-saga/internal/domain/loyalty"
	"github.com/xenking/webshop-saga/internal/domain/order"
	"github.com/xenking/webshop-saga/internal/domain/stock"
)

// mapError translates domain errors to HTTP status codes.
func mapError(err error) (int, string) {
	var (
		badReq     *BadRequestError
		invItem    *order.InvalidItemError
		invStatus  *order.InvalidStatusError
		invUnit    *stock.InvalidUnitError
		invFStatus *fulfillment.InvalidStatusError
		invTrans   *order.InvalidTransitionError
	)
	switch {
	case errors.As(err, &badReq),
		errors.As(err, &invItem),
		errors.As(err, &invStatus),
		errors.As(err, &invUnit),
		errors.As(err, &invFStatus),
		errors.Is(err, order.ErrEmptyCustomer),
		errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrInvalidAmount),
		errors.Is(err, order.ErrInvalidPoints),
		errors.Is(err, loyalty.ErrEmptyCustomer),
		errors.Is(err, loyalty.ErrInvalidPoints),
		errors.Is(err, stock.ErrInvalidQuantity),
		errors.Is(err, stock.ErrEmptyDelivery),
		errors.Is(err, stock.ErrEmptySender):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, stock.ErrDeliveryNotFound),
		errors.Is(err, fulfillment.ErrNotFound),
		errors.Is(err, catalog.ErrNotCached):
		return http.StatusNotFound, err.Error()
	case errors.As(err, &invTrans),
		errors.Is(err, loyalty.ErrInsufficientPoints):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError logs server errors and writes the mapped response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	writeMessage(w, status, msg)
}
