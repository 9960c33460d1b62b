// Package handler serves the HTTP API over the saga and its collaborators.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/webshop-saga/internal/domain/fulfillment"
	"github.com/xenking/webshop-saga/internal/domain/invoice"
	"github.com/xenking/webshop-saga/internal/domain/loyalty"
	"github.com/xenking/webshop-saga/internal/domain/order"
	"github.com/xenking/webshop-saga/internal/domain/stock"
)

// OrderService is the saga coordinator.
type OrderService interface {
	Place(ctx context.Context, req order.PlaceRequest) (*order.Order, error)
	Confirm(ctx context.Context, id int64) (*order.Order, error)
	Get(ctx context.Context, id int64) (*order.Order, error)
	List(ctx context.Context, customerID string) ([]order.Order, error)
	AdvanceStatus(ctx context.Context, id int64, to order.Status) (*order.Order, error)
}

// LoyaltyService is the point ledger.
type LoyaltyService interface {
	Redeem(ctx context.Context, customerID string, orderID, points int64) error
	Accrue(ctx context.Context, customerID string, orderID, points int64) (int64, error)
	Balance(ctx context.Context, customerID string) (loyalty.Balance, error)
	TotalIssued(ctx context.Context) (int64, error)
	Calculate(amount decimal.Decimal, items []loyalty.Item) loyalty.Calculation
	ActiveRules() []loyalty.Rule
	SetForceJanuary(ctx context.Context, on bool)
	ForceJanuary() bool
}

// StockService is the reservation engine.
type StockService interface {
	Reserve(ctx context.Context, productID int64, quantity int) (bool, error)
	CountAvailable(ctx context.Context, productID int64) (int, error)
	ReceiveDelivery(ctx context.Context, sender string, units []stock.Unit) (*stock.Delivery, error)
	GetDelivery(ctx context.Context, id int64) (*stock.Delivery, error)
	ListDeliveries(ctx context.Context) ([]stock.Delivery, error)
	DeleteDelivery(ctx context.Context, id int64) error
}

// FulfillmentService is the fulfillment notifier.
type FulfillmentService interface {
	Create(ctx context.Context, orderID int64) (bool, error)
	UpdateStatus(ctx context.Context, orderID int64, status fulfillment.Status) error
	List(ctx context.Context) ([]fulfillment.Record, error)
}

// CreditService answers invoice and credit queries.
type CreditService interface {
	Check(ctx context.Context, customerID string) (invoice.Credit, error)
	Invoices(ctx context.Context, customerID string) ([]invoice.Invoice, error)
}

// LevelReader reads cached catalog stock levels.
type LevelReader interface {
	Level(ctx context.Context, productID int64) (stock.Level, error)
}

// Deps holds the services the handler delegates to.
type Deps struct {
	Orders      OrderService
	Loyalty     LoyaltyService
	Stock       StockService
	Fulfillment FulfillmentService
	Credit      CreditService
	Levels      LevelReader
}

// Handler implements the HTTP API.
type Handler struct {
	orders      OrderService
	loyalty     LoyaltyService
	stock       StockService
	fulfillment FulfillmentService
	credit      CreditService
	levels      LevelReader
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		orders:      deps.Orders,
		loyalty:     deps.Loyalty,
		stock:       deps.Stock,
		fulfillment: deps.Fulfillment,
		credit:      deps.Credit,
		levels:      deps.Levels,
	}
}

// Router returns the API routes mounted under /api. Mutating operations
// are wrapped with guard.
func (h *Handler) Router(guard func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Get("/customers/{customer}/invoices", h.ListInvoices)
		r.Get("/customers/{customer}/credit", h.GetCredit)
		r.Get("/loyalty/{customer}/balance", h.GetBalance)
		r.Get("/loyalty/rules", h.GetRules)
		r.Post("/loyalty/calculate", h.CalculatePoints)
		r.Get("/loyalty/stats", h.GetLoyaltyStats)
		r.Get("/stock/{productId}", h.GetStock)
		r.Get("/catalog/stock/{productId}", h.GetCatalogStock)
		r.Get("/deliveries", h.ListDeliveries)
		r.Get("/deliveries/{id}", h.GetDelivery)
		r.Get("/fulfillment", h.ListFulfillment)

		r.Group(func(r chi.Router) {
			if guard != nil {
				r.Use(guard)
			}
			r.Post("/orders/{id}/confirm", h.ConfirmOrder)
			r.Post("/orders/{id}/status", h.AdvanceOrder)
			r.Post("/loyalty/redeem", h.RedeemPoints)
			r.Post("/loyalty/accrue", h.AccruePoints)
			r.Put("/loyalty/bonus", h.SetBonus)
			r.Post("/stock/reserve", h.ReserveStock)
			r.Post("/deliveries", h.CreateDelivery)
			r.Delete("/deliveries/{id}", h.DeleteDelivery)
			r.Post("/fulfillment", h.CreateFulfillment)
			r.Post("/fulfillment/{orderId}/status", h.UpdateFulfillment)
		})
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
