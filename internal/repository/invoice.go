package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/webshop-saga/internal/domain/invoice"
)

const (
	createInvoiceSQL = `INSERT INTO invoices (order_id, customer_id, amount, due_date)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (order_id) DO NOTHING`

	listInvoicesSQL = `SELECT id, order_id, customer_id, amount, due_date, paid, created_at
	FROM invoices WHERE customer_id = $1 ORDER BY due_date, id`

	markInvoicePaidSQL = `UPDATE invoices SET paid = TRUE WHERE order_id = $1`
)

var _ invoice.Repository = (*InvoiceRepository)(nil)

// InvoiceRepository implements invoice.Repository backed by PostgreSQL.
type InvoiceRepository struct {
	pool *pgxpool.Pool
}

// NewInvoiceRepository returns an InvoiceRepository that uses the given pool.
func NewInvoiceRepository(pool *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{pool: pool}
}

// Create stores the invoice unless the order already has one.
func (r *InvoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	_, err := r.pool.Exec(ctx, createInvoiceSQL,
		inv.OrderID, inv.CustomerID, inv.Amount, inv.DueDate,
	)
	if err != nil {
		return fmt.Errorf("creating invoice for order %d: %w", inv.OrderID, err)
	}
	return nil
}

// ListByCustomer returns a customer's invoices, earliest due first.
func (r *InvoiceRepository) ListByCustomer(ctx context.Context, customerID string) ([]invoice.Invoice, error) {
	rows, err := r.pool.Query(ctx, listInvoicesSQL, customerID)
	if err != nil {
		return nil, fmt.Errorf("listing invoices for %q: %w", customerID, err)
	}
	return pgx.CollectRows(rows, scanInvoice)
}

// MarkPaidByOrder settles the order's invoice. Orders without an invoice
// are left alone.
func (r *InvoiceRepository) MarkPaidByOrder(ctx context.Context, orderID int64) error {
	if _, err := r.pool.Exec(ctx, markInvoicePaidSQL, orderID); err != nil {
		return fmt.Errorf("marking invoice of order %d paid: %w", orderID, err)
	}
	return nil
}

func scanInvoice(row pgx.CollectableRow) (invoice.Invoice, error) {
	var inv invoice.Invoice
	err := row.Scan(
		&inv.ID, &inv.OrderID, &inv.CustomerID, &inv.Amount,
		&inv.DueDate, &inv.Paid, &inv.CreatedAt,
	)
	return inv, err
}
