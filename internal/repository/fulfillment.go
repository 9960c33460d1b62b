package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/webshop-saga/internal/domain/fulfillment"
)

const (
	createFulfillmentSQL = `INSERT INTO fulfillment_orders (order_id) VALUES ($1)
	ON CONFLICT (order_id) DO NOTHING`

	updateFulfillmentSQL = `UPDATE fulfillment_orders SET status = $2, updated_at = now() WHERE order_id = $1`

	listFulfillmentSQL = `SELECT order_id, status, created_at, updated_at
	FROM fulfillment_orders ORDER BY id DESC`
)

var _ fulfillment.Repository = (*FulfillmentRepository)(nil)

// FulfillmentRepository implements fulfillment.Repository backed by PostgreSQL.
type FulfillmentRepository struct {
	pool *pgxpool.Pool
}

// NewFulfillmentRepository returns a FulfillmentRepository that uses the given pool.
func NewFulfillmentRepository(pool *pgxpool.Pool) *FulfillmentRepository {
	return &FulfillmentRepository{pool: pool}
}

// Create inserts a PENDING record and reports whether one was created.
func (r *FulfillmentRepository) Create(ctx context.Context, orderID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, createFulfillmentSQL, orderID)
	if err != nil {
		return false, fmt.Errorf("creating fulfillment for order %d: %w", orderID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateStatus changes the status of an existing record.
func (r *FulfillmentRepository) UpdateStatus(ctx context.Context, orderID int64, status fulfillment.Status) error {
	tag, err := r.pool.Exec(ctx, updateFulfillmentSQL, orderID, string(status))
	if err != nil {
		return fmt.Errorf("updating fulfillment for order %d: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return fulfillment.ErrNotFound
	}
	return nil
}

// List returns all records newest first.
func (r *FulfillmentRepository) List(ctx context.Context) ([]fulfillment.Record, error) {
	rows, err := r.pool.Query(ctx, listFulfillmentSQL)
	if err != nil {
		return nil, fmt.Errorf("listing fulfillment: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (fulfillment.Record, error) {
		var (
			rec    fulfillment.Record
			status string
		)
		err := row.Scan(&rec.OrderID, &status, &rec.CreatedAt, &rec.UpdatedAt)
		rec.Status = fulfillment.Status(status)
		return rec, err
	})
}
