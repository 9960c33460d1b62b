package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/webshop-saga/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (customer_id, status, total_amount, points_redeemed)
	VALUES ($1, $2, $3, $4)
	RETURNING id, created_at, updated_at`

	orderColumns = `id, customer_id, status, total_amount, points_redeemed, points_earned,
	needs_reconciliation, reconciliation_note, created_at, updated_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE $1 = '' OR customer_id = $1
	ORDER BY id DESC`

	listOrderItemsSQL = `SELECT order_id, product_id, quantity FROM order_items
	WHERE order_id = ANY($1)
	ORDER BY order_id, position`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`

	setPointsEarnedSQL = `UPDATE orders SET points_earned = $2, updated_at = now() WHERE id = $1`

	flagReconciliationSQL = `UPDATE orders
	SET needs_reconciliation = TRUE, reconciliation_note = $2, updated_at = now()
	WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order and its items in one transaction. Items keep
// their position so the saga reserves them in the order they were placed.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, createOrderSQL,
			o.CustomerID, string(o.Status), o.Total, o.PointsToRedeem,
		).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("inserting order: %w", err)
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"order_items"},
			[]string{"order_id", "position", "product_id", "quantity"},
			pgx.CopyFromSlice(len(o.Items), func(i int) ([]any, error) {
				it := o.Items[i]
				return []any{o.ID, i, it.ProductID, it.Quantity}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("inserting order items: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("creating order for %q: %w", o.CustomerID, err)
	}
	return nil
}

// Get returns an order with its items.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}

	orders := []order.Order{o}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// List returns orders newest first, optionally filtered by customer.
func (r *OrderRepository) List(ctx context.Context, customerID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL, customerID)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepository) attachItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := r.pool.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	var (
		orderID int64
		item    order.Item
	)
	_, err = pgx.ForEachRow(rows, []any{&orderID, &item.ProductID, &item.Quantity}, func() error {
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, item)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning order items: %w", err)
	}
	return nil
}

// UpdateStatus writes a new status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id int64, status order.Status) error {
	return r.update(ctx, "updating status of", updateOrderStatusSQL, id, string(status))
}

// SetPointsEarned records the points accrued on confirmation.
func (r *OrderRepository) SetPointsEarned(ctx context.Context, id int64, points int64) error {
	return r.update(ctx, "setting points earned on", setPointsEarnedSQL, id, points)
}

// FlagReconciliation marks the order for manual point reconciliation.
func (r *OrderRepository) FlagReconciliation(ctx context.Context, id int64, note string) error {
	return r.update(ctx, "flagging", flagReconciliationSQL, id, note)
}

func (r *OrderRepository) update(ctx context.Context, verb, sql string, id int64, arg any) error {
	tag, err := r.pool.Exec(ctx, sql, id, arg)
	if err != nil {
		return fmt.Errorf("%s order %d: %w", verb, id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &status, &o.Total, &o.PointsToRedeem, &o.PointsEarned,
		&o.NeedsReconciliation, &o.ReconciliationNote, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	return o, err
}
