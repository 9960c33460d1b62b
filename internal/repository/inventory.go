package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/webshop-saga/internal/domain/stock"
)

const (
	countAvailableSQL = `SELECT count(*) FROM inventory_units WHERE product_id = $1 AND state = 'New'`

	lockProductSQL = `SELECT pg_advisory_xact_lock($1)`

	reserveUnitsSQL = `UPDATE inventory_units SET state = 'Reserved', updated_at = now()
	WHERE id IN (
		SELECT id FROM inventory_units
		WHERE product_id = $1 AND state = 'New'
		ORDER BY id
		LIMIT $2
		FOR UPDATE
	)`

	createDeliverySQL = `INSERT INTO deliveries (sender) VALUES ($1) RETURNING id, received_at`

	getDeliverySQL = `SELECT id, sender, received_at FROM deliveries WHERE id = $1`

	listDeliveriesSQL = `SELECT id, sender, received_at FROM deliveries ORDER BY id DESC`

	listDeliveryUnitsSQL = `SELECT id, delivery_id, product_id, serial_number, state
	FROM inventory_units WHERE delivery_id = $1 ORDER BY id`

	deleteDeliverySQL = `WITH touched AS (
		SELECT DISTINCT product_id FROM inventory_units WHERE delivery_id = $1
	), deleted AS (
		DELETE FROM deliveries WHERE id = $1 RETURNING id
	)
	SELECT (SELECT count(*) FROM deleted), COALESCE(array_agg(product_id ORDER BY product_id), '{}')
	FROM touched`

	existingSerialsSQL = `SELECT serial_number FROM inventory_units WHERE serial_number = ANY($1)`
)

// ErrShortReservation is returned inside the reservation transaction when
// fewer units were updated than requested, forcing a rollback.
var ErrShortReservation = errors.New("short reservation")

var _ stock.Repository = (*InventoryRepository)(nil)

// InventoryRepository implements stock.Repository backed by PostgreSQL.
type InventoryRepository struct {
	pool *pgxpool.Pool
}

// NewInventoryRepository returns an InventoryRepository that uses the given pool.
func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{pool: pool}
}

// CountAvailable returns the number of New units of a product.
func (r *InventoryRepository) CountAvailable(ctx context.Context, productID int64) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countAvailableSQL, productID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting units of product %d: %w", productID, err)
	}
	return n, nil
}

// ReserveUnits moves exactly quantity New units to Reserved or none. The
// advisory lock serializes reservations of one product across processes.
func (r *InventoryRepository) ReserveUnits(ctx context.Context, productID int64, quantity int) (int, error) {
	var reserved int
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockProductSQL, productID); err != nil {
			return fmt.Errorf("locking product: %w", err)
		}
		tag, err := tx.Exec(ctx, reserveUnitsSQL, productID, quantity)
		if err != nil {
			return fmt.Errorf("updating units: %w", err)
		}
		if int(tag.RowsAffected()) != quantity {
			return ErrShortReservation
		}
		reserved = quantity
		return nil
	})
	if errors.Is(err, ErrShortReservation) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reserving %d units of product %d: %w", quantity, productID, err)
	}
	return reserved, nil
}

// CreateDelivery stores a delivery and bulk-inserts its units.
func (r *InventoryRepository) CreateDelivery(ctx context.Context, d *stock.Delivery) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, createDeliverySQL, d.Sender).Scan(&d.ID, &d.ReceivedAt); err != nil {
			return fmt.Errorf("inserting delivery: %w", err)
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"inventory_units"},
			[]string{"delivery_id", "product_id", "serial_number", "state"},
			pgx.CopyFromSlice(len(d.Units), func(i int) ([]any, error) {
				u := d.Units[i]
				return []any{d.ID, u.ProductID, u.SerialNumber, u.State}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("inserting units: %w", err)
		}

		rows, err := tx.Query(ctx, listDeliveryUnitsSQL, d.ID)
		if err != nil {
			return fmt.Errorf("reading units: %w", err)
		}
		units, err := pgx.CollectRows(rows, scanUnit)
		if err != nil {
			return fmt.Errorf("reading units: %w", err)
		}
		d.Units = units
		return nil
	})
	if err != nil {
		return fmt.Errorf("creating delivery from %q: %w", d.Sender, err)
	}
	return nil
}

// GetDelivery returns a delivery with its units.
func (r *InventoryRepository) GetDelivery(ctx context.Context, id int64) (*stock.Delivery, error) {
	rows, err := r.pool.Query(ctx, getDeliverySQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting delivery %d: %w", id, err)
	}
	d, err := pgx.CollectExactlyOneRow(rows, scanDelivery)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, stock.ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("getting delivery %d: %w", id, err)
	}

	rows, err = r.pool.Query(ctx, listDeliveryUnitsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("listing units of delivery %d: %w", id, err)
	}
	d.Units, err = pgx.CollectRows(rows, scanUnit)
	if err != nil {
		return nil, fmt.Errorf("listing units of delivery %d: %w", id, err)
	}
	return &d, nil
}

// ListDeliveries returns deliveries newest first, without units.
func (r *InventoryRepository) ListDeliveries(ctx context.Context) ([]stock.Delivery, error) {
	rows, err := r.pool.Query(ctx, listDeliveriesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing deliveries: %w", err)
	}
	return pgx.CollectRows(rows, scanDelivery)
}

// DeleteDelivery removes a delivery and, by cascade, its units. It returns
// the products whose stock changed.
func (r *InventoryRepository) DeleteDelivery(ctx context.Context, id int64) ([]int64, error) {
	var (
		deleted  int
		products []int64
	)
	if err := r.pool.QueryRow(ctx, deleteDeliverySQL, id).Scan(&deleted, &products); err != nil {
		return nil, fmt.Errorf("deleting delivery %d: %w", id, err)
	}
	if deleted == 0 {
		return nil, stock.ErrDeliveryNotFound
	}
	return products, nil
}

func scanDelivery(row pgx.CollectableRow) (stock.Delivery, error) {
	var d stock.Delivery
	err := row.Scan(&d.ID, &d.Sender, &d.ReceivedAt)
	return d, err
}

func scanUnit(row pgx.CollectableRow) (stock.Unit, error) {
	var u stock.Unit
	err := row.Scan(&u.ID, &u.DeliveryID, &u.ProductID, &u.SerialNumber, &u.State)
	return u, err
}

// ExistingSerials returns which of the given serial numbers are already
// stored.
func (r *InventoryRepository) ExistingSerials(ctx context.Context, serials []string) ([]string, error) {
	rows, err := r.pool.Query(ctx, existingSerialsSQL, serials)
	if err != nil {
		return nil, fmt.Errorf("querying existing serials: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collecting existing serials: %w", err)
	}
	return found, nil
}
