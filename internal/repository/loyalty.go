package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/webshop-saga/internal/domain/loyalty"
)

const (
	redeemPointsSQL = `UPDATE loyalty_balances
	SET points = points - $2, updated_at = now()
	WHERE customer_id = $1 AND points >= $2`

	accruePointsSQL = `INSERT INTO loyalty_balances (customer_id, points) VALUES ($1, $2)
	ON CONFLICT (customer_id) DO UPDATE
	SET points = loyalty_balances.points + EXCLUDED.points, updated_at = now()
	RETURNING points`

	insertLoyaltyTxSQL = `INSERT INTO loyalty_transactions (customer_id, order_id, kind, points)
	VALUES ($1, $2, $3, $4)`

	getPointsSQL = `SELECT points FROM loyalty_balances WHERE customer_id = $1`

	totalIssuedSQL = `SELECT COALESCE(SUM(points), 0) FROM loyalty_transactions WHERE kind = 'accrue'`

	setBalanceSQL = `INSERT INTO loyalty_balances (customer_id, points) VALUES ($1, $2)
	ON CONFLICT (customer_id) DO UPDATE SET points = EXCLUDED.points, updated_at = now()`
)

var _ loyalty.Repository = (*LoyaltyRepository)(nil)

// LoyaltyRepository implements loyalty.Repository backed by PostgreSQL.
type LoyaltyRepository struct {
	pool *pgxpool.Pool
}

// NewLoyaltyRepository returns a LoyaltyRepository that uses the given pool.
func NewLoyaltyRepository(pool *pgxpool.Pool) *LoyaltyRepository {
	return &LoyaltyRepository{pool: pool}
}

// Redeem decrements the balance in a single conditional statement and
// records the redemption.
func (r *LoyaltyRepository) Redeem(ctx context.Context, customerID string, orderID, points int64) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, redeemPointsSQL, customerID, points)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return loyalty.ErrInsufficientPoints
		}
		_, err = tx.Exec(ctx, insertLoyaltyTxSQL, customerID, orderID, "redeem", points)
		return err
	})
	if errors.Is(err, loyalty.ErrInsufficientPoints) {
		return loyalty.ErrInsufficientPoints
	}
	if err != nil {
		return fmt.Errorf("redeeming %d points for %q: %w", points, customerID, err)
	}
	return nil
}

// Accrue increments the balance, creating it on first use, and returns the
// new balance.
func (r *LoyaltyRepository) Accrue(ctx context.Context, customerID string, orderID, points int64) (int64, error) {
	var balance int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, accruePointsSQL, customerID, points).Scan(&balance); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, insertLoyaltyTxSQL, customerID, orderID, "accrue", points)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("accruing %d points for %q: %w", points, customerID, err)
	}
	return balance, nil
}

// Points returns the balance, zero for unknown customers.
func (r *LoyaltyRepository) Points(ctx context.Context, customerID string) (int64, error) {
	var points int64
	err := r.pool.QueryRow(ctx, getPointsSQL, customerID).Scan(&points)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("getting points of %q: %w", customerID, err)
	}
	return points, nil
}

// TotalIssued returns all points ever accrued.
func (r *LoyaltyRepository) TotalIssued(ctx context.Context) (int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, totalIssuedSQL).Scan(&total); err != nil {
		return 0, fmt.Errorf("summing issued points: %w", err)
	}
	return total, nil
}

// SetBalance overwrites a balance without an audit row. Used for seeding.
func (r *LoyaltyRepository) SetBalance(ctx context.Context, customerID string, points int64) error {
	if _, err := r.pool.Exec(ctx, setBalanceSQL, customerID, points); err != nil {
		return fmt.Errorf("setting loyalty balance for %s: %w", customerID, err)
	}
	return nil
}
