package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("not found")

const (
	selectEntrySQL = `SELECT id, quantity FROM products WHERE id=$1`

	// DO NOTHING returns no row on conflict, so the caller falls back to a read.
	insertEntrySQL = `
		INSERT INTO products (id, quantity)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
		RETURNING quantity
	`
	upsertEntrySQL = `
		INSERT INTO products (id, quantity)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET quantity=EXCLUDED.quantity, updated_at=now()
	`
)

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type Repository interface {
	Get(ctx context.Context, id int64) (Entry, error)
	// Materialize returns the stored entry for id, creating it with seed when
	// absent. The boolean reports whether the row was created by this call.
	Materialize(ctx context.Context, id int64, seed int32) (Entry, bool, error)
	SetQuantity(ctx context.Context, id int64, quantity int32) error
}

type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Get(ctx context.Context, id int64) (Entry, error) {
	var e Entry
	if err := r.pool.QueryRow(ctx, selectEntrySQL, id).Scan(&e.ID, &e.Quantity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("select stock %d: %w", id, err)
	}
	return e, nil
}

func (r *PostgresRepository) Materialize(ctx context.Context, id int64, seed int32) (Entry, bool, error) {
	var quantity int32
	err := r.pool.QueryRow(ctx, insertEntrySQL, id, seed).Scan(&quantity)
	switch {
	case err == nil:
		return Entry{ID: id, Quantity: quantity}, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Rows are never deleted here, so the conflicting row is still present.
		e, err := r.Get(ctx, id)
		if err != nil {
			return Entry{}, false, err
		}
		return e, false, nil
	default:
		return Entry{}, false, fmt.Errorf("insert stock %d: %w", id, err)
	}
}

func (r *PostgresRepository) SetQuantity(ctx context.Context, id int64, quantity int32) error {
	if _, err := r.pool.Exec(ctx, upsertEntrySQL, id, quantity); err != nil {
		return fmt.Errorf("upsert stock %d: %w", id, err)
	}
	return nil
}
