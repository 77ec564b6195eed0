package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/andreasstove999/ecommerce-system/product-sync/internal/dedup"
)

var ErrNotFound = errors.New("product not found")

const (
	insertProductSQL = `
		INSERT INTO products (name, product_type, expiration_date, quantity)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	selectProductSQL = `
		SELECT id, name, product_type, expiration_date, quantity
		FROM products
		WHERE id=$1
	`
	selectProductsSQL = `
		SELECT id, name, product_type, expiration_date, quantity
		FROM products
		ORDER BY id
	`
	updateProductSQL = `
		UPDATE products
		SET name=$2, product_type=$3, expiration_date=$4, quantity=$5
		WHERE id=$1
	`
	deleteProductSQL = `DELETE FROM products WHERE id=$1`

	lockQuantitySQL = `
		SELECT quantity
		FROM products
		WHERE id=$1
		FOR UPDATE
	`
	updateQuantitySQL = `UPDATE products SET quantity=$2 WHERE id=$1`
)

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Repository is the store gateway used by the HTTP surface.
type Repository interface {
	Insert(ctx context.Context, p Product) (int64, error)
	FindByID(ctx context.Context, id int64) (Product, error)
	FindAll(ctx context.Context) ([]Product, error)
	Update(ctx context.Context, id int64, p Product) error
	DeleteByID(ctx context.Context, id int64) (bool, error)
}

type ApplyOutcome int

const (
	QuantityApplied ApplyOutcome = iota
	QuantityUnknownProduct
	QuantityStale
	// QuantityBehindCheckpoint is a skip that trails the checkpoint by more
	// than checkpointResetGap, as happens once a topic is recreated and its
	// offsets restart at zero.
	QuantityBehindCheckpoint
)

const checkpointResetGap = 1000

func (o ApplyOutcome) String() string {
	switch o {
	case QuantityApplied:
		return "applied"
	case QuantityUnknownProduct:
		return "unknown_product"
	case QuantityStale:
		return "stale"
	case QuantityBehindCheckpoint:
		return "behind_checkpoint"
	default:
		return "unknown"
	}
}

// QuantityApplier overwrites the quantity of an existing product with a
// warehouse-reported value.
type QuantityApplier interface {
	ApplyQuantity(ctx context.Context, id int64, quantity int32, pos dedup.Position) (ApplyOutcome, error)
}

type PostgresRepository struct {
	pool    DBPool
	offsets *dedup.Repository
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool, offsets: dedup.NewRepository(pool)}
}

func (r *PostgresRepository) Insert(ctx context.Context, p Product) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, insertProductSQL, p.Name, string(p.Type), p.ExpirationDate, p.Quantity).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert product: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, selectProductSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("select product %d: %w", id, err)
	}
	return p, nil
}

func (r *PostgresRepository) FindAll(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, selectProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return products, nil
}

func (r *PostgresRepository) Update(ctx context.Context, id int64, p Product) error {
	tag, err := r.pool.Exec(ctx, updateProductSQL, id, p.Name, string(p.Type), p.ExpirationDate, p.Quantity)
	if err != nil {
		return fmt.Errorf("update product %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteByID(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, deleteProductSQL, id)
	if err != nil {
		return false, fmt.Errorf("delete product %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ApplyQuantity locks the product row, skips positions already applied and
// records the new checkpoint in the same transaction as the quantity write.
func (r *PostgresRepository) ApplyQuantity(ctx context.Context, id int64, quantity int32, pos dedup.Position) (ApplyOutcome, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current int32
	if err := tx.QueryRow(ctx, lockQuantitySQL, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return QuantityUnknownProduct, nil
		}
		return 0, fmt.Errorf("lock product %d: %w", id, err)
	}

	offsets := r.offsets.WithExecutor(tx)
	behind, err := offsets.Behind(ctx, pos)
	if err != nil {
		return 0, err
	}
	switch {
	case behind > checkpointResetGap:
		return QuantityBehindCheckpoint, nil
	case behind > 0:
		return QuantityStale, nil
	}

	if current != quantity {
		if _, err := tx.Exec(ctx, updateQuantitySQL, id, quantity); err != nil {
			return 0, fmt.Errorf("update quantity %d: %w", id, err)
		}
	}

	if err := offsets.Advance(ctx, pos); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit quantity %d: %w", id, err)
	}
	return QuantityApplied, nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p        Product
		rawType  string
		quantity int32
	)
	if err := row.Scan(&p.ID, &p.Name, &rawType, &p.ExpirationDate, &quantity); err != nil {
		return Product{}, err
	}
	p.Type = ProductType(rawType)
	p.Quantity = quantity
	return p, nil
}
