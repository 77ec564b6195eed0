package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	selectOffsetSQL = `
		SELECT last_offset
		FROM consumer_offsets
		WHERE consumer_name=$1 AND topic=$2 AND partition_id=$3
	`
	upsertOffsetSQL = `
		INSERT INTO consumer_offsets (consumer_name, topic, partition_id, last_offset)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (consumer_name, topic, partition_id)
		DO UPDATE SET
			last_offset = GREATEST(consumer_offsets.last_offset, EXCLUDED.last_offset),
			updated_at = now()
	`
)

// Position identifies a consumed message within a topic partition.
type Position struct {
	Consumer  string
	Topic     string
	Partition int
	Offset    int64
}

// Tracked reports whether the position carries a usable offset.
// Transports without offsets report -1 and bypass checkpointing.
func (p Position) Tracked() bool {
	return p.Consumer != "" && p.Topic != "" && p.Offset >= 0
}

// Executor represents the subset of pgx methods required for checkpoint operations.
type Executor interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type Repository struct {
	executor Executor
}

func NewRepository(exec Executor) *Repository {
	return &Repository{executor: exec}
}

// WithExecutor returns a shallow copy using the provided executor (e.g., a transaction).
func (r *Repository) WithExecutor(exec Executor) *Repository {
	return &Repository{executor: exec}
}

// LastOffset returns the last applied offset for a consumer/topic/partition.
// The boolean indicates whether a checkpoint existed.
func (r *Repository) LastOffset(ctx context.Context, consumer, topic string, partition int) (int64, bool, error) {
	var last int64
	if err := r.executor.QueryRow(ctx, selectOffsetSQL, consumer, topic, partition).Scan(&last); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("select checkpoint: %w", err)
	}
	return last, true, nil
}

// IsStale reports whether pos was already applied.
func (r *Repository) IsStale(ctx context.Context, pos Position) (bool, error) {
	behind, err := r.Behind(ctx, pos)
	return behind > 0, err
}

// Behind returns how many offsets pos trails the checkpoint by, counting the
// checkpoint itself. Zero means pos has not been applied yet.
func (r *Repository) Behind(ctx context.Context, pos Position) (int64, error) {
	if !pos.Tracked() {
		return 0, nil
	}
	last, ok, err := r.LastOffset(ctx, pos.Consumer, pos.Topic, pos.Partition)
	if err != nil {
		return 0, err
	}
	if !ok || pos.Offset > last {
		return 0, nil
	}
	return last - pos.Offset + 1, nil
}

// Advance moves the checkpoint forward, never backwards, even under races.
func (r *Repository) Advance(ctx context.Context, pos Position) error {
	if !pos.Tracked() {
		return nil
	}
	if _, err := r.executor.Exec(ctx, upsertOffsetSQL, pos.Consumer, pos.Topic, pos.Partition, pos.Offset); err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}
