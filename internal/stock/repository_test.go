package stock

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestPostgresRepository_Get(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta(selectEntrySQL)).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "quantity"}).AddRow(int64(1), int32(7)))
	mock.ExpectQuery(regexp.QuoteMeta(selectEntrySQL)).
		WithArgs(int64(2)).
		WillReturnError(pgx.ErrNoRows)

	repo := NewPostgresRepository(mock)

	e, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, Entry{ID: 1, Quantity: 7}, e)

	_, err = repo.Get(ctx, 2)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_Materialize(t *testing.T) {
	tests := map[string]struct {
		setup       func(pgxmock.PgxPoolIface)
		want        Entry
		wantCreated bool
		wantErr     bool
	}{
		"new id is inserted with seed": {
			setup: func(m pgxmock.PgxPoolIface) {
				m.ExpectQuery(regexp.QuoteMeta(insertEntrySQL)).
					WithArgs(int64(1), int32(0)).
					WillReturnRows(pgxmock.NewRows([]string{"quantity"}).AddRow(int32(0)))
			},
			want:        Entry{ID: 1, Quantity: 0},
			wantCreated: true,
		},
		"existing id keeps stored quantity": {
			setup: func(m pgxmock.PgxPoolIface) {
				m.ExpectQuery(regexp.QuoteMeta(insertEntrySQL)).
					WithArgs(int64(1), int32(0)).
					WillReturnError(pgx.ErrNoRows)
				m.ExpectQuery(regexp.QuoteMeta(selectEntrySQL)).
					WithArgs(int64(1)).
					WillReturnRows(pgxmock.NewRows([]string{"id", "quantity"}).AddRow(int64(1), int32(12)))
			},
			want: Entry{ID: 1, Quantity: 12},
		},
		"insert failure": {
			setup: func(m pgxmock.PgxPoolIface) {
				m.ExpectQuery(regexp.QuoteMeta(insertEntrySQL)).
					WithArgs(int64(1), int32(0)).
					WillReturnError(errors.New("connection refused"))
			},
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()
			tc.setup(mock)

			got, created, err := NewPostgresRepository(mock).Materialize(context.Background(), 1, 0)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.wantCreated, created)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresRepository_SetQuantity(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta(upsertEntrySQL)).
		WithArgs(int64(4), int32(30)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewPostgresRepository(mock).SetQuantity(context.Background(), 4, 30))
	require.NoError(t, mock.ExpectationsWereMet())
}
