// Package postgres keeps token keys in the auth_storage table.
// Several areas may share one table, rows are partitioned by area name.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/authsession/internal/apperrors"
)

type DBTX interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var ErrNotMigrated = errors.New("auth_storage table not found, run migrations")

type Area struct {
	DB   DBTX
	Name string
}

func New(db DBTX, name string) *Area {
	return &Area{DB: db, Name: name}
}

// Write upserts all values in one transaction
func (a *Area) Write(ctx context.Context, values map[string]string) error {
	const upsert = `
	INSERT INTO auth_storage (area, key, value, updated_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (area, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`

	err := pgx.BeginFunc(ctx, a.DB, func(tx pgx.Tx) error {
		// Sorted keys keep lock order stable between concurrent writers
		for _, k := range slices.Sorted(maps.Keys(values)) {
			if _, err := tx.Exec(ctx, upsert, a.Name, k, values[k]); err != nil {
				return err
			}
		}
		return nil
	})

	return wrap(err)
}

func (a *Area) Read(ctx context.Context, keys ...string) (map[string]string, error) {
	const read = `
	SELECT key, value FROM auth_storage
	WHERE area = $1 AND key = ANY($2)
	`

	out := make(map[string]string, len(keys))

	rows, _ := a.DB.Query(ctx, read, a.Name, keys)
	var k, v string
	_, err := pgx.ForEachRow(rows, []any{&k, &v}, func() error {
		out[k] = v
		return nil
	})
	if err != nil {
		return nil, wrap(err)
	}

	return out, nil
}

func (a *Area) Delete(ctx context.Context, keys ...string) error {
	const del = `
	DELETE FROM auth_storage
	WHERE area = $1 AND key = ANY($2)
	`

	_, err := a.DB.Exec(ctx, del, a.Name, keys)
	return wrap(err)
}

func wrap(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return fmt.Errorf("%w: %w", apperrors.ErrStorage, ErrNotMigrated)
	}

	return fmt.Errorf("%w: db error: %w", apperrors.ErrStorage, err)
}
