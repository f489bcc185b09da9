package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chessdao/backend/internal/ledgererr"
	"github.com/jmoiron/sqlx"
)

// PostgresStore keeps each namespace in its own table (games, balances, exchanges)
// with columns key, version, data (jsonb), updated_at. Tables come from ./migrations.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an open connection pool
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type pgRow struct {
	Key     string `db:"key"`
	Version int64  `db:"version"`
	Data    []byte `db:"data"`
}

func (p *PostgresStore) Get(ctx context.Context, ns Namespace, key string) (Record, error) {
	if err := checkNamespace(ns); err != nil {
		return Record{}, err
	}

	var row pgRow
	// ns is validated above, so formatting the table name is safe
	err := p.db.GetContext(ctx, &row, fmt.Sprintf(`SELECT key, version, data FROM %s WHERE key=$1`, ns), key)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ledgererr.New(ledgererr.NotFound, "%s/%s not found", ns, key)
	}
	if err != nil {
		return Record{}, ledgererr.Wrap(ledgererr.Unavailable, err, "get %s/%s", ns, key)
	}
	return Record{Key: row.Key, Value: row.Data, Version: row.Version}, nil
}

func (p *PostgresStore) CompareAndSet(ctx context.Context, ns Namespace, key string, expected int64, value []byte) (bool, error) {
	if err := checkNamespace(ns); err != nil {
		return false, err
	}

	var res sql.Result
	var err error
	if expected == 0 {
		res, err = p.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (key, version, data, updated_at) VALUES ($1, 1, $2::jsonb, NOW()) ON CONFLICT (key) DO NOTHING`, ns), key, string(value))
	} else {
		res, err = p.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET data=$1::jsonb, version=version+1, updated_at=NOW() WHERE key=$2 AND version=$3`, ns), string(value), key, expected)
	}
	if err != nil {
		return false, ledgererr.Wrap(ledgererr.Unavailable, err, "compare-and-set %s/%s", ns, key)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, ledgererr.Wrap(ledgererr.Unavailable, err, "compare-and-set %s/%s", ns, key)
	}
	return n == 1, nil
}

func (p *PostgresStore) List(ctx context.Context, ns Namespace) ([]Record, error) {
	if err := checkNamespace(ns); err != nil {
		return nil, err
	}

	var rows []pgRow
	if err := p.db.SelectContext(ctx, &rows, fmt.Sprintf(`SELECT key, version, data FROM %s ORDER BY key`, ns)); err != nil {
		return nil, ledgererr.Wrap(ledgererr.Unavailable, err, "list %s", ns)
	}

	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, Record{Key: r.Key, Value: r.Data, Version: r.Version})
	}
	return out, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }
