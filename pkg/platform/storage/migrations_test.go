package storage_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-editor/pkg/platform/storage"
)

func TestUp_IdempotentOnSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Connect(ctx, "sqlite3", "file::memory:")
	require.NoError(t, err)
	defer db.Close()
	require.Equal(t, "sqlite", db.Driver)

	require.NoError(t, storage.Up(ctx, db))
	require.NoError(t, storage.Up(ctx, db))

	for _, table := range []string{"lti_entity", "lti_nonce"} {
		var name string
		err := db.SQL.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type='table' AND name=$1`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestConnect_RejectsUnknownDriver(t *testing.T) {
	_, err := storage.Connect(context.Background(), "oracle", "x")
	require.Error(t, err)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Connect(ctx, "sqlite", "file::memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, storage.Up(ctx, db))

	err = storage.WithTx(ctx, db, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO lti_nonce (id, kind, payload, created_at) VALUES ($1,$2,$3,$4)`,
			"n1", "test", "{}", 1); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.EqualError(t, err, "boom")

	var n int
	require.NoError(t, db.SQL.QueryRowContext(ctx, `SELECT COUNT(*) FROM lti_nonce`).Scan(&n))
	require.Zero(t, n)
}
