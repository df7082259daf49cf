package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/config"
)

func openMemory(t *testing.T) *Client {
	t.Helper()
	c, err := New(config.DatabaseConfig{Driver: DriverSQLite, Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRebind(t *testing.T) {
	pg := &Client{Driver: DriverPostgres}
	lite := &Client{Driver: DriverSQLite}
	q := "SELECT * FROM t WHERE a = $1 AND b = $2 OR c = $10"

	assert.Equal(t, q, pg.Rebind(q))
	assert.Equal(t, "SELECT * FROM t WHERE a = ?1 AND b = ?2 OR c = ?10", lite.Rebind(q))
}

func TestIsUniqueViolationSQLite(t *testing.T) {
	c := openMemory(t)
	ctx := context.Background()

	_, err := c.DB.ExecContext(ctx, `CREATE TABLE t (k TEXT NOT NULL UNIQUE)`)
	require.NoError(t, err)
	_, err = c.DB.ExecContext(ctx, c.Rebind(`INSERT INTO t (k) VALUES ($1)`), "a")
	require.NoError(t, err)

	_, err = c.DB.ExecContext(ctx, c.Rebind(`INSERT INTO t (k) VALUES ($1)`), "a")
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsUniqueViolation(errors.New("other")))
}

func TestInTxRollsBack(t *testing.T) {
	c := openMemory(t)
	ctx := context.Background()
	_, err := c.DB.ExecContext(ctx, `CREATE TABLE t (k TEXT)`)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = c.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO t (k) VALUES ('x')`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, c.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM t`).Scan(&n))
	assert.Equal(t, 0, n)
}
