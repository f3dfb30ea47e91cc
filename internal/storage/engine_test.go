package storage

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAppliesMigrationsOnce(t *testing.T) {
	var applyCount int
	migrations := []Migration{
		{Name: "create_widgets", Func: func(db *sql.DB) error {
			applyCount++
			_, err := db.Exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)`)
			return err
		}},
	}

	path := t.TempDir() + "/test.db"
	eng, err := Open(path, migrations)
	require.NoError(t, err)
	defer eng.Close()

	require.Equal(t, 1, applyCount)

	eng2, err := Open(path, migrations)
	require.NoError(t, err)
	defer eng2.Close()
	require.Equal(t, 1, applyCount, "migration must not re-apply on reopen")
}

func TestTxCommitsAndRollsBack(t *testing.T) {
	eng, err := Open("", []Migration{
		{Name: "create_t", Func: func(db *sql.DB) error {
			_, err := db.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY)`)
			return err
		}},
	})
	require.NoError(t, err)
	defer eng.Close()

	ctx := context.Background()
	require.NoError(t, eng.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO t (id) VALUES (1)`)
		return err
	}))

	err = eng.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO t (id) VALUES (2)`); err != nil {
			return err
		}
		return sql.ErrNoRows
	})
	require.Error(t, err)

	var count int
	require.NoError(t, eng.DB().QueryRow(`SELECT COUNT(*) FROM t`).Scan(&count))
	require.Equal(t, 1, count, "failed tx must roll back")
}
