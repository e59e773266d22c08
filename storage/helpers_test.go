package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStorage(t *testing.T, path string) *Storage {
	t.Helper()
	s, err := Open(Options{Path: path, StatementCacheSize: 16})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestStorage(t *testing.T) (*Storage, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "actor.db")
	return openTestStorage(t, path), path
}

func mustExec(t *testing.T, s *Storage, sql string, params ...interface{}) {
	t.Helper()
	_, err := s.Exec(context.Background(), sql, params...)
	require.NoError(t, err, sql)
}

func count(t *testing.T, s *Storage, table string) int64 {
	t.Helper()
	c, err := s.Exec(context.Background(), "SELECT count(*) AS n FROM "+table)
	require.NoError(t, err)
	row, err := c.One()
	require.NoError(t, err)
	return row["n"].(int64)
}

func mustGet(t *testing.T, s *Storage, key string) (interface{}, bool) {
	t.Helper()
	v, ok, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	return v, ok
}
