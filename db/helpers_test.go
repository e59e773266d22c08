package db

import (
	"context"
	"database/sql/driver"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := OpenEngine(EngineOptions{Path: filepath.Join(t.TempDir(), "actor.db")})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func newTestManager(t *testing.T) (*Engine, *StatementManager) {
	t.Helper()
	e := newTestEngine(t)
	m, err := NewStatementManager(e, 16)
	require.NoError(t, err)
	t.Cleanup(m.Teardown)
	return e, m
}

func mustExec(t *testing.T, m *StatementManager, sql string, params ...interface{}) *Cursor {
	t.Helper()
	c, err := m.Exec(context.Background(), sql, params...)
	require.NoError(t, err, sql)
	return c
}

// countTrusted counts rows bypassing the authorizer.
func countTrusted(t *testing.T, e *Engine, query string) int64 {
	t.Helper()
	var n int64
	err := e.QueryTrusted(query, nil, func(dest []driver.Value) error {
		n = dest[0].(int64)
		return nil
	})
	require.NoError(t, err)
	return n
}
