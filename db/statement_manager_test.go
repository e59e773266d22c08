package db

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExec_BindsParameters(t *testing.T) {
	_, m := newTestManager(t)

	c := mustExec(t, m, "SELECT ? + ?", 123, 456)
	require.True(t, c.Next())
	assert.Equal(t, []interface{}{int64(579)}, c.Row().Values())
	assert.False(t, c.Next())
	assert.NoError(t, c.Err())
	assert.Equal(t, CursorDone, c.Status())
}

func TestExec_EmptyStatement(t *testing.T) {
	_, m := newTestManager(t)

	for _, sql := range []string{"", ";", " ; ;", "-- just a comment", "/* nothing */"} {
		_, err := m.Exec(context.Background(), sql)
		var target EmptyStatementError
		require.True(t, errors.As(err, &target), "sql %q: %v", sql, err)
		assert.Equal(t, "SQL statement is empty", err.Error())
	}
}

func TestExec_ParameterCountMismatch(t *testing.T) {
	e, m := newTestManager(t)
	mustExec(t, m, "CREATE TABLE t (a)")

	tests := []struct {
		sql    string
		params []interface{}
	}{
		{"INSERT INTO t VALUES (?)", nil},
		{"INSERT INTO t VALUES (?)", []interface{}{1, 2}},
		{"INSERT INTO t VALUES (1); SELECT ?", nil},
		{"INSERT INTO t VALUES (1)", []interface{}{1}},
		{"INSERT INTO t VALUES (:a), (:a)", []interface{}{1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			_, err := m.Exec(context.Background(), tt.sql, tt.params...)
			var target ParameterCountError
			require.True(t, errors.As(err, &target), "got %v", err)
			assert.True(t, strings.HasPrefix(err.Error(), "wrong number of bindings: "))
		})
	}

	// Nothing ran, not even the statements before the mismatch.
	assert.Equal(t, int64(0), countTrusted(t, e, "SELECT count(*) FROM t"))
}

func TestExec_NamedParameters(t *testing.T) {
	_, m := newTestManager(t)

	c := mustExec(t, m, "SELECT :a + :a + ?", 2, 3)
	row, err := c.One()
	require.NoError(t, err)
	assert.Equal(t, int64(7), row[":a + :a + ?"])
}

func TestExec_ParameterTypeError(t *testing.T) {
	_, m := newTestManager(t)

	_, err := m.Exec(context.Background(), "SELECT ?", struct{ X int }{1})
	var target ParameterTypeError
	require.True(t, errors.As(err, &target), "got %v", err)
	assert.Equal(t, 1, target.Index)
	assert.True(t, strings.HasPrefix(err.Error(), "unsupported binding: "))
}

func TestExec_MultipleStatements(t *testing.T) {
	_, m := newTestManager(t)

	c := mustExec(t, m, `
		CREATE TABLE t (a INTEGER);
		INSERT INTO t VALUES (?), (?);
		SELECT sum(a) AS total FROM t WHERE a > ?`, 5, 7, 0)

	row, err := c.One()
	require.NoError(t, err)
	assert.Equal(t, int64(12), row["total"])
}

func TestExec_SyntaxError(t *testing.T) {
	_, m := newTestManager(t)

	_, err := m.Exec(context.Background(), "SELEC 1")
	var target SyntaxError
	require.True(t, errors.As(err, &target), "got %v", err)
	assert.True(t, strings.HasPrefix(err.Error(), "SQL error: "))

	_, err = m.Exec(context.Background(), "SELECT * FROM missing")
	require.True(t, errors.As(err, &target), "got %v", err)
}

func TestExec_ConstraintErrorSurfaces(t *testing.T) {
	_, m := newTestManager(t)
	mustExec(t, m, "CREATE TABLE t (id INTEGER PRIMARY KEY); INSERT INTO t VALUES (1)")

	// The first step runs inside Exec, so the violation is reported here.
	_, err := m.Exec(context.Background(), "INSERT INTO t VALUES (1)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNIQUE")
}

func TestExec_AuthorizationDenied(t *testing.T) {
	e, m := newTestManager(t)
	mustExec(t, m, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)")

	denied := []string{
		"SELECT sqlite_version()",
		"SELECT load_extension('evil')",
		"SELECT * FROM sqlite_master",
		"SELECT name FROM sqlite_schema",
		"CREATE TABLE __durasql_shadow (a)",
		"CREATE TABLE sqlite_mine (a)",
		"BEGIN",
		"COMMIT",
		"SAVEPOINT sp",
		"RELEASE sp",
		"ATTACH DATABASE 'other.db' AS other",
		"PRAGMA journal_mode",
		"PRAGMA journal_mode = DELETE",
		"PRAGMA writable_schema = 1",
		"PRAGMA table_info(sqlite_master)",
		"PRAGMA made_up_pragma",
		"CREATE VIRTUAL TABLE files USING fsdir",
	}

	for _, sql := range denied {
		t.Run(sql, func(t *testing.T) {
			_, err := m.Exec(context.Background(), sql)
			require.Error(t, err)
			assert.True(t, IsAuthorizationError(err), "expected authorization error, got %v", err)
			assert.True(t, strings.HasPrefix(err.Error(), "not authorized: "), err.Error())
		})
	}

	assert.Equal(t, int64(0), countTrusted(t, e,
		"SELECT count(*) FROM sqlite_master WHERE name IN ('__durasql_shadow', 'sqlite_mine')"))
	assert.False(t, e.InTransaction())
}

func TestExec_PragmaToggles(t *testing.T) {
	_, m := newTestManager(t)

	mustExec(t, m, "PRAGMA foreign_keys = 'ON'")
	row, err := mustExec(t, m, "PRAGMA foreign_keys").One()
	require.NoError(t, err)
	assert.Equal(t, int64(1), row["foreign_keys"])

	mustExec(t, m, "PRAGMA foreign_keys = off")
	row, err = mustExec(t, m, "PRAGMA foreign_keys").One()
	require.NoError(t, err)
	assert.Equal(t, int64(0), row["foreign_keys"])

	_, err = m.Exec(context.Background(), "PRAGMA foreign_keys = maybe")
	var syntaxErr SyntaxError
	require.True(t, errors.As(err, &syntaxErr), "got %v", err)
}

func TestExec_PaddedPragmaBooleanRefused(t *testing.T) {
	_, m := newTestManager(t)
	mustExec(t, m, "PRAGMA foreign_keys = on")

	// SQLite would read these as false.
	for _, sql := range []string{"PRAGMA foreign_keys = ' off '", "PRAGMA foreign_keys = ' on '"} {
		_, err := m.Exec(context.Background(), sql)
		var syntaxErr SyntaxError
		require.True(t, errors.As(err, &syntaxErr), "%s: got %v", sql, err)
	}

	row, err := mustExec(t, m, "PRAGMA foreign_keys").One()
	require.NoError(t, err)
	assert.Equal(t, int64(1), row["foreign_keys"])
}

func TestExec_ConstraintIndexes(t *testing.T) {
	e, m := newTestManager(t)

	mustExec(t, m, "CREATE TABLE u (k TEXT PRIMARY KEY, v INTEGER)")
	mustExec(t, m, "CREATE TABLE v (a INTEGER, b TEXT UNIQUE, c TEXT, UNIQUE (a, c))")
	mustExec(t, m, "CREATE TEMP TABLE scratch (k TEXT PRIMARY KEY)")
	assert.Equal(t, int64(3), countTrusted(t, e,
		"SELECT count(*) FROM sqlite_master WHERE type = 'index' AND tbl_name IN ('u', 'v')"))
	assert.Equal(t, int64(1), countTrusted(t, e,
		"SELECT count(*) FROM sqlite_temp_master WHERE type = 'index' AND tbl_name = 'scratch'"))

	mustExec(t, m, "INSERT INTO u VALUES ('a', 1)")
	_, err := m.Exec(context.Background(), "INSERT INTO u VALUES ('a', 2)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNIQUE")

	mustExec(t, m, "ALTER TABLE u RENAME TO renamed")
	mustExec(t, m, "DROP TABLE renamed")
	mustExec(t, m, "DROP TABLE v")
}

func TestExec_SchemaTablesNotReadableThroughDDL(t *testing.T) {
	e, m := newTestManager(t)
	mustExec(t, m, "CREATE TABLE secret_t (id INTEGER PRIMARY KEY AUTOINCREMENT, a INTEGER)")
	mustExec(t, m, "INSERT INTO secret_t (a) VALUES (1)")

	denied := []string{
		"CREATE TABLE leak AS SELECT name, sql FROM sqlite_master",
		"CREATE TABLE leak AS SELECT * FROM sqlite_schema",
		"CREATE TABLE leak AS SELECT rowid FROM sqlite_master",
		"CREATE TABLE leak AS SELECT name, seq FROM sqlite_sequence",
		"CREATE TEMP TABLE leak AS SELECT sql FROM sqlite_master",
	}

	for _, sql := range denied {
		t.Run(sql, func(t *testing.T) {
			_, err := m.Exec(context.Background(), sql)
			require.Error(t, err)
			assert.True(t, IsAuthorizationError(err), "expected authorization error, got %v", err)
		})
	}

	assert.Equal(t, int64(0), countTrusted(t, e,
		"SELECT count(*) FROM sqlite_master WHERE name = 'leak'"))

	// Copying user tables still works.
	mustExec(t, m, "CREATE TABLE copied AS SELECT a FROM secret_t")
	row, err := mustExec(t, m, "SELECT count(*) AS n FROM copied").One()
	require.NoError(t, err)
	assert.Equal(t, int64(1), row["n"])
}

func TestExec_FunctionDenialIsAuthorizationError(t *testing.T) {
	_, m := newTestManager(t)

	for _, sql := range []string{"SELECT sqlite_version()", "SELECT load_extension('evil')"} {
		_, err := m.Exec(context.Background(), sql)
		var target AuthorizationError
		require.True(t, errors.As(err, &target), "%s: got %v", sql, err)
		assert.Equal(t, "function", target.Action)
		assert.Contains(t, err.Error(), "prohibited")
	}
}

func TestTeardown_FinalizesOneShotStatements(t *testing.T) {
	e, m := newTestManager(t)
	mustExec(t, m, "CREATE TABLE t (a); INSERT INTO t VALUES (1), (2), (3)")

	c1 := mustExec(t, m, "SELECT a FROM t ORDER BY a")
	c2 := mustExec(t, m, "SELECT a FROM t ORDER BY a")
	require.Equal(t, CursorActive, c2.Status())
	assert.Len(t, m.detached, 1)

	// A finished one-shot statement finalizes itself.
	_, err := mustExec(t, m, "SELECT a FROM t ORDER BY a").ToArray()
	require.NoError(t, err)
	assert.Len(t, m.detached, 1)

	m.Teardown()
	assert.Equal(t, 0, m.OpenStatements())
	assert.Equal(t, CursorInvalidated, c1.Status())
	assert.Equal(t, CursorInvalidated, c2.Status())
	require.NoError(t, e.Close())
}

func TestExec_IntrospectionPragmas(t *testing.T) {
	_, m := newTestManager(t)
	mustExec(t, m, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)")

	rows, err := mustExec(t, m, "PRAGMA table_info(users)").ToArray()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "id", rows[0]["name"])
	assert.Equal(t, "name", rows[1]["name"])

	_, err = m.Exec(context.Background(), "PRAGMA page_size = 8192")
	assert.True(t, IsAuthorizationError(err), "got %v", err)
}

func TestExec_SchemaChanges(t *testing.T) {
	_, m := newTestManager(t)

	mustExec(t, m, "CREATE TABLE a (x INTEGER PRIMARY KEY AUTOINCREMENT, v TEXT)")
	mustExec(t, m, "INSERT INTO a (v) VALUES ('one')")
	mustExec(t, m, "CREATE INDEX a_v ON a (v)")
	mustExec(t, m, "ALTER TABLE a RENAME TO b")
	mustExec(t, m, "ALTER TABLE b ADD COLUMN extra TEXT")
	mustExec(t, m, "ALTER TABLE b RENAME COLUMN v TO value")
	mustExec(t, m, "CREATE VIEW bv AS SELECT value FROM b")
	mustExec(t, m, "CREATE TRIGGER b_ins AFTER INSERT ON b BEGIN UPDATE b SET extra = 'x' WHERE x = new.x; END")
	mustExec(t, m, "INSERT INTO b (value) VALUES ('two')")

	rows, err := mustExec(t, m, "SELECT value, extra FROM b ORDER BY x").ToArray()
	require.NoError(t, err)
	assert.Equal(t, []map[string]interface{}{
		{"value": "one", "extra": nil},
		{"value": "two", "extra": "x"},
	}, rows)

	mustExec(t, m, "DROP TRIGGER b_ins")
	mustExec(t, m, "DROP VIEW bv")
	mustExec(t, m, "DROP INDEX a_v")
	mustExec(t, m, "DROP TABLE b")
}

func TestExec_VirtualTables(t *testing.T) {
	_, m := newTestManager(t)

	mustExec(t, m, "CREATE VIRTUAL TABLE docs USING fts4(body)")
	mustExec(t, m, "INSERT INTO docs (body) VALUES ('durable actors'), ('plain text')")

	rows, err := mustExec(t, m, "SELECT body FROM docs WHERE docs MATCH ?", "durable").ToArray()
	require.NoError(t, err)
	assert.Equal(t, []map[string]interface{}{{"body": "durable actors"}}, rows)
}

func TestExec_CursorsDoNotInvalidateEachOther(t *testing.T) {
	_, m := newTestManager(t)
	mustExec(t, m, "CREATE TABLE t (a); INSERT INTO t VALUES (1), (2), (3)")

	c1 := mustExec(t, m, "SELECT a FROM t ORDER BY a")
	c2 := mustExec(t, m, "SELECT a FROM t ORDER BY a")

	rows1, err := c1.ToArray()
	require.NoError(t, err)
	rows2, err := c2.ToArray()
	require.NoError(t, err)
	assert.Len(t, rows1, 3)
	assert.Equal(t, rows1, rows2)
}

func TestExec_ReusesCachedStatements(t *testing.T) {
	_, m := newTestManager(t)
	mustExec(t, m, "CREATE TABLE t (a)")

	for i := 0; i < 3; i++ {
		mustExec(t, m, "INSERT INTO t VALUES (?)", i)
	}
	// CREATE TABLE and INSERT
	assert.Equal(t, 2, m.cache.Len())
}

func TestExec_CancelledContext(t *testing.T) {
	_, m := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Exec(ctx, "SELECT 1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExec_BeforeExecuteHook(t *testing.T) {
	_, m := newTestManager(t)

	calls := 0
	m.SetBeforeExecute(func() error {
		calls++
		return nil
	})
	mustExec(t, m, "SELECT 1; SELECT 2")
	assert.Equal(t, 1, calls)

	hookErr := errors.New("hook failed")
	m.SetBeforeExecute(func() error { return hookErr })
	_, err := m.Exec(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, hookErr)
}
