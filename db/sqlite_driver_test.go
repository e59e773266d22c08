package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRegexpMatch checks the REGEXP operator through the authorized path
func TestRegexpMatch(t *testing.T) {
	_, m := newTestManager(t)

	tests := []struct {
		name     string
		text     string
		pattern  string
		expected int64
	}{
		{"simple prefix match", "hello", "^h", 1},
		{"prefix no match", "hello", "^a", 0},
		{"suffix match", "world", "ld$", 1},
		{"contains match", "hello world", "lo wo", 1},
		{"digit pattern match", "user123", "[0-9]+", 1},
		{"digit pattern no match", "username", "[0-9]+", 0},
		{"case sensitive", "Hello", "^hello$", 0},
		{"case insensitive flag", "Hello", "(?i)^hello$", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := mustExec(t, m, "SELECT ? REGEXP ? AS matched", tt.text, tt.pattern).One()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, row["matched"])
		})
	}
}

func TestRegexpWithTable(t *testing.T) {
	_, m := newTestManager(t)
	mustExec(t, m, "CREATE TABLE users (email TEXT)")
	mustExec(t, m, "INSERT INTO users VALUES ('ada@example.com'), ('bob@test.org'), ('not-an-email')")

	row, err := mustExec(t, m, `SELECT count(*) AS n FROM users WHERE email REGEXP '^[a-z]+@[a-z]+\.com$'`).One()
	require.NoError(t, err)
	assert.Equal(t, int64(1), row["n"])
}

func TestRegexpInvalidPattern(t *testing.T) {
	_, m := newTestManager(t)
	_, err := m.Exec(context.Background(), "SELECT 'abc' REGEXP '[unclosed'")
	assert.Error(t, err)
}

func TestBuildDSN(t *testing.T) {
	assert.Equal(t,
		"/data/a.db?_busy_timeout=5000&_journal_mode=WAL&_txlock=deferred",
		buildDSN("/data/a.db", 5*time.Second, ""))
	assert.Equal(t,
		"/data/a.db?_busy_timeout=0&_journal_mode=DELETE&_txlock=deferred",
		buildDSN("/data/a.db", 0, "DELETE"))
}
