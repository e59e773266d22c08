package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		sql  string
		kind string
	}{
		{"SELECT * FROM users", KindSelect},
		{"INSERT INTO users (id) VALUES (1)", KindInsert},
		{"UPDATE users SET name = 'x'", KindUpdate},
		{"DELETE FROM users", KindDelete},
		{"CREATE TABLE users (id INTEGER PRIMARY KEY)", KindDDL},
		{"DROP TABLE users", KindDDL},
		{"PRAGMA table_info(users)", KindPragma},
		{"CREATE VIRTUAL TABLE docs USING fts5(body)", KindDDL},
		{"VACUUM", KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			pieces := SplitStatements(tt.sql)
			require.Len(t, pieces, 1)
			assert.Equal(t, tt.kind, classify(pieces[0]))
		})
	}
}
