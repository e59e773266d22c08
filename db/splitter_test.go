package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pieceSQL(pieces []Piece) []string {
	out := make([]string, len(pieces))
	for i, p := range pieces {
		out[i] = p.SQL
	}
	return out
}

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"single", "SELECT 1", []string{"SELECT 1"}},
		{"trailing semicolon", "SELECT 1;", []string{"SELECT 1"}},
		{"two statements", "SELECT 1; SELECT 2", []string{"SELECT 1", "SELECT 2"}},
		{"semicolon in string", "SELECT 'a;b'; SELECT 2", []string{"SELECT 'a;b'", "SELECT 2"}},
		{"escaped quote", "SELECT 'it''s;'; SELECT 2", []string{"SELECT 'it''s;'", "SELECT 2"}},
		{"quoted identifier", `SELECT "a;b" FROM t`, []string{`SELECT "a;b" FROM t`}},
		{"bracket identifier", "SELECT [a;b] FROM t", []string{"SELECT [a;b] FROM t"}},
		{"backtick identifier", "SELECT `a;b` FROM t", []string{"SELECT `a;b` FROM t"}},
		{"line comment", "SELECT 1 -- ; not a split\n; SELECT 2", []string{"SELECT 1 -- ; not a split", "SELECT 2"}},
		{"block comment", "SELECT /* ; */ 1", []string{"SELECT /* ; */ 1"}},
		{"empty fragments", ";; SELECT 1 ;;", []string{"SELECT 1"}},
		{"comment only fragment", "SELECT 1; -- trailing comment", []string{"SELECT 1"}},
		{
			"trigger body",
			"CREATE TRIGGER trg AFTER INSERT ON t BEGIN INSERT INTO log VALUES (1); UPDATE c SET n = n + 1; END; SELECT 1",
			[]string{
				"CREATE TRIGGER trg AFTER INSERT ON t BEGIN INSERT INTO log VALUES (1); UPDATE c SET n = n + 1; END",
				"SELECT 1",
			},
		},
		{
			"temp trigger with comment before semicolon",
			"create temp trigger trg after delete on t begin delete from x; end /* done */; select 1",
			[]string{
				"create temp trigger trg after delete on t begin delete from x; end /* done */",
				"select 1",
			},
		},
		{"unterminated string", "SELECT 'abc; SELECT 2", []string{"SELECT 'abc; SELECT 2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, pieceSQL(SplitStatements(tt.input)))
		})
	}
}

func TestSplitStatements_Empty(t *testing.T) {
	for _, input := range []string{"", ";", "  ;  ; ", "-- nothing", "/* nothing */;"} {
		assert.Empty(t, SplitStatements(input), input)
	}
}

func TestSplitStatements_Params(t *testing.T) {
	tests := []struct {
		input    string
		expected int
	}{
		{"SELECT 1", 0},
		{"SELECT ? + ?", 2},
		{"SELECT ?3", 3},
		{"SELECT ?2, ?", 3},
		{"SELECT :a, :a, :b", 2},
		{"SELECT :a, @a, $a", 3},
		{"SELECT '?', \"?\", [?] -- ?\n", 0},
		{"SELECT a$b FROM t", 0},
		{"SELECT ?1, ?1", 1},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			pieces := SplitStatements(tt.input)
			require.Len(t, pieces, 1)
			assert.Equal(t, tt.expected, pieces[0].Params)
		})
	}
}

func TestSplitStatements_ParamsPerPiece(t *testing.T) {
	pieces := SplitStatements("INSERT INTO t VALUES (?, ?); SELECT * FROM t WHERE id = ?")
	require.Len(t, pieces, 2)
	assert.Equal(t, 2, pieces[0].Params)
	assert.Equal(t, 1, pieces[1].Params)
	assert.Equal(t, "INSERT", pieces[0].Keyword)
	assert.Equal(t, "SELECT", pieces[1].Keyword)
}
