package db

import (
	"strings"

	rqlitesql "github.com/rqlite/sql"
)

// Statement kinds, used as metric labels.
const (
	KindSelect = "select"
	KindInsert = "insert"
	KindUpdate = "update"
	KindDelete = "delete"
	KindDDL    = "ddl"
	KindPragma = "pragma"
	KindOther  = "other"
)

// classify labels a statement using the rqlite/sql AST, falling back to its
// first keyword for statements the parser does not cover.
func classify(p Piece) string {
	if p.Keyword == "PRAGMA" {
		return KindPragma
	}

	parser := rqlitesql.NewParser(strings.NewReader(p.SQL))
	stmt, err := parser.ParseStatement()
	if err != nil {
		return classifyKeyword(p.Keyword)
	}

	switch stmt.(type) {
	case *rqlitesql.SelectStatement:
		return KindSelect
	case *rqlitesql.InsertStatement:
		return KindInsert
	case *rqlitesql.UpdateStatement:
		return KindUpdate
	case *rqlitesql.DeleteStatement:
		return KindDelete
	case *rqlitesql.CreateTableStatement, *rqlitesql.CreateIndexStatement,
		*rqlitesql.CreateViewStatement, *rqlitesql.CreateTriggerStatement,
		*rqlitesql.DropTableStatement, *rqlitesql.DropIndexStatement,
		*rqlitesql.DropViewStatement, *rqlitesql.DropTriggerStatement,
		*rqlitesql.AlterTableStatement:
		return KindDDL
	default:
		return classifyKeyword(p.Keyword)
	}
}

func classifyKeyword(keyword string) string {
	switch keyword {
	case "SELECT", "VALUES", "WITH":
		return KindSelect
	case "INSERT", "REPLACE":
		return KindInsert
	case "UPDATE":
		return KindUpdate
	case "DELETE":
		return KindDelete
	case "CREATE", "DROP", "ALTER", "REINDEX", "ANALYZE":
		return KindDDL
	case "PRAGMA":
		return KindPragma
	default:
		return KindOther
	}
}
