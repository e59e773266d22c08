// Package authorizer decides whether an action reported by SQLite while it
// compiles a statement may proceed.
//
// The decision is a pure function of the Policy (built once at startup) and the
// Request. It never touches the database.
package authorizer

import "fmt"

// Action is an SQLite authorizer action code. The numeric values are the ones
// defined by the SQLite C API (sqlite3_set_authorizer), so the engine can hand
// the raw code to Policy.Authorize without translation.
type Action int

const (
	ActionCopy              Action = 0
	ActionCreateIndex       Action = 1
	ActionCreateTable       Action = 2
	ActionCreateTempIndex   Action = 3
	ActionCreateTempTable   Action = 4
	ActionCreateTempTrigger Action = 5
	ActionCreateTempView    Action = 6
	ActionCreateTrigger     Action = 7
	ActionCreateView        Action = 8
	ActionDelete            Action = 9
	ActionDropIndex         Action = 10
	ActionDropTable         Action = 11
	ActionDropTempIndex     Action = 12
	ActionDropTempTable     Action = 13
	ActionDropTempTrigger   Action = 14
	ActionDropTempView      Action = 15
	ActionDropTrigger       Action = 16
	ActionDropView          Action = 17
	ActionInsert            Action = 18
	ActionPragma            Action = 19
	ActionRead              Action = 20
	ActionSelect            Action = 21
	ActionTransaction       Action = 22
	ActionUpdate            Action = 23
	ActionAttach            Action = 24
	ActionDetach            Action = 25
	ActionAlterTable        Action = 26
	ActionReindex           Action = 27
	ActionAnalyze           Action = 28
	ActionCreateVTable      Action = 29
	ActionDropVTable        Action = 30
	ActionFunction          Action = 31
	ActionSavepoint         Action = 32
	ActionRecursive         Action = 33
)

// Return codes expected by sqlite3_set_authorizer callbacks.
const (
	CodeOK     = 0
	CodeDeny   = 1
	CodeIgnore = 2
)

var actionNames = map[Action]string{
	ActionCopy:              "copy",
	ActionCreateIndex:       "create_index",
	ActionCreateTable:       "create_table",
	ActionCreateTempIndex:   "create_temp_index",
	ActionCreateTempTable:   "create_temp_table",
	ActionCreateTempTrigger: "create_temp_trigger",
	ActionCreateTempView:    "create_temp_view",
	ActionCreateTrigger:     "create_trigger",
	ActionCreateView:        "create_view",
	ActionDelete:            "delete",
	ActionDropIndex:         "drop_index",
	ActionDropTable:         "drop_table",
	ActionDropTempIndex:     "drop_temp_index",
	ActionDropTempTable:     "drop_temp_table",
	ActionDropTempTrigger:   "drop_temp_trigger",
	ActionDropTempView:      "drop_temp_view",
	ActionDropTrigger:       "drop_trigger",
	ActionDropView:          "drop_view",
	ActionInsert:            "insert",
	ActionPragma:            "pragma",
	ActionRead:              "read",
	ActionSelect:            "select",
	ActionTransaction:       "transaction",
	ActionUpdate:            "update",
	ActionAttach:            "attach",
	ActionDetach:            "detach",
	ActionAlterTable:        "alter_table",
	ActionReindex:           "reindex",
	ActionAnalyze:           "analyze",
	ActionCreateVTable:      "create_vtable",
	ActionDropVTable:        "drop_vtable",
	ActionFunction:          "function",
	ActionSavepoint:         "savepoint",
	ActionRecursive:         "recursive",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// IsSchemaChange reports whether the action compiles a DDL statement. SQLite
// touches its schema tables while compiling these.
func (a Action) IsSchemaChange() bool {
	switch a {
	case ActionCreateIndex, ActionCreateTable, ActionCreateTempIndex, ActionCreateTempTable,
		ActionCreateTempTrigger, ActionCreateTempView, ActionCreateTrigger, ActionCreateView,
		ActionDropIndex, ActionDropTable, ActionDropTempIndex, ActionDropTempTable,
		ActionDropTempTrigger, ActionDropTempView, ActionDropTrigger, ActionDropView,
		ActionAlterTable, ActionReindex, ActionAnalyze, ActionCreateVTable, ActionDropVTable:
		return true
	default:
		return false
	}
}
