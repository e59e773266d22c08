package authorizer

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// DenialKind tells the caller how a denial should be surfaced.
type DenialKind int

const (
	// DenialPolicy is a plain policy refusal.
	DenialPolicy DenialKind = iota
	// DenialSyntax is a malformed value the policy refuses to interpret,
	// e.g. a non-boolean assigned to a toggle pragma.
	DenialSyntax
)

// Request describes one action SQLite asks about while compiling.
type Request struct {
	Action Action
	Arg1   string
	Arg2   string
	// Database is the schema name SQLite reports ("main", "temp", ...).
	Database string
	// SchemaChange is true once an allowed DDL action was reported earlier in
	// the same compilation.
	SchemaChange bool
	// SchemaRead is true once SQLite started compiling its own bookkeeping
	// statements for that DDL, see GrantsSchemaRead.
	SchemaRead bool
}

// Decision is the outcome of Authorize.
type Decision struct {
	Allow  bool
	Kind   DenialKind
	Reason string
}

var allow = Decision{Allow: true}

func deny(format string, args ...interface{}) Decision {
	return Decision{Kind: DenialPolicy, Reason: fmt.Sprintf(format, args...)}
}

// Config holds the tunable parts of the policy.
type Config struct {
	// ReservedPatterns are glob patterns for names actors may never touch.
	ReservedPatterns []string
	// VTableModules lists the virtual table modules actors may instantiate.
	VTableModules []string
	// DeniedFunctions lists SQL functions that are never callable.
	DeniedFunctions []string
}

// DefaultConfig returns the policy used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ReservedPatterns: []string{"__durasql_*", "sqlite_*"},
		VTableModules:    []string{"fts5", "fts4", "fts3", "rtree"},
		DeniedFunctions:  []string{"load_extension", "fts3_tokenizer", "readfile", "writefile", "edit"},
	}
}

// SQLite writes these while compiling DDL. Direct writes by users are refused
// by SQLite itself unless writable_schema is on, and that pragma is denied.
var schemaTables = map[string]struct{}{
	"sqlite_master":      {},
	"sqlite_schema":      {},
	"sqlite_temp_master": {},
	"sqlite_temp_schema": {},
	"sqlite_stat1":       {},
	"sqlite_stat2":       {},
	"sqlite_stat3":       {},
	"sqlite_stat4":       {},
}

// Bookkeeping tables SQLite maintains through nested statements of its own,
// e.g. sqlite_sequence for AUTOINCREMENT. Users may write them directly, so
// they are only reachable while a schema change is being compiled.
var engineTables = map[string]struct{}{
	"sqlite_sequence": {},
}

// Helper functions SQLite calls from the nested statements it generates for
// ALTER TABLE.
var schemaRewriteFunctions = map[string]struct{}{
	"sqlite_rename_column":   {},
	"sqlite_rename_table":    {},
	"sqlite_rename_test":     {},
	"sqlite_rename_quotefix": {},
	"sqlite_drop_column":     {},
}

// Policy is the immutable authorization policy.
type Policy struct {
	reserved        []glob.Glob
	vtableModules   map[string]struct{}
	deniedFunctions map[string]struct{}
}

// NewPolicy compiles a policy from its configuration.
func NewPolicy(cfg Config) (*Policy, error) {
	p := &Policy{
		reserved:        make([]glob.Glob, 0, len(cfg.ReservedPatterns)),
		vtableModules:   make(map[string]struct{}, len(cfg.VTableModules)),
		deniedFunctions: make(map[string]struct{}, len(cfg.DeniedFunctions)),
	}

	for _, pattern := range cfg.ReservedPatterns {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid reserved pattern %q: %w", pattern, err)
		}
		p.reserved = append(p.reserved, g)
	}
	for _, m := range cfg.VTableModules {
		p.vtableModules[strings.ToLower(m)] = struct{}{}
	}
	for _, f := range cfg.DeniedFunctions {
		p.deniedFunctions[strings.ToLower(f)] = struct{}{}
	}

	return p, nil
}

// MustNewPolicy is NewPolicy for static configurations known to be valid.
func MustNewPolicy(cfg Config) *Policy {
	p, err := NewPolicy(cfg)
	if err != nil {
		panic(err)
	}
	return p
}

// IsReserved reports whether name matches a reserved pattern. SQLite names
// are case-insensitive, so matching is too.
func (p *Policy) IsReserved(name string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	for _, g := range p.reserved {
		if g.Match(lower) {
			return true
		}
	}
	return false
}

func isSchemaTable(name string) bool {
	_, ok := schemaTables[strings.ToLower(name)]
	return ok
}

func isEngineTable(name string) bool {
	_, ok := engineTables[strings.ToLower(name)]
	return ok
}

// isAutoIndex reports whether index is the name SQLite gives the index backing
// a PRIMARY KEY or UNIQUE constraint of table: sqlite_autoindex_<table>_<n>.
func isAutoIndex(index, table string) bool {
	prefix := "sqlite_autoindex_" + table + "_"
	if len(index) <= len(prefix) || !strings.EqualFold(index[:len(prefix)], prefix) {
		return false
	}
	for _, r := range index[len(prefix):] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// GrantsSchemaRead reports whether an allowed req lets the rest of the
// compilation read schema and engine tables. ALTER and DROP rewrite the schema
// table through statements SQLite generates itself. Other DDL only reads it
// back after writing it, which happens after any user query in the statement
// has been compiled.
func GrantsSchemaRead(req Request) bool {
	switch req.Action {
	case ActionAlterTable,
		ActionDropIndex, ActionDropTable, ActionDropTempIndex, ActionDropTempTable,
		ActionDropTempTrigger, ActionDropTempView, ActionDropTrigger, ActionDropView, ActionDropVTable:
		return true
	case ActionInsert, ActionUpdate, ActionDelete:
		return req.SchemaChange && (isSchemaTable(req.Arg1) || isEngineTable(req.Arg1))
	default:
		return false
	}
}

// Authorize decides a single request.
func (p *Policy) Authorize(req Request) Decision {
	switch req.Action {
	case ActionSelect, ActionRecursive:
		return allow

	case ActionTransaction:
		return deny("transaction control statements are not allowed (%s); use the transaction API", strings.ToUpper(req.Arg1))

	case ActionSavepoint:
		return deny("savepoint statements are not allowed (%s); use the transaction API", savepointStatement(req.Arg1, req.Arg2))

	case ActionAttach, ActionDetach:
		return deny("%s is not allowed", strings.ToUpper(req.Action.String()))

	case ActionInsert, ActionUpdate, ActionDelete:
		if isSchemaTable(req.Arg1) || (req.SchemaChange && isEngineTable(req.Arg1)) {
			return allow
		}
		return p.checkNames(req.Action, req.Arg1, req.Arg2)

	case ActionRead:
		if req.SchemaRead && (isSchemaTable(req.Arg1) || isEngineTable(req.Arg1)) {
			return allow
		}
		return p.checkNames(req.Action, req.Arg1, req.Arg2)

	case ActionFunction:
		return p.authorizeFunction(req)

	case ActionPragma:
		return p.authorizePragma(req)

	case ActionAlterTable:
		// Arg1 is the schema name, Arg2 the table.
		return p.checkNames(req.Action, req.Arg2)

	case ActionCreateVTable:
		if d := p.checkNames(req.Action, req.Arg1); !d.Allow {
			return d
		}
		if _, ok := p.vtableModules[strings.ToLower(req.Arg2)]; !ok {
			return deny("virtual table module %q is not allowed", req.Arg2)
		}
		return allow

	case ActionCreateIndex, ActionCreateTempIndex:
		if req.SchemaChange && isAutoIndex(req.Arg1, req.Arg2) {
			return p.checkNames(req.Action, req.Arg2)
		}
		return p.checkNames(req.Action, req.Arg1, req.Arg2)

	case ActionCreateTrigger, ActionCreateTempTrigger,
		ActionDropIndex, ActionDropTempIndex, ActionDropTrigger, ActionDropTempTrigger:
		// Arg1 is the index or trigger, Arg2 the table it belongs to.
		return p.checkNames(req.Action, req.Arg1, req.Arg2)

	case ActionCreateTable:
		if req.SchemaChange && isEngineTable(req.Arg1) {
			return allow
		}
		return p.checkNames(req.Action, req.Arg1)

	case ActionCreateTempTable, ActionCreateView, ActionCreateTempView,
		ActionDropTable, ActionDropTempTable, ActionDropView, ActionDropTempView,
		ActionDropVTable, ActionReindex, ActionAnalyze:
		return p.checkNames(req.Action, req.Arg1)

	default:
		return allow
	}
}

func (p *Policy) checkNames(action Action, names ...string) Decision {
	for _, name := range names {
		if p.IsReserved(name) {
			return deny("access to %s is prohibited (%s)", name, action)
		}
	}
	return allow
}

// savepointStatement renders the statement SQLite reports as a savepoint
// operation: BEGIN for SAVEPOINT, RELEASE or ROLLBACK TO.
func savepointStatement(op, name string) string {
	switch strings.ToUpper(op) {
	case "BEGIN":
		return "SAVEPOINT " + name
	case "ROLLBACK":
		return "ROLLBACK TO " + name
	default:
		return strings.ToUpper(op) + " " + name
	}
}

func (p *Policy) authorizeFunction(req Request) Decision {
	// SQLite passes the function name as the second argument.
	name := strings.ToLower(req.Arg2)
	if _, ok := schemaRewriteFunctions[name]; ok && req.SchemaRead {
		return allow
	}
	if _, ok := p.deniedFunctions[name]; ok {
		return deny("function %s() is prohibited", req.Arg2)
	}
	if p.IsReserved(name) {
		return deny("function %s() is prohibited", req.Arg2)
	}
	return allow
}

func (p *Policy) authorizePragma(req Request) Decision {
	name := strings.ToLower(req.Arg1)
	switch ClassifyPragma(name) {
	case PragmaIntrospect:
		if req.Arg2 == "" {
			return allow
		}
		switch introspectPragmas[name] {
		case argTable:
			return p.checkNames(req.Action, req.Arg2)
		case argScalar:
			return allow
		default:
			return deny("PRAGMA %s is read-only", name)
		}

	case PragmaToggle:
		if req.Arg2 == "" {
			return allow
		}
		if _, err := ParseBool(req.Arg2); err != nil {
			return Decision{
				Kind:   DenialSyntax,
				Reason: fmt.Sprintf("PRAGMA %s: %v", name, err),
			}
		}
		return allow

	default:
		return deny("PRAGMA %s is prohibited", name)
	}
}
