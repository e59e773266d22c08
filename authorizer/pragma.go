package authorizer

import (
	"fmt"
	"strings"
)

// PragmaClass groups pragmas by what actors may do with them.
type PragmaClass int

const (
	// PragmaDenied covers engine tuning knobs and anything not listed.
	PragmaDenied PragmaClass = iota
	// PragmaIntrospect pragmas may be read. Their argument, when present,
	// names a table or index and is checked like any other name.
	PragmaIntrospect
	// PragmaToggle pragmas may be read and set to a boolean.
	PragmaToggle
)

func (c PragmaClass) String() string {
	switch c {
	case PragmaIntrospect:
		return "introspect"
	case PragmaToggle:
		return "toggle"
	default:
		return "denied"
	}
}

// pragmaArg says how the argument of an introspection pragma is interpreted.
type pragmaArg int

const (
	// argNone: the pragma takes no argument, so any value is a write.
	argNone pragmaArg = iota
	// argTable: the argument names a table or index.
	argTable
	// argScalar: the argument is a row limit or schema name.
	argScalar
)

var introspectPragmas = map[string]pragmaArg{
	"table_info":        argTable,
	"table_xinfo":       argTable,
	"index_info":        argTable,
	"index_xinfo":       argTable,
	"index_list":        argTable,
	"foreign_key_list":  argTable,
	"foreign_key_check": argTable,
	"table_list":        argScalar,
	"quick_check":       argScalar,
	"integrity_check":   argScalar,
	"data_version":      argNone,
	"page_size":         argNone,
	"page_count":        argNone,
	"freelist_count":    argNone,
	"collation_list":    argNone,
	"function_list":     argNone,
	"module_list":       argNone,
	"pragma_list":       argNone,
	"compile_options":   argNone,
}

var togglePragmas = map[string]struct{}{
	"foreign_keys":        {},
	"defer_foreign_keys":  {},
	"recursive_triggers":  {},
	"case_sensitive_like": {},
}

// ClassifyPragma returns the class of the named pragma.
func ClassifyPragma(name string) PragmaClass {
	name = strings.ToLower(name)
	if _, ok := introspectPragmas[name]; ok {
		return PragmaIntrospect
	}
	if _, ok := togglePragmas[name]; ok {
		return PragmaToggle
	}
	return PragmaDenied
}

// ParseBool parses a pragma boolean the way SQLite applies it: true/false,
// on/off, yes/no or 1/0, case-insensitive. SQLite dequotes the value before
// the authorizer sees it and matches the rest exactly, so anything else,
// including padded words, is refused rather than silently read as false.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true", "on", "yes", "1":
		return true, nil
	case "false", "off", "no", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value %q", value)
	}
}
