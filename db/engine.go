package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/maxpert/durasql/authorizer"
	"github.com/maxpert/durasql/telemetry"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const reservedNameMessage = "object name reserved for internal use"

// unlimitedPageCount restores SQLite's default page ceiling.
const unlimitedPageCount int64 = 4294967294

// EngineOptions configures an Engine.
type EngineOptions struct {
	Path        string
	Policy      *authorizer.Policy
	BusyTimeout time.Duration
	JournalMode string
}

type denial struct {
	action   authorizer.Action
	decision authorizer.Decision
}

// Engine is one SQLite connection with the authorizer installed.
//
// All compilations of user SQL are checked by the policy. Statements issued by
// durasql itself (transaction control, KV bookkeeping, size pragmas) run on the
// trusted path and bypass it. An Engine is not safe for concurrent use; it is
// owned by a single actor instance.
type Engine struct {
	path   string
	conn   *sqlite3.SQLiteConn
	policy *authorizer.Policy

	trusted      int
	schemaChange bool
	schemaRead   bool
	lastDenial   *denial
	closed       bool
}

// OpenEngine opens (or creates) the database at opts.Path.
func OpenEngine(opts EngineOptions) (*Engine, error) {
	if opts.Policy == nil {
		opts.Policy = authorizer.MustNewPolicy(authorizer.DefaultConfig())
	}

	e := &Engine{
		path:   opts.Path,
		policy: opts.Policy,
	}

	// Driver setup pragmas run before the authorizer is installed.
	raw, err := newDriver(e).Open(buildDSN(opts.Path, opts.BusyTimeout, opts.JournalMode))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", opts.Path, err)
	}

	conn, ok := raw.(*sqlite3.SQLiteConn)
	if !ok {
		raw.Close()
		return nil, fmt.Errorf("unexpected driver connection type %T", raw)
	}
	e.conn = conn

	log.Debug().Str("path", opts.Path).Msg("Opened engine")
	return e, nil
}

// Path returns the database file path.
func (e *Engine) Path() string {
	return e.path
}

// Close closes the connection. Any open transaction is rolled back by SQLite.
// All statements must be finalized first or the connection lingers.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return e.conn.Close()
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	return e.closed
}

// InTransaction reports whether SQLite has a transaction open.
func (e *Engine) InTransaction() bool {
	return !e.conn.AutoCommit()
}

func (e *Engine) authorize(op int, arg1, arg2, arg3 string) int {
	if e.trusted > 0 {
		return authorizer.CodeOK
	}

	req := authorizer.Request{
		Action:       authorizer.Action(op),
		Arg1:         arg1,
		Arg2:         arg2,
		Database:     arg3,
		SchemaChange: e.schemaChange,
		SchemaRead:   e.schemaRead,
	}

	d := e.policy.Authorize(req)
	if !d.Allow {
		if e.lastDenial == nil {
			e.lastDenial = &denial{action: req.Action, decision: d}
		}
		telemetry.AuthorizerDenialsTotal.With(req.Action.String()).Inc()
		log.Debug().
			Str("action", req.Action.String()).
			Str("arg1", arg1).
			Str("arg2", arg2).
			Str("reason", d.Reason).
			Msg("Authorizer denied action")
		return authorizer.CodeDeny
	}

	if req.Action.IsSchemaChange() {
		e.schemaChange = true
	}
	if authorizer.GrantsSchemaRead(req) {
		e.schemaRead = true
	}
	return authorizer.CodeOK
}

// resetCompileState starts a new authorization scope. Called before every
// user compilation and execution.
func (e *Engine) resetCompileState() {
	e.schemaChange = false
	e.schemaRead = false
	e.lastDenial = nil
}

// translate maps driver errors to the package error types. A denial recorded
// by the authorizer wins over the driver code: SQLite reports some denials,
// such as functions, as plain SQLITE_ERROR.
func (e *Engine) translate(err error) error {
	if err == nil {
		return nil
	}

	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}

	if d := e.lastDenial; d != nil {
		e.lastDenial = nil
		if d.decision.Kind == authorizer.DenialSyntax {
			return SyntaxError{Msg: d.decision.Reason, Err: err}
		}
		return AuthorizationError{Action: d.action.String(), Reason: d.decision.Reason}
	}

	switch se.Code {
	case sqlite3.ErrAuth:
		return AuthorizationError{Reason: se.Error()}
	case sqlite3.ErrError:
		// SQLite refuses sqlite_ names before asking the authorizer.
		if strings.Contains(se.Error(), reservedNameMessage) {
			return AuthorizationError{Reason: se.Error()}
		}
		return SyntaxError{Msg: se.Error(), Err: err}
	default:
		return err
	}
}

// prepare compiles user SQL under the policy.
func (e *Engine) prepare(query string) (*sqlite3.SQLiteStmt, error) {
	if e.closed {
		return nil, errEngineClosed
	}

	e.resetCompileState()
	ds, err := e.conn.Prepare(query)
	if err != nil {
		return nil, e.translate(err)
	}

	st, ok := ds.(*sqlite3.SQLiteStmt)
	if !ok {
		ds.Close()
		return nil, fmt.Errorf("unexpected driver statement type %T", ds)
	}
	return st, nil
}

// withTrusted runs fn with the authorizer bypassed.
func (e *Engine) withTrusted(fn func() error) error {
	if e.closed {
		return errEngineClosed
	}
	e.trusted++
	defer func() { e.trusted-- }()
	return fn()
}

// ExecTrusted runs a statement on the trusted path.
func (e *Engine) ExecTrusted(query string, args ...interface{}) error {
	return e.withTrusted(func() error {
		_, err := e.conn.ExecContext(context.Background(), query, namedValues(args))
		return err
	})
}

// QueryTrusted runs a query on the trusted path and calls fn for each row.
// dest is reused between rows.
func (e *Engine) QueryTrusted(query string, args []interface{}, fn func(dest []driver.Value) error) error {
	return e.withTrusted(func() error {
		rows, err := e.conn.QueryContext(context.Background(), query, namedValues(args))
		if err != nil {
			return err
		}
		defer rows.Close()

		dest := make([]driver.Value, len(rows.Columns()))
		for {
			if err := rows.Next(dest); err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
			if err := fn(dest); err != nil {
				return err
			}
		}
	})
}

func (e *Engine) pragmaInt(name string) (int64, error) {
	var value int64
	err := e.QueryTrusted("PRAGMA "+name, nil, func(dest []driver.Value) error {
		v, ok := dest[0].(int64)
		if !ok {
			return fmt.Errorf("PRAGMA %s returned %T", name, dest[0])
		}
		value = v
		return nil
	})
	return value, err
}

// PageSize returns the database page size in bytes.
func (e *Engine) PageSize() (int64, error) {
	return e.pragmaInt("page_size")
}

// DatabaseSize returns the live database size in bytes.
func (e *Engine) DatabaseSize() (int64, error) {
	pages, err := e.pragmaInt("page_count")
	if err != nil {
		return 0, err
	}
	pageSize, err := e.PageSize()
	if err != nil {
		return 0, err
	}
	return pages * pageSize, nil
}

// SetMaxPageCount caps the database at pages pages; 0 removes the cap.
// SQLite never lowers the cap below the current page count and returns the
// effective value.
func (e *Engine) SetMaxPageCount(pages int64) (int64, error) {
	if pages <= 0 {
		pages = unlimitedPageCount
	}
	return e.pragmaInt(fmt.Sprintf("max_page_count = %d", pages))
}

func namedValues(args []interface{}) []driver.NamedValue {
	if len(args) == 0 {
		return nil
	}
	out := make([]driver.NamedValue, len(args))
	for i, a := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: a}
	}
	return out
}

var errEngineClosed = errors.New("database is closed")
