package db

import (
	"errors"
	"fmt"
)

// AuthorizationError is returned when the authorizer refuses an action while a
// statement compiles. Nothing from the statement has executed.
type AuthorizationError struct {
	Action string
	Reason string
}

func (e AuthorizationError) Error() string {
	return "not authorized: " + e.Reason
}

// SyntaxError covers malformed SQL and anything else SQLite rejects at
// compile time with SQLITE_ERROR (unknown tables, columns, functions).
type SyntaxError struct {
	Msg string
	Err error
}

func (e SyntaxError) Error() string {
	return "SQL error: " + e.Msg
}

func (e SyntaxError) Unwrap() error {
	return e.Err
}

// EmptyStatementError is returned when the text holds nothing executable.
type EmptyStatementError struct{}

func (EmptyStatementError) Error() string {
	return "SQL statement is empty"
}

// ParameterCountError is returned when the bound parameters do not match the
// placeholders of the statement text. Nothing has executed.
type ParameterCountError struct {
	Expected int
	Got      int
}

func (e ParameterCountError) Error() string {
	return fmt.Sprintf("wrong number of bindings: SQL expected %d bindings, got %d", e.Expected, e.Got)
}

// ParameterTypeError is returned when a bound value has no SQLite representation.
type ParameterTypeError struct {
	Index int // 1-based
	Err   error
}

func (e ParameterTypeError) Error() string {
	return fmt.Sprintf("unsupported binding: parameter %d: %v", e.Index, e.Err)
}

func (e ParameterTypeError) Unwrap() error {
	return e.Err
}

// CursorInvalidatedError is returned when a cursor is read after its statement
// was executed again.
type CursorInvalidatedError struct {
	SQL string
}

func (e CursorInvalidatedError) Error() string {
	return fmt.Sprintf("cursor invalidated: statement %q was executed again before this cursor finished", e.SQL)
}

// TransactionRollbackError is returned when rolling back a failed frame fails
// too. Cause is the error that triggered the rollback, nil for an explicit
// Rollback().
type TransactionRollbackError struct {
	Depth       int
	Cause       error
	RollbackErr error
}

func (e TransactionRollbackError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("transaction rollback failed: depth %d: %v", e.Depth, e.RollbackErr)
	}
	return fmt.Sprintf("transaction rollback failed: depth %d: %v (rolling back after: %v)", e.Depth, e.RollbackErr, e.Cause)
}

func (e TransactionRollbackError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.RollbackErr}
	}
	return []error{e.Cause, e.RollbackErr}
}

// IsAuthorizationError reports whether err is, or wraps, an AuthorizationError.
func IsAuthorizationError(err error) bool {
	var target AuthorizationError
	return errors.As(err, &target)
}

// IsCursorInvalidated reports whether err is, or wraps, a CursorInvalidatedError.
func IsCursorInvalidated(err error) bool {
	var target CursorInvalidatedError
	return errors.As(err, &target)
}
