package db

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/maxpert/durasql/telemetry"
)

// CursorStatus is the lifecycle state of a Cursor.
type CursorStatus int

const (
	CursorActive CursorStatus = iota
	CursorDone
	CursorInvalidated
)

func (s CursorStatus) String() string {
	switch s {
	case CursorActive:
		return "active"
	case CursorDone:
		return "done"
	default:
		return "invalidated"
	}
}

// Columns is the column index shared by every row of one execution.
type Columns struct {
	names []string
}

// Names returns the column names in result order.
func (c *Columns) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Row is one result row. It is a view over the column index and the values,
// read either as an object keyed by column name or as ordered values.
type Row struct {
	cols   *Columns
	values []interface{}
}

// Values returns the values in column order.
func (r Row) Values() []interface{} {
	out := make([]interface{}, len(r.values))
	copy(out, r.values)
	return out
}

// Object returns the row keyed by column name. When names repeat, the
// rightmost column wins.
func (r Row) Object() map[string]interface{} {
	out := make(map[string]interface{}, len(r.values))
	for i, name := range r.cols.names {
		out[name] = r.values[i]
	}
	return out
}

// Get returns the value of the named column.
func (r Row) Get(name string) (interface{}, bool) {
	for i := len(r.cols.names) - 1; i >= 0; i-- {
		if r.cols.names[i] == name {
			return r.values[i], true
		}
	}
	return nil, false
}

// Columns returns the column names in result order.
func (r Row) Columns() []string {
	return r.cols.Names()
}

// Cursor iterates the rows of one execution of a Statement. It is lazy,
// forward-only and single-pass.
type Cursor struct {
	stmt *Statement
	gen  uint64
	rows driver.Rows
	cols *Columns

	status  CursorStatus
	pending []interface{}
	current Row
	err     error
	read    int
}

func newCursor(s *Statement, rows driver.Rows) *Cursor {
	return &Cursor{
		stmt:   s,
		gen:    s.generation,
		rows:   rows,
		cols:   &Columns{names: rows.Columns()},
		status: CursorActive,
	}
}

// prefetch steps the first row so side effects and errors surface at
// execution time.
func (c *Cursor) prefetch() error {
	values, err := c.step()
	if err != nil {
		c.err = err
		c.finish()
		return err
	}
	if values == nil {
		c.finish()
		return nil
	}
	c.pending = values
	return nil
}

// step reads the next row, returning nil at the end.
func (c *Cursor) step() ([]interface{}, error) {
	dest := make([]driver.Value, len(c.cols.names))
	if err := c.rows.Next(dest); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, c.stmt.engine.translate(err)
	}
	values := make([]interface{}, len(dest))
	for i, v := range dest {
		values[i] = v
	}
	return values, nil
}

// finish marks the cursor Done and resets the statement for reuse.
func (c *Cursor) finish() {
	if c.status != CursorActive {
		return
	}
	c.status = CursorDone
	c.pending = nil
	if c.stmt.generation == c.gen && !c.stmt.closed {
		c.rows.Close()
		c.stmt.release(c)
	}
}

func (c *Cursor) invalidate() {
	if c.status != CursorActive {
		return
	}
	c.status = CursorInvalidated
	c.pending = nil
	telemetry.CursorInvalidationsTotal.Inc()
}

// Status returns the lifecycle state.
func (c *Cursor) Status() CursorStatus {
	return c.status
}

// Next advances to the next row. It returns false when rows are exhausted or
// an error occurred; check Err afterwards.
func (c *Cursor) Next() bool {
	if c.err != nil {
		return false
	}
	switch c.status {
	case CursorDone:
		return false
	case CursorInvalidated:
		c.err = CursorInvalidatedError{SQL: c.stmt.sql}
		return false
	}

	if c.pending != nil {
		c.current = Row{cols: c.cols, values: c.pending}
		c.pending = nil
		c.read++
		return true
	}

	values, err := c.step()
	if err != nil {
		c.err = err
		c.finish()
		return false
	}
	if values == nil {
		c.finish()
		return false
	}
	c.current = Row{cols: c.cols, values: values}
	c.read++
	return true
}

// Row returns the row Next advanced to.
func (c *Cursor) Row() Row {
	return c.current
}

// Err returns the error that stopped iteration, if any.
func (c *Cursor) Err() error {
	return c.err
}

// ColumnNames returns the result column names.
func (c *Cursor) ColumnNames() []string {
	return c.cols.Names()
}

// RowsRead returns the number of rows handed out so far.
func (c *Cursor) RowsRead() int {
	return c.read
}

// Objects iterates rows as objects keyed by column name.
func (c *Cursor) Objects() iter.Seq2[map[string]interface{}, error] {
	return func(yield func(map[string]interface{}, error) bool) {
		for c.Next() {
			if !yield(c.current.Object(), nil) {
				return
			}
		}
		if c.err != nil {
			yield(nil, c.err)
		}
	}
}

// Raw iterates rows as ordered values.
func (c *Cursor) Raw() iter.Seq2[[]interface{}, error] {
	return func(yield func([]interface{}, error) bool) {
		for c.Next() {
			if !yield(c.current.Values(), nil) {
				return
			}
		}
		if c.err != nil {
			yield(nil, c.err)
		}
	}
}

// ToArray drains the cursor into objects.
func (c *Cursor) ToArray() ([]map[string]interface{}, error) {
	out := []map[string]interface{}{}
	for obj, err := range c.Objects() {
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// ErrNotOneRow is returned by One when the cursor does not hold exactly one row.
var ErrNotOneRow = errors.New("expected exactly one row")

// One returns the only row of the cursor.
func (c *Cursor) One() (map[string]interface{}, error) {
	if !c.Next() {
		if c.err != nil {
			return nil, c.err
		}
		return nil, fmt.Errorf("%w: got none", ErrNotOneRow)
	}
	row := c.current.Object()
	if c.Next() {
		c.Close()
		return nil, fmt.Errorf("%w: got more", ErrNotOneRow)
	}
	if c.err != nil {
		return nil, c.err
	}
	return row, nil
}

// drain runs the execution to completion.
func (c *Cursor) drain() error {
	for c.Next() {
	}
	return c.err
}

// Close stops iteration early. Closing a finished or invalidated cursor is a
// no-op.
func (c *Cursor) Close() error {
	c.finish()
	return nil
}
