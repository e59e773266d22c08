package db

import (
	"context"
	"database/sql/driver"

	"github.com/maxpert/durasql/telemetry"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Statement is a compiled statement owned by a StatementManager.
//
// Each execution advances generation. The cursor of the previous execution is
// invalidated unless it already reached Done.
type Statement struct {
	sql        string
	kind       string
	mgr        *StatementManager
	engine     *Engine
	stmt       *sqlite3.SQLiteStmt
	numInput   int
	generation uint64
	live       *Cursor

	// oneShot statements are closed as soon as their cursor finishes.
	oneShot bool
	// evicted statements left the cache while a cursor was live.
	evicted bool
	closed  bool
}

// SQL returns the source text.
func (s *Statement) SQL() string {
	return s.sql
}

// NumInput returns the number of parameters the statement takes.
func (s *Statement) NumInput() int {
	return s.numInput
}

// Kind returns the statement classification.
func (s *Statement) Kind() string {
	return s.kind
}

// Generation returns the number of executions so far.
func (s *Statement) Generation() uint64 {
	return s.generation
}

// busy reports whether the current execution still has rows to hand out.
func (s *Statement) busy() bool {
	return s.live != nil && s.live.status == CursorActive
}

// execute binds args and runs the statement, returning a cursor whose first
// row has already been stepped.
func (s *Statement) execute(args []driver.NamedValue) (*Cursor, error) {
	if s.closed {
		return nil, errStatementClosed
	}

	if s.live != nil {
		s.live.invalidate()
		s.live = nil
	}
	s.generation++

	s.engine.resetCompileState()
	rows, err := s.stmt.QueryContext(context.Background(), args)
	if err != nil {
		return nil, s.engine.translate(err)
	}

	telemetry.StatementsTotal.With(s.kind).Inc()

	c := newCursor(s, rows)
	s.live = c
	if err := c.prefetch(); err != nil {
		return nil, err
	}
	return c, nil
}

// release is called by the cursor of the current generation once it is done.
func (s *Statement) release(c *Cursor) {
	if s.live == c {
		s.live = nil
	}
	if s.oneShot || s.evicted {
		s.close()
	}
}

// evict is the cache eviction callback. It reports whether the statement
// stays open until its cursor finishes.
func (s *Statement) evict() bool {
	if s.busy() {
		s.evicted = true
		return true
	}
	s.close()
	return false
}

func (s *Statement) close() {
	if s.closed {
		return
	}
	if s.live != nil {
		s.live.invalidate()
		s.live = nil
	}
	s.closed = true
	if s.mgr != nil {
		delete(s.mgr.detached, s)
	}
	if err := s.stmt.Close(); err != nil {
		log.Warn().Err(err).Str("sql", s.sql).Msg("Failed to finalize statement")
	}
}

// PreparedStatement is a statement compiled once and executed many times.
type PreparedStatement struct {
	mgr  *StatementManager
	stmt *Statement
}

// SQL returns the source text.
func (p *PreparedStatement) SQL() string {
	return p.stmt.sql
}

// NumInput returns the number of parameters Exec expects.
func (p *PreparedStatement) NumInput() int {
	return p.stmt.numInput
}

// Exec rebinds params and executes the statement again. A cursor from a
// previous Exec that has not reached Done is invalidated.
func (p *PreparedStatement) Exec(ctx context.Context, params ...interface{}) (*Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.stmt.closed {
		return nil, errStatementClosed
	}
	if len(params) != p.stmt.numInput {
		return nil, ParameterCountError{Expected: p.stmt.numInput, Got: len(params)}
	}

	args, err := convertParams(params, 0)
	if err != nil {
		return nil, err
	}
	if err := p.mgr.runBeforeExecute(); err != nil {
		return nil, err
	}
	return p.stmt.execute(args)
}

// Close finalizes the statement and invalidates its live cursor.
func (p *PreparedStatement) Close() error {
	delete(p.mgr.prepared, p.stmt)
	p.stmt.close()
	return nil
}
