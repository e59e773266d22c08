package db

import (
	"context"
	"database/sql/driver"
	"errors"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maxpert/durasql/telemetry"
	"github.com/rs/zerolog/log"
)

// DefaultStatementCacheSize is used when no cache size is configured.
const DefaultStatementCacheSize = 100

var errStatementClosed = errors.New("statement is closed")

// StatementManager compiles, caches and executes user SQL on one Engine.
type StatementManager struct {
	engine   *Engine
	cache    *lru.Cache[uint64, *Statement]
	prepared map[*Statement]struct{}
	// detached holds one-shot statements and statements evicted while their
	// cursor was live. They close themselves when the cursor finishes.
	detached map[*Statement]struct{}

	beforeExecute func() error
}

// NewStatementManager creates a manager caching up to cacheSize statements.
func NewStatementManager(engine *Engine, cacheSize int) (*StatementManager, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultStatementCacheSize
	}

	m := &StatementManager{
		engine:   engine,
		prepared: make(map[*Statement]struct{}),
		detached: make(map[*Statement]struct{}),
	}

	cache, err := lru.NewWithEvict[uint64, *Statement](cacheSize, func(_ uint64, s *Statement) {
		if s.evict() {
			m.detached[s] = struct{}{}
		}
	})
	if err != nil {
		return nil, err
	}
	m.cache = cache
	return m, nil
}

// SetBeforeExecute installs a hook run before every execution of user SQL,
// typically TransactionCoordinator.EnsureImplicit.
func (m *StatementManager) SetBeforeExecute(fn func() error) {
	m.beforeExecute = fn
}

func (m *StatementManager) runBeforeExecute() error {
	if m.beforeExecute == nil {
		return nil
	}
	return m.beforeExecute()
}

// Engine returns the underlying engine.
func (m *StatementManager) Engine() *Engine {
	return m.engine
}

// Exec runs every statement in sqlText and returns a cursor over the last
// one. params are consumed in order across the statements. Statements before
// the last run to completion; the first row of the last is stepped before Exec
// returns.
func (m *StatementManager) Exec(ctx context.Context, sqlText string, params ...interface{}) (*Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pieces := SplitStatements(sqlText)
	if len(pieces) == 0 {
		return nil, EmptyStatementError{}
	}

	expected := 0
	for _, p := range pieces {
		expected += p.Params
	}
	if expected != len(params) {
		return nil, ParameterCountError{Expected: expected, Got: len(params)}
	}

	if err := m.runBeforeExecute(); err != nil {
		return nil, err
	}

	offset := 0
	for i, p := range pieces {
		st, err := m.acquire(p)
		if err != nil {
			return nil, err
		}

		if st.numInput != p.Params {
			// The compiled statement disagrees with the lexical count.
			st.release(nil)
			return nil, ParameterCountError{Expected: expected - p.Params + st.numInput, Got: len(params)}
		}

		args, err := convertParams(params[offset:offset+st.numInput], offset)
		if err != nil {
			st.release(nil)
			return nil, err
		}
		offset += st.numInput

		cursor, err := st.execute(args)
		if err != nil {
			if st.oneShot {
				st.close()
			}
			return nil, err
		}

		if i == len(pieces)-1 {
			return cursor, nil
		}
		if err := cursor.drain(); err != nil {
			return nil, err
		}
	}

	// unreachable: pieces is not empty
	return nil, EmptyStatementError{}
}

// Prepare compiles a single statement for repeated execution. Prepared
// statements are not cached; they live until Close or Teardown.
func (m *StatementManager) Prepare(ctx context.Context, sqlText string) (*PreparedStatement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pieces := SplitStatements(sqlText)
	switch {
	case len(pieces) == 0:
		return nil, EmptyStatementError{}
	case len(pieces) > 1:
		return nil, SyntaxError{Msg: "a prepared statement must contain exactly one statement"}
	}

	st, err := m.compile(pieces[0])
	if err != nil {
		return nil, err
	}
	m.prepared[st] = struct{}{}
	return &PreparedStatement{mgr: m, stmt: st}, nil
}

// acquire returns a cached statement for p, compiling it on a miss. A cached
// statement whose cursor is still live is left alone and a one-shot statement
// is compiled instead, so cursors returned by Exec never invalidate each other.
func (m *StatementManager) acquire(p Piece) (*Statement, error) {
	key := xxhash.Sum64String(p.SQL)

	if st, ok := m.cache.Get(key); ok {
		if st.sql == p.SQL {
			if !st.busy() {
				telemetry.StatementCacheTotal.With("hit").Inc()
				return st, nil
			}

			telemetry.StatementCacheTotal.With("busy").Inc()
			oneShot, err := m.compile(p)
			if err != nil {
				return nil, err
			}
			oneShot.oneShot = true
			m.detached[oneShot] = struct{}{}
			return oneShot, nil
		}

		// Hash collision, the newer text takes the slot.
		m.cache.Remove(key)
	}

	telemetry.StatementCacheTotal.With("miss").Inc()
	st, err := m.compile(p)
	if err != nil {
		return nil, err
	}
	m.cache.Add(key, st)
	return st, nil
}

func (m *StatementManager) compile(p Piece) (*Statement, error) {
	raw, err := m.engine.prepare(p.SQL)
	if err != nil {
		return nil, err
	}

	return &Statement{
		sql:      p.SQL,
		kind:     classify(p),
		mgr:      m,
		engine:   m.engine,
		stmt:     raw,
		numInput: raw.NumInput(),
	}, nil
}

// Teardown finalizes every statement. Live cursors are invalidated.
func (m *StatementManager) Teardown() {
	for st := range m.prepared {
		st.close()
	}
	m.prepared = make(map[*Statement]struct{})

	for _, st := range m.cache.Values() {
		st.close()
	}
	m.cache.Purge()

	for st := range m.detached {
		st.close()
	}
	m.detached = make(map[*Statement]struct{})

	log.Debug().Str("path", m.engine.Path()).Msg("Statement manager torn down")
}

// OpenStatements returns the number of statements not yet finalized.
func (m *StatementManager) OpenStatements() int {
	return m.cache.Len() + len(m.prepared) + len(m.detached)
}

// convertParams converts Go values to driver values. offset is the number of
// parameters consumed by earlier statements, for error messages.
func convertParams(params []interface{}, offset int) ([]driver.NamedValue, error) {
	if len(params) == 0 {
		return nil, nil
	}

	out := make([]driver.NamedValue, len(params))
	for i, p := range params {
		v, err := driver.DefaultParameterConverter.ConvertValue(p)
		if err != nil {
			return nil, ParameterTypeError{Index: offset + i + 1, Err: err}
		}
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out, nil
}
