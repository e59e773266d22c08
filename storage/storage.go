package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/maxpert/durasql/authorizer"
	"github.com/maxpert/durasql/db"
	"github.com/maxpert/durasql/encoding"
	"github.com/maxpert/durasql/telemetry"
	"github.com/rs/zerolog/log"
)

// State is the lifecycle state of a Storage.
type State int

const (
	StateActive State = iota
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures Open.
type Options struct {
	Path               string
	Policy             *authorizer.Policy
	StatementCacheSize int
	CompressThreshold  int
	BusyTimeout        time.Duration
	JournalMode        string
	// VoluntarySizeLimit in bytes, 0 for none.
	VoluntarySizeLimit int64
}

// KV is one entry returned by List.
type KV struct {
	Key   string
	Value interface{}
}

// Storage is the durable state of one actor: its SQL database plus a key-value
// table, with writes becoming durable only when Flush commits the turn.
//
// Storage is not safe for concurrent use. Its owner runs every call on a single
// goroutine.
type Storage struct {
	engine *db.Engine
	stmts  *db.StatementManager
	coord  *db.TransactionCoordinator
	buffer *WriteBuffer
	kv     *kvTable
	codec  *encoding.Codec

	pageSize  int64
	sizeLimit int64

	state    State
	abortErr AbortError
}

// Open opens the database at opts.Path and prepares it for use.
func Open(opts Options) (*Storage, error) {
	engine, err := db.OpenEngine(db.EngineOptions{
		Path:        opts.Path,
		Policy:      opts.Policy,
		BusyTimeout: opts.BusyTimeout,
		JournalMode: opts.JournalMode,
	})
	if err != nil {
		return nil, err
	}

	s, err := newStorage(engine, opts)
	if err != nil {
		engine.Close()
		return nil, err
	}

	log.Debug().Str("path", opts.Path).Msg("Storage opened")
	return s, nil
}

func newStorage(engine *db.Engine, opts Options) (*Storage, error) {
	cacheSize := opts.StatementCacheSize
	if cacheSize <= 0 {
		cacheSize = db.DefaultStatementCacheSize
	}
	stmts, err := db.NewStatementManager(engine, cacheSize)
	if err != nil {
		return nil, err
	}

	s := &Storage{
		engine: engine,
		stmts:  stmts,
		coord:  db.NewTransactionCoordinator(engine),
		kv:     &kvTable{engine: engine},
		codec:  encoding.NewCodec(opts.CompressThreshold),
	}
	s.buffer = NewWriteBuffer(s.kv.apply)
	s.coord.AddListener(s.buffer)
	stmts.SetBeforeExecute(s.coord.EnsureImplicit)

	if err := s.kv.create(); err != nil {
		return nil, err
	}
	if s.pageSize, err = engine.PageSize(); err != nil {
		return nil, fmt.Errorf("failed to read page size: %w", err)
	}
	if opts.VoluntarySizeLimit > 0 {
		if err := s.SetVoluntarySizeLimit(opts.VoluntarySizeLimit); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// State returns the lifecycle state.
func (s *Storage) State() State {
	return s.state
}

// Err returns the AbortError once the storage was aborted or closed, nil
// while it is active.
func (s *Storage) Err() error {
	if s.state == StateActive {
		return nil
	}
	return s.abortErr
}

func (s *Storage) checkActive() error {
	if s.state != StateActive {
		return s.abortErr
	}
	return nil
}

// Get returns the value stored under key, including writes not flushed yet.
func (s *Storage) Get(ctx context.Context, key string) (interface{}, bool, error) {
	if err := s.checkActive(); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	if m, ok := s.buffer.Lookup(key); ok {
		if m.Tombstone {
			return nil, false, nil
		}
		v, err := s.codec.Decode(m.Value)
		return v, err == nil, err
	}

	data, found, err := s.kv.get(key)
	if err != nil || !found {
		return nil, false, err
	}
	v, err := s.codec.Decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode key %q: %w", key, err)
	}
	return v, true, nil
}

// Put buffers value under key. The value is encoded immediately, so
// unserializable values and size limit violations are reported here.
func (s *Storage) Put(ctx context.Context, key string, value interface{}) error {
	if err := s.checkActive(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := s.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("failed to encode key %q: %w", key, err)
	}

	if s.sizeLimit > 0 {
		size, err := s.engine.DatabaseSize()
		if err != nil {
			return err
		}
		projected := size + s.buffer.PendingBytes() + int64(len(key)+len(data))
		if projected > s.sizeLimit {
			telemetry.DatabaseSizeLimitRejectionsTotal.Inc()
			return fmt.Errorf("%w: writing %q would grow the database to %d bytes (limit %d)",
				ErrSizeLimitExceeded, key, projected, s.sizeLimit)
		}
	}

	s.buffer.Put(key, data)
	return nil
}

// Delete buffers the removal of key and reports whether it existed.
func (s *Storage) Delete(ctx context.Context, key string) (bool, error) {
	_, existed, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	s.buffer.Delete(key)
	return existed, nil
}

// List returns the entries in the selected range, buffered writes merged over
// the stored ones.
func (s *Storage) List(ctx context.Context, opts ListOptions) ([]KV, error) {
	if err := s.checkActive(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Buffered tombstones may hide stored rows, so fetch enough to fill the
	// limit anyway.
	buffered := s.buffer.Merged()
	limit := 0
	if opts.Limit > 0 {
		limit = opts.Limit + len(buffered)
	}
	rows, err := s.kv.list(opts, limit)
	if err != nil {
		return nil, err
	}

	merged := make(map[string][]byte, len(rows))
	for _, r := range rows {
		merged[r.key] = r.value
	}
	for _, m := range buffered {
		if !opts.contains(m.Key) {
			continue
		}
		if m.Tombstone {
			delete(merged, m.Key)
		} else {
			merged[m.Key] = m.Value
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	if opts.Reverse {
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	} else {
		sort.Strings(keys)
	}
	if opts.Limit > 0 && len(keys) > opts.Limit {
		keys = keys[:opts.Limit]
	}

	out := make([]KV, 0, len(keys))
	for _, k := range keys {
		v, err := s.codec.Decode(merged[k])
		if err != nil {
			return nil, fmt.Errorf("failed to decode key %q: %w", k, err)
		}
		out = append(out, KV{Key: k, Value: v})
	}
	return out, nil
}

// DeleteAll buffers the removal of every key and returns how many existed.
func (s *Storage) DeleteAll(ctx context.Context) (int, error) {
	entries, err := s.List(ctx, ListOptions{})
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		s.buffer.Delete(e.Key)
	}
	return len(entries), nil
}

// Exec runs sqlText, which may hold several statements, and returns a cursor
// over the last one.
func (s *Storage) Exec(ctx context.Context, sqlText string, params ...interface{}) (*db.Cursor, error) {
	if err := s.checkActive(); err != nil {
		return nil, err
	}
	return s.stmts.Exec(ctx, sqlText, params...)
}

// Prepare compiles a single statement for repeated execution.
func (s *Storage) Prepare(ctx context.Context, sqlText string) (*db.PreparedStatement, error) {
	if err := s.checkActive(); err != nil {
		return nil, err
	}
	return s.stmts.Prepare(ctx, sqlText)
}

// Transaction runs work in an explicit transaction, nested in any transaction
// already open. See db.TransactionCoordinator.RunTransaction.
func (s *Storage) Transaction(ctx context.Context, work func(*db.Txn) error) error {
	if err := s.checkActive(); err != nil {
		return err
	}
	err := s.coord.RunTransaction(ctx, work)
	if s.state != StateActive {
		return s.abortErr
	}
	return err
}

// TransactionResult is Transaction for work producing a value. The value is
// returned even if the transaction was rolled back on request.
func TransactionResult[T any](ctx context.Context, s *Storage, work func(*db.Txn) (T, error)) (T, error) {
	var result T
	err := s.Transaction(ctx, func(tx *db.Txn) error {
		var err error
		result, err = work(tx)
		return err
	})
	return result, err
}

// Flush makes the turn's writes durable: buffered KV writes are applied to the
// KV table and the implicit transaction commits. A failed flush aborts the
// storage, so a turn is durable entirely or not at all.
func (s *Storage) Flush(ctx context.Context) error {
	if err := s.checkActive(); err != nil {
		return err
	}
	if s.coord.Depth() > 0 {
		return db.ErrExplicitTransactionOpen
	}
	if !s.engine.InTransaction() && s.buffer.Empty() {
		return nil
	}

	start := time.Now()
	if err := s.coord.CommitImplicit(); err != nil {
		log.Error().Err(err).Str("path", s.engine.Path()).Msg("Flush failed")
		return s.Abort(fmt.Sprintf("flush failed: %v", err))
	}
	telemetry.FlushDurationSeconds.Observe(time.Since(start).Seconds())
	return nil
}

// Abort discards everything not yet durable and closes the database. Every
// later call, Abort included, returns the returned AbortError.
func (s *Storage) Abort(reason string) error {
	if s.state != StateActive {
		return s.abortErr
	}

	s.shutdown()
	s.abortErr = AbortError{Reason: reason, Reset: true}
	telemetry.ActorAbortsTotal.Inc()
	log.Warn().Str("path", s.engine.Path()).Str("reason", reason).Msg("Storage aborted")
	return s.abortErr
}

// Close releases the database without committing pending writes.
func (s *Storage) Close() error {
	if s.state != StateActive {
		return nil
	}
	err := s.shutdown()
	s.abortErr = AbortError{Reason: "storage closed", Reset: true}
	return err
}

func (s *Storage) shutdown() error {
	s.state = StateAborted

	// Statements must be finalized before closing, or SQLite keeps the
	// connection and its write lock alive.
	s.stmts.Teardown()
	if err := s.coord.RollbackAll(); err != nil {
		log.Warn().Err(err).Str("path", s.engine.Path()).Msg("Rollback during shutdown failed")
	}
	s.buffer.Discard()
	return s.engine.Close()
}

// DatabaseSize returns the database size in bytes.
func (s *Storage) DatabaseSize() (int64, error) {
	if err := s.checkActive(); err != nil {
		return 0, err
	}
	return s.engine.DatabaseSize()
}

// VoluntarySizeLimit returns the current limit in bytes, 0 for none.
func (s *Storage) VoluntarySizeLimit() int64 {
	return s.sizeLimit
}

// SetVoluntarySizeLimit caps the database at limit bytes, rounded down to whole
// pages; 0 removes the cap. The limit lives as long as this Storage.
func (s *Storage) SetVoluntarySizeLimit(limit int64) error {
	if err := s.checkActive(); err != nil {
		return err
	}
	if limit < 0 {
		return fmt.Errorf("size limit must be >= 0, got %d", limit)
	}

	pages := int64(0)
	if limit > 0 {
		pages = limit / s.pageSize
		if pages == 0 {
			pages = 1
		}
	}
	if _, err := s.engine.SetMaxPageCount(pages); err != nil {
		return fmt.Errorf("failed to apply size limit: %w", err)
	}
	s.sizeLimit = limit
	return nil
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.engine.Path()
}
