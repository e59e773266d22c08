package telemetry

var (
	// FlushBuckets for end-of-turn commits (buffer apply + fsync)
	FlushBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}
)

// Statement Metrics
var (
	// StatementsTotal counts executed statements by kind (select, insert, update, delete, ddl, pragma, other)
	StatementsTotal CounterVec = noopCounterVec{}

	// StatementCacheTotal counts statement cache lookups by result (hit, miss, busy)
	StatementCacheTotal CounterVec = noopCounterVec{}

	// AuthorizerDenialsTotal counts authorizer denials by action
	AuthorizerDenialsTotal CounterVec = noopCounterVec{}

	// CursorInvalidationsTotal counts cursors invalidated by statement re-execution
	CursorInvalidationsTotal Counter = NoopStat{}
)

// Transaction Metrics
var (
	// TransactionsTotal counts frame outcomes by scope (implicit, outer, nested) and result (commit, rollback)
	TransactionsTotal CounterVec = noopCounterVec{}

	// FlushDurationSeconds measures end-of-turn flush latency
	FlushDurationSeconds Histogram = NoopStat{}

	// FlushedKeysTotal counts buffered keys written by commits
	FlushedKeysTotal Counter = NoopStat{}
)

// Actor Metrics
var (
	// ActorsActive tracks live actor instances
	ActorsActive Gauge = NoopStat{}

	// ActorAbortsTotal counts actor resets
	ActorAbortsTotal Counter = NoopStat{}

	// ActorTurnsTotal counts turns by result (ok, error, aborted)
	ActorTurnsTotal CounterVec = noopCounterVec{}

	// DatabaseSizeBytes tracks total size of live actor databases
	DatabaseSizeBytes Gauge = NoopStat{}

	// DatabaseSizeLimitRejectionsTotal counts writes rejected by the voluntary size limit
	DatabaseSizeLimitRejectionsTotal Counter = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	StatementsTotal = NewCounterVec(
		"statements_total",
		"Total SQL statements executed by kind",
		[]string{"kind"},
	)
	StatementCacheTotal = NewCounterVec(
		"statement_cache_total",
		"Statement cache lookups by result",
		[]string{"result"},
	)
	AuthorizerDenialsTotal = NewCounterVec(
		"authorizer_denials_total",
		"Statement compilations denied by the authorizer, by action",
		[]string{"action"},
	)
	CursorInvalidationsTotal = NewCounter(
		"cursor_invalidations_total",
		"Cursors invalidated by re-execution of their statement",
	)

	TransactionsTotal = NewCounterVec(
		"transactions_total",
		"Transaction frames closed by scope and result",
		[]string{"scope", "result"},
	)
	FlushDurationSeconds = NewHistogramWithBuckets(
		"flush_duration_seconds",
		"End-of-turn flush latency",
		FlushBuckets,
	)
	FlushedKeysTotal = NewCounter(
		"flushed_keys_total",
		"Buffered keys made durable",
	)

	ActorsActive = NewGauge(
		"actors_active",
		"Number of live actor instances",
	)
	ActorAbortsTotal = NewCounter(
		"actor_aborts_total",
		"Total actor resets",
	)
	ActorTurnsTotal = NewCounterVec(
		"actor_turns_total",
		"Actor turns by result",
		[]string{"result"},
	)
	DatabaseSizeBytes = NewGauge(
		"database_size_bytes",
		"Total size of live actor databases",
	)
	DatabaseSizeLimitRejectionsTotal = NewCounter(
		"database_size_limit_rejections_total",
		"Writes rejected by the voluntary size limit",
	)
}
