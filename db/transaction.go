package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/maxpert/durasql/telemetry"
	"github.com/rs/zerolog/log"
)

// FrameListener observes the frame stack. The WriteBuffer uses it to layer
// pending writes per frame and apply them right before the outermost commit.
type FrameListener interface {
	FrameOpened(depth int)
	FrameReleased(depth int)
	FrameRolledBack(depth int)
	// BeforeCommit runs inside the transaction right before COMMIT. An error
	// turns the commit into a rollback.
	BeforeCommit() error
	// AfterCommit runs once COMMIT succeeded, for implicit and explicit
	// transactions alike.
	AfterCommit()
}

type frame struct {
	depth    int
	rollback bool
	parent   *frame
}

// Txn is the handle passed to a transaction body.
type Txn struct {
	f *frame
}

// Rollback marks the frame for rollback. The body keeps running; the rollback
// happens when it returns and spreads to every enclosing frame.
func (t *Txn) Rollback() {
	t.f.rollback = true
}

// RollbackRequested reports whether Rollback was called on this frame or a
// nested frame already rolled back.
func (t *Txn) RollbackRequested() bool {
	return t.f.rollback
}

// Depth returns the nesting depth, 1 for the outermost frame.
func (t *Txn) Depth() int {
	return t.f.depth
}

// ErrExplicitTransactionOpen is returned when the implicit transaction is
// committed while an explicit transaction body is still running.
var ErrExplicitTransactionOpen = errors.New("explicit transaction is still open")

// TransactionCoordinator flattens nested transactions onto one SQLite
// transaction. The outermost frame is BEGIN/COMMIT/ROLLBACK, inner frames are
// savepoints. Between explicit transactions an implicit transaction collects
// the writes of the current turn.
type TransactionCoordinator struct {
	engine    *Engine
	top       *frame
	listeners []FrameListener
}

// NewTransactionCoordinator creates a coordinator over engine.
func NewTransactionCoordinator(engine *Engine) *TransactionCoordinator {
	return &TransactionCoordinator{engine: engine}
}

// AddListener registers a frame listener.
func (c *TransactionCoordinator) AddListener(l FrameListener) {
	c.listeners = append(c.listeners, l)
}

// Depth returns the current explicit nesting depth, 0 outside transactions.
func (c *TransactionCoordinator) Depth() int {
	if c.top == nil {
		return 0
	}
	return c.top.depth
}

// EnsureImplicit opens the implicit transaction unless a transaction is
// already open.
func (c *TransactionCoordinator) EnsureImplicit() error {
	if c.top != nil || c.engine.InTransaction() {
		return nil
	}
	if err := c.engine.ExecTrusted("BEGIN"); err != nil {
		return fmt.Errorf("failed to begin implicit transaction: %w", err)
	}
	return nil
}

// CommitImplicit runs the commit hooks and commits the implicit transaction.
// On error the transaction is left open; the caller decides whether to abort.
func (c *TransactionCoordinator) CommitImplicit() error {
	if c.top != nil {
		return ErrExplicitTransactionOpen
	}
	if err := c.EnsureImplicit(); err != nil {
		return err
	}
	if err := c.beforeCommit(); err != nil {
		return err
	}
	if err := c.engine.ExecTrusted("COMMIT"); err != nil {
		return fmt.Errorf("failed to commit implicit transaction: %w", err)
	}
	c.afterCommit()
	telemetry.TransactionsTotal.With("implicit", "commit").Inc()
	return nil
}

// RollbackAll discards every open frame and the implicit transaction.
func (c *TransactionCoordinator) RollbackAll() error {
	for f := c.top; f != nil; f = f.parent {
		c.notifyRolledBack(f.depth)
	}
	c.top = nil
	if !c.engine.InTransaction() {
		return nil
	}
	if err := c.engine.ExecTrusted("ROLLBACK"); err != nil {
		return fmt.Errorf("failed to roll back: %w", err)
	}
	telemetry.TransactionsTotal.With("implicit", "rollback").Inc()
	return nil
}

// RunTransaction runs work inside a new frame.
//
// If work returns nil and nothing requested a rollback, the frame is released;
// the outermost frame commits. Otherwise the frame is rolled back and every
// enclosing frame is marked for rollback too. The error of work is returned
// unchanged, and an explicit Rollback() alone returns nil. A panic in work
// rolls the frame back and is re-raised.
func (c *TransactionCoordinator) RunTransaction(ctx context.Context, work func(*Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := c.push()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			f.rollback = true
			if rbErr := c.pop(f); rbErr != nil {
				log.Error().Err(rbErr).Int("depth", f.depth).Msg("Rollback after panic failed")
			}
			panic(r)
		}
	}()

	workErr := work(&Txn{f: f})
	if workErr != nil {
		f.rollback = true
	}

	rolledBack := f.rollback
	if err := c.pop(f); err != nil {
		if rolledBack {
			return TransactionRollbackError{Depth: f.depth, Cause: workErr, RollbackErr: err}
		}
		return err
	}
	return workErr
}

func (c *TransactionCoordinator) push() (*frame, error) {
	if c.top == nil {
		if c.engine.InTransaction() {
			if err := c.CommitImplicit(); err != nil {
				return nil, err
			}
		}
		if err := c.engine.ExecTrusted("BEGIN"); err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		c.top = &frame{depth: 1}
	} else {
		depth := c.top.depth + 1
		if err := c.engine.ExecTrusted(savepointSQL("SAVEPOINT", depth)); err != nil {
			return nil, fmt.Errorf("failed to open savepoint: %w", err)
		}
		c.top = &frame{depth: depth, parent: c.top}
	}

	for _, l := range c.listeners {
		l.FrameOpened(c.top.depth)
	}
	return c.top, nil
}

// pop closes f, which must be the top frame.
func (c *TransactionCoordinator) pop(f *frame) error {
	if c.top != f {
		return fmt.Errorf("transaction frame %d closed out of order", f.depth)
	}

	if !f.rollback {
		err := c.release(f)
		if err == nil {
			return nil
		}
		// A failed commit becomes a rollback.
		f.rollback = true
		if rbErr := c.rollback(f); rbErr != nil {
			return TransactionRollbackError{Depth: f.depth, Cause: err, RollbackErr: rbErr}
		}
		return err
	}

	return c.rollback(f)
}

func (c *TransactionCoordinator) release(f *frame) error {
	if f.depth > 1 {
		if err := c.engine.ExecTrusted(savepointSQL("RELEASE", f.depth)); err != nil {
			return fmt.Errorf("failed to release savepoint: %w", err)
		}
		c.top = f.parent
		for _, l := range c.listeners {
			l.FrameReleased(f.depth)
		}
		telemetry.TransactionsTotal.With("nested", "commit").Inc()
		return nil
	}

	if err := c.beforeCommit(); err != nil {
		return err
	}
	if err := c.engine.ExecTrusted("COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	c.top = nil
	for _, l := range c.listeners {
		l.FrameReleased(f.depth)
	}
	c.afterCommit()
	telemetry.TransactionsTotal.With("outer", "commit").Inc()
	return nil
}

func (c *TransactionCoordinator) rollback(f *frame) error {
	c.top = f.parent
	c.notifyRolledBack(f.depth)

	if f.depth > 1 {
		f.parent.rollback = true
		telemetry.TransactionsTotal.With("nested", "rollback").Inc()
		if err := c.engine.ExecTrusted(savepointSQL("ROLLBACK TO", f.depth)); err != nil {
			return err
		}
		return c.engine.ExecTrusted(savepointSQL("RELEASE", f.depth))
	}

	telemetry.TransactionsTotal.With("outer", "rollback").Inc()
	if !c.engine.InTransaction() {
		// SQLite already rolled back, e.g. ON CONFLICT ROLLBACK.
		return nil
	}
	return c.engine.ExecTrusted("ROLLBACK")
}

func (c *TransactionCoordinator) beforeCommit() error {
	for _, l := range c.listeners {
		if err := l.BeforeCommit(); err != nil {
			return err
		}
	}
	return nil
}

func (c *TransactionCoordinator) afterCommit() {
	for _, l := range c.listeners {
		l.AfterCommit()
	}
}

func (c *TransactionCoordinator) notifyRolledBack(depth int) {
	for _, l := range c.listeners {
		l.FrameRolledBack(depth)
	}
}

func savepointSQL(verb string, depth int) string {
	return fmt.Sprintf("%s sp_%d", verb, depth)
}
