package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/durasql/storage"
	"github.com/maxpert/durasql/telemetry"
	"github.com/rs/zerolog/log"
)

// ErrInstanceClosed is returned for calls that reach an instance after it
// stopped accepting turns.
var ErrInstanceClosed = errors.New("actor instance is closed")

// Turn is one unit of actor work. It has exclusive use of the storage for its
// duration; the storage is flushed when it returns.
type Turn func(ctx context.Context, s *storage.Storage) (interface{}, error)

type call struct {
	ctx     context.Context
	turn    Turn
	promise *future.Promise[interface{}]
}

// Instance runs the turns of one actor identity on a single goroutine.
type Instance struct {
	id      string
	storage *storage.Storage
	onReset func(*Instance, storage.AbortError)

	mailbox chan *call
	quit    chan struct{}
	done    chan struct{}
	stop    sync.Once

	mu       sync.RWMutex
	closed   bool
	closeErr error

	size atomic.Int64
}

func newInstance(id string, s *storage.Storage, mailboxSize int, onReset func(*Instance, storage.AbortError)) *Instance {
	inst := &Instance{
		id:      id,
		storage: s,
		onReset: onReset,
		mailbox: make(chan *call, mailboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if size, err := s.DatabaseSize(); err == nil {
		inst.size.Store(size)
	}

	go inst.run()
	return inst
}

// ID returns the actor identity.
func (i *Instance) ID() string {
	return i.id
}

// DatabaseSize returns the size recorded after the last turn.
func (i *Instance) DatabaseSize() int64 {
	return i.size.Load()
}

// Submit queues turn and returns a future resolving to its result.
func (i *Instance) Submit(ctx context.Context, turn Turn) (*future.Future[interface{}], error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return nil, i.closeErr
	}

	c := &call{ctx: ctx, turn: turn, promise: future.NewPromise[interface{}]()}
	select {
	case i.mailbox <- c:
		return c.promise.Future(), nil
	case <-i.quit:
		return nil, ErrInstanceClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Call runs turn and waits for its result.
func (i *Instance) Call(ctx context.Context, turn Turn) (interface{}, error) {
	f, err := i.Submit(ctx, turn)
	if err != nil {
		return nil, err
	}
	return f.Get()
}

// Close stops the worker after the current turn. Queued turns fail with
// ErrInstanceClosed and writes not flushed are discarded.
func (i *Instance) Close() {
	i.stop.Do(func() { close(i.quit) })
	<-i.done
}

func (i *Instance) run() {
	defer close(i.done)

	for {
		select {
		case c := <-i.mailbox:
			if i.execute(c) {
				return
			}
		case <-i.quit:
			i.shutdown(ErrInstanceClosed)
			return
		}
	}
}

// execute runs one turn and reports whether the instance was reset by it.
func (i *Instance) execute(c *call) bool {
	ctx := c.ctx
	if ctx.Err() != nil {
		c.promise.Set(nil, ctx.Err())
		return false
	}

	result, err := i.runTurn(ctx, c.turn)
	if i.storage.State() == storage.StateActive {
		if flushErr := i.storage.Flush(ctx); flushErr != nil {
			err = flushErr
		}
	}

	var abortErr storage.AbortError
	reset := errors.As(err, &abortErr)
	if !reset && i.storage.State() != storage.StateActive {
		// The turn swallowed the abort error.
		abortErr, _ = i.storage.Err().(storage.AbortError)
		reset = true
	}

	if reset {
		telemetry.ActorTurnsTotal.With("aborted").Inc()
		i.shutdown(abortErr)
		if i.onReset != nil {
			i.onReset(i, abortErr)
		}
		c.promise.Set(nil, abortErr)
		return true
	}

	if err != nil {
		telemetry.ActorTurnsTotal.With("error").Inc()
	} else {
		telemetry.ActorTurnsTotal.With("ok").Inc()
	}
	if size, sizeErr := i.storage.DatabaseSize(); sizeErr == nil {
		i.size.Store(size)
	}
	c.promise.Set(result, err)
	return false
}

func (i *Instance) runTurn(ctx context.Context, turn Turn) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("actor", i.id).Interface("panic", r).Msg("Turn panicked")
			err = i.storage.Abort(fmt.Sprintf("turn panicked: %v", r))
		}
	}()
	return turn(ctx, i.storage)
}

// shutdown stops accepting calls, fails the queued ones with closeErr and
// releases the storage.
func (i *Instance) shutdown(closeErr error) {
	// Closing quit first releases any Submit blocked on a full mailbox, so the
	// write lock below cannot wait on it forever.
	i.stop.Do(func() { close(i.quit) })

	i.mu.Lock()
	i.closed = true
	i.closeErr = closeErr
	i.mu.Unlock()

	for {
		select {
		case c := <-i.mailbox:
			c.promise.Set(nil, closeErr)
		default:
			if err := i.storage.Close(); err != nil {
				log.Warn().Err(err).Str("actor", i.id).Msg("Failed to close storage")
			}
			log.Debug().Str("actor", i.id).Msg("Instance stopped")
			return
		}
	}
}
