package actor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/maxpert/durasql/storage"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// ErrInvalidID rejects identities that cannot name a database file.
var ErrInvalidID = errors.New("invalid actor id")

const maxIDLength = 128

// HostOptions configures a Host.
type HostOptions struct {
	// Dir holds one database file per actor identity.
	Dir string
	// Storage is the template for every instance; Path is filled in per actor.
	Storage     storage.Options
	MailboxSize int
	// Catalog is optional.
	Catalog *Catalog
}

// Host owns the live actor instances of this process. At most one instance
// exists per identity; it is created on first use and replaced after a reset.
type Host struct {
	opts      HostOptions
	instances *xsync.MapOf[string, *Instance]
}

// NewHost creates a host storing actor databases under opts.Dir.
func NewHost(opts HostOptions) (*Host, error) {
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = 64
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create actors directory: %w", err)
	}
	return &Host{
		opts:      opts,
		instances: xsync.NewMapOf[string, *Instance](),
	}, nil
}

// ValidateID checks that id can be used as an actor identity.
func ValidateID(id string) error {
	if id == "" || len(id) > maxIDLength {
		return fmt.Errorf("%w: length must be 1-%d", ErrInvalidID, maxIDLength)
	}
	if strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidID, id)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidID, id, r)
		}
	}
	return nil
}

// Path returns the database file of id.
func (h *Host) Path(id string) string {
	return filepath.Join(h.opts.Dir, id+".db")
}

// Get returns the live instance of id, constructing it if needed.
func (h *Host) Get(id string) (*Instance, error) {
	if inst, ok := h.instances.Load(id); ok {
		return inst, nil
	}
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	var openErr error
	inst, _ := h.instances.Compute(id, func(old *Instance, loaded bool) (*Instance, bool) {
		if loaded {
			return old, false
		}
		inst, err := h.open(id)
		if err != nil {
			openErr = err
			return nil, true
		}
		return inst, false
	})
	if openErr != nil {
		return nil, openErr
	}
	return inst, nil
}

func (h *Host) open(id string) (*Instance, error) {
	opts := h.opts.Storage
	opts.Path = h.Path(id)

	s, err := storage.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open actor %s: %w", id, err)
	}

	if h.opts.Catalog != nil {
		if err := h.opts.Catalog.RecordOpen(id); err != nil {
			log.Warn().Err(err).Str("actor", id).Msg("Failed to record open in catalog")
		}
	}

	log.Info().Str("actor", id).Str("path", opts.Path).Msg("Actor instance started")
	return newInstance(id, s, h.opts.MailboxSize, h.retire), nil
}

// retire forgets a reset instance so the next call constructs a fresh one.
func (h *Host) retire(inst *Instance, cause storage.AbortError) {
	h.remove(inst)
	if h.opts.Catalog != nil {
		if err := h.opts.Catalog.RecordReset(inst.id, cause.Reason); err != nil {
			log.Warn().Err(err).Str("actor", inst.id).Msg("Failed to record reset in catalog")
		}
	}
	log.Warn().Str("actor", inst.id).Str("reason", cause.Reason).Msg("Actor instance reset")
}

func (h *Host) remove(inst *Instance) {
	h.instances.Compute(inst.id, func(old *Instance, loaded bool) (*Instance, bool) {
		if !loaded || old != inst {
			return old, !loaded
		}
		return nil, true
	})
}

// Call runs turn on the instance of id and waits for the result.
func (h *Host) Call(ctx context.Context, id string, turn Turn) (interface{}, error) {
	for attempt := 0; ; attempt++ {
		inst, err := h.Get(id)
		if err != nil {
			return nil, err
		}

		f, err := inst.Submit(ctx, turn)
		if err != nil {
			// The instance stopped between lookup and submit.
			if attempt == 0 && (errors.Is(err, ErrInstanceClosed) || storage.IsAbortError(err)) {
				h.remove(inst)
				continue
			}
			return nil, err
		}
		return f.Get()
	}
}

// Abort resets the instance of id, discarding its writes not flushed yet.
func (h *Host) Abort(ctx context.Context, id, reason string) error {
	_, err := h.Call(ctx, id, func(_ context.Context, s *storage.Storage) (interface{}, error) {
		return nil, s.Abort(reason)
	})
	if storage.IsAbortError(err) {
		return nil
	}
	return err
}

// Active returns the identities with a live instance.
func (h *Host) Active() []string {
	var ids []string
	h.instances.Range(func(id string, _ *Instance) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// ActiveCount returns the number of live instances.
func (h *Host) ActiveCount() int {
	return h.instances.Size()
}

// TotalDatabaseSize sums the sizes live instances recorded after their last
// turn.
func (h *Host) TotalDatabaseSize() int64 {
	var total int64
	h.instances.Range(func(_ string, inst *Instance) bool {
		total += inst.DatabaseSize()
		return true
	})
	return total
}

// Close stops every instance. Writes not flushed are discarded.
func (h *Host) Close() {
	h.instances.Range(func(id string, inst *Instance) bool {
		inst.Close()
		h.instances.Delete(id)
		return true
	})
}
