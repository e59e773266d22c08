package actor

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/durasql/encoding"
	"github.com/rs/zerolog/log"
)

const catalogPrefix = "/actors/"

// Record is the lifecycle history of one actor identity.
type Record struct {
	ID              string `msgpack:"id" json:"id"`
	Opens           int64  `msgpack:"opens" json:"opens"`
	Resets          int64  `msgpack:"resets" json:"resets"`
	LastOpenedAt    int64  `msgpack:"last_opened_at" json:"last_opened_at"`
	LastResetAt     int64  `msgpack:"last_reset_at,omitempty" json:"last_reset_at,omitempty"`
	LastResetReason string `msgpack:"last_reset_reason,omitempty" json:"last_reset_reason,omitempty"`
}

// Catalog persists actor lifecycle records in Pebble. Records are written
// through on every change.
type Catalog struct {
	db *pebble.DB
	mu sync.Mutex
}

// pebbleLogger routes Pebble's logging through zerolog
type pebbleLogger struct{}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	log.Debug().Msgf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...interface{}) {
	log.Error().Msgf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Fatal().Msgf("[pebble] "+format, args...)
}

// OpenCatalog opens (or creates) the catalog at path.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := pebble.Open(path, &pebble.Options{Logger: &pebbleLogger{}})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close closes the catalog.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func catalogKey(id string) []byte {
	return []byte(catalogPrefix + id)
}

// prefixUpperBound returns the first key after every key starting with prefix.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	upper[len(upper)-1]++
	return upper
}

func (c *Catalog) load(id string) (*Record, error) {
	val, closer, err := c.db.Get(catalogKey(id))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	rec := &Record{}
	if err := encoding.Unmarshal(val, rec); err != nil {
		return nil, fmt.Errorf("corrupt catalog record for %s: %w", id, err)
	}
	return rec, nil
}

func (c *Catalog) update(id string, fn func(*Record)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.load(id)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &Record{ID: id}
	}
	fn(rec)

	data, err := encoding.Marshal(rec)
	if err != nil {
		return err
	}
	return c.db.Set(catalogKey(id), data, pebble.Sync)
}

// RecordOpen notes that an instance of id was constructed.
func (c *Catalog) RecordOpen(id string) error {
	return c.update(id, func(r *Record) {
		r.Opens++
		r.LastOpenedAt = time.Now().UnixNano()
	})
}

// RecordReset notes that the instance of id was aborted.
func (c *Catalog) RecordReset(id, reason string) error {
	return c.update(id, func(r *Record) {
		r.Resets++
		r.LastResetAt = time.Now().UnixNano()
		r.LastResetReason = reason
	})
}

// Get returns the record of id, or nil if the identity was never opened.
func (c *Catalog) Get(id string) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(id)
}

// List returns every record ordered by identity.
func (c *Catalog) List() ([]*Record, error) {
	prefix := []byte(catalogPrefix)
	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var records []*Record
	for iter.First(); iter.Valid(); iter.Next() {
		rec := &Record{}
		if err := encoding.Unmarshal(iter.Value(), rec); err != nil {
			return nil, fmt.Errorf("corrupt catalog record %s: %w", iter.Key(), err)
		}
		records = append(records, rec)
	}
	return records, iter.Error()
}
