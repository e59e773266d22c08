package storage

import (
	"database/sql/driver"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/maxpert/durasql/db"
	"github.com/maxpert/durasql/telemetry"
)

const kvTableName = "__durasql_kv"

const createKVTableSQL = `CREATE TABLE IF NOT EXISTS __durasql_kv (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
) WITHOUT ROWID`

var dialect = goqu.Dialect("sqlite3")

// ListOptions selects a key range. Start is inclusive, End exclusive; Prefix
// narrows the range further. Limit 0 means no limit.
type ListOptions struct {
	Prefix  string
	Start   string
	End     string
	Limit   int
	Reverse bool
}

func (o ListOptions) contains(key string) bool {
	if o.Start != "" && key < o.Start {
		return false
	}
	if o.End != "" && key >= o.End {
		return false
	}
	if o.Prefix != "" && (len(key) < len(o.Prefix) || key[:len(o.Prefix)] != o.Prefix) {
		return false
	}
	return true
}

// prefixEnd returns the smallest key greater than every key with prefix.
// ok is false when no such key exists (prefix is all 0xff).
func prefixEnd(prefix string) (string, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}

type kvRow struct {
	key   string
	value []byte
}

// kvTable reads and writes the internal KV table on the trusted path.
type kvTable struct {
	engine *db.Engine
}

func (t *kvTable) create() error {
	if err := t.engine.ExecTrusted(createKVTableSQL); err != nil {
		return fmt.Errorf("failed to create KV table: %w", err)
	}
	return nil
}

func (t *kvTable) get(key string) ([]byte, bool, error) {
	query, args, err := dialect.From(kvTableName).
		Select("value").
		Where(goqu.C("key").Eq(key)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, false, err
	}

	var value []byte
	found := false
	err = t.engine.QueryTrusted(query, args, func(dest []driver.Value) error {
		b, err := blob(dest[0])
		if err != nil {
			return err
		}
		value = b
		found = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return value, found, nil
}

func (t *kvTable) list(opts ListOptions, limit int) ([]kvRow, error) {
	ds := dialect.From(kvTableName).Select("key", "value")
	if opts.Start != "" {
		ds = ds.Where(goqu.C("key").Gte(opts.Start))
	}
	if opts.End != "" {
		ds = ds.Where(goqu.C("key").Lt(opts.End))
	}
	if opts.Prefix != "" {
		ds = ds.Where(goqu.C("key").Gte(opts.Prefix))
		if end, ok := prefixEnd(opts.Prefix); ok {
			ds = ds.Where(goqu.C("key").Lt(end))
		}
	}
	if opts.Reverse {
		ds = ds.Order(goqu.C("key").Desc())
	} else {
		ds = ds.Order(goqu.C("key").Asc())
	}
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}

	var rows []kvRow
	err = t.engine.QueryTrusted(query, args, func(dest []driver.Value) error {
		key, err := text(dest[0])
		if err != nil {
			return err
		}
		value, err := blob(dest[1])
		if err != nil {
			return err
		}
		rows = append(rows, kvRow{key: key, value: value})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return rows, nil
}

// apply writes mutations inside the caller's transaction.
func (t *kvTable) apply(mutations []Mutation) error {
	for _, m := range mutations {
		var (
			query string
			args  []interface{}
			err   error
		)
		if m.Tombstone {
			query, args, err = dialect.Delete(kvTableName).
				Where(goqu.C("key").Eq(m.Key)).
				Prepared(true).
				ToSQL()
		} else {
			query, args, err = dialect.Insert(kvTableName).
				Rows(goqu.Record{"key": m.Key, "value": m.Value}).
				OnConflict(goqu.DoUpdate("key", goqu.Record{"value": goqu.I("excluded.value")})).
				Prepared(true).
				ToSQL()
		}
		if err != nil {
			return err
		}
		if err := t.engine.ExecTrusted(query, args...); err != nil {
			return fmt.Errorf("failed to write key %q: %w", m.Key, err)
		}
	}
	telemetry.FlushedKeysTotal.Add(float64(len(mutations)))
	return nil
}

func blob(v driver.Value) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	case string:
		return []byte(b), nil
	default:
		return nil, fmt.Errorf("unexpected KV value type %T", v)
	}
}

func text(v driver.Value) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	default:
		return "", fmt.Errorf("unexpected KV key type %T", v)
	}
}
