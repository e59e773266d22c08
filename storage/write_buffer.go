package storage

import (
	"sort"
)

// Mutation is one buffered KV change. A tombstone deletes the key.
type Mutation struct {
	Key       string
	Value     []byte
	Tombstone bool
}

type layer map[string]Mutation

// WriteBuffer holds KV writes that are not durable yet.
//
// Layer 0 belongs to the implicit per-turn transaction; every open transaction
// frame pushes one more layer on top. Releasing a frame merges its layer into
// the one below, rolling it back drops it. All layers are written to the KV
// table right before COMMIT and cleared once it succeeded.
//
// WriteBuffer implements db.FrameListener.
type WriteBuffer struct {
	layers []layer
	apply  func([]Mutation) error
}

// NewWriteBuffer returns an empty buffer. apply receives the merged mutations,
// sorted by key, inside the committing transaction.
func NewWriteBuffer(apply func([]Mutation) error) *WriteBuffer {
	return &WriteBuffer{
		layers: []layer{{}},
		apply:  apply,
	}
}

func (b *WriteBuffer) top() layer {
	return b.layers[len(b.layers)-1]
}

// Put buffers value for key in the innermost layer.
func (b *WriteBuffer) Put(key string, value []byte) {
	b.top()[key] = Mutation{Key: key, Value: value}
}

// Delete buffers a tombstone for key.
func (b *WriteBuffer) Delete(key string) {
	b.top()[key] = Mutation{Key: key, Tombstone: true}
}

// Lookup returns the newest buffered mutation for key.
func (b *WriteBuffer) Lookup(key string) (Mutation, bool) {
	for i := len(b.layers) - 1; i >= 0; i-- {
		if m, ok := b.layers[i][key]; ok {
			return m, true
		}
	}
	return Mutation{}, false
}

// Merged flattens all layers, newest write winning, sorted by key.
func (b *WriteBuffer) Merged() []Mutation {
	flat := make(map[string]Mutation)
	for _, l := range b.layers {
		for k, m := range l {
			flat[k] = m
		}
	}

	out := make([]Mutation, 0, len(flat))
	for _, m := range flat {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Empty reports whether nothing is buffered.
func (b *WriteBuffer) Empty() bool {
	for _, l := range b.layers {
		if len(l) > 0 {
			return false
		}
	}
	return true
}

// PendingBytes estimates how much the buffered values add to the database.
func (b *WriteBuffer) PendingBytes() int64 {
	var n int64
	for _, m := range b.Merged() {
		if !m.Tombstone {
			n += int64(len(m.Key) + len(m.Value))
		}
	}
	return n
}

// Discard drops every layer, keeping the buffer usable.
func (b *WriteBuffer) Discard() {
	b.layers = []layer{{}}
}

// Depth returns the number of frame layers above the base.
func (b *WriteBuffer) Depth() int {
	return len(b.layers) - 1
}

func (b *WriteBuffer) FrameOpened(depth int) {
	for len(b.layers) <= depth {
		b.layers = append(b.layers, layer{})
	}
}

func (b *WriteBuffer) FrameReleased(depth int) {
	if depth <= 0 || depth >= len(b.layers) {
		return
	}
	released := b.layers[depth]
	below := b.layers[depth-1]
	for k, m := range released {
		below[k] = m
	}
	b.layers = b.layers[:depth]
}

func (b *WriteBuffer) FrameRolledBack(depth int) {
	if depth <= 0 || depth >= len(b.layers) {
		return
	}
	b.layers = b.layers[:depth]
}

func (b *WriteBuffer) BeforeCommit() error {
	if b.Empty() {
		return nil
	}
	return b.apply(b.Merged())
}

func (b *WriteBuffer) AfterCommit() {
	b.Discard()
}
