package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteBuffer_Layers(t *testing.T) {
	var applied []Mutation
	b := NewWriteBuffer(func(m []Mutation) error {
		applied = m
		return nil
	})

	b.Put("a", []byte("0"))
	b.FrameOpened(1)
	b.Put("a", []byte("1"))
	b.FrameOpened(2)
	b.Delete("a")
	b.Put("b", []byte("2"))
	assert.Equal(t, 2, b.Depth())

	m, ok := b.Lookup("a")
	require.True(t, ok)
	assert.True(t, m.Tombstone)

	b.FrameRolledBack(2)
	m, _ = b.Lookup("a")
	assert.Equal(t, []byte("1"), m.Value)
	_, ok = b.Lookup("b")
	assert.False(t, ok)

	b.FrameOpened(2)
	b.Put("c", []byte("3"))
	b.FrameReleased(2)
	assert.Equal(t, 1, b.Depth())

	require.NoError(t, b.BeforeCommit())
	assert.Equal(t, []Mutation{
		{Key: "a", Value: []byte("1")},
		{Key: "c", Value: []byte("3")},
	}, applied)

	b.FrameReleased(1)
	b.AfterCommit()
	assert.True(t, b.Empty())
	assert.Equal(t, 0, b.Depth())
}

func TestWriteBuffer_EmptyCommitSkipsApply(t *testing.T) {
	called := false
	b := NewWriteBuffer(func([]Mutation) error {
		called = true
		return nil
	})
	require.NoError(t, b.BeforeCommit())
	assert.False(t, called)
}

func TestWriteBuffer_ApplyErrorKeepsBuffer(t *testing.T) {
	fail := errors.New("disk full")
	b := NewWriteBuffer(func([]Mutation) error { return fail })
	b.Put("k", []byte("v"))

	assert.Equal(t, fail, b.BeforeCommit())
	assert.False(t, b.Empty())
	assert.Equal(t, int64(2), b.PendingBytes())

	b.Discard()
	assert.True(t, b.Empty())
}
