package replayindex

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetOpensOnMiss(t *testing.T) {
	opens := 0
	c := NewCache(4, 2, func(sessionId int64, streamId int32) (*Reader, error) {
		opens++
		buf := make([]byte, HeaderLength+RecordLength)
		writeHeaderForTest(buf, 0, 0)
		return &Reader{mapped: newBufferBacked(buf), capacity: RecordLength}, nil
	})

	q1, err := c.Get(1, 0)
	require.NoError(t, err)
	require.NotNil(t, q1)
	assert.Equal(t, 1, opens)

	q2, err := c.Get(1, 0)
	require.NoError(t, err)
	assert.Same(t, q1, q2)
	assert.Equal(t, 1, opens, "second Get for the same key must not reopen")
}

func TestCache_OpenError(t *testing.T) {
	c := NewCache(4, 2, func(sessionId int64, streamId int32) (*Reader, error) {
		return nil, fmt.Errorf("no such file")
	})
	_, err := c.Get(99, 0)
	assert.Error(t, err)
}

func TestCache_EvictsLeastRecentlyUsedWithinBucketAndClosesMapping(t *testing.T) {
	opens := map[int64]int{}
	closes := map[int64]int{}
	c := NewCache(1, 2, func(sessionId int64, streamId int32) (*Reader, error) { // single bucket forces collisions
		opens[sessionId]++
		buf := make([]byte, HeaderLength+RecordLength)
		writeHeaderForTest(buf, 0, 0)
		mapped := newBufferBacked(buf)
		mapped.closer = func() error { closes[sessionId]++; return nil }
		return &Reader{mapped: mapped, capacity: RecordLength}, nil
	})

	_, err := c.Get(1, 0)
	require.NoError(t, err)
	_, err = c.Get(2, 0)
	require.NoError(t, err)
	_, err = c.Get(1, 0) // touch session 1 so session 2 becomes LRU
	require.NoError(t, err)
	_, err = c.Get(3, 0) // bucket full (ways=2): evicts session 2
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 1, closes[2], "eviction must close the evicted session's mapping")
	assert.Zero(t, closes[1])

	_, err = c.Get(2, 0) // reopened after eviction
	require.NoError(t, err)
	assert.Equal(t, 2, opens[2], "an evicted session must be reopened on its next Get")
}

func TestCache_Len(t *testing.T) {
	c := NewCache(2, 2, func(sessionId int64, streamId int32) (*Reader, error) {
		buf := make([]byte, HeaderLength+RecordLength)
		writeHeaderForTest(buf, 0, 0)
		return &Reader{mapped: newBufferBacked(buf), capacity: RecordLength}, nil
	})
	_, err := c.Get(1, 0)
	require.NoError(t, err)
	_, err = c.Get(2, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
}
