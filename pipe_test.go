// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asynckernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipe_WriteThenRead(t *testing.T) {
	s, _ := newTestKernel(t)
	p := NewPipe[string](s, 10)

	_, err := p.Write("a")
	require.NoError(t, err)
	_, err = p.Write("b")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())

	r1 := p.Read()
	r2 := p.Read()
	assert.Equal(t, "a", mustPeek(t, r1).Value)
	assert.Equal(t, "b", mustPeek(t, r2).Value)
	assert.Equal(t, 0, p.Len())
}

func TestPipe_ReadBeforeWrite(t *testing.T) {
	s, _ := newTestKernel(t)
	p := NewPipe[int](s, 10)

	r := p.Read()
	assert.False(t, r.IsDetermined())

	_, err := p.Write(5)
	require.NoError(t, err)
	settle(t, s)
	res := mustPeek(t, r)
	require.False(t, res.EOF)
	assert.Equal(t, 5, res.Value)
}

// Scenario: a pipe of capacity 2. The first two writes are within
// capacity and their pushback is already determined; the third write's
// deferred is pending until a read drains 'a'.
func TestPipe_BackpressureScenario(t *testing.T) {
	s, _ := newTestKernel(t)
	p := NewPipe[byte](s, 2)

	d1, err := p.Write('a')
	require.NoError(t, err)
	d2, err := p.Write('b')
	require.NoError(t, err)
	assert.True(t, d1.IsDetermined())
	assert.True(t, d2.IsDetermined())

	d3, err := p.Write('c')
	require.NoError(t, err)
	assert.False(t, d3.IsDetermined())
	settle(t, s)
	assert.False(t, d3.IsDetermined())

	r := p.Read()
	require.Equal(t, byte('a'), mustPeek(t, r).Value)
	settle(t, s)
	assert.True(t, d3.IsDetermined(), "pushback releases once occupancy is back within capacity")
}

// TestPipe_MultiReaderPartition: with several waiting readers, each value
// goes to exactly one reader, in the order the readers arrived.
func TestPipe_MultiReaderPartition(t *testing.T) {
	s, _ := newTestKernel(t)
	p := NewPipe[int](s, 10)

	r1 := p.Read()
	r2 := p.Read()
	r3 := p.Read()

	for _, v := range []int{10, 20, 30} {
		_, err := p.Write(v)
		require.NoError(t, err)
	}
	settle(t, s)

	assert.Equal(t, 10, mustPeek(t, r1).Value)
	assert.Equal(t, 20, mustPeek(t, r2).Value)
	assert.Equal(t, 30, mustPeek(t, r3).Value)
}

// TestPipe_Conservation: the multiset of values read equals the multiset
// written, modulo still-buffered, and order is preserved.
func TestPipe_Conservation(t *testing.T) {
	s, _ := newTestKernel(t)
	p := NewPipe[int](s, 0) // unbounded

	const n = 100
	for i := 0; i < n; i++ {
		require.NoError(t, p.WriteWithoutPushback(i))
	}
	p.Close()

	all := p.ReadAll()
	settle(t, s)
	got := mustPeek(t, all)
	require.Len(t, got, n)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPipe_CloseThenDrainThenEOF(t *testing.T) {
	s, _ := newTestKernel(t)
	p := NewPipe[int](s, 10)

	_, err := p.Write(1)
	require.NoError(t, err)
	p.Close()

	// Writes after close fail.
	_, err = p.Write(2)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, p.WriteWithoutPushback(3), ErrClosed)

	// Readers drain the buffer, then observe EOF.
	r1 := p.Read()
	require.False(t, mustPeek(t, r1).EOF)
	r2 := p.Read()
	assert.True(t, mustPeek(t, r2).EOF)
}

func TestPipe_CloseWakesWaitingReaders(t *testing.T) {
	s, _ := newTestKernel(t)
	p := NewPipe[int](s, 10)

	r := p.Read()
	p.Close()
	settle(t, s)
	assert.True(t, mustPeek(t, r).EOF)
}

func TestPipe_ReadNow(t *testing.T) {
	s, _ := newTestKernel(t)
	p := NewPipe[int](s, 10)

	_, err := p.ReadNow()
	require.ErrorIs(t, err, ErrEmpty)

	_, err = p.Write(9)
	require.NoError(t, err)
	v, err := p.ReadNow()
	require.NoError(t, err)
	assert.Equal(t, 9, v)

	p.Close()
	_, err = p.ReadNow()
	require.ErrorIs(t, err, ErrClosed)
}

func TestPipe_ReadExactly(t *testing.T) {
	s, _ := newTestKernel(t)
	p := NewPipe[int](s, 10)

	d := p.ReadExactly(3)
	for _, v := range []int{1, 2, 3, 4} {
		_, err := p.Write(v)
		require.NoError(t, err)
	}
	settle(t, s)
	res := mustPeek(t, d)
	require.False(t, res.Short)
	assert.Equal(t, []int{1, 2, 3}, res.Values)

	// EOF before the count yields a short read.
	short := p.ReadExactly(5)
	p.Close()
	settle(t, s)
	sres := mustPeek(t, short)
	assert.True(t, sres.Short)
	assert.Equal(t, []int{4}, sres.Values)
}

func TestPipe_DownstreamFlushed(t *testing.T) {
	s, _ := newTestKernel(t)
	p := NewPipe[int](s, 10)

	// Nothing buffered: already flushed.
	assert.Equal(t, Flushed, mustPeek(t, p.DownstreamFlushed()))

	_, err := p.Write(1)
	require.NoError(t, err)
	_, err = p.Write(2)
	require.NoError(t, err)

	f := p.DownstreamFlushed()
	assert.False(t, f.IsDetermined())

	p.Read()
	settle(t, s)
	assert.False(t, f.IsDetermined(), "flush needs every pre-flush write consumed")

	p.Read()
	settle(t, s)
	assert.Equal(t, Flushed, mustPeek(t, f))

	assert.Equal(t, Flushed, mustPeek(t, p.UpstreamFlushed()))
}

func TestPipe_CloseRead(t *testing.T) {
	s, _ := newTestKernel(t)
	p := NewPipe[int](s, 2)

	_, err := p.Write(1)
	require.NoError(t, err)
	d, err := p.Write(2)
	require.NoError(t, err)
	_ = d
	f := p.DownstreamFlushed()
	blocked, err := p.Write(3)
	require.NoError(t, err)
	require.False(t, blocked.IsDetermined())

	p.CloseRead()

	// Buffered values are dropped, flushes observe ReaderClosed, writers
	// observe Closed, and pushback is released.
	assert.Equal(t, 0, p.Len())
	settle(t, s)
	assert.Equal(t, ReaderClosed, mustPeek(t, f))
	assert.True(t, blocked.IsDetermined())
	_, err = p.Write(4)
	require.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, ReaderClosed, mustPeek(t, p.DownstreamFlushed()))

	r := p.Read()
	assert.True(t, mustPeek(t, r).EOF)
}

func TestPipe_UnboundedNeverPushesBack(t *testing.T) {
	s, _ := newTestKernel(t)
	p := NewPipe[int](s, 0)

	for i := 0; i < 1000; i++ {
		d, err := p.Write(i)
		require.NoError(t, err)
		require.True(t, d.IsDetermined())
	}
}
