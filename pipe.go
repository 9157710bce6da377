// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asynckernel

import (
	"github.com/eapache/queue"
)

// ReadResult is the outcome of a single [Pipe.Read]: a value, or EOF once
// the pipe is closed and drained.
type ReadResult[T any] struct {
	Value T
	EOF   bool
}

// ReadExactlyResult is the outcome of [Pipe.ReadExactly]. Short reports
// that the pipe reached EOF before the requested count; Values then holds
// whatever was read.
type ReadExactlyResult[T any] struct {
	Values []T
	Short  bool
}

// FlushResult is the outcome of [Pipe.DownstreamFlushed].
type FlushResult int

const (
	// Flushed: every value written before the flush was requested has been
	// read.
	Flushed FlushResult = iota
	// ReaderClosed: the read end was closed with values still buffered.
	ReaderClosed
)

// pipeFlush is one pending flush request: determined once totalRead
// reaches the threshold captured at request time.
type pipeFlush struct {
	threshold int64
	iv        *Ivar[FlushResult]
}

// Pipe is an ordered bounded FIFO connecting producers and consumers, with
// capacity-based pushback on writes and flush tracking through
// [Pipe.DownstreamFlushed]. Values are seen in producer order; with
// several concurrent readers each value goes to exactly one reader, in the
// order the readers arrived.
//
// Like every kernel structure, a pipe belongs to its scheduler's goroutine.
type Pipe[T any] struct {
	s        *Scheduler
	buf      *queue.Queue
	readers  *queue.Queue // waiting *Ivar[ReadResult[T]]
	flushes  *queue.Queue // pending *pipeFlush, threshold-ordered
	pushback *Ivar[Unit]
	capacity int

	totalWritten int64
	totalRead    int64

	closed     bool
	readClosed bool
}

// NewPipe creates a pipe with the given capacity. Writes past the capacity
// return a pending pushback deferred until the buffer drains back down;
// capacity <= 0 means unbounded (writes never push back).
func NewPipe[T any](s *Scheduler, capacity int) *Pipe[T] {
	return &Pipe[T]{
		s:        s,
		buf:      queue.New(),
		readers:  queue.New(),
		flushes:  queue.New(),
		capacity: capacity,
	}
}

// Len returns the number of buffered (written but unread) values.
func (p *Pipe[T]) Len() int { return p.buf.Length() }

// IsClosed reports whether the write end has been closed.
func (p *Pipe[T]) IsClosed() bool { return p.closed }

// Write appends a value and returns the pipe's pushback deferred: already
// determined while the buffer is within capacity, pending otherwise until
// readers drain it back down. Writing to a closed pipe fails with
// [ErrClosed].
func (p *Pipe[T]) Write(v T) (Deferred[Unit], error) {
	if err := p.deliver(v); err != nil {
		return Deferred[Unit]{}, err
	}
	return p.pushbackDeferred(), nil
}

// WriteWithoutPushback appends a value without registering for flow
// control. Writing to a closed pipe fails with [ErrClosed].
func (p *Pipe[T]) WriteWithoutPushback(v T) error {
	return p.deliver(v)
}

func (p *Pipe[T]) deliver(v T) error {
	p.s.checkAccess()
	if p.closed {
		return ErrClosed
	}
	p.totalWritten++
	if p.readers.Length() > 0 {
		// A reader is waiting, so the buffer is empty: hand off directly.
		iv := p.readers.Remove().(*Ivar[ReadResult[T]])
		p.totalRead++
		iv.fill(ReadResult[T]{Value: v})
		p.completeFlushes()
		return nil
	}
	p.buf.Add(v)
	return nil
}

// pushbackDeferred returns the flow-control deferred for the current
// buffer occupancy.
func (p *Pipe[T]) pushbackDeferred() Deferred[Unit] {
	if p.capacity <= 0 || p.buf.Length() <= p.capacity {
		return Return(p.s, Unit{})
	}
	if p.pushback == nil {
		p.pushback = NewIvar[Unit](p.s)
	}
	return p.pushback.Read()
}

// releasePushback determines the pending pushback deferred once occupancy
// is back within capacity (or flow control no longer applies).
func (p *Pipe[T]) releasePushback() {
	if p.pushback != nil && (p.closed || p.capacity <= 0 || p.buf.Length() <= p.capacity) {
		p.pushback.fill(Unit{})
		p.pushback = nil
	}
}

// completeFlushes determines every flush request whose threshold has been
// consumed.
func (p *Pipe[T]) completeFlushes() {
	for p.flushes.Length() > 0 {
		f := p.flushes.Peek().(*pipeFlush)
		if f.threshold > p.totalRead {
			break
		}
		p.flushes.Remove()
		f.iv.fill(Flushed)
	}
}

// Read pops the next value in insertion order, or EOF once the pipe is
// closed and drained. With several outstanding reads, values are handed to
// readers in the order the reads arrived.
func (p *Pipe[T]) Read() Deferred[ReadResult[T]] {
	p.s.checkAccess()
	if p.buf.Length() > 0 {
		v := p.buf.Remove().(T)
		p.totalRead++
		p.releasePushback()
		p.completeFlushes()
		return Return(p.s, ReadResult[T]{Value: v})
	}
	if p.closed {
		return Return(p.s, ReadResult[T]{EOF: true})
	}
	iv := NewIvar[ReadResult[T]](p.s)
	p.readers.Add(iv)
	return iv.Read()
}

// ReadNow pops a buffered value without waiting. It fails with [ErrEmpty]
// when no value is immediately available, or [ErrClosed] at end of stream.
func (p *Pipe[T]) ReadNow() (T, error) {
	p.s.checkAccess()
	var zero T
	if p.buf.Length() > 0 {
		v := p.buf.Remove().(T)
		p.totalRead++
		p.releasePushback()
		p.completeFlushes()
		return v, nil
	}
	if p.closed {
		return zero, ErrClosed
	}
	return zero, ErrEmpty
}

// ReadExactly reads n values, or fewer if the pipe reaches end of stream
// first (Short is then set).
func (p *Pipe[T]) ReadExactly(n int) Deferred[ReadExactlyResult[T]] {
	acc := make([]T, 0, max(n, 0))
	return p.readExactly(n, acc)
}

func (p *Pipe[T]) readExactly(n int, acc []T) Deferred[ReadExactlyResult[T]] {
	if n <= len(acc) {
		return Return(p.s, ReadExactlyResult[T]{Values: acc})
	}
	return Bind(p.Read(), func(r ReadResult[T]) Deferred[ReadExactlyResult[T]] {
		if r.EOF {
			return Return(p.s, ReadExactlyResult[T]{Values: acc, Short: true})
		}
		return p.readExactly(n, append(acc, r.Value))
	})
}

// ReadAll drains the pipe to end of stream, returning everything read.
func (p *Pipe[T]) ReadAll() Deferred[[]T] {
	return p.readAll(nil)
}

func (p *Pipe[T]) readAll(acc []T) Deferred[[]T] {
	return Bind(p.Read(), func(r ReadResult[T]) Deferred[[]T] {
		if r.EOF {
			return Return(p.s, acc)
		}
		return p.readAll(append(acc, r.Value))
	})
}

// Close closes the write end: subsequent writes fail with [ErrClosed],
// readers drain the buffer and then observe EOF. Closing an already-closed
// pipe is a no-op.
func (p *Pipe[T]) Close() {
	p.s.checkAccess()
	if p.closed {
		return
	}
	p.closed = true
	// Waiting readers imply an empty buffer: they all get EOF.
	for p.readers.Length() > 0 {
		iv := p.readers.Remove().(*Ivar[ReadResult[T]])
		iv.fill(ReadResult[T]{EOF: true})
	}
	p.releasePushback()
}

// CloseRead closes the read end: buffered values are dropped, pending
// flushes observe [ReaderClosed], and writers observe [ErrClosed] from then
// on.
func (p *Pipe[T]) CloseRead() {
	p.s.checkAccess()
	if p.readClosed {
		return
	}
	p.readClosed = true
	for p.buf.Length() > 0 {
		p.buf.Remove()
	}
	for p.flushes.Length() > 0 {
		f := p.flushes.Remove().(*pipeFlush)
		f.iv.fill(ReaderClosed)
	}
	if !p.closed {
		p.closed = true
		for p.readers.Length() > 0 {
			iv := p.readers.Remove().(*Ivar[ReadResult[T]])
			iv.fill(ReadResult[T]{EOF: true})
		}
	}
	p.releasePushback()
}

// DownstreamFlushed returns a deferred determined once every value written
// before this call has been read, or with [ReaderClosed] if the read end
// closes first.
func (p *Pipe[T]) DownstreamFlushed() Deferred[FlushResult] {
	p.s.checkAccess()
	if p.readClosed {
		return Return(p.s, ReaderClosed)
	}
	if p.totalRead >= p.totalWritten {
		return Return(p.s, Flushed)
	}
	f := &pipeFlush{threshold: p.totalWritten, iv: NewIvar[FlushResult](p.s)}
	p.flushes.Add(f)
	return f.iv.Read()
}

// UpstreamFlushed is equivalent to [Pipe.DownstreamFlushed] for a pipe with
// no registered upstream producers, which is the only kind this kernel
// builds.
func (p *Pipe[T]) UpstreamFlushed() Deferred[FlushResult] {
	return p.DownstreamFlushed()
}
