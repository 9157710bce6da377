// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asynckernel

import (
	"github.com/eapache/queue"
)

// Condition is a broadcast signaling point: waiters park on it and are
// released, in arrival order, by the next [Condition.Signal] or
// [Condition.Broadcast]. A waiter that registers after a broadcast does not
// observe it.
type Condition[T any] struct {
	s       *Scheduler
	waiters *queue.Queue // waiting *Ivar[T]
}

// NewCondition creates a condition bound to the scheduler.
func NewCondition[T any](s *Scheduler) *Condition[T] {
	return &Condition[T]{s: s, waiters: queue.New()}
}

// Wait returns a deferred determined by the next signal or broadcast.
func (c *Condition[T]) Wait() Deferred[T] {
	c.s.checkAccess()
	iv := NewIvar[T](c.s)
	c.waiters.Add(iv)
	return iv.Read()
}

// Signal releases the longest-waiting waiter, if any, with the given
// value.
func (c *Condition[T]) Signal(v T) {
	c.s.checkAccess()
	if c.waiters.Length() == 0 {
		return
	}
	iv := c.waiters.Remove().(*Ivar[T])
	iv.fill(v)
}

// Broadcast releases every current waiter with the given value.
func (c *Condition[T]) Broadcast(v T) {
	c.s.checkAccess()
	n := c.waiters.Length()
	for i := 0; i < n; i++ {
		iv := c.waiters.Remove().(*Ivar[T])
		iv.fill(v)
	}
}

// NumWaiting returns the number of parked waiters.
func (c *Condition[T]) NumWaiting() int { return c.waiters.Length() }
