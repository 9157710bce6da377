// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asynckernel

import (
	"fmt"

	"github.com/eapache/queue"
)

// Throttle admits at most a fixed number of concurrent asynchronous jobs;
// queued jobs are served in strict FIFO order. A throttle with a limit of
// one (see [NewSequencer]) provides mutual exclusion.
type Throttle struct {
	s               *Scheduler
	waiters         *queue.Queue // queued *throttleJob
	maxConcurrent   int
	running         int
	continueOnError bool
	killed          bool
}

// throttleJob is one queued unit of throttled work.
type throttleJob struct {
	start func()
	abort func()
}

// NewThrottle creates a throttle admitting up to maxConcurrent jobs at
// once. When continueOnError is false, the first failing job kills the
// throttle, aborting everything still queued.
func NewThrottle(s *Scheduler, maxConcurrent int, continueOnError bool) (*Throttle, error) {
	if maxConcurrent < 1 {
		return nil, fmt.Errorf("asynckernel: throttle concurrency must be at least 1, got %d", maxConcurrent)
	}
	return &Throttle{
		s:               s,
		waiters:         queue.New(),
		maxConcurrent:   maxConcurrent,
		continueOnError: continueOnError,
	}, nil
}

// NewSequencer creates a max-concurrency-1 throttle: an asynchronous mutex
// serving queued jobs in submission order.
func NewSequencer(s *Scheduler, continueOnError bool) *Throttle {
	t, err := NewThrottle(s, 1, continueOnError)
	if err != nil {
		// Unreachable: the concurrency is constant.
		panic(err)
	}
	return t
}

// MaxConcurrentJobs returns the concurrency limit.
func (t *Throttle) MaxConcurrentJobs() int { return t.maxConcurrent }

// NumJobsRunning returns the number of jobs currently admitted.
func (t *Throttle) NumJobsRunning() int { return t.running }

// NumJobsWaiting returns the number of jobs queued behind the limit.
func (t *Throttle) NumJobsWaiting() int { return t.waiters.Length() }

// IsKilled reports whether the throttle has been killed.
func (t *Throttle) IsKilled() bool { return t.killed }

// Kill aborts all queued jobs and prevents new work from being admitted.
// Jobs already running are not interrupted (nothing preempts a running
// job); their results are still delivered.
func (t *Throttle) Kill() {
	t.s.checkAccess()
	if t.killed {
		return
	}
	t.killed = true
	n := t.waiters.Length()
	t.s.logger.Debug().Int("aborted", n).Log("throttle killed")
	for t.waiters.Length() > 0 {
		j := t.waiters.Remove().(*throttleJob)
		j.abort()
	}
}

// pump admits queued jobs while capacity allows, preserving FIFO order.
// Each admitted job starts as a freshly scheduled job rather than inline,
// so admission from within a completing job cannot recurse.
func (t *Throttle) pump() {
	for !t.killed && t.running < t.maxConcurrent && t.waiters.Length() > 0 {
		j := t.waiters.Remove().(*throttleJob)
		t.running++
		t.s.enqueue(t.s.currentContext(), j.start)
	}
}

// ThrottleResult is the outcome of one throttled job, as observed through
// [EnqueueResult].
type ThrottleResult[T any] struct {
	// Value is the job's result when it ran to completion.
	Value T
	// Err is the job's failure, when it raised.
	Err error
	// Aborted reports the job was dropped by [Throttle.Kill] before it
	// started.
	Aborted bool
}

// EnqueueResult submits f to the throttle and returns a deferred carrying
// the job's explicit outcome: its value, its failure, or an abort marker if
// the throttle is killed before the job starts.
func EnqueueResult[T any](t *Throttle, f func() Deferred[T]) Deferred[ThrottleResult[T]] {
	t.s.checkAccess()
	res := NewIvar[ThrottleResult[T]](t.s)
	if t.killed {
		res.fill(ThrottleResult[T]{Aborted: true})
		return res.Read()
	}
	ctx := t.s.captureContext()
	j := &throttleJob{
		start: func() {
			tw := TryWith(t.s, f)
			tw.upon(ctx, func(r TryResult[T]) {
				t.running--
				if r.Err != nil {
					res.fill(ThrottleResult[T]{Err: r.Err})
					if !t.continueOnError {
						t.Kill()
					}
				} else {
					res.fill(ThrottleResult[T]{Value: r.Value})
				}
				t.pump()
			})
		},
		abort: func() {
			res.fill(ThrottleResult[T]{Aborted: true})
		},
	}
	t.waiters.Add(j)
	t.pump()
	return res.Read()
}

// Enqueue submits f to the throttle and returns a deferred carrying f's
// result. A failure is delivered to the monitor in effect at enqueue time
// rather than through the result, which is then never determined; likewise
// an aborted job's result stays undetermined. Use [EnqueueResult] to
// observe those outcomes explicitly.
func Enqueue[T any](t *Throttle, f func() Deferred[T]) Deferred[T] {
	ctx := t.s.captureContext()
	res := NewIvar[T](t.s)
	EnqueueResult(t, f).upon(ctx, func(r ThrottleResult[T]) {
		switch {
		case r.Err != nil:
			ctx.monitor.sendError(r.Err)
		case r.Aborted:
			// Result intentionally left undetermined.
		default:
			res.fill(r.Value)
		}
	})
	return res.Read()
}
