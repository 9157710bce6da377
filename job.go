// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asynckernel

import (
	"github.com/eapache/queue"
)

// Priority selects the scheduler band a job runs in. There are exactly two
// bands; within a band, jobs run in strict FIFO order, and a low-priority
// job runs only once the normal band has drained (subject to the per-cycle
// fairness cap).
type Priority int

const (
	// PriorityNormal is the default band.
	PriorityNormal Priority = iota
	// PriorityLow runs only when the normal band is empty.
	PriorityLow
)

// String implements fmt.Stringer.
func (p Priority) String() string {
	switch p {
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// job is an enqueued unit of work: a closure tagged with the execution
// context captured at enqueue time. Jobs are value slots handed out by
// jobPool; run is cleared after execution so captured references drop
// promptly.
type job struct {
	ctx *ExecutionContext
	run func()
}

// jobPool is a free-list of job slots, grown geometrically, so that
// enqueueing does not allocate per job in the steady state.
type jobPool struct {
	free []*job
}

const jobPoolInitialSize = 64

func newJobPool() *jobPool {
	p := &jobPool{}
	p.grow(jobPoolInitialSize)
	return p
}

func (p *jobPool) grow(n int) {
	slots := make([]job, n)
	for i := range slots {
		p.free = append(p.free, &slots[i])
	}
}

// get returns a job slot initialized with the given context and closure.
func (p *jobPool) get(ctx *ExecutionContext, run func()) *job {
	if len(p.free) == 0 {
		p.grow(cap(p.free)*2 + jobPoolInitialSize)
	}
	j := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	j.ctx, j.run = ctx, run
	return j
}

// put clears and recycles a slot.
func (p *jobPool) put(j *job) {
	j.ctx, j.run = nil, nil
	p.free = append(p.free, j)
}

// jobQueue owns the two FIFO bands and the slot pool. It is mutated only
// from the scheduler's goroutine; the external inbox is spliced in as a
// batch once per cycle.
type jobQueue struct {
	bands [2]*queue.Queue
	pool  *jobPool
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		bands: [2]*queue.Queue{queue.New(), queue.New()},
		pool:  newJobPool(),
	}
}

// push appends a job to the back of the band selected by the context's
// priority.
func (q *jobQueue) push(ctx *ExecutionContext, run func()) {
	q.bands[ctx.priority].Add(q.pool.get(ctx, run))
}

// pop removes the front job of the given band, or nil if the band is empty.
func (q *jobQueue) pop(p Priority) *job {
	band := q.bands[p]
	if band.Length() == 0 {
		return nil
	}
	return band.Remove().(*job)
}

// length reports the number of queued jobs in the given band.
func (q *jobQueue) length(p Priority) int {
	return q.bands[p].Length()
}

// splice appends a batch of externally deposited closures to the back of
// the normal band, all under the given context. This is the transactional
// half of the external-job handshake: the scheduler drains the inbox under
// its lock and then splices the batch here, on its own goroutine.
func (q *jobQueue) splice(ctx *ExecutionContext, runs []func()) {
	for _, run := range runs {
		q.bands[PriorityNormal].Add(q.pool.get(ctx, run))
	}
}
