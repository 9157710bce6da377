// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package asynckernel implements a single-threaded cooperative scheduler for
// fine-grained asynchronous tasks, coordinated through single-assignment
// future cells ("ivars"), with structured error containment, timed events,
// bounded concurrency, and back-pressured streaming pipes.
//
// # Architecture
//
// The kernel is made up of five tightly coupled subsystems:
//
//   - The promise substrate: [Ivar] (write end) and [Deferred] (read end),
//     plus the composition combinators [Bind], [Map], [All], [Choose], and
//     friends.
//   - Execution contexts and [Monitor] supervision: every job carries an
//     [ExecutionContext]; callback failures are caught at the job boundary
//     and routed through the monitor tree.
//   - The [Scheduler]: drains queued jobs in FIFO order within two priority
//     bands, with a per-cycle fairness budget.
//   - The timing wheel: a hierarchical bucketed structure that schedules
//     future-dated alarms, fired by each call to [Scheduler.RunCycle].
//   - [Pipe], [Throttle], and [Condition]: coordination structures layered
//     entirely on the promise substrate and the scheduler.
//
// # Execution model
//
// All jobs run serialized through the scheduler; a job runs to completion
// before any other job. There are no suspension points inside a job body: a
// computation "suspends" by returning, having registered its continuation on
// some ivar via [Deferred.Upon] or a combinator. Filling an ivar never runs
// handlers synchronously; it enqueues them as jobs for a subsequent point in
// the current (or a later) cycle. This is load-bearing: it bounds recursion
// depth and enforces fair interleaving.
//
// The scheduler does not own a thread. The embedding driver calls
// [Scheduler.RunCycle] repeatedly, sleeping between cycles until either
// [Scheduler.WakeSignal] fires or the time reported by
// [Scheduler.NextUpcomingEventTime] arrives. Foreign goroutines may interact
// with the kernel only via [Scheduler.EnqueueExternalJob]; everything else is
// owned by the scheduler and must be touched only from the driving
// goroutine (see [WithDetectInvalidAccessFromThread]).
//
// # Minimal example
//
//	sched, _ := asynckernel.NewScheduler()
//	iv := asynckernel.NewIvar[int](sched)
//	iv.Read().Upon(func(v int) { fmt.Println("got", v) })
//	_ = iv.Fill(42)
//	_ = sched.RunCycle() // runs the handler
package asynckernel
