// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asynckernel

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

// Scheduler owns the job queues, the timing wheel, and the current
// execution context, and runs the kernel's main cycle. It has no thread of
// its own: the embedding driver calls [Scheduler.RunCycle] repeatedly and
// sleeps between cycles until [Scheduler.WakeSignal] fires or
// [Scheduler.NextUpcomingEventTime] arrives.
//
// All scheduler-owned state (ivars, queues, wheel, monitors) is mutated
// only from the driving goroutine. The external-job inbox is the sole
// cross-thread surface.
type Scheduler struct {
	opts   schedulerOptions
	logger *logiface.Logger[logiface.Event]

	queue      *jobQueue
	wheel      *timingWheel
	timeSource TimeSource

	mainMonitor *Monitor
	mainContext *ExecutionContext
	current     *ExecutionContext

	nowCached       Time
	cycleStart      Time
	cycleInProgress bool
	cycleCount      uint64
	jobsLastCycle   int
	maxJobsPerBand  int
	fatal           bool
	uncaughtHandler func(error)

	// External inbox: the only state shared with foreign goroutines.
	externalMu   sync.Mutex
	externalJobs []func()
	externalBuf  []func()
	wakeCh       chan struct{}

	// Cross-thread access detection.
	ownerGoroutine atomic.Uint64
}

// NewScheduler creates a scheduler with the given options.
func NewScheduler(opts ...SchedulerOption) (*Scheduler, error) {
	cfg, err := resolveSchedulerOptions(opts)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		opts:           *cfg,
		logger:         cfg.logger,
		queue:          newJobQueue(),
		timeSource:     cfg.timeSource,
		maxJobsPerBand: cfg.maxJobsPerBand,
		wakeCh:         make(chan struct{}, 1),
	}
	if s.timeSource == nil {
		s.timeSource = NewMonotonicTimeSource()
	}

	start := s.timeSource.Now()
	s.nowCached = start
	s.wheel, err = newTimingWheel(cfg.wheelConfig, start)
	if err != nil {
		return nil, err
	}

	s.mainMonitor = &Monitor{s: s, name: "main"}
	s.mainContext = &ExecutionContext{monitor: s.mainMonitor, priority: PriorityNormal}
	s.current = s.mainContext
	return s, nil
}

// currentContext returns the context currently in effect.
func (s *Scheduler) currentContext() *ExecutionContext { return s.current }

// captureContext snapshots the current context for a handler or job,
// recording the call site when backtrace recording is enabled.
func (s *Scheduler) captureContext() *ExecutionContext {
	ctx := s.current
	if s.opts.recordBacktraces {
		// Skip captureContext and its caller (the combinator).
		ctx = ctx.recordSite(2)
	}
	return ctx
}

// Now returns the scheduler's notion of the current time: the cycle-start
// snapshot while a cycle is running (time never moves inside a job), or a
// fresh reading between cycles.
func (s *Scheduler) Now() Time {
	if !s.cycleInProgress {
		s.nowCached = s.timeSource.Now()
	}
	return s.nowCached
}

// enqueue appends a job in the band selected by the context's priority.
func (s *Scheduler) enqueue(ctx *ExecutionContext, run func()) {
	s.queue.push(ctx, run)
}

// Submit enqueues f as a job in the current context. It is the low-level
// entry for work originating on the scheduler goroutine; foreign
// goroutines use [Scheduler.EnqueueExternalJob] instead.
func (s *Scheduler) Submit(f func()) {
	s.checkAccess()
	s.enqueue(s.captureContext(), f)
}

// SubmitWithPriority enqueues f in the given band, overriding the current
// context's priority.
func (s *Scheduler) SubmitWithPriority(p Priority, f func()) {
	s.checkAccess()
	ctx := s.captureContext().WithPriority(p)
	s.enqueue(ctx, f)
}

// RunCycle executes one scheduler cycle:
//
//  1. Snapshot time and advance the timing wheel, firing due alarms (which
//     fill their ivars and thereby enqueue handler jobs).
//  2. Atomically splice externally deposited jobs onto the normal band.
//  3. Drain the normal band up to the per-band cap, then the low band.
//     Jobs past the cap stay queued for the next cycle.
//
// Each job runs within its captured context; failures are caught at the
// job boundary and routed through the job's monitor. RunCycle must not be
// re-entered; doing so fails with [ErrCycleInProgress].
func (s *Scheduler) RunCycle() error {
	s.checkAccess()
	if s.cycleInProgress {
		return ErrCycleInProgress
	}
	s.cycleInProgress = true
	defer func() { s.cycleInProgress = false }()

	now := s.timeSource.Now()
	s.nowCached = now
	s.cycleStart = now
	s.cycleCount++

	s.wheel.advanceTo(now)
	s.spliceExternalJobs()

	ran := 0
	for _, band := range [...]Priority{PriorityNormal, PriorityLow} {
		for n := 0; n < s.maxJobsPerBand; n++ {
			j := s.queue.pop(band)
			if j == nil {
				break
			}
			s.runJob(j)
			ran++
		}
	}
	s.jobsLastCycle = ran

	if s.opts.checkInvariants {
		s.wheel.checkInvariants()
	}

	s.logger.Trace().
		Uint64("cycle", s.cycleCount).
		Int("jobs", ran).
		Int("queued", s.NumPendingJobs()).
		Log("cycle complete")
	return nil
}

// runJob executes one job within its captured context, catching panics and
// routing them to the job's monitor.
func (s *Scheduler) runJob(j *job) {
	ctx, run := j.ctx, j.run
	s.queue.pool.put(j)

	prev := s.current
	s.current = ctx
	defer func() { s.current = prev }()

	defer func() {
		if r := recover(); r != nil {
			err := s.wrapRaised(r)
			s.logger.Debug().Err(err).Str("monitor", ctx.monitor.Name()).Log("job raised")
			ctx.monitor.sendError(err)
		}
	}()
	run()
}

// IsRunning reports whether a cycle is currently in progress.
func (s *Scheduler) IsRunning() bool { return s.cycleInProgress }

// IsFatal reports whether an error reached the main monitor unconsumed.
func (s *Scheduler) IsFatal() bool { return s.fatal }

// CycleCount returns the number of completed and in-progress cycles.
func (s *Scheduler) CycleCount() uint64 { return s.cycleCount }

// CycleStartTime returns the time snapshot taken at the start of the most
// recent cycle.
func (s *Scheduler) CycleStartTime() Time { return s.cycleStart }

// NumJobsRunLastCycle returns how many jobs the most recent completed
// cycle executed across both bands.
func (s *Scheduler) NumJobsRunLastCycle() int { return s.jobsLastCycle }

// NumPendingJobs returns the number of jobs currently queued across both
// bands, excluding the external inbox.
func (s *Scheduler) NumPendingJobs() int {
	return s.queue.length(PriorityNormal) + s.queue.length(PriorityLow)
}

// NextUpcomingEventTime returns the earliest pending timing-wheel alarm, if
// any. Together with [Scheduler.WakeSignal] this is the driver's sleep
// target.
func (s *Scheduler) NextUpcomingEventTime() (Time, bool) {
	return s.wheel.minAlarmTime()
}

// SetMaxJobsPerPriorityPerCycle adjusts the per-band fairness cap.
// Nonpositive values are ignored.
func (s *Scheduler) SetMaxJobsPerPriorityPerCycle(n int) {
	if n > 0 {
		s.maxJobsPerBand = n
	}
}

// InstallUncaughtHandler replaces the hook invoked when an error reaches
// the main monitor unconsumed. The default hook panics with the error
// after logging it.
func (s *Scheduler) InstallUncaughtHandler(f func(error)) {
	s.uncaughtHandler = f
}

// uncaught marks the scheduler fatal and reports through the installed
// hook.
func (s *Scheduler) uncaught(err error) {
	s.fatal = true
	s.logger.Err().Err(err).Log("uncaught error reached the main monitor")
	if s.uncaughtHandler != nil {
		s.uncaughtHandler(err)
		return
	}
	panic(err)
}

// restError is the sink for errors with nowhere left to go: failures after
// the first under a [TryWith], or errors stranded on a detached monitor
// with no handlers.
func (s *Scheduler) restError(m *Monitor, err error) {
	s.logger.Warning().Err(err).Str("monitor", m.Name()).Log("unconsumed monitor error")
}

// EnqueueExternalJob deposits f in the thread-safe inbox. The scheduler
// splices the inbox onto the end of the normal band once per cycle; f runs
// under the main context. This is the only operation foreign goroutines
// may call.
func (s *Scheduler) EnqueueExternalJob(f func()) {
	if f == nil {
		return
	}
	s.externalMu.Lock()
	s.externalJobs = append(s.externalJobs, f)
	s.externalMu.Unlock()
	s.wake()
}

// WakeSignal returns a channel that receives a token whenever external
// work arrives, so a sleeping driver can cut its wait short.
func (s *Scheduler) WakeSignal() <-chan struct{} {
	return s.wakeCh
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// spliceExternalJobs atomically swaps the inbox against a recycled buffer
// and appends the batch to the normal band.
func (s *Scheduler) spliceExternalJobs() {
	s.externalMu.Lock()
	if len(s.externalJobs) == 0 {
		s.externalMu.Unlock()
		return
	}
	batch := s.externalJobs
	s.externalJobs = s.externalBuf[:0]
	s.externalBuf = batch
	s.externalMu.Unlock()

	s.queue.splice(s.mainContext, batch)
	for i := range batch {
		batch[i] = nil
	}
}

// checkAccess panics when scheduler-owned state is touched from a foreign
// goroutine, if detection is enabled. The first goroutine to touch the
// scheduler becomes its owner.
func (s *Scheduler) checkAccess() {
	if !s.opts.detectInvalidAccess {
		return
	}
	id := getGoroutineID()
	if s.ownerGoroutine.CompareAndSwap(0, id) {
		return
	}
	if s.ownerGoroutine.Load() != id {
		panic("asynckernel: scheduler accessed from a foreign goroutine (use EnqueueExternalJob)")
	}
}

// getGoroutineID parses the current goroutine's ID out of its stack header.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

// schedulerAlarm is a stable handle over a timing-wheel entry. It
// transparently re-batches alarms that lie beyond the wheel's horizon:
// such alarms are parked just inside the horizon and hopped forward each
// time the park point is reached, so callers never see [ErrOutOfRange].
type schedulerAlarm struct {
	s    *Scheduler
	at   Time
	fire func()
	cur  *wheelAlarm
}

// addAlarm schedules fire to run during the first cycle whose time reaches
// at, returning a handle usable for O(1) abort and reschedule.
func (s *Scheduler) addAlarm(at Time, fire func()) *schedulerAlarm {
	sa := &schedulerAlarm{s: s, at: at, fire: fire}
	sa.schedule()
	return sa
}

func (sa *schedulerAlarm) schedule() {
	a, err := sa.s.wheel.add(sa.at, sa.onFire)
	if err != nil {
		// Beyond the horizon: park short of it and hop forward on fire.
		park := sa.s.wheel.horizon().Add(-Span(sa.s.wheel.cfg.Resolution))
		sa.s.logger.Debug().
			Stringer("at", sa.at).
			Stringer("park", park).
			Log("alarm beyond wheel horizon, batching")
		a, err = sa.s.wheel.add(park, sa.onFire)
		if err != nil {
			// The park point is inside the horizon by construction.
			panic(err)
		}
	}
	sa.cur = a
}

func (sa *schedulerAlarm) onFire() {
	if sa.s.wheel.now >= sa.at {
		sa.fire()
		return
	}
	sa.schedule()
}

// remove aborts the alarm; a no-op once fired.
func (sa *schedulerAlarm) remove() {
	if sa.cur != nil {
		sa.s.wheel.remove(sa.cur)
	}
}

// reschedule moves a still-pending alarm to a new time.
func (sa *schedulerAlarm) reschedule(at Time) {
	sa.remove()
	sa.at = at
	sa.schedule()
}
