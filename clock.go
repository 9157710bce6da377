// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asynckernel

// FireResult is the terminal outcome carried by an [Event]'s fired
// deferred.
type FireResult int

const (
	// EventHappened: the event's time arrived and it fired.
	EventHappened FireResult = iota
	// EventAborted: the event was aborted before firing.
	EventAborted
)

// String implements fmt.Stringer.
func (r FireResult) String() string {
	switch r {
	case EventHappened:
		return "happened"
	case EventAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// RescheduleResult is the outcome of [Event.RescheduleAt].
type RescheduleResult int

const (
	// RescheduleOk: the backing alarm was still in the wheel and has been
	// moved to the new time.
	RescheduleOk RescheduleResult = iota
	// TooLateToReschedule: the fire job has already been enqueued for this
	// cycle; the event will fire at its original time.
	TooLateToReschedule
	// PreviouslyAborted: the event was already aborted.
	PreviouslyAborted
	// PreviouslyHappened: the event already fired.
	PreviouslyHappened
)

// AbortResult is the outcome of [Event.Abort].
type AbortResult int

const (
	// AbortOk: the event was aborted and its fired deferred determined with
	// [EventAborted].
	AbortOk AbortResult = iota
	// AbortPreviouslyAborted: the event was already aborted.
	AbortPreviouslyAborted
	// AbortPreviouslyHappened: the event already fired.
	AbortPreviouslyHappened
)

// eventState tracks an Event through its lifecycle.
type eventState int

const (
	eventWaiting eventState = iota
	// eventFirePending: the wheel entry fired and the fill job is enqueued
	// but has not yet run. The event can still be aborted, but no longer
	// rescheduled.
	eventFirePending
	eventHappened
	eventAborted
)

// Event is a timed occurrence with structured cancellation: the backing
// timing-wheel alarm can be aborted or rescheduled until it fires, and the
// outcome is observable through [Event.Fired].
type Event struct {
	s     *Scheduler
	at    Time
	state eventState
	alarm *schedulerAlarm
	fired *Ivar[FireResult]
}

// NewEventAt allocates an event firing at the given absolute time. Times at
// or before the current time fire on the next cycle.
func NewEventAt(s *Scheduler, at Time) *Event {
	s.checkAccess()
	e := &Event{s: s, at: at, fired: NewIvar[FireResult](s)}
	ctx := s.captureContext()
	e.alarm = s.addAlarm(at, func() {
		e.state = eventFirePending
		s.enqueue(ctx, func() {
			if e.state != eventFirePending {
				return // aborted between fire and the fill job running
			}
			e.state = eventHappened
			e.fired.fill(EventHappened)
		})
	})
	return e
}

// NewEventAfter allocates an event firing after the given span.
func NewEventAfter(s *Scheduler, span Span) *Event {
	return NewEventAt(s, s.Now().Add(span))
}

// RunAt allocates an event and runs f once it fires (and not if it is
// aborted).
func RunAt(s *Scheduler, at Time, f func()) *Event {
	e := NewEventAt(s, at)
	e.fired.Read().Upon(func(r FireResult) {
		if r == EventHappened {
			f()
		}
	})
	return e
}

// RunAfter is [RunAt] at now + span.
func RunAfter(s *Scheduler, span Span, f func()) *Event {
	return RunAt(s, s.Now().Add(span), f)
}

// Fired returns the deferred determined with the event's terminal outcome.
func (e *Event) Fired() Deferred[FireResult] { return e.fired.Read() }

// ScheduledAt returns the time the event is currently set to fire at.
func (e *Event) ScheduledAt() Time { return e.at }

// Abort cancels the event: the wheel entry is removed and the fired
// deferred determined with [EventAborted]. Aborting wins over a fire whose
// fill job has been enqueued but has not yet run.
func (e *Event) Abort() AbortResult {
	e.s.checkAccess()
	switch e.state {
	case eventAborted:
		return AbortPreviouslyAborted
	case eventHappened:
		return AbortPreviouslyHappened
	}
	e.alarm.remove()
	e.state = eventAborted
	e.fired.fill(EventAborted)
	return AbortOk
}

// RescheduleAt moves a still-pending event to a new time. Once the fire job
// for the original time has been enqueued the event can no longer be moved
// and TooLateToReschedule is returned.
func (e *Event) RescheduleAt(at Time) RescheduleResult {
	e.s.checkAccess()
	switch e.state {
	case eventAborted:
		return PreviouslyAborted
	case eventHappened:
		return PreviouslyHappened
	case eventFirePending:
		return TooLateToReschedule
	}
	e.at = at
	e.alarm.reschedule(at)
	return RescheduleOk
}

// RescheduleAfter is [Event.RescheduleAt] at now + span.
func (e *Event) RescheduleAfter(span Span) RescheduleResult {
	return e.RescheduleAt(e.s.Now().Add(span))
}

// At returns a unit deferred determined once the given absolute time has
// been reached by the scheduler.
func At(s *Scheduler, t Time) Deferred[Unit] {
	return Map(NewEventAt(s, t).Fired(), func(FireResult) Unit { return Unit{} })
}

// After returns a unit deferred determined once the given span has elapsed.
// Nonpositive spans determine on the next cycle.
func After(s *Scheduler, span Span) Deferred[Unit] {
	return At(s, s.Now().Add(span))
}

// TimeoutResult is the outcome of [WithTimeout].
type TimeoutResult[T any] struct {
	// Value is the underlying deferred's value, when TimedOut is false.
	Value T
	// TimedOut reports that the timeout elapsed before the deferred was
	// determined.
	TimedOut bool
}

// WithTimeout races d against a timer. If d is determined by the time the
// race is decided — even when the timeout fired in the same cycle — the
// value wins. The losing side is cancelled: a won race aborts the timer
// event, a timeout removes the waiter from d in O(1).
func WithTimeout[T any](s *Scheduler, span Span, d Deferred[T]) Deferred[TimeoutResult[T]] {
	ev := NewEventAfter(s, span)
	return Choose(s,
		When(d, func(v T) TimeoutResult[T] {
			ev.Abort()
			return TimeoutResult[T]{Value: v}
		}),
		When(ev.Fired(), func(FireResult) TimeoutResult[T] {
			return TimeoutResult[T]{TimedOut: true}
		}),
	)
}

// intervalOptions holds resolved configuration for the interval APIs.
type intervalOptions struct {
	start           Time
	haveStart       bool
	stop            Deferred[Unit]
	haveStop        bool
	continueOnError bool
}

// IntervalOption configures [AtIntervals], [Every], and friends.
type IntervalOption func(*intervalOptions)

// WithIntervalStart anchors the interval schedule at the given time instead
// of the current time.
func WithIntervalStart(t Time) IntervalOption {
	return func(o *intervalOptions) {
		o.start = t
		o.haveStart = true
	}
}

// WithIntervalStop terminates the schedule once the given deferred is
// determined.
func WithIntervalStop(stop Deferred[Unit]) IntervalOption {
	return func(o *intervalOptions) {
		o.stop = stop
		o.haveStop = true
	}
}

// WithContinueOnError controls what a repeating loop does when an
// invocation fails. When true (the default) the failure is sent to the
// monitor surrounding the loop's creation and the loop continues after the
// interval; when false the first failure terminates the loop (the failure
// is still delivered to the surrounding monitor).
func WithContinueOnError(enabled bool) IntervalOption {
	return func(o *intervalOptions) {
		o.continueOnError = enabled
	}
}

func resolveIntervalOptions(s *Scheduler, opts []IntervalOption) *intervalOptions {
	cfg := &intervalOptions{continueOnError: true}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if !cfg.haveStart {
		cfg.start = s.Now()
	}
	return cfg
}

// nextMultiple returns the earliest start + k*interval strictly after now.
// When the scheduler has fallen behind, missed ticks are skipped rather
// than burst.
func nextMultiple(start, now Time, interval Span) Time {
	if now < start {
		return start
	}
	k := (now.Sub(start) / interval) + 1
	return start.Add(k * interval)
}

// AtIntervals returns a pipe emitting the scheduled tick times at
// start + k*interval. Missed ticks are skipped to the next future multiple
// rather than burst. The pipe closes when the stop deferred (if any)
// determines, or when its read end is closed.
func AtIntervals(s *Scheduler, interval Span, opts ...IntervalOption) (*Pipe[Time], error) {
	if err := validateSpan(interval); err != nil {
		return nil, err
	}
	cfg := resolveIntervalOptions(s, opts)
	p := NewPipe[Time](s, 1)

	stopped := false
	var current *Event
	var tick func(at Time)
	tick = func(at Time) {
		current = NewEventAt(s, at)
		current.Fired().Upon(func(r FireResult) {
			if r != EventHappened || stopped || p.IsClosed() {
				return
			}
			_ = p.WriteWithoutPushback(at)
			tick(nextMultiple(cfg.start, s.Now(), interval))
		})
	}
	if cfg.haveStop {
		cfg.stop.Upon(func(Unit) {
			stopped = true
			if current != nil {
				current.Abort()
			}
			p.Close()
		})
	}
	tick(nextMultiple(cfg.start, s.Now(), interval))
	return p, nil
}

// Every runs f once per interval: each completed invocation schedules the
// next one interval later. The first invocation runs at the schedule start
// (by default, immediately).
func Every(s *Scheduler, interval Span, f func(), opts ...IntervalOption) error {
	return EveryPrime(s, interval, func() Deferred[Unit] {
		f()
		return Return(s, Unit{})
	}, opts...)
}

// EveryPrime runs f once per interval, waiting for the deferred f returns
// before starting the interval wait for the next invocation. Failures are
// isolated per invocation via [TryWith]; see [WithContinueOnError].
func EveryPrime(s *Scheduler, interval Span, f func() Deferred[Unit], opts ...IntervalOption) error {
	if err := validateSpan(interval); err != nil {
		return err
	}
	cfg := resolveIntervalOptions(s, opts)
	surrounding := s.captureContext()

	stopped := false
	var current *Event
	var invoke func()
	wait := func() {
		if stopped {
			return
		}
		current = NewEventAfter(s, interval)
		current.Fired().upon(surrounding, func(r FireResult) {
			if r == EventHappened {
				invoke()
			}
		})
	}
	invoke = func() {
		if stopped {
			return
		}
		res := TryWith(s, f)
		res.upon(surrounding, func(r TryResult[Unit]) {
			if r.Err != nil {
				surrounding.monitor.sendError(r.Err)
				if !cfg.continueOnError {
					stopped = true
					return
				}
			}
			wait()
		})
	}
	if cfg.haveStop {
		cfg.stop.upon(surrounding, func(Unit) {
			stopped = true
			if current != nil {
				current.Abort()
			}
		})
	}

	if cfg.haveStart && cfg.start > s.Now() {
		current = NewEventAt(s, cfg.start)
		current.Fired().upon(surrounding, func(r FireResult) {
			if r == EventHappened {
				invoke()
			}
		})
	} else {
		s.enqueue(surrounding, invoke)
	}
	return nil
}

// RunAtIntervals runs f at wall-time multiples of the interval, regardless
// of how long each invocation takes; missed ticks are skipped rather than
// burst.
func RunAtIntervals(s *Scheduler, interval Span, f func(), opts ...IntervalOption) error {
	return runAtIntervals(s, interval, func() Deferred[Unit] {
		f()
		return Return(s, Unit{})
	}, false, opts)
}

// RunAtIntervalsPrime runs f at wall-time multiples of the interval, but
// skips ticks that arrive while a previous invocation's deferred is still
// pending.
func RunAtIntervalsPrime(s *Scheduler, interval Span, f func() Deferred[Unit], opts ...IntervalOption) error {
	return runAtIntervals(s, interval, f, true, opts)
}

func runAtIntervals(s *Scheduler, interval Span, f func() Deferred[Unit], skipWhileRunning bool, opts []IntervalOption) error {
	if err := validateSpan(interval); err != nil {
		return err
	}
	cfg := resolveIntervalOptions(s, opts)
	surrounding := s.captureContext()

	stopped := false
	running := false
	var current *Event
	var tick func(at Time)
	tick = func(at Time) {
		current = NewEventAt(s, at)
		current.Fired().upon(surrounding, func(r FireResult) {
			if r != EventHappened || stopped {
				return
			}
			if !(skipWhileRunning && running) {
				running = true
				res := TryWith(s, f)
				res.upon(surrounding, func(tr TryResult[Unit]) {
					running = false
					if tr.Err != nil {
						surrounding.monitor.sendError(tr.Err)
						if !cfg.continueOnError {
							stopped = true
							if current != nil {
								current.Abort()
							}
						}
					}
				})
			}
			if !stopped {
				tick(nextMultiple(cfg.start, s.Now(), interval))
			}
		})
	}
	if cfg.haveStop {
		cfg.stop.upon(surrounding, func(Unit) {
			stopped = true
			if current != nil {
				current.Abort()
			}
		})
	}
	tick(nextMultiple(cfg.start, s.Now(), interval))
	return nil
}
