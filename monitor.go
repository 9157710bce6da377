// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asynckernel

// Monitor is a supervision node: it owns the error handlers for a region of
// work. Monitors form a tree rooted at the scheduler's main monitor; an
// error raised by a job propagates from the job's monitor toward the root
// until a handler consumes it. The tree has no cycles by construction (a
// monitor's parent is fixed at creation).
type Monitor struct {
	s            *Scheduler
	parent       *Monitor
	name         string
	handlers     []*monitorHandler
	forwarding   bool
	hasSeenError bool
}

// monitorHandler is one error subscription, with the context captured when
// the handler was attached.
type monitorHandler struct {
	ctx *ExecutionContext
	f   func(error)
}

// NewMonitor creates a monitor whose parent is the current context's
// monitor. Errors not consumed by its handlers forward to the parent.
func (s *Scheduler) NewMonitor(name string) *Monitor {
	return &Monitor{
		s:          s,
		parent:     s.currentContext().monitor,
		name:       name,
		forwarding: true,
	}
}

// MainMonitor returns the root of the supervision tree. Errors that reach
// it unconsumed mark the scheduler fatal and invoke the uncaught-exception
// hook.
func (s *Scheduler) MainMonitor() *Monitor { return s.mainMonitor }

// CurrentMonitor returns the monitor of the context currently in effect.
func (s *Scheduler) CurrentMonitor() *Monitor { return s.currentContext().monitor }

// Name returns the monitor's name, or "" if unnamed.
func (m *Monitor) Name() string { return m.name }

// Parent returns the monitor's parent, or nil for the main monitor. Monitors
// created by [TryWith] keep the parent they were created under; they only
// stop forwarding errors to it.
func (m *Monitor) Parent() *Monitor { return m.parent }

// HasSeenError reports whether any error has ever been delivered to this
// monitor.
func (m *Monitor) HasSeenError() bool { return m.hasSeenError }

// Detach stops the monitor from forwarding errors to its parent. After
// detaching, errors raised under the monitor are delivered only to handlers
// attached to it; with no handlers they go to the scheduler's rest-error
// sink rather than crashing the program.
func (m *Monitor) Detach() { m.forwarding = false }

// OnError attaches a handler invoked (as a freshly scheduled job, in the
// context current at attach time) for every error delivered to this
// monitor.
func (m *Monitor) OnError(f func(error)) {
	m.handlers = append(m.handlers, &monitorHandler{ctx: m.s.currentContext(), f: f})
}

// sendError delivers an error to the monitor: to its handlers if it has
// any, otherwise up the tree. Errors reaching the root unconsumed mark the
// scheduler fatal and invoke the uncaught hook; errors stranded on a
// detached handlerless monitor go to the rest-error sink.
func (m *Monitor) sendError(err error) {
	node := m
	for {
		node.hasSeenError = true
		if len(node.handlers) > 0 {
			for _, h := range node.handlers {
				h := h
				m.s.enqueue(h.ctx, func() { h.f(err) })
			}
			return
		}
		if !node.forwarding || node.parent == nil {
			break
		}
		node = node.parent
	}
	if node == m.s.mainMonitor {
		m.s.uncaught(err)
		return
	}
	m.s.restError(node, err)
}

// WithinContext runs f with the given context in effect, restoring the
// previous context on all exit paths. It does not catch panics; callers
// that need containment use [TryWith] or run f as a job.
func (s *Scheduler) WithinContext(ctx *ExecutionContext, f func()) {
	prev := s.current
	s.current = ctx
	defer func() { s.current = prev }()
	f()
}

// WithinMonitor runs f supervised by m: the current context is rederived
// with m as its monitor for the duration of f. Panics inside f are caught
// and delivered to m.
func (s *Scheduler) WithinMonitor(m *Monitor, f func()) {
	s.WithinContext(s.currentContext().withMonitor(m), func() {
		defer func() {
			if r := recover(); r != nil {
				m.sendError(s.wrapRaised(r))
			}
		}()
		f()
	})
}

// TryResult is the outcome of a [TryWith] computation: Value on success,
// Err on the first failure.
type TryResult[T any] struct {
	Value T
	Err   error
}

// Ok reports whether the computation succeeded.
func (r TryResult[T]) Ok() bool { return r.Err == nil }

// TryWith runs f under a fresh detached monitor and returns a deferred that
// resolves to the outcome: the value of f's deferred on success, or the
// first error raised under the monitor. The error does not leak into the
// surrounding monitor; failures after the first go to the scheduler's
// rest-error sink.
func TryWith[T any](s *Scheduler, f func() Deferred[T]) Deferred[TryResult[T]] {
	m := s.NewMonitor("try_with")
	m.forwarding = false
	res := NewIvar[TryResult[T]](s)

	m.handlers = append(m.handlers, &monitorHandler{
		ctx: s.currentContext().withMonitor(m),
		f: func(err error) {
			if !res.FillIfEmpty(TryResult[T]{Err: err}) {
				s.restError(m, err)
			}
		},
	})

	s.WithinContext(s.currentContext().withMonitor(m), func() {
		defer func() {
			if r := recover(); r != nil {
				m.sendError(s.wrapRaised(r))
			}
		}()
		d := f()
		d.upon(s.currentContext(), func(v T) {
			res.FillIfEmpty(TryResult[T]{Value: v})
		})
	})

	return res.Read()
}

// HandleErrors runs f under a fresh monitor whose errors are passed to
// handler (as scheduled jobs) instead of propagating to the parent, and
// returns f's deferred. Unlike [TryWith] the deferred still only carries
// the success value; the handler may be invoked any number of times.
func HandleErrors[T any](s *Scheduler, f func() Deferred[T], handler func(error)) Deferred[T] {
	m := s.NewMonitor("handle_errors")
	m.forwarding = false
	m.OnError(handler)

	var d Deferred[T]
	s.WithinContext(s.currentContext().withMonitor(m), func() {
		defer func() {
			if r := recover(); r != nil {
				m.sendError(s.wrapRaised(r))
			}
		}()
		d = f()
	})
	if d.iv == nil {
		// f panicked before producing a deferred; the error went to the
		// handler and the result can never be determined.
		d = Never[T](s)
	}
	return d
}

// wrapRaised normalizes a recovered panic value into the kernel's error
// taxonomy, attaching the backtrace history when recording is enabled.
func (s *Scheduler) wrapRaised(r any) error {
	var err error = PanicError{Value: r}
	if s.opts.recordBacktraces {
		return &MonitorError{
			Err:       err,
			Monitor:   s.currentContext().monitor,
			Backtrace: s.currentContext().backtrace,
		}
	}
	return err
}
