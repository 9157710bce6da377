// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asynckernel

import (
	"fmt"
	"runtime"
)

// ExecutionContext bundles the monitor, priority band, logical backtrace
// history, and local storage that travel with every job. Contexts are
// immutable; derivation copies on change. A job's context is fixed at
// enqueue time and does not change during its run.
type ExecutionContext struct {
	monitor   *Monitor
	priority  Priority
	backtrace []string
	local     map[any]any
}

// Monitor returns the supervision node errors raised under this context are
// delivered to.
func (c *ExecutionContext) Monitor() *Monitor { return c.monitor }

// Priority returns the scheduler band jobs created under this context run
// in.
func (c *ExecutionContext) Priority() Priority { return c.priority }

// Backtrace returns the logical call-site history recorded for this
// context. It is empty unless [WithRecordBacktraces] was enabled.
func (c *ExecutionContext) Backtrace() []string { return c.backtrace }

// Local returns the value stored under key, if any.
func (c *ExecutionContext) Local(key any) (any, bool) {
	v, ok := c.local[key]
	return v, ok
}

// WithPriority derives a context in the given band.
func (c *ExecutionContext) WithPriority(p Priority) *ExecutionContext {
	if p == c.priority {
		return c
	}
	d := c.clone()
	d.priority = p
	return d
}

// WithLocal derives a context carrying key=value in its local storage.
func (c *ExecutionContext) WithLocal(key, value any) *ExecutionContext {
	d := c.clone()
	if d.local == nil {
		d.local = make(map[any]any, 1)
	}
	d.local[key] = value
	return d
}

// withMonitor derives a context supervised by m.
func (c *ExecutionContext) withMonitor(m *Monitor) *ExecutionContext {
	d := c.clone()
	d.monitor = m
	return d
}

func (c *ExecutionContext) clone() *ExecutionContext {
	d := &ExecutionContext{
		monitor:   c.monitor,
		priority:  c.priority,
		backtrace: c.backtrace,
	}
	if c.local != nil {
		d.local = make(map[any]any, len(c.local))
		for k, v := range c.local {
			d.local[k] = v
		}
	}
	return d
}

// recordSite appends the caller's call site to the context's backtrace
// history, returning a derived context. Only invoked when backtrace
// recording is enabled; skip counts frames above the user call.
func (c *ExecutionContext) recordSite(skip int) *ExecutionContext {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return c
	}
	site := fmt.Sprintf("%s:%d", file, line)
	if fn := runtime.FuncForPC(pc); fn != nil {
		site = fmt.Sprintf("%s (%s:%d)", fn.Name(), file, line)
	}
	d := c.clone()
	// Share the prefix; the append below copies since the slice is full.
	d.backtrace = append(c.backtrace[:len(c.backtrace):len(c.backtrace)], site)
	return d
}
