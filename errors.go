// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asynckernel

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrAlreadyFull is returned by [Ivar.Fill] when the ivar has already
	// been filled. Use [Ivar.FillIfEmpty] for the total variant.
	ErrAlreadyFull = errors.New("asynckernel: ivar is already full")

	// ErrNotDetermined is returned by [Deferred.ValueExn] when the deferred
	// has not yet been determined.
	ErrNotDetermined = errors.New("asynckernel: deferred is not determined")

	// ErrCycleInProgress is returned by [Scheduler.RunCycle] when a cycle is
	// already running (re-entrant entry).
	ErrCycleInProgress = errors.New("asynckernel: scheduler cycle is already in progress")

	// ErrInvalidSpan is returned by interval APIs when given a nonpositive
	// span.
	ErrInvalidSpan = errors.New("asynckernel: span must be positive")

	// ErrClosed is returned by pipe operations on a closed pipe.
	ErrClosed = errors.New("asynckernel: pipe is closed")

	// ErrEmpty is returned by [Pipe.ReadNow] when no value is immediately
	// available and the pipe is not yet at end of stream.
	ErrEmpty = errors.New("asynckernel: pipe has no available values")

	// ErrOutOfRange is returned when an alarm time lies beyond the timing
	// wheel's horizon.
	ErrOutOfRange = errors.New("asynckernel: alarm time is beyond the timing wheel horizon")

	// ErrAborted indicates user-triggered cancellation. No operation in this
	// package returns it: work dropped by a killed [Throttle] is reported
	// through [ThrottleResult] with Aborted set instead.
	ErrAborted = errors.New("asynckernel: aborted")
)

// PanicError wraps a value recovered from a panicking user callback. The
// scheduler catches panics at the job boundary and delivers them, wrapped,
// to the job's monitor; they are never surfaced through the deferred result
// of a bind or map.
type PanicError struct {
	// Value is the value the callback panicked with.
	Value any
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("asynckernel: job panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type,
// enabling [errors.Is] and [errors.As] through the wrapper.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// MonitorError annotates an error with the monitor it was delivered through,
// preserving the logical position of the failure in the supervision tree.
type MonitorError struct {
	// Err is the original failure.
	Err error
	// Monitor is the monitor the failure was delivered to.
	Monitor *Monitor
	// Backtrace holds the context's logical call-site history, if backtrace
	// recording was enabled on the scheduler.
	Backtrace []string
}

// Error implements the error interface.
func (e *MonitorError) Error() string {
	if e.Monitor != nil && e.Monitor.Name() != "" {
		return fmt.Sprintf("asynckernel: monitor %q: %v", e.Monitor.Name(), e.Err)
	}
	return fmt.Sprintf("asynckernel: monitor error: %v", e.Err)
}

// Unwrap returns the original failure for use with [errors.Is] and
// [errors.As].
func (e *MonitorError) Unwrap() error {
	return e.Err
}

// ExtractErr strips [MonitorError] and [PanicError] wrappers, returning the
// innermost failure. Non-error panic payloads are returned as the wrapping
// [PanicError] itself.
func ExtractErr(err error) error {
	for {
		switch e := err.(type) {
		case *MonitorError:
			err = e.Err
		case PanicError:
			if inner, ok := e.Value.(error); ok {
				err = inner
				continue
			}
			return e
		default:
			return err
		}
	}
}
