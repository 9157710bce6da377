// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asynckernel

import (
	"fmt"

	"github.com/joeycumines/logiface"
)

// defaultMaxJobsPerBand is the default per-cycle fairness cap, per band.
const defaultMaxJobsPerBand = 500

// schedulerOptions holds resolved configuration for Scheduler creation.
type schedulerOptions struct {
	logger              *logiface.Logger[logiface.Event]
	timeSource          TimeSource
	wheelConfig         TimingWheelConfig
	maxJobsPerBand      int
	recordBacktraces    bool
	checkInvariants     bool
	detectInvalidAccess bool
}

// SchedulerOption configures a [Scheduler] instance.
type SchedulerOption interface {
	applyScheduler(*schedulerOptions) error
}

// schedulerOptionImpl implements SchedulerOption.
type schedulerOptionImpl struct {
	applySchedulerFunc func(*schedulerOptions) error
}

func (o *schedulerOptionImpl) applyScheduler(opts *schedulerOptions) error {
	return o.applySchedulerFunc(opts)
}

// WithLogger attaches a structured logger to the scheduler. A nil logger
// (the default) disables all output.
func WithLogger(logger *logiface.Logger[logiface.Event]) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithTimeSource replaces the monotonic time oracle, e.g. with a
// [ManualTimeSource] for deterministic tests.
func WithTimeSource(ts TimeSource) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.timeSource = ts
		return nil
	}}
}

// WithTimingWheelConfig sets the timing wheel's level widths and base
// resolution. See [DefaultTimingWheelConfig].
func WithTimingWheelConfig(cfg TimingWheelConfig) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		if err := cfg.validate(); err != nil {
			return err
		}
		opts.wheelConfig = cfg
		return nil
	}}
}

// WithMaxJobsPerPriorityPerCycle sets the per-band fairness cap: the
// maximum number of jobs drained from each priority band in one cycle.
// The default is 500.
func WithMaxJobsPerPriorityPerCycle(n int) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		if n <= 0 {
			return fmt.Errorf("asynckernel: max jobs per priority per cycle must be positive, got %d", n)
		}
		opts.maxJobsPerBand = n
		return nil
	}}
}

// WithRecordBacktraces enables capture of logical call-site history in
// execution contexts, at a per-enqueue cost. The history is attached to
// [MonitorError] values delivered to monitors.
func WithRecordBacktraces(enabled bool) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.recordBacktraces = enabled
		return nil
	}}
}

// WithCheckInvariants enables expensive consistency checks each cycle.
// Violations panic; intended for tests and debugging.
func WithCheckInvariants(enabled bool) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.checkInvariants = enabled
		return nil
	}}
}

// WithDetectInvalidAccessFromThread makes scheduler-owned state panic when
// touched from any goroutine other than the one driving the scheduler.
// [Scheduler.EnqueueExternalJob] remains callable from anywhere.
func WithDetectInvalidAccessFromThread(enabled bool) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.detectInvalidAccess = enabled
		return nil
	}}
}

// resolveSchedulerOptions applies SchedulerOption instances to a fresh
// schedulerOptions with defaults.
func resolveSchedulerOptions(opts []SchedulerOption) (*schedulerOptions, error) {
	cfg := &schedulerOptions{
		wheelConfig:    DefaultTimingWheelConfig(),
		maxJobsPerBand: defaultMaxJobsPerBand,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyScheduler(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
