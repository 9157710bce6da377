// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asynckernel

import (
	"testing"
)

// newTestKernel creates a scheduler driven by a manual clock, with
// invariant checking enabled so wheel corruption fails loudly.
func newTestKernel(t *testing.T, opts ...SchedulerOption) (*Scheduler, *ManualTimeSource) {
	t.Helper()
	clock := NewManualTimeSource(0)
	opts = append([]SchedulerOption{
		WithTimeSource(clock),
		WithCheckInvariants(true),
	}, opts...)
	s, err := NewScheduler(opts...)
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}
	return s, clock
}

// runCycles drives the scheduler for n cycles without advancing time.
func runCycles(t *testing.T, s *Scheduler, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := s.RunCycle(); err != nil {
			t.Fatalf("RunCycle() failed on cycle %d: %v", i, err)
		}
	}
}

// settle runs cycles until no jobs remain queued, bounded to avoid
// spinning forever on a bug.
func settle(t *testing.T, s *Scheduler) {
	t.Helper()
	for i := 0; i < 100; i++ {
		runCycles(t, s, 1)
		if s.NumPendingJobs() == 0 {
			return
		}
	}
	t.Fatalf("scheduler did not settle; %d jobs still pending", s.NumPendingJobs())
}

// mustPeek asserts the deferred is determined and returns its value.
func mustPeek[T any](t *testing.T, d Deferred[T]) T {
	t.Helper()
	v, ok := d.Peek()
	if !ok {
		t.Fatal("deferred is not determined")
	}
	return v
}
