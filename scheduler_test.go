// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asynckernel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_FIFOWithinBand(t *testing.T) {
	s, _ := newTestKernel(t)

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		s.Submit(func() { order = append(order, i) })
	}
	runCycles(t, s, 1)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

// TestScheduler_NormalPreemptsLow: low-priority jobs run only after the
// normal band has drained.
func TestScheduler_NormalPreemptsLow(t *testing.T) {
	s, _ := newTestKernel(t)

	var order []string
	s.SubmitWithPriority(PriorityLow, func() { order = append(order, "low-1") })
	s.Submit(func() { order = append(order, "normal-1") })
	s.SubmitWithPriority(PriorityLow, func() { order = append(order, "low-2") })
	s.Submit(func() { order = append(order, "normal-2") })

	runCycles(t, s, 1)
	assert.Equal(t, []string{"normal-1", "normal-2", "low-1", "low-2"}, order)
}

// TestScheduler_FairnessCap: jobs beyond the per-band cap stay queued for
// the next cycle.
func TestScheduler_FairnessCap(t *testing.T) {
	s, _ := newTestKernel(t, WithMaxJobsPerPriorityPerCycle(3))

	ran := 0
	for i := 0; i < 8; i++ {
		s.Submit(func() { ran++ })
	}

	runCycles(t, s, 1)
	assert.Equal(t, 3, ran)
	assert.Equal(t, 5, s.NumPendingJobs())

	runCycles(t, s, 1)
	assert.Equal(t, 6, ran)
	runCycles(t, s, 1)
	assert.Equal(t, 8, ran)
}

func TestScheduler_SetMaxJobsPerPriorityPerCycle(t *testing.T) {
	s, _ := newTestKernel(t)

	s.SetMaxJobsPerPriorityPerCycle(1)
	ran := 0
	s.Submit(func() { ran++ })
	s.Submit(func() { ran++ })
	runCycles(t, s, 1)
	assert.Equal(t, 1, ran)

	// Nonpositive values are ignored.
	s.SetMaxJobsPerPriorityPerCycle(0)
	runCycles(t, s, 1)
	assert.Equal(t, 2, ran)
}

// TestScheduler_JobsEnqueuedMidCycleRunSameCycle: handler jobs created by
// fills inside the cycle run within the same cycle, subject to the cap.
func TestScheduler_JobsEnqueuedMidCycleRunSameCycle(t *testing.T) {
	s, _ := newTestKernel(t)

	var order []string
	s.Submit(func() {
		order = append(order, "outer")
		s.Submit(func() { order = append(order, "inner") })
	})
	runCycles(t, s, 1)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestScheduler_ReentrantCycleFails(t *testing.T) {
	s, _ := newTestKernel(t)

	var reentrant error
	s.Submit(func() {
		reentrant = s.RunCycle()
	})
	runCycles(t, s, 1)
	require.ErrorIs(t, reentrant, ErrCycleInProgress)
	assert.False(t, s.IsRunning())
}

func TestScheduler_ExternalJobs(t *testing.T) {
	s, _ := newTestKernel(t)

	var got []int
	var wg sync.WaitGroup
	for i := 1; i <= 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.EnqueueExternalJob(func() { got = append(got, i) })
		}()
	}
	wg.Wait()

	// A wake token is pending for the sleeping driver.
	select {
	case <-s.WakeSignal():
	default:
		t.Fatal("expected a wake signal after external enqueue")
	}

	runCycles(t, s, 1)
	assert.Len(t, got, 4)
	assert.Equal(t, 0, s.NumPendingJobs())
}

// TestScheduler_ExternalJobsSplicedAfterLocal: external jobs splice onto
// the end of the normal queue, behind work already enqueued locally.
func TestScheduler_ExternalJobsSplicedAfterLocal(t *testing.T) {
	s, _ := newTestKernel(t)

	var order []string
	s.Submit(func() { order = append(order, "local") })
	s.EnqueueExternalJob(func() { order = append(order, "external") })

	runCycles(t, s, 1)
	assert.Equal(t, []string{"local", "external"}, order)
}

func TestScheduler_NextUpcomingEventTime(t *testing.T) {
	s, _ := newTestKernel(t)

	_, ok := s.NextUpcomingEventTime()
	assert.False(t, ok)

	NewEventAt(s, 500)
	NewEventAt(s, 200)
	NewEventAt(s, 900)

	at, ok := s.NextUpcomingEventTime()
	require.True(t, ok)
	assert.Equal(t, Time(200), at)
}

func TestScheduler_DetectInvalidAccessFromThread(t *testing.T) {
	s, _ := newTestKernel(t, WithDetectInvalidAccessFromThread(true))

	// Claim ownership from this goroutine.
	runCycles(t, s, 1)

	panicked := make(chan any, 1)
	go func() {
		defer func() { panicked <- recover() }()
		s.Submit(func() {})
	}()
	assert.NotNil(t, <-panicked, "foreign-goroutine access must panic")

	// The external inbox stays callable from anywhere.
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.EnqueueExternalJob(func() {})
	}()
	<-done
	runCycles(t, s, 1)
}

func TestScheduler_CycleCountAndPending(t *testing.T) {
	s, _ := newTestKernel(t)

	before := s.CycleCount()
	runCycles(t, s, 3)
	assert.Equal(t, before+3, s.CycleCount())
	assert.Equal(t, 0, s.NumPendingJobs())
}

func TestScheduler_OptionValidation(t *testing.T) {
	_, err := NewScheduler(WithMaxJobsPerPriorityPerCycle(0))
	require.Error(t, err)

	_, err = NewScheduler(WithTimingWheelConfig(TimingWheelConfig{}))
	require.Error(t, err)

	// Nil options are skipped gracefully.
	s, err := NewScheduler(nil)
	require.NoError(t, err)
	require.NoError(t, s.RunCycle())
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "normal", PriorityNormal.String())
	assert.Equal(t, "low", PriorityLow.String())
}
