// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asynckernel

// Unit is the empty value carried by deferreds that only signal an event.
type Unit = struct{}

// Bind sequences f after d: the result determines with the value of the
// deferred f produces. f runs as a job once d is determined; a panic inside
// f is routed to the monitor current at bind time and leaves the result
// undetermined (errors are never smuggled through the result).
//
// Chains of binds are compressed: when the deferred returned by f exists
// only to forward its value into the result, the two cells are collapsed
// into one, so an n-deep chain costs one handler hop rather than n.
func Bind[A, B any](d Deferred[A], f func(A) Deferred[B]) Deferred[B] {
	s := d.iv.scheduler()
	r := NewIvar[B](s)
	d.upon(s.captureContext(), func(x A) {
		connect(r, f(x).iv)
	})
	return r.Read()
}

// Map transforms d's value through g. When d is already determined, g runs
// synchronously and the result is an already-determined deferred, with no
// intermediate job.
func Map[A, B any](d Deferred[A], g func(A) B) Deferred[B] {
	s := d.iv.scheduler()
	if v, ok := d.Peek(); ok {
		return Return(s, g(v))
	}
	r := NewIvar[B](s)
	d.upon(s.captureContext(), func(x A) {
		r.fill(g(x))
	})
	return r.Read()
}

// Ignore discards d's value, yielding a unit deferred determined when d is.
func Ignore[T any](d Deferred[T]) Deferred[Unit] {
	return Map(d, func(T) Unit { return Unit{} })
}

// All returns a deferred determined once every input is, with the values in
// input order. An empty input determines immediately with an empty slice.
func All[T any](s *Scheduler, ds []Deferred[T]) Deferred[[]T] {
	if len(ds) == 0 {
		return Return(s, []T{})
	}
	r := NewIvar[[]T](s)
	ctx := s.captureContext()
	values := make([]T, len(ds))
	remaining := len(ds)
	for i, d := range ds {
		i := i
		d.upon(ctx, func(x T) {
			values[i] = x
			remaining--
			if remaining == 0 {
				r.fill(values)
			}
		})
	}
	return r.Read()
}

// AllUnit determines once every input does, discarding the values.
func AllUnit[T any](s *Scheduler, ds []Deferred[T]) Deferred[Unit] {
	return Ignore(All(s, ds))
}

// Both pairs two deferreds, determined once both are.
func Both[A, B any](d1 Deferred[A], d2 Deferred[B]) Deferred[Pair[A, B]] {
	s := d1.iv.scheduler()
	r := NewIvar[Pair[A, B]](s)
	ctx := s.captureContext()
	var p Pair[A, B]
	remaining := 2
	d1.upon(ctx, func(x A) {
		p.Fst = x
		remaining--
		if remaining == 0 {
			r.fill(p)
		}
	})
	d2.upon(ctx, func(y B) {
		p.Snd = y
		remaining--
		if remaining == 0 {
			r.fill(p)
		}
	})
	return r.Read()
}

// Pair is the result of [Both].
type Pair[A, B any] struct {
	Fst A
	Snd B
}

// Join flattens a deferred of a deferred.
func Join[T any](dd Deferred[Deferred[T]]) Deferred[T] {
	return Bind(dd, func(d Deferred[T]) Deferred[T] { return d })
}

// Choice is one alternative of a [Choose]: a deferred paired with the
// function applied to its value should it win.
type Choice[T any] struct {
	isDetermined func() bool
	value        func() T
	attach       func(ctx *ExecutionContext, fn func()) func()
}

// When builds a [Choice] that, if d wins, produces f of its value.
func When[A, T any](d Deferred[A], f func(A) T) Choice[T] {
	return Choice[T]{
		isDetermined: d.IsDetermined,
		value: func() T {
			v, _ := d.Peek()
			return f(v)
		},
		attach: func(ctx *ExecutionContext, fn func()) func() {
			n := d.iv.upon(ctx, func(A) { fn() })
			return func() { d.iv.removeHandler(n) }
		},
	}
}

// Choose races the given alternatives: the first to become determined wins
// and the result determines with its [When] function applied. Losing
// handlers are removed from their ivars in O(1). When several alternatives
// determine before the decision job runs, the earliest in argument order
// wins.
func Choose[T any](s *Scheduler, choices ...Choice[T]) Deferred[T] {
	r := NewIvar[T](s)
	ctx := s.captureContext()
	removals := make([]func(), len(choices))
	done := false
	decide := func() {
		if done {
			return
		}
		for _, c := range choices {
			if c.isDetermined() {
				done = true
				for _, rm := range removals {
					if rm != nil {
						rm()
					}
				}
				r.fill(c.value())
				return
			}
		}
	}
	for i, c := range choices {
		removals[i] = c.attach(ctx, decide)
	}
	return r.Read()
}

// Any determines with the value of the first input to determine.
func Any[T any](s *Scheduler, ds []Deferred[T]) Deferred[T] {
	choices := make([]Choice[T], len(ds))
	for i, d := range ds {
		choices[i] = When(d, func(x T) T { return x })
	}
	return Choose(s, choices...)
}

// AnyUnit determines once any input does, discarding the value.
func AnyUnit[T any](s *Scheduler, ds []Deferred[T]) Deferred[Unit] {
	choices := make([]Choice[Unit], len(ds))
	for i, d := range ds {
		choices[i] = When(d, func(T) Unit { return Unit{} })
	}
	return Choose(s, choices...)
}
