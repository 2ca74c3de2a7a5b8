// Package bridge runs a unit of gateway work to completion whatever the
// caller's scheduling context.
//
// A caller that already owns a Scheduler attaches it to the context with
// WithScheduler; Run then submits the work to it and blocks until the task
// finishes. Without one, Run starts a fresh errgroup for the single task and
// tears it down when the task returns. If the attached scheduler refuses the
// work, Run falls back to the fresh path and, if that faults too, reports both
// failures in one Error.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrSchedulerClosed is returned when work is submitted to a closed Scheduler.
var ErrSchedulerClosed = errors.New("scheduler is closed")

// Error combines the attached scheduler's fault with the fresh scheduler's.
type Error struct {
	First  error
	Second error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v | Nested error: %v", e.First, e.Second)
}

func (e *Error) Unwrap() []error {
	return []error{e.First, e.Second}
}

// Scheduler runs submitted tasks on their own goroutines and waits for all
// of them on Close. The zero value is not usable; call NewScheduler.
type Scheduler struct {
	group  errgroup.Group
	mu     sync.RWMutex
	closed bool
}

// NewScheduler returns an open Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

func (s *Scheduler) submit(task func()) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	s.group.Go(func() error {
		task()
		return nil
	})
	return nil
}

// Close stops accepting tasks and waits for the running ones to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	_ = s.group.Wait()
}

type schedulerKey struct{}

// WithScheduler returns a copy of ctx carrying s.
func WithScheduler(ctx context.Context, s *Scheduler) context.Context {
	return context.WithValue(ctx, schedulerKey{}, s)
}

// SchedulerFrom returns the Scheduler attached to ctx, or nil.
func SchedulerFrom(ctx context.Context) *Scheduler {
	s, _ := ctx.Value(schedulerKey{}).(*Scheduler)
	return s
}

type outcome[T any] struct {
	value T
	err   error
}

// Run executes work exactly once and returns its result. A panic inside work
// is recovered and returned as an error; it is never re-run.
func Run[T any](ctx context.Context, work func(ctx context.Context) (T, error)) (T, error) {
	s := SchedulerFrom(ctx)
	if s == nil {
		return fresh(ctx, work)
	}

	done := make(chan outcome[T], 1)
	err := s.submit(func() {
		var o outcome[T]
		defer func() {
			if r := recover(); r != nil {
				o = outcome[T]{err: fmt.Errorf("task panicked: %v", r)}
			}
			done <- o
		}()
		o.value, o.err = work(ctx)
	})
	if err == nil {
		o := <-done
		return o.value, o.err
	}

	value, freshErr := fresh(ctx, work)
	if freshErr != nil {
		return value, &Error{First: err, Second: freshErr}
	}
	return value, nil
}

// fresh owns an errgroup for the duration of one task.
func fresh[T any](ctx context.Context, work func(ctx context.Context) (T, error)) (T, error) {
	var value T
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		if err := gctx.Err(); err != nil {
			return fmt.Errorf("cannot start task: %w", err)
		}
		v, err := work(gctx)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err := g.Wait(); err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}
