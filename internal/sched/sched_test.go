// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package sched

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunExecutesFn(t *testing.T) {
	s := New(0)
	var ran bool
	err := s.Run(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ran {
		t.Fatal("fn never ran")
	}
}

func TestMaxActiveBoundsConcurrency(t *testing.T) {
	s := New(2)
	var cur, peak int64

	tasks := make([]func(ctx context.Context) error, 10)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			n := atomic.AddInt64(&cur, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&cur, -1)
			return nil
		}
	}

	if err := s.WaitAll(context.Background(), tasks...); err != nil {
		t.Fatalf("WaitAll: %v", err)
	}
	if peak > 2 {
		t.Fatalf("observed peak concurrency %d, want <= 2", peak)
	}
}

func TestWaitAllReturnsFirstError(t *testing.T) {
	s := New(0)
	want := fmt.Errorf("boom")
	err := s.WaitAll(context.Background(),
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return want },
	)
	if err != want {
		t.Fatalf("WaitAll err = %v, want %v", err, want)
	}
}

func TestWaitAllRunsAllTasksConcurrently(t *testing.T) {
	s := New(0)
	const n = 5
	var wg sync.WaitGroup
	wg.Add(n)
	tasks := make([]func(ctx context.Context) error, n)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			wg.Done()
			wg.Wait() // deadlocks unless all n run concurrently
			return nil
		}
	}
	if err := s.WaitAll(context.Background(), tasks...); err != nil {
		t.Fatalf("WaitAll: %v", err)
	}
}

func TestCancelledReflectsCancel(t *testing.T) {
	s := New(1)
	if s.Cancelled() {
		t.Fatal("new scheduler reports cancelled")
	}
	s.Cancel()
	if !s.Cancelled() {
		t.Fatal("Cancel did not stick")
	}
}

func TestStatReportsActiveAndMaxActive(t *testing.T) {
	s := New(3)
	if got := s.Stat().MaxActive; got != 3 {
		t.Fatalf("MaxActive = %d, want 3", got)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
		close(done)
	}()
	<-started
	if got := s.Stat().Active; got != 1 {
		t.Fatalf("Active while a task runs = %d, want 1", got)
	}
	close(release)
	<-done
}

// TestAsyncRunsSynchronouslyWhenSlotIsFull verifies the "executed
// synchronously as part of the async() call itself" fallback: with no
// queue to defer to and no free slot, Async must run f in the calling
// goroutine and report it did so (return false).
func TestAsyncRunsSynchronouslyWhenSlotIsFull(t *testing.T) {
	s := New(1)
	ctx := context.Background()

	release := make(chan struct{})
	occupied := make(chan struct{})
	var holderCount int64
	s.Async(ctx, nil, &holderCount, func(ctx context.Context) error {
		close(occupied)
		<-release
		return nil
	})
	<-occupied

	var taskCount int64
	var ranInline bool
	queued := s.Async(ctx, nil, &taskCount, func(ctx context.Context) error {
		ranInline = true
		return nil
	})
	if queued {
		t.Fatal("Async reported the task was queued, want synchronous execution")
	}
	if !ranInline {
		t.Fatal("Async with no slot and no queue did not run its task synchronously")
	}
	close(release)
	s.Wait(nil, 0, &holderCount, WorkNone)
}

// TestWaitModeAllDrainsOwnQueueWithoutAHelper is the "reentrant wait"
// scenario: with every active slot occupied, Async defers new tasks onto
// the caller's Queue instead of running them. A WorkAll wait must drain
// that queue itself and complete with no other thread ever touching it.
func TestWaitModeAllDrainsOwnQueueWithoutAHelper(t *testing.T) {
	s := New(1)
	ctx := context.Background()

	release := make(chan struct{})
	occupied := make(chan struct{})
	var holderCount int64
	s.Async(ctx, nil, &holderCount, func(ctx context.Context) error {
		close(occupied)
		<-release
		return nil
	})
	<-occupied

	q := NewQueue()
	var taskCount int64
	var ran int32
	for i := 0; i < 3; i++ {
		queued := s.Async(ctx, q, &taskCount, func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		})
		if !queued {
			t.Fatal("Async ran a task synchronously while the only slot was occupied and a queue was available")
		}
	}
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatal("a queued task ran before anything drained its queue")
	}

	// No other goroutine will ever call PopFront on q — if WorkAll did not
	// drain its own queue, this blocks forever and the test times out.
	done := make(chan struct{})
	go func() {
		s.Wait(q, 0, &taskCount, WorkAll)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait(mode=WorkAll) never returned; it did not drain its own queue")
	}
	if got := atomic.LoadInt32(&ran); got != 3 {
		t.Fatalf("ran = %d tasks, want 3", got)
	}
	close(release)
	s.Wait(nil, 0, &holderCount, WorkNone)
}

// TestWaitModeNoneRequiresAnotherThreadToDrainTheQueue is the same setup
// but with WorkNone: the waiter must refuse to pop its own queue, so the
// wait only completes once something else (here, a simulated helper
// calling PopFront) runs the backlog.
func TestWaitModeNoneRequiresAnotherThreadToDrainTheQueue(t *testing.T) {
	s := New(1)
	ctx := context.Background()

	release := make(chan struct{})
	occupied := make(chan struct{})
	var holderCount int64
	s.Async(ctx, nil, &holderCount, func(ctx context.Context) error {
		close(occupied)
		<-release
		return nil
	})
	<-occupied

	q := NewQueue()
	var taskCount int64
	var ran int32
	s.Async(ctx, q, &taskCount, func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	done := make(chan struct{})
	go func() {
		s.Wait(q, 0, &taskCount, WorkNone)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait(mode=WorkNone) returned without anyone draining its queue")
	case <-time.After(30 * time.Millisecond):
	}
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatal("the queued task ran even though nothing has popped it yet")
	}

	// A helper steals the queued task from the front and runs it, then
	// signals the waiter itself — mirroring a real helper thread picking
	// up work and calling Resume on completion.
	f, ok := q.PopFront()
	if !ok {
		t.Fatal("PopFront found nothing to steal")
	}
	f()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait(mode=WorkNone) did not wake up after its task was run and Resume signalled")
	}
	if got := atomic.LoadInt32(&ran); got != 1 {
		t.Fatalf("ran = %d, want 1", got)
	}
	close(release)
	s.Wait(nil, 0, &holderCount, WorkNone)
}

func TestResumeWakesAWaiterOnAnotherThreadsTaskCount(t *testing.T) {
	s := New(0)
	var taskCount int64 = 1

	done := make(chan struct{})
	go func() {
		s.Wait(nil, 0, &taskCount, WorkNone)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before task_count dropped and Resume was called")
	case <-time.After(20 * time.Millisecond):
	}

	atomic.StoreInt64(&taskCount, 0)
	s.Resume(&taskCount)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake up after Resume")
	}
}

func TestDeactivateActivateFreesAndReclaimsASlot(t *testing.T) {
	s := New(1)
	s.Activate(false)
	if got := s.Stat().Active; got != 1 {
		t.Fatalf("Active = %d, want 1", got)
	}
	s.Deactivate()
	if got := s.Stat().Active; got != 0 {
		t.Fatalf("Active after Deactivate = %d, want 0", got)
	}
	s.Activate(false)
	if got := s.Stat().Active; got != 1 {
		t.Fatalf("Active after re-Activate = %d, want 1", got)
	}
}

func TestMonitorInvokesCallbackOnThresholdCross(t *testing.T) {
	s := New(1)
	var count int64
	var calledWith int64
	var calls int32

	g := s.Monitor(&count, 2, func(v int64) int64 {
		atomic.AddInt32(&calls, 1)
		atomic.StoreInt64(&calledWith, v)
		return 4
	})
	defer g.Release()

	for i := int64(1); i <= 3; i++ {
		atomic.StoreInt64(&count, i)
		s.Run(context.Background(), func(ctx context.Context) error { return nil })
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("monitor callback invoked %d times, want 1", calls)
	}
	if atomic.LoadInt64(&calledWith) != 2 {
		t.Fatalf("monitor callback saw value %d, want 2", calledWith)
	}
}
