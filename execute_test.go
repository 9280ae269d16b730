// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package forge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

// linkRecipe wires tg up with two path-less "obj" prerequisites and a
// recipe that appends to a shared, mutex-guarded order log, so tests can
// assert execute's traversal order without touching the filesystem.
func wireLinkTarget(t *testing.T, e *Engine, s *Scope, name string, order *[]string, mu *sync.Mutex) *Target {
	t.Helper()
	s.RegisterRule("obj", NewRule("compile",
		func(context.Context, *MatchContext, *Target, Action) bool { return true },
		func(ctx context.Context, mc *MatchContext, tgt *Target, a Action) (Recipe, error) {
			return func(ctx context.Context, tgt *Target, a Action) error {
				mu.Lock()
				*order = append(*order, "compile:"+tgt.Name().Simple)
				mu.Unlock()
				return nil
			}, nil
		}))
	s.RegisterRule("exe", NewRule("link",
		func(context.Context, *MatchContext, *Target, Action) bool { return true },
		func(ctx context.Context, mc *MatchContext, tgt *Target, a Action) (Recipe, error) {
			if _, err := mc.Prerequisite(ctx, Name{Type: "obj", Simple: "a.o"}, "", a); err != nil {
				return nil, err
			}
			if _, err := mc.Prerequisite(ctx, Name{Type: "obj", Simple: "b.o"}, "", a); err != nil {
				return nil, err
			}
			return func(ctx context.Context, tgt *Target, a Action) error {
				mu.Lock()
				*order = append(*order, "link:"+tgt.Name().Simple)
				mu.Unlock()
				return nil
			}, nil
		}))

	tg := e.insert(Name{Type: "exe", Simple: name}, "")
	if err := e.Match(context.Background(), s, tg, defaultAction); err != nil {
		t.Fatalf("Match: %v", err)
	}
	return tg
}

func TestExecuteRunsPrerequisitesBeforeRecipe(t *testing.T) {
	e := newTestEngine(t)
	s := e.RootScope()
	var mu sync.Mutex
	var order []string
	tg := wireLinkTarget(t, e, s, "hello", &order, &mu)

	if err := e.Execute(context.Background(), tg, defaultAction, false); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(order) != 3 || order[2] != "link:hello" {
		t.Fatalf("order = %v, want two compiles followed by link:hello", order)
	}
	if order[0] != "compile:a.o" || order[1] != "compile:b.o" {
		t.Fatalf("prerequisite order = %v, want [compile:a.o compile:b.o]", order[:2])
	}
}

func TestExecuteReverseOrderReversesPrerequisites(t *testing.T) {
	e := newTestEngine(t)
	s := e.RootScope()
	var mu sync.Mutex
	var order []string
	tg := wireLinkTarget(t, e, s, "hello", &order, &mu)

	cleanAction := Action{MetaOperation: "perform", Operation: "clean"}
	if err := e.Match(context.Background(), s, tg, cleanAction); err != nil {
		t.Fatalf("Match under clean: %v", err)
	}
	order = nil
	if err := e.Execute(context.Background(), tg, cleanAction, true); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(order) != 3 || order[2] != "link:hello" {
		t.Fatalf("order = %v, want link:hello last regardless of prereq direction", order)
	}
	if order[0] != "compile:b.o" || order[1] != "compile:a.o" {
		t.Fatalf("reversed prerequisite order = %v, want [compile:b.o compile:a.o]", order[:2])
	}
}

func TestExecuteBeforeMatchFails(t *testing.T) {
	e := newTestEngine(t)
	tg := e.insert(Name{Type: "exe", Simple: "unmatched"}, "")
	if err := e.Execute(context.Background(), tg, defaultAction, false); err == nil {
		t.Fatal("expected an error executing before a successful match")
	}
}

func TestExecutePrerequisiteFailurePropagates(t *testing.T) {
	e := newTestEngine(t)
	s := e.RootScope()

	s.RegisterRule("obj", NewRule("broken",
		func(context.Context, *MatchContext, *Target, Action) bool { return true },
		func(ctx context.Context, mc *MatchContext, tgt *Target, a Action) (Recipe, error) {
			return func(context.Context, *Target, Action) error {
				return fmt.Errorf("compile failed")
			}, nil
		}))
	s.RegisterRule("exe", NewRule("link",
		func(context.Context, *MatchContext, *Target, Action) bool { return true },
		func(ctx context.Context, mc *MatchContext, tgt *Target, a Action) (Recipe, error) {
			if _, err := mc.Prerequisite(ctx, Name{Type: "obj", Simple: "a.o"}, "", a); err != nil {
				return nil, err
			}
			return NoopRecipe, nil
		}))

	tg := e.insert(Name{Type: "exe", Simple: "hello"}, "")
	if err := e.Match(context.Background(), s, tg, defaultAction); err != nil {
		t.Fatalf("Match: %v", err)
	}
	err := e.Execute(context.Background(), tg, defaultAction, false)
	if err == nil {
		t.Fatal("expected a prerequisite-failure error")
	}
	if e.Scheduler().Cancelled() != true {
		t.Fatal("expected the scheduler to cancel on a failure with keep-going disabled")
	}
}

func TestExecuteKeepGoingDoesNotCancelScheduler(t *testing.T) {
	e := newTestEngine(t)
	e.SetKeepGoing(true)
	s := e.RootScope()

	s.RegisterRule("obj", NewRule("broken",
		func(context.Context, *MatchContext, *Target, Action) bool { return true },
		func(ctx context.Context, mc *MatchContext, tgt *Target, a Action) (Recipe, error) {
			return func(context.Context, *Target, Action) error {
				return fmt.Errorf("compile failed")
			}, nil
		}))
	s.RegisterRule("exe", NewRule("link",
		func(context.Context, *MatchContext, *Target, Action) bool { return true },
		func(ctx context.Context, mc *MatchContext, tgt *Target, a Action) (Recipe, error) {
			if _, err := mc.Prerequisite(ctx, Name{Type: "obj", Simple: "a.o"}, "", a); err != nil {
				return nil, err
			}
			return NoopRecipe, nil
		}))

	tg := e.insert(Name{Type: "exe", Simple: "hello"}, "")
	if err := e.Match(context.Background(), s, tg, defaultAction); err != nil {
		t.Fatalf("Match: %v", err)
	}
	if err := e.Execute(context.Background(), tg, defaultAction, false); err == nil {
		t.Fatal("expected a prerequisite-failure error")
	}
	if e.Scheduler().Cancelled() {
		t.Fatal("keep-going should not cancel the scheduler on failure")
	}
}

func TestExecuteConcurrentCallersShareOneRun(t *testing.T) {
	e := newTestEngine(t)
	s := e.RootScope()

	var runs int64
	s.RegisterRule("exe", NewRule("counted",
		func(context.Context, *MatchContext, *Target, Action) bool { return true },
		func(context.Context, *MatchContext, *Target, Action) (Recipe, error) {
			return func(context.Context, *Target, Action) error {
				atomic.AddInt64(&runs, 1)
				return nil
			}, nil
		}))

	tg := e.insert(Name{Type: "exe", Simple: "hello"}, "")
	if err := e.Match(context.Background(), s, tg, defaultAction); err != nil {
		t.Fatalf("Match: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.Execute(context.Background(), tg, defaultAction, false); err != nil {
				t.Errorf("Execute: %v", err)
			}
		}()
	}
	wg.Wait()

	if runs != 1 {
		t.Fatalf("recipe ran %d times concurrently, want exactly 1", runs)
	}
}
