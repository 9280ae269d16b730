// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package forge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOperationRegistryLookupKnown(t *testing.T) {
	r := newOperationRegistry()
	for _, a := range []Action{
		{MetaOperation: "perform", Operation: "update"},
		{MetaOperation: "perform", Operation: "clean"},
		{MetaOperation: "configure"},
		{MetaOperation: "disfigure"},
		{MetaOperation: "info"},
	} {
		if _, err := r.lookup(a); err != nil {
			t.Errorf("lookup(%v): %v", a, err)
		}
	}
}

func TestOperationRegistryLookupUnknown(t *testing.T) {
	r := newOperationRegistry()
	if _, err := r.lookup(Action{MetaOperation: "nonexistent"}); err == nil {
		t.Fatal("expected an error for an unregistered meta-operation")
	}
	if _, err := r.lookup(Action{MetaOperation: "perform", Operation: "bogus"}); err == nil {
		t.Fatal("expected an error for an unsupported operation")
	}
}

func TestRunPerformUpdateMatchesAndExecutes(t *testing.T) {
	e := newTestEngine(t)
	s := e.RootScope()

	var ran bool
	s.RegisterRule("exe", NewRule("link",
		func(context.Context, *MatchContext, *Target, Action) bool { return true },
		func(context.Context, *MatchContext, *Target, Action) (Recipe, error) {
			return func(context.Context, *Target, Action) error {
				ran = true
				return nil
			}, nil
		}))

	tg := e.Insert(Name{Type: "exe", Simple: "hello"}, "")
	err := e.Run(context.Background(), Action{MetaOperation: "perform", Operation: "update"}, s, []*Target{tg})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ran {
		t.Fatal("the recipe never ran")
	}
}

func TestRunPerformCleanRunsCleanAction(t *testing.T) {
	e := newTestEngine(t)
	s := e.RootScope()

	var sawAction Action
	s.RegisterRule("exe", NewRule("link",
		func(context.Context, *MatchContext, *Target, Action) bool { return true },
		func(context.Context, *MatchContext, *Target, Action) (Recipe, error) {
			return func(ctx context.Context, tgt *Target, a Action) error {
				sawAction = a
				return nil
			}, nil
		}))

	tg := e.Insert(Name{Type: "exe", Simple: "hello"}, "")
	err := e.Run(context.Background(), Action{MetaOperation: "perform", Operation: "clean"}, s, []*Target{tg})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sawAction.Operation != "clean" {
		t.Fatalf("recipe ran under action %v, want operation clean", sawAction)
	}
}

func TestRunDisfigureIsANoopSuccess(t *testing.T) {
	e := newTestEngine(t)
	s := e.RootScope()
	if err := e.Run(context.Background(), Action{MetaOperation: "disfigure"}, s, nil); err != nil {
		t.Fatalf("disfigure of an unconfigured project should succeed silently, got: %v", err)
	}
}

func TestRunConfigureWritesConfigAndSrcRootWithHeader(t *testing.T) {
	e := newTestEngine(t)
	s := e.RootScope()

	if err := e.Run(context.Background(), Action{MetaOperation: "configure"}, s, nil); err != nil {
		t.Fatalf("configure: %v", err)
	}

	configPath := filepath.Join(s.OutPath(), "build", "config.build")
	srcRootPath := filepath.Join(s.OutPath(), "build", "bootstrap", "src-root.build")

	configBytes, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("reading config.build: %v", err)
	}
	if !strings.HasPrefix(string(configBytes), configHeaderComment) {
		t.Fatalf("config.build missing header comment, got: %q", string(configBytes))
	}

	srcRootBytes, err := os.ReadFile(srcRootPath)
	if err != nil {
		t.Fatalf("reading src-root.build: %v", err)
	}
	if !strings.HasPrefix(string(srcRootBytes), configHeaderComment) {
		t.Fatalf("src-root.build missing header comment, got: %q", string(srcRootBytes))
	}
	if !strings.Contains(string(srcRootBytes), s.SrcPath()) {
		t.Fatalf("src-root.build does not record src_root, got: %q", string(srcRootBytes))
	}
}

func TestRunDisfigureRemovesConfigFiles(t *testing.T) {
	e := newTestEngine(t)
	s := e.RootScope()

	if err := e.Run(context.Background(), Action{MetaOperation: "configure"}, s, nil); err != nil {
		t.Fatalf("configure: %v", err)
	}

	buildDir := filepath.Join(s.OutPath(), "build")
	configPath := filepath.Join(buildDir, "config.build")
	srcRootPath := filepath.Join(buildDir, "bootstrap", "src-root.build")

	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("config.build should exist after configure: %v", err)
	}

	if err := e.Run(context.Background(), Action{MetaOperation: "disfigure"}, s, nil); err != nil {
		t.Fatalf("disfigure: %v", err)
	}

	if _, err := os.Stat(configPath); !os.IsNotExist(err) {
		t.Fatalf("config.build still exists after disfigure: err=%v", err)
	}
	if _, err := os.Stat(srcRootPath); !os.IsNotExist(err) {
		t.Fatalf("src-root.build still exists after disfigure: err=%v", err)
	}
	if _, err := os.Stat(buildDir); !os.IsNotExist(err) {
		t.Fatalf("emptied build/ directory still exists after disfigure: err=%v", err)
	}
}

func TestRunBatchResetsBetweenIncompatibleMetaOperations(t *testing.T) {
	e := newTestEngine(t)
	s := e.RootScope()

	var ran int
	s.RegisterRule("exe", NewRule("link",
		func(context.Context, *MatchContext, *Target, Action) bool { return true },
		func(context.Context, *MatchContext, *Target, Action) (Recipe, error) {
			return func(context.Context, *Target, Action) error {
				ran++
				return nil
			}, nil
		}))

	startGen := e.LoadGeneration()
	batch := []BatchEntry{
		{Action: Action{MetaOperation: "configure"}},
		{Action: Action{MetaOperation: "perform", Operation: "update"}, Targets: []Name{{Type: "exe", Simple: "hello"}}},
	}
	if err := e.RunBatch(context.Background(), s, batch); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if ran != 1 {
		t.Fatalf("recipe ran %d times, want 1", ran)
	}
	if got := e.LoadGeneration(); got != startGen+1 {
		t.Fatalf("LoadGeneration after one incompatible reset = %d, want %d", got, startGen+1)
	}
	if got := e.DependencyCount(); got != 0 {
		t.Fatalf("DependencyCount after a successful batch = %d, want 0", got)
	}
}

func TestRunInfoSucceedsWithNoTargets(t *testing.T) {
	e := newTestEngine(t)
	s := e.RootScope()
	if err := e.Run(context.Background(), Action{MetaOperation: "info"}, s, nil); err != nil {
		t.Fatalf("info: %v", err)
	}
}
