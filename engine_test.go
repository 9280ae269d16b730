// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package forge

import (
	"testing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(EngineConfig{
		OutRoot: t.TempDir(),
		SrcRoot: t.TempDir(),
		Project: "test",
	})
}

func TestNewEngineDefaults(t *testing.T) {
	e := newTestEngine(t)
	if e.Phase() != PhaseLoad {
		t.Fatalf("new engine phase = %s, want load", e.Phase())
	}
	if e.KeepGoing() {
		t.Fatal("KeepGoing defaults to true, want false")
	}
	if e.RootScope() == nil {
		t.Fatal("RootScope is nil")
	}
	if e.Modules() == nil || e.Scheduler() == nil {
		t.Fatal("Modules/Scheduler not initialized")
	}
}

func TestEngineSetKeepGoing(t *testing.T) {
	e := newTestEngine(t)
	e.SetKeepGoing(true)
	if !e.KeepGoing() {
		t.Fatal("SetKeepGoing(true) did not stick")
	}
	e.SetKeepGoing(false)
	if e.KeepGoing() {
		t.Fatal("SetKeepGoing(false) did not stick")
	}
}

func TestEngineInsertIsIdentityPreserving(t *testing.T) {
	e := newTestEngine(t)
	n := Name{Type: "exe", Simple: "hello"}
	a := e.insert(n, "/out/hello")
	b := e.insert(n, "")
	if a != b {
		t.Fatal("insert of the same Name returned distinct Targets")
	}
	if b.Path() != "/out/hello" {
		t.Fatalf("second insert with empty path clobbered the first path: got %q", b.Path())
	}
	if _, ok := e.lookup(Name{Type: "exe", Simple: "other"}); ok {
		t.Fatal("lookup found a target that was never inserted")
	}
}

func TestEngineLockPhaseExclusion(t *testing.T) {
	e := newTestEngine(t)
	g := e.LockPhase(PhaseMatch)
	if e.Phase() != PhaseMatch {
		t.Fatalf("Phase() = %s, want match", e.Phase())
	}

	done := make(chan struct{})
	go func() {
		g2 := e.LockPhase(PhaseLoad)
		g2.Release()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("PhaseLoad lock was granted while PhaseMatch was still held")
	default:
	}

	g.Release()
	<-done
}

func TestEngineRelockSwitchesPhase(t *testing.T) {
	e := newTestEngine(t)
	g := e.LockPhase(PhaseMatch)
	g.Relock(PhaseLoad)
	if g.Phase() != PhaseLoad {
		t.Fatalf("guard Phase() after Relock = %s, want load", g.Phase())
	}
	if e.Phase() != PhaseLoad {
		t.Fatalf("engine Phase() after Relock = %s, want load", e.Phase())
	}
	g.Release()
}

func TestEngineResetBumpsGeneration(t *testing.T) {
	e := newTestEngine(t)
	gen0 := e.LoadGeneration()
	e.addDependency(3)
	if e.DependencyCount() != 3 {
		t.Fatalf("DependencyCount = %d, want 3", e.DependencyCount())
	}
	e.reset()
	if e.DependencyCount() != 0 {
		t.Fatal("reset did not clear dependency count")
	}
	if e.LoadGeneration() != gen0+1 {
		t.Fatalf("LoadGeneration after reset = %d, want %d", e.LoadGeneration(), gen0+1)
	}
	if len(e.targets) != 0 {
		t.Fatal("reset did not clear the target arena")
	}
}

func TestEngineCurrentAction(t *testing.T) {
	e := newTestEngine(t)
	if e.CurrentAction() != (Action{}) {
		t.Fatal("CurrentAction is non-zero before any Run")
	}
	a := Action{MetaOperation: "perform", Operation: "update"}
	e.setCurrentAction(a)
	if e.CurrentAction() != a {
		t.Fatalf("CurrentAction() = %v, want %v", e.CurrentAction(), a)
	}
}
