// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package forge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// OperationFunc implements one operation of a meta-operation: given the
// resolved root targets of the invocation, do whatever that operation
// means (match+execute for perform, a config dump for configure, and so
// on). Grounded on original_source/build2/build/config/operation.cxx's
// operation_info callback table, generalized from build2's much larger
// pre/match/execute/post split into the single entry point this engine's
// smaller operation set needs.
type OperationFunc func(ctx context.Context, e *Engine, s *Scope, targets []*Target) error

// metaOperation is one row of the dispatch table: a meta-operation name
// (perform, configure, disfigure, info) mapped to the operations it
// supports (update, clean, or "" for meta-operations with no operation
// component).
type metaOperation struct {
	name       string
	operations map[string]OperationFunc
}

// operationRegistry is the process-wide (well, Engine-wide) table Run
// consults; its entries are the built-in ones newOperationRegistry
// installs. Neither Engine nor ModuleHost has a method that adds more.
type operationRegistry struct {
	metaOps map[string]*metaOperation
}

func newOperationRegistry() *operationRegistry {
	r := &operationRegistry{metaOps: make(map[string]*metaOperation)}
	r.register("perform", map[string]OperationFunc{
		"update": performUpdate,
		"clean":  performClean,
	})
	r.register("configure", map[string]OperationFunc{"": performConfigure})
	r.register("disfigure", map[string]OperationFunc{"": performDisfigure})
	r.register("info", map[string]OperationFunc{"": performInfo})
	return r
}

func (r *operationRegistry) register(name string, ops map[string]OperationFunc) {
	r.metaOps[name] = &metaOperation{name: name, operations: ops}
}

func (r *operationRegistry) lookup(a Action) (OperationFunc, error) {
	mo, ok := r.metaOps[a.MetaOperation]
	if !ok {
		return nil, fmt.Errorf("no such meta-operation: %s", a.MetaOperation)
	}
	op := a.Operation
	fn, ok := mo.operations[op]
	if !ok {
		return nil, fmt.Errorf("meta-operation %s does not support operation %q", a.MetaOperation, op)
	}
	return fn, nil
}

// Run resolves and dispatches a onto targets, the top-level entry point a
// CLI driver or embedding program calls once buildfiles have been loaded
// into s.
func (e *Engine) Run(ctx context.Context, a Action, s *Scope, targets []*Target) error {
	fn, err := e.operations.lookup(a)
	if err != nil {
		return err
	}
	return fn(ctx, e, s, targets)
}

// BatchEntry is one meta-op-spec of a `buildspec := (meta-op-spec)*`
// invocation: an action plus the buildspec names it applies to. Targets are
// named rather than pre-resolved because a reset between incompatible
// entries invalidates any *Target already resolved against the prior
// target arena.
type BatchEntry struct {
	Action  Action
	Targets []Name
}

// RunBatch runs each entry of batch in order against s, calling reset
// between any two consecutive entries whose meta-operation differs — the
// rule spec.md §4.6 gives for a buildspec naming more than one
// meta-operation: an update batch and a subsequent configure batch must
// not see each other's targets or dependency-count bookkeeping, since they
// operate on logically distinct passes over the project. Entries that
// share a meta-operation (two perform operations, say) run back to back
// against the same resolved target graph.
func (e *Engine) RunBatch(ctx context.Context, s *Scope, batch []BatchEntry) error {
	var prevMeta string
	for i, entry := range batch {
		if i > 0 && entry.Action.MetaOperation != prevMeta {
			e.reset()
		}
		targets := make([]*Target, len(entry.Targets))
		for j, n := range entry.Targets {
			targets[j] = e.Insert(n, "")
		}
		if err := e.Run(ctx, entry.Action, s, targets); err != nil {
			return err
		}
		prevMeta = entry.Action.MetaOperation
	}
	return nil
}

func performUpdate(ctx context.Context, e *Engine, s *Scope, targets []*Target) error {
	for _, t := range targets {
		if err := e.Match(ctx, s, t, defaultAction); err != nil {
			return err
		}
	}
	tasks := make([]func(ctx context.Context) error, len(targets))
	for i, t := range targets {
		t := t
		tasks[i] = func(ctx context.Context) error {
			return e.Execute(ctx, t, defaultAction, false)
		}
	}
	return e.Scheduler().WaitAll(ctx, tasks...)
}

func performClean(ctx context.Context, e *Engine, s *Scope, targets []*Target) error {
	cleanAction := Action{MetaOperation: "perform", Operation: "clean"}
	for _, t := range targets {
		if err := e.Match(ctx, s, t, cleanAction); err != nil {
			return err
		}
	}
	tasks := make([]func(ctx context.Context) error, len(targets))
	for i, t := range targets {
		t := t
		tasks[i] = func(ctx context.Context) error {
			return e.Execute(ctx, t, cleanAction, true)
		}
	}
	return e.Scheduler().WaitAll(ctx, tasks...)
}

// performConfigure persists s's project configuration to
// build/config.build and build/bootstrap/src-root.build, adapted from
// blueprint's ninja manifest writer (see persist.go) but writing forge's
// own variable-assignment format instead of a Ninja file.
func performConfigure(ctx context.Context, e *Engine, s *Scope, targets []*Target) error {
	buildDir := filepath.Join(s.OutPath(), "build")
	if err := writeConfig(s, filepath.Join(buildDir, "config.build")); err != nil {
		return err
	}
	return writeSrcRoot(s, filepath.Join(buildDir, "bootstrap", "src-root.build"))
}

// performDisfigure reverses performConfigure: it removes config.build and
// src-root.build and, if that empties them, the bootstrap and build
// directories too. Disfiguring a project that was never configured is a
// harmless success, matching build2's own treatment of the case.
func performDisfigure(ctx context.Context, e *Engine, s *Scope, targets []*Target) error {
	buildDir := filepath.Join(s.OutPath(), "build")
	bootstrapDir := filepath.Join(buildDir, "bootstrap")
	configPath := filepath.Join(buildDir, "config.build")
	srcRootPath := filepath.Join(bootstrapDir, "src-root.build")

	_, configErr := os.Stat(configPath)
	_, srcRootErr := os.Stat(srcRootPath)
	if os.IsNotExist(configErr) && os.IsNotExist(srcRootErr) {
		e.Log().Info().Str("project", s.OutPath()).Msg("already disfigured")
		return nil
	}

	if cwd, err := os.Getwd(); err == nil {
		if rel, rerr := filepath.Rel(s.OutPath(), cwd); rerr == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			e.Log().Warn().Str("cwd", cwd).Str("out_root", s.OutPath()).
				Msg("disfiguring the project containing the current working directory")
		}
	}

	if configErr == nil {
		if err := os.Remove(configPath); err != nil {
			return errFilesystem(Location{}, configPath, err)
		}
	}
	if srcRootErr == nil {
		if err := os.Remove(srcRootPath); err != nil {
			return errFilesystem(Location{}, srcRootPath, err)
		}
	}

	removeIfEmpty(bootstrapDir)
	removeIfEmpty(buildDir)
	return nil
}

// removeIfEmpty deletes dir if it exists and has nothing left in it,
// tidying up after the last file a directory held is removed.
func removeIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	_ = os.Remove(dir)
}

// performInfo prints a summary of the loaded project, folding in the
// teacher's bpfind tool (deleted standalone, see DESIGN.md) as this single
// meta-operation instead of a separate binary.
func performInfo(ctx context.Context, e *Engine, s *Scope, targets []*Target) error {
	e.Log().Info().
		Str("project", s.Project()).
		Str("src_root", s.SrcPath()).
		Str("out_root", s.OutPath()).
		Int64("dependency_count", e.DependencyCount()).
		Str("phase", e.Phase().String()).
		Msg("project info")
	return nil
}
