// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package forge

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/forgebuild/forge/internal/sched"
	"github.com/rs/zerolog"
)

// Engine is the single top-level value a build process constructs: it owns
// the phase mutex, the target arena, the scope tree, the module and rule
// registries and the task scheduler, per Design Notes §9's "single global
// per process" decision (grounded on original_source/build2/context.hxx,
// which keeps the equivalent state as free globals in a single-process
// build; Engine gives that same shape a home an embedding Go program can
// instantiate more than once, e.g. in tests).
type Engine struct {
	phases *phaseMutex

	targetsMu sync.Mutex
	targets   map[string]*Target

	root    *Scope
	modules *ModuleHost

	sched      *sched.Scheduler
	operations *operationRegistry

	log zerolog.Logger

	// dependencyCount is incremented for every prerequisite edge resolved
	// during match and decremented as execute completes them, exposed for
	// progress reporting (build2 context.hxx's dependency_count).
	dependencyCount int64

	// keepGoing mirrors build2's global keep_going: when false (the
	// default), the first recipe failure cancels the scheduler instead of
	// letting independent branches continue.
	keepGoing int32

	curMu   sync.RWMutex
	current Action

	// varPool and variables give every Variable a project-wide identity
	// keyed by its pooled name, so that the same `cxx.std` referenced from
	// two different scopes resolves to one *Variable and Scope.Lookup's
	// ancestor walk works.
	varMu     sync.Mutex
	varPool   *varNamePool
	variables map[string]*Variable
}

// EngineConfig configures a new Engine. MaxActive <= 0 means unbounded
// parallelism (see internal/sched.New). Logger is optional; nil selects the
// default warn-level console writer at verbosity 0.
type EngineConfig struct {
	OutRoot   string
	SrcRoot   string
	Project   string
	MaxActive int
	KeepGoing bool
	Verbosity int
	Logger    *zerolog.Logger
}

// NewEngine constructs an Engine with a fresh root Scope rooted at
// cfg.OutRoot/cfg.SrcRoot.
func NewEngine(cfg EngineConfig) *Engine {
	logger := defaultLogger(cfg.Verbosity)
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	e := &Engine{
		phases:     newPhaseMutex(),
		targets:    make(map[string]*Target),
		modules:    newModuleHost(),
		sched:      sched.New(cfg.MaxActive),
		operations: newOperationRegistry(),
		log:        logger,
		root:       newRootScope(cfg.OutRoot, cfg.SrcRoot, cfg.Project),
		varPool:    newVarNamePool(),
		variables:  make(map[string]*Variable),
	}
	if cfg.KeepGoing {
		atomic.StoreInt32(&e.keepGoing, 1)
	}
	return e
}

// Variable returns the project-wide *Variable for name, creating it with
// the given visibility/overridable flags on first use. Later calls for the
// same name return the same pointer regardless of visibility/overridable
// arguments, so that a loader re-declaring a variable it already resolved
// (e.g. on a second assignment to the same name in a different scope) keeps
// a single identity for Scope.Lookup and VariableMap to key on.
func (e *Engine) Variable(name string, vis Visibility, overridable bool) *Variable {
	e.varMu.Lock()
	defer e.varMu.Unlock()
	if v, ok := e.variables[name]; ok {
		return v
	}
	v := newVariable(e.varPool, name, vis, overridable)
	e.variables[name] = v
	return v
}

func (e *Engine) Log() zerolog.Logger { return e.log }
func (e *Engine) RootScope() *Scope   { return e.root }
func (e *Engine) Modules() *ModuleHost { return e.modules }
func (e *Engine) Scheduler() *sched.Scheduler { return e.sched }

func (e *Engine) KeepGoing() bool { return atomic.LoadInt32(&e.keepGoing) != 0 }
func (e *Engine) SetKeepGoing(v bool) {
	if v {
		atomic.StoreInt32(&e.keepGoing, 1)
	} else {
		atomic.StoreInt32(&e.keepGoing, 0)
	}
}

// CurrentAction reports the action the calling recipe/rule is running
// under, analogous to build2's current_mif/current_oif pair.
func (e *Engine) CurrentAction() Action {
	e.curMu.RLock()
	defer e.curMu.RUnlock()
	return e.current
}

func (e *Engine) setCurrentAction(a Action) {
	e.curMu.Lock()
	e.current = a
	e.curMu.Unlock()
}

// DependencyCount returns the number of prerequisite edges match has
// resolved in this run minus those execute has since completed, for
// progress display.
func (e *Engine) DependencyCount() int64 { return atomic.LoadInt64(&e.dependencyCount) }

func (e *Engine) addDependency(n int64) int64 { return atomic.AddInt64(&e.dependencyCount, n) }

// Phase reports the phase currently admitted by the engine's phase mutex.
func (e *Engine) Phase() Phase { return e.phases.current() }

// LoadGeneration reports the current island generation. reset increments it
// once per call; moving between phases, including back into PhaseLoad,
// leaves it unchanged.
func (e *Engine) LoadGeneration() uint64 { return e.phases.generation() }

// reset clears per-run state (targets, dependency count) while keeping the
// registered module types and rules, so that a single Engine value can
// drive more than one operation against the same buildfiles in one process
// (build2 context.hxx's reset(), used between meta-operation batches).
func (e *Engine) reset() {
	g := e.LockPhase(PhaseLoad)
	defer g.Release()

	e.targetsMu.Lock()
	e.targets = make(map[string]*Target)
	e.targetsMu.Unlock()

	atomic.StoreInt64(&e.dependencyCount, 0)
	e.phases.bumpGeneration()
}

// defaultLogger builds the console-writer zerolog.Logger the engine's
// diagnostics use, matching the project's verbosity-to-level table.
func defaultLogger(verbosity int) zerolog.Logger {
	level := zerolog.WarnLevel
	switch {
	case verbosity >= 2:
		level = zerolog.DebugLevel
	case verbosity == 1:
		level = zerolog.InfoLevel
	case verbosity == 0:
		level = zerolog.WarnLevel
	case verbosity < 0:
		level = zerolog.Disabled
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
