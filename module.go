// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package forge

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ModuleState tracks a loaded module's position in the boot-then-init
// two-stage contract (grounded on
// original_source/build2/module.hxx's module_state enum). ModuleHost.Load
// boots a module and then initializes it in the same call, so a module's
// init always follows its own boot; modules loaded later have not booted
// yet when an earlier module's init runs.
type ModuleState int

const (
	ModuleBoot ModuleState = iota
	ModuleBooted
	ModuleInit
	ModuleInitialized
)

// BootContext is passed to a module's Boot function. Boot may register the
// variables, target types and rules the module owns; it must not read
// project configuration, since sibling modules have not booted yet.
type BootContext struct {
	Engine *Engine
	Scope  *Scope
	Log    zerolog.Logger
}

// InitContext is passed to a module's Init function, called right after
// that module's own Boot within the same Load call. Init may read configuration variables (its
// own and those of modules it depends on) and report whether it is
// "configured" for this project: an optional module that finds its
// prerequisites absent may set Configured=false without failing the load.
type InitContext struct {
	Engine *Engine
	Scope  *Scope
	Log    zerolog.Logger

	// ConfigHints carries variable assignments a dependent module suggested
	// when it requested this module be loaded (build2's config_hints).
	ConfigHints *VariableMap
}

// InitResult is a module's answer from Init.
type InitResult struct {
	Configured bool
	Reason     string // human-readable, used in `info: module X left unconfigured: Reason`
}

// BootFunc and InitFunc are the two stages a module type implements.
type BootFunc func(ctx *BootContext) error
type InitFunc func(ctx *InitContext) (InitResult, error)

// ModuleFuncs is what a module type registers: its boot and init callbacks,
// either of which may be nil (a module with no boot-time work, or one that
// is unconditionally configured).
type ModuleFuncs struct {
	Boot BootFunc
	Init InitFunc
}

// moduleEntry tracks one loaded module's registration and current state,
// analogous to build2's loaded_module.
type moduleEntry struct {
	name  string
	funcs ModuleFuncs
	state ModuleState
	res   InitResult
}

// ModuleHost owns the registry of available module types and the per-run
// record of which modules have been loaded into which scope, booting each
// module before initializing it.
type ModuleHost struct {
	mu        sync.Mutex
	available map[string]ModuleFuncs
	loaded    map[string]*moduleEntry // keyed by scope out-path + "/" + name
}

func newModuleHost() *ModuleHost {
	return &ModuleHost{
		available: make(map[string]ModuleFuncs),
		loaded:    make(map[string]*moduleEntry),
	}
}

// Register adds a module type to the set load can find by name. Called
// during the engine's registration phase, before any buildfile is loaded.
func (h *ModuleHost) Register(name string, funcs ModuleFuncs) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.available[name] = funcs
}

// Load boots (if name has not been loaded into s before; each scope keeps
// its own record) and initializes name into scope. optional modules that come back
// unconfigured are recorded but not treated as an error; required modules
// (optional=false) that come back unconfigured produce a config error.
// Boot and Init run under PhaseLoad, since both may register rules and
// variables against s exactly like a buildfile declaration would.
func (h *ModuleHost) Load(e *Engine, s *Scope, name string, optional bool, hints *VariableMap) error {
	g := e.LockPhase(PhaseLoad)
	defer g.Release()

	h.mu.Lock()
	funcs, ok := h.available[name]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("no such module: %s", name)
	}
	key := s.OutPath() + "/" + name
	entry, seen := h.loaded[key]
	if !seen {
		entry = &moduleEntry{name: name, funcs: funcs, state: ModuleBoot}
		h.loaded[key] = entry
	}
	h.mu.Unlock()

	if entry.funcs.Boot != nil && entry.state == ModuleBoot {
		bc := &BootContext{Engine: e, Scope: s, Log: e.Log().With().Str("module", name).Logger()}
		if err := entry.funcs.Boot(bc); err != nil {
			return fmt.Errorf("module %s: boot: %w", name, err)
		}
	}
	h.mu.Lock()
	entry.state = ModuleBooted
	h.mu.Unlock()

	if entry.funcs.Init == nil {
		h.mu.Lock()
		entry.state = ModuleInitialized
		entry.res = InitResult{Configured: true}
		h.mu.Unlock()
		return nil
	}

	ic := &InitContext{Engine: e, Scope: s, Log: e.Log().With().Str("module", name).Logger(), ConfigHints: hints}
	res, err := entry.funcs.Init(ic)
	if err != nil {
		return fmt.Errorf("module %s: init: %w", name, err)
	}
	h.mu.Lock()
	entry.state = ModuleInitialized
	entry.res = res
	h.mu.Unlock()

	if !res.Configured && !optional {
		reason := res.Reason
		if reason == "" {
			reason = "unspecified"
		}
		return errConfig(Location{}, fmt.Sprintf("module %s: unable to configure: %s", name, reason))
	}
	return nil
}

// Configured reports whether name has been loaded into scope s and came
// back configured, used by rules that only apply when an optional module is
// present (the module's own "configured" flag).
func (h *ModuleHost) Configured(s *Scope, name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.loaded[s.OutPath()+"/"+name]
	if !ok {
		return false
	}
	return entry.res.Configured
}
