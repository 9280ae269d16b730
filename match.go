// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package forge

import (
	"context"
	"fmt"
	"sync"
)

// MatchContext is passed to a Rule's Match and Apply methods. It exposes
// the engine and scope a target was reached from and the prerequisite
// resolution helper rules use during Apply (grounded on build2's match_rule
// signature and blueprint's ModuleContext's dependency helpers).
type MatchContext struct {
	Engine *Engine
	Scope  *Scope

	// Guard is the PhaseGuard the top-level Engine.Match call took; rules
	// that discover mid-apply that a prerequisite must be built rather than
	// merely matched (a generated header whose content apply itself depends
	// on) use it via BuildNow to relock into PhaseExecute and back.
	Guard *PhaseGuard

	// path is the chain of targets currently being matched on this
	// goroutine's call stack, used to detect circular dependencies.
	path []*Target

	resolvedMu sync.Mutex
	// resolved accumulates, in call order, the targets this level's Apply
	// resolves via Prerequisite or PrerequisiteAll; searchAndApply hands
	// this list to finishMatch as t's prerequisite set. Distinct from path,
	// which is the ancestor chain used only for cycle detection.
	resolved []*Target
}

// Prerequisite resolves name to its Target, inserting it under the
// caller-supplied path on first reference (ResolvePrerequisitePath computes
// the usual one), and records it as one of t's prerequisites, recursing
// into Match for it. Rule
// Apply implementations call this for every prerequisite they declare.
func (mc *MatchContext) Prerequisite(ctx context.Context, name Name, path string, a Action) (*Target, error) {
	pt, err := mc.matchPrerequisite(ctx, name, path, a)
	if err != nil {
		return nil, err
	}
	mc.Engine.addDependency(1)
	mc.resolvedMu.Lock()
	mc.resolved = append(mc.resolved, pt)
	mc.resolvedMu.Unlock()
	return pt, nil
}

// PrerequisiteAll resolves every name in names the same way Prerequisite
// does, but fans the sibling matches out across the scheduler instead of
// resolving them one at a time, implementing
// search_and_match_prerequisite_members's parallel fan-out. Results are
// returned in the same order as names. pathFor computes each name's
// resolved out-path (typically forge.ResolvePrerequisitePath bound to
// mc.Scope).
func (mc *MatchContext) PrerequisiteAll(ctx context.Context, names []Name, pathFor func(Name) string, a Action) ([]*Target, error) {
	if len(names) == 0 {
		return nil, nil
	}
	results := make([]*Target, len(names))
	tasks := make([]func(ctx context.Context) error, len(names))
	for i, n := range names {
		i, n := i, n
		tasks[i] = func(ctx context.Context) error {
			pt, err := mc.matchPrerequisite(ctx, n, pathFor(n), a)
			if err != nil {
				return err
			}
			results[i] = pt
			return nil
		}
	}
	if err := mc.Engine.Scheduler().WaitAll(ctx, tasks...); err != nil {
		return nil, err
	}

	mc.Engine.addDependency(int64(len(names)))
	mc.resolvedMu.Lock()
	mc.resolved = append(mc.resolved, results...)
	mc.resolvedMu.Unlock()
	return results, nil
}

// matchPrerequisite inserts and matches name without recording it on
// mc.resolved, so concurrent callers (PrerequisiteAll's fan-out) can each
// resolve a sibling prerequisite and append the whole batch once under
// resolvedMu rather than racing on individual appends.
func (mc *MatchContext) matchPrerequisite(ctx context.Context, name Name, path string, a Action) (*Target, error) {
	pt := mc.Engine.insert(name, path)
	if _, err := mc.matchTarget(ctx, pt, a); err != nil {
		return nil, err
	}
	return pt, nil
}

// BuildNow executes pt under a immediately, relocking from the calling
// Apply's match phase into PhaseExecute and back. This is the sole
// legitimate interleaving of phases: a rule whose own output depends on a
// prerequisite's built content (a generated header enumerating other
// members, say) cannot merely match that prerequisite, it must have it
// built before Apply can finish computing what it itself produces.
func (mc *MatchContext) BuildNow(ctx context.Context, pt *Target, a Action) error {
	if mc.Guard == nil {
		return fmt.Errorf("%s: BuildNow called outside a phase-guarded match", pt)
	}
	return mc.Guard.WithPhase(PhaseExecute, func() error {
		return mc.Engine.executeOne(ctx, pt, a, false)
	})
}

func (mc *MatchContext) matchTarget(ctx context.Context, t *Target, a Action) (*actionState, error) {
	for _, p := range mc.path {
		if p == t {
			return nil, errCircular(Location{}, append(append([]*Target{}, mc.path...), t))
		}
	}
	child := &MatchContext{Engine: mc.Engine, Scope: mc.Scope, Guard: mc.Guard, path: append(mc.path, t)}
	return matchOne(ctx, child, t, a)
}

// matchOne runs the match/apply cycle for a single target under a, or waits
// for a concurrent caller's result if one is already in flight, per the CAS
// protocol target.go's actionState documents.
func matchOne(ctx context.Context, mc *MatchContext, t *Target, a Action) (*actionState, error) {
	if s, won := t.tryStartMatch(a); won {
		rule, recipe, prereqs, err := searchAndApply(ctx, mc, t, a)
		s.finishMatch(err == nil, rule, recipe, prereqs)
		if err != nil {
			return s, err
		}
		return s, nil
	} else {
		switch s.waitMatched() {
		case stateMatched:
			return s, nil
		case stateFailed:
			return s, fmt.Errorf("%s: prior match failed", t)
		default:
			return s, fmt.Errorf("%s: match did not resolve", t)
		}
	}
}

// searchAndApply tries every rule registered for t's target type, in
// registration order, taking the first whose Match reports true.
func searchAndApply(ctx context.Context, mc *MatchContext, t *Target, a Action) (Rule, Recipe, []*Target, error) {
	targetType := t.name.Type
	candidates := mc.Scope.rulesFor(targetType)

	for _, r := range candidates {
		if !r.Match(ctx, mc, t, a) {
			continue
		}
		recipe, err := r.Apply(ctx, mc, t, a)
		if err != nil {
			return nil, nil, nil, err
		}
		return r, recipe, mc.resolved, nil
	}

	// No rule claimed it. A target that already exists as a source file on
	// disk is trivially up to date (build2's "target is a file that
	// exists"); everything else is a hard no-rule-to-make-target error.
	if t.path != "" {
		if _, err := statMTime(t.path); err == nil {
			return nil, defaultRecipe, nil, nil
		}
	}
	return nil, nil, nil, errNoRule(Location{}, t, a)
}

// Match is the Engine-level entry point: resolve t (by inserted Name) to a
// matched Target under a, from the given starting scope. Safe to call
// concurrently for independent targets; concurrent callers racing on the
// same target share one match via matchOne's CAS.
func (e *Engine) Match(ctx context.Context, s *Scope, t *Target, a Action) error {
	g := e.LockPhase(PhaseMatch)
	defer g.Release()
	mc := &MatchContext{Engine: e, Scope: s, Guard: g}
	_, err := mc.matchTarget(ctx, t, a)
	return err
}
