// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package forge

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// matchState is the per-(Target, Action) CAS state machine: a target
// starts unmatched, exactly one goroutine wins the race
// to move it to matching (and does the rule search), and every other caller
// waits on done for the winner to publish matched or failed.
type matchState int32

const (
	stateUnmatched matchState = iota
	stateMatching
	stateMatched
	stateFailed
)

// execState is the analogous state machine for the execute engine, entered
// only once a target's action has reached stateMatched.
type execState int32

const (
	stateNotExecuted execState = iota
	stateExecuting
	stateExecuted
	stateExecFailed
)

// actionState holds everything the match and execute engines learn about a
// Target under one Action: the winning rule, its recipe, the prerequisite
// set as resolved by that rule's apply, and the two CAS state machines.
type actionState struct {
	match matchState
	exec  execState
	done  chan struct{} // closed once match resolves to matched or failed

	rule          Rule
	recipe        Recipe
	prerequisites []*Target

	execErr      error
	execDoneOnce sync.Once
	execDoneCh   chan struct{}
}

func newActionState() *actionState {
	return &actionState{done: make(chan struct{})}
}

// Group models a build2-style target group: a name that resolves to a set
// of member targets sharing one rule match (e.g. a compile-with-listing
// group producing both an object file and a listing file). Spec.md §3.
type Group struct {
	Name    Name
	Members []*Target
}

// Target is a build2-style target: an identity (its Name, which encodes
// type and path) plus per-action match/execute state and static
// prerequisite/group relationships resolved during load.
//
// Targets are created exactly once per distinct Name by Engine.insert and
// are safe for concurrent use for the remainder of the process's life; their
// actionState map and Group backreference are mutated under mu, and a later
// insert of the same Name may fill in a path left empty at creation.
type Target struct {
	name Name
	path string // resolved out-path, empty for path-less (alias-like) targets

	mu      sync.Mutex
	group   *Group   // non-nil if this target is a member of a group
	actions map[Action]*actionState

	// mtime is a cached last-modification snapshot, valid once setMTime has
	// stored it (mtimeValid != 0); MTime reports ok=false before that. The
	// match and execute engines neither set nor read it: the "out of date"
	// check (outOfDate) stats the filesystem directly.
	mtimeValid int32
	mtime      int64

	// declaredPrereqs holds the prerequisite names a buildfile's TargetDecl
	// named for this target, set once by the loader during PhaseLoad and
	// read-only thereafter. Rules consult this during Apply to decide what
	// to resolve via MatchContext.Prerequisite; the match engine itself
	// never reads it.
	declaredPrereqs []Name
}

func newTarget(name Name, path string) *Target {
	return &Target{name: name, path: path, actions: make(map[Action]*actionState)}
}

func (t *Target) String() string { return t.name.String() }

// Name returns t's identity name triple.
func (t *Target) Name() Name { return t.name }

// Type returns t's target-type component, the key Rule registration and
// search is keyed on.
func (t *Target) Type() string { return t.name.Type }

// Path returns t's resolved out-path, empty for path-less targets.
func (t *Target) Path() string { return t.path }

// stateFor returns (creating if necessary) the actionState for a, and
// reports whether this call created it.
func (t *Target) stateFor(a Action) (*actionState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.actions[a]; ok {
		return s, false
	}
	s := newActionState()
	t.actions[a] = s
	return s, true
}

// tryStartMatch attempts to move this target's state for a from unmatched to
// matching, returning true iff this call won the race and must perform the
// rule search and publish the result via finishMatch.
func (t *Target) tryStartMatch(a Action) (*actionState, bool) {
	s, _ := t.stateFor(a)
	if atomic.CompareAndSwapInt32((*int32)(&s.match), int32(stateUnmatched), int32(stateMatching)) {
		return s, true
	}
	return s, false
}

// waitMatched blocks until a's match state leaves stateMatching, then
// reports the outcome.
func (s *actionState) waitMatched() matchState {
	if matchState(atomic.LoadInt32((*int32)(&s.match))) == stateMatching {
		<-s.done
	}
	return matchState(atomic.LoadInt32((*int32)(&s.match)))
}

func (s *actionState) finishMatch(ok bool, rule Rule, recipe Recipe, prereqs []*Target) {
	s.rule = rule
	s.recipe = recipe
	s.prerequisites = prereqs
	if ok {
		atomic.StoreInt32((*int32)(&s.match), int32(stateMatched))
	} else {
		atomic.StoreInt32((*int32)(&s.match), int32(stateFailed))
	}
	close(s.done)
}

// tryStartExecute is execute's analogue of tryStartMatch.
func (t *Target) tryStartExecute(a Action) (*actionState, bool) {
	s, _ := t.stateFor(a)
	if atomic.CompareAndSwapInt32((*int32)(&s.exec), int32(stateNotExecuted), int32(stateExecuting)) {
		return s, true
	}
	return s, false
}

func (t *Target) setMTime(mt int64) {
	atomic.StoreInt64(&t.mtime, mt)
	atomic.StoreInt32(&t.mtimeValid, 1)
}

func (t *Target) MTime() (int64, bool) {
	if atomic.LoadInt32(&t.mtimeValid) == 0 {
		return 0, false
	}
	return atomic.LoadInt64(&t.mtime), true
}

// SetDeclaredPrerequisites records the prerequisite names a loader parsed
// for t out of a TargetDecl. Called at most once per target, before any
// match begins; safe to call without locking t.mu since the load and
// match phases never overlap.
func (t *Target) SetDeclaredPrerequisites(names []Name) { t.declaredPrereqs = names }

// DeclaredPrerequisites returns the prerequisite names set by
// SetDeclaredPrerequisites, or nil if the target was never loaded from a
// buildfile (e.g. it was materialized directly by a CLI buildspec).
func (t *Target) DeclaredPrerequisites() []Name { return t.declaredPrereqs }

// insert returns the single Target for name, creating it under path on
// first reference. Every subsequent insert of the same Name returns the
// identical *Target; this is what makes the same header file reachable
// as a prerequisite from many recipes resolve to one piece of
// match/execute state.
func (e *Engine) insert(name Name, path string) *Target {
	key := name.String()
	e.targetsMu.Lock()
	defer e.targetsMu.Unlock()
	if t, ok := e.targets[key]; ok {
		if path != "" && t.path == "" {
			t.path = path
		}
		return t
	}
	t := newTarget(name, path)
	e.targets[key] = t
	return t
}

// Insert is the exported form of insert, for CLI drivers and modules that
// need to materialize a root target from a command-line buildspec before
// handing it to Engine.Run.
func (e *Engine) Insert(name Name, path string) *Target { return e.insert(name, path) }

// lookup returns the Target for name if one has already been inserted,
// without creating it.
func (e *Engine) lookup(name Name) (*Target, bool) {
	e.targetsMu.Lock()
	defer e.targetsMu.Unlock()
	t, ok := e.targets[name.String()]
	return t, ok
}

// groupOf returns t's group, resolving t as a standalone singleton group of
// itself if it has none, matching build2's uniform "every target has a
// group of at least itself" convenience for prerequisite iteration.
func (t *Target) groupOf() *Group {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.group != nil {
		return t.group
	}
	return &Group{Name: t.name, Members: []*Target{t}}
}

// joinGroup attaches t as a member of g, used by group-producing rules
// (adapted from build2's cli rule's group_recipe) during apply.
func (t *Target) joinGroup(g *Group) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.group = g
}

// GroupOf is the exported form of groupOf, for group-producing rules
// outside package forge (package modules's generate group rule).
func (t *Target) GroupOf() *Group { return t.groupOf() }

// JoinGroup is the exported form of joinGroup.
func (t *Target) JoinGroup(g *Group) { t.joinGroup(g) }

// FinishGroupMemberMatch publishes recipe as a's matched recipe for a group
// member other than the one whose Apply actually ran (build2's group rule:
// one member's apply computes the recipe for the whole group, and every
// other member is matched with that same recipe instead of running its own
// search). Reports whether this call won the match race for t under a;
// false means another goroutine already matched (or is mid-matching) t
// under a; FinishGroupMemberMatch never overwrites that result.
func (t *Target) FinishGroupMemberMatch(a Action, recipe Recipe) bool {
	s, won := t.tryStartMatch(a)
	if !won {
		return false
	}
	s.finishMatch(true, nil, recipe, nil)
	return true
}

// MatchedRecipe returns the recipe a's rule installed for t, if a has
// already reached stateMatched; group member delegation uses this to adopt
// the primary member's recipe instead of resolving its own.
func (t *Target) MatchedRecipe(a Action) (Recipe, bool) {
	s, created := t.stateFor(a)
	if created {
		return nil, false
	}
	if matchState(s.waitMatched()) != stateMatched {
		return nil, false
	}
	return s.recipe, true
}

var errNotAGroupMember = fmt.Errorf("target is not a group member")
