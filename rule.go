// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package forge

import (
	"context"
	"sync"
)

// Recipe is the callable a matched rule hands to the execute engine: run
// the action against t and report the outcome. Recipes run under a shared
// PhaseExecute lock and must not touch scope/variable state outside of t's
// own resolved prerequisites.
type Recipe func(ctx context.Context, t *Target, a Action) error

// Rule is the two-step match/apply contract, adapted from build2's
// rule::match/rule::apply pair and from the shape blueprint's
// mutator/GenerateBuildActions callbacks give a Go rule author.
//
// Match answers, without side effects beyond returning a boolean, whether
// this rule is capable of producing t under a. The match engine calls
// Match on every rule registered for t's target type (in registration
// order) and takes the first true answer.
//
// Apply is called exactly once for the winning rule and must resolve t's
// prerequisite set and return the Recipe that will later run under
// PhaseExecute. Apply runs under a match-phase lock and may itself recurse
// into match for prerequisites it discovers.
type Rule interface {
	Name() string
	Match(ctx context.Context, mc *MatchContext, t *Target, a Action) bool
	Apply(ctx context.Context, mc *MatchContext, t *Target, a Action) (Recipe, error)
}

// funcRule adapts two plain functions to the Rule interface, the shape
// most of the built-in modules in package modules use.
type funcRule struct {
	name  string
	match func(ctx context.Context, mc *MatchContext, t *Target, a Action) bool
	apply func(ctx context.Context, mc *MatchContext, t *Target, a Action) (Recipe, error)
}

func NewRule(name string,
	match func(ctx context.Context, mc *MatchContext, t *Target, a Action) bool,
	apply func(ctx context.Context, mc *MatchContext, t *Target, a Action) (Recipe, error)) Rule {
	return &funcRule{name: name, match: match, apply: apply}
}

func (r *funcRule) Name() string { return r.name }
func (r *funcRule) Match(ctx context.Context, mc *MatchContext, t *Target, a Action) bool {
	return r.match(ctx, mc, t, a)
}
func (r *funcRule) Apply(ctx context.Context, mc *MatchContext, t *Target, a Action) (Recipe, error) {
	return r.apply(ctx, mc, t, a)
}

// NoopRecipe declares a target up to date without doing anything, used for
// targets whose only role is grouping prerequisites (build2's alias{}).
func NoopRecipe(ctx context.Context, t *Target, a Action) error { return nil }

var noopRecipe = NoopRecipe

// defaultRecipe is installed when no module rule claims a target but the
// target exists on disk already (a source file, say): it is trivially up
// to date and has no further action to perform.
func defaultRecipe(ctx context.Context, t *Target, a Action) error { return nil }

// GroupRecipe wraps inner so that however many of a group's members reach
// execute under a, inner runs exactly once (on whichever member gets there
// first) and every other member observes that one run's outcome, mirroring
// build2's cli rule group handling (see
// original_source/build2/build/cli/rule.cxx): a single compiler invocation
// producing a header and source pair must not run twice just because both
// members were independently scheduled for execution.
func GroupRecipe(inner Recipe) Recipe {
	var once sync.Once
	var err error
	return func(ctx context.Context, t *Target, a Action) error {
		once.Do(func() { err = inner(ctx, t, a) })
		return err
	}
}
