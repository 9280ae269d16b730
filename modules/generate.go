// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package modules

import (
	"context"
	"fmt"

	"github.com/forgebuild/forge"
	"github.com/forgebuild/forge/deptools"
)

// GeneratorFunc produces the content of a generated target's file, given
// its resolved declared prerequisites. It may additionally return the
// paths of dependencies it discovered while running that the buildfile
// never declared (e.g. headers a code generator read along the way); the
// recipe records those in a gcc-style depfile next to the target's output
// rather than feeding them back into this run's graph, matching how an
// external dependency-aware tool (ccache, a second build invocation)
// would pick them up on a later run. Returning an error fails the recipe
// with forge's recipe-failed diagnostic.
type GeneratorFunc func(ctx context.Context, t *forge.Target, prereqs []*forge.Target) (extraDeps []string, err error)

// RegisterGenerate installs the "generate" module: a rule claiming target
// type "gen" whose matched recipe runs fn once for the target, the simple
// single-output case of original_source/build2/build/cli/rule.cxx's
// generator. Use RegisterGroupGenerate instead when one invocation of the
// underlying tool produces several distinct target types from one recipe.
func RegisterGenerate(host *forge.ModuleHost, fn GeneratorFunc) {
	host.Register("generate", forge.ModuleFuncs{
		Boot: func(bc *forge.BootContext) error {
			bc.Scope.RegisterRule("gen", generateRule{fn: fn})
			return nil
		},
	})
}

type generateRule struct {
	fn GeneratorFunc
}

func (generateRule) Name() string { return "generate" }

func (generateRule) Match(ctx context.Context, mc *forge.MatchContext, t *forge.Target, a forge.Action) bool {
	return true
}

func (r generateRule) Apply(ctx context.Context, mc *forge.MatchContext, t *forge.Target, a forge.Action) (forge.Recipe, error) {
	fn := r.fn
	names := t.DeclaredPrerequisites()
	pathFor := func(n forge.Name) string { return forge.ResolvePrerequisitePath(mc.Scope, n) }
	prereqs, err := mc.PrerequisiteAll(ctx, names, pathFor, a)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, t *forge.Target, a forge.Action) error {
		if fn == nil {
			return fmt.Errorf("generate: %s has no generator function bound", t)
		}
		extra, err := fn(ctx, t, prereqs)
		if err != nil {
			return err
		}
		if len(extra) == 0 || t.Path() == "" {
			return nil
		}
		return deptools.WriteDepFile(t.Path()+".d", t.Path(), extra)
	}, nil
}

// GroupSpec describes a target group one generator invocation produces,
// mirroring original_source/build2/build/cli/rule.cxx's cli rule: a single
// .cli source compiles to a header, a source file, and (conditionally) an
// inline file, all from one tool invocation and sharing one recipe.
type GroupSpec struct {
	// BaseType is the target type carrying the declared prerequisites (the
	// group's primary member, e.g. "cli" for a foo.cli source).
	BaseType string
	// MemberTypes are target types this group always produces alongside
	// the primary.
	MemberTypes []string
	// OptionalTypes are target types this group may conditionally produce;
	// every type here is registered against the rule, but Optional decides
	// per invocation which of them actually apply.
	OptionalTypes []string
	// Optional reports, given the primary member once matched, which of
	// OptionalTypes this invocation actually produces. Nil means none.
	Optional func(primary *forge.Target) []string
	// Regenerate reports whether prerequisite p must be fully built (its
	// own recipe run), not merely matched, before Apply can decide this
	// group's final member set — e.g. p is itself a generated file whose
	// content Optional needs to inspect. Nil means never.
	Regenerate func(primary, p *forge.Target) bool
}

// GroupGeneratorFunc runs the underlying tool once for the whole group.
// members is ordered [primary, MemberTypes..., selected OptionalTypes...];
// extraDeps, if non-nil, maps a member's resolved Path() to additional
// dependency paths discovered during generation, recorded in that member's
// gcc-style depfile.
type GroupGeneratorFunc func(ctx context.Context, members []*forge.Target, prereqs []*forge.Target) (extraDeps map[string][]string, err error)

// RegisterGroupGenerate installs a group-producing generate rule under
// every member type spec names, so that whichever member a consumer
// declares a prerequisite on first, matching resolves the whole group in
// one Apply call (applyPrimary) and every other member adopts the shared
// recipe without a rule search of its own.
func RegisterGroupGenerate(host *forge.ModuleHost, spec GroupSpec, fn GroupGeneratorFunc) {
	r := &groupGenerateRule{spec: spec, fn: fn}
	host.Register("generate-group", forge.ModuleFuncs{
		Boot: func(bc *forge.BootContext) error {
			bc.Scope.RegisterRule(spec.BaseType, r)
			for _, mt := range spec.MemberTypes {
				bc.Scope.RegisterRule(mt, r)
			}
			for _, mt := range spec.OptionalTypes {
				bc.Scope.RegisterRule(mt, r)
			}
			return nil
		},
	})
}

type groupGenerateRule struct {
	spec GroupSpec
	fn   GroupGeneratorFunc
}

func (r *groupGenerateRule) Name() string { return "generate-group" }

func (r *groupGenerateRule) Match(ctx context.Context, mc *forge.MatchContext, t *forge.Target, a forge.Action) bool {
	return true
}

func (r *groupGenerateRule) Apply(ctx context.Context, mc *forge.MatchContext, t *forge.Target, a forge.Action) (forge.Recipe, error) {
	if t.Type() == r.spec.BaseType {
		return r.applyPrimary(ctx, mc, t, a)
	}

	// t is a non-primary member reached first (a consumer declared a
	// prerequisite directly on the generated header, say, before anyone
	// touched the .cli source it comes from). Resolve the primary by name
	// and adopt the recipe its Apply computes for the whole group; if the
	// primary already finished matching before this call, MatchedRecipe
	// returns its recipe immediately.
	primaryName := t.Name()
	primaryName.Type = r.spec.BaseType
	path := forge.ResolvePrerequisitePath(mc.Scope, primaryName)
	primary, err := mc.Prerequisite(ctx, primaryName, path, a)
	if err != nil {
		return nil, err
	}
	recipe, ok := primary.MatchedRecipe(a)
	if !ok {
		return nil, fmt.Errorf("generate: %s: primary member %s did not produce a recipe", t, primary)
	}
	t.JoinGroup(primary.GroupOf())
	return recipe, nil
}

func (r *groupGenerateRule) applyPrimary(ctx context.Context, mc *forge.MatchContext, primary *forge.Target, a forge.Action) (forge.Recipe, error) {
	names := primary.DeclaredPrerequisites()
	pathFor := func(n forge.Name) string { return forge.ResolvePrerequisitePath(mc.Scope, n) }
	prereqs, err := mc.PrerequisiteAll(ctx, names, pathFor, a)
	if err != nil {
		return nil, err
	}

	if r.spec.Regenerate != nil {
		for _, p := range prereqs {
			if !r.spec.Regenerate(primary, p) {
				continue
			}
			if err := mc.BuildNow(ctx, p, a); err != nil {
				return nil, fmt.Errorf("generate: %s: regenerating prerequisite %s: %w", primary, p, err)
			}
		}
	}

	memberTypes := append([]string(nil), r.spec.MemberTypes...)
	if r.spec.Optional != nil {
		memberTypes = append(memberTypes, r.spec.Optional(primary)...)
	}

	memberName := func(mt string) forge.Name {
		n := primary.Name()
		n.Type = mt
		return n
	}

	members := make([]*forge.Target, 0, len(memberTypes)+1)
	members = append(members, primary)
	for _, mt := range memberTypes {
		n := memberName(mt)
		mpath := forge.ResolvePrerequisitePath(mc.Scope, n)
		members = append(members, mc.Engine.Insert(n, mpath))
	}

	group := &forge.Group{Name: primary.Name(), Members: members}
	for _, m := range members {
		m.JoinGroup(group)
	}

	fn := r.fn
	recipe := forge.GroupRecipe(func(ctx context.Context, t *forge.Target, a forge.Action) error {
		if fn == nil {
			return fmt.Errorf("generate: %s has no group generator function bound", t)
		}
		extra, err := fn(ctx, members, prereqs)
		if err != nil {
			return err
		}
		for _, m := range members {
			deps, ok := extra[m.Path()]
			if !ok || len(deps) == 0 || m.Path() == "" {
				continue
			}
			if err := deptools.WriteDepFile(m.Path()+".d", m.Path(), deps); err != nil {
				return err
			}
		}
		return nil
	})

	for _, m := range members {
		if m == primary {
			continue
		}
		m.FinishGroupMemberMatch(a, recipe)
	}
	return recipe, nil
}
