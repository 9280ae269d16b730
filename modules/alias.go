// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package modules holds the built-in module types forge ships with,
// demonstrating the boot/init host contract from forge.ModuleHost against
// real rules instead of test doubles (grounded on
// original_source/build2/build/cli/rule.cxx's group-rule shape and
// blueprint's RegisterModuleType examples).
package modules

import (
	"context"

	"github.com/forgebuild/forge"
)

// RegisterAlias installs the "alias" module: a single rule claiming the
// alias{} target type and resolving its prerequisites without producing
// anything of its own, build2's grouping idiom for "build these things
// together" targets that have no recipe.
func RegisterAlias(host *forge.ModuleHost) {
	host.Register("alias", forge.ModuleFuncs{
		Boot: func(bc *forge.BootContext) error {
			bc.Scope.RegisterRule("alias", aliasRule{})
			return nil
		},
	})
}

type aliasRule struct{}

func (aliasRule) Name() string { return "alias" }

func (aliasRule) Match(ctx context.Context, mc *forge.MatchContext, t *forge.Target, a forge.Action) bool {
	return true
}

func (aliasRule) Apply(ctx context.Context, mc *forge.MatchContext, t *forge.Target, a forge.Action) (forge.Recipe, error) {
	names := t.DeclaredPrerequisites()
	pathFor := func(n forge.Name) string { return forge.ResolvePrerequisitePath(mc.Scope, n) }
	if _, err := mc.PrerequisiteAll(ctx, names, pathFor, a); err != nil {
		return nil, err
	}
	return forge.NoopRecipe, nil
}
