// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package forge

import (
	"context"
	"testing"
)

func TestNewRuleDispatchesToFuncs(t *testing.T) {
	var matched, applied bool
	r := NewRule("test",
		func(ctx context.Context, mc *MatchContext, t *Target, a Action) bool {
			matched = true
			return true
		},
		func(ctx context.Context, mc *MatchContext, t *Target, a Action) (Recipe, error) {
			applied = true
			return NoopRecipe, nil
		},
	)

	if r.Name() != "test" {
		t.Fatalf("Name() = %q", r.Name())
	}
	tg := newTarget(Name{Simple: "x"}, "")
	if !r.Match(context.Background(), nil, tg, defaultAction) {
		t.Fatal("Match returned false")
	}
	if !matched {
		t.Fatal("underlying match func was not called")
	}
	recipe, err := r.Apply(context.Background(), nil, tg, defaultAction)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !applied {
		t.Fatal("underlying apply func was not called")
	}
	if err := recipe(context.Background(), tg, defaultAction); err != nil {
		t.Fatalf("recipe: %v", err)
	}
}

func TestNoopRecipeAlwaysSucceeds(t *testing.T) {
	tg := newTarget(Name{Simple: "x"}, "")
	if err := NoopRecipe(context.Background(), tg, defaultAction); err != nil {
		t.Fatalf("NoopRecipe returned an error: %v", err)
	}
}

func TestGroupRecipeDelegates(t *testing.T) {
	var ran bool
	inner := Recipe(func(ctx context.Context, t *Target, a Action) error {
		ran = true
		return nil
	})
	g := GroupRecipe(inner)
	tg := newTarget(Name{Simple: "x"}, "")
	if err := g(context.Background(), tg, defaultAction); err != nil {
		t.Fatalf("GroupRecipe: %v", err)
	}
	if !ran {
		t.Fatal("GroupRecipe did not invoke the inner recipe")
	}
}
