// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package forge

import (
	"context"
	"fmt"
)

// Execute runs t's matched recipe under a, first recursively executing its
// prerequisites through the scheduler's WaitAll and only then t's own
// recipe. reverse (used by the clean operation) hands the prerequisites to
// the scheduler in reverse declaration order; it does not move t's recipe
// ahead of them, so in both orders every prerequisite finishes first.
// Safe to call concurrently; concurrent callers racing on the same
// (target, action) share one execution via the CAS protocol in target.go.
func (e *Engine) Execute(ctx context.Context, t *Target, a Action, reverse bool) error {
	g := e.LockPhase(PhaseExecute)
	defer g.Release()
	e.setCurrentAction(a)
	return e.executeOne(ctx, t, a, reverse)
}

func (e *Engine) executeOne(ctx context.Context, t *Target, a Action, reverse bool) error {
	st, created := t.stateFor(a)
	if created {
		return fmt.Errorf("%s: execute called before a successful match", t)
	}
	if matchState(st.match) != stateMatched {
		return fmt.Errorf("%s: execute called before a successful match", t)
	}

	s, won := t.tryStartExecute(a)
	if !won {
		return s.waitExecuted()
	}

	err := e.runPrereqsThenRecipe(ctx, t, a, s, reverse)
	s.execErr = err
	if err == nil {
		s.exec = stateExecuted
	} else {
		s.exec = stateExecFailed
	}
	close(execDone(s))
	return err
}

// execDone lazily allocates and returns the done-signal for exec state;
// actionState's match.done channel is reused in spirit but exec needs its
// own since match may finish long before execute starts. Kept as a function
// (rather than a second field set up in newActionState) so a target that is
// only ever matched, never executed (e.g. a dry-run), allocates nothing
// extra.
func execDone(s *actionState) chan struct{} {
	s.execDoneOnce.Do(func() { s.execDoneCh = make(chan struct{}) })
	return s.execDoneCh
}

func (s *actionState) waitExecuted() error {
	<-execDone(s)
	return s.execErr
}

func (e *Engine) runPrereqsThenRecipe(ctx context.Context, t *Target, a Action, s *actionState, reverse bool) error {
	if e.Scheduler().Cancelled() {
		return errCancelled(Location{})
	}

	prereqs := append([]*Target(nil), s.prerequisites...)
	if reverse {
		for i, j := 0, len(prereqs)-1; i < j; i, j = i+1, j-1 {
			prereqs[i], prereqs[j] = prereqs[j], prereqs[i]
		}
	}

	if len(prereqs) > 0 {
		tasks := make([]func(ctx context.Context) error, len(prereqs))
		for i, p := range prereqs {
			p := p
			tasks[i] = func(ctx context.Context) error {
				if err := e.executeOne(ctx, p, a, reverse); err != nil {
					if !e.KeepGoing() {
						e.Scheduler().Cancel()
					}
					return errPrerequisiteFailed(Location{}, t, p)
				}
				// This one (t, p) edge, incremented in match when
				// MatchContext.Prerequisite resolved it, is now done:
				// whatever p's own recipe needed to do has happened,
				// whether it ran here or was shared with another parent
				// via executeOne's CAS.
				e.addDependency(-1)
				return nil
			}
		}
		if err := e.Scheduler().WaitAll(ctx, tasks...); err != nil {
			return err
		}
	}

	if s.recipe == nil {
		return nil
	}

	// A filesystem target whose recipe last ran no earlier than every
	// prerequisite's mtime is already current; only a path-less (phony,
	// alias) target or a stale one actually runs its recipe.
	if a.Operation != "clean" && t.path != "" && !outOfDate(t.path, prereqs) {
		e.log.Debug().Str("target", t.String()).Msg("up to date")
		return nil
	}

	if err := s.recipe(ctx, t, a); err != nil {
		if !e.KeepGoing() {
			e.Scheduler().Cancel()
		}
		return errRecipeFailed(Location{}, t, err)
	}
	return nil
}
