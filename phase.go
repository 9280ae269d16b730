// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package forge

import (
	"sync"
)

// Phase is one of the three states the Engine can be in at any given
// instant. phaseMutex admits PhaseLoad alone; PhaseMatch and PhaseExecute
// may be held at the same time by different callers.
type Phase int

const (
	// PhaseLoad is exclusive: a single thread may parse buildfiles and make
	// arbitrary changes to scopes, variables and targets.
	PhaseLoad Phase = iota
	// PhaseMatch is shared: many threads may search for rules and resolve
	// prerequisites, reading external state (mtimes, file existence) but
	// writing only per-target match state through disciplined CAS.
	PhaseMatch
	// PhaseExecute is shared: many threads may run recipes, writing external
	// state and the execute-state of targets.
	PhaseExecute
)

func (p Phase) String() string {
	switch p {
	case PhaseLoad:
		return "load"
	case PhaseMatch:
		return "match"
	case PhaseExecute:
		return "execute"
	default:
		return "phase(?)"
	}
}

// phaseMutex is a three-counter phase lock. load is exclusive; match and
// execute are shared among any number of threads and may be held at the
// same time as each other, but never together with load.
//
// There is no per-goroutine reentrancy tracking: every lock call adds one to
// its phase's counter, including a nested lock of a phase the caller already
// holds. Nesting by logically-the-same caller is arranged by the caller
// passing its existing *PhaseGuard along instead of locking again.
type phaseMutex struct {
	mu sync.Mutex
	cv *sync.Cond

	// count of live locks per phase.
	counts [3]int
	// switchPending is set while a load-switch is draining match/execute
	// holders so they park at the next safe point instead of taking new
	// nested locks.
	switchPending bool

	phase Phase

	// loadGeneration is bumped once by every Engine reset (bumpGeneration).
	// lock, unlock and relock never change it, so entering PhaseLoad,
	// including a match-to-load relock, does not start a new generation. No
	// scope, variable or target records the generation it was created in.
	loadGeneration uint64

	// loadMu serializes the exclusive load phase itself (lock() on PhaseLoad
	// blocks here in addition to the tri-counter bookkeeping, mirroring the
	// teacher's separate lm_ "second level" mutex).
	loadMu sync.Mutex
}

func newPhaseMutex() *phaseMutex {
	pm := &phaseMutex{phase: PhaseLoad}
	pm.cv = sync.NewCond(&pm.mu)
	return pm
}

// lock blocks until phase p is the active phase (or becomes admissible) and
// then registers this caller as holding a lock on it.
func (pm *phaseMutex) lock(p Phase) {
	pm.mu.Lock()
	for !pm.admits(p) {
		pm.cv.Wait()
	}
	pm.phase = p
	pm.counts[p]++
	pm.mu.Unlock()

	if p == PhaseLoad {
		pm.loadMu.Lock()
	}
}

// admits reports whether a new lock on p may be granted right now, assuming
// pm.mu is held.
func (pm *phaseMutex) admits(p Phase) bool {
	if pm.switchPending && p != PhaseLoad {
		return false
	}
	switch p {
	case PhaseLoad:
		return pm.counts[PhaseMatch] == 0 && pm.counts[PhaseExecute] == 0
	default:
		return pm.counts[PhaseLoad] == 0
	}
}

// unlock releases one lock on phase p. When all three counters reach zero
// the phase resets to PhaseLoad, the engine's idle default.
func (pm *phaseMutex) unlock(p Phase) {
	if p == PhaseLoad {
		pm.loadMu.Unlock()
	}

	pm.mu.Lock()
	pm.counts[p]--
	if pm.counts[PhaseLoad]+pm.counts[PhaseMatch]+pm.counts[PhaseExecute] == 0 {
		pm.phase = PhaseLoad
		pm.switchPending = false
	}
	pm.cv.Broadcast()
	pm.mu.Unlock()
}

// relock unlocks `from` and then locks `to`. The two steps are separate, not
// one atomic switch: another caller may be admitted between them. Used by a
// match-phase
// thread that must briefly become an execute thread (to build a generated
// source the matcher needs) or an exclusive load thread (to read an
// additional buildfile discovered mid-match).
func (pm *phaseMutex) relock(from, to Phase) {
	if from == to {
		return
	}
	if to == PhaseLoad {
		// Draining: mark the intent so other match/execute holders park at
		// their next safe point instead of taking new nested locks, then
		// wait for them to drain before taking the exclusive load lock.
		pm.mu.Lock()
		pm.switchPending = true
		pm.mu.Unlock()
	}
	pm.unlock(from)
	pm.lock(to)
}

func (pm *phaseMutex) current() Phase {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.phase
}

func (pm *phaseMutex) generation() uint64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.loadGeneration
}

func (pm *phaseMutex) bumpGeneration() uint64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.loadGeneration++
	return pm.loadGeneration
}

// PhaseGuard is a scoped handle on a phase lock. Release is idempotent and
// safe to call from a defer, so a panicking recipe or mutator can never
// leave the Engine wedged in match or execute (Design Notes, RAII phase
// locks).
type PhaseGuard struct {
	engine   *Engine
	phase    Phase
	released bool
	mu       sync.Mutex
}

// LockPhase acquires a new top-level phase lock on the Engine.
func (e *Engine) LockPhase(p Phase) *PhaseGuard {
	e.phases.lock(p)
	return &PhaseGuard{engine: e, phase: p}
}

// Release unlocks the guarded phase exactly once.
func (g *PhaseGuard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return
	}
	g.released = true
	g.engine.phases.unlock(g.phase)
}

// Relock switches this guard from its current phase to `to` via relock: the
// old phase is released before the new one is acquired, not atomically.
func (g *PhaseGuard) Relock(to Phase) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		panic("forge: Relock called on a released PhaseGuard")
	}
	g.engine.phases.relock(g.phase, to)
	g.phase = to
}

// WithPhase relocks g to `to`, runs fn, then relocks back to g's phase on
// entry, holding g for the entire round trip. A guard is commonly shared by
// every goroutine a single top-level match session fans out across
// (MatchContext.Guard propagates to child contexts by reference); two such
// goroutines independently calling Relock around an overlapping window
// would each think they own the phase switch and could release the other's
// admission out from under it. WithPhase serializes the whole round trip
// instead, so only one relock is ever in flight per guard.
func (g *PhaseGuard) WithPhase(to Phase, fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		panic("forge: WithPhase called on a released PhaseGuard")
	}
	from := g.phase
	g.engine.phases.relock(from, to)
	g.phase = to
	err := fn()
	g.engine.phases.relock(to, from)
	g.phase = from
	return err
}

// Phase reports the phase this guard currently holds.
func (g *PhaseGuard) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}
