// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package forge

import (
	"fmt"

	errbuilder "github.com/ZanzyTHEbar/errbuilder-go"
)

// ErrorKind is one of the abstract build-failure categories the engine
// reports. Each is bound to a concrete errbuilder.Code.
type ErrorKind int

const (
	KindConfigError ErrorKind = iota
	KindNoRule
	KindCircularDependency
	KindPrerequisiteFailed
	KindRecipeFailed
	KindFilesystemError
	KindSchedulerCancelled
)

// errbuilderCode maps each abstract kind onto one of errbuilder's codes
// (errbuilder.CodeInvalidArgument, CodeNotFound, CodeFailedPrecondition,
// CodeInternal, CodePermissionDenied, CodeAlreadyExists; SPEC_FULL.md §7
// tabulates the binding);
// prerequisite-failed and scheduler-cancelled have no closer analogue in
// that set than CodeFailedPrecondition, since both mean "could not
// proceed given what already happened" rather than a fresh fault of
// their own.
func (k ErrorKind) errbuilderCode() errbuilder.ErrCode {
	switch k {
	case KindConfigError:
		return errbuilder.CodeInvalidArgument
	case KindNoRule:
		return errbuilder.CodeNotFound
	case KindCircularDependency:
		return errbuilder.CodeFailedPrecondition
	case KindPrerequisiteFailed:
		return errbuilder.CodeFailedPrecondition
	case KindRecipeFailed:
		return errbuilder.CodeInternal
	case KindFilesystemError:
		return errbuilder.CodeInternal
	case KindSchedulerCancelled:
		return errbuilder.CodeFailedPrecondition
	default:
		return errbuilder.CodeInternal
	}
}

// Location is a buildfile source position (package parser reuses the
// stdlib text/scanner.Position type directly; Location adds the
// doing/target diagnostic phrasing).
type Location struct {
	File string
	Line int
	Col  int
}

func (l Location) String() string {
	if l.File == "" {
		return "<no location>"
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Col)
}

// BuildError is the diagnostic type returned by every core operation. It
// carries a location, the abstract kind, an action/target "while doing"
// phrase, and a chain of causal `info:` notes, matching build2's
// user-visible failure format while delegating the machine-readable code
// to errbuilder.
type BuildError struct {
	Kind     ErrorKind
	Loc      Location
	Doing    string // e.g. "updating exe{foo}"
	Cause    error
	Notes    []string
	wrapped  error
}

func newBuildError(kind ErrorKind, loc Location, doing string, cause error) *BuildError {
	be := &BuildError{Kind: kind, Loc: loc, Doing: doing, Cause: cause}
	b := errbuilder.New().
		WithCode(kind.errbuilderCode()).
		WithMsg(be.Error())
	if cause != nil {
		b = b.WithCause(cause)
	}
	be.wrapped = b
	return be
}

// Wrapped returns the errbuilder-go error carrying this failure's machine
// -readable code, for callers (like cmd/b) that map errors to process exit
// codes via errbuilder.CodeOf rather than matching on ErrorKind directly.
func (e *BuildError) Wrapped() error { return e.wrapped }

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("%s: error", e.Loc)
	if e.Doing != "" {
		msg = fmt.Sprintf("%s: while %s", e.Loc, e.Doing)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Cause)
	}
	for _, n := range e.Notes {
		msg += "\n  info: " + n
	}
	return msg
}

func (e *BuildError) Unwrap() error { return e.Cause }

// WithNote appends a causal `info:` note and returns the receiver for
// chaining, e.g. errNoRule(...).WithNote("prerequisite of exe{bar}").
func (e *BuildError) WithNote(note string) *BuildError {
	e.Notes = append(e.Notes, note)
	return e
}

func errNoRule(loc Location, t *Target, a Action) *BuildError {
	return newBuildError(KindNoRule, loc, fmt.Sprintf("searching for rule to %s", t),
		fmt.Errorf("no rule to %s %s", a, t))
}

func errCircular(loc Location, path []*Target) *BuildError {
	return newBuildError(KindCircularDependency, loc, "matching dependency graph",
		fmt.Errorf("circular dependency detected: %s", formatCycle(path)))
}

func formatCycle(path []*Target) string {
	s := ""
	for i, t := range path {
		if i > 0 {
			s += " -> "
		}
		s += t.String()
	}
	return s
}

func errPrerequisiteFailed(loc Location, t, prereq *Target) *BuildError {
	return newBuildError(KindPrerequisiteFailed, loc, fmt.Sprintf("updating %s", t),
		fmt.Errorf("prerequisite %s failed", prereq)).
		WithNote(fmt.Sprintf("while updating %s", t))
}

func errRecipeFailed(loc Location, t *Target, cause error) *BuildError {
	return newBuildError(KindRecipeFailed, loc, fmt.Sprintf("updating %s", t), cause)
}

func errFilesystem(loc Location, path string, cause error) *BuildError {
	return newBuildError(KindFilesystemError, loc, fmt.Sprintf("accessing %s", path), cause)
}

func errCancelled(loc Location) *BuildError {
	return newBuildError(KindSchedulerCancelled, loc, "", fmt.Errorf("scheduler was shut down"))
}

func errConfig(loc Location, msg string) *BuildError {
	return newBuildError(KindConfigError, loc, "", fmt.Errorf("%s", msg))
}

// assertInvariant aborts the process on violation of an internal
// consistency invariant (an `internal-assertion` kind, deliberately not
// representable as an ordinary error value). assert-lib's
// confirmed surface (NotEmpty) covers only the non-empty-string shape; for
// boolean invariants this wraps a plain panic carrying the same "while
// doing" phrasing the rest of the error taxonomy uses, keeping the
// diagnostic format consistent even though the check itself is stdlib.
func assertInvariant(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf("forge: internal assertion failed: "+format, args...))
	}
}
