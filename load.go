// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package forge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgebuild/forge/parser"
	"github.com/forgebuild/forge/pathtools"
)

// LoadFile parses path and applies its declarations to s, materializing
// targets and variable bindings into live engine state. It takes
// PhaseLoad itself for the duration of the parse and every declaration it
// applies, enforcing the load phase's advertised exclusivity against any
// concurrent match or execute; callers must not already hold a phase lock
// on this goroutine (a nested top-level LoadFile call would deadlock on
// phaseMutex's non-reentrant load mutex — an `include`d file is instead
// loaded through loadFileLocked, which assumes the lock is already held).
//
// Only the declaration forms the core interprets directly are handled
// here: target declarations, scope/pattern variable assignments, and the
// plain directives (include/import/export/using/source). DefineDecl,
// IfDecl and AssertDecl carry unevaluated expression text and are left
// alone; buildfile expression evaluation is out of scope.
func (e *Engine) LoadFile(s *Scope, path string) error {
	g := e.LockPhase(PhaseLoad)
	defer g.Release()
	return e.loadFileLocked(s, path)
}

// loadFileLocked is LoadFile's body, callable re-entrantly by a directive
// handler (DirInclude) that is itself already running under the caller's
// PhaseLoad lock.
func (e *Engine) loadFileLocked(s *Scope, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errFilesystem(Location{File: path}, path, err)
	}
	defer f.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if s.markIncluded(abs) {
		return nil
	}

	file, errs := parser.Parse(path, f)
	if len(errs) > 0 {
		return errConfig(Location{File: path}, fmt.Sprintf("%d parse error(s), first: %v", len(errs), errs[0]))
	}
	return e.loadDecls(s, file.Decls, filepath.Dir(path))
}

func (e *Engine) loadDecls(s *Scope, decls []parser.Decl, dir string) error {
	for _, d := range decls {
		if err := e.loadDecl(s, d, dir); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) loadDecl(s *Scope, d parser.Decl, dir string) error {
	switch decl := d.(type) {
	case *parser.TargetDecl:
		return e.loadTargetDecl(s, decl)
	case *parser.ScopeAssignDecl:
		return e.loadScopeAssignDecl(s, decl)
	case *parser.PatternAssignDecl:
		return e.loadPatternAssignDecl(s, decl)
	case *parser.DirectiveDecl:
		return e.loadDirectiveDecl(s, decl, dir)
	case *parser.PrintDecl:
		e.log.Info().Str("file", dir).Msg(decl.Text)
		return nil
	case *parser.DefineDecl, *parser.IfDecl, *parser.AssertDecl:
		// Expression evaluation is out of scope; these blocks' bodies are
		// never expanded or checked.
		return nil
	default:
		return nil
	}
}

func namePartToName(np parser.NamePart) Name {
	return Name{Dir: np.Dir, Type: np.Type, Simple: np.Simple}
}

// expandPrerequisiteNames turns a TargetDecl's raw prerequisite list into
// concrete Names, glob-expanding any untyped name whose simple or dir
// component carries a pattern character against s's source tree. The
// scanner already tokenizes a leading '*' as part of a name (parser.go),
// but nothing consumed that beyond storing the literal pattern text until
// this resolved it into real source files.
func (e *Engine) expandPrerequisiteNames(s *Scope, parts []parser.NamePart) ([]Name, error) {
	names := make([]Name, 0, len(parts))
	for _, p := range parts {
		n := namePartToName(p)
		if n.Type != "" || !isGlobName(n) {
			names = append(names, n)
			continue
		}
		pattern := filepath.Join(n.Dir, n.Simple)
		matches, _, err := pathtools.GlobPatternList([]string{pattern}, s.SrcPath())
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			rel, err := filepath.Rel(s.SrcPath(), m)
			if err != nil {
				rel = m
			}
			names = append(names, Name{Simple: filepath.ToSlash(rel)})
		}
	}
	return names, nil
}

func isGlobName(n Name) bool {
	return strings.ContainsAny(n.Dir+n.Simple, "*?[")
}

func (e *Engine) loadTargetDecl(s *Scope, decl *parser.TargetDecl) error {
	prereqs, err := e.expandPrerequisiteNames(s, decl.Prerequisites)
	if err != nil {
		return errConfig(Location{}, err.Error())
	}

	for _, tp := range decl.Targets {
		name := namePartToName(tp)
		path := ResolvePrerequisitePath(s, name)
		t := e.insert(name, path)
		t.SetDeclaredPrerequisites(append(append([]Name{}, t.DeclaredPrerequisites()...), prereqs...))
	}
	return nil
}

// assignVisibility reports the Visibility a bare scope assignment at s
// should carry: a project's root scope declares project-visible variables,
// while every nested scope declares scope-local ones.
func assignVisibility(s *Scope) Visibility {
	if s.Parent() == nil {
		return VisProject
	}
	return VisScope
}

func namesToValue(names []parser.NamePart) Value {
	ns := make([]Name, len(names))
	for i, n := range names {
		ns[i] = namePartToName(n)
	}
	return Untyped(ns...)
}

func applyAssign(m *VariableMap, v *Variable, op parser.AssignOp, rhs Value) error {
	switch op {
	case parser.AssignAppend:
		return m.Append(v, rhs)
	case parser.AssignPrepend:
		return m.Prepend(v, rhs)
	default:
		return m.Assign(v, rhs)
	}
}

func (e *Engine) loadScopeAssignDecl(s *Scope, decl *parser.ScopeAssignDecl) error {
	target := s
	if decl.Dir != "" {
		for _, seg := range strings.Split(filepath.ToSlash(decl.Dir), "/") {
			if seg == "" {
				continue
			}
			target = target.child(seg)
		}
	}
	v := e.Variable(decl.Var, assignVisibility(target), false)
	rhs := namesToValue(decl.Value)
	if err := applyAssign(target.vars, v, decl.Op, rhs); err != nil {
		return errConfig(Location{}, err.Error())
	}
	return nil
}

func (e *Engine) loadPatternAssignDecl(s *Scope, decl *parser.PatternAssignDecl) error {
	v := e.Variable(decl.Var, VisScope, false)
	rhs := namesToValue(decl.Value)
	pm := s.patternVars(decl.TargetType)
	if err := applyAssign(pm, v, decl.Op, rhs); err != nil {
		return errConfig(Location{}, err.Error())
	}
	return nil
}

func (e *Engine) loadDirectiveDecl(s *Scope, decl *parser.DirectiveDecl, dir string) error {
	switch decl.Kind {
	case parser.DirInclude:
		return e.loadFileLocked(s, filepath.Join(dir, decl.Arg))
	case parser.DirImport, parser.DirExport, parser.DirUsing, parser.DirSource:
		// Dynamic module import/export/source resolution is out of scope;
		// recorded at debug level so a buildfile that relies on one doesn't
		// fail silently without a trace.
		e.log.Debug().Str("directive", decl.Kind.String()).Str("arg", decl.Arg).Msg("directive not interpreted")
		return nil
	default:
		return nil
	}
}
