// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package forge

import (
	"context"
	"fmt"
	"sync"

	assert "github.com/ZanzyTHEbar/assert-lib"
)

// Visibility controls which scopes may see a Variable.
type Visibility int

const (
	VisGlobal Visibility = iota
	VisProject
	VisScope
	VisTarget
)

// varNamePool interns variable names so that VariableID equality is a
// pointer/int comparison rather than a string comparison, mirroring
// blueprint's PackageContext-scoped Variable identity without the
// per-Go-package indirection (superseded by the module host, see DESIGN.md).
type varNamePool struct {
	mu    sync.Mutex
	ids   map[string]int
	names []string
}

func newVarNamePool() *varNamePool {
	return &varNamePool{ids: make(map[string]int)}
}

func (p *varNamePool) intern(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.ids[name]; ok {
		return id
	}
	id := len(p.names)
	p.ids[name] = id
	p.names = append(p.names, name)
	return id
}

func (p *varNamePool) name(id int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.names[id]
}

// Variable is the declaration of a named slot a Scope (or a target-type
// pattern, or a target) can hold a Value in.
type Variable struct {
	nameID       int
	pool         *varNamePool
	visibility   Visibility
	overridable  bool

	mu       sync.Mutex
	declared bool // a type has been fixed by the first assignment
	kind     Kind
}

func newVariable(pool *varNamePool, name string, vis Visibility, overridable bool) *Variable {
	assert.NotEmpty(context.Background(), name, "variable name must not be empty")
	return &Variable{nameID: pool.intern(name), pool: pool, visibility: vis, overridable: overridable}
}

func (v *Variable) Name() string { return v.pool.name(v.nameID) }

// fixType permanently fixes the variable's declared type on first real
// assignment; subsequent assignments may only widen an untyped RHS to this
// type, never replace it.
func (v *Variable) fixType(k Kind) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.declared {
		v.declared = true
		v.kind = k
	}
}

func (v *Variable) declaredKind() (Kind, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.kind, v.declared
}

// VariableMap holds the values assigned to Variables within one Scope,
// target-type pattern, or Target. Overridden ("override") values, e.g. from
// the command line, shadow project-assigned values and are tracked
// separately so append/prepend can detect an inconsistent mix.
type VariableMap struct {
	mu       sync.RWMutex
	values   map[*Variable]Value
	override map[*Variable]Value
	// appendMode records whether the first append/prepend into an override
	// chain was an append (true) or prepend (false); mixing is an error.
	appendMode map[*Variable]bool
}

func newVariableMap() *VariableMap {
	return &VariableMap{
		values:     make(map[*Variable]Value),
		override:   make(map[*Variable]Value),
		appendMode: make(map[*Variable]bool),
	}
}

// Lookup returns the effective value of v: the override if present,
// otherwise the plain assignment.
func (m *VariableMap) Lookup(v *Variable) (Value, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if val, ok := m.override[v]; ok {
		return val, true
	}
	val, ok := m.values[v]
	return val, ok
}

// Assign sets v = rhs, converting an untyped rhs to v's declared type (or
// fixing that type, if this is the first assignment).
func (m *VariableMap) Assign(v *Variable, rhs Value) error {
	converted, err := m.typedValue(v, rhs)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[v] = converted
	delete(m.appendMode, v)
	return nil
}

// AssignOverride is the command-line ("override") form of Assign: it writes
// to the shadow map that Lookup prefers.
func (m *VariableMap) AssignOverride(v *Variable, rhs Value) error {
	converted, err := m.typedValue(v, rhs)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.override[v] = converted
	delete(m.appendMode, v)
	return nil
}

// Append implements `var += rhs`: for vector kinds this extends the
// existing value; for an override value it is an error to later prepend to
// the same variable (an inconsistent append/prepend mix).
func (m *VariableMap) Append(v *Variable, rhs Value) error {
	return m.extend(v, rhs, true)
}

// Prepend implements `var =+ rhs`.
func (m *VariableMap) Prepend(v *Variable, rhs Value) error {
	return m.extend(v, rhs, false)
}

func (m *VariableMap) extend(v *Variable, rhs Value, appending bool) error {
	converted, err := m.typedValue(v, rhs)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if mode, ok := m.appendMode[v]; ok && mode != appending {
		return fmt.Errorf("variable %s: cannot mix append and prepend on an overridden value", v.Name())
	}
	m.appendMode[v] = appending

	cur, ok := m.values[v]
	if !ok {
		m.values[v] = converted
		return nil
	}
	if !cur.Kind().IsVector() {
		return fmt.Errorf("variable %s: cannot append/prepend to non-vector kind %s", v.Name(), cur.Kind())
	}
	var elems []Value
	if appending {
		elems = append(append([]Value{}, cur.AsVector()...), converted.AsVector()...)
	} else {
		elems = append(append([]Value{}, converted.AsVector()...), cur.AsVector()...)
	}
	m.values[v] = VectorVal(cur.Kind().Elem(), elems...)
	return nil
}

// typedValue fixes v's declared type on first use and converts rhs to it.
func (m *VariableMap) typedValue(v *Variable, rhs Value) (Value, error) {
	if rhs.IsUntyped() {
		if k, declared := v.declaredKind(); declared {
			return rhs.ConvertTo(k)
		}
		// No declared type yet: the variable adopts the untyped sequence's
		// shape as-is (a string, by default lexical rule) and fixes it.
		converted, err := rhs.ConvertTo(KindString)
		if err != nil {
			return Value{}, err
		}
		v.fixType(KindString)
		return converted, nil
	}

	if k, declared := v.declaredKind(); declared {
		if k != rhs.Kind() {
			return Value{}, fmt.Errorf("variable %s: already declared as %s, cannot assign %s", v.Name(), k, rhs.Kind())
		}
		return rhs, nil
	}
	v.fixType(rhs.Kind())
	return rhs, nil
}
