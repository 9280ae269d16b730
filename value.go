// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package forge

import (
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Kind identifies the scalar or vector shape of a Value, one of the
// tagged-union alternatives a Variable's value can hold.
type Kind int

const (
	KindUntyped Kind = iota // an ordered name-sequence; no declared type yet
	KindBool
	KindUInt
	KindString
	KindPath
	KindDirPath
	KindAbsDirPath
	KindName
	// vectors of each of the above, in the same order
	KindBoolList
	KindUIntList
	KindStringList
	KindPathList
	KindDirPathList
	KindAbsDirPathList
	KindNameList
)

func (k Kind) String() string {
	switch k {
	case KindUntyped:
		return "untyped"
	case KindBool:
		return "bool"
	case KindUInt:
		return "uint64"
	case KindString:
		return "string"
	case KindPath:
		return "path"
	case KindDirPath:
		return "dir_path"
	case KindAbsDirPath:
		return "abs_dir_path"
	case KindName:
		return "name"
	case KindBoolList:
		return "bool[]"
	case KindUIntList:
		return "uint64[]"
	case KindStringList:
		return "string[]"
	case KindPathList:
		return "path[]"
	case KindDirPathList:
		return "dir_path[]"
	case KindAbsDirPathList:
		return "abs_dir_path[]"
	case KindNameList:
		return "name[]"
	default:
		return "kind(?)"
	}
}

// IsVector reports whether k is one of the vector kinds.
func (k Kind) IsVector() bool { return k >= KindBoolList }

// Elem returns the scalar kind underlying a vector kind (identity for
// scalar kinds).
func (k Kind) Elem() Kind {
	if !k.IsVector() {
		return k
	}
	return k - (KindBoolList - KindBool)
}

// Name is a build2-style name: an optional project qualifier, a
// directory component, a type component, a simple-value component, plus a
// pair indicator (a name followed by "@" naming a synthetic pair, as in
// build2's group@member references).
type Name struct {
	Project string
	Dir     string
	Type    string
	Simple  string
	Pair    bool
}

func (n Name) String() string {
	var b strings.Builder
	if n.Project != "" {
		b.WriteString(n.Project)
		b.WriteByte('%')
	}
	if n.Dir != "" {
		b.WriteString(n.Dir)
	}
	if n.Type != "" {
		b.WriteString(n.Type)
		b.WriteByte('{')
		b.WriteString(n.Simple)
		b.WriteByte('}')
	} else {
		b.WriteString(n.Simple)
	}
	if n.Pair {
		b.WriteByte('@')
	}
	return b.String()
}

// Value is a tagged, immutable union over the scalar/vector value space a
// Variable can hold, plus the untyped ordered name-sequence used before a
// variable's declared type is known. It wraps zclconf/go-cty for the
// scalar and list representations it already models well (bool, number,
// string, list-of) and adds the path/dir-path/abs-dir-path/name subtyping
// and the name-sequence go-cty has no notion of.
type Value struct {
	kind   Kind
	scalar cty.Value   // valid for scalar kinds other than KindName
	names  []Name      // valid for KindName (len 1), KindNameList, and KindUntyped
	vector []Value     // valid for other vector kinds
}

// Untyped constructs the ordered name-sequence produced by the parser for
// any right-hand side before it has been assigned into a typed variable.
func Untyped(names ...Name) Value { return Value{kind: KindUntyped, names: names} }

func BoolVal(b bool) Value     { return Value{kind: KindBool, scalar: cty.BoolVal(b)} }
func UIntVal(u uint64) Value   { return Value{kind: KindUInt, scalar: cty.NumberUIntVal(u)} }
func StringVal(s string) Value { return Value{kind: KindString, scalar: cty.StringVal(s)} }
func PathVal(p string) Value   { return Value{kind: KindPath, scalar: cty.StringVal(p)} }
func DirPathVal(p string) Value {
	return Value{kind: KindDirPath, scalar: cty.StringVal(strings.TrimRight(p, "/") + "/")}
}
func AbsDirPathVal(p string) Value {
	return Value{kind: KindAbsDirPath, scalar: cty.StringVal(strings.TrimRight(p, "/") + "/")}
}
func NameVal(n Name) Value { return Value{kind: KindName, names: []Name{n}} }

// VectorVal builds a vector Value of the given element kind.
func VectorVal(elem Kind, elems ...Value) Value {
	if elem == KindName {
		v := Value{kind: KindNameList}
		for _, e := range elems {
			v.names = append(v.names, e.names...)
		}
		return v
	}
	return Value{kind: elem + (KindBoolList - KindBool), vector: elems}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsUntyped() bool { return v.kind == KindUntyped }

func (v Value) AsBool() bool           { return v.scalar.True() }
func (v Value) AsUInt() uint64 {
	bf := v.scalar.AsBigFloat()
	u, _ := bf.Uint64()
	return u
}
func (v Value) AsString() string { return v.scalar.AsString() }
func (v Value) AsName() Name {
	if len(v.names) == 0 {
		return Name{}
	}
	return v.names[0]
}
func (v Value) AsVector() []Value {
	if v.kind == KindNameList {
		out := make([]Value, len(v.names))
		for i, n := range v.names {
			out[i] = NameVal(n)
		}
		return out
	}
	return v.vector
}

// flatten renders an untyped name-sequence to the string a lexical
// conversion works from, joining name components without separators as
// build2's untyped value printer does.
func (v Value) flatten() string {
	var b strings.Builder
	for _, n := range v.names {
		b.WriteString(n.String())
	}
	return b.String()
}

func (v Value) String() string {
	switch v.kind {
	case KindUntyped:
		return v.flatten()
	case KindName:
		return v.AsName().String()
	case KindNameList:
		parts := make([]string, len(v.names))
		for i, n := range v.names {
			parts[i] = n.String()
		}
		return strings.Join(parts, " ")
	default:
		if v.kind.IsVector() {
			parts := make([]string, len(v.vector))
			for i, e := range v.vector {
				parts[i] = e.String()
			}
			return strings.Join(parts, " ")
		}
		return v.scalarString()
	}
}

// scalarString renders a scalar cty.Value for display without depending on
// cty's own (unstable-for-this-purpose) Value.GoString/AsString pairing.
func (v Value) scalarString() string {
	switch v.kind {
	case KindBool:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case KindUInt:
		return v.scalar.AsBigFloat().Text('f', -1)
	default:
		return v.scalar.AsString()
	}
}

// ConvertTo performs the "lexical conversion" required when an untyped
// right-hand side is assigned to a typed variable: v (which must be
// KindUntyped, or already `to`) is converted to kind `to`.
func (v Value) ConvertTo(to Kind) (Value, error) {
	if v.kind == to {
		return v, nil
	}
	if v.kind != KindUntyped {
		return Value{}, fmt.Errorf("cannot convert %s to %s", v.kind, to)
	}
	if to == KindName {
		if len(v.names) != 1 {
			return Value{}, fmt.Errorf("cannot convert name-sequence of length %d to a single name", len(v.names))
		}
		return NameVal(v.names[0]), nil
	}
	if to == KindNameList {
		return Value{kind: KindNameList, names: v.names}, nil
	}

	s := v.flatten()
	switch to {
	case KindString:
		return StringVal(s), nil
	case KindPath:
		return PathVal(s), nil
	case KindDirPath:
		return DirPathVal(s), nil
	case KindAbsDirPath:
		return AbsDirPathVal(s), nil
	case KindBool:
		cv, err := convert.Convert(cty.StringVal(s), cty.Bool)
		if err != nil {
			return Value{}, fmt.Errorf("cannot convert %q to bool: %w", s, err)
		}
		return Value{kind: KindBool, scalar: cv}, nil
	case KindUInt:
		cv, err := convert.Convert(cty.StringVal(s), cty.Number)
		if err != nil {
			return Value{}, fmt.Errorf("cannot convert %q to uint64: %w", s, err)
		}
		bf := cv.AsBigFloat()
		if bf.Sign() < 0 {
			return Value{}, fmt.Errorf("cannot convert %q to uint64: negative", s)
		}
		return Value{kind: KindUInt, scalar: cv}, nil
	default:
		return Value{}, fmt.Errorf("cannot lexically convert untyped value to %s", to)
	}
}

// Equal reports deep equality, used by the config.build round-trip
// idempotence check and by tests.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindUntyped, KindName, KindNameList:
		if len(v.names) != len(o.names) {
			return false
		}
		for i := range v.names {
			if v.names[i] != o.names[i] {
				return false
			}
		}
		return true
	default:
		if v.kind.IsVector() {
			if len(v.vector) != len(o.vector) {
				return false
			}
			for i := range v.vector {
				if !v.vector[i].Equal(o.vector[i]) {
					return false
				}
			}
			return true
		}
		return v.scalar.RawEquals(o.scalar)
	}
}
