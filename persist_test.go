// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package forge

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLineWriterWrapsAtWidth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}

	lw := &lineWriter{w: bufio.NewWriter(f), width: 10}
	long := strings.Repeat("x", 20)
	if err := lw.WriteString(long); err != nil {
		t.Fatal(err)
	}
	if err := lw.WriteString(long); err != nil {
		t.Fatal(err)
	}
	if err := lw.EndLine(); err != nil {
		t.Fatal(err)
	}
	lw.w.Flush()
	f.Close()

	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), " \\\n    ") {
		t.Fatalf("output has no continuation wrap: %q", out)
	}
}

func TestWriteConfigSortsAndRoundTripsValues(t *testing.T) {
	s := newRootScope(t.TempDir(), t.TempDir(), "proj")
	pool := newVarNamePool()

	vStd := newVariable(pool, "cxx.std", VisProject, false)
	vWarn := newVariable(pool, "warn", VisProject, false)
	if err := s.vars.Assign(vStd, StringVal("c++20")); err != nil {
		t.Fatal(err)
	}
	if err := s.vars.Assign(vWarn, BoolVal(true)); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(s.OutPath(), "config.build")
	if err := writeConfig(s, path); err != nil {
		t.Fatalf("writeConfig: %v", err)
	}

	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(out)
	idxCxx := strings.Index(text, "cxx.std = c++20")
	idxWarn := strings.Index(text, "warn = true")
	if idxCxx < 0 || idxWarn < 0 {
		t.Fatalf("config.build missing expected assignments: %q", text)
	}
	if idxCxx > idxWarn {
		t.Fatalf("config.build is not sorted by name: %q", text)
	}
}

func TestWriteConfigOverrideShadowsPlainValue(t *testing.T) {
	s := newRootScope(t.TempDir(), t.TempDir(), "proj")
	pool := newVarNamePool()
	v := newVariable(pool, "jobs", VisProject, true)
	if err := s.vars.Assign(v, UIntVal(4)); err != nil {
		t.Fatal(err)
	}
	if err := s.vars.AssignOverride(v, UIntVal(8)); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(s.OutPath(), "config.build")
	if err := writeConfig(s, path); err != nil {
		t.Fatalf("writeConfig: %v", err)
	}
	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "jobs = 8") {
		t.Fatalf("expected the override value to win, got: %q", out)
	}
}
