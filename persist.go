// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package forge

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// configHeaderComment is the leading line every persisted configuration
// file carries, matching build2's own config.build/src-root.build header
// so a hand-edited project still reads as forge-managed.
const configHeaderComment = "# Created automatically by the config module.\n"

// lineWriter wraps long output lines at a fixed width using a trailing
// backslash continuation, the same line-wrapping discipline blueprint's
// ninja_writer.go used for generated Ninja files (kept here since
// config.build, forge's persisted-configuration file, wants the same
// "don't emit one giant unreadable line" property; see DESIGN.md).
type lineWriter struct {
	w     *bufio.Writer
	width int
	col   int
}

const configLineWidth = 78

func newLineWriter(w *bufio.Writer) *lineWriter {
	return &lineWriter{w: w, width: configLineWidth}
}

func (lw *lineWriter) WriteString(s string) error {
	if lw.col+len(s) > lw.width && lw.col > 0 {
		if _, err := lw.w.WriteString(" \\\n    "); err != nil {
			return err
		}
		lw.col = 4
	}
	if _, err := lw.w.WriteString(s); err != nil {
		return err
	}
	lw.col += len(s)
	return nil
}

func (lw *lineWriter) EndLine() error {
	lw.col = 0
	return lw.w.WriteByte('\n')
}

// writeConfig persists every variable s's project has assigned (own scope
// only, not inherited) to path in a simple `name = value` format one
// assignment per logical line, a load-phase-readable, human-editable
// config.build file (adapted from
// original_source/build2/build/config/operation.cxx's config.* reporting,
// using blueprint's line-wrap writer for the output discipline).
func writeConfig(s *Scope, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errFilesystem(Location{}, path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return errFilesystem(Location{}, path, err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := bw.WriteString(configHeaderComment); err != nil {
		return errFilesystem(Location{}, path, err)
	}
	lw := newLineWriter(bw)

	byName := make(map[string]Value)
	s.vars.mu.RLock()
	for v, val := range s.vars.values {
		byName[v.Name()] = val
	}
	for v, val := range s.vars.override {
		byName[v.Name()] = val
	}
	s.vars.mu.RUnlock()

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := lw.WriteString(fmt.Sprintf("%s = %s", name, byName[name].String())); err != nil {
			return err
		}
		if err := lw.EndLine(); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// writeSrcRoot persists the out-tree's pointer back to its source tree,
// build/bootstrap/src-root.build, the file a configured project's
// root.build amalgamation checks for to tell whether it has been
// configured at all (adapted from
// original_source/build2/build/config/operation.cxx's bootstrap file
// pair; config.build carries the variable assignments, src-root.build
// carries only the out-to-src mapping so either can be regenerated
// independently of the other).
func writeSrcRoot(s *Scope, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errFilesystem(Location{}, path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return errFilesystem(Location{}, path, err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := bw.WriteString(configHeaderComment); err != nil {
		return errFilesystem(Location{}, path, err)
	}
	if _, err := bw.WriteString(fmt.Sprintf("src_root = %s\n", s.SrcPath())); err != nil {
		return errFilesystem(Location{}, path, err)
	}
	return bw.Flush()
}
