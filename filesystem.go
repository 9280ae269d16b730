// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package forge

import (
	"time"

	"github.com/forgebuild/forge/pathtools"
)

// statMTime is the match engine's existence/staleness probe, kept as a
// package-level indirection so tests can substitute pathtools.MockFs for
// pathtools.OsFs (see engine_test.go).
var fs pathtools.FileSystem = pathtools.OsFs

func statMTime(path string) (time.Time, error) {
	return pathtools.MTime(fs, path)
}

// outOfDate reports whether target is missing or older than any of its
// prerequisites, the core staleness rule both the match and execute
// phases depend on (match uses it to pick default_recipe vs. a real
// rule's recipe; execute uses it to skip recipes whose target is already
// current).
func outOfDate(target string, prereqs []*Target) bool {
	tm, err := statMTime(target)
	if err != nil {
		return true
	}
	for _, p := range prereqs {
		if p.path == "" {
			continue
		}
		pm, err := statMTime(p.path)
		if err != nil {
			continue
		}
		if pm.After(tm) {
			return true
		}
	}
	return false
}
