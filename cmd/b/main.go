// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Command b is the buildspec-driven CLI front end for the forge engine,
// grounded on avular-robotics-avular-packages/internal/cli's cobra+viper
// root command shape.
package main

import "github.com/forgebuild/forge/cmd/b/internal/cli"

func main() {
	cli.Execute()
}
