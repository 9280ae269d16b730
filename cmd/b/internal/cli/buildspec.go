// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgebuild/forge"
	"github.com/forgebuild/forge/modules"
	"github.com/spf13/cobra"
)

// parseBuildspec parses one `dir/target-type{simple}` or bare `target-type{simple}`
// argument the CLI resolves against the current directory's project, the
// buildspec grammar reduced to what the AST-level core needs.
func parseBuildspec(arg string) (forge.Name, error) {
	dir := ""
	rest := arg
	if i := strings.LastIndexByte(arg, '/'); i >= 0 {
		dir, rest = arg[:i+1], arg[i+1:]
	}
	if !strings.Contains(rest, "{") {
		return forge.Name{Dir: dir, Simple: rest}, nil
	}
	open := strings.IndexByte(rest, '{')
	shut := strings.IndexByte(rest, '}')
	if shut < open {
		return forge.Name{}, fmt.Errorf("malformed buildspec %q", arg)
	}
	return forge.Name{Dir: dir, Type: rest[:open], Simple: rest[open+1 : shut]}, nil
}

func newEngineForCWD(cfg *RootConfig) (*forge.Engine, *forge.Scope, error) {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	e := forge.NewEngine(forge.EngineConfig{
		OutRoot:   wd,
		SrcRoot:   wd,
		Project:   "",
		MaxActive: cfg.Jobs,
		KeepGoing: cfg.KeepGoing,
		Logger:    &logger,
	})
	s := e.RootScope()
	modules.RegisterAlias(e.Modules())
	if err := e.Modules().Load(e, s, "alias", false, nil); err != nil {
		return nil, nil, err
	}

	for _, candidate := range []string{"build/root.build", "buildfile"} {
		path := filepath.Join(wd, candidate)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := e.LoadFile(s, path); err != nil {
			return nil, nil, err
		}
		break
	}

	return e, s, nil
}

func runAction(cfg *RootConfig, action forge.Action, args []string) error {
	e, s, err := newEngineForCWD(cfg)
	if err != nil {
		return err
	}
	ctx := context.Background()

	targets := make([]*forge.Target, 0, len(args))
	for _, arg := range args {
		name, err := parseBuildspec(arg)
		if err != nil {
			return err
		}
		targets = append(targets, e.Insert(name, ""))
	}

	if cfg.DryRun {
		for _, t := range targets {
			logger.Info().Str("target", t.String()).Str("action", action.String()).Msg("would run")
		}
		return nil
	}

	return e.Run(ctx, action, s, targets)
}

// metaOpKeywords are the meta-operation names recognized as batch
// separators in the bare `b` command's argument list, mirroring build2's
// own CLI grammar where a bare invocation like `b configure update clean
// ./` runs three meta-op-spec entries in one process rather than requiring
// a subcommand per entry.
var metaOpKeywords = map[string]forge.Action{
	"configure": {MetaOperation: "configure"},
	"disfigure": {MetaOperation: "disfigure"},
	"update":    {MetaOperation: "perform", Operation: "update"},
	"clean":     {MetaOperation: "perform", Operation: "clean"},
	"info":      {MetaOperation: "info"},
}

// parseBatch splits a build2-style mixed meta-op/target argument list into
// one BatchEntry per recognized meta-operation keyword, attributing every
// buildspec up to the next keyword (or the end of args) to the entry it
// follows. An argument list with no leading keyword implies the default
// perform update entry, the common `b target...` shorthand.
func parseBatch(args []string) ([]forge.BatchEntry, error) {
	var batch []forge.BatchEntry
	cur := forge.BatchEntry{Action: forge.Action{MetaOperation: "perform", Operation: "update"}}
	started := false // true once cur has a keyword or at least one target
	for _, arg := range args {
		if a, ok := metaOpKeywords[arg]; ok {
			if started {
				batch = append(batch, cur)
			}
			cur = forge.BatchEntry{Action: a}
			started = true
			continue
		}
		name, err := parseBuildspec(arg)
		if err != nil {
			return nil, err
		}
		cur.Targets = append(cur.Targets, name)
		started = true
	}
	if started {
		batch = append(batch, cur)
	}
	return batch, nil
}

func runBuildspecs(cmd *cobra.Command, cfg *RootConfig, args []string) error {
	e, s, err := newEngineForCWD(cfg)
	if err != nil {
		return err
	}
	batch, err := parseBatch(args)
	if err != nil {
		return err
	}

	if cfg.DryRun {
		for _, entry := range batch {
			for _, n := range entry.Targets {
				logger.Info().Str("target", n.String()).Str("action", entry.Action.String()).Msg("would run")
			}
		}
		return nil
	}

	return e.RunBatch(context.Background(), s, batch)
}

func newConfigureCommand(cfg *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Configure the project, persisting config.build",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cfg, forge.Action{MetaOperation: "configure"}, args)
		},
	}
}

func newDisfigureCommand(cfg *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "disfigure",
		Short: "Remove a project's persisted configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cfg, forge.Action{MetaOperation: "disfigure"}, args)
		},
	}
}

func newCleanCommand(cfg *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "clean [buildspec...]",
		Short: "Remove the outputs of the named targets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cfg, forge.Action{MetaOperation: "perform", Operation: "clean"}, args)
		},
	}
}

func newInfoCommand(cfg *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print information about the loaded project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cfg, forge.Action{MetaOperation: "info"}, args)
		},
	}
}
