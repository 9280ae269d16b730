// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package cli implements the `b` command line, grounded on
// avular-robotics-avular-packages/internal/cli/root.go's cobra+viper
// PersistentPreRunE/setupLogging pattern.
package cli

import (
	"os"

	errbuilder "github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

const envPrefix = "FORGE"

// RootConfig holds the flags shared by every buildspec invocation, for
// the `b [options] buildspec...` command-line grammar.
type RootConfig struct {
	ConfigFile string
	LogLevel   string
	Jobs       int
	KeepGoing  bool
	Silent     bool
	Verbose    int
	DryRun     bool
}

func Execute() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(exitCodeForError(err))
	}
}

func newRootCommand() *cobra.Command {
	cfg := RootConfig{}
	cmd := &cobra.Command{
		Use:     "b [options] buildspec...",
		Short:   "Update or clean the targets named by buildspec",
		Version: version,
		Args:    cobra.MinimumNArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(cfg.ConfigFile); err != nil {
				return err
			}
			setupLogging(&cfg)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuildspecs(cmd, &cfg, args)
		},
	}

	cmd.PersistentFlags().StringVar(&cfg.ConfigFile, "config", "", "config.build path")
	cmd.PersistentFlags().IntVarP(&cfg.Jobs, "jobs", "j", 0, "maximum active tasks (0 = unbounded)")
	cmd.PersistentFlags().BoolVarP(&cfg.KeepGoing, "keep-going", "k", false, "continue past independent failures")
	cmd.PersistentFlags().BoolVarP(&cfg.Silent, "silent", "s", false, "suppress progress output")
	cmd.PersistentFlags().CountVarP(&cfg.Verbose, "verbose", "v", "increase diagnostic verbosity")
	cmd.PersistentFlags().BoolVar(&cfg.DryRun, "dry-run", false, "report what would run without running it")
	_ = viper.BindPFlag("jobs", cmd.PersistentFlags().Lookup("jobs"))

	cmd.AddCommand(newConfigureCommand(&cfg))
	cmd.AddCommand(newDisfigureCommand(&cfg))
	cmd.AddCommand(newCleanCommand(&cfg))
	cmd.AddCommand(newInfoCommand(&cfg))
	return cmd
}

func initConfig(configFile string) error {
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()
	if configFile == "" {
		return nil
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to read config file").
			WithCause(err)
	}
	return nil
}

// logger is the process-wide diagnostic sink every subcommand logs
// through, built once PersistentPreRunE has parsed -v/-s.
var logger zerolog.Logger

func setupLogging(cfg *RootConfig) {
	level := zerolog.WarnLevel
	switch {
	case cfg.Silent:
		level = zerolog.Disabled
	case cfg.Verbose >= 2:
		level = zerolog.DebugLevel
	case cfg.Verbose == 1:
		level = zerolog.InfoLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr}
	logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func exitCodeForError(err error) int {
	if err == nil {
		return 0
	}
	code := errbuilder.CodeOf(err)
	switch code {
	case errbuilder.CodeInvalidArgument:
		return 2
	default:
		return 1
	}
}
