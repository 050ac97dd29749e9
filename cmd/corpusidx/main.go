// corpusidx: corpus index builder and training checkpoint manager
// Copyright (C) 2026  Guillermo Perry
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"corpusidx/internal/config"
	"corpusidx/internal/execctx"
	"corpusidx/internal/logging"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, env *execctx.Env, args []string) error
}

var commands = []command{
	{"convert", "encode corpora into index arrays, resuming where the last run stopped", runConvert},
	{"inspect", "print dataset stats, optionally verifying the manifest", runInspect},
	{"export", "export a dataset split to Parquet", runExport},
	{"report", "render dataset stats and training runs", runReport},
	{"serve", "serve the read-only status API", runServe},
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: corpusidx [-config file] <command> [flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", c.name, c.usage)
	}
	fmt.Fprintln(os.Stderr)
	flag.PrintDefaults()
}

func main() {
	configFile := flag.String("config", "", "Path to configuration file (.json or .yaml)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == flag.Arg(0) {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	env, err := execctx.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to set up execution context: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, env, flag.Args()[1:]); err != nil {
		logger.Fatal("%s failed: %v", cmd.name, err)
	}
}
