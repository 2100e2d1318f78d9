// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/olivier-motium/mimesis-sub002/internal/app"
)

var (
	version = "0.9"
)

func main() {
	// "mimesis serve [flags]" and bare "mimesis [flags]" both run the
	// daemon; any other subcommand is an error.
	if rest, err := splitCommand(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(app.ExitConfigError)
	} else {
		os.Args = append(os.Args[:1], rest...)
	}

	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: ~/.mimesis/config.hjson)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.Parse()

	if showVersion {
		fmt.Printf("mimesis %s\n", version)
		os.Exit(0)
	}

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Version:    version,
	})
	if err != nil {
		log.Printf("Error: %v", err)
		os.Exit(app.ExitConfigError)
	}

	if err := application.Run(context.Background()); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(app.ExitCode(err))
	}
}

// splitCommand strips an optional leading "serve" subcommand, leaving the
// flag arguments. A leading non-flag argument other than "serve" is an
// unknown command.
func splitCommand(args []string) ([]string, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return args, nil
	}
	if args[0] == "serve" {
		return args[1:], nil
	}
	return nil, fmt.Errorf("unknown command %q (did you mean \"serve\"?)", args[0])
}
