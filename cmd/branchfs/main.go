// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// branchfs mounts an ordered set of backing directories ("branches")
// as one merged FUSE filesystem. Branch selection is policy-driven
// per operation; runtime configuration and diagnostics are exposed
// through extended attributes on a reserved control file.
//
// Branches come either from a config file (--config or
// BRANCHFS_CONFIG) or from repeated --branch flags; the two sources
// are mutually exclusive.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/branchfs/lib/branch"
	branchcfg "github.com/bureau-foundation/branchfs/lib/config"
	"github.com/bureau-foundation/branchfs/lib/engine"
	"github.com/bureau-foundation/branchfs/lib/fusefs"
	"github.com/bureau-foundation/branchfs/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var branches []string
	var controlFile string
	var minFreeSpace uint64
	var allowOther bool
	var debug bool
	var logLevel string

	flagSet := pflag.NewFlagSet("branchfs", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to branchfs config file (YAML or JSONC)")
	flagSet.StringArrayVar(&branches, "branch", nil, "branch directory, path[=rw|ro|nc] (repeatable; alternative to --config)")
	flagSet.StringVar(&controlFile, "control-file", "/.branchfs", "reserved control path within the mount (with --branch)")
	flagSet.Uint64Var(&minFreeSpace, "min-free-space", 4<<30, "minimum branch free space for creates, in bytes (with --branch)")
	flagSet.BoolVar(&allowOther, "allow-other", false, "allow other users to access the mount (requires user_allow_other)")
	flagSet.BoolVar(&debug, "debug", false, "log every FUSE request")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match other binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("branchfs")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	args := flagSet.Args()
	if len(args) != 1 {
		return fmt.Errorf("exactly one mountpoint argument is required")
	}
	mountpoint := args[0]

	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}

	engineConfig, err := buildConfig(configPath, branches, controlFile, minFreeSpace)
	if err != nil {
		return err
	}

	eng, err := engine.New(engineConfig, logger)
	if err != nil {
		return err
	}

	server, err := fusefs.Mount(fusefs.Options{
		Mountpoint: mountpoint,
		Engine:     eng,
		AllowOther: allowOther,
		Debug:      debug,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		logger.Info("unmounting on signal", "signal", sig.String())
		if err := server.Unmount(); err != nil {
			logger.Error("unmount failed; retry with fusermount -u", "error", err)
		}
	}()

	server.Wait()
	return nil
}

// buildConfig assembles the engine snapshot from either a config file
// or --branch flags.
func buildConfig(configPath string, branchFlags []string, controlFile string, minFreeSpace uint64) (*engine.Config, error) {
	if configPath != "" && len(branchFlags) > 0 {
		return nil, fmt.Errorf("--config and --branch are mutually exclusive")
	}

	if configPath != "" || len(branchFlags) == 0 {
		var file *branchcfg.File
		var err error
		if configPath != "" {
			file, err = branchcfg.LoadFile(configPath)
		} else {
			file, err = branchcfg.Load()
		}
		if err != nil {
			return nil, err
		}
		return file.EngineConfig()
	}

	file := branchcfg.Default()
	file.ControlFile = controlFile
	file.MinFreeSpace = minFreeSpace
	for _, spec := range branchFlags {
		b, err := branch.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("--branch %s: %w", spec, err)
		}
		file.Branches = append(file.Branches, branchcfg.BranchConfig{
			Path:         b.Path,
			Mode:         b.Mode.String(),
			MinFreeSpace: b.MinFreeSpace,
		})
	}
	return file.EngineConfig()
}

func newLogger(level string) (*slog.Logger, error) {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})), nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Println("usage: branchfs [flags] <mountpoint>")
	fmt.Println()
	fmt.Println("Mounts an ordered set of branch directories as one merged tree.")
	fmt.Println()
	fmt.Println("flags:")
	fmt.Println(flagSet.FlagUsages())
}
