// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/kai/internal/config"
)

// Run executes one kai invocation and returns the process exit code.
func Run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	cmd, args, err := Parse(argv)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n\n", err)
		PrintUsage(stderr)
		return GetExitCode(err)
	}
	if args.NoColor {
		DisableColors()
	}
	applyColorProfile()

	switch cmd {
	case CmdHelp:
		PrintUsage(stdout)
		return ExitSuccess
	case CmdVersion:
		PrintVersion(stdout)
		return ExitSuccess
	}

	cfg, err := loadConfig(args.ConfigPath)
	if err != nil {
		fmt.Fprintf(stderr, "%s %v\n", ErrorStyle.Render("Error:"), err)
		return GetExitCode(err)
	}

	if cmd == CmdConfig {
		return report(stderr, runConfig(stdout, cfg, args))
	}

	config.SetGlobal(cfg)

	level := zap.NewAtomicLevel()
	logger, err := NewLogger(cfg, args.Verbose, &level)
	if err != nil {
		fmt.Fprintf(stderr, "%s %v\n", ErrorStyle.Render("Error:"), err)
		return ExitConfigError
	}

	app, err := Open(ctx, cfg, logger, AppOptions{
		Out:        stdout,
		Err:        stderr,
		ConfigPath: resolveConfigPath(args.ConfigPath),
		LogLevel:   &level,
		Verbose:    args.Verbose,
	})
	if err != nil {
		fmt.Fprintf(stderr, "%s %v\n", ErrorStyle.Render("Error:"), err)
		_ = logger.Sync()
		return GetExitCode(err)
	}
	defer app.Close()

	return report(stderr, app.Dispatch(ctx, cmd, args))
}

// Dispatch runs a parsed command against an opened app.
func (a *App) Dispatch(ctx context.Context, cmd Command, args Args) error {
	words := args.Words()

	switch cmd {
	case CmdChat:
		return a.Chat(ctx, args.Provider)

	case CmdAsk:
		return a.Ask(ctx, args.Provider, strings.Join(args.Positional, " "), args.File)

	case CmdProviders:
		return a.Providers()

	case CmdModels:
		id := args.Provider
		if len(words) > 0 {
			id = words[0]
		}
		return a.Models(ctx, id)

	case CmdUse:
		if len(words) == 0 {
			return usageError("use needs a provider id")
		}
		return a.Use(words[0])

	case CmdModel:
		return a.SetModel(words)

	case CmdKey:
		if len(words) == 0 {
			return usageError("key %s needs a provider id", args.Subcommand)
		}
		switch args.Subcommand {
		case "set":
			key := ""
			if len(words) > 1 {
				key = words[1]
			}
			return a.KeySet(words[0], key)
		case "delete", "rm":
			return a.KeyDelete(words[0])
		}

	case CmdHistory:
		switch args.Subcommand {
		case "list", "ls":
			return a.HistoryList()
		case "clear":
			return a.HistoryClear(ctx, args.HasFlag("--yes") || args.HasFlag("-y"))
		}
		if len(words) == 0 {
			return usageError("history %s needs a conversation", args.Subcommand)
		}
		switch args.Subcommand {
		case "show":
			return a.HistoryShow(words[0])
		case "export":
			format, _ := args.FlagValue("--format")
			if args.HasFlag("--json") {
				format = "json"
			}
			outDir, _ := args.FlagValue("--out")
			return a.HistoryExport(words[0], format, outDir)
		case "delete", "rm":
			return a.HistoryDelete(ctx, words[0])
		}
	}
	return usageError("unsupported command %s %s", cmd, args.Subcommand)
}

func runConfig(w io.Writer, cfg *config.Config, args Args) error {
	switch args.Subcommand {
	case "path":
		path := args.ConfigPath
		if path == "" {
			var err error
			if path, err = config.ConfigPath(); err != nil {
				return err
			}
		}
		fmt.Fprintln(w, path)
		return nil
	default:
		fmt.Fprint(w, cfg.String())
		return nil
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	config.LoadDotEnv(".env")
	return config.LoadFromPath(path)
}

// resolveConfigPath returns the file the config was read from, or "" when
// it cannot be determined.
func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	path, err := config.ConfigPath()
	if err != nil {
		return ""
	}
	return path
}

func report(w io.Writer, err error) int {
	if err == nil {
		return ExitSuccess
	}
	if !isInterrupt(err) {
		fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("Error:"), describe(err))
	}
	return GetExitCode(err)
}

// Main is the process entry point.
func Main() {
	ctx := context.Background()
	os.Exit(Run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}
