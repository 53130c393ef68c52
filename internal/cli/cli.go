// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command-line parsing for kai.
package cli

import (
	"fmt"
	"io"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdChat Command = iota
	CmdAsk
	CmdProviders
	CmdModels
	CmdUse
	CmdModel
	CmdKey
	CmdHistory
	CmdConfig
	CmdVersion
	CmdHelp
)

var commandNames = map[Command]string{
	CmdChat:      "chat",
	CmdAsk:       "ask",
	CmdProviders: "providers",
	CmdModels:    "models",
	CmdUse:       "use",
	CmdModel:     "model",
	CmdKey:       "key",
	CmdHistory:   "history",
	CmdConfig:    "config",
	CmdVersion:   "version",
	CmdHelp:      "help",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "unknown"
}

// Args holds parsed command-line arguments.
type Args struct {
	// Global flags
	ConfigPath string
	Provider   string
	Quiet      bool
	Verbose    bool
	NoColor    bool

	// Subcommand is the first positional argument of key, history and
	// config ("set", "list", "show", ...).
	Subcommand string

	// File is an attachment for ask (--file).
	File string

	// Positional holds the remaining arguments.
	Positional []string
}

const usageText = `kai - chat with hosted and local LLMs from the terminal

Usage:
  kai [flags] [command]

Commands:
  chat                       Interactive chat (default)
  ask "question"             Ask a single question
  providers                  List providers and key status
  models [provider]          List models a provider offers
  use <provider>             Switch the current provider
  model [provider] <model>   Set the model used for a provider
  key set <provider> [key]   Store an API key (prompted when omitted)
  key delete <provider>      Remove an API key
  history list               List saved conversations
  history show <id>          Print a conversation
  history export <id> [--format=md|json|html] [--out=dir]
                             Export a conversation (--json is --format=json);
                             prints to stdout unless --out is given
  history delete <id>        Delete one conversation
  history clear              Delete every conversation and the history key
  config show                Print the effective configuration
  config path                Print the configuration file path
  version                    Print version information

Flags:
  -c, --config <path>        Use a different config file
  -p, --provider <id>        Provider for this invocation
  -f, --file <path>          Attach a file (ask)
  -q, --quiet                Less output
  -v, --verbose              Log to stderr
      --no-color             Disable colours
  -h, --help                 Show this help
`

// PrintUsage writes the usage text.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, usageText)
}

// PrintVersion writes version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "kai version %s\n", Version)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
	fmt.Fprintf(w, "  Go:         %s\n", runtime.Version())
}

// Parse parses argv (without the program name).
func Parse(argv []string) (Command, Args, error) {
	remaining, args, err := parseGlobalFlags(argv)
	if err != nil {
		return CmdHelp, args, err
	}

	if len(remaining) == 0 {
		return CmdChat, args, nil
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]

	switch cmd {
	case "chat":
		args.Positional = remaining
		return CmdChat, args, nil

	case "ask":
		if len(remaining) == 0 {
			return CmdAsk, args, usageError("ask needs a question")
		}
		args.Positional = remaining
		return CmdAsk, args, nil

	case "providers", "provider", "ls":
		return CmdProviders, args, nil

	case "models":
		args.Positional = remaining
		return CmdModels, args, nil

	case "use":
		if len(remaining) != 1 {
			return CmdUse, args, usageError("use needs exactly one provider id")
		}
		args.Positional = remaining
		return CmdUse, args, nil

	case "model":
		if len(remaining) == 0 || len(remaining) > 2 {
			return CmdModel, args, usageError("model needs [provider] <model>")
		}
		args.Positional = remaining
		return CmdModel, args, nil

	case "key", "keys":
		return parseSubcommand(CmdKey, args, remaining, map[string]int{"set": 1, "delete": 1, "rm": 1})

	case "history", "hist":
		return parseSubcommand(CmdHistory, args, remaining, map[string]int{
			"list": 0, "ls": 0, "show": 1, "export": 1, "delete": 1, "rm": 1, "clear": 0,
		})

	case "config":
		return parseSubcommand(CmdConfig, args, remaining, map[string]int{"show": 0, "path": 0})

	case "version", "--version":
		return CmdVersion, args, nil

	case "help", "-h", "--help":
		return CmdHelp, args, nil
	}

	return CmdHelp, args, usageError("unknown command %q", cmd)
}

// parseSubcommand checks the subcommand exists and has at least minArgs
// positional arguments after it. history defaults to list, config to show.
func parseSubcommand(cmd Command, args Args, remaining []string, minArgs map[string]int) (Command, Args, error) {
	if len(remaining) == 0 {
		switch cmd {
		case CmdHistory:
			remaining = []string{"list"}
		case CmdConfig:
			remaining = []string{"show"}
		default:
			return cmd, args, usageError("%s needs a subcommand", cmd)
		}
	}
	sub := strings.ToLower(remaining[0])
	n, ok := minArgs[sub]
	if !ok {
		return cmd, args, usageError("unknown %s subcommand %q", cmd, sub)
	}
	args.Subcommand = sub
	args.Positional = remaining[1:]
	if len(args.Positional) < n {
		return cmd, args, usageError("%s %s needs %d argument(s)", cmd, sub, n)
	}
	return cmd, args, nil
}

func parseGlobalFlags(argv []string) ([]string, Args, error) {
	var (
		remaining []string
		args      Args
	)

	value := func(i *int, name string) (string, error) {
		if *i+1 >= len(argv) {
			return "", usageError("%s needs a value", name)
		}
		*i++
		return argv[*i], nil
	}

	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		var err error

		switch {
		case arg == "-c" || arg == "--config":
			args.ConfigPath, err = value(&i, arg)
		case strings.HasPrefix(arg, "--config="):
			args.ConfigPath = strings.TrimPrefix(arg, "--config=")
		case arg == "-p" || arg == "--provider":
			args.Provider, err = value(&i, arg)
		case strings.HasPrefix(arg, "--provider="):
			args.Provider = strings.TrimPrefix(arg, "--provider=")
		case arg == "-f" || arg == "--file":
			args.File, err = value(&i, arg)
		case strings.HasPrefix(arg, "--file="):
			args.File = strings.TrimPrefix(arg, "--file=")
		case arg == "-q" || arg == "--quiet":
			args.Quiet = true
		case arg == "-v" || arg == "--verbose":
			args.Verbose = true
		case arg == "--no-color":
			args.NoColor = true
		case arg == "--":
			remaining = append(remaining, argv[i+1:]...)
			return remaining, args, nil
		default:
			remaining = append(remaining, arg)
		}
		if err != nil {
			return nil, args, err
		}
	}
	return remaining, args, nil
}

// HasFlag reports whether flag appears among the positional arguments.
func (a Args) HasFlag(flag string) bool {
	for _, p := range a.Positional {
		if p == flag {
			return true
		}
	}
	return false
}

// FlagValue returns the value of a "--name=value" positional argument.
func (a Args) FlagValue(name string) (string, bool) {
	prefix := name + "="
	for _, p := range a.Positional {
		if strings.HasPrefix(p, prefix) {
			return strings.TrimPrefix(p, prefix), true
		}
	}
	return "", false
}

// Words returns the positional arguments that are not flags.
func (a Args) Words() []string {
	var out []string
	for _, p := range a.Positional {
		if !strings.HasPrefix(p, "--") {
			out = append(out, p)
		}
	}
	return out
}
