// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jeranaias/kai/internal/chat"
	"github.com/jeranaias/kai/internal/config"
	"github.com/jeranaias/kai/internal/history"
	"github.com/jeranaias/kai/internal/llm"
	"github.com/jeranaias/kai/internal/logging"
	"github.com/jeranaias/kai/internal/provider"
	"github.com/jeranaias/kai/internal/settings"
	"github.com/jeranaias/kai/internal/storage"
)

// keyringService names kai's entries in the OS keychain.
const keyringService = "kai"

// App holds every wired component a command needs.
type App struct {
	Config   *config.Config
	Log      *zap.Logger
	Registry *provider.Registry
	Settings *settings.Settings
	History  *history.Repository
	LLM      *llm.Client
	Session  *chat.Session

	Out io.Writer
	Err io.Writer
	In  io.Reader

	Renderer *Renderer

	// ReadSecret reads a value without echo. Tests replace it.
	ReadSecret func(prompt string) (string, error)

	// ConfigPath is the file Config was loaded from; empty when the config
	// was built in memory.
	ConfigPath string

	logLevel    *zap.AtomicLevel
	verbose     bool
	llmOverride *llm.Options
	reloaded    atomic.Pointer[config.Config]

	closers []func() error
}

// AppOptions tweaks Open. Zero values select production behaviour.
type AppOptions struct {
	Out, Err io.Writer
	In       io.Reader

	// KV and Secrets bypass the configured backends.
	KV      settings.KV
	Secrets settings.SecretStore

	// LLM overrides request layer options built from the config.
	LLM *llm.Options

	// ConfigPath enables WatchConfig.
	ConfigPath string

	// LogLevel is the logger's level; config reloads update it unless
	// Verbose forced debug logging.
	LogLevel *zap.AtomicLevel
	Verbose  bool
}

// Open wires settings, history, the request layer and the chat session
// from cfg, runs the one-time settings migration, counts the launch and
// loads saved conversations.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts AppOptions) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config:      cfg,
		Log:         logger,
		Registry:    cfg.Registry(),
		Out:         orWriter(opts.Out, os.Stdout),
		Err:         orWriter(opts.Err, os.Stderr),
		In:          opts.In,
		ReadSecret:  readSecret,
		ConfigPath:  opts.ConfigPath,
		logLevel:    opts.LogLevel,
		verbose:     opts.Verbose,
		llmOverride: opts.LLM,
	}
	if a.In == nil {
		a.In = os.Stdin
	}

	kv := opts.KV
	if kv == nil {
		var err error
		if kv, err = a.openKV(); err != nil {
			return nil, err
		}
	}

	secrets := opts.Secrets
	if secrets == nil && strings.EqualFold(cfg.Settings.Secrets, config.SecretsKeyring) {
		ring, err := settings.OpenKeyring(keyringService, cfg.KeyringDir())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open keyring: %w", err)
		}
		secrets = ring
	}

	settingsOpts := []settings.Option{
		settings.WithRegistry(a.Registry),
		settings.WithLogger(logger),
	}
	if secrets != nil {
		settingsOpts = append(settingsOpts, settings.WithSecrets(secrets))
	}
	a.Settings = settings.New(kv, settingsOpts...)

	if moved, err := a.Settings.Migrate(); err != nil {
		logger.Warn("settings migration failed", zap.Error(err))
	} else if moved > 0 {
		logger.Info("migrated legacy settings", zap.Int("moved", moved))
	}
	if _, err := a.Settings.IncrementAppOpens(); err != nil {
		logger.Warn("failed to count app open", zap.Error(err))
	}

	a.History = history.New(a.blob(kv), a.Settings,
		history.WithRegistry(a.Registry),
		history.WithLogger(logger))
	a.History.Load(ctx)

	a.LLM = llm.New(a.Settings, a.llmOptions(cfg, a.Registry))
	a.closers = append(a.closers, func() error {
		a.LLM.Close()
		return nil
	})

	a.Session = chat.NewSession(a.History, a.LLM, a.Settings, logger)
	a.Renderer = NewRenderer(ColorsEnabled(), GetTerminalWidth())
	return a, nil
}

// llmOptions builds request layer options from cfg unless Open was given
// explicit ones.
func (a *App) llmOptions(cfg *config.Config, registry *provider.Registry) llm.Options {
	opts := cfg.LLMOptions(registry)
	if a.llmOverride != nil {
		opts = *a.llmOverride
		if opts.Registry == nil {
			opts.Registry = registry
		}
	}
	opts.Logger = a.Log
	return opts
}

func (a *App) openKV() (settings.KV, error) {
	if strings.EqualFold(a.Config.Settings.Backend, config.BackendMemory) {
		return settings.NewMemoryKV(), nil
	}
	db, err := settings.OpenSQLite(a.Config.SettingsDBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open settings: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	return db, nil
}

// blob keeps conversations next to the settings database on disk, and
// inside the KV when settings are ephemeral.
func (a *App) blob(kv settings.KV) storage.Blob {
	if strings.EqualFold(a.Config.Settings.Backend, config.BackendMemory) {
		return storage.NewKVBlob(kv, "")
	}
	return storage.NewFileBlob(a.Config.HistoryPath())
}

// Close waits for pending history writes and releases resources in reverse
// order of acquisition.
func (a *App) Close() error {
	if a.Session != nil {
		a.Session.Wait()
	}
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	_ = a.Log.Sync()
	return first
}

// resolveProvider validates an explicit id or returns the current provider.
func (a *App) resolveProvider(id string) (provider.Provider, error) {
	if strings.TrimSpace(id) == "" {
		return a.Settings.CurrentProvider()
	}
	p, ok := a.Registry.Lookup(id)
	if !ok {
		return provider.Provider{}, fmt.Errorf("%w: %q (known: %s)",
			settings.ErrUnknownProvider, id, strings.Join(a.Registry.IDs(), ", "))
	}
	return p, nil
}

// NewLogger builds the process logger from cfg. verbose forces a console
// core at debug level. level, when set, tracks the logger's level.
func NewLogger(cfg *config.Config, verbose bool, level *zap.AtomicLevel) (*zap.Logger, error) {
	opts := logging.Options{
		Level:    cfg.Log.Level,
		File:     cfg.LogPath(),
		Console:  cfg.Log.Console || verbose,
		LevelVar: level,
	}
	if verbose {
		opts.Level = "debug"
	}
	return logging.New(opts)
}

func orWriter(w, fallback io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return fallback
}
