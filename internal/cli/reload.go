// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jeranaias/kai/internal/config"
	"github.com/jeranaias/kai/internal/llm"
)

// errNoConfigPath is returned by WatchConfig when the config was not read
// from a file.
var errNoConfigPath = errors.New("config was not loaded from a file")

// WatchConfig reloads the config file whenever it changes. A valid new
// config is queued and takes effect at the next applyReloadedConfig; an
// invalid one is logged and the current config stays.
func (a *App) WatchConfig() (*config.Watcher, error) {
	if a.ConfigPath == "" {
		return nil, errNoConfigPath
	}
	return config.Watch(a.ConfigPath, 0, a.onConfigChange)
}

// onConfigChange runs on the watcher goroutine.
func (a *App) onConfigChange(cfg *config.Config, err error) {
	if err != nil {
		a.Log.Warn("config reload failed, keeping current config",
			zap.String("path", a.ConfigPath), zap.Error(err))
		return
	}
	a.reloaded.Store(cfg)
	a.Log.Debug("config change detected", zap.String("path", a.ConfigPath))
}

// applyReloadedConfig swaps in the last queued config: the global config,
// the provider base URLs, request pacing and timeouts, and the log level.
// Requests already in flight finish on the previous client. It reports
// whether anything was applied.
func (a *App) applyReloadedConfig() bool {
	cfg := a.reloaded.Swap(nil)
	if cfg == nil {
		return false
	}

	config.SetGlobal(cfg)
	registry := cfg.Registry()
	next := llm.New(a.Settings, a.llmOptions(cfg, registry))

	prev := a.LLM
	a.Session.SetSender(next)
	a.LLM = next
	a.Registry = registry
	a.Config = cfg
	prev.Close()

	if a.logLevel != nil && !a.verbose {
		level, err := zapcore.ParseLevel(cfg.Log.Level)
		if err != nil {
			a.Log.Warn("invalid log level in reloaded config", zap.String("level", cfg.Log.Level))
		} else {
			a.logLevel.SetLevel(level)
		}
	}

	a.Log.Info("config reloaded", zap.String("path", a.ConfigPath))
	fmt.Fprintln(a.Out, DimStyle.Render("config reloaded"))
	return true
}
