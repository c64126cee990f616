// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for rigsync.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, validation, and optional hot reload.
//
// # Key Types
//
//   - Config: Main configuration structure
//   - ServerConfig: REST and websocket endpoints, token, retry budget
//   - TransportConfig: Reconnect backoff
//   - Watcher: fsnotify-based reloader
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGSYNC_*)
//   - ~/.rigsync/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	ch.SetBackoff(cfg.InitialDelay(), cfg.MaxDelay())
//
// Reload on change:
//
//	w, err := config.NewWatcher(path, func(c *config.Config) {
//	    ch.SetBackoff(c.InitialDelay(), c.MaxDelay())
//	}, log)
//	defer w.Close()
package config
