// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the interactive front end of rigsync.
//
// # Key Types
//
//   - App: the wired client stack (REST client, transport channel, archive, store)
//   - ChatCLI: liner-backed prompt with persistent history
//   - Printer: renders store snapshots incrementally to a terminal
//
// # Usage
//
//	app, err := cli.NewApp(ctx, cfg, log)
//	if err != nil {
//	    return err
//	}
//	defer app.Close()
//	return cli.RunChat(ctx, app, cli.ChatOptions{ConversationID: id})
//
// # Interactive Commands
//
//   - /list, /select, /new, /rename, /model, /system, /delete
//   - /edit, /regen, /cancel
//   - /history, /status, /search, /export
//   - /help, /quit
package cli
