// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the local message archive.
//
// The archive is a SQLite database holding conversations and their sealed
// messages as last seen from the server. It is never the source of truth;
// the session store reads it only when the server history cannot be fetched,
// and marks such a log as stale.
//
// # Key Types
//
//   - Archive: SQLite-backed conversation and message archive
//   - SearchHit: A message matching a search query
//
// # Usage
//
//	archive, err := storage.Open(storage.DefaultPath())
//	defer archive.Close()
//	err = archive.ReplaceMessages(ctx, conv.ID, msgs)
//	msgs, err := archive.Messages(ctx, conv.ID)
//
// # Storage Location
//
// The archive lives at ~/.rigsync/archive.db unless configured otherwise.
package storage
