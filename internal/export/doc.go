// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes conversation transcripts to files.
//
// # Key Types
//
//   - Transcript: a conversation and its sealed messages
//   - Exporter: renders a transcript in one format
//   - Options: export configuration
//
// # Supported Formats
//
//   - JSON: the wire shape of conversation and messages, re-readable
//   - Markdown: human-readable, tool calls rendered as fenced blocks
//
// # Usage
//
//	exporter, err := export.ForFormat("markdown", nil)
//	path, err := export.ToFile(transcript, exporter, opts)
package export
