// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by rigsync packages.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile, AtomicWriteFileWithDir: crash-safe writes with fsync
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - FirstLine: first non-blank line of a multi-line string
//   - PadRight: rune-aware column padding for CLI listings
//
// # Usage
//
//	// Persist config without leaving a half-written file behind
//	err := util.AtomicWriteFileWithDir(path, data, 0600, 0700)
//
//	// Show a one-line preview of a message
//	preview := util.TruncateRunes(util.FirstLine(msg.Content), 60)
package util
