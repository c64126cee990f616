// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds pslog loggers and annotates them with session fields.
package logging

import (
	"context"
	"io"
	"strings"

	"pkt.systems/pslog"
)

// New returns a logger writing to w at the given level.
// Console mode is used when console is true.
func New(w io.Writer, level string, console bool) pslog.Logger {
	return pslog.NewWithOptions(w, Options(level, console))
}

// Options builds pslog options for a config level name. Unknown names are info.
func Options(level string, console bool) pslog.Options {
	opts := pslog.Options{
		Mode:     pslog.ModeStructured,
		NoColor:  true,
		MinLevel: pslog.InfoLevel,
	}
	if console {
		opts.Mode = pslog.ModeConsole
		opts.NoColor = false
	}
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		opts.MinLevel = pslog.TraceLevel
	case "debug":
		opts.MinLevel = pslog.DebugLevel
	case "warn", "warning":
		opts.MinLevel = pslog.WarnLevel
	case "error":
		opts.MinLevel = pslog.ErrorLevel
	}
	return opts
}

// Discard returns a logger that drops everything.
func Discard() pslog.Logger {
	return pslog.NewWithOptions(io.Discard, Options("error", false))
}

// OrContext returns log, or the logger bound to ctx when log is nil.
func OrContext(ctx context.Context, log pslog.Logger) pslog.Logger {
	if log != nil {
		return log
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return pslog.Ctx(ctx)
}

// WithConversation annotates the logger with a conversation id when present.
func WithConversation(log pslog.Logger, conversationID string) pslog.Logger {
	if conversationID != "" {
		log = log.With("conversation", conversationID)
	}
	return log
}

// WithToolCall annotates the logger with a tool call id when present.
func WithToolCall(log pslog.Logger, toolCallID string) pslog.Logger {
	if toolCallID != "" {
		log = log.With("tool_call_id", toolCallID)
	}
	return log
}
