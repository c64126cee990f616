// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/jeranaias/rigsync/internal/config"
	"github.com/jeranaias/rigsync/internal/session"
)

// =============================================================================
// INPUT
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a prompt whose history is kept in historyFile. An empty
// path disables persistence.
func NewChatCLI(historyFile string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	c := &ChatCLI{line: line, historyFile: historyFile}
	c.LoadHistory()
	return c
}

// LoadHistory loads prompt history from file.
func (c *ChatCLI) LoadHistory() {
	if c.historyFile == "" {
		return
	}
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads one line. Non-blank input is added to history.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory writes prompt history with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	if c.historyFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

// ChatOptions configures RunChat.
type ChatOptions struct {
	// ConversationID is selected on start when set.
	ConversationID string
	// ConfigPath is watched for changes when set.
	ConfigPath string
}

// RunChat connects, then reads prompts until the user quits or ctx ends.
// Plain lines are sent as messages; lines starting with "/" are commands.
// Ctrl+C cancels a running generation and exits when idle.
func RunChat(ctx context.Context, app *App, opts ChatOptions) error {
	out := os.Stdout
	printer := NewPrinter(out, PrinterOptionsFrom(app.Config))

	renderCtx, stopRender := context.WithCancel(ctx)
	defer stopRender()
	go renderLoop(renderCtx, app.Store, printer)

	if opts.ConfigPath != "" {
		watcher, err := config.NewWatcher(opts.ConfigPath, func(cfg *config.Config) {
			app.Reload(cfg)
			printer.SetOptions(PrinterOptionsFrom(cfg))
		}, app.Log)
		if err != nil {
			app.Log.Warn("cli: config hot reload unavailable", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	app.Connect(ctx)
	if err := app.Store.LoadConversations(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "[warning] %v\n", err)
	}
	if opts.ConversationID != "" {
		if err := app.Store.SelectConversation(ctx, opts.ConversationID); err != nil {
			fmt.Fprintf(os.Stderr, "[warning] %v\n", err)
		}
	}

	input := NewChatCLI(app.Config.UI.HistoryFile)
	defer input.Close()

	env := newCommandEnv(app, out)
	printWelcome(out, app.Store.Snapshot())

	for ctx.Err() == nil {
		line, err := input.ReadInput(prompt(app.Store.Snapshot()))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) && app.Store.Snapshot().Busy() {
				app.Store.CancelGeneration()
				continue
			}
			fmt.Fprintln(out)
			return nil
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "/"):
			keepGoing, err := runCommand(ctx, env, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[error] %v\n", err)
			}
			if !keepGoing {
				return nil
			}
		case strings.EqualFold(line, "exit"), strings.EqualFold(line, "quit"):
			return nil
		default:
			if err := app.Store.SendMessage(line); err != nil {
				reportSendError(os.Stderr, err)
			}
		}
	}
	return nil
}

// renderLoop prints store changes until ctx ends.
func renderLoop(ctx context.Context, store *session.Store, printer *Printer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-store.Changes():
			printer.Update(store.Snapshot())
		}
	}
}

func prompt(st session.State) string {
	if conv := st.Active(); conv != nil {
		return conv.DisplayTitle() + "> "
	}
	return "rigsync> "
}

func printWelcome(w io.Writer, st session.State) {
	fmt.Fprintln(w, "rigsync chat - type /help for commands")
	if st.ActiveID == "" {
		if len(st.Conversations) > 0 {
			fmt.Fprintln(w, "Pick a conversation with /select <n> or start one with /new.")
			PrintConversations(w, st, 60)
		} else {
			fmt.Fprintln(w, "Start a conversation with /new [title].")
		}
	}
}

func reportSendError(w io.Writer, err error) {
	switch {
	case errors.Is(err, session.ErrNoActiveConversation):
		fmt.Fprintln(w, "[error] no conversation selected (use /select or /new)")
	case errors.Is(err, session.ErrGenerationInProgress):
		fmt.Fprintln(w, "[error] wait for the answer or /cancel it")
	case errors.Is(err, session.ErrSendFailed):
		// The printer reports the rolled back send.
	default:
		fmt.Fprintf(w, "[error] %v\n", err)
	}
}
