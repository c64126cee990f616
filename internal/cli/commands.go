// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jeranaias/rigsync/internal/model"
	"github.com/jeranaias/rigsync/internal/session"
	"github.com/jeranaias/rigsync/internal/storage"
	"github.com/jeranaias/rigsync/internal/transport"
	"github.com/jeranaias/rigsync/internal/util"
)

var errArchiveDisabled = errors.New("the local archive is disabled (storage.archive_enabled)")

// commandEnv is what slash commands act on.
type commandEnv struct {
	store   *session.Store
	archive *storage.Archive
	state   func() transport.ConnectionState
	out     io.Writer
	preview int

	// exportDir receives /export files.
	exportDir string
	thinking  bool
}

func newCommandEnv(app *App, out io.Writer) *commandEnv {
	return &commandEnv{
		store:   app.Store,
		archive: app.Archive,
		state:   app.Channel.State,
		out:     out,
		preview: app.Config.UI.PreviewLength,

		exportDir: ".",
		thinking:  app.Config.UI.ShowThinking,
	}
}

// parseCommand splits "/name rest of line" into a lowercase name and the
// trimmed remainder.
func parseCommand(line string) (name, args string) {
	name, args, _ = strings.Cut(strings.TrimSpace(line), " ")
	return strings.ToLower(name), strings.TrimSpace(args)
}

// runCommand executes a slash command. It returns false when the REPL should
// exit.
func runCommand(ctx context.Context, env *commandEnv, line string) (bool, error) {
	name, args := parseCommand(line)
	st := env.store.Snapshot()

	switch name {
	case "/help", "/h", "/?", "/":
		printHelp(env.out)

	case "/quit", "/q", "/exit":
		return false, nil

	case "/list", "/ls":
		if err := env.store.LoadConversations(ctx); err != nil {
			return true, err
		}
		PrintConversations(env.out, env.store.Snapshot(), env.preview)

	case "/select", "/s":
		conv, err := resolveConversation(st, args)
		if err != nil {
			return true, err
		}
		return true, env.store.SelectConversation(ctx, conv.ID)

	case "/new":
		conv, err := env.store.CreateConversation(ctx, model.CreateParams{Title: args})
		if err != nil {
			return true, err
		}
		return true, env.store.SelectConversation(ctx, conv.ID)

	case "/rename":
		if args == "" {
			return true, errors.New("usage: /rename <title>")
		}
		return true, updateActive(ctx, env, st, model.ConversationPatch{Title: model.StringPtr(args)})

	case "/model":
		if args == "" {
			return true, showField(env.out, st, "model", func(c *model.Conversation) string { return c.Model })
		}
		return true, updateActive(ctx, env, st, model.ConversationPatch{Model: model.StringPtr(args)})

	case "/system":
		if args == "" {
			return true, showField(env.out, st, "system prompt", func(c *model.Conversation) string { return c.SystemPrompt })
		}
		if args == "-" {
			args = ""
		}
		return true, updateActive(ctx, env, st, model.ConversationPatch{SystemPrompt: model.StringPtr(args)})

	case "/delete":
		target := args
		if target == "" {
			target = st.ActiveID
		}
		conv, err := resolveConversation(st, target)
		if err != nil {
			return true, err
		}
		if err := env.store.DeleteConversation(ctx, conv.ID); err != nil {
			return true, err
		}
		fmt.Fprintf(env.out, "[deleted %s]\n", conv.ID)

	case "/history":
		PrintHistory(env.out, st, env.preview)

	case "/edit":
		ref, text, _ := strings.Cut(args, " ")
		if ref == "" || strings.TrimSpace(text) == "" {
			return true, errors.New("usage: /edit <n|message-id> <new text>")
		}
		msg, err := resolveMessage(st, ref)
		if err != nil {
			return true, err
		}
		return true, env.store.EditMessage(msg.ID, strings.TrimSpace(text))

	case "/regen", "/regenerate":
		var msg *model.Message
		var err error
		if args == "" {
			msg, err = lastAssistant(st)
		} else {
			msg, err = resolveMessage(st, args)
		}
		if err != nil {
			return true, err
		}
		return true, env.store.RegenerateMessage(msg.ID)

	case "/cancel":
		if env.store.CancelGeneration() {
			fmt.Fprintln(env.out, "[cancel requested]")
		} else {
			fmt.Fprintln(env.out, "[nothing to cancel]")
		}

	case "/status":
		printStatus(env.out, st, env.state())

	case "/search":
		if args == "" {
			return true, errors.New("usage: /search <text>")
		}
		if env.archive == nil {
			return true, errArchiveDisabled
		}
		hits, err := env.archive.Search(ctx, args, 20)
		if err != nil {
			return true, err
		}
		PrintSearchHits(env.out, hits, env.preview)

	case "/export":
		format := args
		if format == "" {
			format = "markdown"
		}
		path, err := ExportActive(st, format, env.exportDir, env.thinking)
		if err != nil {
			return true, err
		}
		fmt.Fprintf(env.out, "[exported to %s]\n", path)

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", name)
	}
	return true, nil
}

// =============================================================================
// RESOLUTION
// =============================================================================

// resolveConversation accepts a 1-based list index, an id or a unique id
// prefix. Unknown ids are passed through so unlisted conversations can be
// selected.
func resolveConversation(st session.State, ref string) (*model.Conversation, error) {
	if ref == "" {
		return nil, session.ErrNoActiveConversation
	}
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(st.Conversations) {
			return nil, fmt.Errorf("no conversation #%d (see /list)", n)
		}
		return st.Conversations[n-1], nil
	}

	var matches []*model.Conversation
	for _, c := range st.Conversations {
		if c.ID == ref {
			return c, nil
		}
		if strings.HasPrefix(c.ID, ref) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return &model.Conversation{ID: ref}, nil
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q matches %d conversations", ref, len(matches))
	}
}

// resolveMessage accepts a 1-based /history index or a message id.
func resolveMessage(st session.State, ref string) (*model.Message, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(st.Messages) {
			return nil, fmt.Errorf("no message #%d (see /history)", n)
		}
		return st.Messages[n-1], nil
	}
	for _, m := range st.Messages {
		if m.ID == ref {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", session.ErrMessageNotFound, ref)
}

func lastAssistant(st session.State) (*model.Message, error) {
	for i := len(st.Messages) - 1; i >= 0; i-- {
		if st.Messages[i].Role == model.RoleAssistant {
			return st.Messages[i], nil
		}
	}
	return nil, errors.New("no assistant message to regenerate")
}

func updateActive(ctx context.Context, env *commandEnv, st session.State, patch model.ConversationPatch) error {
	if st.ActiveID == "" {
		return session.ErrNoActiveConversation
	}
	return env.store.UpdateConversation(ctx, st.ActiveID, patch)
}

func showField(w io.Writer, st session.State, label string, get func(*model.Conversation) string) error {
	conv := st.Active()
	if conv == nil {
		return session.ErrNoActiveConversation
	}
	value := get(conv)
	if value == "" {
		value = "(default)"
	}
	fmt.Fprintf(w, "%s: %s\n", label, value)
	return nil
}

// =============================================================================
// OUTPUT
// =============================================================================

func printHelp(w io.Writer) {
	fmt.Fprint(w, `Commands:
  /list                      List conversations
  /select <n|id>             Switch conversation
  /new [title]               Create and switch to a conversation
  /rename <title>            Rename the active conversation
  /model [name]              Show or set the model
  /system [prompt|-]         Show, set or clear the system prompt
  /delete [n|id]             Delete a conversation (default: active)
  /history                   Show numbered messages
  /edit <n|id> <text>        Edit a user message and regenerate
  /regen [n|id]              Regenerate an answer (default: last)
  /cancel                    Stop the running generation (also Ctrl+C)
  /status                    Show session and connection state
  /search <text>             Search archived messages
  /export [markdown|json]    Write the conversation to a file
  /quit                      Exit (also Ctrl+D)
`)
}

func printStatus(w io.Writer, st session.State, conn transport.ConnectionState) {
	title := "(none)"
	if c := st.Active(); c != nil {
		title = c.DisplayTitle()
	} else if st.ActiveID != "" {
		title = st.ActiveID
	}
	fmt.Fprintf(w, "conversation: %s\n", title)
	fmt.Fprintf(w, "messages:     %d\n", len(st.Messages))
	gen := st.Phase.String()
	if st.Cancel != session.CancelNone {
		gen += " (" + st.Cancel.String() + ")"
	}
	fmt.Fprintf(w, "generation:   %s\n", gen)
	connLine := string(conn.Status)
	if conn.AuthFailed {
		connLine += " (authentication failed)"
	} else if conn.Attempts > 0 {
		connLine += fmt.Sprintf(" (attempt %d, next in %s)", conn.Attempts, conn.Delay)
	}
	fmt.Fprintf(w, "connection:   %s\n", connLine)
	if st.Stale {
		fmt.Fprintln(w, "history:      archived copy (server unreachable)")
	}
	if st.Container != "" {
		fmt.Fprintf(w, "container:    %s\n", st.Container)
	}
}

// PrintSearchHits writes archive search results.
func PrintSearchHits(w io.Writer, hits []storage.SearchHit, preview int) {
	if len(hits) == 0 {
		fmt.Fprintln(w, "no matches")
		return
	}
	for _, h := range hits {
		title := h.Title
		if title == "" {
			title = h.ConversationID
		}
		fmt.Fprintf(w, "%s  %s> %s\n",
			util.PadRight(title, 24),
			roleLabel(h.Message.Role),
			util.TruncateRunes(util.FirstLine(h.Message.DisplayText()), preview))
	}
}
