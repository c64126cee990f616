// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jeranaias/rigsync/internal/config"
	"github.com/jeranaias/rigsync/internal/model"
	"github.com/jeranaias/rigsync/internal/session"
	"github.com/jeranaias/rigsync/internal/util"
)

// PrinterOptions selects what the printer shows.
type PrinterOptions struct {
	ShowThinking  bool
	ShowTools     bool
	PreviewLength int
}

// PrinterOptionsFrom reads the UI section of cfg.
func PrinterOptionsFrom(cfg *config.Config) PrinterOptions {
	return PrinterOptions{
		ShowThinking:  cfg.UI.ShowThinking,
		ShowTools:     cfg.UI.ShowTools,
		PreviewLength: cfg.UI.PreviewLength,
	}
}

// Printer turns successive store snapshots into terminal output. Sealed
// messages are printed once; the live generation is printed as it grows.
type Printer struct {
	mu   sync.Mutex
	w    io.Writer
	opts PrinterOptions

	conversation string
	seen         map[string]bool
	// echoed holds the text of user messages typed here, so the server
	// copy is not printed again after promotion.
	echoed map[string]int

	live   []int // printed runes per streaming block; -1 marks a resolved tool
	inLive bool

	atLineStart bool
	fresh       bool

	last   session.State
	primed bool
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer, opts PrinterOptions) *Printer {
	return &Printer{
		w:      w,
		opts:   opts,
		seen:        make(map[string]bool),
		echoed:      make(map[string]int),
		atLineStart: true,
	}
}

// SetOptions replaces the display options.
func (p *Printer) SetOptions(opts PrinterOptions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts = opts
}

// Update prints whatever changed since the previous snapshot.
func (p *Printer) Update(st session.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if st.ActiveID != p.conversation {
		p.switchTo(st)
	}
	p.printSealed(st)
	p.printStatus(st)
	p.printLive(st)

	p.last = st
	p.primed = true
}

func (p *Printer) switchTo(st session.State) {
	p.endLive()
	p.conversation = st.ActiveID
	p.seen = make(map[string]bool)
	p.echoed = make(map[string]int)
	if conv := st.Active(); conv != nil {
		p.write("── " + conv.DisplayTitle() + " ──\n")
	} else if st.ActiveID != "" {
		p.write("── " + st.ActiveID + " ──\n")
	}
}

// =============================================================================
// STATUS LINES
// =============================================================================

func (p *Printer) printStatus(st session.State) {
	prev := p.last
	if !p.primed {
		prev = session.State{Connected: st.Connected}
	}

	if st.Connected != prev.Connected {
		if st.Connected {
			p.notice("connected")
		} else if !st.AuthFailed {
			p.notice("connection lost; reconnecting")
		}
	}
	if st.AuthFailed && !prev.AuthFailed {
		p.notice("authentication failed; reconnect stopped")
	}
	if st.LastError != "" && st.LastError != prev.LastError {
		p.notice("error: " + st.LastError)
	}
	if st.SendFailed && !prev.SendFailed {
		p.notice("not sent: not connected")
	}
	if st.Stale && !prev.Stale {
		p.notice("offline: showing archived history")
	}
	if st.Cancel == session.CancelTerminated && prev.Cancel != session.CancelTerminated {
		p.notice("cancelled")
	}
	if st.Container != prev.Container && st.Container != "" {
		msg := "container " + st.Container
		if st.ContainerMessage != "" {
			msg += ": " + st.ContainerMessage
		}
		p.notice(msg)
	}
}

func (p *Printer) notice(msg string) {
	if p.inLive {
		p.breakLine()
	}
	p.write("[" + msg + "]\n")
	if p.inLive {
		p.startLine("assistant> ")
	}
}

// =============================================================================
// SEALED MESSAGES
// =============================================================================

func (p *Printer) printSealed(st session.State) {
	for _, m := range st.Messages {
		if p.seen[m.ID] {
			continue
		}
		p.seen[m.ID] = true

		switch {
		case m.Role == model.RoleUser && m.IsPending():
			p.echoed[m.Content]++
		case m.Role == model.RoleUser && p.echoed[m.Content] > 0:
			p.echoed[m.Content]--
		case m.Role == model.RoleAssistant && p.inLive:
			p.finishLive(m)
			if m.Partial {
				p.write("[interrupted]\n")
			}
		default:
			p.writeMessage(m)
		}
	}
}

func (p *Printer) writeMessage(m *model.Message) {
	p.startLine(roleLabel(m.Role) + "> ")
	if len(m.Blocks) == 0 {
		p.write(m.Content)
	}
	for _, b := range m.Blocks {
		p.writeBlockHeader(b)
		switch b.Type {
		case model.BlockText:
			p.write(b.Content)
		case model.BlockThinking:
			if p.opts.ShowThinking {
				p.write(b.Content)
			}
		case model.BlockToolCall:
			p.writeToolStatus(b.ToolCall)
		}
	}
	p.endLine()
	if m.Partial {
		p.write("[interrupted]\n")
	}
}

func roleLabel(r model.Role) string {
	if r == model.RoleUser {
		return "you"
	}
	return "assistant"
}

// =============================================================================
// LIVE GENERATION
// =============================================================================

func (p *Printer) printLive(st session.State) {
	if len(st.Streaming) == 0 {
		if !st.Busy() {
			p.endLive()
		}
		return
	}
	if !p.inLive {
		p.startLine("assistant> ")
		p.inLive = true
		p.live = p.live[:0]
	}
	p.printBlocks(st.Streaming)
}

// finishLive prints what the sealed message adds to the streamed output,
// then ends the live section.
func (p *Printer) finishLive(m *model.Message) {
	blocks := m.Blocks
	if len(blocks) == 0 {
		blocks = []model.ContentBlock{model.TextBlock(m.Content)}
	}
	p.printBlocks(blocks)
	p.endLive()
}

func (p *Printer) printBlocks(blocks []model.ContentBlock) {
	for i, b := range blocks {
		if i >= len(p.live) {
			p.writeBlockHeader(b)
			p.live = append(p.live, 0)
		}
		switch b.Type {
		case model.BlockText:
			p.live[i] = p.writeFrom(b.Content, p.live[i])
		case model.BlockThinking:
			if p.opts.ShowThinking {
				p.live[i] = p.writeFrom(b.Content, p.live[i])
			}
		case model.BlockToolCall:
			if p.live[i] >= 0 && !b.ToolCall.IsLoading {
				p.writeToolStatus(b.ToolCall)
				p.live[i] = -1
			}
		}
	}
}

// writeFrom prints content after the first printed runes and returns the
// new count.
func (p *Printer) writeFrom(content string, printed int) int {
	runes := []rune(content)
	printed = max(printed, 0)
	if printed < len(runes) {
		p.write(string(runes[printed:]))
	}
	return len(runes)
}

// writeBlockHeader starts a visible block on its own line.
func (p *Printer) writeBlockHeader(b model.ContentBlock) {
	switch b.Type {
	case model.BlockText:
		p.breakLine()
	case model.BlockThinking:
		if p.opts.ShowThinking {
			p.breakLine()
			p.write("(thinking) ")
		}
	case model.BlockToolCall:
		if p.opts.ShowTools {
			p.breakLine()
			p.write("[tool " + b.ToolCall.Name + "] ")
		}
	}
}

func (p *Printer) writeToolStatus(tc *model.ToolCall) {
	if !p.opts.ShowTools || tc == nil {
		return
	}
	switch {
	case tc.IsLoading:
		p.write("running")
	case tc.IsError:
		p.write("failed")
	default:
		p.write("done")
	}
	if tc.Result != nil && len(tc.Result.Content) > 0 {
		p.write(": " + util.TruncateRunes(util.FirstLine(string(tc.Result.Content)), p.previewLength()))
	}
	if tc.Result != nil && len(tc.Result.Trace) > 0 {
		p.write(fmt.Sprintf(" (%d trace steps)", len(tc.Result.Trace)))
	}
	p.write("\n")
}

func (p *Printer) endLive() {
	if p.inLive {
		p.endLine()
	}
	p.inLive = false
	p.live = p.live[:0]
}

func (p *Printer) previewLength() int {
	if p.opts.PreviewLength <= 0 {
		return 60
	}
	return p.opts.PreviewLength
}

// =============================================================================
// LINE TRACKING
// =============================================================================

func (p *Printer) write(s string) {
	if s == "" {
		return
	}
	io.WriteString(p.w, s)
	p.atLineStart = strings.HasSuffix(s, "\n")
	p.fresh = false
}

// startLine writes a line prefix after which no line break is needed.
func (p *Printer) startLine(prefix string) {
	p.write(prefix)
	p.fresh = true
}

// breakLine ends the current line unless it is empty or only a prefix.
func (p *Printer) breakLine() {
	if !p.atLineStart && !p.fresh {
		p.write("\n")
	}
}

// endLine terminates a started line.
func (p *Printer) endLine() {
	if !p.atLineStart {
		p.write("\n")
	}
}

// =============================================================================
// LISTINGS
// =============================================================================

// PrintConversations writes the numbered conversation list. The active
// conversation is starred.
func PrintConversations(w io.Writer, st session.State, preview int) {
	if len(st.Conversations) == 0 {
		fmt.Fprintln(w, "no conversations")
		return
	}
	for i, c := range st.Conversations {
		mark := " "
		if c.ID == st.ActiveID {
			mark = "*"
		}
		fmt.Fprintf(w, "%s%3d  %s  %s  %s\n", mark, i+1,
			util.PadRight(c.DisplayTitle(), max(preview/2, 10)),
			util.PadRight(c.Model, 16),
			c.ID)
	}
}

// PrintHistory writes the numbered message list of the active conversation.
func PrintHistory(w io.Writer, st session.State, preview int) {
	if len(st.Messages) == 0 {
		fmt.Fprintln(w, "no messages")
		return
	}
	for i, m := range st.Messages {
		flags := ""
		if m.IsPending() {
			flags = " (pending)"
		}
		if m.Partial {
			flags = " (partial)"
		}
		text := util.TruncateRunes(util.FirstLine(m.DisplayText()), preview)
		fmt.Fprintf(w, "%3d  %-9s %s%s\n", i+1, roleLabel(m.Role), strings.TrimSpace(text), flags)
	}
}
