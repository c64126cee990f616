// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/rigsync/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports transcripts to Markdown.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a transcript to Markdown.
func (e *MarkdownExporter) Export(tr *Transcript) ([]byte, error) {
	if err := Validate(tr); err != nil {
		return nil, err
	}
	conv := tr.Conversation
	title := conv.DisplayTitle()

	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(title))
		if conv.Model != "" {
			fmt.Fprintf(&sb, "model: %s\n", escapeYAML(conv.Model))
		}
		if !conv.CreatedAt.IsZero() {
			fmt.Fprintf(&sb, "date: %s\n", conv.CreatedAt.Format(time.RFC3339))
		}
		fmt.Fprintf(&sb, "messages: %d\n", len(tr.Messages))
		fmt.Fprintf(&sb, "exported: %s\n", e.options.now().Format(time.RFC3339))
		sb.WriteString("generator: rigsync\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(title))

	if e.options.IncludeMetadata && conv.SystemPrompt != "" {
		sb.WriteString("## System Prompt\n\n")
		sb.WriteString(quote(conv.SystemPrompt))
		sb.WriteString("\n\n---\n\n")
	}

	for i, msg := range tr.Messages {
		label := roleLabel(msg.Role)
		if msg.Partial {
			label += " (interrupted)"
		}
		if e.options.IncludeTimestamps && !msg.CreatedAt.IsZero() {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", label, msg.CreatedAt.Format("2006-01-02 15:04:05"))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", label)
		}

		sb.WriteString(e.formatMessage(msg))
		sb.WriteString("\n\n")

		if i < len(tr.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

func roleLabel(role model.Role) string {
	switch role {
	case model.RoleUser:
		return "[User]"
	case model.RoleAssistant:
		return "[Assistant]"
	case "":
		return "Unknown"
	default:
		runes := []rune(string(role))
		return "[" + strings.ToUpper(string(runes[0])) + string(runes[1:]) + "]"
	}
}

// formatMessage renders the block list when present, else the flat content.
func (e *MarkdownExporter) formatMessage(msg *model.Message) string {
	if !model.HasStructuredContent(msg.Blocks) {
		return strings.TrimSpace(msg.Content)
	}
	return strings.TrimSpace(e.formatBlocks(msg.Blocks, 0))
}

func (e *MarkdownExporter) formatBlocks(blocks []model.ContentBlock, depth int) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case model.BlockText:
			parts = append(parts, strings.TrimSpace(b.Content))
		case model.BlockThinking:
			if e.options.IncludeThinking {
				parts = append(parts, "<details><summary>Thinking</summary>\n\n"+
					strings.TrimSpace(b.Content)+"\n\n</details>")
			}
		case model.BlockToolCall:
			if b.ToolCall != nil {
				parts = append(parts, e.formatToolCall(b.ToolCall, depth))
			}
		}
	}
	out := strings.Join(parts, "\n\n")
	if depth > 0 {
		return quote(out)
	}
	return out
}

func (e *MarkdownExporter) formatToolCall(tc *model.ToolCall, depth int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Tool**: `%s`", tc.Name)

	if len(tc.Input) > 0 {
		sb.WriteString("\n\n**Input**:\n```json\n")
		sb.WriteString(strings.TrimSpace(string(tc.Input)))
		sb.WriteString("\n```")
	}

	switch {
	case tc.IsLoading:
		sb.WriteString("\n\n**Result** [PENDING]")
	case tc.Result != nil:
		status := "[OK]"
		if tc.IsError {
			status = "[FAIL]"
		}
		if len(tc.Result.Trace) > 0 {
			sb.WriteString("\n\n**Trace**:\n\n")
			sb.WriteString(e.formatBlocks(tc.Result.Trace, depth+1))
		}
		if len(tc.Result.Content) > 0 {
			fmt.Fprintf(&sb, "\n\n**Result** %s:\n```\n", status)
			sb.WriteString(resultText(tc.Result))
			sb.WriteString("\n```")
		}
	}
	return sb.String()
}

// resultText unquotes JSON string results and leaves other payloads raw.
func resultText(r *model.ToolResult) string {
	raw := strings.TrimSpace(string(r.Content))
	if len(raw) >= 2 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			return s
		}
	}
	return raw
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// quote prefixes every line with a Markdown blockquote marker.
func quote(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line == "" {
			lines[i] = ">"
		} else {
			lines[i] = "> " + line
		}
	}
	return strings.Join(lines, "\n")
}

// escapeMarkdown escapes Markdown characters that would break a heading.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeYAML quotes values containing YAML metacharacters.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return "\"" + s + "\""
	}
	return s
}
