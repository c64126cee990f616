// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/rigsync/internal/model"
)

func testTranscript() *Transcript {
	tool := &model.ToolCall{
		ID:    "t1",
		Name:  "search",
		Input: json.RawMessage(`{"q":"x"}`),
		Result: &model.ToolResult{
			Content: json.RawMessage(`"3 hits"`),
			Trace:   []model.ContentBlock{model.TextBlock("sub")},
		},
	}
	assistant := model.NewMessage("a1", "c1", model.RoleAssistant, "Done.")
	assistant.Blocks = []model.ContentBlock{
		model.ThinkingBlock("hmm"),
		{Type: model.BlockToolCall, ToolCall: tool},
		model.TextBlock("Done."),
	}
	return &Transcript{
		Conversation: &model.Conversation{ID: "c1", Title: "Demo", Model: "m"},
		Messages: []*model.Message{
			model.NewMessage("u1", "c1", model.RoleUser, "find it"),
			assistant,
		},
	}
}

func plainOptions() *Options {
	return &Options{IncludeThinking: true}
}

// TestMarkdownBlocks checks the rendered layout of thinking, tool and trace blocks.
func TestMarkdownBlocks(t *testing.T) {
	out, err := NewMarkdownExporter(plainOptions()).Export(testTranscript())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	want := "# Demo\n\n" +
		"### [User]\n\nfind it\n\n---\n\n" +
		"### [Assistant]\n\n" +
		"<details><summary>Thinking</summary>\n\nhmm\n\n</details>\n\n" +
		"**Tool**: `search`\n\n**Input**:\n```json\n{\"q\":\"x\"}\n```\n\n" +
		"**Trace**:\n\n> sub\n\n" +
		"**Result** [OK]:\n```\n3 hits\n```\n\n" +
		"Done.\n\n"
	if got := string(out); got != want {
		t.Errorf("unexpected markdown:\n got: %q\nwant: %q", got, want)
	}
}

// TestMarkdownHidesThinking checks that thinking is dropped when disabled.
func TestMarkdownHidesThinking(t *testing.T) {
	out, err := NewMarkdownExporter(&Options{}).Export(testTranscript())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if strings.Contains(string(out), "hmm") {
		t.Error("thinking content exported while disabled")
	}
}

// TestMarkdownPartialAndFlat checks interrupted labels and plain content fallback.
func TestMarkdownPartialAndFlat(t *testing.T) {
	msg := model.NewMessage("a1", "c1", model.RoleAssistant, "  half an answer  ")
	msg.Partial = true
	tr := &Transcript{
		Conversation: &model.Conversation{ID: "c1"},
		Messages:     []*model.Message{msg},
	}

	out, err := NewMarkdownExporter(plainOptions()).Export(tr)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	want := "# New conversation\n\n### [Assistant] (interrupted)\n\nhalf an answer\n\n"
	if got := string(out); got != want {
		t.Errorf("unexpected markdown:\n got: %q\nwant: %q", got, want)
	}
}

// TestYAMLNewlineInjection checks that titles cannot add frontmatter keys.
func TestYAMLNewlineInjection(t *testing.T) {
	tr := testTranscript()
	tr.Conversation.Title = "Test\nInjection: malicious"

	opts := DefaultOptions()
	opts.Now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	out, err := NewMarkdownExporter(opts).Export(tr)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	result := string(out)
	for _, line := range strings.Split(result, "\n")[1:8] {
		if strings.HasPrefix(line, "Injection:") {
			t.Error("newline not escaped in title")
		}
	}
	if !strings.Contains(result, `title: "Test\nInjection: malicious"`) {
		t.Errorf("expected quoted title, got:\n%s", result)
	}
	if !strings.Contains(result, "exported: 2025-01-02T03:04:05Z") {
		t.Errorf("expected export stamp, got:\n%s", result)
	}
}

// TestEmptyTranscript checks that empty or nil transcripts are rejected.
func TestEmptyTranscript(t *testing.T) {
	cases := []struct {
		name string
		tr   *Transcript
	}{
		{"nil", nil},
		{"no conversation", &Transcript{Messages: testTranscript().Messages}},
		{"no messages", &Transcript{Conversation: &model.Conversation{ID: "c1"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewMarkdownExporter(nil).Export(tc.tr); err == nil {
				t.Error("markdown export should fail")
			}
			if _, err := NewJSONExporter().Export(tc.tr); err == nil {
				t.Error("json export should fail")
			}
		})
	}
	if _, err := NewJSONExporter().Export(&Transcript{Conversation: &model.Conversation{}}); !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("expected ErrEmptyTranscript, got %v", err)
	}
}

// TestJSONReadsBack checks that JSON output decodes into the same blocks.
func TestJSONReadsBack(t *testing.T) {
	tr := testTranscript()
	out, err := NewJSONExporter().Export(tr)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	var back Transcript
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(back.Messages) != 2 || back.Conversation.Title != "Demo" {
		t.Fatalf("unexpected transcript: %+v", back)
	}
	blocks := back.Messages[1].Blocks
	if len(blocks) != 3 || blocks[1].ToolCall == nil || blocks[1].ToolCall.Name != "search" {
		t.Fatalf("tool call lost: %+v", blocks)
	}
	if got := blocks[1].ToolCall.Result.Trace; len(got) != 1 || got[0].Content != "sub" {
		t.Errorf("trace lost: %+v", got)
	}
}

// TestToFile checks the file name and that pending messages are skipped.
func TestToFile(t *testing.T) {
	tr := testTranscript()
	tr.Conversation.Title = "a/b: c"
	tr.Messages = append(tr.Messages, model.NewPendingMessage("c1", model.RoleUser, "unsent"))

	opts := &Options{
		OutputDir: filepath.Join(t.TempDir(), "out"),
		Now:       func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	path, err := ToFile(tr, NewMarkdownExporter(opts), opts)
	if err != nil {
		t.Fatalf("ToFile failed: %v", err)
	}

	if want := filepath.Join(opts.OutputDir, "conversation_a-b-_c_20250102_030405.md"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if strings.Contains(string(data), "unsent") {
		t.Error("pending message exported")
	}
}

// TestFilenameSanitization checks reserved characters and empty names.
func TestFilenameSanitization(t *testing.T) {
	cases := map[string]string{
		"plain":          "plain",
		"a/b\\c":         "a-b-c",
		"x<y>z|?*\"":     "x-y-z----",
		"tab\tnewline\n": "tab_newline_",
		"":               "conversation",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestForFormat checks format name lookup.
func TestForFormat(t *testing.T) {
	for _, name := range []string{"markdown", "MD", "json"} {
		if _, err := ForFormat(name, nil); err != nil {
			t.Errorf("ForFormat(%q): %v", name, err)
		}
	}
	if _, err := ForFormat("html", nil); err == nil {
		t.Error("html should be unsupported")
	}
}
