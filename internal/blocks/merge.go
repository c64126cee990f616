// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package blocks folds streamed delta events into an ordered block list.
//
// The rules are the same at every nesting level, so a tool call's sub-task
// trace is built with its own Builder:
//
//   - text/thinking deltas extend the last block when it is open and of the
//     same kind, otherwise they close it and open a new block
//   - a tool call always opens a new, loading ToolCall block
//   - a tool result resolves the ToolCall with the same identity wherever it
//     sits in the list; unknown identities are ignored
package blocks

import (
	"encoding/json"

	"github.com/jeranaias/rigsync/internal/model"
)

// =============================================================================
// DELTA TYPE
// =============================================================================

// DeltaKind identifies the kind of a delta.
type DeltaKind int

const (
	DeltaText DeltaKind = iota
	DeltaThinking
	DeltaToolCall
	DeltaToolResult
)

// String returns the wire name of the delta kind.
func (k DeltaKind) String() string {
	switch k {
	case DeltaText:
		return "text"
	case DeltaThinking:
		return "thinking"
	case DeltaToolCall:
		return "tool_call"
	case DeltaToolResult:
		return "tool_result"
	default:
		return "unknown"
	}
}

// Delta is one incremental change to a block list.
type Delta struct {
	Kind DeltaKind

	// Text holds the fragment for text and thinking deltas.
	Text string

	// Tool call fields.
	ToolCallID string
	ToolName   string
	Input      json.RawMessage
	Result     json.RawMessage
	IsError    bool
}

// Text returns a text delta.
func Text(s string) Delta { return Delta{Kind: DeltaText, Text: s} }

// Thinking returns a thinking delta.
func Thinking(s string) Delta { return Delta{Kind: DeltaThinking, Text: s} }

// Call returns a tool call delta.
func Call(id, name string, input json.RawMessage) Delta {
	return Delta{Kind: DeltaToolCall, ToolCallID: id, ToolName: name, Input: input}
}

// Result returns a tool result delta.
func Result(id string, result json.RawMessage, isError bool) Delta {
	return Delta{Kind: DeltaToolResult, ToolCallID: id, Result: result, IsError: isError}
}

// Outcome describes what applying a delta did.
type Outcome int

const (
	// OutcomeIgnored means the delta had no effect (empty fragment,
	// duplicate tool call identity, or result for an unknown call).
	OutcomeIgnored Outcome = iota
	OutcomeAppended
	OutcomeOpened
	OutcomeResolved
)

// =============================================================================
// BUILDER
// =============================================================================

// Builder accumulates a block list. The zero value is ready to use.
// A Builder is not safe for concurrent use.
type Builder struct {
	blocks []model.ContentBlock
	open   bool
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Apply folds one delta into the list.
func (b *Builder) Apply(d Delta) Outcome {
	switch d.Kind {
	case DeltaText:
		return b.appendText(model.BlockText, d.Text)
	case DeltaThinking:
		return b.appendText(model.BlockThinking, d.Text)
	case DeltaToolCall:
		return b.openToolCall(d.ToolCallID, d.ToolName, d.Input)
	case DeltaToolResult:
		return b.resolveToolCall(d.ToolCallID, d.Result, d.IsError)
	default:
		return OutcomeIgnored
	}
}

func (b *Builder) appendText(kind model.BlockType, fragment string) Outcome {
	if fragment == "" {
		return OutcomeIgnored
	}
	if n := len(b.blocks); n > 0 && b.open && b.blocks[n-1].Type == kind {
		b.blocks[n-1].Content += fragment
		return OutcomeAppended
	}
	b.blocks = append(b.blocks, model.ContentBlock{Type: kind, Content: fragment})
	b.open = true
	return OutcomeOpened
}

func (b *Builder) openToolCall(id, name string, input json.RawMessage) Outcome {
	if b.indexOf(id) >= 0 {
		return OutcomeIgnored
	}
	b.blocks = append(b.blocks, model.ToolCallBlock(id, name, input))
	b.open = false
	return OutcomeOpened
}

func (b *Builder) resolveToolCall(id string, result json.RawMessage, isError bool) Outcome {
	i := b.indexOf(id)
	if i < 0 {
		return OutcomeIgnored
	}
	tc := b.blocks[i].ToolCall
	if tc.Result == nil {
		tc.Result = &model.ToolResult{}
	}
	tc.Result.Content = result
	tc.IsError = isError
	tc.IsLoading = false
	b.open = false
	return OutcomeResolved
}

func (b *Builder) indexOf(id string) int {
	for i := range b.blocks {
		if tc := b.blocks[i].ToolCall; tc != nil && tc.ID == id {
			return i
		}
	}
	return -1
}

// HasToolCall reports whether a ToolCall block with this identity exists.
func (b *Builder) HasToolCall(id string) bool {
	return b.indexOf(id) >= 0
}

// SetTrace attaches a sub-task trace to the result payload of a tool call.
// It returns false when no such tool call exists.
func (b *Builder) SetTrace(id string, trace []model.ContentBlock) bool {
	i := b.indexOf(id)
	if i < 0 {
		return false
	}
	tc := b.blocks[i].ToolCall
	if tc.Result == nil {
		tc.Result = &model.ToolResult{}
	}
	tc.Result.Trace = trace
	return true
}

// Close seals the open text/thinking block, if any.
func (b *Builder) Close() {
	b.open = false
}

// Reset discards all blocks.
func (b *Builder) Reset() {
	b.blocks = nil
	b.open = false
}

// Len returns the number of blocks.
func (b *Builder) Len() int {
	return len(b.blocks)
}

// HasContent reports whether anything worth sealing has accumulated.
func (b *Builder) HasContent() bool {
	return model.HasStructuredContent(b.blocks)
}

// Blocks returns a deep copy of the current list.
func (b *Builder) Blocks() []model.ContentBlock {
	return model.CloneBlocks(b.blocks)
}

// Fold applies deltas in order to an empty list and returns the sealed result.
func Fold(deltas ...Delta) []model.ContentBlock {
	var b Builder
	for _, d := range deltas {
		b.Apply(d)
	}
	b.Close()
	return b.Blocks()
}
