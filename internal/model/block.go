// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"bytes"
	"encoding/json"
)

// =============================================================================
// CONTENT BLOCK TYPE
// =============================================================================

// BlockType tags the variant held by a ContentBlock.
type BlockType string

const (
	BlockText     BlockType = "text"
	BlockThinking BlockType = "thinking"
	BlockToolCall BlockType = "tool_call"
)

// ContentBlock is one typed unit of a message's rendered sequence.
//
// Text and Thinking blocks carry Content; ToolCall blocks carry ToolCall.
type ContentBlock struct {
	Type     BlockType
	Content  string
	ToolCall *ToolCall
}

// ToolCall is a tool invocation made by the assistant.
type ToolCall struct {
	ID        string
	Name      string
	Input     json.RawMessage
	Result    *ToolResult
	IsLoading bool
	IsError   bool
}

// ToolResult is the result payload of a tool call. Trace holds the nested
// sub-task events assembled for the call, using the same block rules as the
// enclosing message.
type ToolResult struct {
	Content json.RawMessage
	Trace   []ContentBlock
}

// TextBlock returns a text block.
func TextBlock(content string) ContentBlock {
	return ContentBlock{Type: BlockText, Content: content}
}

// ThinkingBlock returns a thinking block.
func ThinkingBlock(content string) ContentBlock {
	return ContentBlock{Type: BlockThinking, Content: content}
}

// ToolCallBlock returns a loading tool call block.
func ToolCallBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{
		Type:     BlockToolCall,
		ToolCall: &ToolCall{ID: id, Name: name, Input: input, IsLoading: true},
	}
}

// Clone returns a deep copy of the block.
func (b ContentBlock) Clone() ContentBlock {
	out := b
	if b.ToolCall != nil {
		tc := *b.ToolCall
		tc.Input = cloneRaw(b.ToolCall.Input)
		if b.ToolCall.Result != nil {
			tc.Result = &ToolResult{
				Content: cloneRaw(b.ToolCall.Result.Content),
				Trace:   CloneBlocks(b.ToolCall.Result.Trace),
			}
		}
		out.ToolCall = &tc
	}
	return out
}

// CloneBlocks deep-copies a block list.
func CloneBlocks(blocks []ContentBlock) []ContentBlock {
	if blocks == nil {
		return nil
	}
	out := make([]ContentBlock, len(blocks))
	for i, b := range blocks {
		out[i] = b.Clone()
	}
	return out
}

// HasStructuredContent reports whether the list carries anything worth
// keeping: a non-empty text/thinking block or any tool call.
func HasStructuredContent(blocks []ContentBlock) bool {
	for _, b := range blocks {
		switch b.Type {
		case BlockToolCall:
			return true
		default:
			if b.Content != "" {
				return true
			}
		}
	}
	return false
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// =============================================================================
// JSON ENCODING
// =============================================================================

// blockWire is the flattened wire shape of a block. Older servers send tool
// calls without a type tag; those are recognised by their id and name.
type blockWire struct {
	Type      BlockType       `json:"type,omitempty"`
	Content   string          `json:"content,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	IsLoading bool            `json:"is_loading,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type resultWire struct {
	Content json.RawMessage `json:"content,omitempty"`
	Trace   []ContentBlock  `json:"trace"`
}

// MarshalJSON implements json.Marshaler.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	w := blockWire{Type: b.Type, Content: b.Content}
	if b.ToolCall != nil {
		w.ID = b.ToolCall.ID
		w.Name = b.ToolCall.Name
		w.Input = b.ToolCall.Input
		w.IsLoading = b.ToolCall.IsLoading
		w.IsError = b.ToolCall.IsError
		if r := b.ToolCall.Result; r != nil {
			if len(r.Trace) > 0 {
				raw, err := json.Marshal(resultWire{Content: r.Content, Trace: r.Trace})
				if err != nil {
					return nil, err
				}
				w.Result = raw
			} else {
				w.Result = r.Content
			}
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var w blockWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Type == "" {
		if w.ID != "" || w.Name != "" {
			w.Type = BlockToolCall
		} else {
			w.Type = BlockText
		}
	}
	*b = ContentBlock{Type: w.Type, Content: w.Content}
	if w.Type != BlockToolCall {
		return nil
	}
	tc := &ToolCall{
		ID:        w.ID,
		Name:      w.Name,
		Input:     w.Input,
		IsLoading: w.IsLoading,
		IsError:   w.IsError,
	}
	if len(w.Result) > 0 && !bytes.Equal(bytes.TrimSpace(w.Result), []byte("null")) {
		tc.Result = decodeResult(w.Result)
	}
	b.ToolCall = tc
	return nil
}

func decodeResult(raw json.RawMessage) *ToolResult {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &keys); err == nil {
			if _, ok := keys["trace"]; ok {
				var rw resultWire
				if err := json.Unmarshal(trimmed, &rw); err == nil {
					return &ToolResult{Content: rw.Content, Trace: rw.Trace}
				}
			}
		}
	}
	return &ToolResult{Content: cloneRaw(raw)}
}
