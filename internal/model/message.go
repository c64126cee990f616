// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PendingPrefix marks locally generated identities of optimistic messages.
const PendingPrefix = "pending-"

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
//
// A message is either fully present in the log or absent; partially streamed
// content only becomes a Message when it is sealed.
type Message struct {
	// Identity
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at"`

	// Content is the raw text. For assistant messages without structured
	// blocks this is the legacy flattened representation.
	Content string         `json:"content"`
	Blocks  []ContentBlock `json:"content_blocks,omitempty"`

	// Partial is set when the message was sealed from an interrupted stream.
	Partial bool `json:"partial,omitempty"`
}

// NewMessage creates a message with a server-issued identity.
func NewMessage(id, conversationID string, role Role, content string) *Message {
	return &Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}
}

// NewPendingMessage creates an optimistic message with a local identity.
func NewPendingMessage(conversationID string, role Role, content string) *Message {
	return NewMessage(NewPendingID(), conversationID, role, content)
}

// NewPendingID returns a fresh "pending-" prefixed identity.
func NewPendingID() string {
	return PendingPrefix + uuid.NewString()
}

// IsPending reports whether the message still carries a local identity.
func (m *Message) IsPending() bool {
	return strings.HasPrefix(m.ID, PendingPrefix)
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.Blocks = CloneBlocks(m.Blocks)
	return &out
}

// DisplayText returns the flattened text of the message.
// Structured messages render their text blocks; legacy messages return Content.
func (m *Message) DisplayText() string {
	if len(m.Blocks) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, b := range m.Blocks {
		if b.Type != BlockText {
			continue
		}
		sb.WriteString(b.Content)
	}
	if sb.Len() == 0 {
		return m.Content
	}
	return sb.String()
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	content := m.DisplayText()
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// IsEmpty returns true if the message has neither content nor blocks.
func (m *Message) IsEmpty() bool {
	return len(m.Content) == 0 && len(m.Blocks) == 0
}

// EstimateTokens gives a rough estimate of token count.
// Uses the approximation of ~4 characters per token.
func (m *Message) EstimateTokens() int {
	return (len(m.DisplayText()) + 3) / 4
}

// CloneMessages deep-copies a message log.
func CloneMessages(msgs []*Message) []*Message {
	if msgs == nil {
		return nil
	}
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
