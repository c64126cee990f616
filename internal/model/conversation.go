// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"time"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds the identity and configuration of a chat.
// Messages are owned by the session store, not the conversation.
type Conversation struct {
	// Identity
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Model configuration
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt,omitempty"`

	// ShareToken is set when the conversation has been shared.
	ShareToken string `json:"share_token,omitempty"`
}

// Clone returns a copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// DisplayTitle returns the title, or a placeholder for untitled chats.
func (c *Conversation) DisplayTitle() string {
	if c.Title == "" {
		return "New conversation"
	}
	return c.Title
}

// CreateParams are the fields accepted when creating a conversation.
type CreateParams struct {
	Title        string `json:"title,omitempty"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// =============================================================================
// CONVERSATION PATCH
// =============================================================================

// ConversationPatch is a partial update. Nil fields are left untouched.
type ConversationPatch struct {
	Title        *string `json:"title,omitempty"`
	Model        *string `json:"model,omitempty"`
	SystemPrompt *string `json:"system_prompt,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ConversationPatch) IsEmpty() bool {
	return p.Title == nil && p.Model == nil && p.SystemPrompt == nil
}

// Merge returns p overlaid with the non-nil fields of later.
func (p ConversationPatch) Merge(later ConversationPatch) ConversationPatch {
	out := p
	if later.Title != nil {
		out.Title = later.Title
	}
	if later.Model != nil {
		out.Model = later.Model
	}
	if later.SystemPrompt != nil {
		out.SystemPrompt = later.SystemPrompt
	}
	return out
}

// Apply writes the patch onto the conversation.
func (p ConversationPatch) Apply(c *Conversation) {
	if c == nil {
		return
	}
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Model != nil {
		c.Model = *p.Model
	}
	if p.SystemPrompt != nil {
		c.SystemPrompt = *p.SystemPrompt
	}
	c.UpdatedAt = time.Now()
}

// StringPtr is a convenience for building patches.
func StringPtr(s string) *string {
	return &s
}
