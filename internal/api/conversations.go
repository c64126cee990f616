// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"

	"github.com/jeranaias/rigsync/internal/model"
)

// MessagePage is one page of conversation history.
type MessagePage struct {
	Messages []*model.Message `json:"messages"`
	Total    int              `json:"total"`
}

type conversationList struct {
	Conversations []*model.Conversation `json:"conversations"`
}

// ListConversations returns every conversation visible to the session.
func (c *Client) ListConversations(ctx context.Context) ([]*model.Conversation, error) {
	var out conversationList
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// CreateConversation creates a conversation and returns it.
func (c *Client) CreateConversation(ctx context.Context, params model.CreateParams) (*model.Conversation, error) {
	var out model.Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/api/conversations", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateConversation applies patch to the conversation.
func (c *Client) UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) error {
	return c.doJSON(ctx, http.MethodPatch, conversationPath(id), patch, nil)
}

// DeleteConversation removes the conversation.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, conversationPath(id), nil, nil)
}

// ListMessages returns the conversation history. Messages missing a
// conversation id inherit id.
func (c *Client) ListMessages(ctx context.Context, id string) (*MessagePage, error) {
	var out MessagePage
	if err := c.doJSON(ctx, http.MethodGet, conversationPath(id)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	for _, m := range out.Messages {
		if m != nil && m.ConversationID == "" {
			m.ConversationID = id
		}
	}
	if out.Total < len(out.Messages) {
		out.Total = len(out.Messages)
	}
	return &out, nil
}

// =============================================================================
// SESSION
// =============================================================================

type refreshResponse struct {
	Token string `json:"token,omitempty"`
}

// RefreshSession asks the server to extend the session. A 2xx answer means
// the session is valid; a returned token replaces the current one. It has
// the transport.SessionRefresher signature.
func (c *Client) RefreshSession(ctx context.Context) bool {
	var out refreshResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/refresh", nil, &out); err != nil {
		c.log.Warn("api: session refresh failed", "error", err)
		return false
	}
	if out.Token != "" {
		c.SetToken(out.Token)
	}
	return true
}
