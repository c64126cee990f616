// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the domain types shared by the transport, the block
// merger and the session store: conversations, messages, and the ordered
// content blocks that make up an assistant reply.
//
// # Key Types
//
//   - Conversation: Identity, title and model/role configuration of a chat
//   - ConversationPatch: Partial update to a conversation, merged field-wise
//   - Message: Single message with role, raw content and ordered blocks
//   - ContentBlock: Tagged variant (text, thinking, tool_call)
//   - ToolCall: Tool invocation with its result and nested sub-task trace
//
// # Usage
//
// Create an optimistic user message before the server confirms it:
//
//	msg := model.NewPendingMessage(convID, model.RoleUser, "Hello!")
//	fmt.Println(msg.IsPending()) // true, ID starts with "pending-"
//
// Build a block list by hand:
//
//	blocks := []model.ContentBlock{
//	    model.TextBlock("Let me check."),
//	    model.ToolCallBlock("call_1", "search", nil),
//	}
package model
