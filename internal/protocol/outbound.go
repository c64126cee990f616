// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

// =============================================================================
// OUTBOUND CONTROL MESSAGES
// =============================================================================

// Outbound message type values.
const (
	TypeJoinConversation = "join_conversation"
	TypeCancel           = "cancel"
	TypeUserMessage      = "user_message"
	TypeEditMessage      = "edit_message"
	TypeRegenerate       = "regenerate"
)

// JoinConversation subscribes the socket to a conversation's stream.
type JoinConversation struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// NewJoinConversation builds a join_conversation frame.
func NewJoinConversation(conversationID string) JoinConversation {
	return JoinConversation{Type: TypeJoinConversation, ConversationID: conversationID}
}

// Cancel asks the server to stop the current generation.
type Cancel struct {
	Type string `json:"type"`
}

// NewCancel builds a cancel frame.
func NewCancel() Cancel {
	return Cancel{Type: TypeCancel}
}

// UserMessage submits a new user turn. ClientID echoes the optimistic
// message identity so the server may correlate it.
type UserMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	ClientID       string `json:"client_id,omitempty"`
}

// NewUserMessage builds a user_message frame.
func NewUserMessage(conversationID, content, clientID string) UserMessage {
	return UserMessage{
		Type:           TypeUserMessage,
		ConversationID: conversationID,
		Content:        content,
		ClientID:       clientID,
	}
}

// EditMessage replaces a user turn and regenerates everything after it.
type EditMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Content        string `json:"content"`
}

// NewEditMessage builds an edit_message frame.
func NewEditMessage(conversationID, messageID, content string) EditMessage {
	return EditMessage{
		Type:           TypeEditMessage,
		ConversationID: conversationID,
		MessageID:      messageID,
		Content:        content,
	}
}

// Regenerate discards an assistant turn and asks for a new one.
type Regenerate struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// NewRegenerate builds a regenerate frame.
func NewRegenerate(conversationID, messageID string) Regenerate {
	return Regenerate{Type: TypeRegenerate, ConversationID: conversationID, MessageID: messageID}
}
