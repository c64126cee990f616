// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"encoding/json"

	"github.com/jeranaias/rigsync/internal/model"
)

// =============================================================================
// EVENT KINDS
// =============================================================================

// Kind is the value of the envelope "type" field.
type Kind string

const (
	KindReady           Kind = "ready"
	KindAssistantDelta  Kind = "assistant_delta"
	KindThinkingDelta   Kind = "thinking_delta"
	KindToolCall        Kind = "tool_call"
	KindToolResult      Kind = "tool_result"
	KindTaskTraceDelta  Kind = "task_trace_delta"
	KindComplete        Kind = "complete"
	KindError           Kind = "error"
	KindContainerStatus Kind = "container_status"

	// Local kinds are synthesized by the transport, never sent by the server.
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
	KindAuthFailed   Kind = "auth_failed"
)

// InboundKinds lists every kind the server may send.
func InboundKinds() []Kind {
	return []Kind{
		KindReady,
		KindAssistantDelta,
		KindThinkingDelta,
		KindToolCall,
		KindToolResult,
		KindTaskTraceDelta,
		KindComplete,
		KindError,
		KindContainerStatus,
	}
}

// LocalKinds lists the kinds synthesized by the transport.
func LocalKinds() []Kind {
	return []Kind{KindConnected, KindDisconnected, KindAuthFailed}
}

// AllKinds lists inbound and local kinds.
func AllKinds() []Kind {
	return append(InboundKinds(), LocalKinds()...)
}

// =============================================================================
// EVENT INTERFACE
// =============================================================================

// Event is a decoded event. The interface is sealed: only this package
// declares implementations.
type Event interface {
	Kind() Kind
	accept(h Handler)
}

// Handler receives events by kind. Implementations must cover every kind.
type Handler interface {
	OnReady(Ready)
	OnAssistantDelta(AssistantDelta)
	OnThinkingDelta(ThinkingDelta)
	OnToolCall(ToolCall)
	OnToolResult(ToolResult)
	OnTaskTraceDelta(TaskTraceDelta)
	OnComplete(Complete)
	OnError(Error)
	OnContainerStatus(ContainerStatus)
	OnConnected(Connected)
	OnDisconnected(Disconnected)
	OnAuthFailed(AuthFailed)
}

// Dispatch routes ev to the matching Handler method.
func Dispatch(ev Event, h Handler) {
	if ev == nil || h == nil {
		return
	}
	ev.accept(h)
}

// =============================================================================
// INBOUND EVENTS
// =============================================================================

// Ready is sent once the server has accepted the connection.
type Ready struct{}

// AssistantDelta carries a fragment of assistant text.
type AssistantDelta struct {
	Delta string `json:"delta"`
}

// ThinkingDelta carries a fragment of model reasoning.
type ThinkingDelta struct {
	Delta string `json:"delta"`
}

// ToolCall announces a tool invocation.
type ToolCall struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
}

// ToolResult resolves a previously announced tool invocation.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Result     json.RawMessage `json:"result,omitempty"`
	IsError    bool            `json:"is_error"`
}

// TaskTraceDelta is a nested sub-task event belonging to a tool call.
type TaskTraceDelta struct {
	ToolCallID string          `json:"tool_call_id"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Complete ends a generation.
type Complete struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`

	// ToolCalls is the server's structured block list for the message.
	ToolCalls []model.ContentBlock `json:"tool_calls,omitempty"`

	// UserMessageID, when present, is the server identity assigned to the
	// user message that started this generation.
	UserMessageID string `json:"user_message_id,omitempty"`
}

// Error reports a failed generation.
type Error struct {
	Message string `json:"message"`
}

// Container status values.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// ContainerStatus reports the state of the remote execution container.
type ContainerStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// =============================================================================
// LOCAL EVENTS
// =============================================================================

// Connected is emitted by the transport after a successful (re)connect.
type Connected struct {
	Reconnect bool `json:"-"`
}

// Disconnected is emitted by the transport after an unexpected close.
type Disconnected struct {
	Err error `json:"-"`
}

// AuthFailed is emitted when the session refresher rejects a reconnect.
type AuthFailed struct{}

// =============================================================================
// KIND / ACCEPT IMPLEMENTATIONS
// =============================================================================

func (Ready) Kind() Kind           { return KindReady }
func (AssistantDelta) Kind() Kind  { return KindAssistantDelta }
func (ThinkingDelta) Kind() Kind   { return KindThinkingDelta }
func (ToolCall) Kind() Kind        { return KindToolCall }
func (ToolResult) Kind() Kind      { return KindToolResult }
func (TaskTraceDelta) Kind() Kind  { return KindTaskTraceDelta }
func (Complete) Kind() Kind        { return KindComplete }
func (Error) Kind() Kind           { return KindError }
func (ContainerStatus) Kind() Kind { return KindContainerStatus }
func (Connected) Kind() Kind       { return KindConnected }
func (Disconnected) Kind() Kind    { return KindDisconnected }
func (AuthFailed) Kind() Kind      { return KindAuthFailed }

func (e Ready) accept(h Handler)           { h.OnReady(e) }
func (e AssistantDelta) accept(h Handler)  { h.OnAssistantDelta(e) }
func (e ThinkingDelta) accept(h Handler)   { h.OnThinkingDelta(e) }
func (e ToolCall) accept(h Handler)        { h.OnToolCall(e) }
func (e ToolResult) accept(h Handler)      { h.OnToolResult(e) }
func (e TaskTraceDelta) accept(h Handler)  { h.OnTaskTraceDelta(e) }
func (e Complete) accept(h Handler)        { h.OnComplete(e) }
func (e Error) accept(h Handler)           { h.OnError(e) }
func (e ContainerStatus) accept(h Handler) { h.OnContainerStatus(e) }
func (e Connected) accept(h Handler)       { h.OnConnected(e) }
func (e Disconnected) accept(h Handler)    { h.OnDisconnected(e) }
func (e AuthFailed) accept(h Handler)      { h.OnAuthFailed(e) }
