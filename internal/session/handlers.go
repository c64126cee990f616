// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"github.com/jeranaias/rigsync/internal/blocks"
	"github.com/jeranaias/rigsync/internal/logging"
	"github.com/jeranaias/rigsync/internal/model"
	"github.com/jeranaias/rigsync/internal/protocol"
	"github.com/jeranaias/rigsync/internal/trace"
)

// Handler methods run with mu held; they are reached through HandleEvent.
var _ protocol.Handler = (*Store)(nil)

// =============================================================================
// CONNECTION EVENTS
// =============================================================================

// OnReady rejoins the active conversation after a (re)connect.
func (s *Store) OnReady(protocol.Ready) {
	s.connected = true
	if s.activeID == "" {
		return
	}
	if !s.sender.Send(protocol.NewJoinConversation(s.activeID)) {
		s.logger().Warn("session: rejoin not sent")
	}
}

func (s *Store) OnConnected(ev protocol.Connected) {
	s.connected = true
	s.authFailed = false
	s.logger().Debug("session: connected", "reconnect", ev.Reconnect)
}

// OnDisconnected keeps any streamed content and ends the generation.
func (s *Store) OnDisconnected(ev protocol.Disconnected) {
	s.connected = false
	s.interrupt("disconnected")
}

func (s *Store) OnAuthFailed(protocol.AuthFailed) {
	s.connected = false
	s.authFailed = true
	s.interrupt("auth failed")
}

// interrupt ends a generation that will not complete. An abandoned
// generation ends with it.
func (s *Store) interrupt(reason string) {
	s.abandoned = false
	if s.phase == PhaseIdle {
		return
	}
	s.logger().Info("session: generation interrupted", "reason", reason)
	kept := s.sealPartial()
	s.finishGeneration()
	if kept {
		s.archiveLog()
	}
}

// =============================================================================
// STREAM EVENTS
// =============================================================================

// streamable reports whether stream events can be applied.
func (s *Store) streamable(kind protocol.Kind) bool {
	if s.dropAbandoned(kind, false) {
		return false
	}
	if s.activeID == "" {
		s.log.Debug("session: stream event without active conversation", "kind", kind)
		return false
	}
	return true
}

// applied records that the stream produced something.
func (s *Store) applied(out blocks.Outcome) {
	if out != blocks.OutcomeIgnored {
		s.phase = PhaseStreaming
	}
}

func (s *Store) OnAssistantDelta(ev protocol.AssistantDelta) {
	if s.streamable(protocol.KindAssistantDelta) {
		s.applied(s.builder.Apply(blocks.Text(ev.Delta)))
	}
}

func (s *Store) OnThinkingDelta(ev protocol.ThinkingDelta) {
	if s.streamable(protocol.KindThinkingDelta) {
		s.applied(s.builder.Apply(blocks.Thinking(ev.Delta)))
	}
}

// OnToolCall opens a tool block and replays any trace events that arrived
// before it.
func (s *Store) OnToolCall(ev protocol.ToolCall) {
	if !s.streamable(protocol.KindToolCall) {
		return
	}
	out := s.builder.Apply(blocks.Call(ev.ToolCallID, ev.ToolName, ev.ToolInput))
	if out == blocks.OutcomeIgnored {
		logging.WithToolCall(s.logger(), ev.ToolCallID).Debug("session: duplicate tool call ignored")
		return
	}
	s.applied(out)
	if n := s.traces.Drain(s.builder, ev.ToolCallID); n > 0 {
		logging.WithToolCall(s.logger(), ev.ToolCallID).Debug("session: replayed buffered trace", "count", n)
	}
}

// OnToolResult resolves a known tool block. Results for unknown calls are
// dropped.
func (s *Store) OnToolResult(ev protocol.ToolResult) {
	if !s.streamable(protocol.KindToolResult) {
		return
	}
	out := s.builder.Apply(blocks.Result(ev.ToolCallID, ev.Result, ev.IsError))
	if out == blocks.OutcomeIgnored {
		logging.WithToolCall(s.logger(), ev.ToolCallID).Warn("session: dropping result for unknown tool call")
		return
	}
	s.applied(out)
}

// OnTaskTraceDelta applies a nested sub-task event to its parent tool block,
// buffering it until the parent exists.
func (s *Store) OnTaskTraceDelta(ev protocol.TaskTraceDelta) {
	if !s.streamable(protocol.KindTaskTraceDelta) {
		return
	}
	log := logging.WithToolCall(s.logger(), ev.ToolCallID)
	d, err := ev.Delta()
	if err != nil {
		log.Warn("session: dropping trace event", "event_type", ev.EventType, "error", err)
		return
	}
	if s.traces.Apply(s.builder, ev.ToolCallID, d) == trace.Buffered {
		log.Debug("session: trace event buffered until its tool call arrives")
		return
	}
	s.phase = PhaseStreaming
}

// =============================================================================
// TERMINAL EVENTS
// =============================================================================

// OnComplete seals the generation into an assistant message. The server's
// block list wins when non-empty, then the streamed blocks, then plain text.
func (s *Store) OnComplete(ev protocol.Complete) {
	if s.dropAbandoned(protocol.KindComplete, true) {
		return
	}
	if s.activeID == "" {
		s.finishGeneration()
		return
	}

	s.builder.Close()
	var sealed []model.ContentBlock
	switch {
	case len(ev.ToolCalls) > 0:
		sealed = model.CloneBlocks(ev.ToolCalls)
	case model.HasStructuredContent(s.builder.Blocks()):
		sealed = s.builder.Blocks()
	}

	id := ev.MessageID
	if id == "" {
		id = model.NewPendingID()
	}
	msg := model.NewMessage(id, s.activeID, model.RoleAssistant, ev.Content)
	msg.Blocks = sealed
	if msg.Content == "" {
		msg.Content = msg.DisplayText()
	}

	if ev.UserMessageID != "" {
		s.promoteUserMessage(ev.UserMessageID)
	}
	if !msg.IsEmpty() {
		if i := s.indexOf(msg.ID); i >= 0 {
			s.messages[i] = msg
		} else {
			s.messages = append(s.messages, msg)
		}
	}

	s.finishGeneration()
	s.archiveLog()
}

// promoteUserMessage gives the latest pending user message its server id.
func (s *Store) promoteUserMessage(serverID string) {
	if s.indexOf(serverID) >= 0 {
		return
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.Role == model.RoleUser && m.IsPending() {
			promoted := m.Clone()
			promoted.ID = serverID
			s.messages[i] = promoted
			return
		}
	}
}

// OnError keeps streamed content as a partial message and ends the
// generation.
func (s *Store) OnError(ev protocol.Error) {
	if s.dropAbandoned(protocol.KindError, true) {
		return
	}
	s.lastError = ev.Message
	s.logger().Warn("session: server error", "message", ev.Message)
	kept := s.sealPartial()
	s.finishGeneration()
	if kept {
		s.archiveLog()
	}
}

// OnContainerStatus records the container state. A disconnected container
// ends the generation like an error.
func (s *Store) OnContainerStatus(ev protocol.ContainerStatus) {
	s.container = ev.Status
	s.containerMessage = ev.Message
	if ev.Status == protocol.StatusDisconnected {
		s.interrupt("container disconnected")
	}
}
