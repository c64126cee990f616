// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigsync/internal/model"
	"github.com/jeranaias/rigsync/internal/protocol"
)

// =============================================================================
// SELECTION TESTS
// =============================================================================

func TestSelectConversation_LoadsHistoryAndJoins(t *testing.T) {
	f := newFixture(t, false)
	f.activate(t, "c1", userMsg("u1", "hi"), assistantMsg("a1", "hello"))

	st := f.store.Snapshot()
	assert.Equal(t, "c1", st.ActiveID)
	assert.Equal(t, []string{"u1", "a1"}, ids(st.Messages))
	assert.False(t, st.Loading)
	assert.False(t, st.Stale)
	assert.Equal(t, protocol.NewJoinConversation("c1"), f.sender.Frames()[0])
}

func TestSelectConversation_LatestSelectionWins(t *testing.T) {
	tests := []struct {
		name         string
		releaseFirst string
	}{
		{name: "older response arrives first", releaseFirst: "c1"},
		{name: "older response arrives last", releaseFirst: "c2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			gates := map[string]chan struct{}{"c1": make(chan struct{}), "c2": make(chan struct{})}
			f.backend.gates = gates
			f.backend.history["c1"] = []*model.Message{userMsg("from-c1", "one")}
			f.backend.history["c2"] = []*model.Message{userMsg("from-c2", "two")}

			results := map[string]chan error{"c1": make(chan error, 1), "c2": make(chan error, 1)}
			for _, id := range []string{"c1", "c2"} {
				id := id
				go func() { results[id] <- f.store.SelectConversation(context.Background(), id) }()
				waitCall(t, f.backend.calls, id)
			}

			order := []string{"c1", "c2"}
			if tt.releaseFirst == "c2" {
				order = []string{"c2", "c1"}
			}
			for _, id := range order {
				close(gates[id])
				require.NoError(t, <-results[id])
			}

			st := f.store.Snapshot()
			assert.Equal(t, "c2", st.ActiveID)
			assert.Equal(t, []string{"from-c2"}, ids(st.Messages))
			assert.False(t, st.Loading)
		})
	}
}

func TestSelectConversation_DiscardsPreviousStream(t *testing.T) {
	f := newFixture(t, false)
	f.activate(t, "c1")
	require.NoError(t, f.store.SendMessage("hi"))
	f.emit(protocol.AssistantDelta{Delta: "partial"})

	f.activate(t, "c2")

	st := f.store.Snapshot()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Empty(t, st.Streaming)
	assert.Empty(t, st.Messages)
}

func TestSelectConversation_AbandonedGenerationStaysOut(t *testing.T) {
	tests := []struct {
		name     string
		terminal protocol.Event
	}{
		{"complete", protocol.Complete{MessageID: "a1", Content: "answer for c1"}},
		{"error", protocol.Error{Message: "cancelled"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			f.activate(t, "c1")
			require.NoError(t, f.store.SendMessage("hi"))
			f.emit(protocol.AssistantDelta{Delta: "partial"})

			f.activate(t, "c2", userMsg("u9", "other"))
			assert.Contains(t, f.sender.Frames(), any(protocol.NewCancel()))

			// Late events of the c1 generation leave c2 untouched.
			f.emit(
				protocol.AssistantDelta{Delta: " more"},
				protocol.ToolCall{ToolCallID: "t1", ToolName: "search"},
				tt.terminal,
			)
			st := f.store.Snapshot()
			assert.Equal(t, PhaseIdle, st.Phase)
			assert.Empty(t, st.Streaming)
			assert.Empty(t, st.LastError)
			assert.Equal(t, []string{"u9"}, ids(st.Messages))
			assert.Equal(t, []string{"u9"}, ids(f.archive.Stored("c2")))

			// The next generation in c2 streams normally.
			require.NoError(t, f.store.SendMessage("next"))
			f.emit(protocol.AssistantDelta{Delta: "fresh"})
			st = f.store.Snapshot()
			assert.Equal(t, PhaseStreaming, st.Phase)
			assert.Equal(t, []model.ContentBlock{model.TextBlock("fresh")}, st.Streaming)
		})
	}
}

func TestSelectConversation_IdleSwitchKeepsEvents(t *testing.T) {
	f := newFixture(t, false)
	f.activate(t, "c1")
	f.activate(t, "c2")
	assert.NotContains(t, f.sender.Frames(), any(protocol.NewCancel()))

	require.NoError(t, f.store.SendMessage("hi"))
	f.emit(protocol.Complete{MessageID: "a1", Content: "answer"})
	assert.Equal(t, "a1", f.store.Snapshot().Messages[1].ID)
}

func TestSelectConversation_DisconnectEndsAbandonedGeneration(t *testing.T) {
	f := newFixture(t, false)
	f.activate(t, "c1")
	require.NoError(t, f.store.SendMessage("hi"))
	f.activate(t, "c2")

	// The abandoned generation cannot finish after the socket drops.
	f.emit(protocol.Disconnected{}, protocol.Connected{Reconnect: true})
	require.NoError(t, f.store.SendMessage("again"))
	f.emit(protocol.AssistantDelta{Delta: "kept"})

	assert.Equal(t, PhaseStreaming, f.store.Snapshot().Phase)
}

func TestSelectConversation_FallsBackToArchive(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.archive.ReplaceMessages(context.Background(), "c1",
		[]*model.Message{userMsg("u1", "archived")}))
	f.backend.historyErr = errUnavailable

	require.NoError(t, f.store.SelectConversation(context.Background(), "c1"))

	st := f.store.Snapshot()
	assert.True(t, st.Stale)
	assert.Empty(t, st.LastError)
	assert.Equal(t, []string{"u1"}, ids(st.Messages))
}

func TestSelectConversation_ErrorWithoutArchive(t *testing.T) {
	f := newFixture(t, false)
	f.backend.historyErr = errUnavailable

	err := f.store.SelectConversation(context.Background(), "c1")
	require.ErrorIs(t, err, errUnavailable)

	st := f.store.Snapshot()
	assert.Equal(t, errUnavailable.Error(), st.LastError)
	assert.False(t, st.Loading)
	assert.False(t, st.Stale)
}

func TestSelectConversation_ArchivesFetchedHistory(t *testing.T) {
	f := newFixture(t, true)
	f.activate(t, "c1", userMsg("u1", "hi"))

	assert.Equal(t, []string{"u1"}, ids(f.archive.Stored("c1")))
}

// =============================================================================
// SEND TESTS
// =============================================================================

func TestSendMessage_Optimistic(t *testing.T) {
	f := newFixture(t, false)
	f.activate(t, "c1")

	require.NoError(t, f.store.SendMessage("hello"))

	st := f.store.Snapshot()
	require.Len(t, st.Messages, 1)
	msg := st.Messages[0]
	assert.True(t, msg.IsPending())
	assert.Equal(t, model.RoleUser, msg.Role)
	assert.Equal(t, PhaseWaiting, st.Phase)
	assert.Equal(t, protocol.NewUserMessage("c1", "hello", msg.ID), f.sender.Last())
}

func TestSendMessage_Preconditions(t *testing.T) {
	f := newFixture(t, false)

	assert.ErrorIs(t, f.store.SendMessage("hi"), ErrNoActiveConversation)

	f.activate(t, "c1")
	assert.ErrorIs(t, f.store.SendMessage("   "), ErrEmptyMessage)

	require.NoError(t, f.store.SendMessage("first"))
	assert.ErrorIs(t, f.store.SendMessage("second"), ErrGenerationInProgress)
	assert.Len(t, f.store.Snapshot().Messages, 1)
}

// =============================================================================
// ROLLBACK TESTS
// =============================================================================

func TestActions_RollBackWhenSendFails(t *testing.T) {
	tests := []struct {
		name   string
		action func(s *Store) error
	}{
		{name: "send", action: func(s *Store) error { return s.SendMessage("again") }},
		{name: "edit", action: func(s *Store) error { return s.EditMessage("u1", "changed") }},
		{name: "regenerate", action: func(s *Store) error { return s.RegenerateMessage("a1") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			f.activate(t, "c1",
				userMsg("u1", "question"),
				assistantMsg("a1", "answer"),
				userMsg("u2", "follow up"),
				assistantMsg("a2", "more"),
			)
			before := f.store.Snapshot()
			f.sender.SetOpen(false)

			err := tt.action(f.store)
			require.ErrorIs(t, err, ErrSendFailed)

			after := f.store.Snapshot()
			assert.Equal(t, before.Messages, after.Messages)
			assert.Equal(t, before.Phase, after.Phase)
			assert.Equal(t, before.Cancel, after.Cancel)
			assert.True(t, after.SendFailed)

			// A later success clears the flag.
			f.sender.SetOpen(true)
			require.NoError(t, tt.action(f.store))
			assert.False(t, f.store.Snapshot().SendFailed)
		})
	}
}

// =============================================================================
// EDIT / REGENERATE TESTS
// =============================================================================

func TestEditMessage_TruncatesThroughEditedMessage(t *testing.T) {
	f := newFixture(t, false)
	f.activate(t, "c1",
		userMsg("u1", "question"),
		assistantMsg("a1", "answer"),
		userMsg("u2", "follow up"),
		assistantMsg("a2", "more"),
	)

	require.NoError(t, f.store.EditMessage("u2", "rephrased"))

	st := f.store.Snapshot()
	assert.Equal(t, []string{"u1", "a1", "u2"}, ids(st.Messages))
	assert.Equal(t, "rephrased", st.Messages[2].Content)
	assert.Equal(t, PhaseWaiting, st.Phase)
	assert.Equal(t, protocol.NewEditMessage("c1", "u2", "rephrased"), f.sender.Last())
}

func TestEditMessage_AssistantMessageIsNoop(t *testing.T) {
	f := newFixture(t, false)
	f.activate(t, "c1", userMsg("u1", "q"), assistantMsg("a1", "a"))
	before := f.store.Snapshot()
	frames := len(f.sender.Frames())

	require.NoError(t, f.store.EditMessage("a1", "rewritten"))

	assert.Equal(t, before.Messages, f.store.Snapshot().Messages)
	assert.Len(t, f.sender.Frames(), frames)
}

func TestEditMessage_Rejections(t *testing.T) {
	f := newFixture(t, false)
	f.activate(t, "c1", userMsg("u1", "q"))

	assert.ErrorIs(t, f.store.EditMessage("missing", "x"), ErrMessageNotFound)

	require.NoError(t, f.store.SendMessage("pending"))
	pending := f.store.Snapshot().Messages[1]
	assert.ErrorIs(t, f.store.EditMessage(pending.ID, "x"), ErrMessagePending)
	assert.ErrorIs(t, f.store.EditMessage("u1", "x"), ErrGenerationInProgress)
}

func TestRegenerateMessage_TruncatesBeforeMessage(t *testing.T) {
	f := newFixture(t, false)
	f.activate(t, "c1",
		userMsg("u1", "question"),
		assistantMsg("a1", "answer"),
		userMsg("u2", "follow up"),
	)

	require.NoError(t, f.store.RegenerateMessage("a1"))

	st := f.store.Snapshot()
	assert.Equal(t, []string{"u1"}, ids(st.Messages))
	assert.Equal(t, PhaseWaiting, st.Phase)
	assert.Equal(t, protocol.NewRegenerate("c1", "a1"), f.sender.Last())
}

func TestRegenerateMessage_UserMessageIsNoop(t *testing.T) {
	f := newFixture(t, false)
	f.activate(t, "c1", userMsg("u1", "q"), assistantMsg("a1", "a"))
	frames := len(f.sender.Frames())

	require.NoError(t, f.store.RegenerateMessage("u1"))

	st := f.store.Snapshot()
	assert.Equal(t, []string{"u1", "a1"}, ids(st.Messages))
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Len(t, f.sender.Frames(), frames)
}

// =============================================================================
// CANCEL TESTS
// =============================================================================

func TestCancelGeneration_TwoPhase(t *testing.T) {
	f := newFixture(t, false)
	f.activate(t, "c1")

	assert.False(t, f.store.CancelGeneration(), "nothing to cancel while idle")

	require.NoError(t, f.store.SendMessage("hi"))
	f.emit(protocol.AssistantDelta{Delta: "part"})

	require.True(t, f.store.CancelGeneration())
	assert.Equal(t, protocol.NewCancel(), f.sender.Last())

	st := f.store.Snapshot()
	assert.Equal(t, CancelRequested, st.Cancel)
	assert.Equal(t, PhaseStreaming, st.Phase, "cancel must not reset the stream locally")

	// Repeated requests do not send again.
	frames := len(f.sender.Frames())
	assert.True(t, f.store.CancelGeneration())
	assert.Len(t, f.sender.Frames(), frames)

	f.emit(protocol.Complete{MessageID: "a1", Content: "part"})

	st = f.store.Snapshot()
	assert.Equal(t, CancelTerminated, st.Cancel)
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Equal(t, "a1", st.Messages[len(st.Messages)-1].ID)
}

func TestCancelGeneration_NotSentStaysRunning(t *testing.T) {
	f := newFixture(t, false)
	f.activate(t, "c1")
	require.NoError(t, f.store.SendMessage("hi"))
	f.sender.SetOpen(false)

	assert.False(t, f.store.CancelGeneration())

	st := f.store.Snapshot()
	assert.Equal(t, CancelNone, st.Cancel)
	assert.Equal(t, PhaseWaiting, st.Phase)
}

// =============================================================================
// NOTIFICATION TESTS
// =============================================================================

func TestChanges_CoalescesNotifications(t *testing.T) {
	f := newFixture(t, false)
	f.activate(t, "c1")
	require.NoError(t, f.store.SendMessage("hi"))
	f.emit(protocol.AssistantDelta{Delta: "a"}, protocol.AssistantDelta{Delta: "b"})

	select {
	case <-f.store.Changes():
	case <-time.After(time.Second):
		t.Fatal("expected a change notification")
	}
	select {
	case <-f.store.Changes():
		t.Fatal("notifications should coalesce")
	default:
	}
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	f := newFixture(t, false)
	f.activate(t, "c1", userMsg("u1", "original"))

	st := f.store.Snapshot()
	st.Messages[0].Content = "mutated"

	assert.Equal(t, "original", f.store.Snapshot().Messages[0].Content)
}
