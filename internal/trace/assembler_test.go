// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package trace

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigsync/internal/blocks"
	"github.com/jeranaias/rigsync/internal/model"
)

func traceOf(t *testing.T, b *blocks.Builder, id string) []model.ContentBlock {
	t.Helper()
	for _, blk := range b.Blocks() {
		if blk.ToolCall != nil && blk.ToolCall.ID == id {
			if blk.ToolCall.Result == nil {
				return nil
			}
			return blk.ToolCall.Result.Trace
		}
	}
	t.Fatalf("tool call %q not found", id)
	return nil
}

func resultOf(t *testing.T, b *blocks.Builder, id string) json.RawMessage {
	t.Helper()
	for _, blk := range b.Blocks() {
		if blk.ToolCall != nil && blk.ToolCall.ID == id && blk.ToolCall.Result != nil {
			return blk.ToolCall.Result.Content
		}
	}
	return nil
}

var subEvents = []blocks.Delta{
	blocks.Thinking("look "),
	blocks.Thinking("around"),
	blocks.Call("n1", "grep", json.RawMessage(`{"q":"x"}`)),
	blocks.Text("found "),
	blocks.Result("n1", json.RawMessage(`"3 hits"`), false),
	blocks.Text("it"),
}

// =============================================================================
// APPLY / DRAIN TESTS
// =============================================================================

func TestAssembler_AppliesWhenParentExists(t *testing.T) {
	msg := blocks.NewBuilder()
	msg.Apply(blocks.Call("p1", "task", nil))
	a := NewAssembler()

	for _, d := range subEvents {
		assert.Equal(t, Applied, a.Apply(msg, "p1", d))
	}

	trace := traceOf(t, msg, "p1")
	require.Len(t, trace, 4)
	assert.Equal(t, model.ThinkingBlock("look around"), trace[0])
	assert.Equal(t, "grep", trace[1].ToolCall.Name)
	assert.False(t, trace[1].ToolCall.IsLoading)
	assert.Equal(t, "found ", trace[2].Content)
	assert.Equal(t, "it", trace[3].Content)
}

func TestAssembler_BufferedReplayMatchesLiveOrder(t *testing.T) {
	// Reference: parent first, then every trace event.
	live := blocks.NewBuilder()
	live.Apply(blocks.Call("p1", "task", nil))
	liveAsm := NewAssembler()
	for _, d := range subEvents {
		liveAsm.Apply(live, "p1", d)
	}

	// Trace events first, parent later.
	late := blocks.NewBuilder()
	lateAsm := NewAssembler()
	for _, d := range subEvents {
		assert.Equal(t, Buffered, lateAsm.Apply(late, "p1", d))
	}
	assert.Equal(t, map[string]int{"p1": len(subEvents)}, lateAsm.Pending())

	late.Apply(blocks.Call("p1", "task", nil))
	assert.Equal(t, len(subEvents), lateAsm.Drain(late, "p1"))

	assert.Equal(t, traceOf(t, live, "p1"), traceOf(t, late, "p1"))
	assert.Empty(t, lateAsm.Pending())
}

func TestAssembler_DrainIsExactlyOnce(t *testing.T) {
	msg := blocks.NewBuilder()
	a := NewAssembler()
	a.Apply(msg, "p1", blocks.Text("once"))

	msg.Apply(blocks.Call("p1", "task", nil))
	assert.Equal(t, 1, a.Drain(msg, "p1"))
	assert.Equal(t, 0, a.Drain(msg, "p1"))

	trace := traceOf(t, msg, "p1")
	require.Len(t, trace, 1)
	assert.Equal(t, "once", trace[0].Content)
}

func TestAssembler_BuffersAreKeyedByParent(t *testing.T) {
	msg := blocks.NewBuilder()
	a := NewAssembler()
	a.Apply(msg, "p1", blocks.Text("one"))
	a.Apply(msg, "p2", blocks.Text("two"))

	msg.Apply(blocks.Call("p2", "task", nil))
	assert.Equal(t, 1, a.Drain(msg, "p2"))
	assert.Equal(t, map[string]int{"p1": 1}, a.Pending())

	trace := traceOf(t, msg, "p2")
	require.Len(t, trace, 1)
	assert.Equal(t, "two", trace[0].Content)
}

func TestAssembler_TraceSurvivesParentResult(t *testing.T) {
	msg := blocks.NewBuilder()
	msg.Apply(blocks.Call("p1", "task", nil))
	a := NewAssembler()
	a.Apply(msg, "p1", blocks.Text("sub"))
	msg.Apply(blocks.Result("p1", json.RawMessage(`"done"`), false))
	a.Apply(msg, "p1", blocks.Text(" more"))

	trace := traceOf(t, msg, "p1")
	require.Len(t, trace, 1)
	assert.Equal(t, "sub more", trace[0].Content)
	assert.Equal(t, `"done"`, string(resultOf(t, msg, "p1")))
}

func TestAssembler_ResetReportsDropped(t *testing.T) {
	msg := blocks.NewBuilder()
	a := NewAssembler()
	a.Apply(msg, "ghost", blocks.Text("a"))
	a.Apply(msg, "ghost", blocks.Text("b"))

	assert.Equal(t, 2, a.Reset())
	assert.Empty(t, a.Pending())
}
