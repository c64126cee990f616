// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package trace assembles nested sub-task traces under their parent tool call.
//
// Trace events name their parent by tool-call identity. When the parent block
// already exists the event is folded straight into that block's trace. When
// it does not, the event waits in a per-identity FIFO and is replayed, in
// arrival order and exactly once, as soon as the parent is created.
package trace

import (
	"github.com/jeranaias/rigsync/internal/blocks"
)

// Status reports what Apply did with an event.
type Status int

const (
	// Applied means the event was folded into the parent's trace.
	Applied Status = iota
	// Buffered means the parent is unknown and the event was queued.
	Buffered
)

// Assembler owns the trace buffer and the per-parent trace builders.
// It is not safe for concurrent use; the session store serializes access.
type Assembler struct {
	pending map[string][]blocks.Delta
	traces  map[string]*blocks.Builder
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{
		pending: make(map[string][]blocks.Delta),
		traces:  make(map[string]*blocks.Builder),
	}
}

// Apply routes one trace event for parentID into msg.
func (a *Assembler) Apply(msg *blocks.Builder, parentID string, d blocks.Delta) Status {
	if !msg.HasToolCall(parentID) {
		a.pending[parentID] = append(a.pending[parentID], d)
		return Buffered
	}
	a.fold(msg, parentID, d)
	return Applied
}

// Drain replays everything buffered for parentID into msg and deletes the
// buffer entry. It must be called right after the parent tool call block is
// created and before any further live event is accepted. It returns the
// number of replayed events.
func (a *Assembler) Drain(msg *blocks.Builder, parentID string) int {
	queued, ok := a.pending[parentID]
	if !ok {
		return 0
	}
	delete(a.pending, parentID)
	if !msg.HasToolCall(parentID) {
		return 0
	}
	for _, d := range queued {
		a.fold(msg, parentID, d)
	}
	return len(queued)
}

func (a *Assembler) fold(msg *blocks.Builder, parentID string, d blocks.Delta) {
	tb, ok := a.traces[parentID]
	if !ok {
		tb = blocks.NewBuilder()
		a.traces[parentID] = tb
	}
	tb.Apply(d)
	msg.SetTrace(parentID, tb.Blocks())
}

// Pending returns the number of events waiting for each unknown parent.
func (a *Assembler) Pending() map[string]int {
	out := make(map[string]int, len(a.pending))
	for id, q := range a.pending {
		out[id] = len(q)
	}
	return out
}

// Reset drops all buffered events and trace builders and returns the
// number of events that never found their parent.
func (a *Assembler) Reset() int {
	dropped := 0
	for _, q := range a.pending {
		dropped += len(q)
	}
	a.pending = make(map[string][]blocks.Delta)
	a.traces = make(map[string]*blocks.Builder)
	return dropped
}
