// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"github.com/jeranaias/rigsync/internal/model"
)

// =============================================================================
// GENERATION STATE
// =============================================================================

// Phase is where the current generation stands.
type Phase int

const (
	// PhaseIdle means no generation is running.
	PhaseIdle Phase = iota
	// PhaseWaiting means a request was sent and nothing has streamed yet.
	PhaseWaiting
	// PhaseStreaming means deltas are arriving.
	PhaseStreaming
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseStreaming:
		return "streaming"
	default:
		return "idle"
	}
}

// CancelState tracks a cancel request across the generation it targets.
type CancelState int

const (
	// CancelNone means no cancel was requested for the current generation.
	CancelNone CancelState = iota
	// CancelRequested means the cancel frame was sent and the server has not
	// yet ended the generation. The phase is still waiting or streaming.
	CancelRequested
	// CancelTerminated means the server ended a generation that had a cancel
	// pending.
	CancelTerminated
)

func (c CancelState) String() string {
	switch c {
	case CancelRequested:
		return "cancel-requested"
	case CancelTerminated:
		return "terminated"
	default:
		return "none"
	}
}

// =============================================================================
// EPOCHS
// =============================================================================

// EpochClass names a race-prone operation class.
type EpochClass string

const (
	EpochSelection        EpochClass = "selection"
	EpochConversationList EpochClass = "conversation-list"
)

type epochs map[EpochClass]uint64

// next starts a new request of class and returns its epoch.
func (e epochs) next(class EpochClass) uint64 {
	e[class]++
	return e[class]
}

// current reports whether epoch is still the latest of its class.
func (e epochs) current(class EpochClass, epoch uint64) bool {
	return e[class] == epoch
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// State is a deep copy of the store for presentation.
type State struct {
	Conversations []*model.Conversation
	ActiveID      string
	Messages      []*model.Message

	// Streaming is the live, unsealed block list of the current generation.
	Streaming []model.ContentBlock

	Phase  Phase
	Cancel CancelState

	// Loading is set while the active conversation's history is in flight.
	Loading bool
	// Stale is set when Messages came from the local archive.
	Stale bool
	// SendFailed is set when the last send could not be written.
	SendFailed bool
	// LastError is the most recent server error or fetch failure.
	LastError string

	Connected  bool
	AuthFailed bool
	// Container is the last reported container status.
	Container        string
	ContainerMessage string
}

// IsWaiting reports whether a request is out and nothing has streamed yet.
func (s State) IsWaiting() bool { return s.Phase == PhaseWaiting }

// IsStreaming reports whether deltas are arriving.
func (s State) IsStreaming() bool { return s.Phase == PhaseStreaming }

// Busy reports whether a generation is running.
func (s State) Busy() bool { return s.Phase != PhaseIdle }

// Active returns the active conversation, or nil.
func (s State) Active() *model.Conversation {
	for _, c := range s.Conversations {
		if c.ID == s.ActiveID {
			return c
		}
	}
	return nil
}
