// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/rigsync/internal/model"
	"github.com/jeranaias/rigsync/internal/protocol"
)

// =============================================================================
// SELECTION
// =============================================================================

// SelectConversation makes id the active conversation and loads its history.
// The live generation of the previous conversation is discarded. If a newer
// selection is issued before the history arrives, the response is dropped
// and nil is returned. When the fetch fails the archived log is shown,
// marked stale; with no archive the error is recorded and returned.
func (s *Store) SelectConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	s.abandonGeneration()
	epoch := s.epochs.next(EpochSelection)
	s.activeID = id
	s.messages = nil
	s.resetStream()
	s.cancel = CancelNone
	s.loading = true
	s.stale = false
	s.sendFailed = false
	s.lastError = ""
	if !s.sender.Send(protocol.NewJoinConversation(id)) {
		s.logger().Debug("session: join deferred until connected")
	}
	s.notify()
	s.mu.Unlock()

	page, fetchErr := s.backend.ListMessages(ctx, id)

	var archived []*model.Message
	var archiveErr error
	if fetchErr != nil && s.archive != nil {
		archived, archiveErr = s.archive.Messages(ctx, id)
	}

	s.mu.Lock()
	if !s.epochs.current(EpochSelection, epoch) {
		s.mu.Unlock()
		s.log.Debug("session: discarding stale history", "conversation", id, "epoch", epoch)
		return nil
	}
	s.loading = false

	if fetchErr != nil {
		if s.archive != nil && archiveErr == nil {
			s.messages = append(archived, s.pendingMessages()...)
			s.stale = true
			s.logger().Warn("session: history fetch failed; showing archive", "error", fetchErr)
			s.notify()
			s.mu.Unlock()
			return nil
		}
		s.lastError = fetchErr.Error()
		s.notify()
		s.mu.Unlock()
		return fmt.Errorf("load history of %s: %w", id, fetchErr)
	}

	fetched := make([]*model.Message, 0, len(page.Messages))
	for _, m := range page.Messages {
		if m != nil {
			fetched = append(fetched, m)
		}
	}
	s.messages = append(fetched, s.pendingMessages()...)
	s.archiveLog()
	jobs := s.takeArchiveJobs()
	s.notify()
	s.mu.Unlock()

	s.runArchiveJobs(jobs)
	return nil
}

// pendingMessages returns optimistic messages sent while history was loading.
// Must be called with mu held.
func (s *Store) pendingMessages() []*model.Message {
	var out []*model.Message
	for _, m := range s.messages {
		if m.IsPending() && !m.Partial {
			out = append(out, m)
		}
	}
	return out
}

// =============================================================================
// GENERATION ACTIONS
// =============================================================================

// rollback captures what an optimistic action may change.
type rollback struct {
	messages   []*model.Message
	phase      Phase
	cancel     CancelState
	sendFailed bool
	lastError  string
}

func (s *Store) checkpoint() rollback {
	return rollback{
		messages:   append([]*model.Message(nil), s.messages...),
		phase:      s.phase,
		cancel:     s.cancel,
		sendFailed: s.sendFailed,
		lastError:  s.lastError,
	}
}

// restore rewinds to the checkpoint and raises the send failure flag.
func (s *Store) restore(r rollback) {
	s.messages = r.messages
	s.phase = r.phase
	s.cancel = r.cancel
	s.lastError = r.lastError
	s.sendFailed = true
}

// beginGeneration moves to waiting. Must be called with mu held.
func (s *Store) beginGeneration() {
	s.builder.Reset()
	s.phase = PhaseWaiting
	s.cancel = CancelNone
	s.sendFailed = false
	s.lastError = ""
}

// ready checks the preconditions shared by generation actions.
func (s *Store) ready() error {
	if s.activeID == "" {
		return ErrNoActiveConversation
	}
	if s.phase != PhaseIdle {
		return ErrGenerationInProgress
	}
	return nil
}

// SendMessage appends an optimistic user message and submits it. When the
// transport cannot write the frame the message is removed, SendFailed is set
// in the state and ErrSendFailed is returned.
func (s *Store) SendMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.notify()

	if err := s.ready(); err != nil {
		return err
	}

	cp := s.checkpoint()
	msg := model.NewPendingMessage(s.activeID, model.RoleUser, text)
	s.messages = append(s.messages, msg)
	s.beginGeneration()

	if !s.sender.Send(protocol.NewUserMessage(s.activeID, text, msg.ID)) {
		s.restore(cp)
		s.logger().Warn("session: send failed; message rolled back")
		return ErrSendFailed
	}
	return nil
}

// EditMessage replaces the text of a user message, drops everything after
// it and regenerates. Editing an assistant message is a no-op.
func (s *Store) EditMessage(id, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return ErrMessageNotFound
	}
	original := s.messages[idx]
	if original.Role != model.RoleUser {
		s.logger().Debug("session: ignoring edit of non-user message", "message", id)
		return nil
	}
	if original.IsPending() {
		return ErrMessagePending
	}
	if err := s.ready(); err != nil {
		return err
	}
	defer s.notify()

	cp := s.checkpoint()
	edited := original.Clone()
	edited.Content = text
	edited.Blocks = nil
	s.messages = append(s.messages[:idx:idx], edited)
	s.beginGeneration()

	if !s.sender.Send(protocol.NewEditMessage(s.activeID, id, text)) {
		s.restore(cp)
		s.logger().Warn("session: edit failed; log restored", "message", id)
		return ErrSendFailed
	}
	return nil
}

// RegenerateMessage drops an assistant message and everything after it and
// asks for a new answer. Regenerating a user message is a no-op.
func (s *Store) RegenerateMessage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return ErrMessageNotFound
	}
	if s.messages[idx].Role != model.RoleAssistant {
		s.logger().Debug("session: ignoring regenerate of non-assistant message", "message", id)
		return nil
	}
	if err := s.ready(); err != nil {
		return err
	}
	defer s.notify()

	cp := s.checkpoint()
	s.messages = s.messages[:idx:idx]
	s.beginGeneration()

	if !s.sender.Send(protocol.NewRegenerate(s.activeID, id)) {
		s.restore(cp)
		s.logger().Warn("session: regenerate failed; log restored", "message", id)
		return ErrSendFailed
	}
	return nil
}

// CancelGeneration asks the server to stop the running generation and
// reports whether the request was sent. Local state stays waiting or
// streaming until the server ends the generation.
func (s *Store) CancelGeneration() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseIdle {
		return false
	}
	if s.cancel == CancelRequested {
		return true
	}
	if !s.sender.Send(protocol.NewCancel()) {
		s.logger().Warn("session: cancel not sent")
		return false
	}
	s.cancel = CancelRequested
	s.notify()
	return true
}
