// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"fmt"

	"github.com/jeranaias/rigsync/internal/model"
)

// =============================================================================
// CONVERSATION LIST
// =============================================================================

// LoadConversations refreshes the conversation list. Responses overtaken by
// a newer load are dropped. When the server cannot be reached the archived
// list is used if there is one.
func (s *Store) LoadConversations(ctx context.Context) error {
	s.mu.Lock()
	epoch := s.epochs.next(EpochConversationList)
	s.mu.Unlock()

	convs, err := s.backend.ListConversations(ctx)
	fromArchive := false
	if err != nil && s.archive != nil {
		if archived, aerr := s.archive.Conversations(ctx); aerr == nil && len(archived) > 0 {
			s.log.Warn("session: conversation list fetch failed; showing archive", "error", err)
			convs, err, fromArchive = archived, nil, true
		}
	}

	s.mu.Lock()
	if !s.epochs.current(EpochConversationList, epoch) {
		s.mu.Unlock()
		s.log.Debug("session: discarding stale conversation list", "epoch", epoch)
		return nil
	}
	if err != nil {
		s.lastError = err.Error()
		s.notify()
		s.mu.Unlock()
		return fmt.Errorf("load conversations: %w", err)
	}
	s.conversations = make([]*model.Conversation, 0, len(convs))
	for _, c := range convs {
		if c != nil {
			s.conversations = append(s.conversations, c.Clone())
		}
	}
	s.notify()
	s.mu.Unlock()

	if s.archive != nil && !fromArchive {
		for _, c := range convs {
			if c == nil {
				continue
			}
			if err := s.archive.SaveConversation(ctx, c); err != nil {
				s.log.Warn("session: archive write failed", "conversation", c.ID, "error", err)
			}
		}
	}
	return nil
}

// CreateConversation creates a conversation and puts it first in the list.
// It does not select it.
func (s *Store) CreateConversation(ctx context.Context, params model.CreateParams) (*model.Conversation, error) {
	conv, err := s.backend.CreateConversation(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	s.mu.Lock()
	s.conversations = append([]*model.Conversation{conv.Clone()}, s.removeConversation(conv.ID)...)
	s.notify()
	s.mu.Unlock()

	if s.archive != nil {
		if err := s.archive.SaveConversation(ctx, conv); err != nil {
			s.log.Warn("session: archive write failed", "conversation", conv.ID, "error", err)
		}
	}
	return conv.Clone(), nil
}

// DeleteConversation deletes a conversation. Deleting the active one clears
// the selection and invalidates any history fetch still in flight.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	if err := s.backend.DeleteConversation(ctx, id); err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}

	s.mu.Lock()
	s.conversations = s.removeConversation(id)
	if s.activeID == id {
		s.abandonGeneration()
		s.epochs.next(EpochSelection)
		s.activeID = ""
		s.messages = nil
		s.loading = false
		s.stale = false
		s.resetStream()
		s.cancel = CancelNone
	}
	s.notify()
	s.mu.Unlock()

	if s.archive != nil {
		if err := s.archive.DeleteConversation(ctx, id); err != nil {
			s.log.Warn("session: archive delete failed", "conversation", id, "error", err)
		}
	}
	return nil
}

// removeConversation returns the list without id. Must be called with mu held.
func (s *Store) removeConversation(id string) []*model.Conversation {
	out := make([]*model.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) conversation(id string) *model.Conversation {
	for _, c := range s.conversations {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// =============================================================================
// PATCH COALESCING
// =============================================================================

// patchQueue serializes updates of one conversation. While a request is in
// flight, later patches merge into pending; when it finishes, pending is sent
// as one request. The latest value of every field therefore always reaches
// the server last.
type patchQueue struct {
	pending *model.ConversationPatch
	waiters []chan error

	// confirmed is the conversation as the server last accepted it; nil when
	// the conversation is not listed locally.
	confirmed *model.Conversation
}

// UpdateConversation applies patch locally at once and sends it. Overlapping
// updates of the same conversation are serialized: a call made while another
// is in flight merges into the next request and returns when that request
// finishes. When a request fails, the fields it carried return to their last
// confirmed values unless a queued patch still covers them.
func (s *Store) UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) error {
	if patch.IsEmpty() {
		return nil
	}

	s.mu.Lock()
	c := s.conversation(id)
	if c != nil {
		updated := c.Clone()
		patch.Apply(updated)
		s.replaceConversation(updated)
	}
	s.notify()

	if q, busy := s.patches[id]; busy {
		merged := patch
		if q.pending != nil {
			merged = q.pending.Merge(patch)
		}
		q.pending = &merged
		done := make(chan error, 1)
		q.waiters = append(q.waiters, done)
		s.mu.Unlock()

		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	q := &patchQueue{confirmed: c.Clone()}
	s.patches[id] = q
	s.mu.Unlock()

	err := s.backend.UpdateConversation(ctx, id, patch)
	s.settlePatch(id, q, patch, err)
	go s.drainPatches(context.WithoutCancel(ctx), id, q)
	if err != nil {
		return fmt.Errorf("update conversation %s: %w", id, err)
	}
	return nil
}

// drainPatches sends merged pending patches until none remain, then releases
// the queue.
func (s *Store) drainPatches(ctx context.Context, id string, q *patchQueue) {
	for {
		s.mu.Lock()
		if q.pending == nil {
			delete(s.patches, id)
			s.mu.Unlock()
			return
		}
		next := *q.pending
		waiters := q.waiters
		q.pending = nil
		q.waiters = nil
		s.mu.Unlock()

		err := s.backend.UpdateConversation(ctx, id, next)
		s.settlePatch(id, q, next, err)
		if err != nil {
			err = fmt.Errorf("update conversation %s: %w", id, err)
		}
		for _, w := range waiters {
			w <- err
		}
	}
}

// settlePatch records the outcome of one update request. A success moves
// the confirmed copy forward; a failure rolls back the fields of sent that
// no queued patch will send again.
func (s *Store) settlePatch(id string, q *patchQueue, sent model.ConversationPatch, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		if q.confirmed != nil {
			sent.Apply(q.confirmed)
		}
		return
	}
	s.log.Warn("session: conversation update failed", "conversation", id, "error", err)

	c := s.conversation(id)
	if c == nil || q.confirmed == nil {
		return
	}
	var queued model.ConversationPatch
	if q.pending != nil {
		queued = *q.pending
	}
	restored := c.Clone()
	if sent.Title != nil && queued.Title == nil {
		restored.Title = q.confirmed.Title
	}
	if sent.Model != nil && queued.Model == nil {
		restored.Model = q.confirmed.Model
	}
	if sent.SystemPrompt != nil && queued.SystemPrompt == nil {
		restored.SystemPrompt = q.confirmed.SystemPrompt
	}
	s.replaceConversation(restored)
	s.notify()
}

// replaceConversation swaps in c by id. Must be called with mu held.
func (s *Store) replaceConversation(c *model.Conversation) {
	for i, existing := range s.conversations {
		if existing.ID == c.ID {
			s.conversations[i] = c
			return
		}
	}
}
