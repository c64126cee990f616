// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session keeps one consistent view of a streamed conversation.
//
// Store owns the conversation list, the active message log, the streaming
// block builder, the trace assembler and the per-class epoch counters. Every
// user action and every transport event runs under one mutex, so each runs to
// completion before the next observes state. Network calls (history fetches,
// conversation mutations) run outside the lock and re-enter through epoch
// checks: a response is applied only if no newer request of the same class
// was issued meanwhile.
//
// Sends are optimistic. The log is updated first and restored exactly when
// the transport reports the frame was not written. Cancellation is two-phase:
// CancelGeneration moves the generation to cancel-requested and only a
// complete, error or disconnect terminates it.
//
// # Key Types
//
//   - Store: Session state owner; implements protocol.Handler
//   - State: Deep-copied snapshot for presentation
//   - Backend: REST collaborator (conversations and history)
//   - Archive: Optional local message archive
//
// # Usage
//
//	store := session.New(session.Options{Backend: client, Transport: ch, Archive: archive})
//	detach := store.Attach(ch)
//	defer detach()
//
//	if err := store.SelectConversation(ctx, id); err != nil { ... }
//	if err := store.SendMessage("hello"); errors.Is(err, session.ErrSendFailed) { ... }
//	for range store.Changes() {
//	    render(store.Snapshot())
//	}
package session
