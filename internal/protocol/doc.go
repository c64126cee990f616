// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package protocol defines the wire events exchanged over the session socket.
//
// Inbound frames are JSON envelopes `{"type": "...", ...fields}`. Decode turns
// a frame into one of the concrete event types of this package; the Event
// interface is sealed so the set of kinds is closed. Consumers implement
// Handler, which has one method per kind, and route events with Dispatch.
// Adding a kind therefore fails to compile until every handler covers it.
//
// # Key Types
//
//   - Event: Sealed sum type of inbound and locally synthesized events
//   - Handler: Exhaustive visitor, one method per event kind
//   - JoinConversation, Cancel, UserMessage, EditMessage, Regenerate: outbound frames
//
// # Usage
//
//	ev, err := protocol.Decode(frame)
//	if errors.Is(err, protocol.ErrUnknownEvent) {
//	    // log and drop
//	}
//	protocol.Dispatch(ev, store)
package protocol
