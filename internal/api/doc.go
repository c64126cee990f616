// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the REST client for conversation management.
//
// The session socket carries the live stream; everything else (listing and
// mutating conversations, loading message history, refreshing the session)
// goes through this client. Requests carry a bearer token. Rate limited (429)
// and server (5xx) responses are retried with capped exponential backoff.
//
// # Key Types
//
//   - Client: HTTP client bound to one server
//   - Error: Non-2xx response with status and server message
//   - MessagePage: Message history page, {messages, total}
//
// # Usage
//
//	client := api.New("https://rig.example", api.WithToken(token))
//	convs, err := client.ListConversations(ctx)
//	page, err := client.ListMessages(ctx, convs[0].ID)
package api
