// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigsync/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(srv.URL, WithToken("tok"))
	c.retryBase = time.Millisecond
	return c
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestListConversations(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/conversations", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"conversations":[{"id":"c1","title":"One","model":"m"},{"id":"c2"}]}`))
	})

	convs, err := c.ListConversations(context.Background())

	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "One", convs[0].Title)
	assert.Equal(t, "c2", convs[1].ID)
}

func TestCreateConversation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var params model.CreateParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, "Draft", params.Title)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"c9","title":"Draft","model":"big"}`))
	})

	conv, err := c.CreateConversation(context.Background(), model.CreateParams{Title: "Draft", Model: "big"})

	require.NoError(t, err)
	assert.Equal(t, "c9", conv.ID)
	assert.Equal(t, "big", conv.Model)
}

func TestUpdateConversationSendsOnlySetFields(t *testing.T) {
	var body string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/conversations/c1", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusNoContent)
	})

	err := c.UpdateConversation(context.Background(), "c1", model.ConversationPatch{Model: model.StringPtr("small")})

	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"small"}`, body)
}

func TestDeleteConversationEscapesID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/conversations/a%2Fb", r.URL.EscapedPath())
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.DeleteConversation(context.Background(), "a/b"))
}

func TestListMessages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversations/c1/messages", r.URL.Path)
		w.Write([]byte(`{"messages":[
			{"id":"m1","role":"user","content":"hi"},
			{"id":"m2","role":"assistant","content":"","content_blocks":[{"type":"text","content":"hello"}]}
		],"total":2}`))
	})

	page, err := c.ListMessages(context.Background(), "c1")

	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "c1", page.Messages[0].ConversationID)
	assert.Equal(t, model.RoleAssistant, page.Messages[1].Role)
	assert.Equal(t, "hello", page.Messages[1].Blocks[0].Content)
}

// =============================================================================
// ERROR AND RETRY TESTS
// =============================================================================

func TestErrorResponseShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"string error", `{"error":"nope"}`, "nope"},
		{"nested error", `{"error":{"message":"deep"}}`, "deep"},
		{"message field", `{"message":"plain"}`, "plain"},
		{"raw body", "gateway down", "gateway down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(tt.body))
			})

			_, err := c.ListConversations(context.Background())

			var apiErr *Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, http.StatusNotFound, apiErr.Status)
			assert.Equal(t, tt.want, apiErr.Message)
			assert.True(t, IsStatus(err, http.StatusNotFound))
		})
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"conversations":[]}`))
	})

	_, err := c.ListConversations(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	err := c.DeleteConversation(context.Background(), "c1")

	assert.True(t, IsStatus(err, http.StatusBadRequest))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})
	WithMaxRetries(2)(c)

	err := c.DeleteConversation(context.Background(), "c1")

	assert.True(t, IsStatus(err, http.StatusTooManyRequests))
	assert.Equal(t, int32(3), calls.Load())
}

func TestCalculateBackoff(t *testing.T) {
	c := New("http://unused")

	assert.Equal(t, 500*time.Millisecond, c.calculateBackoff(0))
	assert.Equal(t, time.Second, c.calculateBackoff(1))
	assert.Equal(t, 2*time.Second, c.calculateBackoff(2))
	assert.Equal(t, 10*time.Second, c.calculateBackoff(10))
}

// =============================================================================
// SESSION TESTS
// =============================================================================

func TestRefreshSession(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		want      bool
		wantToken string
	}{
		{"ok keeps token", http.StatusNoContent, "", true, "tok"},
		{"ok rotates token", http.StatusOK, `{"token":"fresh"}`, true, "fresh"},
		{"unauthorized", http.StatusUnauthorized, `{"error":"expired"}`, false, "tok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/auth/refresh", r.URL.Path)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			assert.Equal(t, tt.want, c.RefreshSession(context.Background()))
			assert.Equal(t, tt.wantToken, c.Token())
		})
	}
}
