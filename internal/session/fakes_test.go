// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigsync/internal/api"
	"github.com/jeranaias/rigsync/internal/model"
	"github.com/jeranaias/rigsync/internal/protocol"
	"github.com/jeranaias/rigsync/internal/transport"
)

// =============================================================================
// FAKE TRANSPORT
// =============================================================================

type fakeSender struct {
	mu     sync.Mutex
	closed bool
	frames []any
}

func (f *fakeSender) Send(msg any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.frames = append(f.frames, msg)
	return true
}

func (f *fakeSender) SetOpen(open bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = !open
}

func (f *fakeSender) Frames() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.frames...)
}

func (f *fakeSender) Last() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return nil
	}
	return f.frames[len(f.frames)-1]
}

type fakeSource struct {
	mu   sync.Mutex
	subs map[protocol.Kind]transport.EventFunc
	offs int
}

func (f *fakeSource) On(kind protocol.Kind, fn transport.EventFunc) transport.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[protocol.Kind]transport.EventFunc)
	}
	f.subs[kind] = fn
	return transport.Subscription{}
}

func (f *fakeSource) Off(transport.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offs++
}

func (f *fakeSource) Emit(ev protocol.Event) {
	f.mu.Lock()
	fn := f.subs[ev.Kind()]
	f.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// =============================================================================
// FAKE BACKEND
// =============================================================================

var errUnavailable = errors.New("service unavailable")

type fakeBackend struct {
	mu sync.Mutex

	history    map[string][]*model.Message
	historyErr error
	gates      map[string]chan struct{}
	calls      chan string

	convs    []*model.Conversation
	listErr  error
	listGate chan struct{}

	created []model.CreateParams
	deleted []string

	updateGate    chan struct{}
	updateStarted chan struct{}
	// updateErrs fail the next update calls in order.
	updateErrs []error
	updates       []model.ConversationPatch
	server        map[string]*model.Conversation
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		history: make(map[string][]*model.Message),
		gates:   make(map[string]chan struct{}),
		calls:   make(chan string, 16),
		server:  make(map[string]*model.Conversation),
	}
}

func (b *fakeBackend) ListMessages(ctx context.Context, id string) (*api.MessagePage, error) {
	b.mu.Lock()
	gate := b.gates[id]
	msgs := model.CloneMessages(b.history[id])
	err := b.historyErr
	b.mu.Unlock()

	b.calls <- id
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &api.MessagePage{Messages: msgs, Total: len(msgs)}, nil
}

func (b *fakeBackend) ListConversations(ctx context.Context) ([]*model.Conversation, error) {
	b.mu.Lock()
	gate := b.listGate
	b.listGate = nil
	convs := make([]*model.Conversation, len(b.convs))
	for i, c := range b.convs {
		convs[i] = c.Clone()
	}
	err := b.listErr
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return convs, nil
}

func (b *fakeBackend) CreateConversation(ctx context.Context, params model.CreateParams) (*model.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, params)
	conv := &model.Conversation{ID: "new-conv", Title: params.Title, Model: params.Model}
	b.server[conv.ID] = conv.Clone()
	return conv, nil
}

func (b *fakeBackend) UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) error {
	b.mu.Lock()
	gate := b.updateGate
	started := b.updateStarted
	b.updateGate = nil
	b.mu.Unlock()

	if gate != nil {
		started <- struct{}{}
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, patch)
	if len(b.updateErrs) > 0 {
		err := b.updateErrs[0]
		b.updateErrs = b.updateErrs[1:]
		if err != nil {
			return err
		}
	}
	if conv, ok := b.server[id]; ok {
		patch.Apply(conv)
	}
	return nil
}

func (b *fakeBackend) DeleteConversation(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, id)
	delete(b.server, id)
	return nil
}

func (b *fakeBackend) Updates() []model.ConversationPatch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.ConversationPatch(nil), b.updates...)
}

// =============================================================================
// FAKE ARCHIVE
// =============================================================================

type fakeArchive struct {
	mu       sync.Mutex
	convs    map[string]*model.Conversation
	messages map[string][]*model.Message
	writes   int
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{
		convs:    make(map[string]*model.Conversation),
		messages: make(map[string][]*model.Message),
	}
}

func (a *fakeArchive) SaveConversation(_ context.Context, c *model.Conversation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.convs[c.ID] = c.Clone()
	return nil
}

func (a *fakeArchive) Conversations(context.Context) ([]*model.Conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*model.Conversation
	for _, c := range a.convs {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (a *fakeArchive) DeleteConversation(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.convs, id)
	delete(a.messages, id)
	return nil
}

func (a *fakeArchive) ReplaceMessages(_ context.Context, id string, msgs []*model.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.writes++
	var kept []*model.Message
	for _, m := range msgs {
		if !m.IsPending() {
			kept = append(kept, m.Clone())
		}
	}
	a.messages[id] = kept
	return nil
}

func (a *fakeArchive) Messages(_ context.Context, id string) ([]*model.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	msgs, ok := a.messages[id]
	if !ok {
		return nil, errors.New("not archived")
	}
	return model.CloneMessages(msgs), nil
}

func (a *fakeArchive) Stored(id string) []*model.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return model.CloneMessages(a.messages[id])
}

// =============================================================================
// HELPERS
// =============================================================================

type fixture struct {
	store   *Store
	sender  *fakeSender
	backend *fakeBackend
	archive *fakeArchive
}

func newFixture(t *testing.T, withArchive bool) *fixture {
	t.Helper()
	f := &fixture{sender: &fakeSender{}, backend: newFakeBackend()}
	opts := Options{Backend: f.backend, Transport: f.sender}
	if withArchive {
		f.archive = newFakeArchive()
		opts.Archive = f.archive
	}
	f.store = New(opts)
	return f
}

// activate selects id with the given history already on the server.
func (f *fixture) activate(t *testing.T, id string, history ...*model.Message) {
	t.Helper()
	f.backend.mu.Lock()
	f.backend.history[id] = history
	f.backend.mu.Unlock()
	require.NoError(t, f.store.SelectConversation(context.Background(), id))
	<-f.backend.calls
}

func (f *fixture) emit(events ...protocol.Event) {
	for _, ev := range events {
		f.store.HandleEvent(ev)
	}
}

func userMsg(id, content string) *model.Message {
	return model.NewMessage(id, "c1", model.RoleUser, content)
}

func assistantMsg(id, content string) *model.Message {
	return model.NewMessage(id, "c1", model.RoleAssistant, content)
}

func ids(msgs []*model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func waitCall(t *testing.T, calls <-chan string, want string) {
	t.Helper()
	select {
	case got := <-calls:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for history fetch of %s", want)
	}
}

func traceEvent(parent, eventType string, payload any) protocol.TaskTraceDelta {
	raw, _ := json.Marshal(payload)
	return protocol.TaskTraceDelta{ToolCallID: parent, EventType: eventType, Payload: raw}
}
