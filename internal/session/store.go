// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/pslog"

	"github.com/jeranaias/rigsync/internal/api"
	"github.com/jeranaias/rigsync/internal/blocks"
	"github.com/jeranaias/rigsync/internal/logging"
	"github.com/jeranaias/rigsync/internal/model"
	"github.com/jeranaias/rigsync/internal/protocol"
	"github.com/jeranaias/rigsync/internal/trace"
	"github.com/jeranaias/rigsync/internal/transport"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoActiveConversation is returned by actions that need one.
	ErrNoActiveConversation = errors.New("session: no active conversation")

	// ErrGenerationInProgress is returned when a new generation is requested
	// while one is running.
	ErrGenerationInProgress = errors.New("session: generation in progress")

	// ErrSendFailed is returned when the transport did not write the frame.
	// The optimistic change has been rolled back.
	ErrSendFailed = errors.New("session: send failed")

	// ErrEmptyMessage is returned for blank message text.
	ErrEmptyMessage = errors.New("session: empty message")

	// ErrMessageNotFound is returned when an action names an unknown message.
	ErrMessageNotFound = errors.New("session: message not found")

	// ErrMessagePending is returned when editing a message the server has not
	// acknowledged yet.
	ErrMessagePending = errors.New("session: message not yet acknowledged")
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Sender writes outbound frames. *transport.Channel implements it.
type Sender interface {
	Send(msg any) bool
}

// EventSource delivers inbound events. *transport.Channel implements it.
type EventSource interface {
	On(kind protocol.Kind, fn transport.EventFunc) transport.Subscription
	Off(sub transport.Subscription)
}

// Backend is the REST collaborator. *api.Client implements it.
type Backend interface {
	ListConversations(ctx context.Context) ([]*model.Conversation, error)
	CreateConversation(ctx context.Context, params model.CreateParams) (*model.Conversation, error)
	UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) error
	DeleteConversation(ctx context.Context, id string) error
	ListMessages(ctx context.Context, id string) (*api.MessagePage, error)
}

// Archive keeps sealed messages locally. *storage.Archive implements it.
type Archive interface {
	SaveConversation(ctx context.Context, conv *model.Conversation) error
	Conversations(ctx context.Context) ([]*model.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	ReplaceMessages(ctx context.Context, id string, msgs []*model.Message) error
	Messages(ctx context.Context, id string) ([]*model.Message, error)
}

// Options configures a Store. Backend and Transport are required.
type Options struct {
	Backend   Backend
	Transport Sender
	Archive   Archive
	Logger    pslog.Logger
}

// =============================================================================
// STORE
// =============================================================================

// Store owns the session state. All exported methods are safe for
// concurrent use.
type Store struct {
	backend Backend
	sender  Sender
	archive Archive
	log     pslog.Logger

	mu sync.Mutex

	conversations []*model.Conversation
	activeID      string
	messages      []*model.Message

	builder *blocks.Builder
	traces  *trace.Assembler
	phase   Phase
	cancel  CancelState

	// abandoned is set while a generation left behind by a switch or delete
	// is still on the wire. Stream events are dropped until its terminal
	// event arrives.
	abandoned bool

	epochs     epochs
	loading    bool
	stale      bool
	sendFailed bool
	lastError  string

	connected        bool
	authFailed       bool
	container        string
	containerMessage string

	patches map[string]*patchQueue

	// archiveJobs collects writes made under mu; they run after unlock.
	archiveJobs []func(ctx context.Context)

	changes chan struct{}
}

// New creates a Store with no active conversation.
func New(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Store{
		backend: opts.Backend,
		sender:  opts.Transport,
		archive: opts.Archive,
		log:     opts.Logger,
		builder: blocks.NewBuilder(),
		traces:  trace.NewAssembler(),
		epochs:  make(epochs),
		patches: make(map[string]*patchQueue),
		changes: make(chan struct{}, 1),
	}
}

// Attach subscribes the store to every event kind of src and returns a
// function that removes the subscriptions.
func (s *Store) Attach(src EventSource) (detach func()) {
	kinds := protocol.AllKinds()
	subs := make([]transport.Subscription, 0, len(kinds))
	for _, kind := range kinds {
		subs = append(subs, src.On(kind, s.HandleEvent))
	}
	return func() {
		for _, sub := range subs {
			src.Off(sub)
		}
	}
}

// HandleEvent applies one event atomically.
func (s *Store) HandleEvent(ev protocol.Event) {
	s.mu.Lock()
	protocol.Dispatch(ev, s)
	jobs := s.takeArchiveJobs()
	s.notify()
	s.mu.Unlock()

	s.runArchiveJobs(jobs)
}

// Changes returns a channel that receives after state changes. Bursts of
// changes coalesce into one notification.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	convs := make([]*model.Conversation, len(s.conversations))
	for i, c := range s.conversations {
		convs[i] = c.Clone()
	}
	return State{
		Conversations:    convs,
		ActiveID:         s.activeID,
		Messages:         model.CloneMessages(s.messages),
		Streaming:        s.builder.Blocks(),
		Phase:            s.phase,
		Cancel:           s.cancel,
		Loading:          s.loading,
		Stale:            s.stale,
		SendFailed:       s.sendFailed,
		LastError:        s.lastError,
		Connected:        s.connected,
		AuthFailed:       s.authFailed,
		Container:        s.container,
		ContainerMessage: s.containerMessage,
	}
}

// notify must be called with mu held.
func (s *Store) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *Store) logger() pslog.Logger {
	return logging.WithConversation(s.log, s.activeID)
}

// =============================================================================
// STREAMING HELPERS
// =============================================================================

// resetStream discards the live generation. Must be called with mu held.
func (s *Store) resetStream() {
	s.builder.Reset()
	if dropped := s.traces.Reset(); dropped > 0 {
		s.logger().Warn("session: dropping buffered trace events", "count", dropped)
	}
	s.phase = PhaseIdle
}

// abandonGeneration cancels a running generation that the active
// conversation is about to lose. Must be called with mu held, before
// activeID changes.
func (s *Store) abandonGeneration() {
	if s.phase == PhaseIdle {
		return
	}
	if s.cancel != CancelRequested && !s.sender.Send(protocol.NewCancel()) {
		s.logger().Warn("session: cancel of abandoned generation not sent")
	}
	s.abandoned = true
	s.logger().Debug("session: generation abandoned")
}

// dropAbandoned reports whether ev belongs to an abandoned generation and
// clears the mark when ev ends it. Must be called with mu held.
func (s *Store) dropAbandoned(kind protocol.Kind, terminal bool) bool {
	if !s.abandoned {
		return false
	}
	if terminal {
		s.abandoned = false
	}
	s.log.Debug("session: dropping event of abandoned generation", "kind", kind, "terminal", terminal)
	return true
}

// finishGeneration clears the generation flags and resolves a pending cancel.
// Must be called with mu held.
func (s *Store) finishGeneration() {
	wasBusy := s.phase != PhaseIdle
	s.resetStream()
	if wasBusy && s.cancel == CancelRequested {
		s.cancel = CancelTerminated
	}
}

// sealPartial keeps streamed content as a partial message and reports
// whether anything was kept. Must be called with mu held.
func (s *Store) sealPartial() bool {
	if s.activeID == "" || !s.builder.HasContent() {
		return false
	}
	s.builder.Close()
	msg := model.NewPendingMessage(s.activeID, model.RoleAssistant, "")
	msg.Blocks = s.builder.Blocks()
	msg.Content = msg.DisplayText()
	msg.Partial = true
	s.messages = append(s.messages, msg)
	s.logger().Info("session: kept partial message", "blocks", len(msg.Blocks))
	return true
}

func (s *Store) indexOf(id string) int {
	for i, m := range s.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// =============================================================================
// ARCHIVE HELPERS
// =============================================================================

// archiveLog queues a write of the active log. Must be called with mu held.
func (s *Store) archiveLog() {
	if s.archive == nil || s.activeID == "" {
		return
	}
	id := s.activeID
	msgs := model.CloneMessages(s.messages)
	s.archiveJobs = append(s.archiveJobs, func(ctx context.Context) {
		if err := s.archive.ReplaceMessages(ctx, id, msgs); err != nil {
			s.log.Warn("session: archive write failed", "conversation", id, "error", err)
		}
	})
}

func (s *Store) takeArchiveJobs() []func(context.Context) {
	jobs := s.archiveJobs
	s.archiveJobs = nil
	return jobs
}

func (s *Store) runArchiveJobs(jobs []func(context.Context)) {
	for _, job := range jobs {
		job(context.Background())
	}
}
