// Package session drives one live chat: it owns the conversation state,
// serializes mutating operations behind a ready gate, runs the decode loop
// for in-flight responses, and persists at every settle point.
package session

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/chat"
	"github.com/go-go-golems/marionette/pkg/store"
	"github.com/go-go-golems/marionette/pkg/stream"
	chatsync "github.com/go-go-golems/marionette/pkg/sync"
)

type Status string

const (
	// StatusReady accepts new mutating operations.
	StatusReady Status = "ready"
	// StatusStreaming rejects mutating operations until the in-flight
	// response settles.
	StatusStreaming Status = "streaming"
	// StatusDead is entered when the store reports the chat is no longer
	// accessible; the caller should fall back to the chat list.
	StatusDead Status = "dead"
)

var (
	ErrBusy           = errors.New("an operation is already in flight")
	ErrSessionDead    = errors.New("session is no longer usable")
	ErrNoChat         = errors.New("no chat is open")
	ErrEmptyEditText  = errors.New("edit text is empty")
	ErrEditTargetGone = errors.New("edit target is not a user message in this chat")
	ErrNothingToRegen = errors.New("conversation is empty")
)

// Request describes one assistant response for the Responder to produce.
type Request struct {
	ChatID  string
	ModelID string
	// Messages is the conversation up to and including the turn's user
	// message.
	Messages []*chat.Message
	// UserMessageID anchors the turn being answered.
	UserMessageID string
	// ReplaceMessageID tags a regeneration with the assistant message it
	// replaces; empty for a fresh turn.
	ReplaceMessageID string
}

// Responder is the external collaborator that invokes the model and yields
// the response as an ordered chunk sequence.
type Responder interface {
	Respond(ctx context.Context, req *Request) (stream.Source, error)
}

type Session struct {
	chat   *chat.Chat
	state  *chat.ConversationState
	status Status

	store     store.Store
	sync      *chatsync.Engine
	responder Responder
	variants  *chat.VariantManager
	logger    zerolog.Logger
}

type Option func(*Session)

func WithVariantManager(vm *chat.VariantManager) Option {
	return func(s *Session) {
		s.variants = vm
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

func New(st store.Store, eng *chatsync.Engine, responder Responder, options ...Option) *Session {
	ret := &Session{
		status:    StatusReady,
		store:     st,
		sync:      eng,
		responder: responder,
		variants:  chat.NewVariantManager(),
		logger:    log.Logger,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Open switches the session to a chat, replacing local state wholesale with
// the store's copy.
func (s *Session) Open(ctx context.Context, c *chat.Chat) error {
	if s.status == StatusStreaming {
		return ErrBusy
	}
	cs, err := s.sync.Load(ctx, c.ID)
	if err != nil {
		if errors.Is(err, chatsync.ErrStaleResponse) {
			// a newer open superseded this one, keep whatever it loaded
			return nil
		}
		if errors.Is(err, store.ErrNotAccessible) {
			s.status = StatusDead
		}
		return errors.Wrapf(err, "failed to open chat %s", c.ID)
	}
	s.chat = c.Clone()
	s.state = cs
	s.status = StatusReady
	return nil
}

func (s *Session) Chat() *chat.Chat { return s.chat }

func (s *Session) State() *chat.ConversationState { return s.state }

func (s *Session) Status() Status { return s.status }

// Pager reports the variant position of an assistant message as (index,
// total) for a "k/n" display.
func (s *Session) Pager(messageID string) (int, int, error) {
	if s.state == nil {
		return 0, 0, ErrNoChat
	}
	return s.variants.Pager(s.state, messageID)
}

// Send appends a user message and generates the assistant answer for it.
func (s *Session) Send(ctx context.Context, text string) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	msg := chat.NewUserMessage(text)
	s.state.Append(msg)

	return s.runResponse(ctx, &chat.RegenerateTarget{UserMessageID: msg.ID})
}

// Regenerate produces a new assistant response for the conversation tail.
// When the tail already has a response, the current one is kept as an
// alternate and the fresh one replaces it in place.
func (s *Session) Regenerate(ctx context.Context) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	target, err := s.variants.PrepareRegenerate(s.state)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyConversation) {
			return ErrNothingToRegen
		}
		return err
	}

	return s.runResponse(ctx, target)
}

// SelectVariant swaps the displayed message of a turn for one of its
// alternates and persists the result.
func (s *Session) SelectVariant(ctx context.Context, messageID, variantID string) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	if err := s.variants.SelectVariant(s.state, messageID, variantID); err != nil {
		return err
	}
	return s.settle(ctx)
}

// PageVariants moves to the previous or next alternate of a turn, wrapping
// circularly.
func (s *Session) PageVariants(ctx context.Context, messageID string, direction chat.PageDirection) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	if err := s.variants.PageVariants(s.state, messageID, direction); err != nil {
		return err
	}
	return s.settle(ctx)
}

// Edit forks the chat at an edited user message. The source state is
// flushed first so locally created variants are carried into the fork,
// then the session switches to the new chat. The edited turn has no
// response yet; the next Regenerate targets it directly.
func (s *Session) Edit(ctx context.Context, userMessageID, newText string) (*chat.Chat, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	// local validation before any network call
	if strings.TrimSpace(newText) == "" {
		return nil, ErrEmptyEditText
	}
	target, _ := s.state.MessageByID(userMessageID)
	if target == nil || target.Role != chat.RoleUser {
		return nil, errors.Wrapf(ErrEditTargetGone, "id %s", userMessageID)
	}

	if err := s.sync.Flush(ctx, s.state); err != nil {
		if errors.Is(err, store.ErrNotAccessible) {
			s.status = StatusDead
		}
		return nil, errors.Wrap(err, "failed to flush before fork")
	}

	sourceChatID := s.state.ChatID
	forked, err := s.store.Fork(ctx, sourceChatID, &store.ForkRequest{
		ProfileID:     s.state.ProfileID,
		UserMessageID: userMessageID,
		Text:          newText,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotAccessible) {
			s.status = StatusDead
		}
		return nil, errors.Wrap(err, "fork failed")
	}

	cs, err := s.sync.Load(ctx, forked.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load forked chat %s", forked.ID)
	}
	s.chat = forked.Clone()
	s.state = cs

	s.logger.Info().
		Str("source_chat_id", sourceChatID).
		Str("forked_chat_id", forked.ID).
		Msg("switched to forked chat")

	return forked, nil
}

// acquire takes the ready gate. Mutating operations are serialized: a
// second one started while the first is in flight fails with ErrBusy.
func (s *Session) acquire() (func(), error) {
	switch s.status {
	case StatusDead:
		return nil, ErrSessionDead
	case StatusStreaming:
		return nil, ErrBusy
	}
	if s.state == nil {
		return nil, ErrNoChat
	}
	s.status = StatusStreaming
	return func() {
		if s.status == StatusStreaming {
			s.status = StatusReady
		}
	}, nil
}

// runResponse asks the responder for a chunk stream, folds it into a new
// assistant message, integrates the result, and settles. Cancellation
// stops consumption and keeps the partially decoded parts; it is not an
// error.
func (s *Session) runResponse(ctx context.Context, target *chat.RegenerateTarget) error {
	req := &Request{
		ChatID:           s.state.ChatID,
		UserMessageID:    target.UserMessageID,
		ReplaceMessageID: target.ReplaceMessageID,
		Messages:         s.requestMessages(target),
	}
	if s.chat != nil {
		req.ModelID = s.chat.ModelID
	}

	src, err := s.responder.Respond(ctx, req)
	if err != nil {
		s.rollbackSnapshot(target)
		return errors.Wrap(err, "responder failed")
	}

	dec := stream.NewDecoder(
		stream.WithTurnUserMessageID(target.UserMessageID),
		stream.WithDecoderLogger(s.logger),
	)
	if err := stream.Drain(ctx, src, dec); err != nil {
		s.rollbackSnapshot(target)
		return errors.Wrap(err, "decode loop failed")
	}
	msg := dec.Finish()

	if target.ReplaceMessageID != "" {
		if !s.state.ReplaceMessage(target.ReplaceMessageID, msg) {
			// target vanished, fall back to appending so the response
			// is not lost
			s.logger.Warn().Str("message_id", target.ReplaceMessageID).Msg("regeneration target missing, appending")
			s.state.Append(msg)
		}
	} else {
		s.state.Append(msg)
	}

	// persist even when the caller's context was canceled mid-stream: a
	// stopped run is done-for-now, not erroneous
	return s.settle(context.WithoutCancel(ctx))
}

// rollbackSnapshot removes the alternate created for a regeneration that
// never produced a response. The displayed message is still in the main
// list, so keeping the snapshot would leave the turn with a duplicate.
func (s *Session) rollbackSnapshot(target *chat.RegenerateTarget) {
	if target.SnapshotID == "" {
		return
	}
	if s.state.Variants.Remove(target.UserMessageID, target.SnapshotID) != nil {
		s.logger.Debug().
			Str("user_message_id", target.UserMessageID).
			Str("snapshot_id", target.SnapshotID).
			Msg("rolled back regeneration snapshot")
	}
}

func (s *Session) settle(ctx context.Context) error {
	err := s.sync.Settle(ctx, s.state)
	if errors.Is(err, store.ErrNotAccessible) {
		s.status = StatusDead
		return errors.Wrap(ErrSessionDead, "chat became inaccessible")
	}
	return err
}

// requestMessages returns the conversation up to and including the turn's
// user message; the assistant message being replaced and anything after it
// never travel with the request.
func (s *Session) requestMessages(target *chat.RegenerateTarget) []*chat.Message {
	msgs := s.state.Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ID == target.UserMessageID {
			return append([]*chat.Message(nil), msgs[:i+1]...)
		}
	}
	return append([]*chat.Message(nil), msgs...)
}
