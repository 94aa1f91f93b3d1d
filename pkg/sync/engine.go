// Package sync decides when and what to persist to the conversation store.
// Writes are skipped when a cheap structural signature says nothing
// changed, and stale load responses are rejected through a monotonic nonce.
package sync

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/chat"
	"github.com/go-go-golems/marionette/pkg/store"
)

// ErrStaleResponse marks a load response that was overtaken by a newer
// request; its payload must not be applied.
var ErrStaleResponse = errors.New("stale store response")

// Engine persists conversation state at settle points. There is one logical
// writer per chat session, so the last-pushed bookkeeping needs no lock;
// only the load nonce is shared with in-flight responses.
type Engine struct {
	store     store.Store
	profileID string

	lastChatID    string
	lastSignature string

	nonce atomic.Uint64

	onSummaryRefresh func(chatID string)
	logger           zerolog.Logger
}

type EngineOption func(*Engine)

// WithSummaryRefresh registers a best-effort callback fired after each
// successful push, used to refresh the chat summary (title, preview).
func WithSummaryRefresh(fn func(chatID string)) EngineOption {
	return func(e *Engine) {
		e.onSummaryRefresh = fn
	}
}

func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

func NewEngine(s store.Store, profileID string, options ...EngineOption) *Engine {
	ret := &Engine{
		store:     s,
		profileID: profileID,
		logger:    log.Logger,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Settle persists the state if its signature differs from the last
// successful push. Network failures are swallowed and logged; the write is
// retried implicitly on the next settle that produces a different
// signature. A not-accessible store response is fatal and propagates.
func (e *Engine) Settle(ctx context.Context, cs *chat.ConversationState) error {
	return e.push(ctx, cs, true)
}

// Flush is Settle with errors surfaced. Fork relies on it: locally created
// variants must reach the store before the store can carry them into the
// fork.
func (e *Engine) Flush(ctx context.Context, cs *chat.ConversationState) error {
	return e.push(ctx, cs, false)
}

func (e *Engine) push(ctx context.Context, cs *chat.ConversationState, swallow bool) error {
	sig := chat.Signature(cs)
	if cs.ChatID == e.lastChatID && sig == e.lastSignature {
		e.logger.Trace().Str("chat_id", cs.ChatID).Msg("signature unchanged, skipping push")
		return nil
	}

	err := e.store.PutMessages(ctx, cs.ChatID, &store.PutMessagesRequest{
		ProfileID:               e.profileID,
		Messages:                cs.Messages,
		VariantsByUserMessageID: cs.Variants,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotAccessible) {
			return err
		}
		if swallow {
			e.logger.Warn().Err(err).Str("chat_id", cs.ChatID).Msg("push failed, will retry on next settle")
			return nil
		}
		return errors.Wrap(err, "failed to flush conversation")
	}

	e.lastChatID = cs.ChatID
	e.lastSignature = sig
	e.logger.Debug().
		Str("chat_id", cs.ChatID).
		Int("messages", len(cs.Messages)).
		Int("turns_with_variants", len(cs.Variants)).
		Msg("pushed conversation state")

	if e.onSummaryRefresh != nil {
		e.onSummaryRefresh(cs.ChatID)
	}
	return nil
}

// Load fetches a chat's conversation wholesale and records its signature as
// the new baseline, so the first settle after a switch does not write back
// unchanged data. Every call invalidates earlier in-flight loads: a slow
// response that lost the race comes back as ErrStaleResponse and must be
// discarded.
func (e *Engine) Load(ctx context.Context, chatID string) (*chat.ConversationState, error) {
	n := e.nonce.Add(1)

	payload, err := e.store.GetMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if e.nonce.Load() != n {
		return nil, errors.Wrapf(ErrStaleResponse, "chat %s", chatID)
	}

	variants := payload.VariantsByUserMessageID
	if variants == nil {
		variants = chat.VariantSet{}
	}
	cs := &chat.ConversationState{
		ChatID:    chatID,
		ProfileID: e.profileID,
		Messages:  payload.Messages,
		Variants:  variants,
	}

	e.lastChatID = chatID
	e.lastSignature = chat.Signature(cs)

	e.logger.Debug().
		Str("chat_id", chatID).
		Int("messages", len(cs.Messages)).
		Msg("loaded conversation state")

	return cs, nil
}
