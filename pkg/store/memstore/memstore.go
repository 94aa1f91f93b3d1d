// Package memstore is an in-memory reference implementation of the
// conversation store contract. It backs tests and the local CLI mode; a
// production deployment talks to a real store through store.HTTPStore.
package memstore

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/chat"
	"github.com/go-go-golems/marionette/pkg/store"
)

type MemStore struct {
	mu       sync.Mutex
	chats    map[string]*chat.Chat
	payloads map[string]*store.MessagesPayload
	// revoked chats answer ErrNotAccessible, mimicking an unshare
	revoked map[string]bool
}

func New() *MemStore {
	return &MemStore{
		chats:    map[string]*chat.Chat{},
		payloads: map[string]*store.MessagesPayload{},
		revoked:  map[string]bool{},
	}
}

var _ store.Store = (*MemStore)(nil)

// CreateChat registers a chat summary and an empty conversation for it.
func (s *MemStore) CreateChat(c *chat.Chat) *chat.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()

	cc := c.Clone()
	if cc.ID == "" {
		cc.ID = uuid.NewString()
	}
	s.chats[cc.ID] = cc
	s.payloads[cc.ID] = &store.MessagesPayload{
		VariantsByUserMessageID: chat.VariantSet{},
	}
	return cc.Clone()
}

// Revoke makes a chat unreadable, as if it had been unshared while open.
func (s *MemStore) Revoke(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[chatID] = true
}

func (s *MemStore) GetMessages(_ context.Context, chatID string) (*store.MessagesPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(chatID); err != nil {
		return nil, err
	}
	return clone.Clone(s.payloads[chatID]).(*store.MessagesPayload), nil
}

func (s *MemStore) PutMessages(_ context.Context, chatID string, req *store.PutMessagesRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(chatID); err != nil {
		return err
	}
	variants := req.VariantsByUserMessageID
	if variants == nil {
		variants = chat.VariantSet{}
	}
	s.payloads[chatID] = clone.Clone(&store.MessagesPayload{
		Messages:                req.Messages,
		VariantsByUserMessageID: variants,
	}).(*store.MessagesPayload)

	log.Trace().
		Str("chat_id", chatID).
		Int("messages", len(req.Messages)).
		Int("turns_with_variants", len(variants)).
		Msg("stored messages")
	return nil
}

// Fork builds a new chat whose main list is the source list truncated to
// end at the edited user message with its text replaced. Variant entries
// for turns strictly before the edit are copied verbatim; turns at or after
// the edit are dropped.
func (s *MemStore) Fork(_ context.Context, chatID string, req *store.ForkRequest) (*chat.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(chatID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("fork text is empty")
	}

	source := s.chats[chatID]
	payload := s.payloads[chatID]

	editIdx := -1
	for i, m := range payload.Messages {
		if m.ID == req.UserMessageID && m.Role == chat.RoleUser {
			editIdx = i
			break
		}
	}
	if editIdx < 0 {
		return nil, errors.Wrapf(store.ErrNotFound, "user message %s", req.UserMessageID)
	}

	truncated := clone.Clone(payload.Messages[:editIdx+1]).([]*chat.Message)
	edited := truncated[editIdx]
	edited.Parts = []chat.Part{&chat.TextPart{Text: req.Text}}

	// index of each turn anchor in the source main list
	anchorIdx := map[string]int{}
	for i, m := range payload.Messages {
		if m.Role == chat.RoleUser {
			anchorIdx[m.ID] = i
		}
	}

	variants := chat.VariantSet{}
	for anchor, alts := range payload.VariantsByUserMessageID {
		idx, ok := anchorIdx[anchor]
		if !ok || idx >= editIdx {
			continue
		}
		variants[anchor] = clone.Clone(alts).([]*chat.Message)
	}

	forked := &chat.Chat{
		ID:           uuid.NewString(),
		ProfileID:    req.ProfileID,
		Title:        source.Title,
		ModelID:      source.ModelID,
		Instructions: source.Instructions,
		FolderID:     source.FolderID,
	}
	s.chats[forked.ID] = forked
	s.payloads[forked.ID] = &store.MessagesPayload{
		Messages:                truncated,
		VariantsByUserMessageID: variants,
	}

	log.Debug().
		Str("source_chat_id", chatID).
		Str("forked_chat_id", forked.ID).
		Int("messages", len(truncated)).
		Int("carried_turns", len(variants)).
		Msg("forked chat")

	return forked.Clone(), nil
}

func (s *MemStore) check(chatID string) error {
	if s.revoked[chatID] {
		return errors.Wrapf(store.ErrNotAccessible, "chat %s", chatID)
	}
	if _, ok := s.chats[chatID]; !ok {
		return errors.Wrapf(store.ErrNotFound, "chat %s", chatID)
	}
	return nil
}
