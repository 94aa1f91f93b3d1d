package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/go-go-golems/marionette/pkg/chat"
)

var (
	// ErrNotAccessible signals that the chat can no longer be read (for
	// example it was unshared while open). Callers treat this as fatal
	// for the session rather than retrying.
	ErrNotAccessible = errors.New("chat is not accessible")
	ErrNotFound      = errors.New("not found")
)

// MessagesPayload is the conversation content as the store exchanges it:
// the main list and the variant set travel together.
type MessagesPayload struct {
	Messages                []*chat.Message `json:"messages"`
	VariantsByUserMessageID chat.VariantSet `json:"variantsByUserMessageId"`
}

// PutMessagesRequest replaces a chat's conversation content atomically.
type PutMessagesRequest struct {
	ProfileID               string          `json:"profileId"`
	Messages                []*chat.Message `json:"messages"`
	VariantsByUserMessageID chat.VariantSet `json:"variantsByUserMessageId"`
}

// ForkRequest branches a chat at an edited user message.
type ForkRequest struct {
	ProfileID     string `json:"profileId"`
	UserMessageID string `json:"userMessageId"`
	Text          string `json:"text"`
}

// Store is the persistence boundary. The client core only depends on this
// request/response contract, never on the store's internal schema.
type Store interface {
	GetMessages(ctx context.Context, chatID string) (*MessagesPayload, error)
	PutMessages(ctx context.Context, chatID string, req *PutMessagesRequest) error
	Fork(ctx context.Context, chatID string, req *ForkRequest) (*chat.Chat, error)
}
