package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/marionette/pkg/chat"
	"github.com/go-go-golems/marionette/pkg/store"
)

func TestGetMessagesUnknownChat(t *testing.T) {
	s := New()
	_, err := s.GetMessages(context.Background(), "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPutThenGetRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	c := s.CreateChat(&chat.Chat{ProfileID: "profile-1", Title: "greetings"})

	msgs := []*chat.Message{
		chat.NewUserMessage("Hi", chat.WithID("u1")),
		chat.NewAssistantMessage("Hello!", chat.WithID("a1")),
	}
	require.NoError(t, s.PutMessages(ctx, c.ID, &store.PutMessagesRequest{
		ProfileID: "profile-1",
		Messages:  msgs,
	}))

	payload, err := s.GetMessages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, payload.Messages, 2)
	assert.Equal(t, "Hello!", payload.Messages[1].Text())
	assert.NotNil(t, payload.VariantsByUserMessageID)

	// stored copies are isolated from caller mutation
	msgs[0].Parts = []chat.Part{&chat.TextPart{Text: "mutated"}}
	payload2, err := s.GetMessages(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hi", payload2.Messages[0].Text())
}

func TestRevokedChatIsNotAccessible(t *testing.T) {
	s := New()
	ctx := context.Background()
	c := s.CreateChat(&chat.Chat{ProfileID: "profile-1"})

	s.Revoke(c.ID)

	_, err := s.GetMessages(ctx, c.ID)
	require.ErrorIs(t, err, store.ErrNotAccessible)
	err = s.PutMessages(ctx, c.ID, &store.PutMessagesRequest{})
	require.ErrorIs(t, err, store.ErrNotAccessible)
	_, err = s.Fork(ctx, c.ID, &store.ForkRequest{UserMessageID: "u1", Text: "x"})
	require.ErrorIs(t, err, store.ErrNotAccessible)
}

func TestForkTruncatesAndCarriesEarlierVariants(t *testing.T) {
	s := New()
	ctx := context.Background()
	c := s.CreateChat(&chat.Chat{
		ProfileID:    "profile-1",
		Title:        "long chat",
		ModelID:      "model-x",
		Instructions: "be brief",
	})

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	at := func(sec int) chat.MessageOption { return chat.WithCreatedAt(t0.Add(time.Duration(sec) * time.Second)) }

	require.NoError(t, s.PutMessages(ctx, c.ID, &store.PutMessagesRequest{
		ProfileID: "profile-1",
		Messages: []*chat.Message{
			chat.NewUserMessage("q0", chat.WithID("u0"), at(0)),
			chat.NewAssistantMessage("r0", chat.WithID("a0"), at(1)),
			chat.NewUserMessage("q1", chat.WithID("u1"), at(2)),
			chat.NewAssistantMessage("r1", chat.WithID("a1"), at(3)),
			chat.NewUserMessage("q2", chat.WithID("u2"), at(4)),
			chat.NewAssistantMessage("r2", chat.WithID("a2"), at(5)),
		},
		VariantsByUserMessageID: chat.VariantSet{
			"u0": {chat.NewAssistantMessage("r0-alt", chat.WithID("a0-alt"), chat.WithTurnUserMessageID("u0"), at(10))},
			"u1": {chat.NewAssistantMessage("r1-alt", chat.WithID("a1-alt"), chat.WithTurnUserMessageID("u1"), at(11))},
			"u2": {chat.NewAssistantMessage("r2-alt", chat.WithID("a2-alt"), chat.WithTurnUserMessageID("u2"), at(12))},
		},
	}))

	forked, err := s.Fork(ctx, c.ID, &store.ForkRequest{
		ProfileID:     "profile-1",
		UserMessageID: "u1",
		Text:          "q1 edited",
	})
	require.NoError(t, err)
	assert.NotEqual(t, c.ID, forked.ID)
	assert.Equal(t, "long chat", forked.Title)
	assert.Equal(t, "model-x", forked.ModelID)
	assert.Equal(t, "be brief", forked.Instructions)

	payload, err := s.GetMessages(ctx, forked.ID)
	require.NoError(t, err)

	// main list ends at the edited message, with its new text
	require.Len(t, payload.Messages, 3)
	assert.Equal(t, "u1", payload.Messages[2].ID)
	assert.Equal(t, "q1 edited", payload.Messages[2].Text())

	// only the turn strictly before the edit keeps its alternates
	require.Len(t, payload.VariantsByUserMessageID, 1)
	alts := payload.VariantsByUserMessageID.Sorted("u0")
	require.Len(t, alts, 1)
	assert.Equal(t, "a0-alt", alts[0].ID)

	// the source chat is untouched
	src, err := s.GetMessages(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, src.Messages, 6)
	assert.Len(t, src.VariantsByUserMessageID, 3)
	assert.Equal(t, "q1", src.Messages[2].Text())
}

func TestForkRejectsNonUserTarget(t *testing.T) {
	s := New()
	ctx := context.Background()
	c := s.CreateChat(&chat.Chat{ProfileID: "profile-1"})
	require.NoError(t, s.PutMessages(ctx, c.ID, &store.PutMessagesRequest{
		Messages: []*chat.Message{
			chat.NewUserMessage("q", chat.WithID("u1")),
			chat.NewAssistantMessage("r", chat.WithID("a1")),
		},
	}))

	_, err := s.Fork(ctx, c.ID, &store.ForkRequest{UserMessageID: "a1", Text: "x"})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestForkRejectsEmptyText(t *testing.T) {
	s := New()
	c := s.CreateChat(&chat.Chat{ProfileID: "profile-1"})
	_, err := s.Fork(context.Background(), c.ID, &store.ForkRequest{UserMessageID: "u1", Text: "   "})
	require.Error(t, err)
}
