package chat

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareRegenerateOnUserTailNeedsNoSnapshot(t *testing.T) {
	cs := NewConversationState("chat-1", "profile-1")
	user := NewUserMessage("Hi", WithID("u1"))
	cs.Append(user)

	vm := NewVariantManager()
	target, err := vm.PrepareRegenerate(cs)
	require.NoError(t, err)

	assert.Equal(t, "u1", target.UserMessageID)
	assert.Empty(t, target.ReplaceMessageID)
	assert.Empty(t, target.SnapshotID)
	assert.Empty(t, cs.Variants)
}

func TestPrepareRegenerateSnapshotsCurrentAssistant(t *testing.T) {
	cs, vm, clock := seededConversation(t)

	target, err := vm.PrepareRegenerate(cs)
	require.NoError(t, err)

	assert.Equal(t, "u1", target.UserMessageID)
	assert.Equal(t, "a1", target.ReplaceMessageID)

	alts := cs.Variants.Sorted("u1")
	require.Len(t, alts, 1)
	assert.NotEqual(t, "a1", alts[0].ID)
	assert.Equal(t, alts[0].ID, target.SnapshotID)
	assert.Equal(t, "Hello!", alts[0].Text())
	assert.Equal(t, "u1", alts[0].Metadata.TurnUserMessageID)
	assert.Equal(t, clock.now, alts[0].Metadata.CreatedAt)
}

func TestPrepareRegenerateEmptyConversation(t *testing.T) {
	vm := NewVariantManager()
	_, err := vm.PrepareRegenerate(NewConversationState("chat-1", "profile-1"))
	require.ErrorIs(t, err, ErrEmptyConversation)
}

func TestRegenerateNTimesYieldsNPlusOneAlternates(t *testing.T) {
	cs, vm, clock := seededConversation(t)

	const n = 4
	for i := 0; i < n; i++ {
		clock.advance()
		target, err := vm.PrepareRegenerate(cs)
		require.NoError(t, err)
		require.Equal(t, "a1", target.ReplaceMessageID)

		// simulate the regeneration completing and replacing in place
		replacement := NewAssistantMessage(
			fmt.Sprintf("regenerated %d", i),
			WithID("a1"),
			WithTurnUserMessageID("u1"),
			WithCreatedAt(clock.advance()),
		)
		require.True(t, cs.ReplaceMessage("a1", replacement))
	}

	assert.Len(t, cs.Variants["u1"], n)

	k, total, err := vm.Pager(cs, "a1")
	require.NoError(t, err)
	assert.Equal(t, n+1, total)
	assert.Equal(t, n+1, k, "freshest response pages last in creation order")
}

func TestSelectVariantSwapsMembership(t *testing.T) {
	cs, vm, clock := seededConversation(t)

	clock.advance()
	_, err := vm.PrepareRegenerate(cs)
	require.NoError(t, err)
	snapshotID := cs.Variants.Sorted("u1")[0].ID

	require.NoError(t, vm.SelectVariant(cs, "a1", snapshotID))

	current, idx := cs.MessageByID(snapshotID)
	require.NotNil(t, current)
	assert.Equal(t, 1, idx, "selection preserves main list position")

	alts := cs.Variants.Sorted("u1")
	require.Len(t, alts, 1)
	assert.Equal(t, "a1", alts[0].ID, "displaced message joined the set")
}

func TestSelectVariantUnknownTarget(t *testing.T) {
	cs, vm, _ := seededConversation(t)
	err := vm.SelectVariant(cs, "a1", "nope")
	require.ErrorIs(t, err, ErrNoSuchVariant)
}

func TestSelectVariantRejectsUserMessage(t *testing.T) {
	cs, vm, _ := seededConversation(t)
	err := vm.SelectVariant(cs, "u1", "whatever")
	require.ErrorIs(t, err, ErrNotAssistant)
}

func TestPageVariantsWrapsAround(t *testing.T) {
	cs, vm, clock := seededConversation(t)

	const extra = 3
	for i := 0; i < extra; i++ {
		clock.advance()
		_, err := vm.PrepareRegenerate(cs)
		require.NoError(t, err)
	}
	require.Len(t, cs.Variants["u1"], extra)

	startID := currentAssistantID(t, cs)
	total := extra + 1
	for i := 0; i < total; i++ {
		require.NoError(t, vm.PageVariants(cs, currentAssistantID(t, cs), PageNext))
	}
	assert.Equal(t, startID, currentAssistantID(t, cs), "m pages of next return to the origin")
}

func TestPageVariantsPrevThenNextIsIdentity(t *testing.T) {
	cs, vm, clock := seededConversation(t)
	clock.advance()
	_, err := vm.PrepareRegenerate(cs)
	require.NoError(t, err)

	startID := currentAssistantID(t, cs)
	require.NoError(t, vm.PageVariants(cs, startID, PagePrev))
	require.NotEqual(t, startID, currentAssistantID(t, cs))
	require.NoError(t, vm.PageVariants(cs, currentAssistantID(t, cs), PageNext))
	assert.Equal(t, startID, currentAssistantID(t, cs))
}

func TestPageVariantsWithoutAlternates(t *testing.T) {
	cs, vm, _ := seededConversation(t)
	err := vm.PageVariants(cs, "a1", PageNext)
	require.ErrorIs(t, err, ErrNoAlternates)
}

func TestVariantOrderingIsStableAcrossSelection(t *testing.T) {
	cs, vm, clock := seededConversation(t)

	clock.advance()
	_, err := vm.PrepareRegenerate(cs)
	require.NoError(t, err)
	snapshotID := cs.Variants.Sorted("u1")[0].ID

	// selecting back and forth must not change the (createdAt, id) order
	require.NoError(t, vm.SelectVariant(cs, "a1", snapshotID))
	require.NoError(t, vm.SelectVariant(cs, snapshotID, "a1"))

	k, total, err := vm.Pager(cs, "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, k, "a1 was created first and stays first")
}

// --- helpers ---

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) advance() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

// seededConversation returns a one-turn conversation ("Hi" / "Hello!") with
// a deterministic clock driving the variant manager.
func seededConversation(t *testing.T) (*ConversationState, *VariantManager, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cs := NewConversationState("chat-1", "profile-1")
	cs.Append(
		NewUserMessage("Hi", WithID("u1"), WithCreatedAt(clock.now)),
		NewAssistantMessage("Hello!", WithID("a1"), WithCreatedAt(clock.advance())),
	)

	seq := 0
	vm := NewVariantManager(
		WithClock(func() time.Time { return clock.now }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("alt-%d", seq)
		}),
	)
	return cs, vm, clock
}

func currentAssistantID(t *testing.T, cs *ConversationState) string {
	t.Helper()
	idx := cs.LastAssistantIndex()
	require.GreaterOrEqual(t, idx, 0)
	return cs.Messages[idx].ID
}
