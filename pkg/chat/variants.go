package chat

import (
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyConversation = errors.New("conversation is empty")
	ErrNoSuchMessage     = errors.New("no such message in main list")
	ErrNotAssistant      = errors.New("message is not an assistant message")
	ErrNoSuchVariant     = errors.New("no such variant for turn")
	ErrNoAlternates      = errors.New("turn has no alternates to page through")
)

// PageDirection selects the paging neighbor.
type PageDirection string

const (
	PagePrev PageDirection = "prev"
	PageNext PageDirection = "next"
)

// VariantManager owns the turn-to-alternates structure of a conversation
// state. Clock and id generation are injectable so tests get deterministic
// ordering.
type VariantManager struct {
	now   func() time.Time
	newID func() string
}

type VariantManagerOption func(*VariantManager)

func WithClock(now func() time.Time) VariantManagerOption {
	return func(vm *VariantManager) {
		vm.now = now
	}
}

func WithIDGenerator(newID func() string) VariantManagerOption {
	return func(vm *VariantManager) {
		vm.newID = newID
	}
}

func NewVariantManager(options ...VariantManagerOption) *VariantManager {
	ret := &VariantManager{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// RegenerateTarget tells the caller which response request to issue after
// the conversation has been prepared for regeneration.
type RegenerateTarget struct {
	// UserMessageID anchors the turn being regenerated.
	UserMessageID string
	// ReplaceMessageID is the assistant message the finished response
	// replaces in place. Empty means the turn has no assistant response
	// yet and the result is appended instead.
	ReplaceMessageID string
	// SnapshotID names the alternate created for the displayed message, so
	// the caller can remove it again when no response is obtained.
	SnapshotID string
}

// PrepareRegenerate readies the conversation tail for a new assistant
// response. When the tail is a bare user message (right after a fork) there
// is nothing to preserve and the response is requested directly. Otherwise
// the current assistant message is snapshotted into the turn's variant set
// under a fresh id before the regeneration request is issued.
func (vm *VariantManager) PrepareRegenerate(cs *ConversationState) (*RegenerateTarget, error) {
	if cs == nil || len(cs.Messages) == 0 {
		return nil, ErrEmptyConversation
	}

	last := cs.LastMessage()
	if last.Role == RoleUser {
		return &RegenerateTarget{UserMessageID: last.ID}, nil
	}

	idx := cs.LastAssistantIndex()
	if idx < 0 {
		return nil, ErrNoSuchMessage
	}
	current := cs.Messages[idx]
	userMessageID := cs.TurnUserMessageID(idx)
	if userMessageID == "" {
		return nil, errors.Errorf("assistant message %s has no turn anchor", current.ID)
	}

	snapshot := clone.Clone(current).(*Message)
	snapshot.ID = vm.newID()
	snapshot.Metadata.CreatedAt = vm.now()
	snapshot.Metadata.TurnUserMessageID = userMessageID
	cs.Variants.Add(userMessageID, snapshot)
	cs.Version++

	log.Debug().
		Str("chat_id", cs.ChatID).
		Str("user_message_id", userMessageID).
		Str("snapshot_id", snapshot.ID).
		Int("alternates", len(cs.Variants[userMessageID])).
		Msg("snapshotted current assistant message for regenerate")

	return &RegenerateTarget{
		UserMessageID:    userMessageID,
		ReplaceMessageID: current.ID,
		SnapshotID:       snapshot.ID,
	}, nil
}

// SelectVariant swaps the displayed assistant message of a turn with one of
// its alternates. The target leaves the variant set, the previously shown
// message joins it. At most one message per turn anchor stays in the main
// list.
func (vm *VariantManager) SelectVariant(cs *ConversationState, messageID, targetVariantID string) error {
	current, idx := cs.MessageByID(messageID)
	if current == nil {
		return errors.Wrapf(ErrNoSuchMessage, "id %s", messageID)
	}
	if current.Role != RoleAssistant {
		return errors.Wrapf(ErrNotAssistant, "id %s", messageID)
	}

	turnID := cs.TurnUserMessageID(idx)
	target := cs.Variants.Remove(turnID, targetVariantID)
	if target == nil {
		return errors.Wrapf(ErrNoSuchVariant, "turn %s variant %s", turnID, targetVariantID)
	}

	displaced := current
	displaced.Metadata.TurnUserMessageID = turnID
	cs.Variants.Add(turnID, displaced)
	cs.Messages[idx] = target
	cs.Version++

	log.Debug().
		Str("chat_id", cs.ChatID).
		Str("turn_id", turnID).
		Str("selected", target.ID).
		Str("displaced", displaced.ID).
		Msg("selected variant")

	return nil
}

// PageVariants moves the displayed message of a turn to its neighbor in the
// stable (createdAt, id) ordering of current plus alternates, wrapping
// around at either end.
func (vm *VariantManager) PageVariants(cs *ConversationState, messageID string, direction PageDirection) error {
	sequence, currentIdx, err := vm.variantSequence(cs, messageID)
	if err != nil {
		return err
	}
	if len(sequence) < 2 {
		return ErrNoAlternates
	}

	var neighbor int
	switch direction {
	case PageNext:
		neighbor = (currentIdx + 1) % len(sequence)
	case PagePrev:
		neighbor = (currentIdx - 1 + len(sequence)) % len(sequence)
	default:
		return errors.Errorf("unknown page direction %q", direction)
	}

	return vm.SelectVariant(cs, messageID, sequence[neighbor].ID)
}

// Pager returns the 1-based position of the displayed message within its
// turn and the total count, for a "k/n" display.
func (vm *VariantManager) Pager(cs *ConversationState, messageID string) (int, int, error) {
	sequence, currentIdx, err := vm.variantSequence(cs, messageID)
	if err != nil {
		return 0, 0, err
	}
	return currentIdx + 1, len(sequence), nil
}

// variantSequence merges the displayed message into its turn's sorted
// alternates and locates it.
func (vm *VariantManager) variantSequence(cs *ConversationState, messageID string) ([]*Message, int, error) {
	current, idx := cs.MessageByID(messageID)
	if current == nil {
		return nil, 0, errors.Wrapf(ErrNoSuchMessage, "id %s", messageID)
	}
	if current.Role != RoleAssistant {
		return nil, 0, errors.Wrapf(ErrNotAssistant, "id %s", messageID)
	}
	turnID := cs.TurnUserMessageID(idx)

	sequence := append(cs.Variants.Sorted(turnID), current)
	sortByCreation(sequence)

	for i, m := range sequence {
		if m.ID == current.ID {
			return sequence, i, nil
		}
	}
	return nil, 0, errors.Errorf("message %s missing from its own variant sequence", messageID)
}
