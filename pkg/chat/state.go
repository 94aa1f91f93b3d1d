package chat

import (
	"sort"

	"github.com/huandu/go-clone"
)

// VariantSet maps a turn's user message id to the assistant alternates that
// are retained but not currently displayed. The message shown in the main
// list is never a member; paging merges it in virtually.
type VariantSet map[string][]*Message

// Sorted returns the alternates for a turn ordered by (createdAt, id). The
// ordering is stable across selection: swapping membership never re-sorts
// by selection order.
func (vs VariantSet) Sorted(userMessageID string) []*Message {
	alts := append([]*Message(nil), vs[userMessageID]...)
	sortByCreation(alts)
	return alts
}

// Add inserts an alternate for a turn, keeping the slice ordered.
func (vs VariantSet) Add(userMessageID string, msg *Message) {
	alts := append(vs[userMessageID], msg)
	sortByCreation(alts)
	vs[userMessageID] = alts
}

// Remove deletes the alternate with the given id from a turn's set. It
// returns the removed message, or nil if it was not present.
func (vs VariantSet) Remove(userMessageID, variantID string) *Message {
	alts := vs[userMessageID]
	for i, alt := range alts {
		if alt.ID == variantID {
			vs[userMessageID] = append(alts[:i], alts[i+1:]...)
			if len(vs[userMessageID]) == 0 {
				delete(vs, userMessageID)
			}
			return alt
		}
	}
	return nil
}

func sortByCreation(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		ti, tj := msgs[i].Metadata.CreatedAt, msgs[j].Metadata.CreatedAt
		if ti.Equal(tj) {
			return msgs[i].ID < msgs[j].ID
		}
		return ti.Before(tj)
	})
}

// ConversationState is the canonical in-memory conversation for one chat:
// the main message list plus the variant set. It is passed explicitly to
// every component that mutates or persists it.
type ConversationState struct {
	ChatID    string
	ProfileID string
	Messages  []*Message
	Variants  VariantSet
	Version   int64
}

func NewConversationState(chatID, profileID string) *ConversationState {
	return &ConversationState{
		ChatID:    chatID,
		ProfileID: profileID,
		Variants:  VariantSet{},
	}
}

// Clone returns a deep copy suitable for snapshotting.
func (cs *ConversationState) Clone() *ConversationState {
	if cs == nil {
		return nil
	}
	return clone.Clone(cs).(*ConversationState)
}

// Replace swaps the state wholesale, used when loading a chat from the
// store.
func (cs *ConversationState) Replace(messages []*Message, variants VariantSet) {
	cs.Messages = messages
	if variants == nil {
		variants = VariantSet{}
	}
	cs.Variants = variants
	cs.Version++
}

// MessageByID returns the message with the given id from the main list.
func (cs *ConversationState) MessageByID(id string) (*Message, int) {
	for i, m := range cs.Messages {
		if m.ID == id {
			return m, i
		}
	}
	return nil, -1
}

// LastMessage returns the tail of the main list, or nil when empty.
func (cs *ConversationState) LastMessage() *Message {
	if len(cs.Messages) == 0 {
		return nil
	}
	return cs.Messages[len(cs.Messages)-1]
}

// Append adds messages to the end of the main list.
func (cs *ConversationState) Append(msgs ...*Message) {
	cs.Messages = append(cs.Messages, msgs...)
	cs.Version++
}

// ReplaceMessage substitutes the main-list entry with the given id in
// place, preserving its position. It reports whether the id was found.
func (cs *ConversationState) ReplaceMessage(id string, msg *Message) bool {
	_, idx := cs.MessageByID(id)
	if idx < 0 {
		return false
	}
	cs.Messages[idx] = msg
	cs.Version++
	return true
}

// TurnUserMessageID resolves the user message anchoring the turn that the
// message at index i belongs to. An explicit turnUserMessageId wins; when
// absent the nearest preceding user message is the anchor, so a turn
// survives being the regeneration target.
func (cs *ConversationState) TurnUserMessageID(i int) string {
	if i < 0 || i >= len(cs.Messages) {
		return ""
	}
	if id := cs.Messages[i].Metadata.TurnUserMessageID; id != "" {
		return id
	}
	for j := i; j >= 0; j-- {
		if cs.Messages[j].Role == RoleUser {
			return cs.Messages[j].ID
		}
	}
	return ""
}

// LastAssistantIndex returns the index of the last assistant message in the
// main list, or -1.
func (cs *ConversationState) LastAssistantIndex() int {
	for i := len(cs.Messages) - 1; i >= 0; i-- {
		if cs.Messages[i].Role == RoleAssistant {
			return i
		}
	}
	return -1
}
