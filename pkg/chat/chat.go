package chat

import (
	"time"

	"github.com/huandu/go-clone"
)

// Chat is a named conversation session. It owns one main message list and
// one variant set, both held in ConversationState; the Chat struct itself is
// only the summary the store hands around.
type Chat struct {
	ID           string     `json:"id" yaml:"id"`
	ProfileID    string     `json:"profileId" yaml:"profileId"`
	Title        string     `json:"title" yaml:"title"`
	ModelID      string     `json:"modelId,omitempty" yaml:"modelId,omitempty"`
	Instructions string     `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	PinnedAt     *time.Time `json:"pinnedAt,omitempty" yaml:"pinnedAt,omitempty"`
	ArchivedAt   *time.Time `json:"archivedAt,omitempty" yaml:"archivedAt,omitempty"`
	FolderID     string     `json:"folderId,omitempty" yaml:"folderId,omitempty"`
}

// Clone returns a deep copy of the chat summary.
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	return clone.Clone(c).(*Chat)
}
