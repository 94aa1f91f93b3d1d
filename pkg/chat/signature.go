package chat

import (
	"sort"
	"strconv"
	"strings"
)

// Signature computes a cheap structural fingerprint of a conversation
// state: the ordered list of (id, role, textLength) per main-list message,
// plus the per-turn ordered list of (altId, textLength). It is used to skip
// redundant persistence writes.
//
// This is deliberately not a content hash. Two different texts of equal
// length produce the same signature, and a settle between them would be
// skipped. The trade stays cheap on every settle point; callers that need
// byte-exact change detection must compare content themselves.
func Signature(cs *ConversationState) string {
	if cs == nil {
		return ""
	}

	var sb strings.Builder
	for _, m := range cs.Messages {
		sb.WriteString(m.ID)
		sb.WriteByte(':')
		sb.WriteString(string(m.Role))
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(len(m.Text())))
		sb.WriteByte(';')
	}

	turnIDs := make([]string, 0, len(cs.Variants))
	for id := range cs.Variants {
		turnIDs = append(turnIDs, id)
	}
	sort.Strings(turnIDs)

	for _, turnID := range turnIDs {
		sb.WriteByte('|')
		sb.WriteString(turnID)
		sb.WriteByte('=')
		for _, alt := range cs.Variants.Sorted(turnID) {
			sb.WriteString(alt.ID)
			sb.WriteByte(':')
			sb.WriteString(strconv.Itoa(len(alt.Text())))
			sb.WriteByte(',')
		}
	}

	return sb.String()
}
