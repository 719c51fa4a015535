package models

import "time"

// PresenceMember is one live worker as reported by the presence channel.
// TextID is the item the member is currently viewing, if any.
type PresenceMember struct {
	UserID string    `json:"user_id"`
	TextID *int64    `json:"text_id,omitempty"`
	SeenAt time.Time `json:"seen_at"`
}

// PresenceSnapshot is a point-in-time view of the shared presence channel.
// It is eventually consistent and must never be treated as a lock.
type PresenceSnapshot struct {
	Members []PresenceMember `json:"members"`
}

// ViewedTextIDs returns the set of text ids other members are viewing.
func (s PresenceSnapshot) ViewedTextIDs(exceptUserID string) []int64 {
	ids := make([]int64, 0, len(s.Members))
	for _, m := range s.Members {
		if m.UserID == exceptUserID || m.TextID == nil {
			continue
		}
		ids = append(ids, *m.TextID)
	}
	return ids
}
