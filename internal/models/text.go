package models

import "time"

// TextStatus captures the review lifecycle of a text.
type TextStatus string

const (
	TextStatusPending  TextStatus = "PENDING"
	TextStatusApproved TextStatus = "APPROVED"
	TextStatusRejected TextStatus = "REJECTED"
	TextStatusTrashed  TextStatus = "TRASHED"
)

// ReviewAction enumerates the closed set of transition actions.
type ReviewAction string

const (
	ActionConfirm ReviewAction = "confirm"
	ActionReject  ReviewAction = "reject"
	ActionIgnore  ReviewAction = "ignore"
	ActionTrash   ReviewAction = "trash"
	ActionEdit    ReviewAction = "edit"
)

// Valid reports whether the action is one of the known variants.
func (a ReviewAction) Valid() bool {
	switch a {
	case ActionConfirm, ActionReject, ActionIgnore, ActionTrash, ActionEdit:
		return true
	}
	return false
}

// Text is one unit of transcription work.
type Text struct {
	ID           int64      `db:"id" json:"id"`
	Batch        int64      `db:"batch" json:"batch"`
	OriginalText string     `db:"original_text" json:"original_text"`
	ModifiedText *string    `db:"modified_text" json:"modified_text,omitempty"`
	Status       TextStatus `db:"status" json:"status"`
	Reviewed     bool       `db:"reviewed" json:"reviewed"`
	ModifiedBy   *string    `db:"modified_by" json:"modified_by,omitempty"`
	RejectCount  int        `db:"reject_count" json:"reject_count"`
	DurationMS   int64      `db:"duration_ms" json:"duration_ms"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// TextFilter constrains candidate selection queries.
type TextFilter struct {
	Batches      []int64
	Status       TextStatus
	Reviewed     *bool
	ModifiedBy   string
	ExcludeIDs   []int64
	OrderUpdated bool // updated_at DESC when set, id ASC otherwise
	Limit        int
}
