package dto

import "github.com/pecha-tools/transcription-api/internal/models"

// TransitionRequest is the single mutation payload for the review surface.
// Exactly one action is applied per request; unknown actions are rejected.
type TransitionRequest struct {
	Action       models.ReviewAction `json:"action" binding:"required"`
	ModifiedText *string             `json:"modified_text,omitempty"`
	NewText      *string             `json:"new_text,omitempty"`
	DurationMS   *int64              `json:"duration_ms,omitempty"`
	// AnnotatorID attributes the work to a specific worker when an admin
	// confirms or rejects on a worker's behalf.
	AnnotatorID string `json:"annotator_id,omitempty"`
}
