package dto

// UnassignedBatchResponse reports the batch the allocator picked, if any.
type UnassignedBatchResponse struct {
	Batch *int64 `json:"batch"`
}

// Allocation reasons surfaced in response metadata when no text is returned.
const (
	ReasonNoWork      = "no_work_available"
	ReasonBlocked     = "assignment_blocked"
	ReasonMaintenance = "maintenance"
)
