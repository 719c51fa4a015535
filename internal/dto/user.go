package dto

// UpdateEligibilityRequest toggles a worker's assignment eligibility.
type UpdateEligibilityRequest struct {
	AllowAssign *bool `json:"allow_assign" binding:"required"`
}

// UpdateSystemRequest switches the singleton activation flag.
type UpdateSystemRequest struct {
	Status string `json:"status" binding:"required,oneof=ACTIVE MAINTENANCE"`
}

// HeartbeatRequest reports which text the caller is currently viewing.
type HeartbeatRequest struct {
	TextID *int64 `json:"text_id,omitempty"`
}
