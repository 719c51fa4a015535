package dto

import "time"

// QuotaResponse reports a worker's completed-word count for one month.
type QuotaResponse struct {
	UserID    string `json:"user_id"`
	Month     string `json:"month"`
	WordCount int    `json:"word_count"`
	TextCount int    `json:"text_count"`
}

// ExportQuotaRequest asks for an asynchronous quota report.
type ExportQuotaRequest struct {
	Month  string `json:"month" binding:"required"`
	Format string `json:"format" binding:"omitempty,oneof=csv pdf"`
}

// QuotaReport describes a queued or finished report file.
type QuotaReport struct {
	ID          string     `json:"id"`
	Month       string     `json:"month"`
	Format      string     `json:"format"`
	Status      string     `json:"status"`
	FileName    string     `json:"file_name,omitempty"`
	DownloadURL string     `json:"download_url,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	RequestedBy string     `json:"requested_by"`
	RequestedAt time.Time  `json:"requested_at"`
}

// Quota report lifecycle states.
const (
	ReportStatusQueued    = "QUEUED"
	ReportStatusCompleted = "COMPLETED"
	ReportStatusFailed    = "FAILED"
)
