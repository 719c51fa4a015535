package models

import "time"

// SystemState is the process-wide activation flag read before every allocation.
type SystemState string

const (
	SystemActive      SystemState = "ACTIVE"
	SystemMaintenance SystemState = "MAINTENANCE"
)

// SystemStatus is the singleton row backing the activation flag.
type SystemStatus struct {
	ID        int         `db:"id" json:"-"`
	Status    SystemState `db:"status" json:"status"`
	UpdatedBy *string     `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}
