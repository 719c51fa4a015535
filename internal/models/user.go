package models

import (
	"time"

	"github.com/lib/pq"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAnnotator UserRole = "ANNOTATOR"
	RoleReviewer  UserRole = "REVIEWER"
	RoleAdmin     UserRole = "ADMIN"
	RoleOwner     UserRole = "OWNER"
)

// Privileged reports whether the role may drive review and admin flows.
func (r UserRole) Privileged() bool {
	return r == RoleReviewer || r == RoleAdmin || r == RoleOwner
}

// User represents a worker/reviewer/admin stored in the users table.
type User struct {
	ID            string        `db:"id" json:"id"`
	Username      string        `db:"username" json:"username"`
	Email         string        `db:"email" json:"email"`
	PasswordHash  string        `db:"password_hash" json:"-"`
	Role          UserRole      `db:"role" json:"role"`
	AssignedBatch pq.Int64Array `db:"assigned_batch" json:"assigned_batch"`
	AllowAssign   bool          `db:"allow_assign" json:"allow_assign"`
	Active        bool          `db:"active" json:"active"`
	LastLogin     *time.Time    `db:"last_login" json:"last_login,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// HasBatch reports whether the batch is already assigned to the user.
func (u *User) HasBatch(batch int64) bool {
	for _, b := range u.AssignedBatch {
		if b == batch {
			return true
		}
	}
	return false
}

// IgnoredText is a per-user opt-out reference to a text within a batch.
type IgnoredText struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Batch     int64     `db:"batch" json:"batch"`
	TextID    int64     `db:"text_id" json:"text_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Rejection is one entry of a user's ordered rejection log.
type Rejection struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	TextID     int64     `db:"text_id" json:"text_id"`
	RejectedBy *string   `db:"rejected_by" json:"rejected_by,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
