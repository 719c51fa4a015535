package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pecha-tools/transcription-api/internal/models"
)

// SystemRepository persists the singleton activation flag read before every
// allocation cycle.
type SystemRepository struct {
	db *sqlx.DB
}

// NewSystemRepository constructs the repository.
func NewSystemRepository(db *sqlx.DB) *SystemRepository {
	return &SystemRepository{db: db}
}

// Get returns the singleton row. A missing row defaults to ACTIVE.
func (r *SystemRepository) Get(ctx context.Context) (*models.SystemStatus, error) {
	const query = `SELECT id, status, updated_by, updated_at FROM system_status WHERE id = 1`
	var status models.SystemStatus
	if err := r.db.GetContext(ctx, &status, query); err != nil {
		if err == sql.ErrNoRows {
			return &models.SystemStatus{ID: 1, Status: models.SystemActive}, nil
		}
		return nil, fmt.Errorf("get system status: %w", err)
	}
	return &status, nil
}

// Set upserts the singleton row.
func (r *SystemRepository) Set(ctx context.Context, state models.SystemState, updatedBy string) (*models.SystemStatus, error) {
	const query = `INSERT INTO system_status (id, status, updated_by, updated_at)
VALUES (1, $1, $2, $3)
ON CONFLICT (id)
DO UPDATE SET status = EXCLUDED.status, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`
	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, query, state, updatedBy, now); err != nil {
		return nil, fmt.Errorf("set system status: %w", err)
	}
	return &models.SystemStatus{ID: 1, Status: state, UpdatedBy: &updatedBy, UpdatedAt: now}, nil
}
