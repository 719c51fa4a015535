package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pecha-tools/transcription-api/internal/models"
)

// TextRepository persists texts and performs the guarded transition writes.
// Every mutation is either a single conditional UPDATE or a transaction, so a
// raced caller observes sql.ErrNoRows instead of overwriting the winner.
type TextRepository struct {
	db *sqlx.DB
}

// NewTextRepository constructs the repository.
func NewTextRepository(db *sqlx.DB) *TextRepository {
	return &TextRepository{db: db}
}

const textColumns = `id, batch, original_text, modified_text, status, reviewed, modified_by, reject_count, duration_ms, created_at, updated_at`

// GetByID fetches a text by identifier.
func (r *TextRepository) GetByID(ctx context.Context, id int64) (*models.Text, error) {
	query := fmt.Sprintf(`SELECT %s FROM texts WHERE id = $1 LIMIT 1`, textColumns)
	var text models.Text
	if err := r.db.GetContext(ctx, &text, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get text by id: %w", err)
	}
	return &text, nil
}

// DistinctBatches returns every batch id present in texts, ascending.
func (r *TextRepository) DistinctBatches(ctx context.Context) ([]int64, error) {
	const query = `SELECT DISTINCT batch FROM texts ORDER BY batch ASC`
	var batches []int64
	if err := r.db.SelectContext(ctx, &batches, query); err != nil {
		return nil, fmt.Errorf("list distinct batches: %w", err)
	}
	return batches, nil
}

// FirstUnreviewedInBatches returns the oldest unreviewed text whose batch is in
// the provided set, or sql.ErrNoRows when none exists.
func (r *TextRepository) FirstUnreviewedInBatches(ctx context.Context, batches []int64) (*models.Text, error) {
	if len(batches) == 0 {
		return nil, sql.ErrNoRows
	}
	query := fmt.Sprintf(`SELECT %s FROM texts
WHERE batch = ANY($1) AND reviewed = false AND status <> $2
ORDER BY id ASC LIMIT 1`, textColumns)
	var text models.Text
	if err := r.db.GetContext(ctx, &text, query, pq.Array(batches), models.TextStatusTrashed); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find unreviewed text in batches: %w", err)
	}
	return &text, nil
}

// SelectCandidates returns texts matching the filter in deterministic order.
func (r *TextRepository) SelectCandidates(ctx context.Context, filter models.TextFilter) ([]models.Text, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 5)
	builder.WriteString(fmt.Sprintf(`SELECT %s FROM texts`, textColumns))

	conditions := make([]string, 0, 5)
	if len(filter.Batches) > 0 {
		args = append(args, pq.Array(filter.Batches))
		conditions = append(conditions, fmt.Sprintf("batch = ANY($%d)", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Reviewed != nil {
		args = append(args, *filter.Reviewed)
		conditions = append(conditions, fmt.Sprintf("reviewed = $%d", len(args)))
	}
	if filter.ModifiedBy != "" {
		args = append(args, filter.ModifiedBy)
		conditions = append(conditions, fmt.Sprintf("modified_by = $%d", len(args)))
	}
	if len(filter.ExcludeIDs) > 0 {
		args = append(args, pq.Array(filter.ExcludeIDs))
		conditions = append(conditions, fmt.Sprintf("NOT (id = ANY($%d))", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	if filter.OrderUpdated {
		builder.WriteString(" ORDER BY updated_at DESC, id ASC")
	} else {
		builder.WriteString(" ORDER BY id ASC")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	} else if limit > 100 {
		limit = 100
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d", limit))

	var texts []models.Text
	if err := r.db.SelectContext(ctx, &texts, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("select candidate texts: %w", err)
	}
	return texts, nil
}

// TryClaim atomically claims a pending text for the user. A text already
// claimed by someone else, trashed, or approved loses the compare-and-set and
// the caller receives sql.ErrNoRows.
func (r *TextRepository) TryClaim(ctx context.Context, textID int64, userID string) error {
	const query = `UPDATE texts SET modified_by = $2, updated_at = $3
WHERE id = $1 AND status = $4 AND (modified_by IS NULL OR modified_by = $2)`
	result, err := r.db.ExecContext(ctx, query, textID, userID, time.Now().UTC(), models.TextStatusPending)
	if err != nil {
		return fmt.Errorf("claim text: %w", err)
	}
	return requireRow(result, "claim text")
}

// ReleaseClaim clears the claimant so the text circulates again.
func (r *TextRepository) ReleaseClaim(ctx context.Context, textID int64, userID string) error {
	const query = `UPDATE texts SET modified_by = NULL, updated_at = $3
WHERE id = $1 AND modified_by = $2 AND status = $4`
	if _, err := r.db.ExecContext(ctx, query, textID, userID, time.Now().UTC(), models.TextStatusPending); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// ApproveParams groups the columns written by a CONFIRM transition.
type ApproveParams struct {
	ID           int64
	ModifiedText string
	ModifiedBy   string
	DurationMS   int64
	Reviewed     bool
}

// Approve persists a CONFIRM transition. The guard refuses trashed and already
// reviewed texts.
func (r *TextRepository) Approve(ctx context.Context, params ApproveParams) error {
	const query = `UPDATE texts
SET modified_text = $2, status = $3, modified_by = $4, duration_ms = duration_ms + $5, reviewed = $6, updated_at = $7
WHERE id = $1 AND status <> $8 AND reviewed = false`
	result, err := r.db.ExecContext(ctx, query,
		params.ID,
		params.ModifiedText,
		models.TextStatusApproved,
		params.ModifiedBy,
		params.DurationMS,
		params.Reviewed,
		time.Now().UTC(),
		models.TextStatusTrashed,
	)
	if err != nil {
		return fmt.Errorf("approve text: %w", err)
	}
	return requireRow(result, "approve text")
}

// RejectParams describes a REJECT transition.
type RejectParams struct {
	TextID     int64
	UserID     string
	RejectedBy *string
	Threshold  int
}

// RejectOutcome reports the user's standing after a rejection.
type RejectOutcome struct {
	RejectionCount int
	AllowAssign    bool
}

// Reject applies a REJECT transition in one transaction: guarded status
// update, rejection log append, and the allow_assign revocation once the
// user's accumulated rejections reach the threshold.
func (r *TextRepository) Reject(ctx context.Context, params RejectParams) (*RejectOutcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reject tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const update = `UPDATE texts
SET status = $2, reject_count = reject_count + 1, updated_at = $3
WHERE id = $1 AND status <> $4`
	result, err := tx.ExecContext(ctx, update, params.TextID, models.TextStatusRejected, time.Now().UTC(), models.TextStatusTrashed)
	if err != nil {
		return nil, fmt.Errorf("reject text: %w", err)
	}
	if err := requireRow(result, "reject text"); err != nil {
		return nil, err
	}

	const insert = `INSERT INTO rejections (id, user_id, text_id, rejected_by, created_at)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.ExecContext(ctx, insert, uuid.NewString(), params.UserID, params.TextID, params.RejectedBy, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("append rejection: %w", err)
	}

	var count int
	if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM rejections WHERE user_id = $1`, params.UserID); err != nil {
		return nil, fmt.Errorf("count rejections: %w", err)
	}

	allowAssign := true
	if params.Threshold > 0 && count >= params.Threshold {
		allowAssign = false
		const revoke = `UPDATE users SET allow_assign = false, updated_at = $2 WHERE id = $1 AND allow_assign = true`
		if _, err := tx.ExecContext(ctx, revoke, params.UserID, time.Now().UTC()); err != nil {
			return nil, fmt.Errorf("revoke assignment eligibility: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reject tx: %w", err)
	}
	return &RejectOutcome{RejectionCount: count, AllowAssign: allowAssign}, nil
}

// Trash soft-deletes a text. Trashing twice is refused by the guard.
func (r *TextRepository) Trash(ctx context.Context, id int64) error {
	const query = `UPDATE texts SET status = $2, updated_at = $3 WHERE id = $1 AND status <> $2`
	result, err := r.db.ExecContext(ctx, query, id, models.TextStatusTrashed, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("trash text: %w", err)
	}
	return requireRow(result, "trash text")
}

// UpdateModifiedText overwrites the worker-produced content without touching
// status (EDIT transition).
func (r *TextRepository) UpdateModifiedText(ctx context.Context, id int64, content string) error {
	const query = `UPDATE texts SET modified_text = $2, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update modified text: %w", err)
	}
	return requireRow(result, "update modified text")
}

// ListApprovedInPeriod returns the user's APPROVED texts updated inside the
// half-open interval [from, to).
func (r *TextRepository) ListApprovedInPeriod(ctx context.Context, userID string, from, to time.Time) ([]models.Text, error) {
	query := fmt.Sprintf(`SELECT %s FROM texts
WHERE modified_by = $1 AND status = $2 AND updated_at >= $3 AND updated_at < $4
ORDER BY updated_at ASC`, textColumns)
	var texts []models.Text
	if err := r.db.SelectContext(ctx, &texts, query, userID, models.TextStatusApproved, from, to); err != nil {
		return nil, fmt.Errorf("list approved texts: %w", err)
	}
	return texts, nil
}

func requireRow(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
