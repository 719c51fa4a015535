package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pecha-tools/transcription-api/internal/dto"
	"github.com/pecha-tools/transcription-api/internal/models"
	"github.com/pecha-tools/transcription-api/internal/repository"
	appErrors "github.com/pecha-tools/transcription-api/pkg/errors"
)

type reviewTextStore interface {
	GetByID(ctx context.Context, id int64) (*models.Text, error)
	Approve(ctx context.Context, params repository.ApproveParams) error
	Reject(ctx context.Context, params repository.RejectParams) (*repository.RejectOutcome, error)
	Trash(ctx context.Context, id int64) error
	UpdateModifiedText(ctx context.Context, id int64, content string) error
	ReleaseClaim(ctx context.Context, textID int64, userID string) error
}

type reviewUserStore interface {
	AddIgnoredText(ctx context.Context, userID string, batch, textID int64) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// ReviewConfig tunes the state machine.
type ReviewConfig struct {
	// RejectThreshold is the number of rejection events against a single
	// worker, across all texts, after which assignment eligibility is revoked.
	RejectThreshold int
}

// ReviewService drives the text review state machine. Each transition is a
// single guarded store write (or one transaction), so concurrent transitions
// on the same text serialize and the loser observes an invalid transition
// rather than overwriting the winner.
type ReviewService struct {
	texts   reviewTextStore
	users   reviewUserStore
	audit   auditLogger
	metrics *MetricsService
	logger  *zap.Logger
	config  ReviewConfig
}

// NewReviewService constructs the service.
func NewReviewService(texts reviewTextStore, users reviewUserStore, audit auditLogger, metrics *MetricsService, logger *zap.Logger, config ReviewConfig) *ReviewService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.RejectThreshold <= 0 {
		config.RejectThreshold = 3
	}
	return &ReviewService{texts: texts, users: users, audit: audit, metrics: metrics, logger: logger, config: config}
}

// Apply executes one transition on a text. The action set is closed; anything
// else is a validation error. UNDO never reaches the server; it is a
// client-local content reset.
func (s *ReviewService) Apply(ctx context.Context, textID int64, req dto.TransitionRequest, actor *models.JWTClaims) (*models.Text, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !req.Action.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown action: %s", req.Action))
	}

	text, err := s.texts.GetByID(ctx, textID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "text no longer available")
		}
		return nil, storeErr(err, "failed to load text")
	}

	switch req.Action {
	case models.ActionConfirm:
		err = s.confirm(ctx, text, req, actor)
	case models.ActionReject:
		err = s.reject(ctx, text, req, actor)
	case models.ActionIgnore:
		err = s.ignore(ctx, text, actor)
	case models.ActionTrash:
		err = s.trash(ctx, text)
	case models.ActionEdit:
		err = s.edit(ctx, text, req)
	}
	if err != nil {
		s.observeTransition(req.Action, "refused")
		return nil, err
	}
	s.observeTransition(req.Action, "applied")

	s.emitAudit(ctx, actor, text.ID, req.Action)

	return s.texts.GetByID(ctx, textID)
}

func (s *ReviewService) confirm(ctx context.Context, text *models.Text, req dto.TransitionRequest, actor *models.JWTClaims) error {
	if text.Status == models.TextStatusTrashed {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "cannot confirm a trashed text")
	}
	if text.Reviewed {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "text already reviewed")
	}
	if req.ModifiedText == nil {
		return appErrors.Clone(appErrors.ErrValidation, "modified_text is required for confirm")
	}

	admin := actor.Role == models.RoleAdmin || actor.Role == models.RoleOwner
	modifiedBy := actor.UserID
	if admin && req.AnnotatorID != "" {
		// Admin confirm keeps attribution with the worker whose backlog is
		// being reviewed.
		modifiedBy = req.AnnotatorID
	}

	var duration int64
	if req.DurationMS != nil {
		duration = *req.DurationMS
	}

	err := s.texts.Approve(ctx, repository.ApproveParams{
		ID:           text.ID,
		ModifiedText: *req.ModifiedText,
		ModifiedBy:   modifiedBy,
		DurationMS:   duration,
		Reviewed:     admin,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "text changed during confirm")
	}
	if err != nil {
		return storeErr(err, "failed to confirm text")
	}
	return nil
}

func (s *ReviewService) reject(ctx context.Context, text *models.Text, req dto.TransitionRequest, actor *models.JWTClaims) error {
	if text.Status == models.TextStatusTrashed {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "cannot reject a trashed text")
	}

	rejectedUser := actor.UserID
	var rejectedBy *string
	if (actor.Role == models.RoleAdmin || actor.Role == models.RoleOwner) && req.AnnotatorID != "" {
		rejectedUser = req.AnnotatorID
		rejectedBy = &actor.UserID
	}

	outcome, err := s.texts.Reject(ctx, repository.RejectParams{
		TextID:     text.ID,
		UserID:     rejectedUser,
		RejectedBy: rejectedBy,
		Threshold:  s.config.RejectThreshold,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "text changed during reject")
	}
	if err != nil {
		return storeErr(err, "failed to reject text")
	}
	if !outcome.AllowAssign {
		s.logger.Warn("assignment eligibility revoked",
			zap.String("user_id", rejectedUser),
			zap.Int("rejections", outcome.RejectionCount),
		)
	}
	return nil
}

func (s *ReviewService) ignore(ctx context.Context, text *models.Text, actor *models.JWTClaims) error {
	// Per-user opt-out: the text row itself is unchanged apart from releasing
	// the caller's claim so the item circulates.
	if err := s.users.AddIgnoredText(ctx, actor.UserID, text.Batch, text.ID); err != nil {
		return storeErr(err, "failed to record ignore")
	}
	if err := s.texts.ReleaseClaim(ctx, text.ID, actor.UserID); err != nil {
		return storeErr(err, "failed to release claim")
	}
	return nil
}

func (s *ReviewService) trash(ctx context.Context, text *models.Text) error {
	err := s.texts.Trash(ctx, text.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "text already trashed")
	}
	if err != nil {
		return storeErr(err, "failed to trash text")
	}
	return nil
}

func (s *ReviewService) edit(ctx context.Context, text *models.Text, req dto.TransitionRequest) error {
	if req.NewText == nil {
		return appErrors.Clone(appErrors.ErrValidation, "new_text is required for edit")
	}
	err := s.texts.UpdateModifiedText(ctx, text.ID, *req.NewText)
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "text no longer available")
	}
	if err != nil {
		return storeErr(err, "failed to edit text")
	}
	return nil
}

func (s *ReviewService) observeTransition(action models.ReviewAction, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveTransition(string(action), outcome)
	}
}

func (s *ReviewService) emitAudit(ctx context.Context, actor *models.JWTClaims, textID int64, action models.ReviewAction) {
	if s.audit == nil {
		return
	}
	resourceID := fmt.Sprintf("%d", textID)
	payload := []byte(fmt.Sprintf(`{"action":%q}`, action))
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionTransition,
		Resource:   "text",
		ResourceID: &resourceID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "review-service",
	}); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
