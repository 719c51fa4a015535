package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pecha-tools/transcription-api/internal/models"
	appErrors "github.com/pecha-tools/transcription-api/pkg/errors"
)

type userStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	RemoveBatch(ctx context.Context, userID string, batch int64) error
	SetAllowAssign(ctx context.Context, userID string, allow bool) error
	CountRejections(ctx context.Context, userID string) (int, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// UserService exposes admin-facing worker management.
type UserService struct {
	users  userStore
	logger *zap.Logger
}

// NewUserService constructs a UserService instance.
func NewUserService(users userStore, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{users: users, logger: logger}
}

// List returns a page of users matching the filter.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	users, total, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, nil, storeErr(err, "failed to list users")
	}

	return users, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	}, nil
}

// Get loads a single user together with the rejection tally that feeds
// eligibility decisions.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, int, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, 0, storeErr(err, "failed to load user")
	}

	rejections, err := s.users.CountRejections(ctx, id)
	if err != nil {
		return nil, 0, storeErr(err, "failed to count rejections")
	}

	return user, rejections, nil
}

// RemoveBatch takes a batch out of a worker's assignment list. The worker
// resumes from whatever remains; a batch they never held is a not-found.
func (s *UserService) RemoveBatch(ctx context.Context, actorID, userID string, batch int64) error {
	if err := s.users.RemoveBatch(ctx, userID, batch); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "batch is not assigned to this user")
		}
		return storeErr(err, "failed to remove batch")
	}

	s.emitUserAudit(ctx, actorID, userID, models.AuditActionBatchRemove,
		map[string]interface{}{"batch": batch})
	return nil
}

// SetEligibility toggles whether the engine may hand new work to a worker.
// Re-enabling a worker who crossed the rejection threshold is an explicit
// admin override.
func (s *UserService) SetEligibility(ctx context.Context, actorID, userID string, allow bool) (*models.User, error) {
	if err := s.users.SetAllowAssign(ctx, userID, allow); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, storeErr(err, "failed to update eligibility")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "failed to reload user")
	}

	s.emitUserAudit(ctx, actorID, userID, models.AuditActionUserUpdate,
		map[string]interface{}{"allow_assign": allow})

	s.logger.Info("worker eligibility updated",
		zap.String("user_id", userID),
		zap.Bool("allow_assign", allow),
		zap.String("updated_by", actorID))
	return user, nil
}

func (s *UserService) emitUserAudit(ctx context.Context, actorID, userID, action string, values map[string]interface{}) {
	payload, err := json.Marshal(values)
	if err != nil {
		payload = []byte(fmt.Sprintf("%v", values))
	}
	if err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "user",
		ResourceID: &userID,
		NewValues:  payload,
	}); err != nil {
		s.logger.Warn("failed to record audit log",
			zap.String("action", action), zap.Error(err))
	}
}
