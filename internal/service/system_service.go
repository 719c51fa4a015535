package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/pecha-tools/transcription-api/internal/models"
	appErrors "github.com/pecha-tools/transcription-api/pkg/errors"
)

type systemWriter interface {
	Get(ctx context.Context) (*models.SystemStatus, error)
	Set(ctx context.Context, state models.SystemState, updatedBy string) (*models.SystemStatus, error)
}

// SystemService controls the singleton activation flag consulted by every
// allocation cycle.
type SystemService struct {
	store  systemWriter
	audit  auditLogger
	logger *zap.Logger
}

// NewSystemService constructs a SystemService instance.
func NewSystemService(store systemWriter, audit auditLogger, logger *zap.Logger) *SystemService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SystemService{store: store, audit: audit, logger: logger}
}

// Status reports the current activation state.
func (s *SystemService) Status(ctx context.Context) (*models.SystemStatus, error) {
	status, err := s.store.Get(ctx)
	if err != nil {
		return nil, storeErr(err, "failed to load system status")
	}
	return status, nil
}

// Update switches the activation flag. Only privileged roles may flip it.
func (s *SystemService) Update(ctx context.Context, actor *models.User, state models.SystemState) (*models.SystemStatus, error) {
	if !actor.Role.Privileged() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may change system status")
	}

	previous, err := s.store.Get(ctx)
	if err != nil {
		return nil, storeErr(err, "failed to load system status")
	}

	status, err := s.store.Set(ctx, state, actor.ID)
	if err != nil {
		return nil, storeErr(err, "failed to update system status")
	}

	oldValues, _ := json.Marshal(map[string]interface{}{"status": previous.Status})
	newValues, _ := json.Marshal(map[string]interface{}{"status": status.Status})
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:    &actor.ID,
		Action:    models.AuditActionSystemUpdate,
		Resource:  "system",
		OldValues: oldValues,
		NewValues: newValues,
	}); err != nil {
		s.logger.Warn("failed to record system audit log", zap.Error(err))
	}

	s.logger.Info("system status changed",
		zap.String("from", string(previous.Status)),
		zap.String("to", string(status.Status)),
		zap.String("updated_by", actor.ID))
	return status, nil
}
