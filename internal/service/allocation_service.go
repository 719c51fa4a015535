package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/pecha-tools/transcription-api/internal/models"
	appErrors "github.com/pecha-tools/transcription-api/pkg/errors"
)

type allocationTextStore interface {
	DistinctBatches(ctx context.Context) ([]int64, error)
	FirstUnreviewedInBatches(ctx context.Context, batches []int64) (*models.Text, error)
	SelectCandidates(ctx context.Context, filter models.TextFilter) ([]models.Text, error)
	TryClaim(ctx context.Context, textID int64, userID string) error
	GetByID(ctx context.Context, id int64) (*models.Text, error)
}

type allocationUserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	AssignedBatchUnion(ctx context.Context) ([]int64, error)
	IgnoredBatchesExcept(ctx context.Context, userID string) ([]int64, error)
	AssignBatch(ctx context.Context, userID string, batch int64) error
}

type systemStore interface {
	Get(ctx context.Context) (*models.SystemStatus, error)
}

type presenceSource interface {
	Snapshot(ctx context.Context) (models.PresenceSnapshot, error)
}

// AllocationConfig tunes batch and item selection.
type AllocationConfig struct {
	// ClaimAttempts bounds how many candidates a single request races for
	// before reporting no work.
	ClaimAttempts int
}

// AllocationService decides which batch and which text a worker gets next.
// It holds no state of its own; every decision is recomputed from the store
// within the scope of one request.
type AllocationService struct {
	texts    allocationTextStore
	users    allocationUserStore
	system   systemStore
	presence presenceSource
	metrics  *MetricsService
	logger   *zap.Logger
	config   AllocationConfig
}

// NewAllocationService constructs the service.
func NewAllocationService(texts allocationTextStore, users allocationUserStore, system systemStore, presence presenceSource, metrics *MetricsService, logger *zap.Logger, config AllocationConfig) *AllocationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ClaimAttempts <= 0 {
		config.ClaimAttempts = 5
	}
	return &AllocationService{
		texts:    texts,
		users:    users,
		system:   system,
		presence: presence,
		metrics:  metrics,
		logger:   logger,
		config:   config,
	}
}

// UnassignedBatchFor computes which batch the worker should be assigned next.
// Pure query: the caller persists the resulting assignment. Returns nil when
// no batch qualifies.
//
// Ignored-but-unresolved work takes precedence over fresh assignment: a batch
// another worker opted out of must not silently stall while it still holds an
// unreviewed text.
func (s *AllocationService) UnassignedBatchFor(ctx context.Context, userID string) (*int64, error) {
	ignoredBatches, err := s.users.IgnoredBatchesExcept(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "failed to list ignored batches")
	}
	if len(ignoredBatches) > 0 {
		text, err := s.texts.FirstUnreviewedInBatches(ctx, ignoredBatches)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, storeErr(err, "failed to inspect ignored batches")
		}
		if text != nil {
			return &text.Batch, nil
		}
	}

	allBatches, err := s.texts.DistinctBatches(ctx)
	if err != nil {
		return nil, storeErr(err, "failed to list batches")
	}
	assigned, err := s.users.AssignedBatchUnion(ctx)
	if err != nil {
		return nil, storeErr(err, "failed to list assigned batches")
	}

	assignedSet := make(map[int64]struct{}, len(assigned))
	for _, b := range assigned {
		assignedSet[b] = struct{}{}
	}
	// allBatches is sorted ascending, so the first miss is the minimum.
	for _, b := range allBatches {
		if _, ok := assignedSet[b]; !ok {
			batch := b
			return &batch, nil
		}
	}
	return nil, nil
}

// NextTextFor selects and claims one pending text for the worker. A nil text
// with nil error means no work is available. The presence snapshot only
// filters candidates; the store-level claim is what prevents two workers from
// editing the same item.
func (s *AllocationService) NextTextFor(ctx context.Context, userID string) (*models.Text, error) {
	status, err := s.system.Get(ctx)
	if err != nil {
		return nil, storeErr(err, "failed to read system status")
	}
	if status.Status == models.SystemMaintenance {
		return nil, appErrors.ErrSystemInactive
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, storeErr(err, "failed to load user")
	}
	if !user.AllowAssign {
		return nil, appErrors.ErrBlockedUser
	}

	if len(user.AssignedBatch) == 0 {
		batch, err := s.UnassignedBatchFor(ctx, userID)
		if err != nil {
			return nil, err
		}
		if batch == nil {
			s.observeClaim("no_batch")
			return nil, nil
		}
		if err := s.users.AssignBatch(ctx, userID, *batch); err != nil {
			return nil, storeErr(err, "failed to persist batch assignment")
		}
		user.AssignedBatch = append(user.AssignedBatch, *batch)
		s.logger.Info("batch assigned",
			zap.String("user_id", userID),
			zap.Int64("batch", *batch),
		)
	}

	snapshot, err := s.presence.Snapshot(ctx)
	if err != nil {
		// Presence is best effort; a failed snapshot falls back to claim-only
		// exclusion.
		s.logger.Warn("presence snapshot failed", zap.Error(err))
		snapshot = models.PresenceSnapshot{}
	}

	candidates, err := s.texts.SelectCandidates(ctx, models.TextFilter{
		Batches:    []int64(user.AssignedBatch),
		Status:     models.TextStatusPending,
		ExcludeIDs: snapshot.ViewedTextIDs(userID),
		Limit:      s.config.ClaimAttempts,
	})
	if err != nil {
		return nil, storeErr(err, "failed to select candidate texts")
	}

	for _, candidate := range candidates {
		if err := s.texts.TryClaim(ctx, candidate.ID, userID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				s.observeClaim("lost_race")
				continue
			}
			return nil, storeErr(err, "failed to claim text")
		}
		s.observeClaim("claimed")
		return s.texts.GetByID(ctx, candidate.ID)
	}

	s.observeClaim("exhausted")
	return nil, nil
}

// ReviewQueue returns the admin review queue: approved texts awaiting the
// finality flag, most recently updated first. An optional annotator id
// restricts the queue to that worker's backlog.
func (s *AllocationService) ReviewQueue(ctx context.Context, annotatorID string, limit int) ([]models.Text, error) {
	reviewed := false
	texts, err := s.texts.SelectCandidates(ctx, models.TextFilter{
		Status:       models.TextStatusApproved,
		Reviewed:     &reviewed,
		ModifiedBy:   annotatorID,
		OrderUpdated: true,
		Limit:        limit,
	})
	if err != nil {
		return nil, storeErr(err, "failed to load review queue")
	}
	return texts, nil
}

func (s *AllocationService) observeClaim(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveClaim(outcome)
	}
}

func storeErr(err error, message string) *appErrors.Error {
	return appErrors.Wrap(err, appErrors.ErrStore.Code, appErrors.ErrStore.Status, message)
}
