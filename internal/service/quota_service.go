package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pecha-tools/transcription-api/internal/dto"
	"github.com/pecha-tools/transcription-api/internal/models"
	appErrors "github.com/pecha-tools/transcription-api/pkg/errors"
)

type quotaTextStore interface {
	ListApprovedInPeriod(ctx context.Context, userID string, from, to time.Time) ([]models.Text, error)
}

type quotaCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// QuotaService aggregates completed-word counts per worker per calendar month.
// Read-only relative to the state machine; never gates allocation.
type QuotaService struct {
	texts  quotaTextStore
	cache  quotaCache
	logger *zap.Logger
	ttl    time.Duration
}

// NewQuotaService constructs the service.
func NewQuotaService(texts quotaTextStore, cache quotaCache, logger *zap.Logger, cacheTTL time.Duration) *QuotaService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &QuotaService{texts: texts, cache: cache, logger: logger, ttl: cacheTTL}
}

// MonthlyWordCount returns the worker's word count for the given month
// ("YYYY-MM", UTC calendar month).
func (s *QuotaService) MonthlyWordCount(ctx context.Context, userID, month string) (*dto.QuotaResponse, error) {
	from, to, err := MonthBounds(month)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "month must be formatted YYYY-MM")
	}

	cacheKey := fmt.Sprintf("quota:%s:%s", userID, month)
	if s.cache != nil {
		var cached dto.QuotaResponse
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("quota cache read failed", zap.Error(err))
		}
	}

	texts, err := s.texts.ListApprovedInPeriod(ctx, userID, from, to)
	if err != nil {
		return nil, storeErr(err, "failed to load approved texts")
	}

	result := &dto.QuotaResponse{UserID: userID, Month: month}
	for _, text := range texts {
		if text.ModifiedText == nil {
			continue
		}
		result.WordCount += len(strings.Fields(*text.ModifiedText))
		result.TextCount++
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, result, s.ttl); err != nil {
			s.logger.Warn("quota cache write failed", zap.Error(err))
		}
	}
	return result, nil
}

// MonthBounds returns the half-open UTC interval covering a "YYYY-MM" month.
func MonthBounds(month string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation("2006-01", month, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 1, 0), nil
}
