package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pecha-tools/transcription-api/internal/models"
	appErrors "github.com/pecha-tools/transcription-api/pkg/errors"
)

type mockQuotaTexts struct {
	texts []models.Text
	calls int
	from  time.Time
	to    time.Time
}

func (m *mockQuotaTexts) ListApprovedInPeriod(ctx context.Context, userID string, from, to time.Time) ([]models.Text, error) {
	m.calls++
	m.from = from
	m.to = to
	return m.texts, nil
}

type stubQuotaCache struct {
	store map[string][]byte
}

func (s *stubQuotaCache) Get(_ context.Context, key string, dest interface{}) error {
	payload, ok := s.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (s *stubQuotaCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if s.store == nil {
		s.store = make(map[string][]byte)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.store[key] = payload
	return nil
}

func TestQuotaMonthlyWordCount(t *testing.T) {
	texts := &mockQuotaTexts{texts: []models.Text{
		{ID: 1, ModifiedText: strPtr("three short words")},
		{ID: 2, ModifiedText: strPtr("  padded   spacing   counts four ")},
		{ID: 3, ModifiedText: nil},
	}}
	svc := NewQuotaService(texts, &stubQuotaCache{}, zap.NewNop(), time.Minute)

	quota, err := svc.MonthlyWordCount(context.Background(), "user-1", "2026-07")
	require.NoError(t, err)
	assert.Equal(t, 7, quota.WordCount)
	assert.Equal(t, 2, quota.TextCount, "texts without content do not count")
	assert.Equal(t, "2026-07", quota.Month)
}

func TestQuotaMonthlyWordCountCached(t *testing.T) {
	texts := &mockQuotaTexts{texts: []models.Text{{ID: 1, ModifiedText: strPtr("one two")}}}
	cache := &stubQuotaCache{}
	svc := NewQuotaService(texts, cache, zap.NewNop(), time.Minute)

	first, err := svc.MonthlyWordCount(context.Background(), "user-1", "2026-07")
	require.NoError(t, err)
	second, err := svc.MonthlyWordCount(context.Background(), "user-1", "2026-07")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, texts.calls, "second read must come from cache")
}

func TestQuotaMonthBounds(t *testing.T) {
	texts := &mockQuotaTexts{}
	svc := NewQuotaService(texts, &stubQuotaCache{}, zap.NewNop(), time.Minute)

	_, err := svc.MonthlyWordCount(context.Background(), "user-1", "2026-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), texts.from)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), texts.to, "half-open interval ends at the next month")
}

func TestQuotaInvalidMonth(t *testing.T) {
	svc := NewQuotaService(&mockQuotaTexts{}, &stubQuotaCache{}, zap.NewNop(), time.Minute)

	_, err := svc.MonthlyWordCount(context.Background(), "user-1", "July 2026")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}
