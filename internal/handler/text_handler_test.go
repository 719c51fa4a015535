package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pecha-tools/transcription-api/internal/middleware"
	"github.com/pecha-tools/transcription-api/internal/models"
	"github.com/pecha-tools/transcription-api/internal/service"
)

type fakeTexts struct {
	candidates []models.Text
}

func (f *fakeTexts) DistinctBatches(context.Context) ([]int64, error) { return nil, nil }

func (f *fakeTexts) FirstUnreviewedInBatches(context.Context, []int64) (*models.Text, error) {
	return nil, sql.ErrNoRows
}

func (f *fakeTexts) SelectCandidates(context.Context, models.TextFilter) ([]models.Text, error) {
	return f.candidates, nil
}

func (f *fakeTexts) TryClaim(context.Context, int64, string) error { return nil }

func (f *fakeTexts) GetByID(_ context.Context, id int64) (*models.Text, error) {
	for _, c := range f.candidates {
		if c.ID == id {
			text := c
			return &text, nil
		}
	}
	return nil, sql.ErrNoRows
}

type fakeUsers struct {
	user *models.User
}

func (f *fakeUsers) FindByID(context.Context, string) (*models.User, error) {
	if f.user == nil {
		return nil, sql.ErrNoRows
	}
	copied := *f.user
	return &copied, nil
}

func (f *fakeUsers) AssignedBatchUnion(context.Context) ([]int64, error)           { return nil, nil }
func (f *fakeUsers) IgnoredBatchesExcept(context.Context, string) ([]int64, error) { return nil, nil }
func (f *fakeUsers) AssignBatch(context.Context, string, int64) error              { return nil }

type fakeSystem struct {
	state models.SystemState
}

func (f *fakeSystem) Get(context.Context) (*models.SystemStatus, error) {
	state := f.state
	if state == "" {
		state = models.SystemActive
	}
	return &models.SystemStatus{ID: 1, Status: state}, nil
}

type fakePresence struct{}

func (f *fakePresence) Snapshot(context.Context) (models.PresenceSnapshot, error) {
	return models.PresenceSnapshot{}, nil
}

func newTestTextHandler(texts *fakeTexts, users *fakeUsers, system *fakeSystem) *TextHandler {
	allocation := service.NewAllocationService(texts, users, system, &fakePresence{}, nil, zap.NewNop(), service.AllocationConfig{})
	return NewTextHandler(allocation, nil)
}

func authedContext(t *testing.T, rec *httptest.ResponseRecorder, method, target string, claims *models.JWTClaims) *gin.Context {
	t.Helper()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(method, target, nil)
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c
}

func TestTextHandlerNextUnauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newTestTextHandler(&fakeTexts{}, &fakeUsers{}, &fakeSystem{})

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, http.MethodGet, "/texts/next", nil)

	handler.Next(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTextHandlerNextBlockedUserReturnsReason(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newTestTextHandler(&fakeTexts{}, &fakeUsers{
		user: &models.User{ID: "worker-1", AllowAssign: false, Active: true},
	}, &fakeSystem{})

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, http.MethodGet, "/texts/next", &models.JWTClaims{UserID: "worker-1", Role: models.RoleAnnotator})

	handler.Next(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Data interface{}            `json:"data"`
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Nil(t, envelope.Data)
	assert.Equal(t, "assignment_blocked", envelope.Meta["reason"])
}

func TestTextHandlerNextMaintenanceReturnsReason(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newTestTextHandler(&fakeTexts{}, &fakeUsers{
		user: &models.User{ID: "worker-1", AllowAssign: true, Active: true},
	}, &fakeSystem{state: models.SystemMaintenance})

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, http.MethodGet, "/texts/next", &models.JWTClaims{UserID: "worker-1", Role: models.RoleAnnotator})

	handler.Next(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "maintenance", envelope.Meta["reason"])
}

func TestTextHandlerNextReturnsClaimedText(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newTestTextHandler(&fakeTexts{
		candidates: []models.Text{{ID: 42, Batch: 1, Status: models.TextStatusPending, OriginalText: "hello"}},
	}, &fakeUsers{
		user: &models.User{ID: "worker-1", AllowAssign: true, Active: true, AssignedBatch: []int64{1}},
	}, &fakeSystem{})

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, http.MethodGet, "/texts/next", &models.JWTClaims{UserID: "worker-1", Role: models.RoleAnnotator})

	handler.Next(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Data models.Text `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, int64(42), envelope.Data.ID)
}

func TestTextHandlerTransitionRejectsBadID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newTestTextHandler(&fakeTexts{}, &fakeUsers{}, &fakeSystem{})

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, http.MethodPost, "/texts/abc/transition", &models.JWTClaims{UserID: "worker-1", Role: models.RoleAnnotator})
	c.Params = gin.Params{{Key: "id", Value: "abc"}}

	handler.Transition(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTextHandlerReviewQueueRejectsOversizedLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newTestTextHandler(&fakeTexts{}, &fakeUsers{}, &fakeSystem{})

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, http.MethodGet, "/texts/review-queue?limit=200", &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})

	handler.ReviewQueue(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTextHandlerReviewQueueForbiddenForAnnotator(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newTestTextHandler(&fakeTexts{}, &fakeUsers{}, &fakeSystem{})

	rec := httptest.NewRecorder()
	c := authedContext(t, rec, http.MethodGet, "/texts/review-queue", &models.JWTClaims{UserID: "worker-1", Role: models.RoleAnnotator})

	handler.ReviewQueue(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
