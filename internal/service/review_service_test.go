package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pecha-tools/transcription-api/internal/dto"
	"github.com/pecha-tools/transcription-api/internal/models"
	"github.com/pecha-tools/transcription-api/internal/repository"
	appErrors "github.com/pecha-tools/transcription-api/pkg/errors"
)

type mockReviewTexts struct {
	texts map[int64]*models.Text

	approveCalls []repository.ApproveParams
	rejectCalls  []repository.RejectParams
	trashCalls   []int64
	editCalls    []string
	released     []int64

	approveErr    error
	rejectErr     error
	rejectOutcome *repository.RejectOutcome
	trashErr      error
}

func (m *mockReviewTexts) GetByID(ctx context.Context, id int64) (*models.Text, error) {
	text, ok := m.texts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *text
	return &copied, nil
}

func (m *mockReviewTexts) Approve(ctx context.Context, params repository.ApproveParams) error {
	if m.approveErr != nil {
		return m.approveErr
	}
	m.approveCalls = append(m.approveCalls, params)
	return nil
}

func (m *mockReviewTexts) Reject(ctx context.Context, params repository.RejectParams) (*repository.RejectOutcome, error) {
	if m.rejectErr != nil {
		return nil, m.rejectErr
	}
	m.rejectCalls = append(m.rejectCalls, params)
	if m.rejectOutcome != nil {
		return m.rejectOutcome, nil
	}
	return &repository.RejectOutcome{RejectionCount: len(m.rejectCalls), AllowAssign: true}, nil
}

func (m *mockReviewTexts) Trash(ctx context.Context, id int64) error {
	if m.trashErr != nil {
		return m.trashErr
	}
	m.trashCalls = append(m.trashCalls, id)
	return nil
}

func (m *mockReviewTexts) UpdateModifiedText(ctx context.Context, id int64, content string) error {
	m.editCalls = append(m.editCalls, content)
	return nil
}

func (m *mockReviewTexts) ReleaseClaim(ctx context.Context, textID int64, userID string) error {
	m.released = append(m.released, textID)
	return nil
}

type mockReviewUsers struct {
	ignored [][3]interface{}
}

func (m *mockReviewUsers) AddIgnoredText(ctx context.Context, userID string, batch, textID int64) error {
	m.ignored = append(m.ignored, [3]interface{}{userID, batch, textID})
	return nil
}

type mockAudit struct {
	logs []*models.AuditLog
}

func (m *mockAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func annotatorClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "worker-1", Role: models.RoleAnnotator, Username: "worker"}
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin, Username: "admin"}
}

func strPtr(s string) *string { return &s }

func newReviewService(texts *mockReviewTexts, users *mockReviewUsers, audit *mockAudit) *ReviewService {
	return NewReviewService(texts, users, audit, nil, zap.NewNop(), ReviewConfig{RejectThreshold: 3})
}

func TestReviewConfirmByAnnotator(t *testing.T) {
	texts := &mockReviewTexts{texts: map[int64]*models.Text{
		7: {ID: 7, Batch: 2, Status: models.TextStatusPending},
	}}
	audit := &mockAudit{}
	svc := newReviewService(texts, &mockReviewUsers{}, audit)

	duration := int64(3200)
	_, err := svc.Apply(context.Background(), 7, dto.TransitionRequest{
		Action:       models.ActionConfirm,
		ModifiedText: strPtr("corrected"),
		DurationMS:   &duration,
	}, annotatorClaims())
	require.NoError(t, err)

	require.Len(t, texts.approveCalls, 1)
	params := texts.approveCalls[0]
	assert.Equal(t, "corrected", params.ModifiedText)
	assert.Equal(t, "worker-1", params.ModifiedBy)
	assert.Equal(t, int64(3200), params.DurationMS)
	assert.False(t, params.Reviewed, "annotator confirm must not set the finality flag")
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionTransition, audit.logs[0].Action)
}

func TestReviewConfirmByAdminSetsReviewedAndAttribution(t *testing.T) {
	texts := &mockReviewTexts{texts: map[int64]*models.Text{
		7: {ID: 7, Batch: 2, Status: models.TextStatusApproved, ModifiedBy: strPtr("worker-1")},
	}}
	svc := newReviewService(texts, &mockReviewUsers{}, &mockAudit{})

	_, err := svc.Apply(context.Background(), 7, dto.TransitionRequest{
		Action:       models.ActionConfirm,
		ModifiedText: strPtr("final"),
		AnnotatorID:  "worker-1",
	}, adminClaims())
	require.NoError(t, err)

	require.Len(t, texts.approveCalls, 1)
	params := texts.approveCalls[0]
	assert.True(t, params.Reviewed)
	assert.Equal(t, "worker-1", params.ModifiedBy, "admin confirm keeps attribution with the worker")
}

func TestReviewConfirmTrashedRefused(t *testing.T) {
	texts := &mockReviewTexts{texts: map[int64]*models.Text{
		7: {ID: 7, Status: models.TextStatusTrashed},
	}}
	svc := newReviewService(texts, &mockReviewUsers{}, &mockAudit{})

	_, err := svc.Apply(context.Background(), 7, dto.TransitionRequest{
		Action:       models.ActionConfirm,
		ModifiedText: strPtr("too late"),
	}, annotatorClaims())

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
	assert.Empty(t, texts.approveCalls, "refused transition must not write")
}

func TestReviewConfirmAlreadyReviewedRefused(t *testing.T) {
	texts := &mockReviewTexts{texts: map[int64]*models.Text{
		7: {ID: 7, Status: models.TextStatusApproved, Reviewed: true},
	}}
	svc := newReviewService(texts, &mockReviewUsers{}, &mockAudit{})

	_, err := svc.Apply(context.Background(), 7, dto.TransitionRequest{
		Action:       models.ActionConfirm,
		ModifiedText: strPtr("again"),
	}, adminClaims())

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
}

func TestReviewConfirmRaceSurfacesConflict(t *testing.T) {
	texts := &mockReviewTexts{
		texts: map[int64]*models.Text{
			7: {ID: 7, Status: models.TextStatusPending},
		},
		approveErr: sql.ErrNoRows,
	}
	svc := newReviewService(texts, &mockReviewUsers{}, &mockAudit{})

	_, err := svc.Apply(context.Background(), 7, dto.TransitionRequest{
		Action:       models.ActionConfirm,
		ModifiedText: strPtr("racing"),
	}, annotatorClaims())

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
}

func TestReviewRejectByAdminAttributesWorker(t *testing.T) {
	texts := &mockReviewTexts{texts: map[int64]*models.Text{
		7: {ID: 7, Status: models.TextStatusApproved, ModifiedBy: strPtr("worker-1")},
	}}
	svc := newReviewService(texts, &mockReviewUsers{}, &mockAudit{})

	_, err := svc.Apply(context.Background(), 7, dto.TransitionRequest{
		Action:      models.ActionReject,
		AnnotatorID: "worker-1",
	}, adminClaims())
	require.NoError(t, err)

	require.Len(t, texts.rejectCalls, 1)
	params := texts.rejectCalls[0]
	assert.Equal(t, "worker-1", params.UserID)
	require.NotNil(t, params.RejectedBy)
	assert.Equal(t, "admin-1", *params.RejectedBy)
	assert.Equal(t, 3, params.Threshold)
}

func TestReviewRejectPastThresholdStaysBlocked(t *testing.T) {
	// A rejection beyond the threshold against an already-blocked worker
	// still lands; the revocation is not re-triggered and never flips back.
	texts := &mockReviewTexts{
		texts: map[int64]*models.Text{
			7: {ID: 7, Status: models.TextStatusApproved, ModifiedBy: strPtr("worker-1")},
		},
		rejectOutcome: &repository.RejectOutcome{RejectionCount: 4, AllowAssign: false},
	}
	svc := newReviewService(texts, &mockReviewUsers{}, &mockAudit{})

	_, err := svc.Apply(context.Background(), 7, dto.TransitionRequest{
		Action:      models.ActionReject,
		AnnotatorID: "worker-1",
	}, adminClaims())
	require.NoError(t, err)
	require.Len(t, texts.rejectCalls, 1)
	assert.Equal(t, 3, texts.rejectCalls[0].Threshold)
}

func TestReviewRejectTrashedRefused(t *testing.T) {
	texts := &mockReviewTexts{texts: map[int64]*models.Text{
		7: {ID: 7, Status: models.TextStatusTrashed},
	}}
	svc := newReviewService(texts, &mockReviewUsers{}, &mockAudit{})

	_, err := svc.Apply(context.Background(), 7, dto.TransitionRequest{Action: models.ActionReject}, adminClaims())

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
	assert.Empty(t, texts.rejectCalls)
}

func TestReviewIgnoreReleasesClaim(t *testing.T) {
	texts := &mockReviewTexts{texts: map[int64]*models.Text{
		7: {ID: 7, Batch: 4, Status: models.TextStatusPending, ModifiedBy: strPtr("worker-1")},
	}}
	users := &mockReviewUsers{}
	svc := newReviewService(texts, users, &mockAudit{})

	_, err := svc.Apply(context.Background(), 7, dto.TransitionRequest{Action: models.ActionIgnore}, annotatorClaims())
	require.NoError(t, err)

	require.Len(t, users.ignored, 1)
	assert.Equal(t, "worker-1", users.ignored[0][0])
	assert.Equal(t, int64(4), users.ignored[0][1])
	assert.Equal(t, int64(7), users.ignored[0][2])
	assert.Equal(t, []int64{7}, texts.released)
}

func TestReviewEditLeavesStatusPath(t *testing.T) {
	texts := &mockReviewTexts{texts: map[int64]*models.Text{
		7: {ID: 7, Status: models.TextStatusPending},
	}}
	svc := newReviewService(texts, &mockReviewUsers{}, &mockAudit{})

	_, err := svc.Apply(context.Background(), 7, dto.TransitionRequest{
		Action:  models.ActionEdit,
		NewText: strPtr("partial save"),
	}, annotatorClaims())
	require.NoError(t, err)

	assert.Equal(t, []string{"partial save"}, texts.editCalls)
	assert.Empty(t, texts.approveCalls)
	assert.Empty(t, texts.trashCalls)
}

func TestReviewUnknownActionRefused(t *testing.T) {
	texts := &mockReviewTexts{texts: map[int64]*models.Text{
		7: {ID: 7, Status: models.TextStatusPending},
	}}
	svc := newReviewService(texts, &mockReviewUsers{}, &mockAudit{})

	_, err := svc.Apply(context.Background(), 7, dto.TransitionRequest{Action: "shred"}, annotatorClaims())

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestReviewMissingTextIsNotFound(t *testing.T) {
	svc := newReviewService(&mockReviewTexts{texts: map[int64]*models.Text{}}, &mockReviewUsers{}, &mockAudit{})

	_, err := svc.Apply(context.Background(), 404, dto.TransitionRequest{Action: models.ActionTrash}, adminClaims())

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
