package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pecha-tools/transcription-api/internal/dto"
	"github.com/pecha-tools/transcription-api/internal/models"
	appErrors "github.com/pecha-tools/transcription-api/pkg/errors"
	"github.com/pecha-tools/transcription-api/pkg/export"
	"github.com/pecha-tools/transcription-api/pkg/jobs"
	"github.com/pecha-tools/transcription-api/pkg/storage"
)

type exportUserStore interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
}

type reportCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type quotaCounter interface {
	MonthlyWordCount(ctx context.Context, userID, month string) (*dto.QuotaResponse, error)
}

const reportRecordTTL = 7 * 24 * time.Hour

// ExportService generates monthly quota reports asynchronously. Requests are
// queued, rendered by background workers, and served back through signed URLs.
type ExportService struct {
	users  exportUserStore
	quota  quotaCounter
	cache  reportCache
	files  *storage.LocalStorage
	signer *storage.SignedURLSigner
	csv    *export.CSVExporter
	pdf    *export.PDFExporter
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewExportService constructs the service and its worker queue. Call Start to
// begin processing.
func NewExportService(
	users exportUserStore,
	quota quotaCounter,
	cache reportCache,
	files *storage.LocalStorage,
	signer *storage.SignedURLSigner,
	queueCfg jobs.QueueConfig,
	logger *zap.Logger,
) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ExportService{
		users:  users,
		quota:  quota,
		cache:  cache,
		files:  files,
		signer: signer,
		csv:    export.NewCSVExporter(),
		pdf:    export.NewPDFExporter(),
		logger: logger,
	}
	queueCfg.Logger = logger
	s.queue = jobs.NewQueue("quota-reports", s.handleJob, queueCfg)
	return s
}

// Start launches the background workers.
func (s *ExportService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the queue and stops the workers.
func (s *ExportService) Stop() {
	s.queue.Stop()
}

type reportJob struct {
	ReportID string `json:"report_id"`
	Month    string `json:"month"`
	Format   string `json:"format"`
}

// RequestExport validates the request, records a queued report, and enqueues
// the rendering job.
func (s *ExportService) RequestExport(ctx context.Context, actor *models.JWTClaims, req dto.ExportQuotaRequest) (*dto.QuotaReport, error) {
	if !actor.Role.Privileged() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may export quota reports")
	}
	if _, _, err := MonthBounds(req.Month); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "month must be formatted YYYY-MM")
	}
	format := req.Format
	if format == "" {
		format = "csv"
	}

	report := &dto.QuotaReport{
		ID:          uuid.NewString(),
		Month:       req.Month,
		Format:      format,
		Status:      dto.ReportStatusQueued,
		RequestedBy: actor.UserID,
		RequestedAt: time.Now().UTC(),
	}
	if err := s.cache.Set(ctx, reportKey(report.ID), report, reportRecordTTL); err != nil {
		return nil, storeErr(err, "failed to record report request")
	}

	if err := s.queue.Enqueue(jobs.Job{
		ID:      report.ID,
		Type:    "quota_report",
		Payload: reportJob{ReportID: report.ID, Month: req.Month, Format: format},
	}); err != nil {
		report.Status = dto.ReportStatusFailed
		report.Error = "report queue is full"
		if cacheErr := s.cache.Set(ctx, reportKey(report.ID), report, reportRecordTTL); cacheErr != nil {
			s.logger.Warn("failed to record enqueue failure", zap.Error(cacheErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue report job")
	}

	return report, nil
}

// GetReport returns the current state of a previously requested report.
func (s *ExportService) GetReport(ctx context.Context, actor *models.JWTClaims, reportID string) (*dto.QuotaReport, error) {
	if !actor.Role.Privileged() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may read quota reports")
	}
	var report dto.QuotaReport
	if err := s.cache.Get(ctx, reportKey(reportID), &report); err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report not found or expired")
		}
		return nil, storeErr(err, "failed to load report")
	}
	return &report, nil
}

// Download resolves a signed token to the rendered report file.
func (s *ExportService) Download(token string) (*os.File, string, error) {
	_, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid or expired download token")
	}
	file, err := s.files.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "report file not found")
	}
	return file, relPath, nil
}

func (s *ExportService) handleJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(reportJob)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}

	var report dto.QuotaReport
	if err := s.cache.Get(ctx, reportKey(payload.ReportID), &report); err != nil {
		return fmt.Errorf("load report record: %w", err)
	}

	if err := s.render(ctx, &report, payload); err != nil {
		report.Status = dto.ReportStatusFailed
		report.Error = err.Error()
		if cacheErr := s.cache.Set(ctx, reportKey(report.ID), &report, reportRecordTTL); cacheErr != nil {
			s.logger.Warn("failed to record report failure", zap.Error(cacheErr))
		}
		return err
	}

	report.Status = dto.ReportStatusCompleted
	report.Error = ""
	if err := s.cache.Set(ctx, reportKey(report.ID), &report, reportRecordTTL); err != nil {
		return fmt.Errorf("record completed report: %w", err)
	}

	s.logger.Info("quota report ready",
		zap.String("report_id", report.ID),
		zap.String("month", report.Month),
		zap.String("format", report.Format))
	return nil
}

func (s *ExportService) render(ctx context.Context, report *dto.QuotaReport, payload reportJob) error {
	dataset, err := s.buildDataset(ctx, payload.Month)
	if err != nil {
		return err
	}

	var content []byte
	switch payload.Format {
	case "pdf":
		content, err = s.pdf.Render(dataset, fmt.Sprintf("Transcription Quota %s", payload.Month))
	default:
		content, err = s.csv.Render(dataset)
	}
	if err != nil {
		return fmt.Errorf("render %s report: %w", payload.Format, err)
	}

	fileName := fmt.Sprintf("quota-%s-%s.%s", payload.Month, report.ID, payload.Format)
	if _, err := s.files.Save(fileName, content); err != nil {
		return fmt.Errorf("save report file: %w", err)
	}

	url, expiresAt, err := s.signer.Generate(report.ID, fileName)
	if err != nil {
		return fmt.Errorf("sign download url: %w", err)
	}

	report.FileName = fileName
	report.DownloadURL = url
	report.ExpiresAt = &expiresAt
	return nil
}

func (s *ExportService) buildDataset(ctx context.Context, month string) (export.Dataset, error) {
	dataset := export.Dataset{
		Headers: []string{"User ID", "Username", "Email", "Month", "Words", "Texts"},
	}

	page := 1
	for {
		users, total, err := s.users.List(ctx, models.UserFilter{Page: page, PageSize: 100})
		if err != nil {
			return export.Dataset{}, fmt.Errorf("list users: %w", err)
		}
		for i := range users {
			u := &users[i]
			quota, err := s.quota.MonthlyWordCount(ctx, u.ID, month)
			if err != nil {
				return export.Dataset{}, fmt.Errorf("quota for user %s: %w", u.ID, err)
			}
			dataset.Rows = append(dataset.Rows, []string{
				u.ID,
				u.Username,
				u.Email,
				month,
				strconv.Itoa(quota.WordCount),
				strconv.Itoa(quota.TextCount),
			})
		}
		if page*100 >= total || len(users) == 0 {
			break
		}
		page++
	}

	return dataset, nil
}

func reportKey(reportID string) string {
	return "report:" + reportID
}
