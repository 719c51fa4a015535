package handler

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/pecha-tools/transcription-api/internal/dto"
	"github.com/pecha-tools/transcription-api/internal/middleware"
	"github.com/pecha-tools/transcription-api/internal/service"
	appErrors "github.com/pecha-tools/transcription-api/pkg/errors"
	"github.com/pecha-tools/transcription-api/pkg/response"
)

// QuotaHandler serves per-worker quota aggregates and asynchronous exports.
type QuotaHandler struct {
	quota  *service.QuotaService
	export *service.ExportService
}

// NewQuotaHandler creates a new handler.
func NewQuotaHandler(quota *service.QuotaService, export *service.ExportService) *QuotaHandler {
	return &QuotaHandler{quota: quota, export: export}
}

// Get godoc
// @Summary Monthly word count for a user
// @Description Counts words across texts the user completed in the given month
// @Tags Quota
// @Produce json
// @Param id path string true "User ID"
// @Param month query string true "Month as YYYY-MM"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /users/{id}/quota [get]
func (h *QuotaHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	userID := c.Param("id")
	if userID != claims.UserID && !claims.Role.Privileged() {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "quota is visible to the worker and admins only"))
		return
	}

	month := c.Query("month")
	if month == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "month query parameter is required"))
		return
	}

	quota, err := h.quota.MonthlyWordCount(c.Request.Context(), userID, month)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, quota, nil, middleware.ExtractMeta(c))
}

// RequestExport godoc
// @Summary Request a quota report
// @Description Queues an asynchronous report over all workers for one month
// @Tags Quota
// @Accept json
// @Produce json
// @Param payload body dto.ExportQuotaRequest true "Export payload"
// @Success 202 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /quota/exports [post]
func (h *QuotaHandler) RequestExport(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.ExportQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export payload"))
		return
	}

	report, err := h.export.RequestExport(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusAccepted, report, nil)
}

// GetExport godoc
// @Summary Read a quota report
// @Description Returns the state of a previously requested report
// @Tags Quota
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /quota/exports/{id} [get]
func (h *QuotaHandler) GetExport(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	report, err := h.export.GetReport(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, report, nil)
}

// Download godoc
// @Summary Download a rendered report
// @Description Serves the report file for a valid signed token
// @Tags Quota
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /quota/exports/download [get]
func (h *QuotaHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token query parameter is required"))
		return
	}

	file, relPath, err := h.export.Download(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	c.FileAttachment(file.Name(), filepath.Base(relPath))
}
