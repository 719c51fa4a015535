package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pecha-tools/transcription-api/internal/dto"
	"github.com/pecha-tools/transcription-api/internal/middleware"
	"github.com/pecha-tools/transcription-api/internal/service"
	appErrors "github.com/pecha-tools/transcription-api/pkg/errors"
	"github.com/pecha-tools/transcription-api/pkg/response"
)

// TextHandler serves the allocation and review surface.
type TextHandler struct {
	allocation *service.AllocationService
	review     *service.ReviewService
}

// NewTextHandler creates a new handler.
func NewTextHandler(allocation *service.AllocationService, review *service.ReviewService) *TextHandler {
	return &TextHandler{allocation: allocation, review: review}
}

// Next godoc
// @Summary Fetch the caller's next text
// @Description Selects and claims one pending text from the caller's assigned batches
// @Tags Texts
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /texts/next [get]
func (h *TextHandler) Next(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	text, err := h.allocation.NextTextFor(c.Request.Context(), claims.UserID)
	if err != nil {
		// A blocked worker or maintenance window is not an error from the
		// client's point of view: the answer is "no work", with the reason.
		if errors.Is(err, appErrors.ErrBlockedUser) {
			middleware.SetReason(c, dto.ReasonBlocked)
			response.JSON(c, http.StatusOK, nil, nil, middleware.ExtractMeta(c))
			return
		}
		if errors.Is(err, appErrors.ErrSystemInactive) {
			middleware.SetReason(c, dto.ReasonMaintenance)
			response.JSON(c, http.StatusOK, nil, nil, middleware.ExtractMeta(c))
			return
		}
		response.Error(c, err)
		return
	}
	if text == nil {
		middleware.SetReason(c, dto.ReasonNoWork)
		response.JSON(c, http.StatusOK, nil, nil, middleware.ExtractMeta(c))
		return
	}

	response.JSON(c, http.StatusOK, text, nil)
}

// ReviewQueue godoc
// @Summary List approved texts awaiting final review
// @Description Approved, not-yet-reviewed texts ordered by most recent update
// @Tags Texts
// @Produce json
// @Param annotator_id query string false "Restrict to one worker's backlog"
// @Param limit query int false "Maximum number of texts"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /texts/review-queue [get]
func (h *TextHandler) ReviewQueue(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if !claims.Role.Privileged() {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "only admins may read the review queue"))
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be between 1 and 100"))
			return
		}
		limit = parsed
	}

	texts, err := h.allocation.ReviewQueue(c.Request.Context(), c.Query("annotator_id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, texts, nil)
}

// Transition godoc
// @Summary Apply one review action to a text
// @Description Confirm, reject, ignore, trash, or edit a text
// @Tags Texts
// @Accept json
// @Produce json
// @Param id path int true "Text ID"
// @Param payload body dto.TransitionRequest true "Transition payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /texts/{id}/transition [post]
func (h *TextHandler) Transition(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	textID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "text id must be numeric"))
		return
	}

	var req dto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid transition payload"))
		return
	}

	text, err := h.review.Apply(c.Request.Context(), textID, req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, text, nil)
}

// UnassignedBatch godoc
// @Summary Preview the next unassigned batch
// @Description Reports which batch the allocator would hand the caller next, without assigning it
// @Tags Batches
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /batches/unassigned [get]
func (h *TextHandler) UnassignedBatch(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	batch, err := h.allocation.UnassignedBatchFor(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, dto.UnassignedBatchResponse{Batch: batch}, nil)
}
