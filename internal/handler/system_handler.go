package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pecha-tools/transcription-api/internal/dto"
	"github.com/pecha-tools/transcription-api/internal/models"
	"github.com/pecha-tools/transcription-api/internal/service"
	appErrors "github.com/pecha-tools/transcription-api/pkg/errors"
	"github.com/pecha-tools/transcription-api/pkg/response"
)

// SystemHandler serves the activation flag consulted by the allocator.
type SystemHandler struct {
	system *service.SystemService
	users  *service.UserService
}

// NewSystemHandler creates a new handler.
func NewSystemHandler(system *service.SystemService, users *service.UserService) *SystemHandler {
	return &SystemHandler{system: system, users: users}
}

// Status godoc
// @Summary Read system status
// @Description Reports whether the engine is handing out new work
// @Tags System
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /system/status [get]
func (h *SystemHandler) Status(c *gin.Context) {
	status, err := h.system.Status(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Update godoc
// @Summary Switch system status
// @Description Flips the engine between ACTIVE and MAINTENANCE
// @Tags System
// @Accept json
// @Produce json
// @Param payload body dto.UpdateSystemRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /system/status [put]
func (h *SystemHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.UpdateSystemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "status must be ACTIVE or MAINTENANCE"))
		return
	}

	actor, _, err := h.users.Get(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	status, err := h.system.Update(c.Request.Context(), actor, models.SystemState(req.Status))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, status, nil)
}
