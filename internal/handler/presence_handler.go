package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pecha-tools/transcription-api/internal/dto"
	"github.com/pecha-tools/transcription-api/internal/repository"
	appErrors "github.com/pecha-tools/transcription-api/pkg/errors"
	"github.com/pecha-tools/transcription-api/pkg/response"
)

// PresenceHandler serves the shared presence channel.
type PresenceHandler struct {
	presence *repository.PresenceRepository
}

// NewPresenceHandler creates a new handler.
func NewPresenceHandler(presence *repository.PresenceRepository) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// Heartbeat godoc
// @Summary Report presence
// @Description Records the caller as live, optionally with the text they are viewing
// @Tags Presence
// @Accept json
// @Produce json
// @Param payload body dto.HeartbeatRequest true "Heartbeat payload"
// @Success 204 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /presence/heartbeat [post]
func (h *PresenceHandler) Heartbeat(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid heartbeat payload"))
		return
	}

	if err := h.presence.Heartbeat(c.Request.Context(), claims.UserID, req.TextID); err != nil {
		response.Error(c, storeError(err, "failed to record heartbeat"))
		return
	}

	response.NoContent(c)
}

// Leave godoc
// @Summary Leave the presence channel
// @Description Removes the caller's presence entry
// @Tags Presence
// @Produce json
// @Success 204 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /presence [delete]
func (h *PresenceHandler) Leave(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.presence.Leave(c.Request.Context(), claims.UserID); err != nil {
		response.Error(c, storeError(err, "failed to leave presence channel"))
		return
	}

	response.NoContent(c)
}

// Snapshot godoc
// @Summary List live members
// @Description Reports everyone currently heartbeating and what they are viewing
// @Tags Presence
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /presence [get]
func (h *PresenceHandler) Snapshot(c *gin.Context) {
	snapshot, err := h.presence.Snapshot(c.Request.Context())
	if err != nil {
		response.Error(c, storeError(err, "failed to read presence channel"))
		return
	}

	response.JSON(c, http.StatusOK, snapshot, nil)
}

func storeError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrStore.Code, appErrors.ErrStore.Status, message)
}
