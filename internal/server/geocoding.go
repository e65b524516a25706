package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/contacts"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/geocoding"
	"github.com/gin-gonic/gin"
)

type templateRequest struct {
	Fields    []string `json:"fields"`
	Separator *string  `json:"separator"`
}

func (h *httpHandler) handleTriggerGeocoding(c *gin.Context) {
	force := false
	if raw := strings.TrimSpace(c.Query("force")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(c, fmt.Errorf("%w: force must be a boolean", contacts.ErrValidation))
			return
		}
		force = parsed
	}
	handle, err := h.geocoding.Trigger(c.Request.Context(), currentUserID(c), c.Param("listID"), force)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":  geocoding.StatusProcessing,
		"job_id":  handle.ID,
		"list_id": c.Param("listID"),
	})
}

func (h *httpHandler) handleGeocodingStatus(c *gin.Context) {
	snapshot, err := h.geocoding.Status(c.Request.Context(), currentUserID(c), c.Param("listID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *httpHandler) handleSetGeocodingTemplate(c *gin.Context) {
	var request templateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "request.invalid_json", err)
		return
	}
	template, err := h.geocoding.SetTemplate(c.Request.Context(), currentUserID(c), c.Param("listID"), geocoding.Template{
		Fields:    request.Fields,
		Separator: request.Separator,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTemplatePayload(template))
}
