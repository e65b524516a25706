package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/contacts"
	"github.com/gin-gonic/gin"
)

type createActivityRequest struct {
	Type    string  `json:"type"`
	Result  string  `json:"result"`
	Date    *string `json:"date"`
	Content string  `json:"content"`
}

type updateActivityRequest struct {
	Type    *string `json:"type"`
	Result  *string `json:"result"`
	Date    *string `json:"date"`
	Content *string `json:"content"`
}

func (r updateActivityRequest) patch() contacts.ActivityPatch {
	var patch contacts.ActivityPatch
	if r.Type != nil {
		activityType := contacts.ActivityType(strings.TrimSpace(*r.Type))
		patch.Type = &activityType
	}
	if r.Result != nil {
		result := contacts.ActivityResult(strings.TrimSpace(*r.Result))
		patch.Result = &result
	}
	patch.Date = r.Date
	patch.Content = r.Content
	return patch
}

func (h *httpHandler) handleListActivities(c *gin.Context) {
	filter := contacts.ActivityFilter{Type: contacts.ActivityType(strings.TrimSpace(c.Query("type")))}
	if raw := strings.TrimSpace(c.Query("include_deleted")); raw != "" {
		includeDeleted, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(c, fmt.Errorf("%w: include_deleted must be a boolean", contacts.ErrValidation))
			return
		}
		filter.IncludeDeleted = includeDeleted
	}
	views, err := h.contacts.ListActivities(c.Request.Context(), currentUserID(c), c.Param("contactID"), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	payloads, ok := h.activityPayloads(c, views)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"activities": payloads})
}

func (h *httpHandler) handleCreateActivity(c *gin.Context) {
	var request createActivityRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "request.invalid_json", err)
		return
	}
	view, err := h.contacts.CreateActivity(c.Request.Context(), currentUserID(c), c.Param("contactID"), contacts.ActivityInput{
		Type:    contacts.ActivityType(strings.TrimSpace(request.Type)),
		Result:  contacts.ActivityResult(strings.TrimSpace(request.Result)),
		Date:    request.Date,
		Content: request.Content,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.writeActivity(c, http.StatusCreated, view)
}

func (h *httpHandler) handleUpdateActivity(c *gin.Context) {
	var request updateActivityRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "request.invalid_json", err)
		return
	}
	view, err := h.contacts.UpdateActivity(c.Request.Context(), currentUserID(c), c.Param("activityID"), request.patch())
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.writeActivity(c, http.StatusOK, view)
}

func (h *httpHandler) handleDeleteActivity(c *gin.Context) {
	if err := h.contacts.DeleteActivity(c.Request.Context(), currentUserID(c), c.Param("activityID")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) writeActivity(c *gin.Context, status int, view contacts.ActivityView) {
	payloads, ok := h.activityPayloads(c, []contacts.ActivityView{view})
	if !ok {
		return
	}
	c.JSON(status, payloads[0])
}

func (h *httpHandler) activityPayloads(c *gin.Context, views []contacts.ActivityView) ([]activityPayload, bool) {
	authorIDs := make([]string, 0, len(views))
	for _, view := range views {
		if view.AuthorID != nil {
			authorIDs = append(authorIDs, *view.AuthorID)
		}
	}
	names, err := h.users.DisplayNames(c.Request.Context(), authorIDs)
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	payloads := make([]activityPayload, 0, len(views))
	for _, view := range views {
		payloads = append(payloads, newActivityPayload(view, names))
	}
	return payloads, true
}
