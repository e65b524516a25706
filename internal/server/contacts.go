package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/contacts"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/export"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 25
	maxPageSize     = 500
)

type bulkDeleteRequest struct {
	ContactIDs []string `json:"contact_ids"`
}

// parseFilter reads search, search_field, ordering, in_pipeline and status.
func parseFilter(c *gin.Context) (contacts.Filter, error) {
	filter := contacts.Filter{
		Search:      c.Query("search"),
		SearchField: c.Query("search_field"),
		Ordering:    c.Query("ordering"),
	}
	if raw := strings.TrimSpace(c.Query("in_pipeline")); raw != "" {
		inPipeline, err := strconv.ParseBool(raw)
		if err != nil {
			return contacts.Filter{}, fmt.Errorf("%w: in_pipeline must be a boolean", contacts.ErrValidation)
		}
		filter.InPipeline = &inPipeline
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		statuses, err := contacts.ParseStatuses(raw)
		if err != nil {
			return contacts.Filter{}, err
		}
		filter.Statuses = statuses
	}
	return filter, nil
}

// parsePage reads the one-based page and page_size parameters.
func parsePage(c *gin.Context) (int, int, error) {
	page, err := positiveQueryInt(c, "page", 1)
	if err != nil {
		return 0, 0, err
	}
	size, err := positiveQueryInt(c, "page_size", defaultPageSize)
	if err != nil {
		return 0, 0, err
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size, nil
}

func positiveQueryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", contacts.ErrValidation, name)
	}
	return value, nil
}

func (h *httpHandler) handleListContacts(c *gin.Context) {
	h.queryContacts(c, contacts.Scope{OwnerID: currentUserID(c), ListID: c.Param("listID")})
}

func (h *httpHandler) handleQueryContacts(c *gin.Context) {
	h.queryContacts(c, contacts.Scope{OwnerID: currentUserID(c), ListID: c.Query("list_id")})
}

func (h *httpHandler) queryContacts(c *gin.Context, scope contacts.Scope) {
	filter, err := parseFilter(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	page, size, err := parsePage(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	result, err := h.contacts.QueryContacts(c.Request.Context(), scope, filter, contacts.Page{
		Offset: (page - 1) * size,
		Limit:  size,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	results := make([]contactPayload, 0, len(result.Contacts))
	for _, view := range result.Contacts {
		results = append(results, newContactViewPayload(view))
	}
	c.JSON(http.StatusOK, pagePayload{Count: result.Total, Page: page, PageSize: size, Results: results})
}

func (h *httpHandler) handleContactStats(c *gin.Context) {
	stats, err := h.contacts.ContactStats(c.Request.Context(), contacts.Scope{OwnerID: currentUserID(c), ListID: c.Param("listID")})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": stats.Total, "active": stats.Active, "deleted": stats.Deleted})
}

func (h *httpHandler) handleBulkDelete(c *gin.Context) {
	var request bulkDeleteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "request.invalid_json", err)
		return
	}
	deleted, err := h.contacts.BulkSoftDelete(c.Request.Context(), contacts.Scope{OwnerID: currentUserID(c), ListID: c.Param("listID")}, request.ContactIDs)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted_count": deleted})
}

func (h *httpHandler) handleAddFilteredToPipeline(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	added, err := h.contacts.AddFilteredToPipeline(c.Request.Context(), contacts.Scope{OwnerID: currentUserID(c), ListID: c.Param("listID")}, filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added_count": added})
}

func (h *httpHandler) handleClearPipeline(c *gin.Context) {
	cleared, err := h.contacts.ClearPipeline(c.Request.Context(), contacts.Scope{OwnerID: currentUserID(c), ListID: c.Param("listID")})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared_count": cleared})
}

func (h *httpHandler) handleExport(c *gin.Context) {
	ctx := c.Request.Context()
	ownerID := currentUserID(c)
	list, err := h.contacts.OwnedList(ctx, ownerID, c.Param("listID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	filter, err := parseFilter(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	options := export.Options{Fields: export.ParseFields(c.Query("fields"))}
	if len(options.Fields) == 0 {
		options.Fields = listColumns(list)
	}
	for name, target := range map[string]*bool{
		"include_status":           &options.IncludeStatus,
		"include_activities_count": &options.IncludeActivitiesCount,
		"include_pipeline":         &options.IncludePipeline,
	} {
		raw := strings.TrimSpace(c.Query(name))
		if raw == "" {
			continue
		}
		include, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(c, fmt.Errorf("%w: %s must be a boolean", contacts.ErrValidation, name))
			return
		}
		*target = include
	}

	var body bytes.Buffer
	if err := h.contacts.Export(ctx, contacts.Scope{OwnerID: ownerID, ListID: list.ID}, filter, options, &body); err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.FileName(list.ID)))
	c.Data(http.StatusOK, export.ContentType, body.Bytes())
}

func listColumns(list contacts.ContactList) []string {
	var raw []any
	switch typed := list.Metadata[contacts.MetadataColumns].(type) {
	case []any:
		raw = typed
	case []string:
		for _, column := range typed {
			raw = append(raw, column)
		}
	}
	columns := make([]string, 0, len(raw))
	for _, value := range raw {
		if column, ok := value.(string); ok && strings.TrimSpace(column) != "" {
			columns = append(columns, column)
		}
	}
	return columns
}

func (h *httpHandler) handleGetContact(c *gin.Context) {
	view, err := h.contacts.GetContact(c.Request.Context(), currentUserID(c), c.Param("contactID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newContactViewPayload(view))
}

func (h *httpHandler) handleUpdateContact(c *gin.Context) {
	var patch map[string]any
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.badRequest(c, "request.invalid_json", err)
		return
	}
	contact, err := h.contacts.UpdateContactData(c.Request.Context(), currentUserID(c), c.Param("contactID"), patch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newContactPayload(contact))
}

func (h *httpHandler) handleDeleteContact(c *gin.Context) {
	if err := h.contacts.SoftDeleteContact(c.Request.Context(), currentUserID(c), c.Param("contactID")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleTogglePipeline(c *gin.Context) {
	inPipeline, err := h.contacts.TogglePipeline(c.Request.Context(), currentUserID(c), c.Param("contactID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"in_pipeline": inPipeline})
}

func (h *httpHandler) handleContactStatus(c *gin.Context) {
	status, err := h.contacts.ContactStatus(c.Request.Context(), currentUserID(c), c.Param("contactID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}
