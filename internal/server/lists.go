package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/contacts"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/ingest"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/mapping"
	"github.com/gin-gonic/gin"
)

// Multipart framing on top of the file itself.
const multipartOverheadBytes = 1 << 20

type createListRequest struct {
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

type updateListRequest struct {
	Name     *string        `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

type saveMappingsRequest struct {
	Mappings []mapping.Directive `json:"mappings"`
}

func (h *httpHandler) handleListLists(c *gin.Context) {
	summaries, err := h.contacts.ListLists(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	payloads := make([]listPayload, 0, len(summaries))
	for _, summary := range summaries {
		payloads = append(payloads, newListSummaryPayload(summary))
	}
	c.JSON(http.StatusOK, gin.H{"lists": payloads})
}

func (h *httpHandler) handleCreateList(c *gin.Context) {
	var request createListRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "request.invalid_json", err)
		return
	}
	list, err := h.contacts.CreateList(c.Request.Context(), currentUserID(c), contacts.ListInput{
		Name:     strings.TrimSpace(request.Name),
		Metadata: request.Metadata,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newListPayload(list))
}

func (h *httpHandler) handleGetList(c *gin.Context) {
	detail, err := h.contacts.GetList(c.Request.Context(), currentUserID(c), c.Param("listID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newListDetailPayload(detail))
}

func (h *httpHandler) handleUpdateList(c *gin.Context) {
	var request updateListRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "request.invalid_json", err)
		return
	}
	list, err := h.contacts.UpdateList(c.Request.Context(), currentUserID(c), c.Param("listID"), contacts.ListUpdate{
		Name:     request.Name,
		Metadata: request.Metadata,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newListPayload(list))
}

func (h *httpHandler) handleDeleteList(c *gin.Context) {
	if err := h.contacts.DeleteList(c.Request.Context(), currentUserID(c), c.Param("listID")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUpload(c *gin.Context) {
	fileName, content, ok := h.readUpload(c)
	if !ok {
		return
	}
	preview, err := h.contacts.UploadFile(c.Request.Context(), currentUserID(c), c.Param("listID"), fileName, content)
	if err != nil {
		h.writeError(c, err)
		return
	}
	rows := preview.Rows
	if rows == nil {
		rows = []ingest.Record{}
	}
	c.JSON(http.StatusOK, gin.H{
		"file_name":    preview.FileName,
		"file_size":    preview.FileSize,
		"headers":      preview.Headers,
		"preview_rows": rows,
		"total_rows":   preview.TotalRows,
	})
}

func (h *httpHandler) handleProcessFile(c *gin.Context) {
	fileName, content, ok := h.readUpload(c)
	if !ok {
		return
	}
	var directives []mapping.Directive
	if raw := strings.TrimSpace(c.PostForm("mappings")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &directives); err != nil {
			h.badRequest(c, "request.invalid_mappings", err)
			return
		}
	}
	result, err := h.contacts.ProcessFile(c.Request.Context(), currentUserID(c), c.Param("listID"), fileName, content, directives)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newImportPayload(result))
}

func (h *httpHandler) handleImport(c *gin.Context) {
	result, err := h.contacts.ImportList(c.Request.Context(), currentUserID(c), c.Param("listID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newImportPayload(result))
}

func (h *httpHandler) handleListMappings(c *gin.Context) {
	mappings, err := h.contacts.ListMappings(c.Request.Context(), currentUserID(c), c.Param("listID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mappings": newMappingPayloads(mappings)})
}

func (h *httpHandler) handleSaveMappings(c *gin.Context) {
	var request saveMappingsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "request.invalid_json", err)
		return
	}
	mappings, err := h.contacts.SaveMappings(c.Request.Context(), currentUserID(c), c.Param("listID"), request.Mappings)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mappings": newMappingPayloads(mappings)})
}

func (h *httpHandler) handleDeleteMapping(c *gin.Context) {
	if err := h.contacts.DeleteMapping(c.Request.Context(), currentUserID(c), c.Param("listID"), c.Param("mappingID")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// readUpload reads the multipart "file" field, writing the error response itself when it fails.
func (h *httpHandler) readUpload(c *gin.Context) (string, []byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverheadBytes)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(c, ingest.ErrFileTooLarge)
			return "", nil, false
		}
		h.badRequest(c, "request.missing_file", err)
		return "", nil, false
	}
	if header.Size > h.maxUploadBytes {
		h.writeError(c, ingest.ErrFileTooLarge)
		return "", nil, false
	}
	content, err := readFormFile(header)
	if err != nil {
		h.badRequest(c, "request.unreadable_file", err)
		return "", nil, false
	}
	return header.Filename, content, true
}

func readFormFile(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}
