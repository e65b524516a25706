package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/contacts"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/ingest"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorKind struct {
	sentinel error
	status   int
	kind     string
}

// Order matters: geocoding sentinels wrap ErrInvalidState, and ServiceErrors may wrap several causes.
var errorKinds = []errorKind{
	{sentinel: ingest.ErrFileTooLarge, status: http.StatusRequestEntityTooLarge, kind: "file_too_large"},
	{sentinel: ingest.ErrUnsupportedFormat, status: http.StatusBadRequest, kind: "unsupported_format"},
	{sentinel: ingest.ErrParseFailure, status: http.StatusBadRequest, kind: "parse_failure"},
	{sentinel: ingest.ErrEmptyFile, status: http.StatusBadRequest, kind: "parse_failure"},
	{sentinel: contacts.ErrNotFound, status: http.StatusNotFound, kind: "not_found"},
	{sentinel: contacts.ErrPermissionDenied, status: http.StatusForbidden, kind: "permission_denied"},
	{sentinel: contacts.ErrConflictingEdit, status: http.StatusConflict, kind: "conflicting_edit"},
	{sentinel: contacts.ErrInvalidState, status: http.StatusConflict, kind: "invalid_state"},
	{sentinel: contacts.ErrMissingContext, status: http.StatusBadRequest, kind: "missing_context"},
	{sentinel: contacts.ErrValidation, status: http.StatusBadRequest, kind: "validation"},
}

type coded interface {
	Code() string
}

func classifyError(err error) (int, string, string) {
	code := ""
	var codedErr coded
	if errors.As(err, &codedErr) {
		code = codedErr.Code()
	}
	for _, candidate := range errorKinds {
		if errors.Is(err, candidate.sentinel) {
			return candidate.status, candidate.kind, code
		}
	}
	return http.StatusInternalServerError, "internal_error", code
}

func (h *httpHandler) writeError(c *gin.Context, err error) {
	status, kind, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err))
	}
	body := gin.H{"error": kind}
	if code != "" {
		body["code"] = code
	}
	c.JSON(status, body)
}

func (h *httpHandler) badRequest(c *gin.Context, code string, err error) {
	h.logger.Debug("rejected request", zap.String("code", code), zap.Error(err))
	c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "code": code})
}
