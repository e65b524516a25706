package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/auth"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/contacts"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/geocoding"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/ingest"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "prospectflow_user_id"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUserDirectory    = errors.New("user directory dependency required")
	errMissingContactsService  = errors.New("contacts service dependency required")
	errMissingGeocoding        = errors.New("geocoding orchestrator dependency required")
)

// SessionValidator authenticates a request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// UserDirectory resolves session claims and author names.
type UserDirectory interface {
	ResolveUser(ctx context.Context, claims auth.SessionClaims) (users.User, error)
	DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Sessions       SessionValidator
	Users          UserDirectory
	Contacts       *contacts.Service
	Geocoding      *geocoding.Orchestrator
	Logger         *zap.Logger
	AllowedOrigins []string
	MaxUploadBytes int64
}

// NewHTTPHandler builds the gin router serving the ProspectFlow API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Users == nil {
		return nil, errMissingUserDirectory
	}
	if deps.Contacts == nil {
		return nil, errMissingContactsService
	}
	if deps.Geocoding == nil {
		return nil, errMissingGeocoding
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxUploadBytes := deps.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = ingest.DefaultMaxUploadBytes
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:       deps.Sessions,
		users:          deps.Users,
		contacts:       deps.Contacts,
		geocoding:      deps.Geocoding,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/lists", handler.handleListLists)
	protected.POST("/lists", handler.handleCreateList)
	protected.GET("/lists/:listID", handler.handleGetList)
	protected.PATCH("/lists/:listID", handler.handleUpdateList)
	protected.DELETE("/lists/:listID", handler.handleDeleteList)
	protected.POST("/lists/:listID/upload", handler.handleUpload)
	protected.POST("/lists/:listID/process", handler.handleProcessFile)
	protected.POST("/lists/:listID/import", handler.handleImport)
	protected.GET("/lists/:listID/mappings", handler.handleListMappings)
	protected.POST("/lists/:listID/mappings", handler.handleSaveMappings)
	protected.DELETE("/lists/:listID/mappings/:mappingID", handler.handleDeleteMapping)
	protected.GET("/lists/:listID/contacts", handler.handleListContacts)
	protected.GET("/lists/:listID/contacts/stats", handler.handleContactStats)
	protected.POST("/lists/:listID/contacts/bulk-delete", handler.handleBulkDelete)
	protected.POST("/lists/:listID/pipeline/add-filtered", handler.handleAddFilteredToPipeline)
	protected.POST("/lists/:listID/pipeline/clear", handler.handleClearPipeline)
	protected.GET("/lists/:listID/export", handler.handleExport)
	protected.POST("/lists/:listID/geocoding", handler.handleTriggerGeocoding)
	protected.GET("/lists/:listID/geocoding", handler.handleGeocodingStatus)
	protected.PUT("/lists/:listID/geocoding/template", handler.handleSetGeocodingTemplate)

	protected.GET("/contacts", handler.handleQueryContacts)
	protected.GET("/contacts/:contactID", handler.handleGetContact)
	protected.PATCH("/contacts/:contactID", handler.handleUpdateContact)
	protected.DELETE("/contacts/:contactID", handler.handleDeleteContact)
	protected.POST("/contacts/:contactID/toggle-pipeline", handler.handleTogglePipeline)
	protected.GET("/contacts/:contactID/status", handler.handleContactStatus)
	protected.GET("/contacts/:contactID/activities", handler.handleListActivities)
	protected.POST("/contacts/:contactID/activities", handler.handleCreateActivity)

	protected.PATCH("/activities/:activityID", handler.handleUpdateActivity)
	protected.DELETE("/activities/:activityID", handler.handleDeleteActivity)

	return router, nil
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Disposition"},
		MaxAge:           12 * time.Hour,
		AllowCredentials: true,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		config.AllowOriginFunc = func(string) bool { return true }
		return cors.New(config)
	}
	config.AllowOrigins = origins
	return cors.New(config)
}

type httpHandler struct {
	sessions       SessionValidator
	users          UserDirectory
	contacts       *contacts.Service
	geocoding      *geocoding.Orchestrator
	logger         *zap.Logger
	maxUploadBytes int64
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "auth.unauthorized"})
		return
	}
	user, err := h.users.ResolveUser(c.Request.Context(), claims)
	if err != nil {
		if errors.Is(err, users.ErrInvalidIdentity) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "auth.invalid_identity"})
			return
		}
		h.logger.Error("user resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "code": "auth.resolve_failed"})
		return
	}
	c.Set(userIDContextKey, user.ID)
	c.Next()
}

func currentUserID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}
