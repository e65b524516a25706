package contacts

import (
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/ingest"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var noOpLogger = zap.NewNop()

// ServiceConfig describes the dependencies of the contact store.
type ServiceConfig struct {
	Database       *gorm.DB
	Clock          func() time.Time
	IDProvider     IDProvider
	Logger         *zap.Logger
	MaxUploadBytes int64
	StrictEmail    bool
}

// Service owns contact lists, contacts, activities and column mappings.
type Service struct {
	db             *gorm.DB
	clock          func() time.Time
	idProvider     IDProvider
	logger         *zap.Logger
	validate       *validator.Validate
	maxUploadBytes int64
	strictEmail    bool
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, reasonMissingIDProvider, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = ingest.DefaultMaxUploadBytes
	}

	return &Service{
		db:             cfg.Database,
		clock:          clock,
		idProvider:     cfg.IDProvider,
		logger:         logger,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		maxUploadBytes: maxUploadBytes,
		strictEmail:    cfg.StrictEmail,
	}, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) ready(operation string) error {
	if s == nil || s.db == nil {
		return newServiceError(operation, reasonMissingDatabase, errMissingDatabase)
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	if s == nil || s.logger == nil {
		return
	}
	baseFields := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	s.logger.Error("contacts service error", append(baseFields, fields...)...)
}

// storeFailure logs an unexpected persistence failure and wraps it.
func (s *Service) storeFailure(operation, reason string, err error, fields ...zap.Field) error {
	s.logError(operation, reason, err, fields...)
	return newServiceError(operation, reason, err)
}

// classify wraps domain sentinels with their reason code and passes other errors through the store path.
func (s *Service) classify(operation string, err error, fields ...zap.Field) error {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return err
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return newServiceError(operation, reasonNotFound, err)
	case errors.Is(err, ErrPermissionDenied):
		return newServiceError(operation, reasonPermissionDenied, err)
	case errors.Is(err, ErrConflictingEdit):
		return newServiceError(operation, reasonConflictingEdit, err)
	case errors.Is(err, ErrInvalidState):
		return newServiceError(operation, reasonInvalidState, err)
	case errors.Is(err, ErrMissingContext):
		return newServiceError(operation, reasonMissingContext, err)
	case errors.Is(err, ErrValidation):
		return newServiceError(operation, reasonInvalidInput, err)
	case errors.Is(err, ingest.ErrUnsupportedFormat):
		return newServiceError(operation, reasonUnsupportedFormat, err)
	case errors.Is(err, ingest.ErrFileTooLarge):
		return newServiceError(operation, reasonFileTooLarge, err)
	case errors.Is(err, ingest.ErrEmptyFile):
		return newServiceError(operation, reasonEmptyFile, err)
	case errors.Is(err, ingest.ErrParseFailure):
		return newServiceError(operation, reasonParseFailed, err)
	default:
		return s.storeFailure(operation, reasonQueryFailed, err, fields...)
	}
}

func (s *Service) newID(operation string) (string, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		return "", s.storeFailure(operation, reasonIDGenerationFailed, err)
	}
	return id, nil
}

// ownedList loads a list and checks that the owner holds it.
func ownedList(tx *gorm.DB, ownerID, listID string) (ContactList, error) {
	if strings.TrimSpace(ownerID) == "" {
		return ContactList{}, ErrMissingContext
	}
	var list ContactList
	err := tx.Where("id = ?", strings.TrimSpace(listID)).Take(&list).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ContactList{}, ErrNotFound
	}
	if err != nil {
		return ContactList{}, err
	}
	if list.OwnerID != ownerID {
		return ContactList{}, ErrPermissionDenied
	}
	return list, nil
}

// ownedContact loads a contact, including soft-deleted rows, and checks ownership through its list.
func ownedContact(tx *gorm.DB, ownerID, contactID string) (Contact, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Contact{}, ErrMissingContext
	}
	var contact Contact
	err := tx.Where("id = ?", strings.TrimSpace(contactID)).Take(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, err
	}
	if _, err := ownedList(tx, ownerID, contact.ListID); err != nil {
		return Contact{}, err
	}
	return contact, nil
}

// activeContact is ownedContact that treats soft-deleted contacts as missing.
func activeContact(tx *gorm.DB, ownerID, contactID string) (Contact, error) {
	contact, err := ownedContact(tx, ownerID, contactID)
	if err != nil {
		return Contact{}, err
	}
	if contact.IsDeleted {
		return Contact{}, ErrNotFound
	}
	return contact, nil
}

func ownedListIDs(db *gorm.DB, ownerID string) *gorm.DB {
	return db.Session(&gorm.Session{NewDB: true}).
		Model(&ContactList{}).
		Select("id").
		Where("owner_id = ?", ownerID)
}
