package geocoding

import (
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/contacts"
)

var (
	// ErrDisabled indicates geocoding is switched off by configuration.
	ErrDisabled = fmt.Errorf("%w: geocoding is disabled", contacts.ErrInvalidState)
	// ErrTemplateInvalid indicates the list has no usable address template.
	ErrTemplateInvalid = fmt.Errorf("%w: geocoding template not configured or invalid", contacts.ErrInvalidState)
	// ErrAlreadyProcessing indicates a batch for the list is still running.
	ErrAlreadyProcessing = fmt.Errorf("%w: geocoding already in progress", contacts.ErrInvalidState)

	errMissingStore    = errors.New("geocoding: store is required")
	errMissingJobs     = errors.New("geocoding: job runner is required")
	errMissingGeocoder = errors.New("geocoding: geocoder is required")
)

// ServiceError carries an "<operation>.<reason>" code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the machine readable error code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opNewOrchestrator = "geocoding.orchestrator.new"
	opTrigger         = "geocoding.trigger"
	opRun             = "geocoding.run"
	opSetTemplate     = "geocoding.set_template"
)

const (
	reasonMissingDependency = "missing_dependency"
	reasonInvalidState      = "invalid_state"
	reasonInvalidInput      = "invalid_input"
	reasonEnqueueFailed     = "enqueue_failed"
	reasonStoreFailed       = "store_failed"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// wrap keeps errors that already carry a code and classifies the rest.
func wrap(operation string, err error) error {
	var geocodingErr *ServiceError
	if errors.As(err, &geocodingErr) {
		return err
	}
	if errors.Is(err, contacts.ErrInvalidState) {
		return newServiceError(operation, reasonInvalidState, err)
	}
	var contactsErr *contacts.ServiceError
	if errors.As(err, &contactsErr) {
		return err
	}
	switch {
	case errors.Is(err, contacts.ErrValidation):
		return newServiceError(operation, reasonInvalidInput, err)
	default:
		return newServiceError(operation, reasonStoreFailed, err)
	}
}
