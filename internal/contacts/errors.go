package contacts

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a reference to a missing or soft-deleted record.
	ErrNotFound = errors.New("contacts: not found")
	// ErrPermissionDenied indicates the actor may not act on the target record.
	ErrPermissionDenied = errors.New("contacts: permission denied")
	// ErrInvalidState indicates the record is not in a state that allows the operation.
	ErrInvalidState = errors.New("contacts: invalid state")
	// ErrConflictingEdit indicates an edit against a record that is already soft-deleted.
	ErrConflictingEdit = errors.New("contacts: conflicting edit")
	// ErrMissingContext indicates the query scope names neither an owner nor a list.
	ErrMissingContext = errors.New("contacts: missing list context")
	// ErrValidation indicates malformed caller input.
	ErrValidation = errors.New("contacts: validation failed")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
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
	opServiceNew          = "contacts.service.new"
	opCreateList          = "contacts.create_list"
	opListLists           = "contacts.list_lists"
	opGetList             = "contacts.get_list"
	opUpdateList          = "contacts.update_list"
	opDeleteList          = "contacts.delete_list"
	opPatchListMetadata   = "contacts.patch_list_metadata"
	opSetListStatus       = "contacts.set_list_status"
	opUploadFile          = "contacts.upload_file"
	opSaveMappings        = "contacts.save_mappings"
	opListMappings        = "contacts.list_mappings"
	opDeleteMapping       = "contacts.delete_mapping"
	opImportList          = "contacts.import_list"
	opProcessFile         = "contacts.process_file"
	opQueryContacts       = "contacts.query_contacts"
	opGetContact          = "contacts.get_contact"
	opUpdateContact       = "contacts.update_contact"
	opDeleteContact       = "contacts.delete_contact"
	opBulkDeleteContacts  = "contacts.bulk_delete_contacts"
	opContactStats        = "contacts.contact_stats"
	opContactStatus       = "contacts.contact_status"
	opTogglePipeline      = "contacts.toggle_pipeline"
	opAddFilteredPipeline = "contacts.add_filtered_to_pipeline"
	opClearPipeline       = "contacts.clear_pipeline"
	opCreateActivity      = "contacts.create_activity"
	opListActivities      = "contacts.list_activities"
	opUpdateActivity      = "contacts.update_activity"
	opDeleteActivity      = "contacts.delete_activity"
	opExport              = "contacts.export"
	opGeocodingTargets    = "contacts.geocoding_targets"
	opPatchContactData    = "contacts.patch_contact_data"
	opCorruptedContacts   = "contacts.corrupted_contacts"
	opPurgeContacts       = "contacts.purge_contacts"
)

const (
	reasonMissingDatabase    = "missing_database"
	reasonMissingIDProvider  = "missing_id_provider"
	reasonMissingContext     = "missing_context"
	reasonInvalidInput       = "invalid_input"
	reasonNotFound           = "not_found"
	reasonPermissionDenied   = "permission_denied"
	reasonConflictingEdit    = "conflicting_edit"
	reasonInvalidState       = "invalid_state"
	reasonQueryFailed        = "query_failed"
	reasonInsertFailed       = "insert_failed"
	reasonUpdateFailed       = "update_failed"
	reasonDeleteFailed       = "delete_failed"
	reasonEncodeFailed       = "encode_failed"
	reasonIDGenerationFailed = "id_generation_failed"
	reasonUnsupportedFormat  = "unsupported_format"
	reasonFileTooLarge       = "file_too_large"
	reasonEmptyFile          = "empty_file"
	reasonParseFailed        = "parse_failed"
	reasonWriteFailed        = "write_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
