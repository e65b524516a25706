package geocoding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/contacts"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/jobs"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// JobName is the runner registration for list batches.
const JobName = "geocode_list"

// Batch status values stored under geocoding_status.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Per-contact data keys.
const (
	DataLatitude  = contacts.CoordinateKey
	DataLongitude = "longitude"
	DataGeocodeAt = "geocoded_at"
	DataPrecision = "geocoding_precision"
	DataError     = "geocoding_error"
)

const (
	contactErrorNoAddress = "No address fields found"
	contactErrorNotFound  = "Address not found or geocoding failed"
	progressEvery         = 10
)

// Store is the persistence the orchestrator needs. *contacts.Service satisfies it.
type Store interface {
	OwnedList(ctx context.Context, ownerID, listID string) (contacts.ContactList, error)
	ListByID(ctx context.Context, listID string) (contacts.ContactList, error)
	PatchListMetadata(ctx context.Context, listID string, mutate contacts.MetadataMutator) (datatypes.JSONMap, error)
	GeocodingTargets(ctx context.Context, listID string, force bool) ([]contacts.Contact, int64, error)
	PatchContactData(ctx context.Context, contactID string, set map[string]any, unset ...string) error
}

// Enqueuer schedules background jobs. *jobs.Runner satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any) (jobs.Handle, error)
}

// JobPayload is the argument of a geocode_list job.
type JobPayload struct {
	ListID string
	Force  bool
}

// Progress reports how far a batch has advanced.
type Progress struct {
	Current    int     `json:"current"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// Results summarises a finished batch.
type Results struct {
	Total   int   `json:"total"`
	Success int   `json:"success"`
	Failed  int   `json:"failed"`
	Skipped int64 `json:"skipped"`
}

// StatusSnapshot is the geocoding state recorded on a list.
type StatusSnapshot struct {
	Enabled     bool           `json:"enabled"`
	Status      string         `json:"status,omitempty"`
	StartedAt   string         `json:"started_at,omitempty"`
	CompletedAt string         `json:"completed_at,omitempty"`
	Progress    map[string]any `json:"progress,omitempty"`
	Results     map[string]any `json:"results,omitempty"`
	Error       string         `json:"error,omitempty"`
	JobID       string         `json:"job_id,omitempty"`
	Template    map[string]any `json:"template,omitempty"`
}

// OrchestratorConfig describes the dependencies of an Orchestrator.
type OrchestratorConfig struct {
	Store    Store
	Jobs     Enqueuer
	Geocoder Geocoder
	Enabled  bool
	Country  string
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Orchestrator runs list-wide geocoding batches.
type Orchestrator struct {
	store    Store
	jobs     Enqueuer
	geocoder Geocoder
	enabled  bool
	country  string
	clock    func() time.Time
	logger   *zap.Logger
}

// NewOrchestrator validates the configuration and constructs an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opNewOrchestrator, reasonMissingDependency, errMissingStore)
	}
	if cfg.Jobs == nil {
		return nil, newServiceError(opNewOrchestrator, reasonMissingDependency, errMissingJobs)
	}
	if cfg.Geocoder == nil {
		return nil, newServiceError(opNewOrchestrator, reasonMissingDependency, errMissingGeocoder)
	}
	country := strings.TrimSpace(cfg.Country)
	if country == "" {
		country = DefaultCountry
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:    cfg.Store,
		jobs:     cfg.Jobs,
		geocoder: cfg.Geocoder,
		enabled:  cfg.Enabled,
		country:  country,
		clock:    clock,
		logger:   logger,
	}, nil
}

func (o *Orchestrator) timestamp() string {
	return o.clock().UTC().Format(time.RFC3339Nano)
}

// JobHandler adapts Run to the job runner.
func (o *Orchestrator) JobHandler() jobs.Handler {
	return func(ctx context.Context, payload any) error {
		job, ok := payload.(JobPayload)
		if !ok {
			return fmt.Errorf("geocoding: unexpected payload %T", payload)
		}
		_, err := o.Run(ctx, job.ListID, job.Force)
		return err
	}
}

// Trigger marks the list as processing and schedules a batch.
func (o *Orchestrator) Trigger(ctx context.Context, ownerID, listID string, force bool) (jobs.Handle, error) {
	list, err := o.store.OwnedList(ctx, ownerID, listID)
	if err != nil {
		return jobs.Handle{}, err
	}
	if !o.enabled {
		return jobs.Handle{}, newServiceError(opTrigger, reasonInvalidState, ErrDisabled)
	}
	if _, err := TemplateFromMetadata(list.Metadata); err != nil {
		return jobs.Handle{}, newServiceError(opTrigger, reasonInvalidState, err)
	}

	_, err = o.store.PatchListMetadata(ctx, list.ID, func(metadata datatypes.JSONMap) error {
		if metadata[MetadataStatus] == StatusProcessing {
			return ErrAlreadyProcessing
		}
		metadata[MetadataStatus] = StatusProcessing
		metadata[MetadataStartedAt] = o.timestamp()
		metadata[MetadataProgress] = progressValue(0, 0)
		delete(metadata, MetadataError)
		delete(metadata, MetadataResults)
		delete(metadata, MetadataCompletedAt)
		delete(metadata, MetadataJobID)
		return nil
	})
	if err != nil {
		return jobs.Handle{}, wrap(opTrigger, err)
	}

	handle, err := o.jobs.Enqueue(ctx, JobName, JobPayload{ListID: list.ID, Force: force})
	if err != nil {
		o.logger.Error("geocoding enqueue failed", zap.String("list_id", list.ID), zap.Error(err))
		o.markFailed(context.WithoutCancel(ctx), list.ID, err.Error())
		return jobs.Handle{}, newServiceError(opTrigger, reasonEnqueueFailed, err)
	}
	_, err = o.store.PatchListMetadata(ctx, list.ID, func(metadata datatypes.JSONMap) error {
		// The job can finish before its id is recorded.
		if _, claimed := metadata[MetadataJobID]; !claimed {
			metadata[MetadataJobID] = handle.ID
		}
		return nil
	})
	if err != nil {
		return handle, wrap(opTrigger, err)
	}
	o.logger.Info("geocoding scheduled",
		zap.String("list_id", list.ID),
		zap.String("job_id", handle.ID),
		zap.Bool("force", force))
	return handle, nil
}

// Run geocodes the list's targets one by one, recording progress and final results.
func (o *Orchestrator) Run(ctx context.Context, listID string, force bool) (Results, error) {
	logger := o.logger.With(zap.String("list_id", listID))
	list, err := o.store.ListByID(ctx, listID)
	if err != nil {
		return Results{}, err
	}
	if !o.enabled {
		o.markFailed(ctx, list.ID, "Geocoding feature is disabled")
		return Results{}, newServiceError(opRun, reasonInvalidState, ErrDisabled)
	}
	template, err := TemplateFromMetadata(list.Metadata)
	if err != nil {
		o.markFailed(ctx, list.ID, "Geocoding template not configured or invalid")
		return Results{}, newServiceError(opRun, reasonInvalidState, err)
	}

	results, err := o.process(ctx, list.ID, template, force, logger)
	if err != nil {
		logger.Error("geocoding batch failed", zap.Error(err))
		o.markFailed(context.WithoutCancel(ctx), list.ID, err.Error())
		return results, wrap(opRun, err)
	}

	_, err = o.store.PatchListMetadata(ctx, list.ID, func(metadata datatypes.JSONMap) error {
		metadata[MetadataStatus] = StatusCompleted
		metadata[MetadataCompletedAt] = o.timestamp()
		metadata[MetadataResults] = map[string]any{
			"total":   results.Total,
			"success": results.Success,
			"failed":  results.Failed,
			"skipped": results.Skipped,
		}
		delete(metadata, MetadataError)
		return nil
	})
	if err != nil {
		return results, wrap(opRun, err)
	}
	logger.Info("geocoding completed",
		zap.Int("total", results.Total),
		zap.Int("success", results.Success),
		zap.Int("failed", results.Failed),
		zap.Int64("skipped", results.Skipped))
	return results, nil
}

func (o *Orchestrator) process(ctx context.Context, listID string, template Template, force bool, logger *zap.Logger) (Results, error) {
	targets, skipped, err := o.store.GeocodingTargets(ctx, listID, force)
	if err != nil {
		return Results{}, err
	}
	results := Results{Skipped: skipped}
	total := len(targets)
	logger.Info("geocoding started", zap.Int("targets", total), zap.Bool("force", force))
	if err := o.writeProgress(ctx, listID, 0, total); err != nil {
		return results, err
	}

	for index, contact := range targets {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results.Total++
		located, err := o.geocodeContact(ctx, contact, template, logger)
		if err != nil {
			return results, err
		}
		if located {
			results.Success++
		} else {
			results.Failed++
		}

		processed := index + 1
		if processed%progressEvery == 0 || processed == total {
			if err := o.writeProgress(ctx, listID, processed, total); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

func (o *Orchestrator) geocodeContact(ctx context.Context, contact contacts.Contact, template Template, logger *zap.Logger) (bool, error) {
	fields, ok := contact.Fields()
	if !ok {
		logger.Warn("geocoding skipped corrupted contact", zap.String("contact_id", contact.ID))
		return false, nil
	}
	address := BuildAddress(fields, template, o.country)
	if address == "" {
		logger.Warn("geocoding skipped contact without address", zap.String("contact_id", contact.ID))
		return false, o.store.PatchContactData(ctx, contact.ID, map[string]any{DataError: contactErrorNoAddress})
	}

	result, err := resolve(ctx, o.geocoder, address, logger)
	if err != nil {
		return false, err
	}
	if result == nil {
		logger.Warn("geocoding found no match", zap.String("contact_id", contact.ID), zap.String("address", address))
		return false, o.store.PatchContactData(ctx, contact.ID, map[string]any{DataError: contactErrorNotFound})
	}

	err = o.store.PatchContactData(ctx, contact.ID, map[string]any{
		DataLatitude:  result.Latitude,
		DataLongitude: result.Longitude,
		DataGeocodeAt: o.timestamp(),
		DataPrecision: string(result.Precision),
	}, DataError)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) writeProgress(ctx context.Context, listID string, current, total int) error {
	_, err := o.store.PatchListMetadata(ctx, listID, func(metadata datatypes.JSONMap) error {
		metadata[MetadataProgress] = progressValue(current, total)
		return nil
	})
	return err
}

func progressValue(current, total int) map[string]any {
	percentage := 0.0
	if total > 0 {
		percentage = math.Round(float64(current)/float64(total)*10000) / 100
	}
	return map[string]any{"current": current, "total": total, "percentage": percentage}
}

func (o *Orchestrator) markFailed(ctx context.Context, listID, message string) {
	_, err := o.store.PatchListMetadata(ctx, listID, func(metadata datatypes.JSONMap) error {
		metadata[MetadataStatus] = StatusFailed
		metadata[MetadataError] = message
		metadata[MetadataCompletedAt] = o.timestamp()
		return nil
	})
	if err != nil {
		o.logger.Error("geocoding failure not recorded", zap.String("list_id", listID), zap.Error(err))
	}
}

// Status reads the geocoding snapshot of an owned list.
func (o *Orchestrator) Status(ctx context.Context, ownerID, listID string) (StatusSnapshot, error) {
	list, err := o.store.OwnedList(ctx, ownerID, listID)
	if err != nil {
		return StatusSnapshot{}, err
	}
	metadata := list.Metadata
	snapshot := StatusSnapshot{
		Enabled:     o.enabled,
		Status:      stringValue(metadata[MetadataStatus]),
		StartedAt:   stringValue(metadata[MetadataStartedAt]),
		CompletedAt: stringValue(metadata[MetadataCompletedAt]),
		Error:       stringValue(metadata[MetadataError]),
		JobID:       stringValue(metadata[MetadataJobID]),
	}
	snapshot.Progress, _ = metadata[MetadataProgress].(map[string]any)
	snapshot.Results, _ = metadata[MetadataResults].(map[string]any)
	snapshot.Template, _ = metadata[MetadataTemplate].(map[string]any)
	return snapshot, nil
}

// SetTemplate validates the template and stores it on the owned list.
func (o *Orchestrator) SetTemplate(ctx context.Context, ownerID, listID string, template Template) (Template, error) {
	for index, field := range template.Fields {
		template.Fields[index] = strings.TrimSpace(field)
	}
	if err := template.Validate(); err != nil {
		return Template{}, newServiceError(opSetTemplate, reasonInvalidInput, err)
	}
	list, err := o.store.OwnedList(ctx, ownerID, listID)
	if err != nil {
		return Template{}, err
	}
	_, err = o.store.PatchListMetadata(ctx, list.ID, func(metadata datatypes.JSONMap) error {
		metadata[MetadataTemplate] = template.metadataValue()
		return nil
	})
	if err != nil {
		return Template{}, wrap(opSetTemplate, err)
	}
	return template, nil
}

func stringValue(value any) string {
	text, _ := value.(string)
	return text
}
