package geocoding

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/contacts"
	"github.com/go-playground/validator/v10"
)

// List metadata keys owned by geocoding.
const (
	MetadataTemplate    = "geocoding_template"
	MetadataStatus      = "geocoding_status"
	MetadataStartedAt   = "geocoding_started_at"
	MetadataCompletedAt = "geocoding_completed_at"
	MetadataProgress    = "geocoding_progress"
	MetadataResults     = "geocoding_results"
	MetadataError       = "geocoding_error"
	MetadataJobID       = "geocoding_job_id"
)

var templateValidator = validator.New(validator.WithRequiredStructEnabled())

// Template names the contact fields joined into an address.
type Template struct {
	Fields    []string `json:"fields" validate:"required,min=1,dive,required"`
	Separator *string  `json:"separator" validate:"required"`
}

// Validate checks the template shape. An empty separator is allowed.
func (t Template) Validate() error {
	if err := templateValidator.Struct(t); err != nil {
		return fmt.Errorf("%w: %v", contacts.ErrValidation, err)
	}
	return nil
}

// JoinWith returns the separator, treating a missing one as empty.
func (t Template) JoinWith() string {
	if t.Separator == nil {
		return ""
	}
	return *t.Separator
}

func (t Template) metadataValue() map[string]any {
	fields := make([]any, 0, len(t.Fields))
	for _, field := range t.Fields {
		fields = append(fields, field)
	}
	return map[string]any{"fields": fields, "separator": t.JoinWith()}
}

// TemplateFromMetadata decodes and validates the template stored on a list.
func TemplateFromMetadata(metadata map[string]any) (Template, error) {
	raw, ok := metadata[MetadataTemplate]
	if !ok || raw == nil {
		return Template{}, ErrTemplateInvalid
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return Template{}, fmt.Errorf("%w: %v", ErrTemplateInvalid, err)
	}
	var template Template
	if err := json.Unmarshal(encoded, &template); err != nil {
		return Template{}, fmt.Errorf("%w: %v", ErrTemplateInvalid, err)
	}
	for index, field := range template.Fields {
		template.Fields[index] = strings.TrimSpace(field)
	}
	if err := template.Validate(); err != nil {
		return Template{}, fmt.Errorf("%w: %v", ErrTemplateInvalid, err)
	}
	return template, nil
}
