package contacts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/export"
	"gorm.io/datatypes"
)

// ListStatus tracks the import lifecycle of a contact list.
type ListStatus string

const (
	ListStatusProcessing ListStatus = "processing"
	ListStatusCompleted  ListStatus = "completed"
	ListStatusFailed     ListStatus = "failed"
)

// ActivityType enumerates the kinds of interaction an activity records.
type ActivityType string

const (
	ActivityTypeCall     ActivityType = "call"
	ActivityTypeEmail    ActivityType = "email"
	ActivityTypeVisit    ActivityType = "visit"
	ActivityTypeResearch ActivityType = "research"
)

// ActivityResult enumerates the outcome recorded on an activity.
type ActivityResult string

const (
	ActivityResultNo       ActivityResult = "no"
	ActivityResultFollowup ActivityResult = "followup"
	ActivityResultLead     ActivityResult = "lead"
)

// List metadata keys written by the import flow.
const (
	MetadataFileName      = "file_name"
	MetadataFileSize      = "file_size"
	MetadataTotalRows     = "total_rows"
	MetadataColumns       = "columns"
	MetadataTotalContacts = "total_contacts"
	MetadataLastImport    = "last_import"
	MetadataInvalidRows   = "invalid_rows"
	MetadataImportError   = "import_error"

	metadataEditHistory = "edit_history"
)

// ContactList is an owned collection of imported contacts.
type ContactList struct {
	ID        string            `gorm:"column:id;primaryKey;size:64;not null"`
	OwnerID   string            `gorm:"column:owner_id;size:190;not null;index:idx_contact_lists_owner_created,priority:1"`
	Name      string            `gorm:"column:name;size:255;not null"`
	Status    ListStatus        `gorm:"column:status;size:32;not null"`
	Metadata  datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt time.Time         `gorm:"column:created_at;not null;index:idx_contact_lists_owner_created,priority:2"`
	UpdatedAt time.Time         `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ContactList) TableName() string {
	return "contact_lists"
}

// Contact is one imported record with an open-ended field set.
type Contact struct {
	ID         string         `gorm:"column:id;primaryKey;size:64;not null"`
	ListID     string         `gorm:"column:list_id;size:64;not null;index:idx_contacts_list_scan,priority:1"`
	Data       datatypes.JSON `gorm:"column:data;not null"`
	IsDeleted  bool           `gorm:"column:is_deleted;not null;default:false;index:idx_contacts_list_scan,priority:2"`
	InPipeline bool           `gorm:"column:in_pipeline;not null;default:false;index:idx_contacts_list_scan,priority:3"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null;index:idx_contacts_list_scan,priority:4"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Contact) TableName() string {
	return "contacts"
}

// Fields decodes the data document. Corrupted documents yield an empty map and false.
func (c Contact) Fields() (map[string]any, bool) {
	fields, err := decodeData(c.Data)
	if err != nil {
		return map[string]any{}, false
	}
	return fields, true
}

// Corrupted reports whether the stored data document is not a JSON object.
func (c Contact) Corrupted() bool {
	_, ok := c.Fields()
	return !ok
}

var (
	firstNameKeys = []string{"first_name", "firstname", "nome", "name"}
	lastNameKeys  = []string{"last_name", "lastname", "cognome", "surname"}
	emailKeys     = []string{"email", "e-mail", "mail"}
)

// DisplayName renders a human label for the contact without failing on corrupted data.
func (c Contact) DisplayName() string {
	fields, ok := c.Fields()
	if ok {
		parts := make([]string, 0, 2)
		if first := firstText(fields, firstNameKeys); first != "" {
			parts = append(parts, first)
		}
		if last := firstText(fields, lastNameKeys); last != "" {
			parts = append(parts, last)
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
		if email := firstText(fields, emailKeys); email != "" {
			return email
		}
	}
	shortID := c.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	return fmt.Sprintf("Contact %s", shortID)
}

func firstText(fields map[string]any, keys []string) string {
	for _, key := range keys {
		if text, ok := TextValue(fields[key]); ok && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
	}
	return ""
}

// Activity is a dated, typed, outcome-bearing interaction attached to a contact.
type Activity struct {
	ID        string            `gorm:"column:id;primaryKey;size:64;not null"`
	ContactID string            `gorm:"column:contact_id;size:64;not null;index:idx_activities_contact_latest,priority:1"`
	AuthorID  *string           `gorm:"column:author_id;size:190;index"`
	Type      ActivityType      `gorm:"column:type;size:32;not null"`
	Result    ActivityResult    `gorm:"column:result;size:32"`
	Date      *string           `gorm:"column:date;size:10"`
	Content   string            `gorm:"column:content;type:text"`
	Metadata  datatypes.JSONMap `gorm:"column:metadata"`
	IsDeleted bool              `gorm:"column:is_deleted;not null;default:false;index:idx_activities_contact_latest,priority:2"`
	IsEdited  bool              `gorm:"column:is_edited;not null;default:false"`
	CreatedAt time.Time         `gorm:"column:created_at;not null;index:idx_activities_contact_latest,priority:3"`
	UpdatedAt time.Time         `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Activity) TableName() string {
	return "activities"
}

// AuthoredBy reports whether the actor wrote the activity.
func (a Activity) AuthoredBy(actorID string) bool {
	return a.AuthorID != nil && actorID != "" && *a.AuthorID == actorID
}

// EditHistory returns the recorded pre-edit snapshots, oldest first.
func (a Activity) EditHistory() []any {
	if a.Metadata == nil {
		return nil
	}
	history, _ := a.Metadata[metadataEditHistory].([]any)
	return history
}

// ColumnMapping remembers how a raw header was mapped for a list.
type ColumnMapping struct {
	ID             string    `gorm:"column:id;primaryKey;size:64;not null"`
	ListID         string    `gorm:"column:list_id;size:64;not null;uniqueIndex:idx_column_mappings_list_column,priority:1"`
	OriginalColumn string    `gorm:"column:original_column;size:255;not null;uniqueIndex:idx_column_mappings_list_column,priority:2"`
	MappedField    string    `gorm:"column:mapped_field;size:255;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ColumnMapping) TableName() string {
	return "column_mappings"
}

// UploadedFile stores the most recent file uploaded to a list.
type UploadedFile struct {
	ListID     string    `gorm:"column:list_id;primaryKey;size:64;not null"`
	FileName   string    `gorm:"column:file_name;size:255;not null"`
	Format     string    `gorm:"column:format;size:16;not null"`
	SizeBytes  int64     `gorm:"column:size_bytes;not null"`
	Content    []byte    `gorm:"column:content;not null"`
	UploadedAt time.Time `gorm:"column:uploaded_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (UploadedFile) TableName() string {
	return "contact_list_uploads"
}

// Models lists every persisted type for schema migration.
func Models() []any {
	return []any{&ContactList{}, &Contact{}, &Activity{}, &ColumnMapping{}, &UploadedFile{}}
}

func decodeData(raw []byte) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var fields map[string]any
	if err := decoder.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: data is not an object", ErrValidation)
	}
	return fields, nil
}

func encodeData(fields map[string]any) (datatypes.JSON, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(fields); err != nil {
		return nil, err
	}
	return datatypes.JSON(bytes.TrimRight(buffer.Bytes(), "\n")), nil
}

// TextValue renders a data value as text. Missing and null values report false.
func TextValue(value any) (string, bool) {
	if value == nil {
		return "", false
	}
	return export.CellText(value), true
}
