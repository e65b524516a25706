package server

import (
	"encoding/json"
	"time"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/contacts"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/geocoding"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/mapping"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/users"
)

type listPayload struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Status         string           `json:"status"`
	Metadata       map[string]any   `json:"metadata"`
	ContactCount   *int64           `json:"contact_count,omitempty"`
	RecentContacts []contactPayload `json:"recent_contacts,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func newListPayload(list contacts.ContactList) listPayload {
	metadata := map[string]any(list.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	return listPayload{
		ID:        list.ID,
		Name:      list.Name,
		Status:    string(list.Status),
		Metadata:  metadata,
		CreatedAt: list.CreatedAt,
		UpdatedAt: list.UpdatedAt,
	}
}

func newListSummaryPayload(summary contacts.ListSummary) listPayload {
	payload := newListPayload(summary.List)
	count := summary.ContactCount
	payload.ContactCount = &count
	return payload
}

func newListDetailPayload(detail contacts.ListDetail) listPayload {
	payload := newListSummaryPayload(detail.ListSummary)
	payload.RecentContacts = make([]contactPayload, 0, len(detail.RecentContacts))
	for _, contact := range detail.RecentContacts {
		payload.RecentContacts = append(payload.RecentContacts, newContactPayload(contact))
	}
	return payload
}

type contactPayload struct {
	ID              string          `json:"id"`
	ListID          string          `json:"list_id"`
	Data            json.RawMessage `json:"data"`
	DisplayName     string          `json:"display_name"`
	IsDeleted       bool            `json:"is_deleted"`
	InPipeline      bool            `json:"in_pipeline"`
	Status          string          `json:"status,omitempty"`
	ActivitiesCount *int64          `json:"activities_count,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func newContactPayload(contact contacts.Contact) contactPayload {
	data := json.RawMessage(contact.Data)
	if len(data) == 0 || !json.Valid(data) {
		data = json.RawMessage(`{}`)
	}
	return contactPayload{
		ID:          contact.ID,
		ListID:      contact.ListID,
		Data:        data,
		DisplayName: contact.DisplayName(),
		IsDeleted:   contact.IsDeleted,
		InPipeline:  contact.InPipeline,
		CreatedAt:   contact.CreatedAt,
		UpdatedAt:   contact.UpdatedAt,
	}
}

func newContactViewPayload(view contacts.ContactView) contactPayload {
	payload := newContactPayload(view.Contact)
	payload.Status = string(view.Status)
	count := view.ActivitiesCount
	payload.ActivitiesCount = &count
	return payload
}

type pagePayload struct {
	Count    int64            `json:"count"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Results  []contactPayload `json:"results"`
}

type activityPayload struct {
	ID          string    `json:"id"`
	ContactID   string    `json:"contact_id"`
	AuthorID    *string   `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	Type        string    `json:"type"`
	Result      string    `json:"result"`
	Date        *string   `json:"date"`
	Content     string    `json:"content"`
	IsDeleted   bool      `json:"is_deleted"`
	IsEdited    bool      `json:"is_edited"`
	EditHistory []any     `json:"edit_history"`
	CanEdit     bool      `json:"can_edit"`
	CanDelete   bool      `json:"can_delete"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newActivityPayload(view contacts.ActivityView, names map[string]string) activityPayload {
	history := view.EditHistory()
	if history == nil {
		history = []any{}
	}
	return activityPayload{
		ID:          view.ID,
		ContactID:   view.ContactID,
		AuthorID:    view.AuthorID,
		AuthorName:  users.AuthorName(names, view.AuthorID),
		Type:        string(view.Type),
		Result:      string(view.Result),
		Date:        view.Date,
		Content:     view.Content,
		IsDeleted:   view.IsDeleted,
		IsEdited:    view.IsEdited,
		EditHistory: history,
		CanEdit:     view.CanEdit,
		CanDelete:   view.CanDelete,
		CreatedAt:   view.CreatedAt,
		UpdatedAt:   view.UpdatedAt,
	}
}

type mappingPayload struct {
	ID             string    `json:"id"`
	OriginalColumn string    `json:"original_column"`
	MappedField    string    `json:"mapped_field"`
	CreatedAt      time.Time `json:"created_at"`
}

func newMappingPayloads(mappings []contacts.ColumnMapping) []mappingPayload {
	payloads := make([]mappingPayload, 0, len(mappings))
	for _, stored := range mappings {
		payloads = append(payloads, mappingPayload{
			ID:             stored.ID,
			OriginalColumn: stored.OriginalColumn,
			MappedField:    stored.MappedField,
			CreatedAt:      stored.CreatedAt,
		})
	}
	return payloads
}

type importPayload struct {
	ContactsCreated int                  `json:"contacts_created"`
	InvalidRows     int                  `json:"invalid_rows"`
	InvalidData     []mapping.InvalidRow `json:"invalid_data"`
}

func newImportPayload(result contacts.ImportResult) importPayload {
	invalid := result.InvalidRows
	if invalid == nil {
		invalid = []mapping.InvalidRow{}
	}
	return importPayload{
		ContactsCreated: result.ContactsCreated,
		InvalidRows:     len(invalid),
		InvalidData:     invalid,
	}
}

type templatePayload struct {
	Fields    []string `json:"fields"`
	Separator string   `json:"separator"`
}

func newTemplatePayload(template geocoding.Template) templatePayload {
	return templatePayload{Fields: template.Fields, Separator: template.JoinWith()}
}
