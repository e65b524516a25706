package contacts

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/export"
	"gorm.io/datatypes"
)

func TestNewServiceValidatesConfiguration(t *testing.T) {
	if _, err := NewService(ServiceConfig{IDProvider: &sequentialIDs{}}); err == nil {
		t.Fatalf("expected missing database error")
	}
	_, db := newTestService(t)
	if _, err := NewService(ServiceConfig{Database: db}); err == nil {
		t.Fatalf("expected missing id provider error")
	}
}

func TestCreateListReportsIDFailures(t *testing.T) {
	_, db := newTestService(t)
	service, err := NewService(ServiceConfig{Database: db, IDProvider: failingIDs{}})
	if err != nil {
		t.Fatalf("construct failed: %v", err)
	}
	_, err = service.CreateList(context.Background(), testOwnerID, ListInput{Name: "Leads"})
	if err == nil || !strings.Contains(err.Error(), "contacts.create_list.id_generation_failed") {
		t.Fatalf("expected id generation failure, got %v", err)
	}
}

func TestListLifecycle(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	_, err := service.CreateList(ctx, testOwnerID, ListInput{Name: "   "})
	requireServiceError(t, err, ErrValidation, "contacts.create_list.invalid_input")

	older := mustCreateList(t, service, testOwnerID, "Older")
	newer := mustCreateList(t, service, testOwnerID, "Newer")
	mustCreateList(t, service, testStrangerID, "Foreign")
	if newer.Status != ListStatusProcessing {
		t.Fatalf("expected new lists to start processing, got %s", newer.Status)
	}
	kept := mustSeedContact(t, service, db, older.ID, map[string]any{"name": "kept"})
	removed := mustSeedContact(t, service, db, older.ID, map[string]any{"name": "removed"})
	if err := service.SoftDeleteContact(ctx, testOwnerID, removed.ID); err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}

	summaries, err := service.ListLists(ctx, testOwnerID)
	if err != nil {
		t.Fatalf("list lists failed: %v", err)
	}
	if len(summaries) != 2 || summaries[0].List.ID != newer.ID || summaries[1].ContactCount != 1 {
		t.Fatalf("unexpected summaries %+v", summaries)
	}

	detail, err := service.GetList(ctx, testOwnerID, older.ID)
	if err != nil {
		t.Fatalf("get list failed: %v", err)
	}
	if detail.ContactCount != 1 || len(detail.RecentContacts) != 1 || detail.RecentContacts[0].ID != kept.ID {
		t.Fatalf("unexpected detail %+v", detail)
	}

	renamed := "Renamed"
	updated, err := service.UpdateList(ctx, testOwnerID, older.ID, ListUpdate{Name: &renamed, Metadata: map[string]any{"region": "north"}})
	if err != nil {
		t.Fatalf("update list failed: %v", err)
	}
	if updated.Name != renamed || updated.Metadata["region"] != "north" {
		t.Fatalf("unexpected update %+v", updated)
	}
	_, err = service.UpdateList(ctx, testStrangerID, older.ID, ListUpdate{Name: &renamed})
	requireServiceError(t, err, ErrPermissionDenied, "contacts.update_list.permission_denied")

	if err := service.DeleteList(ctx, testOwnerID, older.ID); err != nil {
		t.Fatalf("delete list failed: %v", err)
	}
	var remaining int64
	if err := db.Model(&Contact{}).Where("list_id = ?", older.ID).Count(&remaining).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected cascade to remove contacts, found %d", remaining)
	}
	_, err = service.GetList(ctx, testOwnerID, older.ID)
	requireServiceError(t, err, ErrNotFound, "contacts.get_list.not_found")
}

func TestPatchListMetadataMergesUnderLock(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	list, err := service.CreateList(ctx, testOwnerID, ListInput{Name: "Leads", Metadata: map[string]any{"keep": "me"}})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	patched, err := service.PatchListMetadata(ctx, list.ID, func(metadata datatypes.JSONMap) error {
		metadata["geocoding_status"] = "processing"
		return nil
	})
	if err != nil {
		t.Fatalf("patch failed: %v", err)
	}
	if patched["keep"] != "me" || patched["geocoding_status"] != "processing" {
		t.Fatalf("unexpected metadata %v", patched)
	}

	stored, err := service.ListByID(ctx, list.ID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if stored.Metadata["geocoding_status"] != "processing" || stored.Metadata["keep"] != "me" {
		t.Fatalf("metadata not persisted: %v", stored.Metadata)
	}
}

func TestSoftDeletedContactStaysFetchable(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	list := mustCreateList(t, service, testOwnerID, "Leads")
	contact := mustSeedContact(t, service, db, list.ID, map[string]any{"name": "Ada"})

	if err := service.SoftDeleteContact(ctx, testOwnerID, contact.ID); err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}

	view, err := service.GetContact(ctx, testOwnerID, contact.ID)
	if err != nil {
		t.Fatalf("get contact failed: %v", err)
	}
	if !view.IsDeleted {
		t.Fatalf("expected fetched contact to carry the deleted flag")
	}

	result, err := service.QueryContacts(ctx, Scope{OwnerID: testOwnerID, ListID: list.ID}, Filter{}, Page{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if result.Total != 0 {
		t.Fatalf("expected soft-deleted contact to be excluded, got %d", result.Total)
	}

	err = service.SoftDeleteContact(ctx, testOwnerID, contact.ID)
	requireServiceError(t, err, ErrNotFound, "contacts.delete_contact.not_found")

	_, err = service.GetContact(ctx, testStrangerID, contact.ID)
	requireServiceError(t, err, ErrPermissionDenied, "contacts.get_contact.permission_denied")
}

func TestUpdateContactDataMergesKeys(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	list := mustCreateList(t, service, testOwnerID, "Leads")
	contact := mustSeedContact(t, service, db, list.ID, map[string]any{"name": "Ada", "city": "London"})

	updated, err := service.UpdateContactData(ctx, testOwnerID, contact.ID, map[string]any{"city": "Turin", "phone": "123"})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(updated.Data, &fields); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if fields["name"] != "Ada" || fields["city"] != "Turin" || fields["phone"] != "123" {
		t.Fatalf("unexpected merged data %v", fields)
	}

	_, err = service.UpdateContactData(ctx, testOwnerID, contact.ID, nil)
	requireServiceError(t, err, ErrValidation, "contacts.update_contact.invalid_input")
}

func TestBulkSoftDeleteAndStats(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	list := mustCreateList(t, service, testOwnerID, "Leads")
	foreign := mustCreateList(t, service, testStrangerID, "Theirs")
	first := mustSeedContact(t, service, db, list.ID, map[string]any{"name": "first"})
	second := mustSeedContact(t, service, db, list.ID, map[string]any{"name": "second"})
	mustSeedContact(t, service, db, list.ID, map[string]any{"name": "third"})
	outsider := mustSeedContact(t, service, db, foreign.ID, map[string]any{"name": "outsider"})
	scope := Scope{OwnerID: testOwnerID, ListID: list.ID}

	deleted, err := service.BulkSoftDelete(ctx, scope, []string{first.ID, second.ID, outsider.ID, " "})
	if err != nil {
		t.Fatalf("bulk delete failed: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deletions, got %d", deleted)
	}
	deleted, err = service.BulkSoftDelete(ctx, scope, []string{first.ID})
	if err != nil {
		t.Fatalf("bulk delete failed: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected already deleted contacts to be skipped, got %d", deleted)
	}

	stats, err := service.ContactStats(ctx, scope)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats != (ContactStats{Total: 3, Active: 1, Deleted: 2}) {
		t.Fatalf("unexpected stats %+v", stats)
	}

	_, err = service.BulkSoftDelete(ctx, scope, nil)
	requireServiceError(t, err, ErrValidation, "contacts.bulk_delete_contacts.invalid_input")
}

func TestPipelineOperations(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	list := mustCreateList(t, service, testOwnerID, "Leads")
	ada := mustSeedContact(t, service, db, list.ID, map[string]any{"name": "Ada", "city": "Turin"})
	mustSeedContact(t, service, db, list.ID, map[string]any{"name": "Grace", "city": "Turin"})
	mustSeedContact(t, service, db, list.ID, map[string]any{"name": "Linus", "city": "Helsinki"})
	scope := Scope{OwnerID: testOwnerID, ListID: list.ID}

	inPipeline, err := service.TogglePipeline(ctx, testOwnerID, ada.ID)
	if err != nil || !inPipeline {
		t.Fatalf("expected toggle on, got %v (%v)", inPipeline, err)
	}

	added, err := service.AddFilteredToPipeline(ctx, scope, Filter{Search: "turin", SearchField: "city"})
	if err != nil {
		t.Fatalf("add filtered failed: %v", err)
	}
	if added != 1 {
		t.Fatalf("expected only the contact outside the pipeline to change, got %d", added)
	}

	cleared, err := service.ClearPipeline(ctx, scope)
	if err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if cleared != 2 {
		t.Fatalf("expected 2 cleared, got %d", cleared)
	}
	cleared, err = service.ClearPipeline(ctx, scope)
	if err != nil {
		t.Fatalf("second clear failed: %v", err)
	}
	if cleared != 0 {
		t.Fatalf("expected second clear to change nothing, got %d", cleared)
	}

	inPipeline, err = service.TogglePipeline(ctx, testOwnerID, ada.ID)
	if err != nil || !inPipeline {
		t.Fatalf("expected toggle on after clear, got %v (%v)", inPipeline, err)
	}
	inPipeline, err = service.TogglePipeline(ctx, testOwnerID, ada.ID)
	if err != nil || inPipeline {
		t.Fatalf("expected toggle off, got %v (%v)", inPipeline, err)
	}

	_, err = service.TogglePipeline(ctx, testStrangerID, ada.ID)
	requireServiceError(t, err, ErrPermissionDenied, "contacts.toggle_pipeline.permission_denied")
	_, err = service.ClearPipeline(ctx, Scope{})
	requireServiceError(t, err, ErrMissingContext, "contacts.clear_pipeline.missing_context")
}

func TestDisplayNameDegradesGracefully(t *testing.T) {
	testCases := []struct {
		name     string
		contact  Contact
		expected string
	}{
		{name: "names", contact: Contact{ID: "abc", Data: []byte(`{"first_name":"Ada","last_name":"Lovelace"}`)}, expected: "Ada Lovelace"},
		{name: "localized", contact: Contact{ID: "abc", Data: []byte(`{"nome":"Mario","cognome":"Rossi"}`)}, expected: "Mario Rossi"},
		{name: "email", contact: Contact{ID: "abc", Data: []byte(`{"email":"ada@example.com"}`)}, expected: "ada@example.com"},
		{name: "empty", contact: Contact{ID: "0123456789", Data: []byte(`{}`)}, expected: "Contact 01234567"},
		{name: "corrupted array", contact: Contact{ID: "0123456789", Data: []byte(`[1,2]`)}, expected: "Contact 01234567"},
		{name: "corrupted text", contact: Contact{ID: "short", Data: []byte(`not json`)}, expected: "Contact short"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if actual := testCase.contact.DisplayName(); actual != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, actual)
			}
		})
	}
}

func TestExportProjectsQueryResult(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	list := mustCreateList(t, service, testOwnerID, "Leads")
	ada := mustSeedContact(t, service, db, list.ID, map[string]any{"name": "Ada", "employees": 12})
	mustSeedContact(t, service, db, list.ID, map[string]any{"name": "Grace"})
	mustAddActivity(t, service, ada.ID, ActivityResultLead)
	if _, err := service.TogglePipeline(ctx, testOwnerID, ada.ID); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}

	var buffer bytes.Buffer
	err := service.Export(ctx, Scope{OwnerID: testOwnerID, ListID: list.ID}, Filter{Ordering: "name"}, export.Options{
		Fields:                 []string{"name", "employees"},
		IncludeStatus:          true,
		IncludeActivitiesCount: true,
		IncludePipeline:        true,
	}, &buffer)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	expected := "name,employees,status,activities_count,in_pipeline\n" +
		"Ada,12,converted,1,Yes\n" +
		"Grace,,not_contacted,0,No\n"
	if buffer.String() != expected {
		t.Fatalf("unexpected export:\n%s", buffer.String())
	}
}
