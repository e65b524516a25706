package contacts

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestDeriveStatus(t *testing.T) {
	testCases := []struct {
		name     string
		latest   *Activity
		expected Status
	}{
		{name: "no activity", latest: nil, expected: StatusNotContacted},
		{name: "followup", latest: &Activity{Result: ActivityResultFollowup}, expected: StatusInWorking},
		{name: "no", latest: &Activity{Result: ActivityResultNo}, expected: StatusDropped},
		{name: "lead", latest: &Activity{Result: ActivityResultLead}, expected: StatusConverted},
		{name: "unknown result", latest: &Activity{Result: "maybe"}, expected: StatusNotContacted},
		{name: "empty result", latest: &Activity{}, expected: StatusNotContacted},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if actual := DeriveStatus(testCase.latest); actual != testCase.expected {
				t.Fatalf("expected %s, got %s", testCase.expected, actual)
			}
		})
	}
}

func TestParseStatuses(t *testing.T) {
	statuses, err := ParseStatuses(" in_working, CONVERTED,,in_working ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(statuses, []Status{StatusInWorking, StatusConverted}) {
		t.Fatalf("unexpected statuses %v", statuses)
	}

	if _, err := ParseStatuses("in_working,archived"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestContactStatusFollowsLatestActiveActivity(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	list := mustCreateList(t, service, testOwnerID, "Leads")
	contact := mustSeedContact(t, service, service.db, list.ID, map[string]any{"name": "Ada"})

	status, err := service.ContactStatus(ctx, testOwnerID, contact.ID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status != StatusNotContacted {
		t.Fatalf("expected not_contacted without activities, got %s", status)
	}

	mustAddActivity(t, service, contact.ID, ActivityResultNo)
	mustAddActivity(t, service, contact.ID, ActivityResultLead)
	latest := mustAddActivity(t, service, contact.ID, ActivityResultFollowup)

	status, err = service.ContactStatus(ctx, testOwnerID, contact.ID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status != StatusInWorking {
		t.Fatalf("expected in_working from the newest activity, got %s", status)
	}

	if err := service.DeleteActivity(ctx, testOwnerID, latest.ID); err != nil {
		t.Fatalf("delete activity failed: %v", err)
	}
	status, err = service.ContactStatus(ctx, testOwnerID, contact.ID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status != StatusConverted {
		t.Fatalf("expected converted once the newest activity is deleted, got %s", status)
	}
}

func TestContactStatusBreaksTimestampTiesByID(t *testing.T) {
	service, db := newTestService(t)
	list := mustCreateList(t, service, testOwnerID, "Leads")
	contact := mustSeedContact(t, service, db, list.ID, map[string]any{"name": "Ada"})

	first := mustAddActivity(t, service, contact.ID, ActivityResultLead)
	second := mustAddActivity(t, service, contact.ID, ActivityResultNo)
	if err := db.Model(&Activity{}).Where("id = ?", second.ID).Update("created_at", first.CreatedAt).Error; err != nil {
		t.Fatalf("failed to align timestamps: %v", err)
	}

	status, err := service.ContactStatus(context.Background(), testOwnerID, contact.ID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status != StatusDropped {
		t.Fatalf("expected the greater id to win the tie, got %s", status)
	}

	statuses, err := statusesFor(db, []string{contact.ID})
	if err != nil {
		t.Fatalf("batch status failed: %v", err)
	}
	if statuses[contact.ID] != StatusDropped {
		t.Fatalf("expected batch lookup to agree, got %s", statuses[contact.ID])
	}
}

func TestStatusFilterMatchesPerContactDerivation(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	list := mustCreateList(t, service, testOwnerID, "Leads")

	histories := [][]ActivityResult{
		nil,
		{ActivityResultFollowup},
		{ActivityResultLead},
		{ActivityResultNo},
		{ActivityResultLead, ActivityResultFollowup},
		{ActivityResultFollowup, ActivityResultLead},
		{ActivityResultFollowup, ActivityResultNo},
		{ActivityResultNo, ActivityResultNo, ActivityResultLead},
	}
	for index, history := range histories {
		contact := mustSeedContact(t, service, db, list.ID, map[string]any{"position": index})
		for _, result := range history {
			mustAddActivity(t, service, contact.ID, result)
		}
	}

	requested := []Status{StatusInWorking, StatusConverted}
	filtered, err := service.QueryContacts(ctx, Scope{OwnerID: testOwnerID, ListID: list.ID}, Filter{Statuses: requested}, Page{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	all, err := service.QueryContacts(ctx, Scope{OwnerID: testOwnerID, ListID: list.ID}, Filter{}, Page{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	expected := make([]string, 0)
	for _, view := range all.Contacts {
		status, err := service.ContactStatus(ctx, testOwnerID, view.ID)
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		if status != view.Status {
			t.Fatalf("decorated status %s disagrees with derived %s", view.Status, status)
		}
		if slices.Contains(requested, status) {
			expected = append(expected, view.ID)
		}
	}

	actual := contactIDs(filtered.Contacts)
	slices.Sort(actual)
	slices.Sort(expected)
	if !slices.Equal(actual, expected) {
		t.Fatalf("filtered set %v differs from derived set %v", actual, expected)
	}
	if len(actual) != 5 || filtered.Total != 5 {
		t.Fatalf("expected 5 matching contacts, got %d (total %d)", len(actual), filtered.Total)
	}

	notContacted, err := service.QueryContacts(ctx, Scope{OwnerID: testOwnerID, ListID: list.ID}, Filter{Statuses: []Status{StatusNotContacted}}, Page{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if notContacted.Total != 1 || notContacted.Contacts[0].ActivitiesCount != 0 {
		t.Fatalf("expected exactly the contact without activities, got %+v", notContacted.Contacts)
	}
}

func TestChunkIDs(t *testing.T) {
	ids := make([]string, lookupBatchSize*2+1)
	batches := chunkIDs(ids)
	if len(batches) != 3 || len(batches[2]) != 1 {
		t.Fatalf("unexpected batching %d", len(batches))
	}
	if chunkIDs(nil) != nil {
		t.Fatalf("expected no batches for no ids")
	}
}
