package contacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const (
	testOwnerID    = "owner-1"
	testStrangerID = "owner-2"
)

type sequentialIDs struct {
	mu   sync.Mutex
	next int
}

func (g *sequentialIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("id-%06d", g.next), nil
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) {
	return "", errors.New("entropy exhausted")
}

// steppingClock advances one second on every reading.
type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{current: time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "contacts.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      newSteppingClock().Now,
		IDProvider: &sequentialIDs{},
	})
	if err != nil {
		t.Fatalf("failed to construct contacts service: %v", err)
	}
	return service, db
}

func mustCreateList(t *testing.T, service *Service, ownerID, name string) ContactList {
	t.Helper()
	list, err := service.CreateList(context.Background(), ownerID, ListInput{Name: name})
	if err != nil {
		t.Fatalf("failed to create list: %v", err)
	}
	return list
}

func mustSeedContact(t *testing.T, service *Service, db *gorm.DB, listID string, fields map[string]any) Contact {
	t.Helper()
	id, err := service.idProvider.NewID()
	if err != nil {
		t.Fatalf("failed to generate id: %v", err)
	}
	data, err := encodeData(fields)
	if err != nil {
		t.Fatalf("failed to encode data: %v", err)
	}
	now := service.now()
	contact := Contact{ID: id, ListID: listID, Data: data, CreatedAt: now, UpdatedAt: now}
	if err := db.Create(&contact).Error; err != nil {
		t.Fatalf("failed to seed contact: %v", err)
	}
	return contact
}

func mustAddActivity(t *testing.T, service *Service, contactID string, result ActivityResult) ActivityView {
	t.Helper()
	view, err := service.CreateActivity(context.Background(), testOwnerID, contactID, ActivityInput{
		Type:   ActivityTypeCall,
		Result: result,
	})
	if err != nil {
		t.Fatalf("failed to add activity: %v", err)
	}
	return view
}

func contactIDs(views []ContactView) []string {
	ids := make([]string, 0, len(views))
	for _, view := range views {
		ids = append(ids, view.ID)
	}
	return ids
}

func fieldValues(t *testing.T, views []ContactView, field string) []any {
	t.Helper()
	values := make([]any, 0, len(views))
	for _, view := range views {
		var fields map[string]any
		if err := json.Unmarshal(view.Data, &fields); err != nil {
			t.Fatalf("failed to decode contact data: %v", err)
		}
		values = append(values, fields[field])
	}
	return values
}

func requireServiceError(t *testing.T, err error, sentinel error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v, got nil", sentinel)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected %v, got %v", sentinel, err)
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected ServiceError, got %T", err)
	}
	if code != "" && serviceErr.Code() != code {
		t.Fatalf("expected code %q, got %q", code, serviceErr.Code())
	}
}
