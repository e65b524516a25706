package contacts

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ContactStats counts the contacts of a scope by deletion state.
type ContactStats struct {
	Total   int64
	Active  int64
	Deleted int64
}

// GetContact returns one owned contact, soft-deleted or not, with its derived values.
func (s *Service) GetContact(ctx context.Context, ownerID, contactID string) (ContactView, error) {
	if err := s.ready(opGetContact); err != nil {
		return ContactView{}, err
	}
	db := s.db.WithContext(ctx)
	contact, err := ownedContact(db, ownerID, contactID)
	if err != nil {
		return ContactView{}, s.classify(opGetContact, err, zap.String("contact_id", contactID))
	}
	views, err := decorate(db, []Contact{contact})
	if err != nil {
		return ContactView{}, s.storeFailure(opGetContact, reasonQueryFailed, err, zap.String("contact_id", contact.ID))
	}
	return views[0], nil
}

// UpdateContactData merges the given keys into the contact's data document.
func (s *Service) UpdateContactData(ctx context.Context, ownerID, contactID string, patch map[string]any) (Contact, error) {
	if err := s.ready(opUpdateContact); err != nil {
		return Contact{}, err
	}
	if patch == nil {
		return Contact{}, newServiceError(opUpdateContact, reasonInvalidInput, fmt.Errorf("%w: data must be an object", ErrValidation))
	}

	var updated Contact
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		contact, err := activeContact(tx, ownerID, contactID)
		if err != nil {
			return err
		}
		fields, _ := contact.Fields()
		for key, value := range patch {
			fields[key] = value
		}
		encoded, err := encodeData(fields)
		if err != nil {
			return newServiceError(opUpdateContact, reasonEncodeFailed, err)
		}
		now := s.now()
		err = tx.Model(&Contact{}).Where("id = ?", contact.ID).UpdateColumns(map[string]any{
			"data":       encoded,
			"updated_at": now,
		}).Error
		if err != nil {
			return err
		}
		contact.Data = encoded
		contact.UpdatedAt = now
		updated = contact
		return nil
	})
	if err != nil {
		return Contact{}, s.classify(opUpdateContact, err, zap.String("contact_id", contactID))
	}
	return updated, nil
}

// SoftDeleteContact flags one active contact as deleted.
func (s *Service) SoftDeleteContact(ctx context.Context, ownerID, contactID string) error {
	if err := s.ready(opDeleteContact); err != nil {
		return err
	}
	db := s.db.WithContext(ctx)
	contact, err := activeContact(db, ownerID, contactID)
	if err != nil {
		return s.classify(opDeleteContact, err, zap.String("contact_id", contactID))
	}
	err = db.Model(&Contact{}).Where("id = ?", contact.ID).UpdateColumns(map[string]any{
		"is_deleted": true,
		"updated_at": s.now(),
	}).Error
	if err != nil {
		return s.storeFailure(opDeleteContact, reasonUpdateFailed, err, zap.String("contact_id", contact.ID))
	}
	return nil
}

// BulkSoftDelete flags the given contacts as deleted and reports how many were still active.
// Identifiers outside the scope are ignored.
func (s *Service) BulkSoftDelete(ctx context.Context, scope Scope, contactIDs []string) (int64, error) {
	if err := s.ready(opBulkDeleteContacts); err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(contactIDs))
	for _, id := range contactIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	if len(ids) == 0 {
		return 0, newServiceError(opBulkDeleteContacts, reasonInvalidInput, fmt.Errorf("%w: contact ids are required", ErrValidation))
	}

	db := s.db.WithContext(ctx)
	var affected int64
	err := db.Transaction(func(tx *gorm.DB) error {
		now := s.now()
		for _, batch := range chunkIDs(ids) {
			query, err := scopedContacts(tx, scope)
			if err != nil {
				return err
			}
			result := query.
				Where("contacts.id IN ? AND contacts.is_deleted = ?", batch, false).
				UpdateColumns(map[string]any{
					"is_deleted": true,
					"updated_at": now,
				})
			if result.Error != nil {
				return result.Error
			}
			affected += result.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, s.classify(opBulkDeleteContacts, err, zap.String("list_id", scope.ListID))
	}
	return affected, nil
}

type deletionCountRow struct {
	IsDeleted bool
	Total     int64
}

// ContactStats counts active and soft-deleted contacts in scope.
func (s *Service) ContactStats(ctx context.Context, scope Scope) (ContactStats, error) {
	if err := s.ready(opContactStats); err != nil {
		return ContactStats{}, err
	}
	query, err := scopedContacts(s.db.WithContext(ctx), scope)
	if err != nil {
		return ContactStats{}, s.classify(opContactStats, err, zap.String("list_id", scope.ListID))
	}
	var rows []deletionCountRow
	err = query.Select("contacts.is_deleted AS is_deleted, COUNT(*) AS total").
		Group("contacts.is_deleted").
		Scan(&rows).Error
	if err != nil {
		return ContactStats{}, s.storeFailure(opContactStats, reasonQueryFailed, err, zap.String("list_id", scope.ListID))
	}
	var stats ContactStats
	for _, row := range rows {
		if row.IsDeleted {
			stats.Deleted += row.Total
		} else {
			stats.Active += row.Total
		}
	}
	stats.Total = stats.Active + stats.Deleted
	return stats, nil
}
