package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CoordinateKey is the data key whose presence marks a contact as already geocoded.
const CoordinateKey = "latitude"

// GeocodingTargets returns the active contacts of a list that still need coordinates, oldest first.
// With force every active contact is returned. Skipped counts active contacts left out because
// they already carry coordinates.
func (s *Service) GeocodingTargets(ctx context.Context, listID string, force bool) (targets []Contact, skipped int64, err error) {
	if err := s.ready(opGeocodingTargets); err != nil {
		return nil, 0, err
	}
	db := s.db.WithContext(ctx)
	active := db.Model(&Contact{}).
		Where("list_id = ? AND is_deleted = ?", strings.TrimSpace(listID), false).
		Session(&gorm.Session{})
	hasCoordinates := datatypes.JSONQuery("data").HasKey(CoordinateKey)

	query := active
	if !force {
		if err := active.Where(hasCoordinates).Count(&skipped).Error; err != nil {
			return nil, 0, s.storeFailure(opGeocodingTargets, reasonQueryFailed, err, zap.String("list_id", listID))
		}
		query = active.Not(hasCoordinates)
	}
	if err := query.Order("created_at ASC, id ASC").Find(&targets).Error; err != nil {
		return nil, 0, s.storeFailure(opGeocodingTargets, reasonQueryFailed, err, zap.String("list_id", listID))
	}
	return targets, skipped, nil
}

// PatchContactData sets and removes data keys of one contact under its row lock.
func (s *Service) PatchContactData(ctx context.Context, contactID string, set map[string]any, unset ...string) error {
	if err := s.ready(opPatchContactData); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var contact Contact
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", strings.TrimSpace(contactID)).
			Take(&contact).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		fields, ok := contact.Fields()
		if !ok {
			return fmt.Errorf("%w: contact data is not an object", ErrValidation)
		}
		for _, key := range unset {
			delete(fields, key)
		}
		for key, value := range set {
			fields[key] = value
		}
		encoded, err := encodeData(fields)
		if err != nil {
			return err
		}
		return tx.Model(&Contact{}).Where("id = ?", contact.ID).UpdateColumns(map[string]any{
			"data":       encoded,
			"updated_at": s.now(),
		}).Error
	})
	if err != nil {
		return s.classify(opPatchContactData, err, zap.String("contact_id", contactID))
	}
	return nil
}
