package contacts

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TogglePipeline flips the pipeline flag of one active contact and returns the new value.
func (s *Service) TogglePipeline(ctx context.Context, ownerID, contactID string) (bool, error) {
	if err := s.ready(opTogglePipeline); err != nil {
		return false, err
	}
	var inPipeline bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		contact, err := activeContact(tx.Clauses(clause.Locking{Strength: "UPDATE"}).Session(&gorm.Session{}), ownerID, contactID)
		if err != nil {
			return err
		}
		inPipeline = !contact.InPipeline
		return tx.Model(&Contact{}).
			Where("id = ?", contact.ID).
			UpdateColumns(map[string]any{
				"in_pipeline": inPipeline,
				"updated_at":  s.now(),
			}).Error
	})
	if err != nil {
		return false, s.classify(opTogglePipeline, err, zap.String("contact_id", contactID))
	}
	return inPipeline, nil
}

// AddFilteredToPipeline marks every contact matching the filter and reports how many rows changed.
func (s *Service) AddFilteredToPipeline(ctx context.Context, scope Scope, filter Filter) (int64, error) {
	if err := s.ready(opAddFilteredPipeline); err != nil {
		return 0, err
	}
	db := s.db.WithContext(ctx)
	matched, err := s.composeContacts(db, scope, filter)
	if err != nil {
		return 0, s.classify(opAddFilteredPipeline, err, zap.String("list_id", scope.ListID))
	}
	result := db.Model(&Contact{}).
		Where("id IN (?) AND in_pipeline = ?", matched.Select("contacts.id"), false).
		UpdateColumns(map[string]any{
			"in_pipeline": true,
			"updated_at":  s.now(),
		})
	if result.Error != nil {
		return 0, s.storeFailure(opAddFilteredPipeline, reasonUpdateFailed, result.Error, zap.String("list_id", scope.ListID))
	}
	return result.RowsAffected, nil
}

// ClearPipeline unmarks every pipeline contact in scope. A repeated call reports zero.
func (s *Service) ClearPipeline(ctx context.Context, scope Scope) (int64, error) {
	if err := s.ready(opClearPipeline); err != nil {
		return 0, err
	}
	query, err := scopedContacts(s.db.WithContext(ctx), scope)
	if err != nil {
		return 0, s.classify(opClearPipeline, err, zap.String("list_id", scope.ListID))
	}
	result := query.Where("contacts.in_pipeline = ?", true).UpdateColumns(map[string]any{
		"in_pipeline": false,
		"updated_at":  s.now(),
	})
	if result.Error != nil {
		return 0, s.storeFailure(opClearPipeline, reasonUpdateFailed, result.Error, zap.String("list_id", scope.ListID))
	}
	return result.RowsAffected, nil
}
