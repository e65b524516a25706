package contacts

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const corruptionScanBatchSize = 500

// CorruptedContacts scans every contact and returns those whose data is not a JSON object.
func (s *Service) CorruptedContacts(ctx context.Context) ([]Contact, error) {
	if err := s.ready(opCorruptedContacts); err != nil {
		return nil, err
	}
	corrupted := make([]Contact, 0)
	var batch []Contact
	result := s.db.WithContext(ctx).
		FindInBatches(&batch, corruptionScanBatchSize, func(tx *gorm.DB, _ int) error {
			for _, contact := range batch {
				if contact.Corrupted() {
					corrupted = append(corrupted, contact)
				}
			}
			return nil
		})
	if result.Error != nil {
		return nil, s.storeFailure(opCorruptedContacts, reasonQueryFailed, result.Error)
	}
	return corrupted, nil
}

// PurgeContacts physically removes contacts and their activities. Administrative tooling only.
func (s *Service) PurgeContacts(ctx context.Context, contactIDs []string) (int64, error) {
	if err := s.ready(opPurgeContacts); err != nil {
		return 0, err
	}
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, batch := range chunkIDs(contactIDs) {
			if err := tx.Where("contact_id IN ?", batch).Delete(&Activity{}).Error; err != nil {
				return err
			}
			result := tx.Where("id IN ?", batch).Delete(&Contact{})
			if result.Error != nil {
				return result.Error
			}
			removed += result.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, s.storeFailure(opPurgeContacts, reasonDeleteFailed, err, zap.Int("contacts", len(contactIDs)))
	}
	return removed, nil
}
