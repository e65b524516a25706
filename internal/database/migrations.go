package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/contacts"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const migrationBackfillEmptyMetadata = "2024-03-01_backfill_empty_metadata"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillEmptyMetadata, apply: backfillEmptyMetadata},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillEmptyMetadata gives lists and activities without metadata an empty object so
// metadata merges always start from a document.
func backfillEmptyMetadata(db *gorm.DB) error {
	empty := datatypes.JSONMap{}
	if err := db.Model(&contacts.ContactList{}).Where("metadata IS NULL").Update("metadata", empty).Error; err != nil {
		return err
	}
	return db.Model(&contacts.Activity{}).Where("metadata IS NULL").Update("metadata", empty).Error
}
