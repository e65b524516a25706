package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/ingest"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/mapping"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 500

// UploadPreview describes a stored upload and its first rows.
type UploadPreview struct {
	FileName  string
	FileSize  int64
	Headers   []string
	Rows      []ingest.Record
	TotalRows int
}

// ImportResult reports the outcome of turning a file into contacts.
type ImportResult struct {
	ContactsCreated int
	InvalidRows     []mapping.InvalidRow
}

// UploadFile validates, previews and stores a file for a later import.
func (s *Service) UploadFile(ctx context.Context, ownerID, listID, fileName string, content []byte) (UploadPreview, error) {
	if err := s.ready(opUploadFile); err != nil {
		return UploadPreview{}, err
	}
	db := s.db.WithContext(ctx)
	list, err := ownedList(db, ownerID, listID)
	if err != nil {
		return UploadPreview{}, s.classify(opUploadFile, err)
	}

	format, err := ingest.ValidateUpload(fileName, int64(len(content)), s.maxUploadBytes)
	if err != nil {
		return UploadPreview{}, s.classify(opUploadFile, err)
	}
	table, err := ingest.Preview(content, format, ingest.DefaultPreviewRows)
	if err != nil {
		s.markImportFailed(ctx, list.ID, err)
		return UploadPreview{}, s.classify(opUploadFile, err)
	}

	preview := UploadPreview{
		FileName:  fileName,
		FileSize:  int64(len(content)),
		Headers:   table.Headers,
		Rows:      table.Rows,
		TotalRows: table.TotalRows,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		upload := UploadedFile{
			ListID:     list.ID,
			FileName:   fileName,
			Format:     string(format),
			SizeBytes:  preview.FileSize,
			Content:    content,
			UploadedAt: s.now(),
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&upload).Error; err != nil {
			return err
		}
		locked, err := lockedList(tx, list.ID)
		if err != nil {
			return err
		}
		metadata := cloneMetadata(locked.Metadata)
		metadata[MetadataFileName] = fileName
		metadata[MetadataFileSize] = preview.FileSize
		metadata[MetadataTotalRows] = preview.TotalRows
		metadata[MetadataColumns] = preview.Headers
		return tx.Model(&ContactList{}).Where("id = ?", list.ID).Updates(map[string]any{
			"metadata":   metadata,
			"updated_at": s.now(),
		}).Error
	})
	if err != nil {
		return UploadPreview{}, s.classify(opUploadFile, err, zap.String("list_id", list.ID))
	}
	return preview, nil
}

// SaveMappings stores the resolved directives, replacing earlier choices for the same columns.
func (s *Service) SaveMappings(ctx context.Context, ownerID, listID string, directives []mapping.Directive) ([]ColumnMapping, error) {
	if err := s.ready(opSaveMappings); err != nil {
		return nil, err
	}
	if err := s.validate.Var(directives, "required,min=1,dive"); err != nil {
		return nil, newServiceError(opSaveMappings, reasonInvalidInput, fmt.Errorf("%w: %v", ErrValidation, err))
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		list, err := ownedList(tx, ownerID, listID)
		if err != nil {
			return err
		}
		return s.upsertMappings(tx, list.ID, directives)
	})
	if err != nil {
		return nil, s.classify(opSaveMappings, err, zap.String("list_id", listID))
	}
	return s.ListMappings(ctx, ownerID, listID)
}

// ListMappings returns the stored mappings of a list ordered by original column.
func (s *Service) ListMappings(ctx context.Context, ownerID, listID string) ([]ColumnMapping, error) {
	if err := s.ready(opListMappings); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	list, err := ownedList(db, ownerID, listID)
	if err != nil {
		return nil, s.classify(opListMappings, err)
	}
	var mappings []ColumnMapping
	if err := db.Where("list_id = ?", list.ID).Order("original_column ASC").Find(&mappings).Error; err != nil {
		return nil, s.storeFailure(opListMappings, reasonQueryFailed, err, zap.String("list_id", list.ID))
	}
	return mappings, nil
}

// DeleteMapping removes one stored mapping from a list.
func (s *Service) DeleteMapping(ctx context.Context, ownerID, listID, mappingID string) error {
	if err := s.ready(opDeleteMapping); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		list, err := ownedList(tx, ownerID, listID)
		if err != nil {
			return err
		}
		result := tx.Where("id = ? AND list_id = ?", mappingID, list.ID).Delete(&ColumnMapping{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return s.classify(opDeleteMapping, err, zap.String("list_id", listID))
	}
	return nil
}

// ImportList replaces the contacts of a list with the rows of its stored upload.
func (s *Service) ImportList(ctx context.Context, ownerID, listID string) (ImportResult, error) {
	if err := s.ready(opImportList); err != nil {
		return ImportResult{}, err
	}
	db := s.db.WithContext(ctx)
	list, err := ownedList(db, ownerID, listID)
	if err != nil {
		return ImportResult{}, s.classify(opImportList, err)
	}

	var upload UploadedFile
	err = db.Where("list_id = ?", list.ID).Take(&upload).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ImportResult{}, newServiceError(opImportList, reasonInvalidState, fmt.Errorf("%w: no uploaded file", ErrInvalidState))
	}
	if err != nil {
		return ImportResult{}, s.storeFailure(opImportList, reasonQueryFailed, err, zap.String("list_id", list.ID))
	}

	table, err := ingest.Parse(upload.Content, ingest.Format(upload.Format))
	if err != nil {
		s.markImportFailed(ctx, list.ID, err)
		return ImportResult{}, s.classify(opImportList, err, zap.String("list_id", list.ID))
	}

	stored, err := storedMapping(db, list.ID)
	if err != nil {
		return ImportResult{}, s.storeFailure(opImportList, reasonQueryFailed, err, zap.String("list_id", list.ID))
	}
	validation := mapping.Validate(stored.Apply(table.Headers, table.Rows), mapping.Options{StrictEmail: s.strictEmail})

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := deleteListContacts(tx, list.ID); err != nil {
			return err
		}
		if err := s.insertContacts(tx, list.ID, validation.Valid); err != nil {
			return err
		}
		return s.completeImport(tx, list.ID, stored.Headers(table.Headers), len(validation.Invalid))
	})
	if err != nil {
		s.markImportFailed(ctx, list.ID, err)
		return ImportResult{}, s.classify(opImportList, err, zap.String("list_id", list.ID))
	}

	return ImportResult{ContactsCreated: len(validation.Valid), InvalidRows: validation.Invalid}, nil
}

// ProcessFile parses, maps and validates a file in one step and appends the valid rows as contacts.
func (s *Service) ProcessFile(ctx context.Context, ownerID, listID, fileName string, content []byte, directives []mapping.Directive) (ImportResult, error) {
	if err := s.ready(opProcessFile); err != nil {
		return ImportResult{}, err
	}
	if err := s.validate.Var(directives, "dive"); err != nil {
		return ImportResult{}, newServiceError(opProcessFile, reasonInvalidInput, fmt.Errorf("%w: %v", ErrValidation, err))
	}
	db := s.db.WithContext(ctx)
	list, err := ownedList(db, ownerID, listID)
	if err != nil {
		return ImportResult{}, s.classify(opProcessFile, err)
	}

	format, err := ingest.ValidateUpload(fileName, int64(len(content)), s.maxUploadBytes)
	if err != nil {
		return ImportResult{}, s.classify(opProcessFile, err)
	}
	table, err := ingest.Parse(content, format)
	if err != nil {
		s.markImportFailed(ctx, list.ID, err)
		return ImportResult{}, s.classify(opProcessFile, err, zap.String("list_id", list.ID))
	}

	resolved := mapping.Resolve(directives)
	validation := mapping.Validate(resolved.Apply(table.Headers, table.Rows), mapping.Options{StrictEmail: s.strictEmail})

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := s.insertContacts(tx, list.ID, validation.Valid); err != nil {
			return err
		}
		if len(directives) > 0 {
			if err := s.upsertMappings(tx, list.ID, directives); err != nil {
				return err
			}
		}
		return s.completeImport(tx, list.ID, resolved.Headers(table.Headers), len(validation.Invalid))
	})
	if err != nil {
		s.markImportFailed(ctx, list.ID, err)
		return ImportResult{}, s.classify(opProcessFile, err, zap.String("list_id", list.ID))
	}

	return ImportResult{ContactsCreated: len(validation.Valid), InvalidRows: validation.Invalid}, nil
}

func (s *Service) insertContacts(tx *gorm.DB, listID string, records []ingest.Record) error {
	if len(records) == 0 {
		return nil
	}
	now := s.now()
	contacts := make([]Contact, 0, len(records))
	for _, record := range records {
		id, err := s.idProvider.NewID()
		if err != nil {
			return err
		}
		data, err := encodeData(map[string]any(record))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		contacts = append(contacts, Contact{
			ID:        id,
			ListID:    listID,
			Data:      data,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return tx.CreateInBatches(&contacts, insertBatchSize).Error
}

func (s *Service) upsertMappings(tx *gorm.DB, listID string, directives []mapping.Directive) error {
	resolved := mapping.Resolve(directives)
	seen := make(map[string]struct{}, len(directives))
	for _, directive := range directives {
		field, ok := resolved[directive.OriginalColumn]
		if !ok {
			continue
		}
		if _, duplicate := seen[directive.OriginalColumn]; duplicate {
			continue
		}
		seen[directive.OriginalColumn] = struct{}{}

		id, err := s.idProvider.NewID()
		if err != nil {
			return err
		}
		record := ColumnMapping{
			ID:             id,
			ListID:         listID,
			OriginalColumn: directive.OriginalColumn,
			MappedField:    field,
			CreatedAt:      s.now(),
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "list_id"}, {Name: "original_column"}},
			DoUpdates: clause.AssignmentColumns([]string{"mapped_field"}),
		}).Create(&record).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) completeImport(tx *gorm.DB, listID string, columns []string, invalidRows int) error {
	list, err := lockedList(tx, listID)
	if err != nil {
		return err
	}
	var total int64
	if err := tx.Model(&Contact{}).Where("list_id = ? AND is_deleted = ?", listID, false).Count(&total).Error; err != nil {
		return err
	}
	metadata := cloneMetadata(list.Metadata)
	metadata[MetadataTotalContacts] = total
	metadata[MetadataLastImport] = s.now().Format(time.RFC3339)
	metadata[MetadataInvalidRows] = invalidRows
	metadata[MetadataColumns] = columns
	delete(metadata, MetadataImportError)
	return tx.Model(&ContactList{}).Where("id = ?", listID).Updates(map[string]any{
		"status":     ListStatusCompleted,
		"metadata":   metadata,
		"updated_at": s.now(),
	}).Error
}

func (s *Service) markImportFailed(ctx context.Context, listID string, cause error) {
	err := s.setListStatus(ctx, listID, ListStatusFailed, map[string]any{
		MetadataImportError: cause.Error(),
	})
	if err != nil {
		s.logError(opSetListStatus, reasonUpdateFailed, err, zap.String("list_id", listID))
	}
}

func storedMapping(db *gorm.DB, listID string) (mapping.Mapping, error) {
	var mappings []ColumnMapping
	if err := db.Where("list_id = ?", listID).Find(&mappings).Error; err != nil {
		return nil, err
	}
	resolved := make(mapping.Mapping, len(mappings))
	for _, stored := range mappings {
		if strings.TrimSpace(stored.OriginalColumn) == "" {
			continue
		}
		resolved[stored.OriginalColumn] = stored.MappedField
	}
	return resolved, nil
}
