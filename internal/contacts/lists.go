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

const recentContactsLimit = 10

// ListSummary is a list together with its count of non-deleted contacts.
type ListSummary struct {
	List         ContactList
	ContactCount int64
}

// ListDetail extends ListSummary with the most recent contacts.
type ListDetail struct {
	ListSummary
	RecentContacts []Contact
}

// ListInput carries the user-editable list attributes.
type ListInput struct {
	Name     string         `validate:"required,max=255"`
	Metadata map[string]any `validate:"-"`
}

// ListUpdate carries optional list attribute changes. Metadata keys are merged.
type ListUpdate struct {
	Name     *string        `validate:"omitempty,min=1,max=255"`
	Metadata map[string]any `validate:"-"`
}

// CreateList creates an empty list owned by ownerID.
func (s *Service) CreateList(ctx context.Context, ownerID string, input ListInput) (ContactList, error) {
	if err := s.ready(opCreateList); err != nil {
		return ContactList{}, err
	}
	if strings.TrimSpace(ownerID) == "" {
		return ContactList{}, newServiceError(opCreateList, reasonMissingContext, ErrMissingContext)
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validate.Struct(input); err != nil {
		return ContactList{}, newServiceError(opCreateList, reasonInvalidInput, fmt.Errorf("%w: %v", ErrValidation, err))
	}

	id, err := s.newID(opCreateList)
	if err != nil {
		return ContactList{}, err
	}
	metadata := datatypes.JSONMap{}
	for key, value := range input.Metadata {
		metadata[key] = value
	}
	now := s.now()
	list := ContactList{
		ID:        id,
		OwnerID:   ownerID,
		Name:      input.Name,
		Status:    ListStatusProcessing,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&list).Error; err != nil {
		return ContactList{}, s.storeFailure(opCreateList, reasonInsertFailed, err, zap.String("owner_id", ownerID))
	}
	return list, nil
}

// ListLists returns the owner's lists, newest first.
func (s *Service) ListLists(ctx context.Context, ownerID string) ([]ListSummary, error) {
	if err := s.ready(opListLists); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ownerID) == "" {
		return nil, newServiceError(opListLists, reasonMissingContext, ErrMissingContext)
	}

	db := s.db.WithContext(ctx)
	var lists []ContactList
	if err := db.Where("owner_id = ?", ownerID).Order("created_at DESC, id DESC").Find(&lists).Error; err != nil {
		return nil, s.storeFailure(opListLists, reasonQueryFailed, err, zap.String("owner_id", ownerID))
	}

	listIDs := make([]string, 0, len(lists))
	for _, list := range lists {
		listIDs = append(listIDs, list.ID)
	}
	counts, err := contactCountsByList(db, listIDs)
	if err != nil {
		return nil, s.storeFailure(opListLists, reasonQueryFailed, err, zap.String("owner_id", ownerID))
	}

	summaries := make([]ListSummary, 0, len(lists))
	for _, list := range lists {
		summaries = append(summaries, ListSummary{List: list, ContactCount: counts[list.ID]})
	}
	return summaries, nil
}

// GetList returns one owned list with its contact count and recent contacts.
func (s *Service) GetList(ctx context.Context, ownerID, listID string) (ListDetail, error) {
	if err := s.ready(opGetList); err != nil {
		return ListDetail{}, err
	}
	db := s.db.WithContext(ctx)
	list, err := ownedList(db, ownerID, listID)
	if err != nil {
		return ListDetail{}, s.classify(opGetList, err)
	}

	counts, err := contactCountsByList(db, []string{list.ID})
	if err != nil {
		return ListDetail{}, s.storeFailure(opGetList, reasonQueryFailed, err, zap.String("list_id", list.ID))
	}
	var recent []Contact
	err = db.Where("list_id = ? AND is_deleted = ?", list.ID, false).
		Order("created_at DESC, id DESC").
		Limit(recentContactsLimit).
		Find(&recent).Error
	if err != nil {
		return ListDetail{}, s.storeFailure(opGetList, reasonQueryFailed, err, zap.String("list_id", list.ID))
	}

	return ListDetail{
		ListSummary:    ListSummary{List: list, ContactCount: counts[list.ID]},
		RecentContacts: recent,
	}, nil
}

// UpdateList renames a list and merges metadata keys under the list row lock.
func (s *Service) UpdateList(ctx context.Context, ownerID, listID string, update ListUpdate) (ContactList, error) {
	if err := s.ready(opUpdateList); err != nil {
		return ContactList{}, err
	}
	if update.Name != nil {
		trimmed := strings.TrimSpace(*update.Name)
		update.Name = &trimmed
	}
	if err := s.validate.Struct(update); err != nil {
		return ContactList{}, newServiceError(opUpdateList, reasonInvalidInput, fmt.Errorf("%w: %v", ErrValidation, err))
	}

	var updated ContactList
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		list, err := lockedList(tx, listID)
		if err != nil {
			return err
		}
		if list.OwnerID != ownerID {
			return ErrPermissionDenied
		}
		metadata := cloneMetadata(list.Metadata)
		for key, value := range update.Metadata {
			metadata[key] = value
		}
		now := s.now()
		changes := map[string]any{
			"metadata":   metadata,
			"updated_at": now,
		}
		if update.Name != nil {
			changes["name"] = *update.Name
			list.Name = *update.Name
		}
		if err := tx.Model(&ContactList{}).Where("id = ?", list.ID).Updates(changes).Error; err != nil {
			return err
		}
		list.Metadata = metadata
		list.UpdatedAt = now
		updated = list
		return nil
	})
	if err != nil {
		return ContactList{}, s.classify(opUpdateList, err, zap.String("list_id", listID))
	}
	return updated, nil
}

// DeleteList removes a list with its contacts, activities, mappings and stored upload.
func (s *Service) DeleteList(ctx context.Context, ownerID, listID string) error {
	if err := s.ready(opDeleteList); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		list, err := ownedList(tx, ownerID, listID)
		if err != nil {
			return err
		}
		return purgeList(tx, list.ID)
	})
	if err != nil {
		return s.classify(opDeleteList, err, zap.String("list_id", listID))
	}
	return nil
}

func purgeList(tx *gorm.DB, listID string) error {
	if err := deleteListContacts(tx, listID); err != nil {
		return err
	}
	if err := tx.Where("list_id = ?", listID).Delete(&ColumnMapping{}).Error; err != nil {
		return err
	}
	if err := tx.Where("list_id = ?", listID).Delete(&UploadedFile{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", listID).Delete(&ContactList{}).Error
}

func deleteListContacts(tx *gorm.DB, listID string) error {
	contactIDs := tx.Session(&gorm.Session{NewDB: true}).Model(&Contact{}).Select("id").Where("list_id = ?", listID)
	if err := tx.Where("contact_id IN (?)", contactIDs).Delete(&Activity{}).Error; err != nil {
		return err
	}
	return tx.Where("list_id = ?", listID).Delete(&Contact{}).Error
}

// ListByID loads a list without an ownership check. Background jobs use it.
func (s *Service) ListByID(ctx context.Context, listID string) (ContactList, error) {
	if err := s.ready(opGetList); err != nil {
		return ContactList{}, err
	}
	var list ContactList
	err := s.db.WithContext(ctx).Where("id = ?", listID).Take(&list).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ContactList{}, newServiceError(opGetList, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		return ContactList{}, s.storeFailure(opGetList, reasonQueryFailed, err, zap.String("list_id", listID))
	}
	return list, nil
}

// OwnedList loads a list the owner holds.
func (s *Service) OwnedList(ctx context.Context, ownerID, listID string) (ContactList, error) {
	if err := s.ready(opGetList); err != nil {
		return ContactList{}, err
	}
	list, err := ownedList(s.db.WithContext(ctx), ownerID, listID)
	if err != nil {
		return ContactList{}, s.classify(opGetList, err)
	}
	return list, nil
}

// MetadataMutator edits a metadata copy in place.
type MetadataMutator func(metadata datatypes.JSONMap) error

// PatchListMetadata applies a read-modify-write to list metadata while holding the list row lock.
func (s *Service) PatchListMetadata(ctx context.Context, listID string, mutate MetadataMutator) (datatypes.JSONMap, error) {
	if err := s.ready(opPatchListMetadata); err != nil {
		return nil, err
	}
	var patched datatypes.JSONMap
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		list, err := lockedList(tx, listID)
		if err != nil {
			return err
		}
		metadata := cloneMetadata(list.Metadata)
		if err := mutate(metadata); err != nil {
			return err
		}
		err = tx.Model(&ContactList{}).Where("id = ?", list.ID).Updates(map[string]any{
			"metadata":   metadata,
			"updated_at": s.now(),
		}).Error
		if err != nil {
			return err
		}
		patched = metadata
		return nil
	})
	if err != nil {
		return nil, s.classify(opPatchListMetadata, err, zap.String("list_id", listID))
	}
	return patched, nil
}

// setListStatus records an import outcome together with metadata changes.
func (s *Service) setListStatus(ctx context.Context, listID string, status ListStatus, changes map[string]any) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		list, err := lockedList(tx, listID)
		if err != nil {
			return err
		}
		metadata := cloneMetadata(list.Metadata)
		for key, value := range changes {
			if value == nil {
				delete(metadata, key)
				continue
			}
			metadata[key] = value
		}
		return tx.Model(&ContactList{}).Where("id = ?", list.ID).Updates(map[string]any{
			"status":     status,
			"metadata":   metadata,
			"updated_at": s.now(),
		}).Error
	})
	if err != nil {
		return s.classify(opSetListStatus, err, zap.String("list_id", listID))
	}
	return nil
}

func lockedList(tx *gorm.DB, listID string) (ContactList, error) {
	var list ContactList
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", strings.TrimSpace(listID)).
		Take(&list).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ContactList{}, ErrNotFound
	}
	return list, err
}

func cloneMetadata(source datatypes.JSONMap) datatypes.JSONMap {
	clone := make(datatypes.JSONMap, len(source))
	for key, value := range source {
		clone[key] = value
	}
	return clone
}

type listCountRow struct {
	ListID string
	Total  int64
}

func contactCountsByList(db *gorm.DB, listIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(listIDs))
	if len(listIDs) == 0 {
		return counts, nil
	}
	var rows []listCountRow
	err := db.Model(&Contact{}).
		Select("list_id, COUNT(*) AS total").
		Where("list_id IN ? AND is_deleted = ?", listIDs, false).
		Group("list_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.ListID] = row.Total
	}
	return counts, nil
}
