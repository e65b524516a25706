package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ActivityInput carries the attributes of a new activity.
type ActivityInput struct {
	Type    ActivityType   `validate:"required,oneof=call email visit research"`
	Result  ActivityResult `validate:"required,oneof=no followup lead"`
	Date    *string        `validate:"omitempty,datetime=2006-01-02"`
	Content string         `validate:"max=20000"`
}

// ActivityPatch carries optional activity changes.
type ActivityPatch struct {
	Type    *ActivityType   `validate:"omitempty,oneof=call email visit research"`
	Result  *ActivityResult `validate:"omitempty,oneof=no followup lead"`
	Date    *string         `validate:"omitempty,datetime=2006-01-02"`
	Content *string         `validate:"omitempty,max=20000"`
}

// ActivityFilter narrows an activity listing.
type ActivityFilter struct {
	IncludeDeleted bool
	Type           ActivityType
}

// ActivityView is an activity with the actor's permissions on it.
type ActivityView struct {
	Activity
	CanEdit   bool
	CanDelete bool
}

func viewActivity(activity Activity, actorID string) ActivityView {
	editable := activity.AuthoredBy(actorID) && !activity.IsDeleted
	return ActivityView{Activity: activity, CanEdit: editable, CanDelete: editable}
}

// CreateActivity records an activity authored by actorID on an active contact the actor owns.
func (s *Service) CreateActivity(ctx context.Context, actorID, contactID string, input ActivityInput) (ActivityView, error) {
	if err := s.ready(opCreateActivity); err != nil {
		return ActivityView{}, err
	}
	input.Date = normalizeDate(input.Date)
	if err := s.validate.Struct(input); err != nil {
		return ActivityView{}, newServiceError(opCreateActivity, reasonInvalidInput, fmt.Errorf("%w: %v", ErrValidation, err))
	}

	db := s.db.WithContext(ctx)
	contact, err := activeContact(db, actorID, contactID)
	if err != nil {
		return ActivityView{}, s.classify(opCreateActivity, err, zap.String("contact_id", contactID))
	}
	id, err := s.newID(opCreateActivity)
	if err != nil {
		return ActivityView{}, err
	}
	author := actorID
	now := s.now()
	activity := Activity{
		ID:        id,
		ContactID: contact.ID,
		AuthorID:  &author,
		Type:      input.Type,
		Result:    input.Result,
		Date:      input.Date,
		Content:   input.Content,
		Metadata:  datatypes.JSONMap{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(&activity).Error; err != nil {
		return ActivityView{}, s.storeFailure(opCreateActivity, reasonInsertFailed, err, zap.String("contact_id", contact.ID))
	}
	return viewActivity(activity, actorID), nil
}

// ListActivities returns the activities of an owned contact, newest first.
func (s *Service) ListActivities(ctx context.Context, actorID, contactID string, filter ActivityFilter) ([]ActivityView, error) {
	if err := s.ready(opListActivities); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	contact, err := ownedContact(db, actorID, contactID)
	if err != nil {
		return nil, s.classify(opListActivities, err, zap.String("contact_id", contactID))
	}

	query := db.Where("contact_id = ?", contact.ID)
	if !filter.IncludeDeleted {
		query = query.Where("is_deleted = ?", false)
	}
	if activityType := strings.TrimSpace(string(filter.Type)); activityType != "" {
		query = query.Where("type = ?", activityType)
	}
	var activities []Activity
	if err := query.Order("created_at DESC, id DESC").Find(&activities).Error; err != nil {
		return nil, s.storeFailure(opListActivities, reasonQueryFailed, err, zap.String("contact_id", contact.ID))
	}

	views := make([]ActivityView, 0, len(activities))
	for _, activity := range activities {
		views = append(views, viewActivity(activity, actorID))
	}
	return views, nil
}

// UpdateActivity applies an author's edit and appends the previous values to the edit history.
func (s *Service) UpdateActivity(ctx context.Context, actorID, activityID string, patch ActivityPatch) (ActivityView, error) {
	if err := s.ready(opUpdateActivity); err != nil {
		return ActivityView{}, err
	}
	clearDate := patch.Date != nil && normalizeDate(patch.Date) == nil
	patch.Date = normalizeDate(patch.Date)
	if err := s.validate.Struct(patch); err != nil {
		return ActivityView{}, newServiceError(opUpdateActivity, reasonInvalidInput, fmt.Errorf("%w: %v", ErrValidation, err))
	}

	var updated Activity
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		activity, err := authoredActivity(tx, actorID, activityID)
		if err != nil {
			return err
		}
		now := s.now()
		var previousDate any
		if activity.Date != nil {
			previousDate = *activity.Date
		}
		metadata := cloneMetadata(activity.Metadata)
		metadata[metadataEditHistory] = append(activity.EditHistory(), map[string]any{
			"timestamp": now.Format(time.RFC3339Nano),
			"previous_data": map[string]any{
				"type":    string(activity.Type),
				"result":  string(activity.Result),
				"date":    previousDate,
				"content": activity.Content,
			},
		})

		if patch.Type != nil {
			activity.Type = *patch.Type
		}
		if patch.Result != nil {
			activity.Result = *patch.Result
		}
		switch {
		case clearDate:
			activity.Date = nil
		case patch.Date != nil:
			activity.Date = patch.Date
		}
		if patch.Content != nil {
			activity.Content = *patch.Content
		}
		activity.Metadata = metadata
		activity.IsEdited = true
		activity.UpdatedAt = now

		err = tx.Model(&Activity{}).Where("id = ?", activity.ID).UpdateColumns(map[string]any{
			"type":       activity.Type,
			"result":     activity.Result,
			"date":       activity.Date,
			"content":    activity.Content,
			"metadata":   activity.Metadata,
			"is_edited":  true,
			"updated_at": now,
		}).Error
		if err != nil {
			return err
		}
		updated = activity
		return nil
	})
	if err != nil {
		return ActivityView{}, s.classify(opUpdateActivity, err, zap.String("activity_id", activityID))
	}
	return viewActivity(updated, actorID), nil
}

// DeleteActivity soft-deletes an activity written by the actor.
func (s *Service) DeleteActivity(ctx context.Context, actorID, activityID string) error {
	if err := s.ready(opDeleteActivity); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		activity, err := authoredActivity(tx, actorID, activityID)
		if err != nil {
			return err
		}
		return tx.Model(&Activity{}).Where("id = ?", activity.ID).UpdateColumns(map[string]any{
			"is_deleted": true,
			"updated_at": s.now(),
		}).Error
	})
	if err != nil {
		return s.classify(opDeleteActivity, err, zap.String("activity_id", activityID))
	}
	return nil
}

// authoredActivity loads an activity the actor may change: owned through its contact,
// written by the actor and not yet deleted.
func authoredActivity(tx *gorm.DB, actorID, activityID string) (Activity, error) {
	if strings.TrimSpace(actorID) == "" {
		return Activity{}, ErrMissingContext
	}
	var activity Activity
	err := tx.Where("id = ?", strings.TrimSpace(activityID)).Take(&activity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Activity{}, ErrNotFound
	}
	if err != nil {
		return Activity{}, err
	}
	if _, err := ownedContact(tx, actorID, activity.ContactID); err != nil {
		return Activity{}, err
	}
	if !activity.AuthoredBy(actorID) {
		return Activity{}, ErrPermissionDenied
	}
	if activity.IsDeleted {
		return Activity{}, ErrConflictingEdit
	}
	return activity, nil
}

func normalizeDate(date *string) *string {
	if date == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*date)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
