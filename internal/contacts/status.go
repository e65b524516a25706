package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Status is the lifecycle label derived from a contact's latest activity.
type Status string

const (
	StatusNotContacted Status = "not_contacted"
	StatusInWorking    Status = "in_working"
	StatusDropped      Status = "dropped"
	StatusConverted    Status = "converted"
)

// lookupBatchSize bounds the identifiers bound into one IN clause.
const lookupBatchSize = 900

var statusByResult = map[ActivityResult]Status{
	ActivityResultFollowup: StatusInWorking,
	ActivityResultNo:       StatusDropped,
	ActivityResultLead:     StatusConverted,
}

var resultByStatus = map[Status]ActivityResult{
	StatusInWorking: ActivityResultFollowup,
	StatusDropped:   ActivityResultNo,
	StatusConverted: ActivityResultLead,
}

// AllStatuses lists the status vocabulary in display order.
func AllStatuses() []Status {
	return []Status{StatusNotContacted, StatusInWorking, StatusDropped, StatusConverted}
}

// StatusForResult maps an activity outcome onto the status vocabulary.
func StatusForResult(result ActivityResult) Status {
	if status, ok := statusByResult[result]; ok {
		return status
	}
	return StatusNotContacted
}

// DeriveStatus computes the status from the latest non-deleted activity, or nil when there is none.
func DeriveStatus(latest *Activity) Status {
	if latest == nil {
		return StatusNotContacted
	}
	return StatusForResult(latest.Result)
}

// ParseStatuses reads a comma separated status list. Blank entries are ignored.
func ParseStatuses(raw string) ([]Status, error) {
	statuses := make([]Status, 0)
	seen := make(map[Status]struct{})
	for _, part := range strings.Split(raw, ",") {
		candidate := Status(strings.ToLower(strings.TrimSpace(part)))
		if candidate == "" {
			continue
		}
		if !candidate.valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, candidate)
		}
		if _, duplicate := seen[candidate]; duplicate {
			continue
		}
		seen[candidate] = struct{}{}
		statuses = append(statuses, candidate)
	}
	return statuses, nil
}

func (s Status) valid() bool {
	switch s {
	case StatusNotContacted, StatusInWorking, StatusDropped, StatusConverted:
		return true
	default:
		return false
	}
}

// ContactStatus derives the status of one owned contact.
func (s *Service) ContactStatus(ctx context.Context, ownerID, contactID string) (Status, error) {
	if err := s.ready(opContactStatus); err != nil {
		return "", err
	}
	db := s.db.WithContext(ctx)
	contact, err := ownedContact(db, ownerID, contactID)
	if err != nil {
		return "", s.classify(opContactStatus, err)
	}
	latest, err := latestActivity(db, contact.ID)
	if err != nil {
		return "", s.storeFailure(opContactStatus, reasonQueryFailed, err, zap.String("contact_id", contact.ID))
	}
	return DeriveStatus(latest), nil
}

func latestActivity(db *gorm.DB, contactID string) (*Activity, error) {
	var activity Activity
	err := db.Where("contact_id = ? AND is_deleted = ?", contactID, false).
		Order("created_at DESC, id DESC").
		Take(&activity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &activity, nil
}

const latestResultsQuery = `SELECT contact_id, result FROM (
	SELECT contact_id, result, ROW_NUMBER() OVER (
		PARTITION BY contact_id ORDER BY created_at DESC, id DESC
	) AS position
	FROM activities
	WHERE is_deleted = ? AND contact_id IN ?
) ranked WHERE position = 1`

type latestResultRow struct {
	ContactID string
	Result    ActivityResult
}

// statusesFor derives statuses for many contacts with one windowed query per batch.
func statusesFor(db *gorm.DB, contactIDs []string) (map[string]Status, error) {
	statuses := make(map[string]Status, len(contactIDs))
	for _, id := range contactIDs {
		statuses[id] = StatusNotContacted
	}
	for _, batch := range chunkIDs(contactIDs) {
		var rows []latestResultRow
		if err := db.Raw(latestResultsQuery, false, batch).Scan(&rows).Error; err != nil {
			return nil, err
		}
		for _, row := range rows {
			statuses[row.ContactID] = StatusForResult(row.Result)
		}
	}
	return statuses, nil
}

type activityCountRow struct {
	ContactID string
	Total     int64
}

// activityCountsFor counts non-deleted activities for many contacts with one grouped query per batch.
func activityCountsFor(db *gorm.DB, contactIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(contactIDs))
	for _, batch := range chunkIDs(contactIDs) {
		var rows []activityCountRow
		err := db.Model(&Activity{}).
			Select("contact_id, COUNT(*) AS total").
			Where("is_deleted = ? AND contact_id IN ?", false, batch).
			Group("contact_id").
			Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			counts[row.ContactID] = row.Total
		}
	}
	return counts, nil
}

func chunkIDs(ids []string) [][]string {
	if len(ids) == 0 {
		return nil
	}
	batches := make([][]string, 0, len(ids)/lookupBatchSize+1)
	for start := 0; start < len(ids); start += lookupBatchSize {
		end := start + lookupBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}
