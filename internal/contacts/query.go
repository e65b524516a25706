package contacts

import (
	"context"
	"strings"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/sqlitefunc"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Scope selects the contacts a query may see. An empty ListID means every list of the owner.
type Scope struct {
	OwnerID string
	ListID  string
}

// Filter narrows and orders a contact query. Every field is optional.
type Filter struct {
	Search      string
	SearchField string
	InPipeline  *bool
	Statuses    []Status
	Ordering    string
}

// Page bounds a result window. A zero Limit returns every row from Offset on.
type Page struct {
	Offset int
	Limit  int
}

// ContactView is a contact decorated with values derived at read time.
type ContactView struct {
	Contact
	Status          Status
	ActivitiesCount int64
}

// QueryResult is one page of contacts with the total size of the filtered set.
type QueryResult struct {
	Contacts []ContactView
	Total    int64
}

const latestResultExpression = `(SELECT latest.result FROM activities latest
	WHERE latest.contact_id = contacts.id AND latest.is_deleted = ?
	ORDER BY latest.created_at DESC, latest.id DESC LIMIT 1)`

const likeEscape = `\`

// QueryContacts runs the filter pipeline and returns the requested page.
func (s *Service) QueryContacts(ctx context.Context, scope Scope, filter Filter, page Page) (QueryResult, error) {
	if err := s.ready(opQueryContacts); err != nil {
		return QueryResult{}, err
	}
	db := s.db.WithContext(ctx)
	contacts, total, err := s.selectContacts(db, scope, filter, page)
	if err != nil {
		return QueryResult{}, s.classify(opQueryContacts, err, zap.String("list_id", scope.ListID))
	}
	views, err := decorate(db, contacts)
	if err != nil {
		return QueryResult{}, s.storeFailure(opQueryContacts, reasonQueryFailed, err, zap.String("list_id", scope.ListID))
	}
	return QueryResult{Contacts: views, Total: total}, nil
}

func (s *Service) selectContacts(db *gorm.DB, scope Scope, filter Filter, page Page) ([]Contact, int64, error) {
	query, err := s.composeContacts(db, scope, filter)
	if err != nil {
		return nil, 0, err
	}

	order := parseOrdering(filter.Ordering)
	if order.builtin {
		var total int64
		if err := query.Count(&total).Error; err != nil {
			return nil, 0, err
		}
		ordered := query.Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Table: "contacts", Name: order.field}, Desc: order.descending},
			{Column: clause.Column{Table: "contacts", Name: "id"}, Desc: order.descending},
		}})
		if page.Offset > 0 {
			ordered = ordered.Offset(page.Offset)
		}
		if page.Limit > 0 {
			ordered = ordered.Limit(page.Limit)
		}
		var contacts []Contact
		if err := ordered.Find(&contacts).Error; err != nil {
			return nil, 0, err
		}
		return contacts, total, nil
	}

	var contacts []Contact
	if err := query.Order("contacts.created_at DESC, contacts.id DESC").Find(&contacts).Error; err != nil {
		return nil, 0, err
	}
	sortByDataField(contacts, order.field, order.descending)
	return paginate(contacts, page), int64(len(contacts)), nil
}

// composeContacts applies, in order: scope, soft-delete exclusion, search, pipeline flag and status.
func (s *Service) composeContacts(db *gorm.DB, scope Scope, filter Filter) (*gorm.DB, error) {
	query, err := scopedContacts(db, scope)
	if err != nil {
		return nil, err
	}

	query = query.Where("contacts.is_deleted = ?", false)

	if term := strings.TrimSpace(filter.Search); term != "" {
		pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
		lower := lowerFunction(db)
		if field := strings.TrimSpace(filter.SearchField); field != "" {
			expression, args := dataFieldText(db, field)
			query = query.Where(lower+"("+expression+") LIKE ? ESCAPE '"+likeEscape+"'", append(args, pattern)...)
		} else {
			query = query.Where(lower+"(CAST(contacts.data AS TEXT)) LIKE ? ESCAPE '"+likeEscape+"'", pattern)
		}
	}

	if filter.InPipeline != nil {
		query = query.Where("contacts.in_pipeline = ?", *filter.InPipeline)
	}

	if len(filter.Statuses) > 0 {
		condition, args := statusCondition(filter.Statuses)
		query = query.Where(condition, args...)
	}

	return query.Session(&gorm.Session{}), nil
}

// scopedContacts restricts the contacts table to one owned list, or to every list of the owner.
func scopedContacts(db *gorm.DB, scope Scope) (*gorm.DB, error) {
	ownerID := strings.TrimSpace(scope.OwnerID)
	if ownerID == "" {
		return nil, ErrMissingContext
	}
	query := db.Model(&Contact{})
	if listID := strings.TrimSpace(scope.ListID); listID != "" {
		list, err := ownedList(db, ownerID, listID)
		if err != nil {
			return nil, err
		}
		return query.Where("contacts.list_id = ?", list.ID), nil
	}
	return query.Where("contacts.list_id IN (?)", ownedListIDs(db, ownerID)), nil
}

// statusCondition expresses a status set as predicates on the correlated latest activity result.
func statusCondition(statuses []Status) (string, []any) {
	results := make([]string, 0, len(statuses))
	includeNotContacted := false
	for _, status := range statuses {
		if status == StatusNotContacted {
			includeNotContacted = true
			continue
		}
		if result, ok := resultByStatus[status]; ok {
			results = append(results, string(result))
		}
	}

	parts := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if len(results) > 0 {
		parts = append(parts, latestResultExpression+" IN ?")
		args = append(args, false, results)
	}
	if includeNotContacted {
		known := []string{string(ActivityResultFollowup), string(ActivityResultNo), string(ActivityResultLead)}
		parts = append(parts, "COALESCE("+latestResultExpression+", '') NOT IN ?")
		args = append(args, false, known)
	}
	if len(parts) == 0 {
		return "1 = 0", nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// dataFieldText returns a SQL expression reading one data key as text for the active dialect.
func dataFieldText(db *gorm.DB, field string) (string, []any) {
	if db.Dialector.Name() == "postgres" {
		return "contacts.data ->> ?", []any{field}
	}
	return "json_extract(contacts.data, ?)", []any{`$."` + strings.ReplaceAll(field, `"`, ``) + `"`}
}

// lowerFunction names a LOWER that folds the same way strings.ToLower does. sqlite's built-in
// LOWER only folds ASCII.
func lowerFunction(db *gorm.DB) string {
	if db.Dialector.Name() == "postgres" {
		return "LOWER"
	}
	return sqlitefunc.Lower
}

func escapeLike(term string) string {
	replacer := strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")
	return replacer.Replace(term)
}

func decorate(db *gorm.DB, contacts []Contact) ([]ContactView, error) {
	ids := make([]string, 0, len(contacts))
	for _, contact := range contacts {
		ids = append(ids, contact.ID)
	}
	statuses, err := statusesFor(db, ids)
	if err != nil {
		return nil, err
	}
	counts, err := activityCountsFor(db, ids)
	if err != nil {
		return nil, err
	}
	views := make([]ContactView, 0, len(contacts))
	for _, contact := range contacts {
		views = append(views, ContactView{
			Contact:         contact,
			Status:          statuses[contact.ID],
			ActivitiesCount: counts[contact.ID],
		})
	}
	return views, nil
}

func paginate(contacts []Contact, page Page) []Contact {
	if page.Offset >= len(contacts) {
		return []Contact{}
	}
	start := page.Offset
	if start < 0 {
		start = 0
	}
	end := len(contacts)
	if page.Limit > 0 && start+page.Limit < end {
		end = start + page.Limit
	}
	return contacts[start:end]
}
