package contacts

import (
	"cmp"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

const (
	defaultOrderingField = "created_at"
	descendingMarker     = "-"
)

// numericPattern decides which data values sort numerically.
var numericPattern = regexp.MustCompile(`^-?[0-9]+\.?[0-9]*$`)

var builtinOrderingColumns = map[string]struct{}{
	"created_at": {},
	"updated_at": {},
}

type ordering struct {
	field      string
	descending bool
	builtin    bool
}

func parseOrdering(raw string) ordering {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == descendingMarker {
		return ordering{field: defaultOrderingField, descending: true, builtin: true}
	}
	descending := strings.HasPrefix(trimmed, descendingMarker)
	field := strings.TrimPrefix(trimmed, descendingMarker)
	_, builtin := builtinOrderingColumns[field]
	return ordering{field: field, descending: descending, builtin: builtin}
}

const (
	tierNumeric = iota
	tierText
	tierMissing
)

type sortKey struct {
	tier   int
	number float64
	text   string
}

func dataSortKey(contact Contact, field string) sortKey {
	fields, _ := contact.Fields()
	text, ok := TextValue(fields[field])
	if !ok {
		return sortKey{tier: tierMissing}
	}
	if numericPattern.MatchString(text) {
		if number, err := strconv.ParseFloat(text, 64); err == nil {
			return sortKey{tier: tierNumeric, number: number, text: text}
		}
	}
	return sortKey{tier: tierText, text: text}
}

// compareSortKeys orders numeric values before text and missing values last in either direction.
func compareSortKeys(left, right sortKey, descending bool) int {
	if left.tier != right.tier {
		return cmp.Compare(left.tier, right.tier)
	}
	var result int
	switch left.tier {
	case tierNumeric:
		result = cmp.Compare(left.number, right.number)
	case tierText:
		result = strings.Compare(left.text, right.text)
	default:
		return 0
	}
	if descending {
		return -result
	}
	return result
}

// sortByDataField stably reorders contacts by one data key.
func sortByDataField(contacts []Contact, field string, descending bool) {
	type keyed struct {
		contact Contact
		key     sortKey
	}
	entries := make([]keyed, 0, len(contacts))
	for _, contact := range contacts {
		entries = append(entries, keyed{contact: contact, key: dataSortKey(contact, field)})
	}
	slices.SortStableFunc(entries, func(left, right keyed) int {
		return compareSortKeys(left.key, right.key, descending)
	})
	for index, entry := range entries {
		contacts[index] = entry.contact
	}
}
