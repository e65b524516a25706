package mapping

import (
	"maps"
	"slices"
	"strings"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/ingest"
)

// TargetCustom marks a directive whose target field name is supplied by the user.
const TargetCustom = "custom"

// Directive describes how one raw header should be renamed.
type Directive struct {
	OriginalColumn string `json:"original_column" validate:"required"`
	Target         string `json:"type" validate:"required"`
	CustomName     string `json:"customName"`
}

// Mapping is a resolved original-header to field-name table.
type Mapping map[string]string

// Resolve turns directives into a Mapping. A custom target with no custom name maps to the empty key.
func Resolve(directives []Directive) Mapping {
	resolved := make(Mapping, len(directives))
	for _, directive := range directives {
		original := directive.OriginalColumn
		if strings.TrimSpace(original) == "" {
			continue
		}
		resolved[original] = directive.field()
	}
	return resolved
}

func (d Directive) field() string {
	if d.Target == TargetCustom {
		return d.CustomName
	}
	return d.Target
}

// Apply renames record keys, walking headers in file order. When a renamed key collides with
// another header the later header wins. Keys missing from headers are kept unless taken.
func (m Mapping) Apply(headers []string, records []ingest.Record) []ingest.Record {
	mapped := make([]ingest.Record, 0, len(records))
	for _, record := range records {
		renamed := make(ingest.Record, len(record))
		seen := make(map[string]struct{}, len(headers))
		for _, header := range headers {
			value, ok := record[header]
			if !ok {
				continue
			}
			seen[header] = struct{}{}
			renamed[m.field(header)] = value
		}
		for _, key := range slices.Sorted(maps.Keys(record)) {
			if _, done := seen[key]; done {
				continue
			}
			if _, taken := renamed[m.field(key)]; !taken {
				renamed[m.field(key)] = record[key]
			}
		}
		mapped = append(mapped, renamed)
	}
	return mapped
}

func (m Mapping) field(header string) string {
	if target, ok := m[header]; ok {
		return target
	}
	return header
}

// Headers renames an ordered header list with the same rules as Apply.
func (m Mapping) Headers(headers []string) []string {
	renamed := make([]string, 0, len(headers))
	for _, header := range headers {
		renamed = append(renamed, m.field(header))
	}
	return renamed
}
