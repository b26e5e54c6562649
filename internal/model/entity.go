package model

import "time"

// VersionSource tags what kind of mutation produced an entity version.
type VersionSource string

const (
	SourceScrape VersionSource = "scrape"
	SourceReport VersionSource = "report"
	SourceManual VersionSource = "manual"
	SourceCRM    VersionSource = "crm"
)

// Entity is the deduplicated canonical record for one real-world subject,
// keyed by a normalized external identifier (typically a profile URL).
type Entity struct {
	ID             string         `json:"id"`
	Identifier     string         `json:"identifier"`
	Kind           EntityKind     `json:"kind"`
	Canonical      map[string]any `json:"canonical"`
	ScrapedByCount int            `json:"scraped_by_count"`
	TotalReports   int            `json:"total_reports"`
	LatestReportID string         `json:"latest_report_id,omitempty"`
	LatestReportAt *time.Time     `json:"latest_report_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Identity reconstructs the identity facts from canonical data.
func (e *Entity) Identity() Identity {
	return Identity{ProfileURL: e.Identifier}.MergeCanonical(e.Canonical)
}

// EntityVersion is an immutable snapshot of canonical data at a point in time.
type EntityVersion struct {
	ID        string         `json:"id"`
	EntityID  string         `json:"entity_id"`
	Source    VersionSource  `json:"source"`
	ReportID  string         `json:"report_id,omitempty"`
	Canonical map[string]any `json:"canonical"`
	CreatedAt time.Time      `json:"created_at"`
}

// EntityStatus is the read-only projection callers use to decide whether to
// reuse an existing report or request a new one.
type EntityStatus struct {
	Exists              bool           `json:"exists"`
	HasReport           bool           `json:"has_report"`
	LatestReportID      string         `json:"latest_report_id,omitempty"`
	LatestReportAgeDays int            `json:"latest_report_age_days,omitempty"`
	SummaryFacts        map[string]any `json:"summary_facts,omitempty"`
}

// contactFields are preserved against lower-confidence scrape observations: a
// verified email or phone already on file is never replaced by a scrape that
// omits it or carries an empty value.
var contactFields = map[string]bool{
	"email": true,
	"phone": true,
}

// MergeScrapeFacts merges an incoming scrape observation over existing
// canonical data field-by-field. Empty incoming values never clobber existing
// ones, and contact fields already set are kept regardless of the incoming
// value. Returns the merged map and whether anything changed.
func MergeScrapeFacts(existing, incoming map[string]any) (map[string]any, bool) {
	merged := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}

	changed := false
	for k, v := range incoming {
		if isEmptyFact(v) {
			continue
		}
		if contactFields[k] {
			if cur, ok := merged[k]; ok && !isEmptyFact(cur) {
				continue
			}
		}
		if cur, ok := merged[k]; ok && factEqual(cur, v) {
			continue
		}
		merged[k] = v
		changed = true
	}
	return merged, changed
}

// MergeReportFacts merges report-derived facts over canonical data. Reports
// are higher confidence than raw observations and may overwrite any field,
// but an empty report value still never erases known data.
func MergeReportFacts(existing, incoming map[string]any) (map[string]any, bool) {
	merged := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}

	changed := false
	for k, v := range incoming {
		if isEmptyFact(v) {
			continue
		}
		if cur, ok := merged[k]; ok && factEqual(cur, v) {
			continue
		}
		merged[k] = v
		changed = true
	}
	return merged, changed
}

func isEmptyFact(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	default:
		return false
	}
}

func factEqual(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	return a == b
}
