package model

import "time"

// Confidence tags how strongly a finding is corroborated.
type Confidence string

const (
	ConfidenceConfirmed Confidence = "confirmed" // corroborated by ≥2 agents or an authoritative source
	ConfidenceLikely    Confidence = "likely"    // single credible source
	ConfidenceUncertain Confidence = "uncertain" // identity ambiguity or source conflict
)

// SectionKeys is the fixed six-section report taxonomy, in order.
var SectionKeys = []string{
	"background",
	"track_record",
	"network",
	"public_presence",
	"risk",
	"executive_summary",
}

// Report is the synthesized, citation-backed output of one reconciliation.
// Reports are immutable after creation; a refresh creates a new Report with
// an incremented version.
type Report struct {
	ID           string       `json:"id"`
	EntityID     string       `json:"entity_id"`
	Version      int          `json:"version"`
	GeneratedAt  time.Time    `json:"generated_at"`
	Subject      Subject      `json:"subject"`
	Abstract     Abstract     `json:"abstract"`
	Sections     []Section    `json:"sections"`
	Bibliography Bibliography `json:"bibliography"`
	Metadata     ReportMeta   `json:"metadata"`
}

// Subject holds the identity facts the report is about, plus how confident
// the synthesis is that all findings refer to the same person/company.
type Subject struct {
	Name               string     `json:"name"`
	Affiliation        string     `json:"affiliation,omitempty"`
	Title              string     `json:"title,omitempty"`
	Location           string     `json:"location,omitempty"`
	ProfileURL         string     `json:"profile_url,omitempty"`
	IdentityConfidence Confidence `json:"identity_confidence"`
	IdentityNotes      string     `json:"identity_notes,omitempty"`
}

// Abstract is the report's executive summary block.
type Abstract struct {
	Summary        string   `json:"summary"`
	KeyFindings    []string `json:"key_findings,omitempty"`
	RelevanceScore int      `json:"relevance_score"`
}

// Section is one of the six fixed report sections.
type Section struct {
	Key         string       `json:"key"`
	Title       string       `json:"title"`
	Subsections []Subsection `json:"subsections,omitempty"`
}

// Subsection holds narrative content with its own confidence tagging and the
// citations that back its inline markers.
type Subsection struct {
	Title               string         `json:"title"`
	Content             string         `json:"content"`
	Confidence          Confidence     `json:"confidence"`
	ConfidenceRationale string         `json:"confidence_rationale,omitempty"`
	StructuredData      map[string]any `json:"structured_data,omitempty"`
	Citations           []Citation     `json:"citations,omitempty"`
}

// Citation is one source reference.
type Citation struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	SourceType string `json:"source_type,omitempty"`
}

// Bibliography is the deduplicated citation set for the whole report.
type Bibliography struct {
	Citations    []Citation     `json:"citations,omitempty"`
	CountsByType map[string]int `json:"counts_by_type,omitempty"`
}

// ReportMeta carries generation accounting and model-assigned scores.
type ReportMeta struct {
	Model             string         `json:"model"`
	GenerationTimeMS  int64          `json:"generation_time_ms"`
	TotalTokens       int            `json:"total_tokens"`
	TotalCost         float64        `json:"total_cost"`
	SourcesAnalyzed   int            `json:"sources_analyzed"`
	QualityScore      int            `json:"quality_score,omitempty"`
	CompletenessScore int            `json:"completeness_score,omitempty"`
	SectionConfidence map[string]int `json:"section_confidence,omitempty"`
}

// SubjectFacts flattens the subject block into canonical-data facts for the
// entity merge.
func (r *Report) SubjectFacts() map[string]any {
	facts := map[string]any{}
	set := func(k, v string) {
		if v != "" {
			facts[k] = v
		}
	}
	set("name", r.Subject.Name)
	set("affiliation", r.Subject.Affiliation)
	set("title", r.Subject.Title)
	set("location", r.Subject.Location)
	set("profile_url", r.Subject.ProfileURL)
	return facts
}

// TokenUsage tracks token consumption across API calls.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates usage from another call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Total returns combined input and output tokens.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}
