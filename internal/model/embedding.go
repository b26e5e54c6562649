package model

import "time"

// EmbeddingKind tags what a stored vector was derived from.
type EmbeddingKind string

const (
	EmbedEntity     EmbeddingKind = "entity"
	EmbedSubsection EmbeddingKind = "subsection"
	EmbedCitation   EmbeddingKind = "citation"
)

// EmbeddingRecord is one derived vector for similarity search. All records
// for an entity are recomputed together after each new report.
type EmbeddingRecord struct {
	ID        string        `json:"id"`
	EntityID  string        `json:"entity_id"`
	ReportID  string        `json:"report_id,omitempty"`
	Kind      EmbeddingKind `json:"kind"`
	Key       string        `json:"key,omitempty"`
	Text      string        `json:"text"`
	Vector    []float32     `json:"vector"`
	CreatedAt time.Time     `json:"created_at"`
}
