package models

import (
	"time"
)

// Status represents the externally visible state of a research session.
// Downstream consumers poll it; the pipeline only ever writes it forward.
type Status string

const (
	StatusFetching     Status = "fetching"
	StatusAnalyzing    Status = "analyzing"
	StatusSynthesizing Status = "synthesizing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Provenance tags which provider produced a source record. Validation and
// venue-extraction rules differ per provenance, so it is carried on every
// record rather than inferred.
type Provenance string

const (
	ProvenancePrimary   Provenance = "primary"
	ProvenanceSecondary Provenance = "secondary"
)

// SourceRecord is a normalized candidate source document. Immutable once
// validated; the analyzer reads it, never writes it.
type SourceRecord struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Snippet       string     `json:"snippet"`
	URL           string     `json:"url,omitempty"`
	PublishedYear int        `json:"published_year,omitempty"`
	Venue         string     `json:"venue"`
	Provenance    Provenance `json:"provenance"`
	CitationProxy int        `json:"citation_proxy,omitempty"` // citation count or relevance signal
	Confidence    float64    `json:"confidence"`               // validation confidence weight (0-1)
}

// AnalysisResult is the output of one bounded reasoning call over a single
// source. Created by exactly one worker, never mutated afterwards.
type AnalysisResult struct {
	SourceRef      string   `json:"source_ref"` // SourceRecord.ID
	Summary        string   `json:"summary"`
	KeyPoints      []string `json:"key_points"`
	RelevanceScore float64  `json:"relevance_score"`
	Methodology    string   `json:"methodology,omitempty"`
	Limitations    []string `json:"limitations,omitempty"`
	ReasoningTrace string   `json:"reasoning_trace,omitempty"`
	TokensUsed     int      `json:"tokens_used,omitempty"`
}

// Reference is one entry in a draft's reference list, keyed by the inline
// citation number used in the body.
type Reference struct {
	Number   int    `json:"number"`
	SourceID string `json:"source_id"`
	Title    string `json:"title"`
	Venue    string `json:"venue"`
	Year     int    `json:"year,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Draft is a synthesized document. Each regeneration attempt fully replaces
// the previous draft; there is no partial patching.
type Draft struct {
	Introduction string      `json:"introduction"`
	Body         string      `json:"body"`
	Conclusion   string      `json:"conclusion"`
	References   []Reference `json:"references"`
	WordCount    int         `json:"word_count"`
	Attempt      int         `json:"attempt"`

	// Degraded is set when the draft is returned despite failing gates,
	// because attempts or the time budget ran out. Warnings carry the
	// failing verdicts so the caller never receives a silently bad draft.
	Degraded bool          `json:"degraded"`
	Warnings []GateVerdict `json:"warnings,omitempty"`
}

// Text returns the assembled document text.
func (d *Draft) Text() string {
	return d.Introduction + "\n\n" + d.Body + "\n\n" + d.Conclusion
}

// GateVerdict is the outcome of one quality gate for one draft attempt.
// Only the most recent attempt's verdicts are retained.
type GateVerdict struct {
	GateName string   `json:"gate_name"`
	Passed   bool     `json:"passed"`
	Score    float64  `json:"score"`
	Issues   []string `json:"issues,omitempty"`
}

// Progress carries the counters exposed to status pollers.
type Progress struct {
	SourcesFound     int `json:"sources_found"`
	SourcesValidated int `json:"sources_validated"`
	AnalysesDone     int `json:"analyses_done"`
	AnalysesFailed   int `json:"analyses_failed"`
	DraftAttempts    int `json:"draft_attempts"`
}

// Session is the unit of work: one query, one deadline, one eventual draft.
// It is mutated by exactly one logical owner (the pipeline) for its
// lifetime; concurrent readers go through the session store.
type Session struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	Status    Status    `json:"status"`
	Deadline  time.Time `json:"deadline"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Provenance Provenance `json:"provenance,omitempty"` // which provider chain arm supplied the sources
	Progress   Progress   `json:"progress"`

	// Terminal fields, set exactly once.
	Draft         *Draft `json:"draft,omitempty"`
	ErrorCategory string `json:"error_category,omitempty"`
	ErrorDetail   string `json:"error_detail,omitempty"`
}

// Terminal reports whether the session reached a final status.
func (s *Session) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}
