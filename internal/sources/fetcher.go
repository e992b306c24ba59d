package sources

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meridianhq/quill/internal/metrics"
	"github.com/meridianhq/quill/internal/models"
)

const (
	minTitleLen      = 8
	minSnippetLen    = 40
	minPlausibleYear = 1900

	primaryConfidence   = 0.9
	secondaryConfidence = 0.6
)

// Thresholds configures the sufficiency check.
type Thresholds struct {
	MinSources   int
	MinVenues    int
	MinEffective float64
}

// Fetcher runs the full source-acquisition stage: provider chain, per-record
// validation, and the sufficiency check.
type Fetcher struct {
	chain      *Chain
	allowlist  *Allowlist
	thresholds Thresholds
	logger     *zap.Logger
}

// NewFetcher wires the fetcher.
func NewFetcher(chain *Chain, allowlist *Allowlist, thresholds Thresholds, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		chain:      chain,
		allowlist:  allowlist,
		thresholds: thresholds,
		logger:     logger,
	}
}

// Result is the fetch stage output.
type Result struct {
	Sources    []models.SourceRecord
	Provenance models.Provenance
	Found      int // raw records before validation
}

// Fetch acquires, validates, and sufficiency-checks sources for a query.
// It returns either a usable source set or one of the two descriptive
// errors (ProviderUnavailableError, InsufficientSourcesError) — never a
// silent empty result.
func (f *Fetcher) Fetch(ctx context.Context, query string) (*Result, error) {
	raw, provenance, err := f.chain.Fetch(ctx, query)
	if err != nil {
		return nil, err
	}

	validated := make([]models.SourceRecord, 0, len(raw))
	for _, rec := range raw {
		if f.validate(&rec) {
			validated = append(validated, rec)
		}
	}
	metrics.SourcesValidated.Observe(float64(len(validated)))

	venues := distinctVenues(validated)
	effective := effectiveCount(validated)

	f.logger.Info("Source validation complete",
		zap.Int("raw", len(raw)),
		zap.Int("validated", len(validated)),
		zap.Int("venues", venues),
		zap.Float64("effective_count", effective),
		zap.String("provenance", string(provenance)),
	)

	if len(validated) < f.thresholds.MinSources ||
		venues < f.thresholds.MinVenues ||
		effective < f.thresholds.MinEffective {
		return nil, &InsufficientSourcesError{
			Validated:    len(validated),
			Venues:       venues,
			Effective:    effective,
			MinSources:   f.thresholds.MinSources,
			MinVenues:    f.thresholds.MinVenues,
			MinEffective: f.thresholds.MinEffective,
		}
	}

	// Highest-weight sources first so the analyzer spends its budget on the
	// most credible material when time runs short.
	sort.SliceStable(validated, func(i, j int) bool {
		return recordWeight(validated[i]) > recordWeight(validated[j])
	})

	return &Result{Sources: validated, Provenance: provenance, Found: len(raw)}, nil
}

// validate applies provenance-specific record validation and, on success,
// stamps the record's confidence weight.
func (f *Fetcher) validate(rec *models.SourceRecord) bool {
	if len(strings.TrimSpace(rec.Title)) < minTitleLen {
		return false
	}
	if len(strings.TrimSpace(rec.Snippet)) < minSnippetLen {
		return false
	}

	switch rec.Provenance {
	case models.ProvenancePrimary:
		maxYear := time.Now().Year() + 1
		if rec.PublishedYear < minPlausibleYear || rec.PublishedYear > maxYear {
			return false
		}
		if strings.TrimSpace(rec.Venue) == "" {
			return false
		}
		rec.Confidence = primaryConfidence
	case models.ProvenanceSecondary:
		host := hostOf(rec.URL)
		if !f.allowlist.Allowed(host) {
			return false
		}
		rec.Confidence = secondaryConfidence
	default:
		return false
	}
	return true
}

// recordWeight is the record's contribution to the effective count:
// validation confidence boosted by the citation signal (log-scaled, capped
// at doubling).
func recordWeight(rec models.SourceRecord) float64 {
	boost := 1.0
	if rec.CitationProxy > 0 {
		boost += math.Min(1.0, math.Log10(1+float64(rec.CitationProxy))/2)
	}
	return rec.Confidence * boost
}

func effectiveCount(records []models.SourceRecord) float64 {
	total := 0.0
	for _, rec := range records {
		total += recordWeight(rec)
	}
	return total
}

func distinctVenues(records []models.SourceRecord) int {
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		v := strings.ToLower(strings.TrimSpace(rec.Venue))
		if v == "" {
			continue
		}
		seen[v] = struct{}{}
	}
	return len(seen)
}
