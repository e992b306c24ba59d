package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridianhq/quill/internal/models"
)

type scholarResult struct {
	Title         string `json:"title"`
	Abstract      string `json:"abstract"`
	URL           string `json:"url"`
	Year          int    `json:"year"`
	Venue         string `json:"venue"`
	CitationCount int    `json:"citation_count"`
}

func scholarServer(t *testing.T, results []scholarResult) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"results": results})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func failingServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func webServer(t *testing.T, items []map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": items})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func goodScholarResults(n, venues int) []scholarResult {
	out := make([]scholarResult, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, scholarResult{
			Title:         fmt.Sprintf("A Longitudinal Study of Topic %d", i),
			Abstract:      "This paper presents a detailed longitudinal study with substantial methodology and results discussion.",
			URL:           fmt.Sprintf("https://journals.example.org/paper/%d", i),
			Year:          2020,
			Venue:         fmt.Sprintf("Journal %d", i%venues),
			CitationCount: 25,
		})
	}
	return out
}

func defaultThresholds() Thresholds {
	return Thresholds{MinSources: 5, MinVenues: 3, MinEffective: 4.0}
}

func newFetcher(t *testing.T, primaryURL, secondaryURL string) *Fetcher {
	t.Helper()
	logger := zap.NewNop()
	chain := NewChain(logger,
		NewScholarProvider(primaryURL, 20, logger),
		NewWebProvider(secondaryURL, 20, logger),
	)
	return NewFetcher(chain, LoadAllowlist(""), defaultThresholds(), logger)
}

func TestFetchPrimarySufficiencyPasses(t *testing.T) {
	primary := scholarServer(t, goodScholarResults(10, 4))
	secondary := failingServer(t, http.StatusInternalServerError)

	f := newFetcher(t, primary.URL, secondary.URL)
	res, err := f.Fetch(context.Background(), "test query")
	require.NoError(t, err)

	assert.Equal(t, models.ProvenancePrimary, res.Provenance)
	assert.Len(t, res.Sources, 10)
	for _, s := range res.Sources {
		assert.Equal(t, models.ProvenancePrimary, s.Provenance)
		assert.Greater(t, s.Confidence, 0.0)
	}
}

func TestFetchFallsBackToSecondary(t *testing.T) {
	primary := failingServer(t, http.StatusTooManyRequests)

	items := make([]map[string]interface{}, 0, 8)
	hosts := []string{"cs.stanford.edu", "arxiv.org", "en.wikipedia.org", "data.gov"}
	for i := 0; i < 8; i++ {
		items = append(items, map[string]interface{}{
			"title":   fmt.Sprintf("Comprehensive Overview Number %d", i),
			"content": "An extensive overview article covering the background, current state, and open problems in depth.",
			"url":     fmt.Sprintf("https://%s/articles/%d", hosts[i%len(hosts)], i),
			"score":   0.8,
		})
	}
	secondary := webServer(t, items)

	f := newFetcher(t, primary.URL, secondary.URL)
	res, err := f.Fetch(context.Background(), "test query")
	require.NoError(t, err, "secondary success must not raise ProviderUnavailable")

	assert.Equal(t, models.ProvenanceSecondary, res.Provenance)
	require.NotEmpty(t, res.Sources)
	for _, s := range res.Sources {
		assert.Contains(t, s.Venue, "web:", "secondary venues must be provenance-tagged")
	}
}

func TestFetchBothProvidersFail(t *testing.T) {
	primary := failingServer(t, http.StatusUnauthorized)
	secondary := failingServer(t, http.StatusServiceUnavailable)

	f := newFetcher(t, primary.URL, secondary.URL)
	_, err := f.Fetch(context.Background(), "test query")
	require.Error(t, err)

	var unavailable *ProviderUnavailableError
	require.ErrorAs(t, err, &unavailable)
	require.Len(t, unavailable.Failures, 2)
	assert.Contains(t, err.Error(), "scholar: HTTP 401")
	assert.Contains(t, err.Error(), "websearch: HTTP 503")
}

func TestFetchThinPrimaryIsInsufficientNotUnavailable(t *testing.T) {
	primary := scholarServer(t, goodScholarResults(2, 2))

	secondaryCalled := false
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondaryCalled = true
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": []interface{}{}})
	}))
	t.Cleanup(secondary.Close)

	f := newFetcher(t, primary.URL, secondary.URL)
	_, err := f.Fetch(context.Background(), "test query")
	require.Error(t, err)

	var insufficient *InsufficientSourcesError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 2, insufficient.Validated)
	assert.False(t, secondaryCalled, "secondary must not run when primary succeeded")
}

func TestValidationRejectsImplausibleRecords(t *testing.T) {
	results := goodScholarResults(6, 3)
	results = append(results,
		scholarResult{Title: "Short", Abstract: "too thin", Year: 2020, Venue: "J"},
		scholarResult{
			Title:    "A Perfectly Reasonable Title For This",
			Abstract: "A perfectly reasonable abstract that is long enough to pass the snippet length validation check.",
			Year:     1742, // implausible for the primary provider
			Venue:    "Journal 0",
		},
	)
	primary := scholarServer(t, results)
	secondary := failingServer(t, http.StatusInternalServerError)

	f := newFetcher(t, primary.URL, secondary.URL)
	res, err := f.Fetch(context.Background(), "test query")
	require.NoError(t, err)
	assert.Len(t, res.Sources, 6)
}

func TestAllowlistBoundaries(t *testing.T) {
	a := LoadAllowlist("")
	assert.True(t, a.Allowed("cs.stanford.edu"))
	assert.True(t, a.Allowed("arxiv.org"))
	assert.False(t, a.Allowed("notarxiv.org.evil.com"))
	assert.False(t, a.Allowed("fakele.edu.attacker.net"))
	assert.False(t, a.Allowed("randomblog.io"))
}

func TestRecordWeightCitationBoostCapped(t *testing.T) {
	base := models.SourceRecord{Confidence: 0.9}
	boosted := models.SourceRecord{Confidence: 0.9, CitationProxy: 1000000}
	assert.Equal(t, 0.9, recordWeight(base))
	assert.InDelta(t, 1.8, recordWeight(boosted), 0.001, "boost caps at doubling")
}
