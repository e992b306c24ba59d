package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridianhq/quill/internal/models"
)

// ScholarProvider is the primary provider: an academic search API that
// returns structured bibliographic metadata (venue, year, citation count).
type ScholarProvider struct {
	baseURL    string
	maxResults int
	client     *http.Client
	logger     *zap.Logger
}

// NewScholarProvider builds the primary provider.
func NewScholarProvider(baseURL string, maxResults int, logger *zap.Logger) *ScholarProvider {
	return &ScholarProvider{
		baseURL:    baseURL,
		maxResults: maxResults,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (p *ScholarProvider) Name() string                  { return "scholar" }
func (p *ScholarProvider) Provenance() models.Provenance { return models.ProvenancePrimary }

// scholarResponse mirrors the provider's wire format.
type scholarResponse struct {
	Results []struct {
		Title         string `json:"title"`
		Abstract      string `json:"abstract"`
		URL           string `json:"url"`
		Year          int    `json:"year"`
		Venue         string `json:"venue"`
		CitationCount int    `json:"citation_count"`
	} `json:"results"`
}

// Fetch queries the API and normalizes results into SourceRecords.
func (p *ScholarProvider) Fetch(ctx context.Context, query string) ([]models.SourceRecord, error) {
	u := fmt.Sprintf("%s/search?q=%s&limit=%d", p.baseURL, url.QueryEscape(query), p.maxResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("scholar: build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scholar: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("scholar: HTTP %d", resp.StatusCode)
	}

	var body scholarResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("scholar: decode response: %w", err)
	}

	records := make([]models.SourceRecord, 0, len(body.Results))
	for _, r := range body.Results {
		records = append(records, models.SourceRecord{
			ID:            uuid.NewString(),
			Title:         r.Title,
			Snippet:       r.Abstract,
			URL:           r.URL,
			PublishedYear: r.Year,
			Venue:         r.Venue,
			Provenance:    models.ProvenancePrimary,
			CitationProxy: r.CitationCount,
		})
	}

	p.logger.Debug("Scholar fetch complete", zap.Int("records", len(records)))
	return records, nil
}
