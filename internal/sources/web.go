package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridianhq/quill/internal/models"
)

// WebProvider is the secondary provider: a general web-search API with no
// bibliographic metadata. Venue for its records is the network domain,
// prefixed so diversity checks never conflate it with publication venues.
type WebProvider struct {
	baseURL    string
	maxResults int
	client     *http.Client
	logger     *zap.Logger
}

// NewWebProvider builds the secondary provider.
func NewWebProvider(baseURL string, maxResults int, logger *zap.Logger) *WebProvider {
	return &WebProvider{
		baseURL:    baseURL,
		maxResults: maxResults,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (p *WebProvider) Name() string                  { return "websearch" }
func (p *WebProvider) Provenance() models.Provenance { return models.ProvenanceSecondary }

type webResponse struct {
	Items []struct {
		Title   string  `json:"title"`
		Content string  `json:"content"`
		URL     string  `json:"url"`
		Score   float64 `json:"score"`
	} `json:"items"`
}

// Fetch queries the API and normalizes results into SourceRecords.
func (p *WebProvider) Fetch(ctx context.Context, query string) ([]models.SourceRecord, error) {
	u := fmt.Sprintf("%s/search?q=%s&limit=%d", p.baseURL, url.QueryEscape(query), p.maxResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("websearch: build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("websearch: HTTP %d", resp.StatusCode)
	}

	var body webResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("websearch: decode response: %w", err)
	}

	records := make([]models.SourceRecord, 0, len(body.Items))
	for _, item := range body.Items {
		records = append(records, models.SourceRecord{
			ID:            uuid.NewString(),
			Title:         item.Title,
			Snippet:       item.Content,
			URL:           item.URL,
			Venue:         webVenue(item.URL),
			Provenance:    models.ProvenanceSecondary,
			CitationProxy: int(item.Score * 100),
		})
	}

	p.logger.Debug("Web fetch complete", zap.Int("records", len(records)))
	return records, nil
}

// webVenue derives a provenance-tagged venue from the result URL.
func webVenue(rawURL string) string {
	host := hostOf(rawURL)
	if host == "" {
		return "web:unknown"
	}
	return "web:" + host
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}
