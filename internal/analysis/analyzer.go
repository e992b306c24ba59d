package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/meridianhq/quill/internal/llm"
	"github.com/meridianhq/quill/internal/metrics"
	"github.com/meridianhq/quill/internal/models"
)

// ErrNoAnalyses means every source failed analysis. Partial failure is
// absorbed; a fully-empty result is a pipeline failure.
var ErrNoAnalyses = errors.New("analysis produced no results")

// Options configures the analyzer.
type Options struct {
	MaxWorkers        int
	BatchSize         int
	CallTimeout       time.Duration
	MaxRetries        int
	BackoffBase       time.Duration
	RequestsPerSecond float64
}

// Analyzer fans validated sources out over a bounded pool of workers, one
// bounded reasoning call per source, with retry-and-backoff on rate limits.
type Analyzer struct {
	reasoner llm.Reasoner
	limiter  *rate.Limiter
	opts     Options
	logger   *zap.Logger
}

// New builds an analyzer. The limiter is shared by all workers so the pool
// as a whole respects the external rate limit.
func New(reasoner llm.Reasoner, opts Options, logger *zap.Logger) *Analyzer {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 3
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	return &Analyzer{
		reasoner: reasoner,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		opts:     opts,
		logger:   logger,
	}
}

// AnalyzeAll analyzes every source, tolerating per-source failures. The
// result set may be smaller than the input; it is empty only on total
// failure, which is returned as ErrNoAnalyses. Results are merged by source
// identity — worker completion order does not matter.
func (a *Analyzer) AnalyzeAll(ctx context.Context, query string, srcs []models.SourceRecord) ([]models.AnalysisResult, error) {
	if len(srcs) == 0 {
		return nil, ErrNoAnalyses
	}

	batches := partition(srcs, a.opts.BatchSize)

	var (
		mu      sync.Mutex
		byID    = make(map[string]models.AnalysisResult, len(srcs))
		failed  int
		wg      sync.WaitGroup
		batchCh = make(chan []models.SourceRecord)
	)

	workers := a.opts.MaxWorkers
	if workers > len(batches) {
		workers = len(batches)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batchCh {
				for _, src := range batch {
					res, err := a.analyzeOne(ctx, query, src)
					mu.Lock()
					if err != nil {
						failed++
					} else {
						byID[src.ID] = *res
					}
					mu.Unlock()
				}
			}
		}()
	}

	for _, b := range batches {
		batchCh <- b
	}
	close(batchCh)
	wg.Wait()

	a.logger.Info("Analysis stage complete",
		zap.Int("sources", len(srcs)),
		zap.Int("succeeded", len(byID)),
		zap.Int("failed", failed),
	)

	if len(byID) == 0 {
		return nil, ErrNoAnalyses
	}

	// Stable merge: input order, minus failures.
	results := make([]models.AnalysisResult, 0, len(byID))
	for _, src := range srcs {
		if res, ok := byID[src.ID]; ok {
			results = append(results, res)
		}
	}
	return results, nil
}

// analyzeOne runs one source through a bounded reasoning call with
// exponential backoff on retryable failures. A failure here is isolated: it
// never aborts the batch or other workers.
func (a *Analyzer) analyzeOne(ctx context.Context, query string, src models.SourceRecord) (*models.AnalysisResult, error) {
	var lastErr error

	for attempt := 1; attempt <= a.opts.MaxRetries+1; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
		raw, err := a.reasoner.Complete(callCtx, llm.Prompt{
			System: analysisSystemPrompt,
			User:   buildAnalysisContent(query, src),
		})
		cancel()

		if err == nil {
			res, perr := parseAnalysisResponse(raw, src.ID)
			if perr == nil {
				return res, nil
			}
			err = perr
		}
		lastErr = err

		if !llm.Retryable(err) || ctx.Err() != nil {
			break
		}
		if attempt <= a.opts.MaxRetries {
			metrics.AnalysisRetries.Inc()
			delay := a.opts.BackoffBase * time.Duration(attempt)
			a.logger.Debug("Analysis call retrying",
				zap.String("source_id", src.ID),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	metrics.AnalysisFailures.Inc()
	a.logger.Warn("Source analysis abandoned",
		zap.String("source_id", src.ID),
		zap.String("title", src.Title),
		zap.Error(lastErr),
	)
	return nil, lastErr
}

func partition(srcs []models.SourceRecord, size int) [][]models.SourceRecord {
	var batches [][]models.SourceRecord
	for start := 0; start < len(srcs); start += size {
		end := start + size
		if end > len(srcs) {
			end = len(srcs)
		}
		batches = append(batches, srcs[start:end])
	}
	return batches
}

const analysisSystemPrompt = `You are a research analyst. Analyze the given source document for its relevance to the research query.

Return a JSON object:
{
  "summary": "2-3 sentence summary of the source",
  "key_points": ["point 1", "point 2"],
  "relevance_score": 0.0-1.0,
  "methodology": "study methodology if identifiable, else empty",
  "limitations": ["limitation 1"],
  "reasoning": "one paragraph explaining your assessment"
}`

func buildAnalysisContent(query string, src models.SourceRecord) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Research Query:\n%s\n\n", query))
	sb.WriteString(fmt.Sprintf("## Source:\nTitle: %s\n", src.Title))
	if src.Venue != "" {
		sb.WriteString(fmt.Sprintf("Venue: %s\n", src.Venue))
	}
	if src.PublishedYear > 0 {
		sb.WriteString(fmt.Sprintf("Year: %d\n", src.PublishedYear))
	}
	sb.WriteString(fmt.Sprintf("Content: %s\n", src.Snippet))
	return sb.String()
}

// parseAnalysisResponse extracts the JSON payload from the model response.
// A non-conforming response is a retryable failure of this single call.
func parseAnalysisResponse(raw, sourceID string) (*models.AnalysisResult, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object found", llm.ErrMalformedResponse)
	}

	var parsed struct {
		Summary        string   `json:"summary"`
		KeyPoints      []string `json:"key_points"`
		RelevanceScore float64  `json:"relevance_score"`
		Methodology    string   `json:"methodology"`
		Limitations    []string `json:"limitations"`
		Reasoning      string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrMalformedResponse, err)
	}
	if strings.TrimSpace(parsed.Summary) == "" {
		return nil, fmt.Errorf("%w: empty summary", llm.ErrMalformedResponse)
	}

	return &models.AnalysisResult{
		SourceRef:      sourceID,
		Summary:        parsed.Summary,
		KeyPoints:      parsed.KeyPoints,
		RelevanceScore: parsed.RelevanceScore,
		Methodology:    parsed.Methodology,
		Limitations:    parsed.Limitations,
		ReasoningTrace: parsed.Reasoning,
	}, nil
}
