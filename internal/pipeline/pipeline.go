package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/meridianhq/quill/internal/analysis"
	"github.com/meridianhq/quill/internal/budget"
	"github.com/meridianhq/quill/internal/config"
	"github.com/meridianhq/quill/internal/gates"
	"github.com/meridianhq/quill/internal/llm"
	"github.com/meridianhq/quill/internal/metrics"
	"github.com/meridianhq/quill/internal/models"
	"github.com/meridianhq/quill/internal/session"
	"github.com/meridianhq/quill/internal/sources"
	"github.com/meridianhq/quill/internal/synthesis"
)

// Error categories surfaced on failed sessions. Exactly one is set; the
// detail carries the underlying messages.
const (
	CategoryProviderUnavailable = "provider_unavailable"
	CategoryInsufficientSources = "insufficient_sources"
	CategoryNoAnalyses          = "no_analyses"
	CategoryDraftingExhausted   = "drafting_exhausted"
)

// Pipeline sequences fetch, analysis, and synthesis under one wall-clock
// budget. Sessions are independent; Run may be called concurrently.
type Pipeline struct {
	cfg      *config.Config
	fetcher  *sources.Fetcher
	reasoner llm.Reasoner
	store    session.Store
	logger   *zap.Logger
}

// New wires the pipeline from config. The reasoner is shared across stages;
// per-session state lives in the tracker and the session record.
func New(cfg *config.Config, fetcher *sources.Fetcher, reasoner llm.Reasoner, store session.Store, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		fetcher:  fetcher,
		reasoner: reasoner,
		store:    store,
		logger:   logger,
	}
}

// Run executes one research session end to end and returns the terminal
// session. The returned error is non-nil only for structural failures; a
// degraded draft is a success with annotations. The session record in the
// store always reflects the outcome either way.
func (p *Pipeline) Run(ctx context.Context, query string) (*models.Session, error) {
	tracker := budget.NewTracker(budget.Options{
		Total:         p.cfg.Budget.Total,
		SafetyMargin:  p.cfg.Budget.SafetyMargin,
		StageFloor:    p.cfg.Budget.StageFloor,
		DegradeWindow: p.cfg.Budget.DegradeWindow,
	}, p.logger)

	sess, err := p.store.Create(ctx, query, tracker.Deadline())
	if err != nil {
		return nil, err
	}
	metrics.SessionsStarted.Inc()
	start := time.Now()

	logger := p.logger.With(zap.String("session_id", sess.ID))
	logger.Info("Session started",
		zap.String("query", query),
		zap.Duration("budget", p.cfg.Budget.Total),
	)

	draft, runErr := p.runStages(ctx, sess, tracker, logger)

	if runErr != nil {
		sess.Status = models.StatusFailed
		sess.ErrorCategory = categorize(runErr)
		sess.ErrorDetail = runErr.Error()
		logger.Error("Session failed",
			zap.String("category", sess.ErrorCategory),
			zap.Error(runErr),
		)
	} else {
		sess.Status = models.StatusCompleted
		sess.Draft = draft
	}

	if err := p.store.Update(ctx, sess); err != nil {
		logger.Warn("Failed to persist terminal session", zap.Error(err))
	}

	degraded := draft != nil && draft.Degraded
	metrics.RecordSessionCompleted(string(sess.Status), degraded, time.Since(start).Seconds())

	if runErr != nil {
		return sess, runErr
	}
	logger.Info("Session completed",
		zap.Bool("degraded", degraded),
		zap.Int("word_count", draft.WordCount),
		zap.Int("attempts", draft.Attempt),
		zap.Duration("elapsed", tracker.Elapsed()),
	)
	return sess, nil
}

// runStages drives the three stages, updating the session between them.
// Stage timeouts come from the tracker's allowance over the nominal
// per-stage timeouts; a stage never subtracts elapsed time itself.
func (p *Pipeline) runStages(ctx context.Context, sess *models.Session, tracker *budget.Tracker, logger *zap.Logger) (*models.Draft, error) {
	// Fetch. A timeout here behaves like a provider failure: the chain
	// already fell back internally, so what escapes is structural.
	fetchStart := time.Now()
	fetchCtx, cancel := context.WithTimeout(ctx, tracker.StageAllowance(p.cfg.Fetch.Timeout))
	result, err := p.fetcher.Fetch(fetchCtx, sess.Query)
	fetchTimedOut := errors.Is(fetchCtx.Err(), context.DeadlineExceeded)
	cancel()
	metrics.RecordStage("fetch", time.Since(fetchStart).Seconds())
	if fetchTimedOut {
		metrics.StageTimeouts.WithLabelValues("fetch").Inc()
	}
	if err != nil {
		return nil, err
	}

	sess.Status = models.StatusAnalyzing
	sess.Provenance = result.Provenance
	sess.Progress.SourcesFound = result.Found
	sess.Progress.SourcesValidated = len(result.Sources)
	p.checkpoint(ctx, sess, logger)

	// Analyze. The stage context bounds the whole fan-out; in-flight calls
	// past the deadline fail individually and completed results are kept.
	analysisStart := time.Now()
	analyzer := analysis.New(p.reasoner, analysis.Options{
		MaxWorkers:        p.cfg.Analysis.MaxWorkers,
		BatchSize:         p.cfg.Analysis.BatchSize,
		CallTimeout:       p.cfg.Analysis.CallTimeout,
		MaxRetries:        p.cfg.Analysis.MaxRetries,
		BackoffBase:       p.cfg.Analysis.BackoffBase,
		RequestsPerSecond: p.cfg.Analysis.RequestsPerSecond,
	}, logger)

	analysisCtx, cancel := context.WithTimeout(ctx, tracker.StageAllowance(p.cfg.Analysis.Timeout))
	analyses, err := analyzer.AnalyzeAll(analysisCtx, sess.Query, result.Sources)
	timedOut := errors.Is(analysisCtx.Err(), context.DeadlineExceeded)
	cancel()
	metrics.RecordStage("analysis", time.Since(analysisStart).Seconds())
	if timedOut {
		metrics.StageTimeouts.WithLabelValues("analysis").Inc()
	}
	if err != nil {
		return nil, err
	}

	sess.Status = models.StatusSynthesizing
	sess.Progress.AnalysesDone = len(analyses)
	sess.Progress.AnalysesFailed = len(result.Sources) - len(analyses)
	p.checkpoint(ctx, sess, logger)

	// Synthesize. The state machine handles its own timeouts per section
	// call and degrades instead of timing out as a stage.
	synthesisStart := time.Now()
	chain := gates.NewChain(gates.Thresholds{
		QualityFloor:    p.cfg.Gates.QualityFloor,
		SupportFraction: p.cfg.Gates.SupportFraction,
		TargetWords:     p.cfg.Synthesis.TargetWords,
	}, logger)
	syn := synthesis.New(p.reasoner, chain, synthesis.Options{
		MaxAttempts: p.cfg.Synthesis.MaxAttempts,
		CallTimeout: p.cfg.Synthesis.CallTimeout,
		TargetWords: p.cfg.Synthesis.TargetWords,
	}, logger)

	draft, err := syn.Run(ctx, sess.Query, result.Sources, analyses, tracker)
	metrics.RecordStage("synthesis", time.Since(synthesisStart).Seconds())
	if err != nil {
		return nil, err
	}
	sess.Progress.DraftAttempts = draft.Attempt
	return draft, nil
}

// checkpoint persists intermediate progress. Failing to persist a
// checkpoint never aborts the session.
func (p *Pipeline) checkpoint(ctx context.Context, sess *models.Session, logger *zap.Logger) {
	if err := p.store.Update(ctx, sess); err != nil {
		logger.Warn("Failed to persist session checkpoint",
			zap.String("status", string(sess.Status)),
			zap.Error(err),
		)
	}
}

func categorize(err error) string {
	var unavailable *sources.ProviderUnavailableError
	var insufficient *sources.InsufficientSourcesError
	switch {
	case errors.As(err, &unavailable):
		return CategoryProviderUnavailable
	case errors.As(err, &insufficient):
		return CategoryInsufficientSources
	case errors.Is(err, analysis.ErrNoAnalyses):
		return CategoryNoAnalyses
	case errors.Is(err, synthesis.ErrDraftingExhausted):
		return CategoryDraftingExhausted
	default:
		return "internal"
	}
}
