package synthesis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meridianhq/quill/internal/budget"
	"github.com/meridianhq/quill/internal/gates"
	"github.com/meridianhq/quill/internal/llm"
	"github.com/meridianhq/quill/internal/metrics"
	"github.com/meridianhq/quill/internal/models"
)

// ErrDraftingExhausted means a drafting call failed past its retry and no
// earlier attempt produced a draft to fall back on.
var ErrDraftingExhausted = errors.New("drafting exhausted with no usable draft")

type state int

const (
	stateDrafting state = iota
	stateGateChecking
	stateRegenerating
	stateDegradedAccept
	stateAccepted
)

func (s state) String() string {
	switch s {
	case stateDrafting:
		return "drafting"
	case stateGateChecking:
		return "gate_checking"
	case stateRegenerating:
		return "regenerating"
	case stateDegradedAccept:
		return "degraded_accept"
	case stateAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// Options configures the synthesizer.
type Options struct {
	// MaxAttempts is the number of regenerations allowed beyond the first
	// draft.
	MaxAttempts int
	// CallTimeout is the nominal per-section reasoning call timeout; the
	// budget tracker may shrink it.
	CallTimeout time.Duration
	TargetWords int
}

// Synthesizer drives the draft/check/regenerate loop. Each attempt fully
// replaces the prior draft. It either returns an accepted draft, a degraded
// draft annotated with the latest attempt's complete verdict set, or a hard
// error when drafting itself breaks with nothing to fall back on.
type Synthesizer struct {
	reasoner llm.Reasoner
	gates    *gates.Chain
	opts     Options
	logger   *zap.Logger
}

func New(reasoner llm.Reasoner, chain *gates.Chain, opts Options, logger *zap.Logger) *Synthesizer {
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 45 * time.Second
	}
	if opts.TargetWords <= 0 {
		opts.TargetWords = 900
	}
	return &Synthesizer{reasoner: reasoner, gates: chain, opts: opts, logger: logger}
}

// Run executes the state machine until a terminal state. The tracker is the
// session's live budget; regeneration stops once it enters the degradation
// window even if attempts remain.
func (s *Synthesizer) Run(ctx context.Context, query string, sources []models.SourceRecord, analyses []models.AnalysisResult, tracker *budget.Tracker) (*models.Draft, error) {
	var (
		best         *models.Draft
		lastVerdicts []models.GateVerdict // full verdict set of the latest checked attempt
	)

	for attempt := 1; ; attempt++ {
		s.transition(stateDrafting, attempt)

		draft, err := s.draftOnce(ctx, query, sources, analyses, attempt, failingOf(lastVerdicts), tracker)
		if err != nil {
			if best != nil {
				s.transition(stateDegradedAccept, attempt)
				s.logger.Warn("Drafting call failed; returning prior attempt degraded",
					zap.Int("attempt", attempt), zap.Error(err))
				return s.degrade(best, lastVerdicts), nil
			}
			return nil, fmt.Errorf("%w: %v", ErrDraftingExhausted, err)
		}

		s.transition(stateGateChecking, attempt)
		verdicts, ok := s.gates.Evaluate(draft, analyses)
		if ok {
			s.transition(stateAccepted, attempt)
			return draft, nil
		}

		best = draft
		lastVerdicts = verdicts

		if attempt > s.opts.MaxAttempts || tracker.InDegradationWindow() {
			s.transition(stateDegradedAccept, attempt)
			s.logger.Warn("Accepting degraded draft",
				zap.Int("attempt", attempt),
				zap.Bool("in_degradation_window", tracker.InDegradationWindow()),
				zap.Duration("remaining", tracker.Remaining()),
			)
			return s.degrade(best, lastVerdicts), nil
		}

		s.transition(stateRegenerating, attempt)
		metrics.RegenerationAttempts.Inc()
	}
}

func (s *Synthesizer) transition(st state, attempt int) {
	s.logger.Debug("Synthesis state",
		zap.String("state", st.String()),
		zap.Int("attempt", attempt),
	)
}

func (s *Synthesizer) degrade(d *models.Draft, verdicts []models.GateVerdict) *models.Draft {
	d.Degraded = true
	d.Warnings = verdicts
	metrics.DegradedReturns.Inc()
	return d
}

func failingOf(verdicts []models.GateVerdict) []models.GateVerdict {
	var failing []models.GateVerdict
	for _, v := range verdicts {
		if !v.Passed {
			failing = append(failing, v)
		}
	}
	return failing
}

// draftOnce runs the three sequential section calls and assembles a draft.
// The references list is built from the numbers actually cited in the body.
func (s *Synthesizer) draftOnce(ctx context.Context, query string, sources []models.SourceRecord, analyses []models.AnalysisResult, attempt int, feedback []models.GateVerdict, tracker *budget.Tracker) (*models.Draft, error) {
	intro, err := s.sectionCall(ctx, tracker, introSystemPrompt, buildIntroContent(query, analyses, feedback))
	if err != nil {
		return nil, fmt.Errorf("introduction: %w", err)
	}

	body, err := s.sectionCall(ctx, tracker, bodySystemPrompt(s.opts.TargetWords), buildBodyContent(query, sources, analyses, feedback))
	if err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}

	conclusion, err := s.sectionCall(ctx, tracker, conclusionSystemPrompt, buildConclusionContent(query, body))
	if err != nil {
		return nil, fmt.Errorf("conclusion: %w", err)
	}

	draft := &models.Draft{
		Introduction: strings.TrimSpace(intro),
		Body:         strings.TrimSpace(body),
		Conclusion:   strings.TrimSpace(conclusion),
		Attempt:      attempt,
	}
	draft.References = buildReferences(draft.Text(), sources)
	draft.WordCount = len(strings.Fields(draft.Text()))
	return draft, nil
}

// sectionCall is one bounded reasoning call with a single retry on
// retryable failures. The budget tracker caps the timeout; near exhaustion
// the call gets only the stage floor.
func (s *Synthesizer) sectionCall(ctx context.Context, tracker *budget.Tracker, system, user string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		allowance := tracker.StageAllowance(s.opts.CallTimeout)
		callCtx, cancel := context.WithTimeout(ctx, allowance)
		raw, err := s.reasoner.Complete(callCtx, llm.Prompt{System: system, User: user})
		cancel()

		if err == nil {
			if strings.TrimSpace(raw) == "" {
				err = fmt.Errorf("%w: empty section", llm.ErrMalformedResponse)
			} else {
				return raw, nil
			}
		}
		lastErr = err
		if !llm.Retryable(err) || ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

// buildReferences maps each cited [n] back to the numbered source list the
// body prompt presented. Out-of-range numbers get no reference; the
// citation gate will flag them.
func buildReferences(text string, sources []models.SourceRecord) []models.Reference {
	matches := citationPattern.FindAllStringSubmatch(text, -1)

	seen := make(map[int]bool)
	var refs []models.Reference
	for _, m := range matches {
		n, _ := strconv.Atoi(m[1])
		if seen[n] || n < 1 || n > len(sources) {
			continue
		}
		seen[n] = true
		src := sources[n-1]
		refs = append(refs, models.Reference{
			Number:   n,
			SourceID: src.ID,
			Title:    src.Title,
			Venue:    src.Venue,
			Year:     src.PublishedYear,
			URL:      src.URL,
		})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Number < refs[j].Number })
	return refs
}
