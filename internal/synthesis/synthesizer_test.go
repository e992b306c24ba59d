package synthesis

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridianhq/quill/internal/budget"
	"github.com/meridianhq/quill/internal/gates"
	"github.com/meridianhq/quill/internal/llm"
	"github.com/meridianhq/quill/internal/models"
)

const (
	goodIntro = "This essay examines the question in depth, drawing on recent published evidence to frame the debate and preview the principal findings of the surveyed literature."
	goodBody  = "The first study reported a clear upward trend across all measured indicators [1]. A second line of work found broadly consistent results in independent samples [2]. Together these findings were replicated across regions and time periods, strengthening the overall picture considerably."
	goodConcl = "In sum, the surveyed evidence points in one direction while leaving open several questions about mechanism and generalizability that future work will need to address directly."
	badBody   = "The first study reported a clear upward trend across all measured indicators [9]. Further work found broadly consistent results in several independent samples and regions over many years."
)

func testSourceList() []models.SourceRecord {
	return []models.SourceRecord{
		{ID: "s1", Title: "Trend Study", Venue: "Journal A", PublishedYear: 2023, URL: "https://a.example/1"},
		{ID: "s2", Title: "Replication Work", Venue: "Journal B", PublishedYear: 2024, URL: "https://b.example/2"},
	}
}

func testAnalyses() []models.AnalysisResult {
	return []models.AnalysisResult{
		{SourceRef: "s1", Summary: "The first study reported a clear upward trend across all measured indicators."},
		{SourceRef: "s2", Summary: "A second line of work found broadly consistent results in independent samples."},
	}
}

// laxChain passes anything structurally consistent: quality and claim
// floors at zero, so only citation consistency can fail.
func laxChain() *gates.Chain {
	return gates.NewChain(gates.Thresholds{QualityFloor: 0, SupportFraction: 0, TargetWords: 100}, zap.NewNop())
}

func roomyTracker() *budget.Tracker {
	return budget.NewTracker(budget.Options{
		Total:         time.Hour,
		SafetyMargin:  time.Second,
		StageFloor:    time.Second,
		DegradeWindow: time.Minute,
	}, zap.NewNop())
}

// exhaustedTracker is already inside its degradation window.
func exhaustedTracker() *budget.Tracker {
	return budget.NewTracker(budget.Options{
		Total:         30 * time.Second,
		SafetyMargin:  time.Second,
		StageFloor:    time.Second,
		DegradeWindow: time.Minute,
	}, zap.NewNop())
}

// sectionFake returns intro/body/conclusion responses cyclically, with the
// body response selectable per attempt.
func sectionFake(bodies ...string) *llm.FakeReasoner {
	var call int32
	return &llm.FakeReasoner{Fn: func(p llm.Prompt) (string, error) {
		n := atomic.AddInt32(&call, 1)
		switch (n - 1) % 3 {
		case 0:
			return goodIntro, nil
		case 1:
			attempt := int((n - 1) / 3)
			if attempt >= len(bodies) {
				attempt = len(bodies) - 1
			}
			return bodies[attempt], nil
		default:
			return goodConcl, nil
		}
	}}
}

func TestAcceptedOnFirstAttempt(t *testing.T) {
	fake := sectionFake(goodBody)
	syn := New(fake, laxChain(), Options{MaxAttempts: 2, CallTimeout: time.Second, TargetWords: 100}, zap.NewNop())

	draft, err := syn.Run(context.Background(), "q", testSourceList(), testAnalyses(), roomyTracker())
	require.NoError(t, err)
	assert.False(t, draft.Degraded)
	assert.Empty(t, draft.Warnings)
	assert.Equal(t, 1, draft.Attempt)
	assert.Equal(t, 3, fake.CallCount())

	require.Len(t, draft.References, 2)
	assert.Equal(t, 1, draft.References[0].Number)
	assert.Equal(t, "s1", draft.References[0].SourceID)
	assert.Equal(t, "Trend Study", draft.References[0].Title)
	assert.Greater(t, draft.WordCount, 0)
}

func TestRegeneratesOnGateFailure(t *testing.T) {
	// Attempt 1 cites a nonexistent source; attempt 2 is clean.
	fake := sectionFake(badBody, goodBody)
	syn := New(fake, laxChain(), Options{MaxAttempts: 2, CallTimeout: time.Second, TargetWords: 100}, zap.NewNop())

	draft, err := syn.Run(context.Background(), "q", testSourceList(), testAnalyses(), roomyTracker())
	require.NoError(t, err)
	assert.False(t, draft.Degraded)
	assert.Equal(t, 2, draft.Attempt)
	assert.Equal(t, 6, fake.CallCount())
}

func TestRedraftPromptCarriesFailingVerdicts(t *testing.T) {
	var sawFeedback atomic.Bool
	var call int32
	fake := &llm.FakeReasoner{Fn: func(p llm.Prompt) (string, error) {
		n := atomic.AddInt32(&call, 1)
		if n > 3 && strings.Contains(p.User, "failed review") {
			sawFeedback.Store(true)
		}
		switch (n - 1) % 3 {
		case 0:
			return goodIntro, nil
		case 1:
			if n <= 3 {
				return badBody, nil
			}
			return goodBody, nil
		default:
			return goodConcl, nil
		}
	}}
	syn := New(fake, laxChain(), Options{MaxAttempts: 2, CallTimeout: time.Second, TargetWords: 100}, zap.NewNop())

	_, err := syn.Run(context.Background(), "q", testSourceList(), testAnalyses(), roomyTracker())
	require.NoError(t, err)
	assert.True(t, sawFeedback.Load(), "second attempt's prompts must carry the failing verdicts")
}

func TestDegradedAfterAttemptsExhausted(t *testing.T) {
	fake := sectionFake(badBody)
	syn := New(fake, laxChain(), Options{MaxAttempts: 1, CallTimeout: time.Second, TargetWords: 100}, zap.NewNop())

	draft, err := syn.Run(context.Background(), "q", testSourceList(), testAnalyses(), roomyTracker())
	require.NoError(t, err, "exhausted attempts degrade, never error")
	assert.True(t, draft.Degraded)

	// The degraded draft carries the latest attempt's complete verdict
	// set, passing gates included.
	require.Len(t, draft.Warnings, 3)
	assert.Equal(t, "quality", draft.Warnings[0].GateName)
	assert.Equal(t, "citations", draft.Warnings[1].GateName)
	assert.False(t, draft.Warnings[1].Passed)
	assert.Equal(t, "claims", draft.Warnings[2].GateName)

	assert.Equal(t, 2, draft.Attempt, "one regeneration then degraded accept")
	assert.Equal(t, 6, fake.CallCount())
}

func TestDegradedDraftCarriesFullVerdictSet(t *testing.T) {
	// An unreachable quality floor fails every attempt even though the
	// citation and claim gates pass; the returned draft must still carry
	// one verdict per gate.
	chain := gates.NewChain(gates.Thresholds{QualityFloor: 1.1, SupportFraction: 0, TargetWords: 100}, zap.NewNop())
	fake := sectionFake(goodBody)
	syn := New(fake, chain, Options{MaxAttempts: 2, CallTimeout: time.Second, TargetWords: 100}, zap.NewNop())

	draft, err := syn.Run(context.Background(), "q", testSourceList(), testAnalyses(), roomyTracker())
	require.NoError(t, err)
	assert.True(t, draft.Degraded)
	require.Len(t, draft.Warnings, 3)
	assert.False(t, draft.Warnings[0].Passed)
	assert.True(t, draft.Warnings[1].Passed)
	assert.True(t, draft.Warnings[2].Passed)
	assert.Equal(t, 3, draft.Attempt, "two regenerations then degraded accept")
}

func TestDegradationWindowStopsRegeneration(t *testing.T) {
	fake := sectionFake(badBody)
	syn := New(fake, laxChain(), Options{MaxAttempts: 5, CallTimeout: time.Second, TargetWords: 100}, zap.NewNop())

	draft, err := syn.Run(context.Background(), "q", testSourceList(), testAnalyses(), exhaustedTracker())
	require.NoError(t, err)
	assert.True(t, draft.Degraded)
	assert.Equal(t, 1, draft.Attempt, "no regeneration inside the degradation window")
	assert.Equal(t, 3, fake.CallCount())
}

func TestDraftingFailureWithNoPriorDraftIsHardError(t *testing.T) {
	fake := &llm.FakeReasoner{Fn: func(p llm.Prompt) (string, error) {
		return "", errors.New("provider down")
	}}
	syn := New(fake, laxChain(), Options{MaxAttempts: 2, CallTimeout: time.Second}, zap.NewNop())

	_, err := syn.Run(context.Background(), "q", testSourceList(), testAnalyses(), roomyTracker())
	assert.ErrorIs(t, err, ErrDraftingExhausted)
}

func TestDraftingFailureFallsBackToPriorDraft(t *testing.T) {
	// Attempt 1 completes but fails the citation gate; attempt 2's first
	// call breaks hard. The prior draft comes back degraded.
	var call int32
	fake := &llm.FakeReasoner{Fn: func(p llm.Prompt) (string, error) {
		n := atomic.AddInt32(&call, 1)
		if n > 3 {
			return "", errors.New("provider down")
		}
		switch n {
		case 1:
			return goodIntro, nil
		case 2:
			return badBody, nil
		default:
			return goodConcl, nil
		}
	}}
	syn := New(fake, laxChain(), Options{MaxAttempts: 3, CallTimeout: time.Second}, zap.NewNop())

	draft, err := syn.Run(context.Background(), "q", testSourceList(), testAnalyses(), roomyTracker())
	require.NoError(t, err)
	assert.True(t, draft.Degraded)
	assert.Equal(t, 1, draft.Attempt)
	assert.NotEmpty(t, draft.Warnings)
}

func TestSectionCallRetriesOnce(t *testing.T) {
	var call int32
	fake := &llm.FakeReasoner{Fn: func(p llm.Prompt) (string, error) {
		if atomic.AddInt32(&call, 1) == 1 {
			return "", llm.ErrRateLimited
		}
		return goodBody, nil
	}}
	syn := New(fake, laxChain(), Options{MaxAttempts: 2, CallTimeout: time.Second}, zap.NewNop())

	draft, err := syn.Run(context.Background(), "q", testSourceList(), testAnalyses(), roomyTracker())
	require.NoError(t, err)
	assert.False(t, draft.Degraded)
	assert.Equal(t, 4, fake.CallCount(), "one retry for the failed intro call")
}
