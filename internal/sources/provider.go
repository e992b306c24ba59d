package sources

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/meridianhq/quill/internal/circuitbreaker"
	"github.com/meridianhq/quill/internal/metrics"
	"github.com/meridianhq/quill/internal/models"
)

// Provider is one named source-provider strategy. The fetcher iterates an
// ordered list of these until one succeeds; adding a third provider is a
// pure extension of the list.
type Provider interface {
	Name() string
	Provenance() models.Provenance
	Fetch(ctx context.Context, query string) ([]models.SourceRecord, error)
}

// ProviderFailure records one provider's failure inside a chain attempt.
type ProviderFailure struct {
	Provider string
	Message  string
}

// ProviderUnavailableError means every provider in the chain failed. It
// carries each underlying message verbatim so callers can see all of them.
type ProviderUnavailableError struct {
	Failures []ProviderFailure
}

func (e *ProviderUnavailableError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Provider, f.Message))
	}
	return "all source providers failed: " + strings.Join(parts, "; ")
}

// InsufficientSourcesError means providers succeeded but the validated set
// is too thin to analyze. Distinct from ProviderUnavailableError: the
// fallback chain is NOT consulted for this.
type InsufficientSourcesError struct {
	Validated int
	Venues    int
	Effective float64

	MinSources   int
	MinVenues    int
	MinEffective float64
}

func (e *InsufficientSourcesError) Error() string {
	return fmt.Sprintf(
		"insufficient sources: %d validated (need %d), %d venues (need %d), effective count %.2f (need %.2f)",
		e.Validated, e.MinSources, e.Venues, e.MinVenues, e.Effective, e.MinEffective)
}

// Chain is an ordered list of provider strategies. Each provider sits
// behind its own circuit breaker so a hard-down provider fails fast to the
// next one instead of eating the fetch allowance on every session.
type Chain struct {
	providers []Provider
	breakers  []*circuitbreaker.Breaker
	logger    *zap.Logger
}

// NewChain builds a chain; order is fallback order.
func NewChain(logger *zap.Logger, providers ...Provider) *Chain {
	breakers := make([]*circuitbreaker.Breaker, len(providers))
	for i, p := range providers {
		breakers[i] = circuitbreaker.New(p.Name(), circuitbreaker.DefaultConfig(), logger)
	}
	return &Chain{providers: providers, breakers: breakers, logger: logger}
}

// Fetch tries each provider in order. A provider that returns without error
// wins, even if its result list is thin; thinness is the sufficiency
// check's business, not the chain's. If every provider errors, the returned
// ProviderUnavailableError carries all of their messages.
func (c *Chain) Fetch(ctx context.Context, query string) ([]models.SourceRecord, models.Provenance, error) {
	var failures []ProviderFailure

	for i, p := range c.providers {
		if i > 0 {
			metrics.ProviderFallbacks.Inc()
		}
		var records []models.SourceRecord
		err := c.breakers[i].Execute(ctx, func() error {
			var ferr error
			records, ferr = p.Fetch(ctx, query)
			return ferr
		})
		if err != nil {
			metrics.ProviderFetches.WithLabelValues(p.Name(), "error").Inc()
			c.logger.Warn("Source provider failed, trying next",
				zap.String("provider", p.Name()),
				zap.Error(err),
			)
			failures = append(failures, ProviderFailure{Provider: p.Name(), Message: err.Error()})
			continue
		}
		metrics.ProviderFetches.WithLabelValues(p.Name(), "ok").Inc()
		c.logger.Info("Source provider succeeded",
			zap.String("provider", p.Name()),
			zap.Int("records", len(records)),
		)
		return records, p.Provenance(), nil
	}

	return nil, "", &ProviderUnavailableError{Failures: failures}
}
