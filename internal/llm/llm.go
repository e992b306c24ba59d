package llm

import (
	"context"
	"errors"
)

// Prompt is one reasoning-model request.
type Prompt struct {
	System string
	User   string
}

// Reasoner abstracts the reasoning-model call so the pipeline can be tested
// against a scripted fake. Implementations must respect ctx cancellation.
type Reasoner interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// ErrRateLimited is returned (or wrapped) when the upstream model rejects a
// call for quota reasons. Callers treat it as retryable with backoff.
var ErrRateLimited = errors.New("reasoning call rate limited")

// ErrMalformedResponse marks a response that did not conform to the
// requested schema. Retryable for that single call, never a pipeline fault.
var ErrMalformedResponse = errors.New("malformed reasoning response")

// Retryable reports whether a reasoning-call error should be retried with
// backoff rather than failing the item outright.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrMalformedResponse) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
