package llm

import (
	"context"
	"sync"
)

// FakeReasoner is a scripted Reasoner for tests. Responses are consumed in
// order; Fn, when set, takes precedence and receives every prompt.
type FakeReasoner struct {
	mu        sync.Mutex
	Responses []string
	Errs      []error
	Fn        func(prompt Prompt) (string, error)

	Calls []Prompt
}

func (f *FakeReasoner) Complete(ctx context.Context, prompt Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, prompt)

	if f.Fn != nil {
		return f.Fn(prompt)
	}
	idx := len(f.Calls) - 1
	if idx < len(f.Errs) && f.Errs[idx] != nil {
		return "", f.Errs[idx]
	}
	if idx < len(f.Responses) {
		return f.Responses[idx], nil
	}
	if len(f.Responses) > 0 {
		return f.Responses[len(f.Responses)-1], nil
	}
	return "", nil
}

// CallCount returns how many prompts the fake has served.
func (f *FakeReasoner) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}
