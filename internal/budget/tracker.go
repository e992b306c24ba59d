package budget

import (
	"time"

	"go.uber.org/zap"
)

// Tracker is the single deadline-context object for one session. It is
// created once at submission and passed by reference through every stage;
// stages query Remaining()/StageAllowance() and never compute elapsed time
// themselves.
//
// Tracker is read-only after construction apart from the injected clock, so
// it is safe for concurrent readers without locking.
type Tracker struct {
	start  time.Time
	total  time.Duration
	margin time.Duration // reserved for orderly finalization
	floor  time.Duration // minimum allowance any stage receives
	window time.Duration // degradation window before total expiry

	now    func() time.Time
	logger *zap.Logger
}

// Options configures a Tracker.
type Options struct {
	Total         time.Duration
	SafetyMargin  time.Duration
	StageFloor    time.Duration
	DegradeWindow time.Duration

	// Now overrides the clock; tests use it to simulate elapsed time.
	Now func() time.Time
}

// NewTracker starts the clock for a session.
func NewTracker(opts Options, logger *zap.Logger) *Tracker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		start:  opts.Now(),
		total:  opts.Total,
		margin: opts.SafetyMargin,
		floor:  opts.StageFloor,
		window: opts.DegradeWindow,
		now:    opts.Now,
		logger: logger,
	}
	logger.Debug("Budget tracker started",
		zap.Duration("total", t.total),
		zap.Duration("safety_margin", t.margin),
		zap.Duration("degrade_window", t.window),
	)
	return t
}

// Elapsed returns wall-clock time since session start.
func (t *Tracker) Elapsed() time.Duration {
	return t.now().Sub(t.start)
}

// Remaining returns the unspent portion of the total budget, never negative.
func (t *Tracker) Remaining() time.Duration {
	r := t.total - t.Elapsed()
	if r < 0 {
		return 0
	}
	return r
}

// Expired reports whether the total budget is exhausted.
func (t *Tracker) Expired() bool {
	return t.Remaining() == 0
}

// StageAllowance returns the timeout a stage may claim right now:
// min(nominal, max(floor, remaining - margin)). The result shrinks as
// elapsed time grows and never drops below the configured floor, so no
// stage can claim more than what is left while every stage gets a usable
// slice.
func (t *Tracker) StageAllowance(nominal time.Duration) time.Duration {
	avail := t.Remaining() - t.margin
	if avail < t.floor {
		avail = t.floor
	}
	if nominal < avail {
		return nominal
	}
	return avail
}

// InDegradationWindow reports whether remaining budget has crossed the
// degradation threshold. Once true the synthesizer must stop regenerating
// and return the best available draft.
func (t *Tracker) InDegradationWindow() bool {
	return t.Remaining() <= t.window
}

// Deadline returns the absolute point at which the budget expires.
func (t *Tracker) Deadline() time.Time {
	return t.start.Add(t.total)
}
