package orchestrator

import "time"

// TimeoutController measures how long the current job has been running and
// force-fails it once the ceiling is reached.
type TimeoutController struct {
	clock     Clock
	ceiling   time.Duration
	startedAt time.Time
	stoppedAt time.Time
	timer     Timer
}

func NewTimeoutController(clock Clock, ceiling time.Duration) *TimeoutController {
	return &TimeoutController{clock: clock, ceiling: ceiling}
}

// Start arms the deadline relative to startedAt, which may lie in the past
// when a job is resumed. An expired deadline fires on the next clock turn.
func (t *TimeoutController) Start(startedAt time.Time, onTimeout func()) {
	t.Stop()
	t.startedAt = startedAt
	t.stoppedAt = time.Time{}

	remaining := t.ceiling - t.clock.Now().Sub(startedAt)
	if remaining < 0 {
		remaining = 0
	}
	t.timer = t.clock.AfterFunc(remaining, onTimeout)
}

// Stop disarms the deadline and freezes Elapsed.
func (t *TimeoutController) Stop() {
	stopTimer(t.timer)
	t.timer = nil
	if !t.startedAt.IsZero() && t.stoppedAt.IsZero() {
		t.stoppedAt = t.clock.Now()
	}
}

// Elapsed is the time since Start, or until Stop once stopped.
func (t *TimeoutController) Elapsed() time.Duration {
	if t.startedAt.IsZero() {
		return 0
	}
	end := t.stoppedAt
	if end.IsZero() {
		end = t.clock.Now()
	}
	if end.Before(t.startedAt) {
		return 0
	}
	return end.Sub(t.startedAt)
}

func (t *TimeoutController) StartedAt() time.Time { return t.startedAt }

// Reset forgets the last job entirely.
func (t *TimeoutController) Reset() {
	t.Stop()
	t.startedAt = time.Time{}
	t.stoppedAt = time.Time{}
}
