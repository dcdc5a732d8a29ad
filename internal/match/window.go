package match

import "time"

// Window is a sliding-window counter for answer pacing. It keeps at most
// max timestamps, so memory is bounded regardless of client behaviour.
// It is not goroutine-safe; the runner is its only caller.
type Window struct {
	span  time.Duration
	max   int
	times []time.Time
}

// NewWindow returns a window allowing max events per span.
func NewWindow(max int, span time.Duration) *Window {
	return &Window{span: span, max: max, times: make([]time.Time, 0, max)}
}

// Allow reports whether an event at now is within the limit. Allowed
// events are recorded; rejected events are not, so a client cannot extend
// its own penalty by spamming.
func (w *Window) Allow(now time.Time) bool {
	cutoff := now.Add(-w.span)
	kept := w.times[:0]
	for _, t := range w.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.times = kept

	if len(w.times) >= w.max {
		return false
	}
	w.times = append(w.times, now)
	return true
}
