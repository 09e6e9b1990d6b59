package scheduler

import "time"

// fixedRate fires at first and then every period after it. Fire times are
// computed from the anchor, never from when the previous run finished, so
// the timeline does not drift.
type fixedRate struct {
	first  time.Time
	period time.Duration
}

// Next implements cron.Schedule.
func (s fixedRate) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	n := t.Sub(s.first)/s.period + 1
	return s.first.Add(n * s.period)
}
