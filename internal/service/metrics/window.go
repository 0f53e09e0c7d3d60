package metrics

import (
	"time"

	"github.com/splax/streamhealth/internal/domain"
)

// Window is a query range aligned to its period.
type Window struct {
	Period domain.Period
	Start  time.Time
	End    time.Time
}

// AlignDown snaps t to the closest period boundary at or before it.
func AlignDown(t time.Time, p domain.Period) time.Time {
	step := p.Seconds()
	if step <= 0 {
		return t.Truncate(time.Second).UTC()
	}
	unix := t.Unix()
	q := unix / step
	if unix%step != 0 && unix < 0 {
		q--
	}
	return time.Unix(q*step, 0).UTC()
}

// AlignUp snaps t to the closest period boundary at or after it.
func AlignUp(t time.Time, p domain.Period) time.Time {
	down := AlignDown(t, p)
	if down.Equal(t) || p.Seconds() <= 0 {
		return down
	}
	return down.Add(p.Duration())
}

// AlignWindow picks the period for a range and aligns both ends to it.
//
// Rounding the start down moves it further into the past, which can push it
// over a retention threshold into a coarser period. When that happens the
// start is rounded up instead so the chosen period stays valid for the whole
// window. The end is always rounded up.
func AlignWindow(start, end, now time.Time) Window {
	period := SelectPeriod(start, now)
	alignedStart := AlignDown(start, period)
	if SelectPeriod(alignedStart, now) != period {
		alignedStart = AlignUp(start, period)
	}
	alignedEnd := AlignUp(end, period)
	if alignedEnd.Before(alignedStart) {
		alignedEnd = alignedStart
	}
	return Window{Period: period, Start: alignedStart, End: alignedEnd}
}
