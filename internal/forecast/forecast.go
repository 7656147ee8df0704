package forecast

import "time"

// DefaultWindow is assumed when the upstream quota window length is unknown;
// Antigravity quotas reset on five-hour cycles.
const DefaultWindow = 5 * time.Hour

type Projection struct {
	// ProjectedRemaining is the estimated remaining fraction at window
	// reset. Negative means the quota runs out before the reset.
	ProjectedRemaining float64
	// OnTrack is true if some quota is projected to remain at reset.
	OnTrack bool
}

// Project estimates the remaining fraction at window reset, assuming the
// burn rate so far continues. remaining is 0-1, resetsAt is when the window
// resets, windowLen is the total window duration.
func Project(remaining float64, resetsAt time.Time, windowLen time.Duration) Projection {
	return projectAt(remaining, resetsAt, windowLen, time.Now())
}

func projectAt(remaining float64, resetsAt time.Time, windowLen time.Duration, now time.Time) Projection {
	left := resetsAt.Sub(now)
	elapsed := windowLen - left

	if elapsed <= 0 || remaining >= 1 {
		return Projection{ProjectedRemaining: remaining, OnTrack: true}
	}

	rate := (1 - remaining) / elapsed.Seconds()
	projected := 1 - rate*windowLen.Seconds()

	return Projection{
		ProjectedRemaining: projected,
		OnTrack:            projected > 0,
	}
}

// Indicator returns a short status string for the projection.
func (p Projection) Indicator() string {
	switch {
	case p.ProjectedRemaining <= 0:
		return "runs out"
	case p.ProjectedRemaining <= 0.1:
		return "tight"
	default:
		return "on track"
	}
}

// ColorIndicator returns an ANSI-colored indicator.
func (p Projection) ColorIndicator() string {
	switch {
	case p.ProjectedRemaining <= 0:
		return "\033[31m⚠ runs out\033[0m"
	case p.ProjectedRemaining <= 0.1:
		return "\033[33m~ tight\033[0m"
	default:
		return "\033[32m✓ on track\033[0m"
	}
}
