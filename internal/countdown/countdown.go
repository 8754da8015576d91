package countdown

import (
	"fmt"
	"time"

	"github.com/rickgao/freightline/internal/model"
)

// Urgency buckets the remaining time of a bid window.
type Urgency string

const (
	UrgencyCritical Urgency = "critical" // under 10 minutes
	UrgencyWarning  Urgency = "warning"  // 10 to 20 minutes inclusive
	UrgencyNormal   Urgency = "normal"   // over 20 minutes
)

// Bucket thresholds.
const (
	CriticalBelow = 10 * time.Minute
	NormalAbove   = 20 * time.Minute
)

// ExpiredLabel replaces the remaining label once the window has closed.
const ExpiredLabel = "Expired"

// Projection is the display state of one window at one instant.
type Projection struct {
	Remaining time.Duration `json:"remaining"`
	Label     string        `json:"label"`
	Urgency   Urgency       `json:"urgency"`
	Progress  float64       `json:"progress"` // elapsed share of the window, 0..1
	Expired   bool          `json:"expired"`
}

// Project computes the projection of the window [bidAcceptedAt, expiresAt]
// at now.
func Project(expiresAt, bidAcceptedAt, now time.Time) Projection {
	remaining := expiresAt.Sub(now)
	p := Projection{
		Remaining: remaining,
		Progress:  progress(bidAcceptedAt, expiresAt, now),
	}
	if model.WindowClosed(expiresAt, now) {
		p.Remaining = 0
		p.Label = ExpiredLabel
		p.Urgency = UrgencyCritical
		p.Expired = true
		p.Progress = 1
		return p
	}
	p.Label = Label(remaining)
	p.Urgency = UrgencyFor(remaining)
	return p
}

// UrgencyFor buckets a positive remaining duration.
func UrgencyFor(remaining time.Duration) Urgency {
	switch {
	case remaining < CriticalBelow:
		return UrgencyCritical
	case remaining > NormalAbove:
		return UrgencyNormal
	default:
		return UrgencyWarning
	}
}

// Label formats remaining as "1h 05m 09s" or "4m 07s", truncated to the
// second.
func Label(remaining time.Duration) string {
	if remaining <= 0 {
		return ExpiredLabel
	}
	total := int64(remaining / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	}
	return fmt.Sprintf("%dm %02ds", m, s)
}

func progress(start, end, now time.Time) float64 {
	total := end.Sub(start)
	if total <= 0 {
		return 1
	}
	f := float64(now.Sub(start)) / float64(total)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
