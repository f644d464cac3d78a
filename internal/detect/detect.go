// Package detect holds the rule-based anomaly detectors. Each detector is
// a pure function comparing one activity (or, for the agent pattern rules,
// a window of activities) against the owning entity's profile. A detector
// that cannot compute a ratio because the profile has no baseline yet
// skips that check rather than failing.
package detect

import (
	"github.com/vigilsec/vigilsec/internal/activity"
	"github.com/vigilsec/vigilsec/internal/profile"
)

// Finding is one anomaly observation. The reason text carries the
// severity-relevant keywords the scorer weighs.
type Finding struct {
	Reason string
}

// Context carries everything a detector may consult beyond the activity
// itself.
type Context struct {
	// Profile may be nil or immature; detectors degrade gracefully.
	Profile *profile.Profile
	// Recent is a snapshot of the entity's activity buffer, insertion
	// ordered, used by the frequency and pattern rules.
	Recent []activity.Activity
	// Sensitivity scales the trigger thresholds. 1.0 is baseline; the
	// enhanced-monitoring mitigation lowers it to 0.7 so anomalies
	// trip earlier.
	Sensitivity float64
}

func (c Context) sensitivity() float64 {
	if c.Sensitivity <= 0 {
		return 1.0
	}
	return c.Sensitivity
}

// Detect runs the detector matching the activity's attribute variant.
func Detect(ctx Context, act activity.Activity) []Finding {
	switch attrs := act.Attrs.(type) {
	case activity.ChatAttrs:
		return detectChat(ctx, act, attrs)
	case activity.BookingAttrs:
		return detectBooking(ctx, act, attrs)
	case activity.AgentOpAttrs:
		return detectAgentOp(ctx, act, attrs)
	case activity.MetricAttrs:
		return detectSystemMetric(ctx, act, attrs)
	}
	return nil
}
