package detect

import (
	"fmt"
	"time"

	"github.com/vigilsec/vigilsec/internal/activity"
)

const (
	shortSessionRatio    = 0.1
	automatedMsgRatio    = 5.0
	unusualHourDistance  = 3 // hours from the nearest typical hour
	sessionFreqWindow    = time.Hour
	sessionFreqThreshold = 5
)

// detectChat scores a chat session against the user's profile.
func detectChat(ctx Context, act activity.Activity, attrs activity.ChatAttrs) []Finding {
	var findings []Finding
	sens := ctx.sensitivity()
	p := ctx.Profile

	if p.Mature() && p.SessionDuration.Mean > 0 {
		ratio := attrs.Duration.Seconds() / p.SessionDuration.Mean
		switch {
		case ratio > p.Thresholds.SessionDurationRatio*sens:
			findings = append(findings, Finding{
				Reason: fmt.Sprintf("Unusually long session: %.1fx normal duration", ratio),
			})
		case ratio < shortSessionRatio && attrs.Duration > 0:
			findings = append(findings, Finding{
				Reason: fmt.Sprintf("Suspiciously short session: %.2fx normal duration", ratio),
			})
		}
	}

	if p.Mature() && p.ActionsPerSession.Mean > 0 {
		ratio := float64(attrs.MessageCount) / p.ActionsPerSession.Mean
		if ratio > automatedMsgRatio {
			findings = append(findings, Finding{
				Reason: fmt.Sprintf("Potential automated behavior: message rate %.1fx normal", ratio),
			})
		} else if ratio > p.Thresholds.MessageCountRatio*sens {
			findings = append(findings, Finding{
				Reason: fmt.Sprintf("High message volume: %.1fx normal", ratio),
			})
		}
	}

	if p != nil && len(p.TypicalHours) > 0 {
		hour := act.Timestamp.Hour()
		if dist := hourDistance(hour, p.TypicalHours); dist > unusualHourDistance {
			findings = append(findings, Finding{
				Reason: fmt.Sprintf("Activity at unusual hour: %02d:00, %dh from typical", hour, dist),
			})
		}
	}

	if n := countKind(ctx.Recent, "chat_session", act.Timestamp.Add(-sessionFreqWindow)); n > sessionFreqThreshold {
		findings = append(findings, Finding{
			Reason: fmt.Sprintf("High session frequency: %d sessions in the last hour", n),
		})
	}

	return findings
}

// hourDistance returns the minimum circular distance (in hours) from hour
// to any of the typical hours.
func hourDistance(hour int, typical []int) int {
	best := 24
	for _, t := range typical {
		d := hour - t
		if d < 0 {
			d = -d
		}
		if wrapped := 24 - d; wrapped < d {
			d = wrapped
		}
		if d < best {
			best = d
		}
	}
	return best
}

// countKind counts activities of the given kind with timestamps after cutoff.
func countKind(acts []activity.Activity, kind string, cutoff time.Time) int {
	n := 0
	for _, a := range acts {
		if a.ActivityType == kind && a.Timestamp.After(cutoff) {
			n++
		}
	}
	return n
}
