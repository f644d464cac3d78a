package detect

import (
	"fmt"
	"time"

	"github.com/vigilsec/vigilsec/internal/activity"
)

const (
	bookingFreqWindow    = 7 * 24 * time.Hour
	bookingFreqThreshold = 3
	bookingCostRatio     = 2.0
)

// detectBooking flags unusual booking frequency and cost for a user.
func detectBooking(ctx Context, act activity.Activity, attrs activity.BookingAttrs) []Finding {
	var findings []Finding

	if n := countKind(ctx.Recent, "service_booking", act.Timestamp.Add(-bookingFreqWindow)); n > bookingFreqThreshold {
		findings = append(findings, Finding{
			Reason: fmt.Sprintf("High booking frequency: %d bookings in 7 days", n),
		})
	}

	// Compare against the average cost of the user's recent bookings,
	// excluding the one under test.
	var sum float64
	var count int
	for _, a := range ctx.Recent {
		b, ok := a.Attrs.(activity.BookingAttrs)
		if !ok || a.Timestamp.Equal(act.Timestamp) {
			continue
		}
		sum += b.Cost
		count++
	}
	if count > 0 {
		avg := sum / float64(count)
		if avg > 0 && attrs.Cost > bookingCostRatio*avg {
			findings = append(findings, Finding{
				Reason: fmt.Sprintf("Unusual booking cost: %.2f vs %.2f average", attrs.Cost, avg),
			})
		}
	}

	return findings
}
