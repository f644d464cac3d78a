package detect

import (
	"fmt"
	"time"

	"github.com/vigilsec/vigilsec/internal/activity"
)

const metricWindow = 24 * time.Hour

// detectSystemMetric flags a metric sample whose z-score against the
// rolling 24h history of the same metric exceeds the threshold.
func detectSystemMetric(ctx Context, act activity.Activity, attrs activity.MetricAttrs) []Finding {
	sens := ctx.sensitivity()
	zThreshold := 3.0
	if ctx.Profile != nil {
		zThreshold = ctx.Profile.Thresholds.ZScore
	}

	cutoff := act.Timestamp.Add(-metricWindow)
	var history []float64
	for _, a := range ctx.Recent {
		m, ok := a.Attrs.(activity.MetricAttrs)
		if !ok || m.Name != attrs.Name {
			continue
		}
		if a.Timestamp.After(cutoff) && !a.Timestamp.Equal(act.Timestamp) {
			history = append(history, m.Value)
		}
	}

	z, ok := zScore(attrs.Value, history)
	if !ok {
		return nil
	}
	if z > zThreshold*sens || z < -zThreshold*sens {
		return []Finding{{
			Reason: fmt.Sprintf("Unusual %s: z-score %.1f (value %.2f)", attrs.Name, z, attrs.Value),
		}}
	}
	return nil
}
