package detect

import (
	"fmt"
	"math"
	"time"

	"github.com/vigilsec/vigilsec/internal/activity"
)

const (
	criticalErrorRatio    = 10.0
	absoluteErrorElevated = 0.1 // flagged with no baseline
	absoluteErrorCritical = 0.5 // critical regardless of baseline
	criticalProcRatio     = 5.0
	fastProcRatio         = 0.1
	criticalMemoryRatio   = 3.0
	logVolumeWindow       = time.Hour
	zScoreMinSamples      = 5
)

// detectAgentOp scores one agent operation against the agent's profile.
func detectAgentOp(ctx Context, act activity.Activity, attrs activity.AgentOpAttrs) []Finding {
	var findings []Finding
	sens := ctx.sensitivity()
	p := ctx.Profile

	// Error rate. The absolute check runs regardless of baseline: an
	// agent failing half its operations is critical no matter what it
	// usually does.
	switch {
	case attrs.ErrorRate > absoluteErrorCritical:
		findings = append(findings, Finding{
			Reason: fmt.Sprintf("Critical error rate: %.0f%% of operations failing", attrs.ErrorRate*100),
		})
	case p.Mature() && p.ErrorRate.Mean > 0:
		ratio := attrs.ErrorRate / p.ErrorRate.Mean
		if ratio > criticalErrorRatio {
			findings = append(findings, Finding{
				Reason: fmt.Sprintf("Critical error rate: %.1fx typical", ratio),
			})
		} else if ratio > p.Thresholds.ErrorRateRatio*sens {
			findings = append(findings, Finding{
				Reason: fmt.Sprintf("High error rate: %.1fx typical", ratio),
			})
		}
	case attrs.ErrorRate > absoluteErrorElevated:
		findings = append(findings, Finding{
			Reason: fmt.Sprintf("Elevated error rate: %.2f with no baseline", attrs.ErrorRate),
		})
	}

	if p.Mature() && p.ProcessingTime.Mean > 0 {
		ratio := attrs.ProcessingTime.Seconds() / p.ProcessingTime.Mean
		switch {
		case ratio > criticalProcRatio:
			findings = append(findings, Finding{
				Reason: fmt.Sprintf("Critical processing delay: %.1fx typical time", ratio),
			})
		case ratio > p.Thresholds.ProcessingTimeRatio*sens:
			findings = append(findings, Finding{
				Reason: fmt.Sprintf("Slow processing: %.1fx typical time", ratio),
			})
		case ratio < fastProcRatio && attrs.ProcessingTime > 0:
			findings = append(findings, Finding{
				Reason: fmt.Sprintf("Suspiciously fast processing: %.2fx typical, possible bypass", ratio),
			})
		}
	}

	if p.Mature() && p.MemoryUsage.Mean > 0 {
		ratio := attrs.MemoryMB / p.MemoryUsage.Mean
		if ratio > criticalMemoryRatio {
			findings = append(findings, Finding{
				Reason: fmt.Sprintf("Critical memory usage: %.1fx typical, possible attack", ratio),
			})
		} else if ratio > p.Thresholds.MemoryRatio*sens {
			findings = append(findings, Finding{
				Reason: fmt.Sprintf("High memory usage: %.1fx typical", ratio),
			})
		}
	}

	// Log volume z-score over the rolling hour.
	zThreshold := 3.0
	if p != nil {
		zThreshold = p.Thresholds.ZScore
	}
	cutoff := act.Timestamp.Add(-logVolumeWindow)
	var volumes []float64
	for _, a := range ctx.Recent {
		if op, ok := a.Attrs.(activity.AgentOpAttrs); ok && a.Timestamp.After(cutoff) && !a.Timestamp.Equal(act.Timestamp) {
			volumes = append(volumes, op.LogVolume)
		}
	}
	if z, ok := zScore(attrs.LogVolume, volumes); ok && math.Abs(z) > zThreshold*sens {
		findings = append(findings, Finding{
			Reason: fmt.Sprintf("Unusual log volume: z-score %.1f", z),
		})
	}

	return findings
}

// zScore computes value's z-score against the history. Needs at least 5
// samples and nonzero spread.
func zScore(value float64, history []float64) (float64, bool) {
	if len(history) < zScoreMinSamples {
		return 0, false
	}
	var sum float64
	for _, v := range history {
		sum += v
	}
	mean := sum / float64(len(history))
	var sq float64
	for _, v := range history {
		d := v - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(history)))
	if std == 0 {
		return 0, false
	}
	return (value - mean) / std, true
}
