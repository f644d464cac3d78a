package detect

import (
	"fmt"
	"math"
	"time"

	"github.com/vigilsec/vigilsec/internal/activity"
)

const (
	patternWindow        = 24 * time.Hour
	patternMinSamples    = 5
	irregularVarRatio    = 2.0 // stddev > 2x mean interval
	regularVarRatio      = 0.1 // stddev < 0.1x mean interval
	regularMinSamples    = 10
	memoryLeakSlope      = 10.0 // MB per sample
	errorClusterMin      = 3
	errorClusterGap      = 5 * time.Minute
	elevatedErrorForClus = 0.1
)

// DetectAgentPatterns runs the window-level pattern rules for one agent:
// timing regularity, memory trend and error clustering. It is driven once
// per monitoring cycle per agent, not per activity.
func DetectAgentPatterns(ctx Context) []Finding {
	var findings []Finding
	now := time.Now()
	cutoff := now.Add(-patternWindow)

	var ops []activity.Activity
	for _, a := range ctx.Recent {
		if _, ok := a.Attrs.(activity.AgentOpAttrs); ok && a.Timestamp.After(cutoff) {
			ops = append(ops, a)
		}
	}

	if f, ok := timingFinding(ops); ok {
		findings = append(findings, f)
	}
	if f, ok := memoryTrendFinding(ops); ok {
		findings = append(findings, f)
	}
	if f, ok := errorClusterFinding(ops); ok {
		findings = append(findings, f)
	}
	return findings
}

// timingFinding inspects the variance of inter-activity intervals.
// Very high variance suggests erratic behavior; very low variance over
// enough samples suggests automation.
func timingFinding(ops []activity.Activity) (Finding, bool) {
	if len(ops) < patternMinSamples {
		return Finding{}, false
	}
	intervals := make([]float64, 0, len(ops)-1)
	for i := 1; i < len(ops); i++ {
		intervals = append(intervals, ops[i].Timestamp.Sub(ops[i-1].Timestamp).Seconds())
	}

	mean, std := meanStd(intervals)
	if mean <= 0 {
		return Finding{}, false
	}
	if std > irregularVarRatio*mean {
		return Finding{
			Reason: fmt.Sprintf("Irregular operation timing: interval spread %.1fx mean", std/mean),
		}, true
	}
	if std < regularVarRatio*mean && len(ops) > regularMinSamples {
		return Finding{
			Reason: "Highly regular operation timing: potential automation",
		}, true
	}
	return Finding{}, false
}

// memoryTrendFinding fits a linear trend to the window's memory samples.
func memoryTrendFinding(ops []activity.Activity) (Finding, bool) {
	if len(ops) < patternMinSamples {
		return Finding{}, false
	}
	samples := make([]float64, len(ops))
	for i, a := range ops {
		samples[i] = a.Attrs.(activity.AgentOpAttrs).MemoryMB
	}
	slope := linearSlope(samples)
	if slope > memoryLeakSlope {
		return Finding{
			Reason: fmt.Sprintf("Memory usage trending up: %.1f MB/sample, potential leak", slope),
		}, true
	}
	return Finding{}, false
}

// errorClusterFinding looks for bursts of elevated-error operations.
func errorClusterFinding(ops []activity.Activity) (Finding, bool) {
	var errTimes []time.Time
	for _, a := range ops {
		if a.Attrs.(activity.AgentOpAttrs).ErrorRate > elevatedErrorForClus {
			errTimes = append(errTimes, a.Timestamp)
		}
	}
	if len(errTimes) < errorClusterMin {
		return Finding{}, false
	}

	var total time.Duration
	for i := 1; i < len(errTimes); i++ {
		total += errTimes[i].Sub(errTimes[i-1])
	}
	meanGap := total / time.Duration(len(errTimes)-1)
	if meanGap < errorClusterGap {
		return Finding{
			Reason: fmt.Sprintf("Error clustering detected: %d elevated-error operations within minutes", len(errTimes)),
		}, true
	}
	return Finding{}, false
}

func meanStd(vals []float64) (mean, std float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean = sum / float64(len(vals))
	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(vals)))
}

// linearSlope returns the least-squares slope of vals against their index.
func linearSlope(vals []float64) float64 {
	n := float64(len(vals))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range vals {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
