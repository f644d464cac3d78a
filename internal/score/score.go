// Package score aggregates anomaly findings into an anomaly score, a
// severity level and a confidence value. The keyword tables below encode
// the system's actual alerting behavior; they are kept as explicit data,
// not re-derived thresholds.
package score

import (
	"strings"

	"github.com/vigilsec/vigilsec/internal/detect"
	"github.com/vigilsec/vigilsec/internal/profile"
)

// Severity is an alert's severity level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for comparison; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	}
	return 0
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// keywordWeights maps severity-relevant keywords found in finding text to
// anomaly weights. The most severe matching keyword wins; findings with no
// match weigh defaultWeight.
var keywordWeights = []struct {
	keyword string
	weight  float64
}{
	{"critical", 1.0},
	{"suspicious", 0.9},
	{"high", 0.9},
	{"potential", 0.8},
	{"error", 0.8},
	{"memory", 0.7},
	{"unusual", 0.6},
}

const defaultWeight = 0.5

// criticalAlertTypes always escalate the derived severity one tier.
var criticalAlertTypes = map[string]bool{
	"security_unauthorized_access": true,
	"security_failed_login":        true,
	"privilege_escalation":         true,
	"data_exfiltration":            true,
}

// escalationKeywords in any finding escalate the severity one tier.
var escalationKeywords = []string{"critical", "compromise", "attack", "breach"}

// strongConfidenceKeywords add 0.1 confidence per matching finding;
// moderateConfidenceKeywords add 0.05.
var (
	strongConfidenceKeywords   = []string{"critical", "5x", "10x", "z-score"}
	moderateConfidenceKeywords = []string{"2x", "3x", "unusual", "high"}
)

// Context is the historical backdrop for scoring one batch of findings.
type Context struct {
	// Profile is the entity's baseline, nil if none exists yet.
	Profile *profile.Profile
	// ActivityCount is the entity's buffered activity count.
	ActivityCount int
	// AlertsLast24h counts the entity's alerts in the trailing 24 hours.
	AlertsLast24h int
	// HighSeverityLast48h counts high/critical alerts in the trailing 48h.
	HighSeverityLast48h int
}

// Result is the scorer's output. AnomalyScore and Confidence are always
// in [0, 1].
type Result struct {
	AnomalyScore float64
	Severity     Severity
	Confidence   float64
}

// Score aggregates the findings for one prospective alert.
func Score(ctx Context, alertType string, findings []detect.Finding) Result {
	score := anomalyScore(ctx, findings)
	return Result{
		AnomalyScore: score,
		Severity:     severity(ctx, alertType, findings, score),
		Confidence:   confidence(ctx, findings),
	}
}

func anomalyScore(ctx Context, findings []detect.Finding) float64 {
	if len(findings) == 0 {
		return 0
	}
	base := min(0.3*float64(len(findings)), 1.0)

	var sum float64
	for _, f := range findings {
		sum += findingWeight(f.Reason)
	}
	weighted := sum / float64(len(findings))
	if ctx.AlertsLast24h > 2 {
		weighted *= 1.2
	}

	return min(max(base, weighted), 1.0)
}

func findingWeight(reason string) float64 {
	lower := strings.ToLower(reason)
	best := 0.0
	for _, kw := range keywordWeights {
		if strings.Contains(lower, kw.keyword) && kw.weight > best {
			best = kw.weight
		}
	}
	if best == 0 {
		return defaultWeight
	}
	return best
}

func severity(ctx Context, alertType string, findings []detect.Finding, score float64) Severity {
	var sev Severity
	switch {
	case score >= 0.8:
		sev = SeverityCritical
	case score >= 0.6:
		sev = SeverityHigh
	case score >= 0.4:
		sev = SeverityMedium
	default:
		sev = SeverityLow
	}

	if criticalAlertTypes[alertType] || hasAnyKeyword(findings, escalationKeywords) {
		sev = escalate(sev)
	}

	if ctx.HighSeverityLast48h > 1 && !sev.AtLeast(SeverityMedium) {
		sev = SeverityMedium
	}
	return sev
}

func escalate(s Severity) Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

func confidence(ctx Context, findings []detect.Finding) float64 {
	conf := 0.7
	if ctx.Profile != nil {
		conf = min(ctx.Profile.ConfidenceScore+0.3, 0.95)
	}

	for _, f := range findings {
		lower := strings.ToLower(f.Reason)
		if containsAny(lower, strongConfidenceKeywords) {
			conf += 0.1
		} else if containsAny(lower, moderateConfidenceKeywords) {
			conf += 0.05
		}
	}

	if ctx.ActivityCount > 100 {
		conf += 0.1
	} else if ctx.ActivityCount < 10 {
		conf -= 0.2
	}

	return min(max(conf, 0.3), 0.95)
}

func hasAnyKeyword(findings []detect.Finding, keywords []string) bool {
	for _, f := range findings {
		if containsAny(strings.ToLower(f.Reason), keywords) {
			return true
		}
	}
	return false
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
