// Package alert owns the security alert lifecycle: creation, suppression,
// correlation, periodic sweeps, escalation, resolution and retention.
package alert

import (
	"strings"
	"time"

	"github.com/vigilsec/vigilsec/internal/activity"
	"github.com/vigilsec/vigilsec/internal/score"
)

// Status is an alert's lifecycle state. The status field is flat: an
// alert moves new → investigating → {resolved, false_positive}, or
// new → escalated. No alert is revived after a terminal status.
type Status string

const (
	StatusNew           Status = "new"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusFalsePositive Status = "false_positive"
	StatusEscalated     Status = "escalated"
)

// Terminal reports whether the status ends the alert's active life.
// Escalated alerts stay active until an operator resolves them.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusFalsePositive
}

// Well-known alert types.
const (
	TypeFailedLogin        = "security_failed_login"
	TypeUnauthorizedAccess = "security_unauthorized_access"
	TypeUserBehavior       = "user_behavior_anomaly"
	TypeAgentBehavior      = "agent_behavior_anomaly"
	TypeAgentHealth        = "agent_health_issue"
	TypeSystemBehavior     = "system_behavior_anomaly"
	TypeCorrelated         = "correlated_security_events"
	TypePersistent         = "persistent_anomaly"

	// Coordinated alerts are typed "coordinated_<original type>".
	coordinatedPrefix = "coordinated_"
)

// synthetic reports whether the type names an alert this engine
// synthesized from other alerts. Synthetic alerts are excluded from the
// windows that would otherwise synthesize more alerts from them.
func synthetic(alertType string) bool {
	return alertType == TypeCorrelated ||
		alertType == TypePersistent ||
		strings.HasPrefix(alertType, coordinatedPrefix)
}

// ProfileSummary is the entity-profile snapshot embedded in an alert.
type ProfileSummary struct {
	SampleSize  int       `json:"sample_size"`
	Confidence  float64   `json:"confidence"`
	LastUpdated time.Time `json:"last_updated"`
}

// Context is the structured snapshot captured when an alert is raised.
type Context struct {
	Profile          *ProfileSummary `json:"profile,omitempty"`
	RecentActivities int             `json:"recent_activities"`
	HistoricalAlerts int             `json:"historical_alerts"`
	RiskFactors      []string        `json:"risk_factors,omitempty"`
}

// Alert is one persisted, stateful security alert.
type Alert struct {
	ID           string              `json:"alert_id"`
	EntityID     string              `json:"entity_id"`
	EntityType   activity.EntityType `json:"entity_type"`
	AlertType    string              `json:"alert_type"`
	Severity     score.Severity      `json:"severity"`
	Title        string              `json:"title"`
	Description  string              `json:"description"`
	AnomalyScore float64             `json:"anomaly_score"`
	Confidence   float64             `json:"confidence"`
	Indicators   []string            `json:"indicators"`
	Context      Context             `json:"context"`
	DetectedAt   time.Time           `json:"detected_at"`
	Status       Status              `json:"status"`
	Resolution   string              `json:"resolution_notes,omitempty"`
	ResolvedAt   time.Time           `json:"resolved_at,omitzero"`

	// RelatedAlerts lists the alert ids a synthetic alert references.
	RelatedAlerts []string `json:"related_alerts,omitempty"`
}

// Entity returns the alert's entity key.
func (a *Alert) Entity() activity.Key {
	return activity.Key{Type: a.EntityType, ID: a.EntityID}
}

// title builds a human-readable title from an alert type.
func title(alertType string) string {
	words := strings.Split(alertType, "_")
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
