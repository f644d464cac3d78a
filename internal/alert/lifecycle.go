package alert

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vigilsec/vigilsec/internal/activity"
	"github.com/vigilsec/vigilsec/internal/score"
)

// SweepCoordinated groups the alerts raised in the last hour by type and
// synthesizes one coordinated_<type> alert for any group of three or more.
// Idempotent: a window fingerprint produces at most one synthetic alert.
func (m *Manager) SweepCoordinated(ctx context.Context) []*Alert {
	m.mu.Lock()
	now := time.Now()

	groups := make(map[string][]*Alert)
	for _, a := range m.allLocked() {
		if synthetic(a.AlertType) || now.Sub(a.DetectedAt) > coordinatedWindow {
			continue
		}
		groups[a.AlertType] = append(groups[a.AlertType], a)
	}

	var created []*Alert
	for alertType, members := range groups {
		if len(members) < coordinatedMinAlerts {
			continue
		}
		ids := make([]string, len(members))
		for i, a := range members {
			ids[i] = a.ID
		}
		sort.Strings(ids)
		fp := alertType + ":" + strings.Join(ids, ",")
		if m.coordinated[fp] {
			continue
		}
		m.coordinated[fp] = true

		a := &Alert{
			ID:            uuid.New().String(),
			EntityID:      "multiple",
			EntityType:    members[0].EntityType,
			AlertType:     coordinatedPrefix + alertType,
			Severity:      score.SeverityHigh,
			Title:         title(coordinatedPrefix + alertType),
			Description:   fmt.Sprintf("%d %s alerts within one hour suggest coordinated activity", len(members), alertType),
			AnomalyScore:  0.85,
			Confidence:    0.8,
			Indicators:    []string{fmt.Sprintf("Member alerts: %s", strings.Join(ids, ", "))},
			DetectedAt:    now,
			Status:        StatusNew,
			RelatedAlerts: ids,
		}
		m.storeLocked(a)
		created = append(created, a)
	}
	m.mu.Unlock()

	for _, a := range created {
		m.announce(ctx, a, "security", "priority")
	}
	return created
}

// SweepPersistent synthesizes one persistent_anomaly alert for any entity
// with five or more alerts in the trailing seven days and no open
// persistent_anomaly alert already.
func (m *Manager) SweepPersistent(ctx context.Context) []*Alert {
	m.mu.Lock()
	now := time.Now()
	cutoff := now.Add(-persistentWindow)

	counts := make(map[activity.Key]int)
	openPersistent := make(map[activity.Key]bool)
	for _, a := range m.allLocked() {
		key := a.Entity()
		if a.AlertType == TypePersistent && !a.Status.Terminal() {
			openPersistent[key] = true
			continue
		}
		if !synthetic(a.AlertType) && a.DetectedAt.After(cutoff) {
			counts[key]++
		}
	}

	var created []*Alert
	for key, n := range counts {
		if n < persistentMinAlerts || openPersistent[key] {
			continue
		}
		a := &Alert{
			ID:           uuid.New().String(),
			EntityID:     key.ID,
			EntityType:   key.Type,
			AlertType:    TypePersistent,
			Severity:     score.SeverityHigh,
			Title:        title(TypePersistent),
			Description:  fmt.Sprintf("%d alerts for %s in the last 7 days", n, key.String()),
			AnomalyScore: 0.85,
			Confidence:   0.9,
			Indicators:   []string{fmt.Sprintf("Alert count over 7 days: %d", n)},
			DetectedAt:   now,
			Status:       StatusNew,
		}
		m.storeLocked(a)
		created = append(created, a)
	}
	m.mu.Unlock()

	for _, a := range created {
		m.announce(ctx, a, "security", "priority")
	}
	return created
}

// Escalate moves every high or critical alert that has sat in status new
// for at least 15 minutes to escalated and requests a priority
// notification for each.
func (m *Manager) Escalate(ctx context.Context) []*Alert {
	m.mu.Lock()
	now := time.Now()
	var escalated []*Alert
	for _, a := range m.active {
		if a.Status != StatusNew || !a.Severity.AtLeast(score.SeverityHigh) {
			continue
		}
		if now.Sub(a.DetectedAt) < escalationAge {
			continue
		}
		a.Status = StatusEscalated
		if m.history != nil {
			m.history.Record(*a)
		}
		escalated = append(escalated, a)
		m.logger.Warn("alert escalated",
			"alert_id", a.ID,
			"entity", a.Entity().String(),
			"severity", string(a.Severity),
			"age", now.Sub(a.DetectedAt).Round(time.Second).String(),
		)
	}
	m.mu.Unlock()

	for _, a := range escalated {
		m.announce(ctx, a, "priority", "priority")
	}
	return escalated
}

// Cleanup drops terminal alerts from the active set 24 hours after they
// reached their terminal status. They remain in the recent cache and the
// durable history for correlation and risk lookups.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, a := range m.active {
		if a.Status.Terminal() && now.Sub(a.ResolvedAt) >= terminalRetention {
			delete(m.active, id)
			removed++
		}
	}
	return removed
}

// Investigate moves an alert from new to investigating.
func (m *Manager) Investigate(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.active[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status.Terminal() {
		return ErrTerminal
	}
	if a.Status != StatusNew {
		return ErrBadState
	}
	a.Status = StatusInvestigating
	if m.history != nil {
		m.history.Record(*a)
	}
	return nil
}

// Resolve closes an alert with the given notes. falsePositive selects the
// false_positive terminal status instead of resolved.
func (m *Manager) Resolve(id, notes string, falsePositive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.active[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status.Terminal() {
		return ErrTerminal
	}
	if falsePositive {
		a.Status = StatusFalsePositive
	} else {
		a.Status = StatusResolved
	}
	a.Resolution = notes
	a.ResolvedAt = time.Now()
	if m.history != nil {
		m.history.Record(*a)
	}
	m.logger.Info("alert resolved",
		"alert_id", a.ID,
		"status", string(a.Status),
	)
	return nil
}

// Get returns a copy of an alert from the active set or the recent cache.
func (m *Manager) Get(id string) (Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.active[id]; ok {
		return *a, true
	}
	if a, ok := m.recent.Peek(id); ok {
		return *a, true
	}
	return Alert{}, false
}

// Filter selects active alerts.
type Filter struct {
	Severity score.Severity
	EntityID string
}

// Active returns copies of the non-terminal active alerts matching the
// filter, newest first.
func (m *Manager) Active(f Filter) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Alert
	for _, a := range m.active {
		if a.Status.Terminal() {
			continue
		}
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		if f.EntityID != "" && a.EntityID != f.EntityID {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out
}

// CountsBySeverity tallies the non-terminal active alerts.
func (m *Manager) CountsBySeverity() map[score.Severity]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[score.Severity]int)
	for _, a := range m.active {
		if !a.Status.Terminal() {
			counts[a.Severity]++
		}
	}
	return counts
}

// CountSince counts alerts detected after t, active or recent.
func (m *Manager) CountSince(t time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, a := range m.allLocked() {
		if a.DetectedAt.After(t) {
			n++
		}
	}
	return n
}

// EntityRisk is one entry of the top-risk ranking.
type EntityRisk struct {
	EntityID   string              `json:"entity_id"`
	EntityType activity.EntityType `json:"entity_type"`
	RiskScore  float64             `json:"risk_score"` // cumulative 7-day anomaly score
	AlertCount int                 `json:"alert_count"`
}

// TopRisk ranks entities by cumulative anomaly score over the trailing
// seven days and returns the top n.
func (m *Manager) TopRisk(n int) []EntityRisk {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-persistentWindow)
	byEntity := make(map[activity.Key]*EntityRisk)
	for _, a := range m.allLocked() {
		if !a.DetectedAt.After(cutoff) || a.EntityID == "multiple" {
			continue
		}
		key := a.Entity()
		r, ok := byEntity[key]
		if !ok {
			r = &EntityRisk{EntityID: key.ID, EntityType: key.Type}
			byEntity[key] = r
		}
		r.RiskScore += a.AnomalyScore
		r.AlertCount++
	}

	ranked := make([]EntityRisk, 0, len(byEntity))
	for _, r := range byEntity {
		ranked = append(ranked, *r)
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].RiskScore > ranked[j].RiskScore })
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
