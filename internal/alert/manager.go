package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"

	"github.com/vigilsec/vigilsec/internal/activity"
	"github.com/vigilsec/vigilsec/internal/detect"
	"github.com/vigilsec/vigilsec/internal/metrics"
	"github.com/vigilsec/vigilsec/internal/notify"
	"github.com/vigilsec/vigilsec/internal/profile"
	"github.com/vigilsec/vigilsec/internal/score"
)

const (
	suppressSameTypeWindow = time.Hour
	suppressSameTypeCount  = 2
	suppressLowConfWindow  = 30 * time.Minute
	correlationWindow      = 2 * time.Hour
	correlationProximity   = 30 * time.Minute
	correlationThreshold   = 0.5
	coordinatedWindow      = time.Hour
	coordinatedMinAlerts   = 3
	persistentWindow       = 7 * 24 * time.Hour
	persistentMinAlerts    = 5
	escalationAge          = 15 * time.Minute
	terminalRetention      = 24 * time.Hour
	recentCacheSize        = 512
)

// Errors returned by lifecycle transitions.
var (
	ErrNotFound = fmt.Errorf("alert: not found")
	ErrTerminal = fmt.Errorf("alert: already in a terminal status")
	ErrBadState = fmt.Errorf("alert: transition not allowed from current status")
)

// Manager owns the active alert set, the bounded alert-history cache used
// for correlation and risk lookups, and the durable history log. All state
// behind one mutex; the maps are small and every operation is O(active).
type Manager struct {
	mu     sync.Mutex
	active map[string]*Alert
	// recent keeps the last alerts raised, terminal or not, for
	// correlation and historical-density lookups after the active set
	// has been pruned.
	recent *lru.Cache[string, *Alert]
	// coordinated remembers which window fingerprints already produced
	// a coordinated alert, making the sweep idempotent.
	coordinated map[string]bool

	history  *History
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewManager creates an alert manager. history may be nil when durable
// storage is unavailable (degraded mode).
func NewManager(history *History, notifier notify.Notifier, logger *slog.Logger) *Manager {
	recent, _ := lru.New[string, *Alert](recentCacheSize)
	return &Manager{
		active:      make(map[string]*Alert),
		recent:      recent,
		coordinated: make(map[string]bool),
		history:     history,
		notifier:    notifier,
		logger:      logger,
	}
}

// RaiseInput carries everything Raise needs to score and contextualize a
// prospective alert.
type RaiseInput struct {
	Entity        activity.Key
	AlertType     string
	Findings      []detect.Finding
	Profile       *profile.Profile // nil if none
	ActivityCount int
}

// Raise scores the findings, builds the alert context, applies the
// suppression rules, stores the alert and correlates it against recent
// alerts. Returns nil when the findings were empty or the alert was
// suppressed.
func (m *Manager) Raise(ctx context.Context, in RaiseInput) *Alert {
	if len(in.Findings) == 0 {
		return nil
	}

	m.mu.Lock()
	now := time.Now()

	sctx := score.Context{
		Profile:             in.Profile,
		ActivityCount:       in.ActivityCount,
		AlertsLast24h:       m.countEntityLocked(in.Entity, now.Add(-24*time.Hour), score.SeverityLow),
		HighSeverityLast48h: m.countEntityLocked(in.Entity, now.Add(-48*time.Hour), score.SeverityHigh),
	}
	res := score.Score(sctx, in.AlertType, in.Findings)

	if m.suppressLocked(in.Entity, in.AlertType, res.Confidence, now) {
		m.mu.Unlock()
		metrics.AlertsSuppressed.Inc()
		m.logger.Debug("alert suppressed",
			"entity", in.Entity.String(),
			"alert_type", in.AlertType,
		)
		return nil
	}

	indicators := make([]string, len(in.Findings))
	for i, f := range in.Findings {
		indicators[i] = f.Reason
	}

	a := &Alert{
		ID:           uuid.New().String(),
		EntityID:     in.Entity.ID,
		EntityType:   in.Entity.Type,
		AlertType:    in.AlertType,
		Severity:     res.Severity,
		Title:        title(in.AlertType),
		Description:  fmt.Sprintf("%d anomaly findings for %s: %s", len(in.Findings), in.Entity.String(), indicators[0]),
		AnomalyScore: res.AnomalyScore,
		Confidence:   res.Confidence,
		Indicators:   indicators,
		Context:      m.buildContextLocked(in, now),
		DetectedAt:   now,
		Status:       StatusNew,
	}
	m.storeLocked(a)

	related := m.relatedLocked(a, now)
	var correlated *Alert
	if len(related) >= 2 {
		correlated = m.synthesizeCorrelatedLocked(a, related, now)
	}
	m.mu.Unlock()

	m.announce(ctx, a, "security", "")
	if correlated != nil {
		m.announce(ctx, correlated, "security", "priority")
	}
	return a
}

// suppressLocked applies the deduplication rules: at least two alerts of
// the same (entity, type) in the last hour, or a low-confidence alert
// arriving while a high-confidence one for the same entity is fresh.
func (m *Manager) suppressLocked(entity activity.Key, alertType string, confidence float64, now time.Time) bool {
	sameType := 0
	for _, a := range m.allLocked() {
		if a.Entity() != entity {
			continue
		}
		if a.AlertType == alertType && now.Sub(a.DetectedAt) <= suppressSameTypeWindow {
			sameType++
			if sameType >= suppressSameTypeCount {
				return true
			}
		}
		if confidence < 0.6 && a.Confidence > 0.8 && now.Sub(a.DetectedAt) <= suppressLowConfWindow {
			return true
		}
	}
	return false
}

func (m *Manager) buildContextLocked(in RaiseInput, now time.Time) Context {
	c := Context{RecentActivities: in.ActivityCount}
	if in.Profile != nil {
		c.Profile = &ProfileSummary{
			SampleSize:  in.Profile.SampleSize,
			Confidence:  in.Profile.ConfidenceScore,
			LastUpdated: in.Profile.LastUpdated,
		}
	}

	total := 0
	failedLogins24h := 0
	for _, a := range m.allLocked() {
		if a.Entity() != in.Entity {
			continue
		}
		total++
		if a.AlertType == TypeFailedLogin && now.Sub(a.DetectedAt) <= 24*time.Hour {
			failedLogins24h++
		}
	}
	c.HistoricalAlerts = total

	if total > 5 {
		c.RiskFactors = append(c.RiskFactors, "High alert frequency")
	}
	if in.Entity.Type == activity.EntityUser && failedLogins24h > 2 {
		c.RiskFactors = append(c.RiskFactors, "Multiple failed login attempts")
	}
	return c
}

// relatedLocked computes correlation scores between the trigger and every
// alert detected in the last two hours, returning those scoring at least
// the correlation threshold.
func (m *Manager) relatedLocked(trigger *Alert, now time.Time) []*Alert {
	var related []*Alert
	for _, a := range m.allLocked() {
		if a.ID == trigger.ID || synthetic(a.AlertType) {
			continue
		}
		if now.Sub(a.DetectedAt) > correlationWindow {
			continue
		}
		if correlationScore(trigger, a) >= correlationThreshold {
			related = append(related, a)
		}
	}
	return related
}

func correlationScore(a, b *Alert) float64 {
	s := 0.0
	if a.AlertType == b.AlertType {
		s += 0.4
	}
	gap := a.DetectedAt.Sub(b.DetectedAt)
	if gap < 0 {
		gap = -gap
	}
	if gap <= correlationProximity {
		s += 0.3
	}
	for _, ia := range a.Indicators {
		for _, ib := range b.Indicators {
			if ia == ib {
				s += 0.2
			}
		}
	}
	if a.EntityType == b.EntityType {
		s += 0.1
	}
	return s
}

func (m *Manager) synthesizeCorrelatedLocked(trigger *Alert, related []*Alert, now time.Time) *Alert {
	ids := make([]string, 0, len(related)+1)
	ids = append(ids, trigger.ID)
	entities := map[string]bool{trigger.Entity().String(): true}
	for _, r := range related {
		ids = append(ids, r.ID)
		entities[r.Entity().String()] = true
	}

	a := &Alert{
		ID:            uuid.New().String(),
		EntityID:      trigger.EntityID,
		EntityType:    trigger.EntityType,
		AlertType:     TypeCorrelated,
		Severity:      score.SeverityHigh,
		Title:         title(TypeCorrelated),
		Description:   fmt.Sprintf("%d related alerts across %d entities within 2 hours", len(ids), len(entities)),
		AnomalyScore:  0.9,
		Confidence:    0.85,
		Indicators:    []string{fmt.Sprintf("Correlated alerts: %s", strings.Join(ids, ", "))},
		DetectedAt:    now,
		Status:        StatusNew,
		RelatedAlerts: ids,
	}
	m.storeLocked(a)
	return a
}

// storeLocked inserts the alert into the active set, the recent cache and
// the durable history.
func (m *Manager) storeLocked(a *Alert) {
	m.active[a.ID] = a
	m.recent.Add(a.ID, a)
	if m.history != nil {
		m.history.Record(*a)
	}
	metrics.AlertsGenerated.WithLabelValues(string(a.Severity)).Inc()
	m.logger.Info("alert raised",
		"alert_id", a.ID,
		"entity", a.Entity().String(),
		"alert_type", a.AlertType,
		"severity", string(a.Severity),
		"anomaly_score", a.AnomalyScore,
		"confidence", a.Confidence,
	)
}

// allLocked iterates active alerts plus recent non-active ones exactly once.
func (m *Manager) allLocked() []*Alert {
	out := make([]*Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, a)
	}
	for _, id := range m.recent.Keys() {
		if _, isActive := m.active[id]; isActive {
			continue
		}
		if a, ok := m.recent.Peek(id); ok {
			out = append(out, a)
		}
	}
	return out
}

func (m *Manager) countEntityLocked(entity activity.Key, since time.Time, minSev score.Severity) int {
	n := 0
	for _, a := range m.allLocked() {
		if a.Entity() == entity && a.DetectedAt.After(since) && a.Severity.AtLeast(minSev) {
			n++
		}
	}
	return n
}

func (m *Manager) announce(ctx context.Context, a *Alert, channel, priority string) {
	m.notifier.Request(ctx, notify.Request{
		Channel:     channel,
		AlertID:     a.ID,
		EntityID:    a.EntityID,
		Severity:    string(a.Severity),
		Title:       a.Title,
		Description: a.Description,
		Indicators:  a.Indicators,
		Timestamp:   a.DetectedAt,
		Priority:    priority,
	})
}
