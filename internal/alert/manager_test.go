package alert

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/vigilsec/vigilsec/internal/activity"
	"github.com/vigilsec/vigilsec/internal/detect"
	"github.com/vigilsec/vigilsec/internal/notify"
	"github.com/vigilsec/vigilsec/internal/score"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager() *Manager {
	return NewManager(nil, notify.Discard{}, testLogger())
}

func userKey(id string) activity.Key {
	return activity.Key{Type: activity.EntityUser, ID: id}
}

// plainFindings produces findings with distinct text and no score keywords,
// so each test controls severity and correlation explicitly.
func plainFindings(label string) []detect.Finding {
	return []detect.Finding{{Reason: "Irregular gap in " + label}}
}

func TestRaiseBuildsAlert(t *testing.T) {
	m := newTestManager()
	a := m.Raise(context.Background(), RaiseInput{
		Entity:        userKey("u1"),
		AlertType:     TypeUserBehavior,
		Findings:      []detect.Finding{{Reason: "Unusually long session: 6.0x normal duration"}},
		ActivityCount: 50,
	})
	if a == nil {
		t.Fatal("Raise returned nil for valid findings")
	}
	if a.ID == "" || a.Status != StatusNew {
		t.Errorf("alert = %+v, want non-empty id and status new", a)
	}
	if a.Title != "User Behavior Anomaly" {
		t.Errorf("Title = %q", a.Title)
	}
	if len(a.Indicators) != 1 {
		t.Errorf("Indicators = %v, want the finding reason", a.Indicators)
	}
	if a.AnomalyScore <= 0 || a.AnomalyScore > 1 {
		t.Errorf("AnomalyScore = %v out of range", a.AnomalyScore)
	}
	if got, ok := m.Get(a.ID); !ok || got.ID != a.ID {
		t.Error("raised alert not retrievable by id")
	}
}

func TestRaiseNoFindings(t *testing.T) {
	m := newTestManager()
	if a := m.Raise(context.Background(), RaiseInput{Entity: userKey("u1"), AlertType: TypeUserBehavior}); a != nil {
		t.Errorf("Raise with no findings = %+v, want nil", a)
	}
}

func TestSuppressRepeatedType(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	in := func(label string) RaiseInput {
		return RaiseInput{
			Entity:        userKey("u1"),
			AlertType:     TypeUserBehavior,
			Findings:      plainFindings(label),
			ActivityCount: 50,
		}
	}

	if m.Raise(ctx, in("first")) == nil {
		t.Fatal("first alert suppressed")
	}
	if m.Raise(ctx, in("second")) == nil {
		t.Fatal("second alert suppressed")
	}
	if a := m.Raise(ctx, in("third")); a != nil {
		t.Errorf("third same-type alert within the hour = %+v, want suppressed", a)
	}

	// A different entity is not affected by u1's noise.
	other := in("fourth")
	other.Entity = userKey("u2")
	if m.Raise(ctx, other) == nil {
		t.Error("alert for a different entity suppressed")
	}
}

func TestSuppressLowConfidenceAfterHighConfidence(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	// Strong keyword plus deep history pushes confidence over 0.8.
	high := m.Raise(ctx, RaiseInput{
		Entity:        userKey("u1"),
		AlertType:     TypeUserBehavior,
		Findings:      []detect.Finding{{Reason: "Unusual cpu_percent: z-score 10.4"}},
		ActivityCount: 500,
	})
	if high == nil {
		t.Fatal("high-confidence alert suppressed")
	}
	if high.Confidence <= 0.8 {
		t.Fatalf("setup: confidence = %v, want > 0.8", high.Confidence)
	}

	// Sparse history and no keywords lands under 0.6; a fresh
	// high-confidence alert for the same entity wins.
	low := m.Raise(ctx, RaiseInput{
		Entity:        userKey("u1"),
		AlertType:     TypeAgentBehavior,
		Findings:      plainFindings("weak"),
		ActivityCount: 5,
	})
	if low != nil {
		t.Errorf("low-confidence alert = %+v, want suppressed by fresh high-confidence one", low)
	}
}

func TestCorrelationSynthesizesAlert(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	raise := func(id string) *Alert {
		return m.Raise(ctx, RaiseInput{
			Entity:        userKey(id),
			AlertType:     TypeFailedLogin,
			Findings:      plainFindings(id),
			ActivityCount: 50,
		})
	}

	a1, a2 := raise("u1"), raise("u2")
	if a1 == nil || a2 == nil {
		t.Fatal("setup alerts suppressed")
	}
	// Same type (+0.4), within 30 minutes (+0.3), same entity type (+0.1):
	// two related alerts trip the synthesis.
	a3 := raise("u3")
	if a3 == nil {
		t.Fatal("trigger alert suppressed")
	}

	var correlated *Alert
	for _, a := range m.Active(Filter{}) {
		if a.AlertType == TypeCorrelated {
			c := a
			correlated = &c
		}
	}
	if correlated == nil {
		t.Fatal("no correlated_security_events alert synthesized")
	}
	if correlated.Severity != score.SeverityHigh {
		t.Errorf("correlated severity = %v, want high", correlated.Severity)
	}
	if correlated.Confidence != 0.85 || correlated.AnomalyScore != 0.9 {
		t.Errorf("correlated score/confidence = %v/%v, want 0.9/0.85", correlated.AnomalyScore, correlated.Confidence)
	}
	if len(correlated.RelatedAlerts) != 3 {
		t.Errorf("RelatedAlerts = %v, want the three member ids", correlated.RelatedAlerts)
	}
}

func TestTwoAlertsDoNotCorrelate(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	for _, id := range []string{"u1", "u2"} {
		m.Raise(ctx, RaiseInput{
			Entity:        userKey(id),
			AlertType:     TypeFailedLogin,
			Findings:      plainFindings(id),
			ActivityCount: 50,
		})
	}
	for _, a := range m.Active(Filter{}) {
		if a.AlertType == TypeCorrelated {
			t.Error("correlated alert synthesized from a single related pair")
		}
	}
}

func TestCorrelationScore(t *testing.T) {
	now := time.Now()
	a := &Alert{AlertType: TypeFailedLogin, EntityType: activity.EntityUser, DetectedAt: now,
		Indicators: []string{"shared indicator"}}
	b := &Alert{AlertType: TypeFailedLogin, EntityType: activity.EntityUser, DetectedAt: now.Add(-10 * time.Minute),
		Indicators: []string{"shared indicator"}}
	if got := correlationScore(a, b); got != 1.0 {
		t.Errorf("correlationScore = %v, want 1.0 for type+proximity+indicator+entity type", got)
	}

	c := &Alert{AlertType: TypeSystemBehavior, EntityType: activity.EntitySystem, DetectedAt: now.Add(-90 * time.Minute)}
	if got := correlationScore(a, c); got != 0 {
		t.Errorf("correlationScore = %v, want 0 for unrelated alerts", got)
	}
}

func TestSweepCoordinated(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	for _, id := range []string{"a1", "a2", "a3"} {
		a := m.Raise(ctx, RaiseInput{
			Entity:        activity.Key{Type: activity.EntityAgent, ID: id},
			AlertType:     TypeAgentHealth,
			Findings:      plainFindings(id),
			ActivityCount: 50,
		})
		if a == nil {
			t.Fatalf("setup alert for %s suppressed", id)
		}
	}

	created := m.SweepCoordinated(ctx)
	if len(created) != 1 {
		t.Fatalf("SweepCoordinated created %d alerts, want 1", len(created))
	}
	c := created[0]
	if c.AlertType != "coordinated_agent_health_issue" {
		t.Errorf("AlertType = %q", c.AlertType)
	}
	if c.EntityID != "multiple" {
		t.Errorf("EntityID = %q, want multiple", c.EntityID)
	}
	if len(c.RelatedAlerts) != 3 {
		t.Errorf("RelatedAlerts = %v, want 3 member ids", c.RelatedAlerts)
	}

	// Same window, same members: idempotent.
	if again := m.SweepCoordinated(ctx); len(again) != 0 {
		t.Errorf("second sweep created %d alerts, want 0", len(again))
	}
}

func TestSweepCoordinatedIgnoresSynthetic(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	// Three synthetic alerts of the same type must not coordinate.
	for i := 0; i < 3; i++ {
		m.mu.Lock()
		m.storeLocked(&Alert{
			ID:         fmt.Sprintf("synth-%d", i),
			EntityID:   fmt.Sprintf("u%d", i),
			EntityType: activity.EntityUser,
			AlertType:  TypePersistent,
			Severity:   score.SeverityHigh,
			DetectedAt: time.Now(),
			Status:     StatusNew,
		})
		m.mu.Unlock()
	}

	if created := m.SweepCoordinated(ctx); len(created) != 0 {
		t.Errorf("sweep coordinated synthetic alerts: %d created, want 0", len(created))
	}
}

func TestSweepPersistent(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	types := []string{TypeUserBehavior, TypeFailedLogin, TypeUnauthorizedAccess, TypeAgentBehavior, TypeAgentHealth}
	for i, at := range types {
		a := m.Raise(ctx, RaiseInput{
			Entity:        userKey("u1"),
			AlertType:     at,
			Findings:      plainFindings(fmt.Sprintf("n%d", i)),
			ActivityCount: 50,
		})
		if a == nil {
			t.Fatalf("setup alert %d suppressed", i)
		}
	}

	created := m.SweepPersistent(ctx)
	if len(created) != 1 {
		t.Fatalf("SweepPersistent created %d alerts, want 1", len(created))
	}
	p := created[0]
	if p.AlertType != TypePersistent || p.EntityID != "u1" {
		t.Errorf("persistent alert = %+v", p)
	}
	if p.Confidence != 0.9 || p.Severity != score.SeverityHigh {
		t.Errorf("confidence/severity = %v/%v, want 0.9/high", p.Confidence, p.Severity)
	}

	// An open persistent alert blocks a duplicate.
	if again := m.SweepPersistent(ctx); len(again) != 0 {
		t.Errorf("second sweep created %d alerts, want 0", len(again))
	}
}

func TestEscalate(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	high := m.Raise(ctx, RaiseInput{
		Entity:        activity.Key{Type: activity.EntityAgent, ID: "a1"},
		AlertType:     TypeAgentBehavior,
		Findings:      []detect.Finding{{Reason: "Critical error rate: 80% of operations failing"}},
		ActivityCount: 50,
	})
	medium := m.Raise(ctx, RaiseInput{
		Entity:        userKey("u1"),
		AlertType:     TypeUserBehavior,
		Findings:      plainFindings("mild"),
		ActivityCount: 50,
	})
	if high == nil || medium == nil {
		t.Fatal("setup alerts suppressed")
	}
	if !high.Severity.AtLeast(score.SeverityHigh) {
		t.Fatalf("setup: severity = %v, want at least high", high.Severity)
	}

	// Too fresh to escalate.
	if esc := m.Escalate(ctx); len(esc) != 0 {
		t.Fatalf("Escalate on fresh alerts = %d, want 0", len(esc))
	}

	m.mu.Lock()
	m.active[high.ID].DetectedAt = time.Now().Add(-20 * time.Minute)
	m.active[medium.ID].DetectedAt = time.Now().Add(-20 * time.Minute)
	m.mu.Unlock()

	esc := m.Escalate(ctx)
	if len(esc) != 1 || esc[0].ID != high.ID {
		t.Fatalf("Escalate = %+v, want just the high-severity alert", esc)
	}
	got, _ := m.Get(high.ID)
	if got.Status != StatusEscalated {
		t.Errorf("status = %v, want escalated", got.Status)
	}

	// Already escalated: not picked up again.
	if again := m.Escalate(ctx); len(again) != 0 {
		t.Errorf("second Escalate = %d, want 0", len(again))
	}
}

func TestCleanupRetainsForADay(t *testing.T) {
	m := newTestManager()
	a := m.Raise(context.Background(), RaiseInput{
		Entity:        userKey("u1"),
		AlertType:     TypeUserBehavior,
		Findings:      plainFindings("x"),
		ActivityCount: 50,
	})
	if err := m.Resolve(a.ID, "handled", false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if removed := m.Cleanup(); removed != 0 {
		t.Errorf("Cleanup removed %d fresh terminal alerts, want 0", removed)
	}

	m.mu.Lock()
	m.active[a.ID].ResolvedAt = time.Now().Add(-25 * time.Hour)
	m.mu.Unlock()

	if removed := m.Cleanup(); removed != 1 {
		t.Errorf("Cleanup removed %d, want 1", removed)
	}
	// Still visible via the recent cache for correlation lookups.
	if _, ok := m.Get(a.ID); !ok {
		t.Error("cleaned-up alert gone from the recent cache")
	}
}

func TestLifecycleTransitions(t *testing.T) {
	m := newTestManager()
	a := m.Raise(context.Background(), RaiseInput{
		Entity:        userKey("u1"),
		AlertType:     TypeUserBehavior,
		Findings:      plainFindings("x"),
		ActivityCount: 50,
	})

	if err := m.Investigate("no-such-id"); err != ErrNotFound {
		t.Errorf("Investigate(unknown) = %v, want ErrNotFound", err)
	}
	if err := m.Investigate(a.ID); err != nil {
		t.Errorf("Investigate = %v", err)
	}
	if err := m.Investigate(a.ID); err != ErrBadState {
		t.Errorf("second Investigate = %v, want ErrBadState", err)
	}

	if err := m.Resolve(a.ID, "user confirmed travel", false); err != nil {
		t.Errorf("Resolve = %v", err)
	}
	got, _ := m.Get(a.ID)
	if got.Status != StatusResolved || got.Resolution != "user confirmed travel" || got.ResolvedAt.IsZero() {
		t.Errorf("resolved alert = %+v", got)
	}

	if err := m.Resolve(a.ID, "again", false); err != ErrTerminal {
		t.Errorf("Resolve(terminal) = %v, want ErrTerminal", err)
	}
	if err := m.Investigate(a.ID); err != ErrTerminal {
		t.Errorf("Investigate(terminal) = %v, want ErrTerminal", err)
	}
}

func TestResolveFalsePositive(t *testing.T) {
	m := newTestManager()
	a := m.Raise(context.Background(), RaiseInput{
		Entity:        userKey("u1"),
		AlertType:     TypeUserBehavior,
		Findings:      plainFindings("x"),
		ActivityCount: 50,
	})
	if err := m.Resolve(a.ID, "scheduled maintenance", true); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got, _ := m.Get(a.ID)
	if got.Status != StatusFalsePositive {
		t.Errorf("status = %v, want false_positive", got.Status)
	}
}

func TestActiveFilter(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	m.Raise(ctx, RaiseInput{
		Entity: userKey("u1"), AlertType: TypeUserBehavior,
		Findings: plainFindings("a"), ActivityCount: 50,
	})
	m.Raise(ctx, RaiseInput{
		Entity: userKey("u2"), AlertType: TypeFailedLogin,
		Findings: []detect.Finding{{Reason: "Critical error rate: 80% of operations failing"}}, ActivityCount: 50,
	})

	if got := m.Active(Filter{EntityID: "u1"}); len(got) != 1 || got[0].EntityID != "u1" {
		t.Errorf("Active by entity = %+v", got)
	}
	if got := m.Active(Filter{Severity: score.SeverityCritical}); len(got) != 1 {
		t.Errorf("Active by severity = %+v", got)
	}
	counts := m.CountsBySeverity()
	total := 0
	for _, n := range counts {
		total += n
	}
	if total != 2 {
		t.Errorf("CountsBySeverity total = %d, want 2", total)
	}
}

func TestTopRisk(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	m.Raise(ctx, RaiseInput{
		Entity: userKey("noisy"), AlertType: TypeUserBehavior,
		Findings: []detect.Finding{{Reason: "Critical error rate: 80% of operations failing"}}, ActivityCount: 50,
	})
	m.Raise(ctx, RaiseInput{
		Entity: userKey("quiet"), AlertType: TypeFailedLogin,
		Findings: plainFindings("q"), ActivityCount: 50,
	})

	ranked := m.TopRisk(10)
	if len(ranked) != 2 {
		t.Fatalf("TopRisk = %d entries, want 2", len(ranked))
	}
	if ranked[0].EntityID != "noisy" {
		t.Errorf("top risk entity = %q, want noisy", ranked[0].EntityID)
	}
	if ranked[0].RiskScore <= ranked[1].RiskScore {
		t.Errorf("ranking not descending: %v", ranked)
	}
}
