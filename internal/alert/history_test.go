package alert

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/vigilsec/vigilsec/internal/activity"
	"github.com/vigilsec/vigilsec/internal/notify"
	"github.com/vigilsec/vigilsec/internal/score"
)

func newTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := NewHistory(filepath.Join(t.TempDir(), "alerts.db"), testLogger())
	if err != nil {
		t.Fatalf("NewHistory: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func historyAlert(id, entityID, alertType string, sev score.Severity, detectedAt time.Time) Alert {
	return Alert{
		ID:           id,
		EntityID:     entityID,
		EntityType:   activity.EntityUser,
		AlertType:    alertType,
		Severity:     sev,
		Title:        title(alertType),
		Description:  "test alert",
		AnomalyScore: 0.6,
		Confidence:   0.7,
		Indicators:   []string{"indicator one", "indicator two"},
		DetectedAt:   detectedAt,
		Status:       StatusNew,
	}
}

func TestHistoryRecordAndQuery(t *testing.T) {
	h := newTestHistory(t)
	now := time.Now().UTC().Truncate(time.Second)

	h.Record(historyAlert("a-1", "u1", TypeUserBehavior, score.SeverityMedium, now.Add(-2*time.Hour)))
	h.Record(historyAlert("a-2", "u1", TypeFailedLogin, score.SeverityHigh, now.Add(-time.Hour)))
	h.Record(historyAlert("a-3", "u2", TypeFailedLogin, score.SeverityCritical, now))
	h.Flush()

	all, err := h.Query(QueryOpts{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Query returned %d alerts, want 3", len(all))
	}
	// Newest first.
	if all[0].ID != "a-3" {
		t.Errorf("first result = %s, want a-3", all[0].ID)
	}
	if len(all[0].Indicators) != 2 {
		t.Errorf("indicators = %v, want 2 restored", all[0].Indicators)
	}
	if !all[0].DetectedAt.Equal(now) {
		t.Errorf("DetectedAt = %v, want %v", all[0].DetectedAt, now)
	}
}

func TestHistoryQueryFilters(t *testing.T) {
	h := newTestHistory(t)
	now := time.Now().UTC().Truncate(time.Second)

	h.Record(historyAlert("a-1", "u1", TypeUserBehavior, score.SeverityMedium, now.Add(-48*time.Hour)))
	h.Record(historyAlert("a-2", "u1", TypeFailedLogin, score.SeverityHigh, now.Add(-time.Hour)))
	h.Record(historyAlert("a-3", "u2", TypeFailedLogin, score.SeverityCritical, now))
	h.Flush()

	byEntity, err := h.Query(QueryOpts{EntityID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byEntity) != 2 {
		t.Errorf("by entity = %d alerts, want 2", len(byEntity))
	}

	byType, err := h.Query(QueryOpts{AlertType: TypeFailedLogin})
	if err != nil {
		t.Fatal(err)
	}
	if len(byType) != 2 {
		t.Errorf("by type = %d alerts, want 2", len(byType))
	}

	bySeverity, err := h.Query(QueryOpts{Severity: "critical"})
	if err != nil {
		t.Fatal(err)
	}
	if len(bySeverity) != 1 || bySeverity[0].ID != "a-3" {
		t.Errorf("by severity = %+v, want just a-3", bySeverity)
	}

	since, err := h.Query(QueryOpts{Since: now.Add(-24 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if len(since) != 2 {
		t.Errorf("since 24h = %d alerts, want 2", len(since))
	}

	limited, err := h.Query(QueryOpts{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit 1 = %d alerts", len(limited))
	}
}

func TestHistoryUpsertKeepsLatestStatus(t *testing.T) {
	h := newTestHistory(t)
	now := time.Now().UTC().Truncate(time.Second)

	a := historyAlert("a-1", "u1", TypeUserBehavior, score.SeverityMedium, now)
	h.Record(a)

	a.Status = StatusResolved
	a.Resolution = "user confirmed travel"
	h.Record(a)
	h.Flush()

	got, err := h.Query(QueryOpts{EntityID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows for one alert id, want 1", len(got))
	}
	if got[0].Status != StatusResolved {
		t.Errorf("status = %v, want resolved", got[0].Status)
	}
	if got[0].Resolution != "user confirmed travel" {
		t.Errorf("resolution = %q", got[0].Resolution)
	}
}

func TestHistorySurvivesManyWrites(t *testing.T) {
	h := newTestHistory(t)
	now := time.Now().UTC()
	for i := 0; i < 100; i++ {
		h.Record(historyAlert(fmt.Sprintf("a-%03d", i), "u1", TypeUserBehavior, score.SeverityLow,
			now.Add(time.Duration(i)*time.Second)))
	}
	h.Flush()

	got, err := h.Query(QueryOpts{EntityID: "u1", Limit: 200})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 100 {
		t.Errorf("got %d rows, want 100", len(got))
	}
}

func TestManagerRecordsToHistory(t *testing.T) {
	h := newTestHistory(t)
	m := NewManager(h, notify.Discard{}, testLogger())

	a := m.Raise(context.Background(), RaiseInput{
		Entity:        userKey("u1"),
		AlertType:     TypeUserBehavior,
		Findings:      plainFindings("x"),
		ActivityCount: 50,
	})
	if a == nil {
		t.Fatal("alert suppressed")
	}
	if err := m.Resolve(a.ID, "done", false); err != nil {
		t.Fatal(err)
	}
	h.Flush()

	got, err := h.Query(QueryOpts{EntityID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("history rows = %d, want 1", len(got))
	}
	if got[0].Status != StatusResolved {
		t.Errorf("persisted status = %v, want resolved", got[0].Status)
	}
}
