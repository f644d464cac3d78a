package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/vigilsec/vigilsec/internal/activity"
	"github.com/vigilsec/vigilsec/internal/alert"
	"github.com/vigilsec/vigilsec/internal/config"
	"github.com/vigilsec/vigilsec/internal/detect"
	"github.com/vigilsec/vigilsec/internal/mitigate"
	"github.com/vigilsec/vigilsec/internal/monitor"
	"github.com/vigilsec/vigilsec/internal/notify"
	"github.com/vigilsec/vigilsec/internal/profile"
	"github.com/vigilsec/vigilsec/internal/ttlstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*httptest.Server, *monitor.Engine) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := ttlstore.NewRedis(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = store.Close() })

	logger := testLogger()
	recorder := activity.NewRecorder(1000, logger)
	profiles := profile.NewStore(store, logger)
	manager := alert.NewManager(nil, notify.Discard{}, logger)
	mitigator := mitigate.NewController(store, nil, logger)
	engine := monitor.New(config.Defaults().Monitoring, recorder, profiles, manager, mitigator, false, logger)

	srv := httptest.NewServer(NewServer(engine, logger).Handler())
	t.Cleanup(srv.Close)
	return srv, engine
}

func raiseTestAlert(t *testing.T, engine *monitor.Engine, entityID string) *alert.Alert {
	t.Helper()
	a := engine.Manager().Raise(context.Background(), alert.RaiseInput{
		Entity:        activity.Key{Type: activity.EntityUser, ID: entityID},
		AlertType:     alert.TypeUserBehavior,
		Findings:      []detect.Finding{{Reason: "Unusually long session: 6.0x normal duration"}},
		ActivityCount: 50,
	})
	if a == nil {
		t.Fatal("setup alert suppressed")
	}
	return a
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s = %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding %s: %v", url, err)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	var body map[string]string
	getJSON(t, srv.URL+"/health", &body)
	if body["status"] != "ok" {
		t.Errorf("health = %v", body)
	}
}

func TestSummary(t *testing.T) {
	srv, engine := newTestServer(t)
	engine.RecordActivity("u1", activity.EntityUser, "chat_session",
		activity.ChatAttrs{Duration: 10 * time.Minute, MessageCount: 5}, time.Now())
	raiseTestAlert(t, engine, "u1")

	var s monitor.Summary
	getJSON(t, srv.URL+"/api/v1/summary", &s)
	if s.MonitoredEntities != 1 {
		t.Errorf("MonitoredEntities = %d, want 1", s.MonitoredEntities)
	}
	if s.AlertsLast24h != 1 {
		t.Errorf("AlertsLast24h = %d, want 1", s.AlertsLast24h)
	}
	if s.Degraded {
		t.Error("Degraded = true for a healthy store")
	}
}

func TestListAlerts(t *testing.T) {
	srv, engine := newTestServer(t)
	raiseTestAlert(t, engine, "u1")
	raiseTestAlert(t, engine, "u2")

	var all []alert.Alert
	getJSON(t, srv.URL+"/api/v1/alerts", &all)
	if len(all) != 2 {
		t.Errorf("alerts = %d, want 2", len(all))
	}

	var filtered []alert.Alert
	getJSON(t, srv.URL+"/api/v1/alerts?entity_id=u1", &filtered)
	if len(filtered) != 1 || filtered[0].EntityID != "u1" {
		t.Errorf("filtered alerts = %+v", filtered)
	}

	var none []alert.Alert
	getJSON(t, srv.URL+"/api/v1/alerts?severity=critical", &none)
	if len(none) != 0 {
		t.Errorf("critical alerts = %+v, want empty list", none)
	}
}

func TestInvestigateAndResolve(t *testing.T) {
	srv, engine := newTestServer(t)
	a := raiseTestAlert(t, engine, "u1")

	resp, err := http.Post(srv.URL+"/api/v1/alerts/"+a.ID+"/investigate", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("investigate = %d", resp.StatusCode)
	}
	var updated alert.Alert
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		t.Fatal(err)
	}
	if updated.Status != alert.StatusInvestigating {
		t.Errorf("status = %v, want investigating", updated.Status)
	}

	body, _ := json.Marshal(map[string]any{"notes": "confirmed benign", "false_positive": true})
	resp2, err := http.Post(srv.URL+"/api/v1/alerts/"+a.ID+"/resolve", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp2.Body.Close() }()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("resolve = %d", resp2.StatusCode)
	}
	var resolved alert.Alert
	if err := json.NewDecoder(resp2.Body).Decode(&resolved); err != nil {
		t.Fatal(err)
	}
	if resolved.Status != alert.StatusFalsePositive || resolved.Resolution != "confirmed benign" {
		t.Errorf("resolved = %+v", resolved)
	}

	// Terminal alerts reject further transitions.
	resp3, err := http.Post(srv.URL+"/api/v1/alerts/"+a.ID+"/resolve", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp3.Body.Close() }()
	if resp3.StatusCode != http.StatusConflict {
		t.Errorf("resolve terminal = %d, want 409", resp3.StatusCode)
	}
}

func TestInvestigateUnknownAlert(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/v1/alerts/no-such-id/investigate", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("investigate unknown = %d, want 404", resp.StatusCode)
	}
}

func TestMitigationsEndpoints(t *testing.T) {
	srv, engine := newTestServer(t)

	var empty []mitigate.Fact
	getJSON(t, srv.URL+"/api/v1/mitigations", &empty)
	if len(empty) != 0 {
		t.Errorf("mitigations = %+v, want empty list", empty)
	}

	engine.Mitigator().Respond(context.Background(), &alert.Alert{
		ID:         "alert-1",
		EntityID:   "u1",
		EntityType: activity.EntityUser,
		AlertType:  alert.TypeFailedLogin,
		Status:     alert.StatusNew,
		DetectedAt: time.Now(),
	})

	var facts []mitigate.Fact
	getJSON(t, srv.URL+"/api/v1/mitigations", &facts)
	if len(facts) != 2 {
		t.Fatalf("mitigations = %+v, want rate_limit and step_up_auth", facts)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/mitigations/rate_limit/u1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete mitigation = %d, want 204", resp.StatusCode)
	}

	var remaining []mitigate.Fact
	getJSON(t, srv.URL+"/api/v1/mitigations", &remaining)
	if len(remaining) != 1 || remaining[0].Type != mitigate.ActionStepUpAuth {
		t.Errorf("remaining mitigations = %+v, want just step_up_auth", remaining)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics = %d", resp.StatusCode)
	}
}
