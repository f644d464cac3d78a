// Package monitor drives the engine's three periodic loops: behavioral
// monitoring, profile refresh and alert lifecycle. The loops share the
// profile store, the activity buffers and the alert manager; each of those
// owns its own locking, so the loops never coordinate directly.
package monitor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vigilsec/vigilsec/internal/activity"
	"github.com/vigilsec/vigilsec/internal/alert"
	"github.com/vigilsec/vigilsec/internal/config"
	"github.com/vigilsec/vigilsec/internal/detect"
	"github.com/vigilsec/vigilsec/internal/metrics"
	"github.com/vigilsec/vigilsec/internal/mitigate"
	"github.com/vigilsec/vigilsec/internal/profile"
)

// Engine wires the components together and owns the background loops.
type Engine struct {
	recorder  *activity.Recorder
	profiles  *profile.Store
	manager   *alert.Manager
	mitigator *mitigate.Controller
	logger    *slog.Logger
	degraded  bool

	monitorInterval   time.Duration
	refreshInterval   time.Duration
	lifecycleInterval time.Duration

	mu          sync.Mutex
	sensitivity float64
	lastCycle   time.Time
}

// New assembles an engine from its components. degraded marks that the
// TTL store is unreachable and the engine runs detection-only.
func New(cfg config.MonitoringConfig, recorder *activity.Recorder, profiles *profile.Store,
	manager *alert.Manager, mitigator *mitigate.Controller, degraded bool, logger *slog.Logger) *Engine {
	return &Engine{
		recorder:          recorder,
		profiles:          profiles,
		manager:           manager,
		mitigator:         mitigator,
		logger:            logger,
		degraded:          degraded,
		monitorInterval:   time.Duration(cfg.IntervalMinutes) * time.Minute,
		refreshInterval:   time.Duration(cfg.RefreshIntervalMinutes) * time.Minute,
		lifecycleInterval: time.Duration(cfg.LifecycleIntervalMinutes) * time.Minute,
		sensitivity:       cfg.Sensitivity,
		lastCycle:         time.Now(),
	}
}

// SetSensitivity updates the global threshold multiplier, used by config
// hot reload.
func (e *Engine) SetSensitivity(s float64) {
	if s <= 0 {
		return
	}
	e.mu.Lock()
	e.sensitivity = s
	e.mu.Unlock()
}

// RecordActivity is the inbound ingress boundary: fire-and-forget, never
// returns an error to the producer.
func (e *Engine) RecordActivity(entityID string, entityType activity.EntityType, activityType string, attrs activity.Attributes, ts time.Time) {
	e.recorder.Record(activity.Activity{
		EntityID:     entityID,
		EntityType:   entityType,
		ActivityType: activityType,
		Timestamp:    ts,
		Attrs:        attrs,
	})
}

// Recorder exposes the activity ingress for callers that build their own
// records.
func (e *Engine) Recorder() *activity.Recorder { return e.recorder }

// Manager exposes the alert manager for the query surface.
func (e *Engine) Manager() *alert.Manager { return e.manager }

// Mitigator exposes the mitigation controller for the query surface.
func (e *Engine) Mitigator() *mitigate.Controller { return e.mitigator }

// Run starts the three loops and blocks until ctx is done and the
// in-flight cycles have drained.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	loops := []struct {
		name     string
		interval time.Duration
		cycle    func(context.Context)
	}{
		{"monitoring", e.monitorInterval, e.monitorCycle},
		{"profile-refresh", e.refreshInterval, e.refreshCycle},
		{"alert-lifecycle", e.lifecycleInterval, e.lifecycleCycle},
	}
	for _, loop := range loops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.runLoop(ctx, loop.name, loop.interval, loop.cycle)
		}()
	}
	wg.Wait()
	e.logger.Info("monitoring engine stopped")
}

func (e *Engine) runLoop(ctx context.Context, name string, interval time.Duration, cycle func(context.Context)) {
	e.logger.Info("loop started", "loop", name, "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycle(ctx)
		}
	}
}

// monitorCycle runs the detectors over every entity with activity since
// the previous cycle. Each entity's pass is isolated: a panic in one
// entity's detection is logged and does not starve the others.
func (e *Engine) monitorCycle(ctx context.Context) {
	e.mu.Lock()
	since := e.lastCycle
	e.lastCycle = time.Now()
	globalSens := e.sensitivity
	e.mu.Unlock()

	entities := e.recorder.ActiveSince(since)
	metrics.EntitiesMonitored.Set(float64(len(entities)))

	for _, key := range entities {
		e.examineEntity(ctx, key, since, globalSens)
	}
}

func (e *Engine) examineEntity(ctx context.Context, key activity.Key, since time.Time, globalSens float64) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("entity detection pass failed", "entity", key.String(), "panic", r)
		}
	}()

	prof := e.profiles.GetOrCreate(key)
	recent := e.recorder.Snapshot(key)
	dctx := detect.Context{
		Profile:     &prof,
		Recent:      recent,
		Sensitivity: globalSens * e.mitigator.Sensitivity(ctx, key),
	}

	var findings []detect.Finding
	for _, act := range recent {
		if !act.Timestamp.After(since) {
			continue
		}
		findings = append(findings, detect.Detect(dctx, act)...)
	}
	if key.Type == activity.EntityAgent {
		findings = append(findings, detect.DetectAgentPatterns(dctx)...)
	}
	if len(findings) == 0 {
		return
	}
	metrics.AnomaliesDetected.Add(float64(len(findings)))

	a := e.manager.Raise(ctx, alert.RaiseInput{
		Entity:        key,
		AlertType:     classify(key, findings),
		Findings:      findings,
		Profile:       &prof,
		ActivityCount: len(recent),
	})
	if a != nil {
		e.mitigator.Respond(ctx, a)
	}
}

// classify derives the alert type from the entity kind and the findings.
func classify(key activity.Key, findings []detect.Finding) string {
	switch key.Type {
	case activity.EntityAgent:
		for _, f := range findings {
			if strings.Contains(strings.ToLower(f.Reason), "error") {
				return alert.TypeAgentBehavior
			}
		}
		for _, f := range findings {
			lower := strings.ToLower(f.Reason)
			if strings.Contains(lower, "memory") || strings.Contains(lower, "processing") {
				return alert.TypeAgentHealth
			}
		}
		return alert.TypeAgentBehavior
	case activity.EntitySystem:
		return alert.TypeSystemBehavior
	default:
		for _, f := range findings {
			if strings.Contains(strings.ToLower(f.Reason), "login") {
				return alert.TypeFailedLogin
			}
		}
		return alert.TypeUserBehavior
	}
}

// refreshCycle recomputes every entity's profile from its buffer. A
// failure for one entity does not abort the others.
func (e *Engine) refreshCycle(ctx context.Context) {
	for _, key := range e.recorder.Entities() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("profile refresh failed", "entity", key.String(), "panic", r)
				}
			}()
			e.profiles.Refresh(ctx, key, e.recorder.Snapshot(key))
		}()
	}
}

// lifecycleCycle drives escalation, the correlation sweeps and retention.
func (e *Engine) lifecycleCycle(ctx context.Context) {
	e.manager.Escalate(ctx)
	e.manager.SweepCoordinated(ctx)
	e.manager.SweepPersistent(ctx)
	if removed := e.manager.Cleanup(); removed > 0 {
		e.logger.Debug("terminal alerts pruned from active set", "count", removed)
	}
}

// Summary is the dashboard snapshot served by the operator API.
type Summary struct {
	MonitoredEntities int                         `json:"monitored_entities"`
	ProfilesByType    map[activity.EntityType]int `json:"profiles_by_type"`
	ActiveBySeverity  map[string]int              `json:"active_alerts_by_severity"`
	AlertsLast24h     int                         `json:"alerts_last_24h"`
	TopRiskEntities   []alert.EntityRisk          `json:"top_risk_entities"`
	Degraded          bool                        `json:"degraded"`
}

// Summary builds the operator dashboard snapshot.
func (e *Engine) Summary() Summary {
	bySev := make(map[string]int)
	for sev, n := range e.manager.CountsBySeverity() {
		bySev[string(sev)] = n
	}
	return Summary{
		MonitoredEntities: len(e.recorder.Entities()),
		ProfilesByType:    e.profiles.Count(),
		ActiveBySeverity:  bySev,
		AlertsLast24h:     e.manager.CountSince(time.Now().Add(-24 * time.Hour)),
		TopRiskEntities:   e.manager.TopRisk(10),
		Degraded:          e.degraded,
	}
}
