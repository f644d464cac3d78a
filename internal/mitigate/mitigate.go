// Package mitigate maps alerts to automated, time-boxed response actions
// and enforces them as TTL-scoped facts in the external store. Expiry is
// the store's job: a mitigation is active exactly as long as its key
// exists.
package mitigate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vigilsec/vigilsec/internal/activity"
	"github.com/vigilsec/vigilsec/internal/alert"
	"github.com/vigilsec/vigilsec/internal/metrics"
	"github.com/vigilsec/vigilsec/internal/ttlstore"
)

// Mitigation durations.
const (
	RateLimitTTL       = time.Hour
	StepUpAuthTTL      = 24 * time.Hour
	AgentIsolationTTL  = 30 * time.Minute
	TemporaryBlockTTL  = 2 * time.Hour
	EnhancedMonitorTTL = 24 * time.Hour

	// enhancedSensitivity is the multiplier enhanced monitoring applies
	// to the entity's detector thresholds (30% lower).
	enhancedSensitivity = 0.7
)

// Action names an automated response.
type Action string

const (
	ActionRateLimit       Action = "rate_limit"
	ActionStepUpAuth      Action = "step_up_auth"
	ActionNotifySecurity  Action = "notify_security_team"
	ActionIsolateAgent    Action = "agent_isolation"
	ActionRestartAgent    Action = "restart_agent"
	ActionEscalateAdmin   Action = "escalate_admin"
	ActionTemporaryBlock  Action = "temporary_block"
	ActionEnhancedMonitor Action = "enhanced_monitoring"
	ActionScaleResources  Action = "scale_resources"
	ActionHealthCheck     Action = "health_check"
	ActionNotifyOps       Action = "notify_operations_team"
)

// responsePlan maps alert types to their automated actions.
var responsePlan = map[string][]Action{
	alert.TypeFailedLogin:        {ActionRateLimit, ActionStepUpAuth, ActionNotifySecurity},
	alert.TypeUnauthorizedAccess: {ActionRateLimit, ActionStepUpAuth, ActionNotifySecurity},
	alert.TypeAgentBehavior:      {ActionIsolateAgent, ActionRestartAgent, ActionEscalateAdmin},
	alert.TypeAgentHealth:        {ActionIsolateAgent, ActionRestartAgent, ActionEscalateAdmin},
	alert.TypePersistent:         {ActionTemporaryBlock, ActionEnhancedMonitor, ActionNotifySecurity},
	alert.TypeSystemBehavior:     {ActionScaleResources, ActionHealthCheck, ActionNotifyOps},
}

// Enforcer is the boundary to the collaborating services that actually
// enforce a mitigation. Implementations must bound their own timeouts.
type Enforcer interface {
	ApplyRateLimit(ctx context.Context, entityID string, entityType activity.EntityType, d time.Duration) error
	RequireStepUpAuth(ctx context.Context, userID string, d time.Duration) error
	IsolateAgent(ctx context.Context, agentName string, d time.Duration) error
	RestartAgent(ctx context.Context, agentName string) error
	TemporaryBlock(ctx context.Context, entityID string, entityType activity.EntityType, d time.Duration) error
	ScaleResources(ctx context.Context, factor float64, d time.Duration) error
	RequestHealthCheck(ctx context.Context) error
}

// Fact is one active mitigation read back from the TTL store.
type Fact struct {
	Type       Action              `json:"type"`
	EntityType activity.EntityType `json:"entity_type"`
	EntityID   string              `json:"entity_id"`
	AlertID    string              `json:"alert_id,omitempty"`
	ExpiresIn  time.Duration       `json:"expires_in"`
}

// factValue is the JSON stored under a mitigation key.
type factValue struct {
	AlertID   string    `json:"alert_id"`
	AppliedAt time.Time `json:"applied_at"`
}

// Controller executes response plans. Each action is best-effort and
// independent: one failure is logged and the rest still run.
type Controller struct {
	store    ttlstore.Store
	enforcer Enforcer
	logger   *slog.Logger
}

// NewController creates a mitigation controller.
func NewController(store ttlstore.Store, enforcer Enforcer, logger *slog.Logger) *Controller {
	if enforcer == nil {
		enforcer = LogEnforcer{Logger: logger}
	}
	return &Controller{store: store, enforcer: enforcer, logger: logger}
}

// Respond executes the response plan for the alert's type and returns the
// actions that were attempted. Alert types with no plan are a no-op.
func (c *Controller) Respond(ctx context.Context, a *alert.Alert) []Action {
	plan, ok := responsePlan[a.AlertType]
	if !ok && strings.HasPrefix(a.AlertType, "coordinated_") {
		plan = []Action{ActionTemporaryBlock, ActionEnhancedMonitor, ActionNotifySecurity}
		ok = true
	}
	if !ok {
		return nil
	}

	for _, action := range plan {
		if err := c.execute(ctx, action, a); err != nil {
			c.logger.Error("mitigation action failed",
				"action", string(action),
				"alert_id", a.ID,
				"error", err,
			)
			continue
		}
		metrics.MitigationsApplied.WithLabelValues(string(action)).Inc()
		c.logger.Info("mitigation applied",
			"action", string(action),
			"entity", a.Entity().String(),
			"alert_id", a.ID,
		)
	}
	return plan
}

func (c *Controller) execute(ctx context.Context, action Action, a *alert.Alert) error {
	switch action {
	case ActionRateLimit:
		if err := c.enforcer.ApplyRateLimit(ctx, a.EntityID, a.EntityType, RateLimitTTL); err != nil {
			return err
		}
		return c.writeFact(ctx, action, a, RateLimitTTL)
	case ActionStepUpAuth:
		if err := c.enforcer.RequireStepUpAuth(ctx, a.EntityID, StepUpAuthTTL); err != nil {
			return err
		}
		return c.writeFact(ctx, action, a, StepUpAuthTTL)
	case ActionIsolateAgent:
		if err := c.enforcer.IsolateAgent(ctx, a.EntityID, AgentIsolationTTL); err != nil {
			return err
		}
		return c.writeFact(ctx, action, a, AgentIsolationTTL)
	case ActionRestartAgent:
		return c.enforcer.RestartAgent(ctx, a.EntityID)
	case ActionTemporaryBlock:
		if err := c.enforcer.TemporaryBlock(ctx, a.EntityID, a.EntityType, TemporaryBlockTTL); err != nil {
			return err
		}
		return c.writeFact(ctx, action, a, TemporaryBlockTTL)
	case ActionEnhancedMonitor:
		if err := c.writeFact(ctx, action, a, EnhancedMonitorTTL); err != nil {
			return err
		}
		return c.setSensitivity(ctx, a.Entity(), enhancedSensitivity, EnhancedMonitorTTL)
	case ActionScaleResources:
		return c.enforcer.ScaleResources(ctx, 1.5, TemporaryBlockTTL)
	case ActionHealthCheck:
		return c.enforcer.RequestHealthCheck(ctx)
	case ActionNotifySecurity, ActionNotifyOps, ActionEscalateAdmin:
		// Notification-only actions ride on the alert's own
		// notification request; nothing to enforce here.
		return nil
	}
	return fmt.Errorf("unknown action %q", action)
}

func factKey(action Action, entityType activity.EntityType, entityID string) string {
	return fmt.Sprintf("mitigation:%s:%s:%s", action, entityType, entityID)
}

func (c *Controller) writeFact(ctx context.Context, action Action, a *alert.Alert, ttl time.Duration) error {
	val, err := json.Marshal(factValue{AlertID: a.ID, AppliedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshaling mitigation fact: %w", err)
	}
	return c.store.Set(ctx, factKey(action, a.EntityType, a.EntityID), string(val), ttl)
}

const sensitivityPrefix = "sensitivity:"

func (c *Controller) setSensitivity(ctx context.Context, key activity.Key, mult float64, ttl time.Duration) error {
	return c.store.Set(ctx, sensitivityPrefix+key.String(), fmt.Sprintf("%.2f", mult), ttl)
}

// Sensitivity returns the entity's detector sensitivity multiplier,
// 1.0 when no enhanced-monitoring fact is active or the store is down.
func (c *Controller) Sensitivity(ctx context.Context, key activity.Key) float64 {
	raw, err := c.store.Get(ctx, sensitivityPrefix+key.String())
	if err != nil {
		return 1.0
	}
	var mult float64
	if _, err := fmt.Sscanf(raw, "%f", &mult); err != nil || mult <= 0 {
		return 1.0
	}
	return mult
}

// Active lists the currently enforced mitigations with their remaining
// lifetimes.
func (c *Controller) Active(ctx context.Context) ([]Fact, error) {
	keys, err := c.store.Keys(ctx, "mitigation:")
	if err != nil {
		if errors.Is(err, ttlstore.ErrUnavailable) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing mitigations: %w", err)
	}

	var facts []Fact
	for _, key := range keys {
		parts := strings.SplitN(key, ":", 4)
		if len(parts) != 4 {
			continue
		}
		fact := Fact{
			Type:       Action(parts[1]),
			EntityType: activity.EntityType(parts[2]),
			EntityID:   parts[3],
		}
		if ttl, err := c.store.TTL(ctx, key); err == nil {
			fact.ExpiresIn = ttl
		}
		if raw, err := c.store.Get(ctx, key); err == nil {
			var val factValue
			if json.Unmarshal([]byte(raw), &val) == nil {
				fact.AlertID = val.AlertID
			}
		}
		facts = append(facts, fact)
	}
	return facts, nil
}

// Remove deletes the mitigation facts matching the type and entity id —
// and nothing else. Operator override for early removal.
func (c *Controller) Remove(ctx context.Context, mtype Action, entityID string) error {
	keys, err := c.store.Keys(ctx, fmt.Sprintf("mitigation:%s:", mtype))
	if err != nil {
		return fmt.Errorf("listing mitigations for removal: %w", err)
	}

	var matched []string
	for _, key := range keys {
		if strings.HasSuffix(key, ":"+entityID) {
			matched = append(matched, key)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	if err := c.store.Delete(ctx, matched...); err != nil {
		return fmt.Errorf("removing mitigation: %w", err)
	}
	c.logger.Info("mitigation removed", "type", string(mtype), "entity_id", entityID, "keys", len(matched))
	return nil
}
