package mitigate

import (
	"context"
	"log/slog"
	"time"

	"github.com/vigilsec/vigilsec/internal/activity"
)

// LogEnforcer is the default Enforcer. The TTL facts written by the
// controller are the actual enforcement mechanism consumed by the
// collaborating services; this enforcer just leaves an audit trail of
// what was requested.
type LogEnforcer struct {
	Logger *slog.Logger
}

func (e LogEnforcer) ApplyRateLimit(_ context.Context, entityID string, entityType activity.EntityType, d time.Duration) error {
	e.Logger.Info("rate limit requested", "entity_id", entityID, "entity_type", string(entityType), "duration", d.String())
	return nil
}

func (e LogEnforcer) RequireStepUpAuth(_ context.Context, userID string, d time.Duration) error {
	e.Logger.Info("step-up auth required", "user_id", userID, "duration", d.String())
	return nil
}

func (e LogEnforcer) IsolateAgent(_ context.Context, agentName string, d time.Duration) error {
	e.Logger.Warn("agent isolation requested", "agent", agentName, "duration", d.String())
	return nil
}

func (e LogEnforcer) RestartAgent(_ context.Context, agentName string) error {
	e.Logger.Warn("agent restart requested", "agent", agentName)
	return nil
}

func (e LogEnforcer) TemporaryBlock(_ context.Context, entityID string, entityType activity.EntityType, d time.Duration) error {
	e.Logger.Warn("temporary block requested", "entity_id", entityID, "entity_type", string(entityType), "duration", d.String())
	return nil
}

func (e LogEnforcer) ScaleResources(_ context.Context, factor float64, d time.Duration) error {
	e.Logger.Info("resource scaling requested", "factor", factor, "duration", d.String())
	return nil
}

func (e LogEnforcer) RequestHealthCheck(_ context.Context) error {
	e.Logger.Info("system health check requested")
	return nil
}
