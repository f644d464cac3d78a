package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vigilsec/vigilsec/internal/activity"
	"github.com/vigilsec/vigilsec/internal/metrics"
	"github.com/vigilsec/vigilsec/internal/ttlstore"
)

const cacheTTL = 24 * time.Hour

// Store owns the profile map. Reads come from the monitoring loop, writes
// only from the refresh loop; Get therefore returns copies so readers are
// never exposed to an in-flight refresh.
type Store struct {
	mu       sync.RWMutex
	profiles map[activity.Key]*Profile
	cache    ttlstore.Store
	logger   *slog.Logger
}

// NewStore creates a profile store backed by the given TTL cache. The
// cache is write-through with a 24h expiry; a missing or unavailable cache
// only disables warm starts.
func NewStore(cache ttlstore.Store, logger *slog.Logger) *Store {
	return &Store{
		profiles: make(map[activity.Key]*Profile),
		cache:    cache,
		logger:   logger,
	}
}

// GetOrCreate returns the entity's profile, creating an empty baseline on
// first call. Idempotent.
func (s *Store) GetOrCreate(key activity.Key) Profile {
	s.mu.RLock()
	p, ok := s.profiles[key]
	s.mu.RUnlock()
	if ok {
		return *p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.profiles[key]; ok {
		return *p
	}

	now := time.Now()
	p = &Profile{
		EntityType:  key.Type,
		EntityID:    key.ID,
		Thresholds:  DefaultThresholds(),
		CreatedAt:   now,
		LastUpdated: now,
	}
	s.profiles[key] = p
	return *p
}

// Get returns the entity's profile if one exists.
func (s *Store) Get(key activity.Key) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[key]
	if !ok {
		return Profile{}, false
	}
	return *p, true
}

// Count returns the number of profiles per entity type.
func (s *Store) Count() map[activity.EntityType]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[activity.EntityType]int)
	for key := range s.profiles {
		counts[key.Type]++
	}
	return counts
}

// Refresh recomputes the entity's rolling baselines from its buffered
// activities. Fewer than 10 activities is not an error, just a no-op.
// The refreshed profile is persisted to the cache with a 24h expiry;
// cache failures are logged and do not fail the refresh.
func (s *Store) Refresh(ctx context.Context, key activity.Key, acts []activity.Activity) Profile {
	if _, ok := s.Get(key); !ok {
		s.GetOrCreate(key)
	}
	if len(acts) < minSamples {
		p, _ := s.Get(key)
		return p
	}

	s.mu.Lock()
	p := s.profiles[key]
	p.TypicalHours, p.TypicalWeekdays = typicalBuckets(acts)
	switch key.Type {
	case activity.EntityUser:
		refreshUser(p, acts)
	case activity.EntityAgent:
		refreshAgent(p, acts)
	case activity.EntitySystem:
		refreshSystem(p, acts)
	}
	p.SampleSize = len(acts)
	p.ConfidenceScore = min(float64(p.SampleSize)/100.0, 1.0)
	p.LastUpdated = time.Now()
	snapshot := *p
	s.mu.Unlock()

	metrics.ProfilesUpdated.Inc()
	s.persist(ctx, key, snapshot)
	return snapshot
}

// refreshUser tracks session duration and actions per session from chat
// activities.
func refreshUser(p *Profile, acts []activity.Activity) {
	var durations, actions []float64
	for _, a := range acts {
		if chat, ok := a.Attrs.(activity.ChatAttrs); ok {
			durations = append(durations, chat.Duration.Seconds())
			actions = append(actions, float64(chat.MessageCount))
		}
	}
	p.SessionDuration = meanStdDev(durations)
	p.ActionsPerSession = meanStdDev(actions)
}

// refreshAgent tracks error rate, processing time, memory usage and the
// hourly operation rate from agent operations.
func refreshAgent(p *Profile, acts []activity.Activity) {
	var errRates, procTimes, memory []float64
	var opCount int
	for _, a := range acts {
		if op, ok := a.Attrs.(activity.AgentOpAttrs); ok {
			errRates = append(errRates, op.ErrorRate)
			procTimes = append(procTimes, op.ProcessingTime.Seconds())
			memory = append(memory, op.MemoryMB)
			opCount++
		}
	}
	p.ErrorRate = meanStdDev(errRates)
	p.ProcessingTime = meanStdDev(procTimes)
	p.MemoryUsage = meanStdDev(memory)

	if opCount > 1 {
		span := acts[len(acts)-1].Timestamp.Sub(acts[0].Timestamp)
		if span > 0 {
			p.APICallRate = Stat{Mean: float64(opCount) / span.Hours()}
		}
	}
}

// refreshSystem tracks per-metric mean/stddev/max.
func refreshSystem(p *Profile, acts []activity.Activity) {
	samples := make(map[string][]float64)
	for _, a := range acts {
		if m, ok := a.Attrs.(activity.MetricAttrs); ok {
			samples[m.Name] = append(samples[m.Name], m.Value)
		}
	}
	baselines := make(map[string]MetricBaseline, len(samples))
	for name, vals := range samples {
		stat := meanStdDev(vals)
		maxVal := vals[0]
		for _, v := range vals[1:] {
			if v > maxVal {
				maxVal = v
			}
		}
		baselines[name] = MetricBaseline{Mean: stat.Mean, StdDev: stat.StdDev, Max: maxVal}
	}
	p.Metrics = baselines
}

func cacheKey(key activity.Key) string {
	return "profile:" + string(key.Type) + ":" + key.ID
}

func (s *Store) persist(ctx context.Context, key activity.Key, p Profile) {
	data, err := json.Marshal(p)
	if err != nil {
		s.logger.Error("marshaling profile", "entity", key.String(), "error", err)
		return
	}
	if err := s.cache.Set(ctx, cacheKey(key), string(data), cacheTTL); err != nil {
		if !errors.Is(err, ttlstore.ErrUnavailable) {
			s.logger.Warn("profile cache write failed", "entity", key.String(), "error", err)
		}
	}
}

// LoadCached restores a profile from the TTL cache, typically at startup.
func (s *Store) LoadCached(ctx context.Context, key activity.Key) (Profile, error) {
	raw, err := s.cache.Get(ctx, cacheKey(key))
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Profile{}, fmt.Errorf("decoding cached profile %s: %w", key.String(), err)
	}

	s.mu.Lock()
	s.profiles[key] = &p
	s.mu.Unlock()
	return p, nil
}
