// Package profile owns the per-entity behavior baselines the detectors
// score against. One Profile exists per (entity type, entity id) once any
// activity for that entity has been observed; profiles are created lazily,
// refreshed only by the profile-refresh loop, and never deleted.
package profile

import (
	"math"
	"sort"
	"time"

	"github.com/vigilsec/vigilsec/internal/activity"
)

// Stat is a rolling mean/standard deviation pair for one behavioral
// dimension.
type Stat struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// MetricBaseline is the system profile's per-metric baseline.
type MetricBaseline struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Max    float64 `json:"max"`
}

// Thresholds are the per-dimension anomaly sensitivity settings. Each is
// independently tunable; the values here are the base triggers the
// detectors scale by the entity's sensitivity multiplier.
type Thresholds struct {
	SessionDurationRatio float64 `json:"session_duration_ratio"`
	MessageCountRatio    float64 `json:"message_count_ratio"`
	ErrorRateRatio       float64 `json:"error_rate_ratio"`
	ProcessingTimeRatio  float64 `json:"processing_time_ratio"`
	MemoryRatio          float64 `json:"memory_ratio"`
	ZScore               float64 `json:"z_score"`
}

// DefaultThresholds returns the baseline trigger levels.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SessionDurationRatio: 3.0,
		MessageCountRatio:    2.5,
		ErrorRateRatio:       3.0,
		ProcessingTimeRatio:  2.0,
		MemoryRatio:          1.5,
		ZScore:               3.0,
	}
}

// Profile is the statistical baseline of one entity's normal behavior.
type Profile struct {
	EntityType activity.EntityType `json:"entity_type"`
	EntityID   string              `json:"entity_id"`

	TypicalHours    []int `json:"typical_hours"`    // hours of day, 0-23
	TypicalWeekdays []int `json:"typical_weekdays"` // 0=Sunday

	SessionDuration   Stat `json:"session_duration"` // seconds
	ActionsPerSession Stat `json:"actions_per_session"`
	ErrorRate         Stat `json:"error_rate"`
	ProcessingTime    Stat `json:"processing_time"` // seconds
	MemoryUsage       Stat `json:"memory_usage"`    // MB
	APICallRate       Stat `json:"api_call_rate"`   // operations per hour

	// Metrics holds the system profile's per-metric baselines keyed by
	// metric name. Empty for user and agent profiles.
	Metrics map[string]MetricBaseline `json:"metrics,omitempty"`

	Thresholds      Thresholds `json:"thresholds"`
	SampleSize      int        `json:"sample_size"`
	ConfidenceScore float64    `json:"confidence_score"`
	CreatedAt       time.Time  `json:"created_at"`
	LastUpdated     time.Time  `json:"last_updated"`
}

// Mature reports whether the profile has enough samples to score against.
func (p *Profile) Mature() bool {
	return p != nil && p.SampleSize >= minSamples
}

// minSamples is the minimum buffered activity count before a refresh
// updates the baselines.
const minSamples = 10

// meanStdDev computes the mean and population standard deviation of vals.
func meanStdDev(vals []float64) Stat {
	if len(vals) == 0 {
		return Stat{}
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))

	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	return Stat{Mean: mean, StdDev: math.Sqrt(sq / float64(len(vals)))}
}

// typicalBuckets returns the distinct hours and weekdays seen across the
// activities, sorted ascending.
func typicalBuckets(acts []activity.Activity) (hours, weekdays []int) {
	hourSet := make(map[int]struct{})
	daySet := make(map[int]struct{})
	for _, a := range acts {
		hourSet[a.Timestamp.Hour()] = struct{}{}
		daySet[int(a.Timestamp.Weekday())] = struct{}{}
	}
	for h := range hourSet {
		hours = append(hours, h)
	}
	for d := range daySet {
		weekdays = append(weekdays, d)
	}
	sort.Ints(hours)
	sort.Ints(weekdays)
	return hours, weekdays
}
