package activity

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vigilsec/vigilsec/internal/metrics"
)

// buffer is one entity's bounded, insertion-ordered activity history.
// Each buffer has its own lock so unrelated entities never serialize.
type buffer struct {
	mu      sync.Mutex
	entries []Activity
}

// Recorder is the activity ingress point. Record never blocks on detection
// and never returns an error to the producer: malformed activities are
// counted, logged and dropped.
type Recorder struct {
	mu       sync.RWMutex
	buffers  map[Key]*buffer
	capacity int
	logger   *slog.Logger
}

// NewRecorder creates a recorder whose per-entity buffers hold at most
// capacity activities, oldest evicted first.
func NewRecorder(capacity int, logger *slog.Logger) *Recorder {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Recorder{
		buffers:  make(map[Key]*buffer),
		capacity: capacity,
		logger:   logger,
	}
}

// Record appends an activity to its entity's buffer. Fire-and-forget.
func (r *Recorder) Record(a Activity) {
	if a.EntityID == "" || !a.EntityType.Valid() || a.Attrs == nil {
		metrics.ActivitiesDropped.Inc()
		r.logger.Warn("dropping malformed activity",
			"entity_id", a.EntityID,
			"entity_type", string(a.EntityType),
			"activity_type", a.ActivityType,
		)
		return
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	if a.ActivityType == "" {
		a.ActivityType = a.Attrs.Kind()
	}

	buf := r.bufferFor(a.Entity())
	buf.mu.Lock()
	defer buf.mu.Unlock()
	if len(buf.entries) >= r.capacity {
		copy(buf.entries, buf.entries[1:])
		buf.entries = buf.entries[:len(buf.entries)-1]
	}
	buf.entries = append(buf.entries, a)
}

func (r *Recorder) bufferFor(key Key) *buffer {
	r.mu.RLock()
	buf, ok := r.buffers[key]
	r.mu.RUnlock()
	if ok {
		return buf
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if buf, ok = r.buffers[key]; ok {
		return buf
	}
	buf = &buffer{}
	r.buffers[key] = buf
	return buf
}

// Snapshot returns a copy of the entity's buffered activities in insertion
// order. The copy is safe to read while ingress continues.
func (r *Recorder) Snapshot(key Key) []Activity {
	r.mu.RLock()
	buf, ok := r.buffers[key]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	buf.mu.Lock()
	defer buf.mu.Unlock()
	out := make([]Activity, len(buf.entries))
	copy(out, buf.entries)
	return out
}

// Since returns the entity's activities with a timestamp after t.
func (r *Recorder) Since(key Key, t time.Time) []Activity {
	all := r.Snapshot(key)
	for i, a := range all {
		if a.Timestamp.After(t) {
			return all[i:]
		}
	}
	return nil
}

// Len reports how many activities are buffered for the entity.
func (r *Recorder) Len(key Key) int {
	r.mu.RLock()
	buf, ok := r.buffers[key]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	buf.mu.Lock()
	defer buf.mu.Unlock()
	return len(buf.entries)
}

// Entities lists every entity that has buffered activity.
func (r *Recorder) Entities() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]Key, 0, len(r.buffers))
	for k := range r.buffers {
		keys = append(keys, k)
	}
	return keys
}

// ActiveSince lists entities with at least one activity after t.
func (r *Recorder) ActiveSince(t time.Time) []Key {
	var active []Key
	for _, key := range r.Entities() {
		snap := r.Snapshot(key)
		if len(snap) > 0 && snap[len(snap)-1].Timestamp.After(t) {
			active = append(active, key)
		}
	}
	return active
}
