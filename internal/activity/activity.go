// Package activity normalizes heterogeneous activity events into a common
// record and buffers them per entity for the detectors and the profile
// refresh loop.
package activity

import "time"

// EntityType identifies the kind of entity an activity belongs to.
type EntityType string

const (
	EntityUser   EntityType = "user"
	EntityAgent  EntityType = "agent"
	EntitySystem EntityType = "system"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityUser, EntityAgent, EntitySystem:
		return true
	}
	return false
}

// Key identifies one profiled entity.
type Key struct {
	Type EntityType
	ID   string
}

func (k Key) String() string {
	return string(k.Type) + ":" + k.ID
}

// Attributes is the activity-kind-specific payload. Each variant carries
// only the fields its domain's detector reads.
type Attributes interface {
	Kind() string
}

// ChatAttrs describes a user chat session.
type ChatAttrs struct {
	Duration     time.Duration `json:"duration"`
	MessageCount int           `json:"message_count"`
}

func (ChatAttrs) Kind() string { return "chat_session" }

// BookingAttrs describes a service booking.
type BookingAttrs struct {
	Cost        float64 `json:"cost"`
	ServiceType string  `json:"service_type,omitempty"`
}

func (BookingAttrs) Kind() string { return "service_booking" }

// AgentOpAttrs describes one operation performed by a worker agent.
type AgentOpAttrs struct {
	Operation      string        `json:"operation,omitempty"`
	ErrorRate      float64       `json:"error_rate"`
	ProcessingTime time.Duration `json:"processing_time"`
	MemoryMB       float64       `json:"memory_mb"`
	LogVolume      float64       `json:"log_volume"`
}

func (AgentOpAttrs) Kind() string { return "agent_operation" }

// MetricAttrs is a single system metric sample.
type MetricAttrs struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func (MetricAttrs) Kind() string { return "system_metric" }

// Activity is one normalized, immutable activity record.
type Activity struct {
	EntityID     string
	EntityType   EntityType
	ActivityType string
	Timestamp    time.Time
	Attrs        Attributes
}

// Entity returns the owning entity's key.
func (a Activity) Entity() Key {
	return Key{Type: a.EntityType, ID: a.EntityID}
}
