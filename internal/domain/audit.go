package domain

import "time"

// AuditEntry is a single append-only audit log row. Entries are never mutated.
type AuditEntry struct {
	ID            int64
	Action        string
	EntityType    string
	EntityID      string
	Actor         string
	Details       map[string]any
	AIVersion     string
	LLMRequestID  string
	CorrelationID string
	CreatedAt     time.Time
}

// LifecycleEvent is the broadcast form of a state transition, consumed by the
// operator event feed.
type LifecycleEvent struct {
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Actor      string    `json:"actor"`
	At         time.Time `json:"at"`
}
