package orch

import (
	"time"

	"github.com/dkeye/Relay/internal/core"
)

// ConnectionHealth is what the pool knows about a session's liveness.
type ConnectionHealth struct {
	LastActivity        time.Time
	ConsecutiveFailures int
	IceRestartAttempts  int
}

func (h *ConnectionHealth) MarkActivity(now time.Time) {
	h.LastActivity = now
	h.ConsecutiveFailures = 0
}

func (h *ConnectionHealth) MarkFailure() {
	h.ConsecutiveFailures++
}

func (h *ConnectionHealth) Idle(now time.Time) time.Duration {
	return now.Sub(h.LastActivity)
}

// HealthRegistry keys health records by session. Coordinator goroutine only.
type HealthRegistry struct {
	records map[core.SessionID]*ConnectionHealth
}

func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{records: make(map[core.SessionID]*ConnectionHealth)}
}

func (r *HealthRegistry) Add(id core.SessionID, now time.Time) *ConnectionHealth {
	h := &ConnectionHealth{LastActivity: now}
	r.records[id] = h
	return h
}

func (r *HealthRegistry) Get(id core.SessionID) (*ConnectionHealth, bool) {
	h, ok := r.records[id]
	return h, ok
}

func (r *HealthRegistry) Remove(id core.SessionID) {
	delete(r.records, id)
}

func (r *HealthRegistry) MarkActivity(id core.SessionID, now time.Time) {
	if h, ok := r.records[id]; ok {
		h.MarkActivity(now)
	}
}

// MarkFailureAll counts a failure against every session.
func (r *HealthRegistry) MarkFailureAll() {
	for _, h := range r.records {
		h.MarkFailure()
	}
}

func (r *HealthRegistry) Len() int { return len(r.records) }
