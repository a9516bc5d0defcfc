package orch

import "time"

type HealthAction int

const (
	NoAction HealthAction = iota
	Recover
)

// Policy decides what the health pass does with a session.
type Policy interface {
	OnHealthCheck(h *ConnectionHealth, now time.Time) HealthAction
}

// ThresholdPolicy recovers sessions that have been idle and failing for too
// long, a bounded number of times.
type ThresholdPolicy struct {
	IdleThreshold       time.Duration
	FailureThreshold    int
	MaxRecoveryAttempts int
}

func DefaultPolicy() ThresholdPolicy {
	return ThresholdPolicy{
		IdleThreshold:       10 * time.Second,
		FailureThreshold:    3,
		MaxRecoveryAttempts: 3,
	}
}

func (p ThresholdPolicy) OnHealthCheck(h *ConnectionHealth, now time.Time) HealthAction {
	if h.Idle(now) > p.IdleThreshold &&
		h.ConsecutiveFailures > p.FailureThreshold &&
		h.IceRestartAttempts < p.MaxRecoveryAttempts {
		return Recover
	}
	return NoAction
}
