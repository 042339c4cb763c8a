package agent

import "time"

// Status represents an agent's lifecycle state.
type Status string

const (
	StatusActive  Status = "active"
	StatusIdle    Status = "idle"
	StatusBlocked Status = "blocked"
	StatusOffline Status = "offline"
	StatusError   Status = "error"
)

// Agent is the registry record for one worker process. The store is
// authoritative; only the agent's own process mutates this record, apart
// from the offline sweep.
type Agent struct {
	ID              string    `json:"id"`
	Role            string    `json:"role"`
	Status          Status    `json:"status"`
	Capacity        float64   `json:"capacity"`
	Specializations []string  `json:"specializations,omitempty"`
	WorkCapacity    *int      `json:"work_capacity,omitempty"`
	LastHeartbeat   time.Time `json:"last_heartbeat"`
	RegisteredAt    time.Time `json:"registered_at"`
	Metrics         Metrics   `json:"metrics"`
}

// Metrics tracks per-agent delivery performance, updated on work completion.
type Metrics struct {
	WorkCompleted   int64   `json:"work_completed"`
	AvgCompletionMS float64 `json:"avg_completion_ms"`
	SuccessRate     float64 `json:"success_rate"`
}

// HasSpecialization reports whether the agent carries the given
// specialization. An agent with no specializations accepts any work type.
func (a *Agent) HasSpecialization(spec string) bool {
	if len(a.Specializations) == 0 {
		return true
	}
	for _, s := range a.Specializations {
		if s == spec {
			return true
		}
	}
	return false
}
