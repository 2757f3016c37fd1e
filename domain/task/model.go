// Package task defines the human-in-loop task lifecycle state machine.
package task

import "time"

// Status is the closed enumeration of task lifecycle states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// Terminal reports whether status has no further transitions (expiry aside).
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusExpired
}

// Task is a human-in-loop task awaiting confirming evidence.
type Task struct {
	ID               string            `json:"id"`
	ProjectID        string            `json:"projectId"`
	Description      string            `json:"description"`
	AgentID          string            `json:"agentId"`
	Status           Status            `json:"status"`
	RequiredEvidence []string          `json:"requiredEvidence"`
	ProvidedEvidence map[string]string `json:"providedEvidence,omitempty"`
	CorrelationID    string            `json:"correlationId,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	ConfirmedAt      *time.Time        `json:"confirmedAt,omitempty"`
	ExpiresAt        time.Time         `json:"expiresAt"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
	FailureReason    string            `json:"failureReason,omitempty"`
}

// IsExpired reports whether the task's deadline has passed while it is still
// in a non-terminal state.
func (t Task) IsExpired(now time.Time) bool {
	return !t.Status.Terminal() && !now.Before(t.ExpiresAt)
}

// HasAllEvidence reports whether every required evidence key is present and
// non-empty in provided.
func (t Task) HasAllEvidence(provided map[string]string) bool {
	for _, key := range t.RequiredEvidence {
		v, ok := provided[key]
		if !ok || v == "" {
			return false
		}
	}
	return true
}
