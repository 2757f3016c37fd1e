// Package session defines agent session and checkpoint provenance records.
// Sessions and checkpoints store id references only; resolving an action id
// to its record always goes through the action store.
package session

import "time"

// Session binds a run of subsequent actions to a delegated agent identity.
type Session struct {
	SessionID   string     `json:"sessionId"`
	AgentID     string     `json:"agentId"`
	DelegatedBy string     `json:"delegatedBy,omitempty"`
	Scope       []string   `json:"scope,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// Active reports whether the session is neither explicitly ended nor expired
// as of now.
func (s Session) Active(now time.Time) bool {
	if s.EndedAt != nil {
		return false
	}
	if s.ExpiresAt != nil && !now.Before(*s.ExpiresAt) {
		return false
	}
	return true
}

// Checkpoint is a summarized, optionally attested slice of a session's
// action history, referencing actions by id only.
type Checkpoint struct {
	CheckpointID string     `json:"checkpointId"`
	SessionID    string     `json:"sessionId"`
	ActionIDs    []int64    `json:"actionIds"`
	Summary      string     `json:"summary"`
	AttestedBy   string     `json:"attestedBy,omitempty"`
	Signature    string     `json:"signature,omitempty"`
	AttestedAt   *time.Time `json:"attestedAt,omitempty"`
}
