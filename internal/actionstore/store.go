// Package actionstore implements the in-memory, ordered, append-only action
// log, with auxiliary indices by agent, session, type, and
// transaction hash. The store never mutates or removes an appended action;
// atomicity with the digest chain is the caller's responsibility (see
// engine.appendLocked), not the store's.
package actionstore

import (
	"sort"
	"sync"
	"time"

	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/action"
)

// Store is the append-only ordered log of action records.
type Store struct {
	mu sync.RWMutex

	nextID  int64
	records []action.Record

	byAgentID   map[string][]int
	bySessionID map[string][]int
	byType      map[action.Kind][]int
	byTxHash    map[string]int
}

// New constructs an empty store. IDs are assigned starting at 1.
func New() *Store {
	return &Store{
		nextID:      1,
		byAgentID:   make(map[string][]int),
		bySessionID: make(map[string][]int),
		byType:      make(map[action.Kind][]int),
		byTxHash:    make(map[string]int),
	}
}

// NextID reserves and returns the next monotonic id without appending
// anything. Used by callers (the verify orchestrator) that need the id
// before computing the digest chain link for the same record.
func (s *Store) NextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	return id
}

// Append adds a fully-formed record (digest/salt already populated by the
// digest chain) to the store and its indices. The caller must have already
// computed the chain link for this exact record; Append does not touch the
// chain, so the orchestrator must call the chain append first and only
// store the record if that succeeds, so both land or neither does.
func (s *Store) Append(r action.Record) action.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := len(s.records)
	s.records = append(s.records, r.Clone())

	if r.AgentID != "" {
		s.byAgentID[r.AgentID] = append(s.byAgentID[r.AgentID], idx)
	}
	if r.SessionID != "" {
		s.bySessionID[r.SessionID] = append(s.bySessionID[r.SessionID], idx)
	}
	s.byType[r.Type] = append(s.byType[r.Type], idx)
	if r.TxHash != "" {
		s.byTxHash[r.TxHash] = idx
	}

	return s.records[idx].Clone()
}

// Get returns the record with the given id, if present.
func (s *Store) Get(id int64) (action.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ID == id {
			return r.Clone(), true
		}
	}
	return action.Record{}, false
}

// All returns a defensive copy of every record in append order.
func (s *Store) All() []action.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]action.Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out
}

// ByID returns a map of all stored records keyed by id, the shape the
// digest chain's Verify/VerifyExported expect.
func (s *Store) ByID() map[int64]action.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]action.Record, len(s.records))
	for _, r := range s.records {
		out[r.ID] = r.Clone()
	}
	return out
}

// ByAgent returns every record for the given agent, in append order.
func (s *Store) ByAgent(agentID string) []action.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idxs := s.byAgentID[agentID]
	out := make([]action.Record, len(idxs))
	for i, idx := range idxs {
		out[i] = s.records[idx].Clone()
	}
	return out
}

// BySession returns every record for the given session, in append order.
func (s *Store) BySession(sessionID string) []action.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idxs := s.bySessionID[sessionID]
	out := make([]action.Record, len(idxs))
	for i, idx := range idxs {
		out[i] = s.records[idx].Clone()
	}
	return out
}

// ByType returns every record of the given kind, in append order.
func (s *Store) ByType(kind action.Kind) []action.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idxs := s.byType[kind]
	out := make([]action.Record, len(idxs))
	for i, idx := range idxs {
		out[i] = s.records[idx].Clone()
	}
	return out
}

// ByTxHash returns the transaction record with the given hash, if present.
func (s *Store) ByTxHash(txHash string) (action.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byTxHash[txHash]
	if !ok {
		return action.Record{}, false
	}
	return s.records[idx].Clone(), true
}

// Filter is the set of optional predicates the export builder and the
// audit query surface apply over the log.
type Filter struct {
	Start   *time.Time
	End     *time.Time
	AgentID string
	Type    action.Kind
}

// Query returns every record matching the filter, in append order. A zero
// Filter field means "no constraint on this dimension".
func (s *Store) Query(f Filter) []action.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]action.Record, 0, len(s.records))
	for _, r := range s.records {
		if f.Start != nil && r.Timestamp.Before(*f.Start) {
			continue
		}
		if f.End != nil && r.Timestamp.After(*f.End) {
			continue
		}
		if f.AgentID != "" && r.AgentID != f.AgentID {
			continue
		}
		if f.Type != "" && r.Type != f.Type {
			continue
		}
		out = append(out, r.Clone())
	}
	return out
}

// Len returns the number of records appended so far.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// RecentByAgentSince returns the agent's records of every type with timestamp
// ≥ since, sorted ascending by timestamp. Used by the anomaly detector's
// frequency-based rules.
func (s *Store) RecentByAgentSince(agentID string, since time.Time) []action.Record {
	recs := s.ByAgent(agentID)
	out := make([]action.Record, 0, len(recs))
	for _, r := range recs {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
