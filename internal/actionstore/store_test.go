package actionstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/action"
)

func TestNextIDMonotonic(t *testing.T) {
	s := New()
	require.Equal(t, int64(1), s.NextID())
	require.Equal(t, int64(2), s.NextID())
	require.Equal(t, int64(3), s.NextID())
}

func TestAppendAndGet(t *testing.T) {
	s := New()
	id := s.NextID()
	r := action.Record{ID: id, AgentID: "a1", Type: action.KindGeneric, Timestamp: time.Now()}
	s.Append(r)

	got, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, "a1", got.AgentID)
}

func TestAppendIndexesByAgentSessionTypeAndTxHash(t *testing.T) {
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.Append(action.Record{ID: s.NextID(), AgentID: "a1", SessionID: "s1", Type: action.KindTransaction, TxHash: "0xabc", Timestamp: base})
	s.Append(action.Record{ID: s.NextID(), AgentID: "a1", SessionID: "s1", Type: action.KindGeneric, Timestamp: base.Add(time.Minute)})
	s.Append(action.Record{ID: s.NextID(), AgentID: "a2", Type: action.KindTransaction, TxHash: "0xdef", Timestamp: base.Add(2 * time.Minute)})

	assert.Len(t, s.ByAgent("a1"), 2)
	assert.Len(t, s.ByAgent("a2"), 1)
	assert.Len(t, s.BySession("s1"), 2)
	assert.Len(t, s.ByType(action.KindTransaction), 2)

	tx, ok := s.ByTxHash("0xabc")
	require.True(t, ok)
	assert.Equal(t, "a1", tx.AgentID)
}

func TestCloneIsolatesMetadataMutation(t *testing.T) {
	s := New()
	id := s.NextID()
	s.Append(action.Record{ID: id, Metadata: map[string]any{"k": "v"}, Timestamp: time.Now()})

	got, _ := s.Get(id)
	got.Metadata["k"] = "mutated"

	again, _ := s.Get(id)
	assert.Equal(t, "v", again.Metadata["k"])
}

func TestQueryFiltersByTimestampAgentAndType(t *testing.T) {
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Append(action.Record{ID: s.NextID(), AgentID: "a1", Type: action.KindGeneric, Timestamp: base})
	s.Append(action.Record{ID: s.NextID(), AgentID: "a2", Type: action.KindTransaction, Timestamp: base.Add(time.Hour)})
	s.Append(action.Record{ID: s.NextID(), AgentID: "a1", Type: action.KindTransaction, Timestamp: base.Add(2 * time.Hour)})

	start := base.Add(30 * time.Minute)
	results := s.Query(Filter{Start: &start, AgentID: "a1"})
	require.Len(t, results, 1)
	assert.Equal(t, action.KindTransaction, results[0].Type)
}

func TestRecentByAgentSinceSortsAscending(t *testing.T) {
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Append(action.Record{ID: s.NextID(), AgentID: "a1", Timestamp: base.Add(2 * time.Hour)})
	s.Append(action.Record{ID: s.NextID(), AgentID: "a1", Timestamp: base.Add(1 * time.Hour)})

	out := s.RecentByAgentSince("a1", base)
	require.Len(t, out, 2)
	assert.True(t, out[0].Timestamp.Before(out[1].Timestamp))
}

func TestLenReflectsAppendCount(t *testing.T) {
	s := New()
	assert.Equal(t, 0, s.Len())
	s.Append(action.Record{ID: s.NextID(), Timestamp: time.Now()})
	s.Append(action.Record{ID: s.NextID(), Timestamp: time.Now()})
	assert.Equal(t, 2, s.Len())
}
