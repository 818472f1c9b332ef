package live

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDoesNotOverwrite(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Ensure("abc123", "let a = 1", "javascript"))
	require.True(t, r.UpdateCode("abc123", "let a = 2", "javascript", "u1"))
	assert.False(t, r.Ensure("abc123", "stale durable code", "python"))

	snap, ok := r.Snapshot("abc123")
	require.True(t, ok)
	assert.Equal(t, "let a = 2", snap.Code)
	assert.Equal(t, "javascript", snap.Language)
}

func TestSetParticipantRequiresEntry(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.SetParticipant("missing", "u1", Participant{DisplayName: "A", ConnectionID: "c1"}))
	assert.False(t, r.HasParticipant("missing", "u1"))
}

func TestParticipantsAppearOnceInJoinOrder(t *testing.T) {
	r := NewRegistry()
	r.Ensure("abc123", "", "javascript")

	r.SetParticipant("abc123", "u2", Participant{DisplayName: "Bea", ConnectionID: "c2"})
	r.SetParticipant("abc123", "u1", Participant{DisplayName: "Al", ConnectionID: "c1"})
	// reconnect from a second tab keeps the original position
	r.SetParticipant("abc123", "u2", Participant{DisplayName: "Bea", ConnectionID: "c3"})

	ps := r.Participants("abc123")
	require.Len(t, ps, 2)
	assert.Equal(t, "u2", ps[0].UserID)
	assert.Equal(t, "c3", ps[0].ConnectionID)
	assert.Equal(t, "u1", ps[1].UserID)
}

func TestParticipantsOfMissingSessionIsEmptySlice(t *testing.T) {
	r := NewRegistry()

	ps := r.Participants("nope")
	assert.NotNil(t, ps)
	assert.Empty(t, ps)
}

func TestRemoveParticipantIsConnectionScoped(t *testing.T) {
	r := NewRegistry()
	r.Ensure("abc123", "", "go")
	r.SetParticipant("abc123", "u1", Participant{ConnectionID: "new"})

	assert.False(t, r.RemoveParticipant("abc123", "u1", "old"))
	assert.True(t, r.HasParticipant("abc123", "u1"))

	assert.True(t, r.RemoveParticipant("abc123", "u1", "new"))
	assert.True(t, r.IsEmpty("abc123"))
}

func TestUpdateCodeLastWriterWins(t *testing.T) {
	r := NewRegistry()
	r.Ensure("abc123", "", "javascript")

	r.UpdateCode("abc123", "C1", "javascript", "u1")
	r.UpdateCode("abc123", "C2", "python", "u2")

	snap, ok := r.Snapshot("abc123")
	require.True(t, ok)
	assert.Equal(t, "C2", snap.Code)
	assert.Equal(t, "python", snap.Language)
	assert.Equal(t, "u2", snap.LastEditor)
	assert.Equal(t, uint64(2), snap.Revision)
}

func TestUpdateCodeWithoutEntryIsNoop(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.UpdateCode("abc123", "code", "go", "u1"))
	assert.Equal(t, 0, r.Len())
}

func TestMarkSavedTracksDirtyState(t *testing.T) {
	r := NewRegistry()
	r.Ensure("abc123", "", "go")

	snap, _ := r.Snapshot("abc123")
	assert.False(t, snap.Dirty())

	r.UpdateCode("abc123", "package main", "go", "u1")
	snap, _ = r.Snapshot("abc123")
	assert.True(t, snap.Dirty())

	r.MarkSaved("abc123", snap.Revision)
	r.MarkSaved("abc123", 0)
	snap, _ = r.Snapshot("abc123")
	assert.False(t, snap.Dirty())
}

func TestRemoveConnectionCleansEveryReference(t *testing.T) {
	r := NewRegistry()
	r.Ensure("s1", "", "go")
	r.Ensure("s2", "", "go")
	r.SetParticipant("s1", "u1", Participant{ConnectionID: "c1"})
	r.SetParticipant("s1", "u2", Participant{ConnectionID: "c2"})
	r.SetParticipant("s2", "u1", Participant{ConnectionID: "c1"})

	affected := r.RemoveConnection("c1")
	assert.Equal(t, []string{"s1", "s2"}, affected)

	assert.False(t, r.HasParticipant("s1", "u1"))
	assert.True(t, r.HasParticipant("s1", "u2"))
	assert.True(t, r.IsEmpty("s2"))
}

func TestEvictIfEmpty(t *testing.T) {
	r := NewRegistry()
	r.Ensure("abc123", "", "go")
	r.SetParticipant("abc123", "u1", Participant{ConnectionID: "c1"})

	assert.False(t, r.EvictIfEmpty("abc123"))
	r.RemoveParticipant("abc123", "u1", "c1")
	assert.True(t, r.EvictIfEmpty("abc123"))
	assert.False(t, r.Exists("abc123"))
	assert.True(t, r.IsEmpty("abc123"))
}

func TestEndIsUnconditional(t *testing.T) {
	r := NewRegistry()
	r.Ensure("abc123", "", "go")
	r.SetParticipant("abc123", "u1", Participant{ConnectionID: "c1"})

	r.End("abc123")
	assert.False(t, r.Exists("abc123"))
	assert.Empty(t, r.SessionIDs())
}

func TestEndedSessionIsNotRecreated(t *testing.T) {
	r := NewRegistry()
	r.Ensure("abc123", "", "go")
	r.End("abc123")

	// a join that read the session before it ended
	assert.False(t, r.Ensure("abc123", "stale", "go"))
	assert.False(t, r.SetParticipant("abc123", "u1", Participant{ConnectionID: "c1"}))
	assert.False(t, r.Exists("abc123"))

	assert.True(t, r.Ensure("other", "", "go"))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	r.Ensure("abc123", "", "go")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i)
			r.SetParticipant("abc123", user, Participant{ConnectionID: "c-" + user})
			r.UpdateCode("abc123", user, "go", user)
			r.Participants("abc123")
		}(i)
	}
	wg.Wait()

	assert.Len(t, r.Participants("abc123"), 50)
	snap, _ := r.Snapshot("abc123")
	assert.Equal(t, uint64(50), snap.Revision)
}
