package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdeck/internal/model"
)

func seed() []model.Task {
	return []model.Task{
		{ID: 3, Title: "newest"},
		{ID: 2, Title: "middle", Completed: true},
		{ID: 1, Title: "oldest"},
	}
}

func TestReplaceAll(t *testing.T) {
	s := New()
	s.ReplaceAll(seed())
	assert.Equal(t, 3, s.Len())

	s.ReplaceAll(nil)
	assert.Equal(t, 0, s.Len())
}

func TestInsertFront(t *testing.T) {
	s := New()
	s.ReplaceAll(seed())
	s.InsertFront(model.Task{ID: 4, Title: "fresh"})

	got := s.Snapshot()
	require.Len(t, got, 4)
	assert.Equal(t, int64(4), got[0].ID)
	assert.Equal(t, int64(3), got[1].ID)
}

// TestInsertAt checks position restore and index clamping.
func TestInsertAt(t *testing.T) {
	s := New()
	s.ReplaceAll(seed())

	s.InsertAt(1, model.Task{ID: 10})
	got := s.Snapshot()
	require.Len(t, got, 4)
	assert.Equal(t, int64(10), got[1].ID)

	s.InsertAt(-5, model.Task{ID: 11})
	assert.Equal(t, int64(11), s.Snapshot()[0].ID)

	s.InsertAt(100, model.Task{ID: 12})
	snap := s.Snapshot()
	assert.Equal(t, int64(12), snap[len(snap)-1].ID)
}

func TestRemoveByID(t *testing.T) {
	s := New()
	s.ReplaceAll(seed())

	removed, index, ok := s.RemoveByID(2)
	require.True(t, ok)
	assert.Equal(t, "middle", removed.Title)
	assert.Equal(t, 1, index)
	assert.Equal(t, 2, s.Len())

	_, _, ok = s.RemoveByID(2)
	assert.False(t, ok)
	assert.Equal(t, 2, s.Len())
}

// TestReplace_SwapsID checks that a server record can take over from a
// provisional one without moving.
func TestReplace_SwapsID(t *testing.T) {
	s := New()
	s.InsertFront(model.Task{ID: -100, Title: "provisional"})
	s.InsertFront(model.Task{ID: 5, Title: "other"})

	ok := s.Replace(-100, model.Task{ID: 42, Title: "confirmed"})
	require.True(t, ok)

	got := s.Snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, int64(42), got[1].ID)
	assert.Equal(t, "confirmed", got[1].Title)

	_, found := s.FindByID(-100)
	assert.False(t, found)

	assert.False(t, s.Replace(999, model.Task{ID: 999}))
}

func TestFindByID(t *testing.T) {
	s := New()
	s.ReplaceAll(seed())

	task, ok := s.FindByID(1)
	require.True(t, ok)
	assert.Equal(t, "oldest", task.Title)

	_, ok = s.FindByID(99)
	assert.False(t, ok)
}

// TestSnapshot_IsCopy checks that mutating a snapshot does not leak
// into the store.
func TestSnapshot_IsCopy(t *testing.T) {
	s := New()
	s.ReplaceAll(seed())

	snap := s.Snapshot()
	snap[0].Title = "mutated"

	task, _ := s.FindByID(3)
	assert.Equal(t, "newest", task.Title)
}

func TestCounts(t *testing.T) {
	s := New()
	assert.Equal(t, Counts{}, s.Counts())

	s.ReplaceAll(seed())
	assert.Equal(t, Counts{All: 3, Pending: 2, Completed: 1}, s.Counts())
}
