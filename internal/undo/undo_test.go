package undo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdeck/internal/model"
)

func action(id int64, index int) Action {
	return Action{Kind: KindDelete, Task: model.Task{ID: id}, Index: index}
}

func TestUndoRedo_RoundTrip(t *testing.T) {
	l := NewLedger()
	assert.False(t, l.CanUndo())
	assert.False(t, l.CanRedo())

	l.Add(action(1, 0))
	l.Add(action(2, 3))
	assert.True(t, l.CanUndo())

	a, ok := l.Undo()
	require.True(t, ok)
	assert.Equal(t, int64(2), a.Task.ID)
	assert.Equal(t, 3, a.Index)
	assert.True(t, l.CanRedo())

	a, ok = l.Redo()
	require.True(t, ok)
	assert.Equal(t, int64(2), a.Task.ID)
	assert.False(t, l.CanRedo())
	assert.True(t, l.CanUndo())
}

func TestUndo_Empty(t *testing.T) {
	l := NewLedger()
	_, ok := l.Undo()
	assert.False(t, ok)
	_, ok = l.Redo()
	assert.False(t, ok)
}

// TestAdd_InvalidatesRedo checks the linear-history rule: a new action
// after an undo discards everything that could have been redone.
func TestAdd_InvalidatesRedo(t *testing.T) {
	l := NewLedger()
	l.Add(action(1, 0))
	l.Add(action(2, 0))

	_, ok := l.Undo()
	require.True(t, ok)
	require.True(t, l.CanRedo())

	l.Add(action(3, 0))
	assert.False(t, l.CanRedo())

	a, ok := l.Undo()
	require.True(t, ok)
	assert.Equal(t, int64(3), a.Task.ID)
}

// TestDrop discards the newest past action without making it redoable.
func TestDrop(t *testing.T) {
	l := NewLedger()
	l.Add(action(1, 0))
	l.Add(action(2, 0))

	l.Drop()
	assert.False(t, l.CanRedo())

	a, ok := l.Undo()
	require.True(t, ok)
	assert.Equal(t, int64(1), a.Task.ID)

	l.Drop() // empty past is a no-op
	assert.False(t, l.CanUndo())
}

func TestClear(t *testing.T) {
	l := NewLedger()
	l.Add(action(1, 0))
	l.Undo()
	l.Add(action(2, 0))

	l.Clear()
	assert.False(t, l.CanUndo())
	assert.False(t, l.CanRedo())
}
