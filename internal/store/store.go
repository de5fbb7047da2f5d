package store

import (
	"sync"

	"taskdeck/internal/model"
)

// Counts summarizes the store for the filter header.
type Counts struct {
	All       int
	Pending   int
	Completed int
}

// TaskStore holds the ordered in-memory task list for the signed-in
// user. It is the single source of truth for the view; the mutation
// coordinator is its only writer. Every operation is total: an absent
// id is a no-op, never an error.
type TaskStore struct {
	mu    sync.RWMutex
	tasks []model.Task
}

func New() *TaskStore {
	return &TaskStore{}
}

// ReplaceAll swaps the entire collection, used after a full fetch.
func (s *TaskStore) ReplaceAll(tasks []model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks[:0:0], tasks...)
}

// InsertFront places a task at the head of the list (newest-first).
func (s *TaskStore) InsertFront(task model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append([]model.Task{task}, s.tasks...)
}

// InsertAt restores a task at a previous position. Out-of-range
// indexes clamp to the nearest end.
func (s *TaskStore) InsertAt(index int, task model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 {
		index = 0
	}
	if index > len(s.tasks) {
		index = len(s.tasks)
	}
	s.tasks = append(s.tasks, model.Task{})
	copy(s.tasks[index+1:], s.tasks[index:])
	s.tasks[index] = task
}

// RemoveByID deletes a task and reports the removed snapshot and its
// position, which the caller needs for rollback and undo.
func (s *TaskStore) RemoveByID(id int64) (model.Task, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, task := range s.tasks {
		if task.ID == id {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return task, i, true
		}
	}
	return model.Task{}, 0, false
}

// Replace overwrites the task carrying id in place, preserving its
// position. The replacement may carry a different id (a server record
// taking over from a temporary one).
func (s *TaskStore) Replace(id int64, task model.Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			s.tasks[i] = task
			return true
		}
	}
	return false
}

// FindByID returns a copy of the task with the given id.
func (s *TaskStore) FindByID(id int64) (model.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, task := range s.tasks {
		if task.ID == id {
			return task, true
		}
	}
	return model.Task{}, false
}

// Snapshot returns a copy of the current collection in order.
func (s *TaskStore) Snapshot() []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Task(nil), s.tasks...)
}

func (s *TaskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Counts tallies the collection for the all/pending/completed header.
func (s *TaskStore) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := Counts{All: len(s.tasks)}
	for _, task := range s.tasks {
		if task.Completed {
			c.Completed++
		} else {
			c.Pending++
		}
	}
	return c
}
