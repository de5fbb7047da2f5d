package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskdeck/internal/api"
	"taskdeck/internal/model"
	"taskdeck/internal/store"
	"taskdeck/internal/undo"
)

// ErrEmptyTitle rejects a create or edit before any optimistic change
// or network call happens. It is a form-level error, not a session one.
var ErrEmptyTitle = errors.New("task title must not be empty")

// TaskAPI is the remote collaborator the coordinator confirms
// mutations against.
type TaskAPI interface {
	List(ctx context.Context, acc model.Account, f api.ListFilters) ([]model.Task, error)
	Create(ctx context.Context, acc model.Account, in model.TaskCreate) (*model.Task, error)
	Update(ctx context.Context, acc model.Account, id int64, in model.TaskUpdate) (*model.Task, error)
	Toggle(ctx context.Context, acc model.Account, id int64, completed bool) (*model.Task, error)
	Delete(ctx context.Context, acc model.Account, id int64) error
}

// State tags the lifecycle of one mutation: applied locally, then
// either confirmed by the server or rolled back to the prior snapshot.
type State string

const (
	StatePending    State = "pending"
	StateConfirmed  State = "confirmed"
	StateRolledBack State = "rolled_back"
)

// Op names a mutation kind.
type Op string

const (
	OpCreate  Op = "create"
	OpUpdate  Op = "update"
	OpToggle  Op = "toggle"
	OpDelete  Op = "delete"
	OpRefresh Op = "refresh"
)

// Mutation is the recorded outcome of one coordinator operation.
type Mutation struct {
	ID        string
	Op        Op
	TaskID    int64
	State     State
	Err       string
	StartedAt time.Time
	SettledAt time.Time
}

const recentMutations = 20

// Session coordinates optimistic mutations for one signed-in account:
// it applies the local change first, issues the remote call, and on
// failure restores the exact pre-mutation snapshot. It owns the task
// store and the undo ledger and is the store's only mutation writer.
type Session struct {
	acc    model.Account
	api    TaskAPI
	store  *store.TaskStore
	ledger *undo.Ledger
	now    func() time.Time

	// opMu orders full refreshes against optimistic mutations:
	// mutations hold the read side for their whole apply-confirm span,
	// Refresh holds the write side. Without it a refresh resolving
	// mid-flight would swap in a list lacking an unconfirmed record.
	opMu sync.RWMutex

	mu      sync.Mutex
	locks   map[int64]*taskLock
	recent  []Mutation
	lastErr string
}

type taskLock struct {
	mu   sync.Mutex
	refs int
}

func New(acc model.Account, taskAPI TaskAPI) *Session {
	return &Session{
		acc:    acc,
		api:    taskAPI,
		store:  store.New(),
		ledger: undo.NewLedger(),
		now:    time.Now,
		locks:  make(map[int64]*taskLock),
	}
}

// Account returns the identity this session acts as.
func (s *Session) Account() model.Account { return s.acc }

// Store exposes the session's task store for read access.
func (s *Session) Store() *store.TaskStore { return s.store }

// Refresh replaces the store with a full fetch from the remote API.
// On failure the store keeps its last-known contents. It waits for
// in-flight mutations to settle before fetching, so the list it swaps
// in never misses a record that was being created, or resurrects one
// that was being deleted.
func (s *Session) Refresh(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	m := s.begin(OpRefresh, 0)
	tasks, err := s.api.List(ctx, s.acc, api.ListFilters{})
	if err != nil {
		s.settle(m, StateRolledBack, err, "Failed to load tasks")
		return fmt.Errorf("refresh: %w", err)
	}
	s.store.ReplaceAll(tasks)
	s.settle(m, StateConfirmed, nil, "")
	s.ClearError()
	return nil
}

// Create optimistically inserts a provisional task at the front of the
// store, then asks the server to persist it. The provisional record
// carries a negated-UnixNano id, which cannot collide with the
// server's positive autoincrement space; on confirmation the server
// record replaces it in place, atomically from the store's viewpoint.
func (s *Session) Create(ctx context.Context, in model.TaskCreate) (*model.Task, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, ErrEmptyTitle
	}
	if in.Priority == "" {
		in.Priority = model.PriorityMedium
	}

	now := s.now()
	optimistic := model.Task{
		ID:          -now.UnixNano(),
		Title:       in.Title,
		Description: in.Description,
		Completed:   in.Completed,
		Priority:    in.Priority,
		DueDate:     in.DueDate,
		Tags:        in.Tags,
		UserID:      s.acc.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	unlock := s.lockTask(optimistic.ID)
	defer unlock()

	s.store.InsertFront(optimistic)
	m := s.begin(OpCreate, optimistic.ID)

	created, err := s.api.Create(ctx, s.acc, in)
	if err != nil {
		s.store.RemoveByID(optimistic.ID)
		s.settle(m, StateRolledBack, err, "Failed to create task")
		return nil, fmt.Errorf("create %q: %w", in.Title, err)
	}

	s.store.Replace(optimistic.ID, *created)
	s.settle(m, StateConfirmed, nil, "")
	return created, nil
}

// Update merges a partial edit into the stored task with a refreshed
// update timestamp, then confirms it remotely. On failure the exact
// prior snapshot comes back, timestamps included. On success the
// optimistic merge stays authoritative; only the server's timestamps
// are adopted when they differ.
func (s *Session) Update(ctx context.Context, id int64, in model.TaskUpdate) error {
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return ErrEmptyTitle
	}

	unlock := s.lockTask(id)
	defer unlock()

	prior, ok := s.store.FindByID(id)
	if !ok {
		return nil
	}

	merged := s.merge(prior, in)
	s.store.Replace(id, merged)
	m := s.begin(OpUpdate, id)

	updated, err := s.api.Update(ctx, s.acc, id, in)
	if err != nil {
		s.store.Replace(id, prior)
		s.settle(m, StateRolledBack, err, "Failed to update task")
		return fmt.Errorf("update %d: %w", id, err)
	}

	merged.UpdatedAt = updated.UpdatedAt
	merged.CompletedAt = updated.CompletedAt
	s.store.Replace(id, merged)
	s.settle(m, StateConfirmed, nil, "")
	return nil
}

// Toggle is the update pattern restricted to the completion flag.
func (s *Session) Toggle(ctx context.Context, id int64, completed bool) error {
	unlock := s.lockTask(id)
	defer unlock()

	prior, ok := s.store.FindByID(id)
	if !ok {
		return nil
	}

	merged := s.merge(prior, model.TaskUpdate{Completed: &completed})
	s.store.Replace(id, merged)
	m := s.begin(OpToggle, id)

	toggled, err := s.api.Toggle(ctx, s.acc, id, completed)
	if err != nil {
		s.store.Replace(id, prior)
		s.settle(m, StateRolledBack, err, "Failed to update task status")
		return fmt.Errorf("toggle %d: %w", id, err)
	}

	merged.UpdatedAt = toggled.UpdatedAt
	merged.CompletedAt = toggled.CompletedAt
	s.store.Replace(id, merged)
	s.settle(m, StateConfirmed, nil, "")
	return nil
}

// Delete captures the full record and its position, removes it
// immediately, records the action for undo, then confirms remotely.
// A confirmed delete performs no further store writes, so an undo that
// lands after confirmation still restores the task locally; it will
// vanish again on the next full refresh.
func (s *Session) Delete(ctx context.Context, id int64) error {
	unlock := s.lockTask(id)
	defer unlock()

	snapshot, index, ok := s.store.RemoveByID(id)
	if !ok {
		return nil
	}
	s.ledger.Add(undo.Action{Kind: undo.KindDelete, Task: snapshot, Index: index})
	m := s.begin(OpDelete, id)

	if err := s.api.Delete(ctx, s.acc, id); err != nil {
		s.store.InsertAt(index, snapshot)
		s.ledger.Drop()
		s.settle(m, StateRolledBack, err, "Failed to delete task")
		return fmt.Errorf("delete %d: %w", id, err)
	}

	s.settle(m, StateConfirmed, nil, "")
	return nil
}

// Undo reverses the most recent recorded action locally. The ledger
// hands the action back; the session replays its inverse against the
// store. No network call is made.
func (s *Session) Undo() (model.Task, bool) {
	s.opMu.RLock()
	defer s.opMu.RUnlock()

	action, ok := s.ledger.Undo()
	if !ok {
		return model.Task{}, false
	}
	s.store.InsertAt(action.Index, action.Task)
	return action.Task, true
}

// Redo re-applies the most recently undone action, including its
// remote confirmation. A failed confirmation hands the action back to
// the redo stack and restores the task.
func (s *Session) Redo(ctx context.Context) (model.Task, bool, error) {
	action, ok := s.ledger.Redo()
	if !ok {
		return model.Task{}, false, nil
	}

	unlock := s.lockTask(action.Task.ID)
	defer unlock()

	snapshot, index, found := s.store.RemoveByID(action.Task.ID)
	m := s.begin(OpDelete, action.Task.ID)

	if err := s.api.Delete(ctx, s.acc, action.Task.ID); err != nil {
		if found {
			s.store.InsertAt(index, snapshot)
		}
		s.ledger.Undo()
		s.settle(m, StateRolledBack, err, "Failed to delete task")
		return action.Task, true, fmt.Errorf("redo delete %d: %w", action.Task.ID, err)
	}

	s.settle(m, StateConfirmed, nil, "")
	return action.Task, true, nil
}

func (s *Session) CanUndo() bool { return s.ledger.CanUndo() }

func (s *Session) CanRedo() bool { return s.ledger.CanRedo() }

// Reset drops all session state: tasks, history and the error banner.
func (s *Session) Reset() {
	s.store.ReplaceAll(nil)
	s.ledger.Clear()
	s.mu.Lock()
	s.recent = nil
	s.lastErr = ""
	s.mu.Unlock()
}

// LastError returns the session-level error banner, empty when the
// last mutation confirmed cleanly.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ClearError dismisses the error banner.
func (s *Session) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = ""
}

// Recent returns the latest mutation outcomes, newest first.
func (s *Session) Recent() []Mutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Mutation, len(s.recent))
	for i, m := range s.recent {
		out[len(s.recent)-1-i] = m
	}
	return out
}

// merge applies a partial update to a snapshot, refreshing UpdatedAt
// and keeping the server's completed_at rules: first completion stamps
// it, un-completing clears it.
func (s *Session) merge(prior model.Task, in model.TaskUpdate) model.Task {
	merged := prior
	if in.Title != nil {
		merged.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		merged.Description = *in.Description
	}
	if in.Priority != nil {
		merged.Priority = *in.Priority
	}
	if in.DueDate != nil {
		merged.DueDate = in.DueDate
	}
	if in.Tags != nil {
		merged.Tags = *in.Tags
	}
	if in.Completed != nil {
		merged.Completed = *in.Completed
		if *in.Completed {
			if merged.CompletedAt == nil {
				now := s.now()
				merged.CompletedAt = &now
			}
		} else {
			merged.CompletedAt = nil
		}
	}
	merged.UpdatedAt = s.now()
	return merged
}

// lockTask serializes mutations per task id so overlapping
// confirmations on the same task cannot settle out of order, and holds
// the shared read lock against Refresh for the mutation's duration.
// The per-id entry is refcounted and removed once uncontended, so
// single-use provisional create ids do not accumulate.
func (s *Session) lockTask(id int64) func() {
	s.opMu.RLock()

	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &taskLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
		s.opMu.RUnlock()
	}
}

func (s *Session) begin(op Op, taskID int64) Mutation {
	m := Mutation{
		ID:        uuid.NewString(),
		Op:        op,
		TaskID:    taskID,
		State:     StatePending,
		StartedAt: s.now(),
	}
	s.mu.Lock()
	s.recent = append(s.recent, m)
	if len(s.recent) > recentMutations {
		s.recent = s.recent[len(s.recent)-recentMutations:]
	}
	s.mu.Unlock()
	return m
}

func (s *Session) settle(m Mutation, state State, err error, banner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.recent {
		if s.recent[i].ID == m.ID {
			s.recent[i].State = state
			s.recent[i].SettledAt = s.now()
			if err != nil {
				s.recent[i].Err = err.Error()
			}
			break
		}
	}
	if err != nil {
		s.lastErr = banner
	}
}
