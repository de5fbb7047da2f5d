package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdeck/internal/api"
	"taskdeck/internal/model"
)

var errNetwork = errors.New("connection refused")

// fakeAPI lets each test script the remote side per call.
type fakeAPI struct {
	list   func(f api.ListFilters) ([]model.Task, error)
	create func(in model.TaskCreate) (*model.Task, error)
	update func(id int64, in model.TaskUpdate) (*model.Task, error)
	toggle func(id int64, completed bool) (*model.Task, error)
	delete func(id int64) error
}

func (f *fakeAPI) List(_ context.Context, _ model.Account, in api.ListFilters) ([]model.Task, error) {
	return f.list(in)
}

func (f *fakeAPI) Create(_ context.Context, _ model.Account, in model.TaskCreate) (*model.Task, error) {
	return f.create(in)
}

func (f *fakeAPI) Update(_ context.Context, _ model.Account, id int64, in model.TaskUpdate) (*model.Task, error) {
	return f.update(id, in)
}

func (f *fakeAPI) Toggle(_ context.Context, _ model.Account, id int64, completed bool) (*model.Task, error) {
	return f.toggle(id, completed)
}

func (f *fakeAPI) Delete(_ context.Context, _ model.Account, id int64) error {
	return f.delete(id)
}

func newTestSession(remote *fakeAPI) *Session {
	return New(model.Account{UserID: "u1", Token: "secret"}, remote)
}

func seedSession(t *testing.T, remote *fakeAPI, tasks []model.Task) *Session {
	t.Helper()
	remote.list = func(api.ListFilters) ([]model.Task, error) { return tasks, nil }
	s := newTestSession(remote)
	require.NoError(t, s.Refresh(context.Background()))
	return s
}

func TestRefresh(t *testing.T) {
	remote := &fakeAPI{}
	s := seedSession(t, remote, []model.Task{{ID: 2, Title: "b"}, {ID: 1, Title: "a"}})
	assert.Equal(t, 2, s.Store().Len())

	// A failed refresh keeps the last-known contents and raises the
	// banner.
	remote.list = func(api.ListFilters) ([]model.Task, error) { return nil, errNetwork }
	err := s.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, s.Store().Len())
	assert.Equal(t, "Failed to load tasks", s.LastError())

	// The next successful refresh dismisses the banner.
	remote.list = func(api.ListFilters) ([]model.Task, error) { return []model.Task{{ID: 1}}, nil }
	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, 1, s.Store().Len())
	assert.Empty(t, s.LastError())
}

// TestCreate_Confirmed checks the optimistic insert: a provisional
// negative-id record appears at the front immediately and is replaced
// in place by the server record.
func TestCreate_Confirmed(t *testing.T) {
	remote := &fakeAPI{}
	s := seedSession(t, remote, []model.Task{{ID: 1, Title: "existing"}})

	var sawProvisional bool
	remote.create = func(in model.TaskCreate) (*model.Task, error) {
		snap := s.Store().Snapshot()
		sawProvisional = len(snap) == 2 && snap[0].ID < 0
		return &model.Task{ID: 7, Title: in.Title, Priority: in.Priority, UserID: "u1"}, nil
	}

	created, err := s.Create(context.Background(), model.TaskCreate{Title: "  new task  "})
	require.NoError(t, err)
	assert.True(t, sawProvisional, "provisional record should be visible while the call is in flight")
	assert.Equal(t, int64(7), created.ID)
	assert.Equal(t, "new task", created.Title)
	assert.Equal(t, model.PriorityMedium, created.Priority)

	snap := s.Store().Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, int64(7), snap[0].ID)
	assert.Equal(t, int64(1), snap[1].ID)

	recent := s.Recent()
	require.NotEmpty(t, recent)
	assert.Equal(t, OpCreate, recent[0].Op)
	assert.Equal(t, StateConfirmed, recent[0].State)
}

func TestCreate_EmptyTitle(t *testing.T) {
	remote := &fakeAPI{}
	s := seedSession(t, remote, nil)

	_, err := s.Create(context.Background(), model.TaskCreate{Title: "   "})
	assert.ErrorIs(t, err, ErrEmptyTitle)
	assert.Equal(t, 0, s.Store().Len())
	assert.Empty(t, s.Recent())
}

// TestCreate_RolledBack checks that a rejected create removes the
// provisional record and raises the banner.
func TestCreate_RolledBack(t *testing.T) {
	remote := &fakeAPI{}
	s := seedSession(t, remote, []model.Task{{ID: 1, Title: "existing"}})
	remote.create = func(model.TaskCreate) (*model.Task, error) { return nil, errNetwork }

	_, err := s.Create(context.Background(), model.TaskCreate{Title: "doomed"})
	require.Error(t, err)

	snap := s.Store().Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, int64(1), snap[0].ID)
	assert.Equal(t, "Failed to create task", s.LastError())

	recent := s.Recent()
	require.NotEmpty(t, recent)
	assert.Equal(t, StateRolledBack, recent[0].State)
	assert.Contains(t, recent[0].Err, "connection refused")
}

func TestUpdate_Confirmed(t *testing.T) {
	remote := &fakeAPI{}
	serverTime := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s := seedSession(t, remote, []model.Task{{ID: 1, Title: "old", Priority: model.PriorityLow}})
	remote.update = func(id int64, in model.TaskUpdate) (*model.Task, error) {
		return &model.Task{ID: id, Title: *in.Title, UpdatedAt: serverTime}, nil
	}

	title := "renamed"
	prio := model.PriorityUrgent
	require.NoError(t, s.Update(context.Background(), 1, model.TaskUpdate{Title: &title, Priority: &prio}))

	task, ok := s.Store().FindByID(1)
	require.True(t, ok)
	assert.Equal(t, "renamed", task.Title)
	assert.Equal(t, model.PriorityUrgent, task.Priority)
	assert.Equal(t, serverTime, task.UpdatedAt)
}

// TestUpdate_RolledBack checks that a failed edit restores the exact
// prior snapshot, timestamps included.
func TestUpdate_RolledBack(t *testing.T) {
	remote := &fakeAPI{}
	createdAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	prior := model.Task{ID: 1, Title: "old", Priority: model.PriorityLow, CreatedAt: createdAt, UpdatedAt: createdAt}
	s := seedSession(t, remote, []model.Task{prior})
	remote.update = func(int64, model.TaskUpdate) (*model.Task, error) { return nil, errNetwork }

	title := "renamed"
	err := s.Update(context.Background(), 1, model.TaskUpdate{Title: &title})
	require.Error(t, err)

	task, ok := s.Store().FindByID(1)
	require.True(t, ok)
	assert.Equal(t, prior, task)
	assert.Equal(t, "Failed to update task", s.LastError())
}

func TestUpdate_EmptyTitleAndUnknownID(t *testing.T) {
	remote := &fakeAPI{}
	s := seedSession(t, remote, []model.Task{{ID: 1, Title: "old"}})

	empty := "  "
	assert.ErrorIs(t, s.Update(context.Background(), 1, model.TaskUpdate{Title: &empty}), ErrEmptyTitle)

	// Unknown id is a quiet no-op; the remote is never called.
	title := "x"
	assert.NoError(t, s.Update(context.Background(), 99, model.TaskUpdate{Title: &title}))
}

func TestToggle(t *testing.T) {
	remote := &fakeAPI{}
	completedAt := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	s := seedSession(t, remote, []model.Task{{ID: 1, Title: "t"}})
	remote.toggle = func(id int64, completed bool) (*model.Task, error) {
		return &model.Task{ID: id, Completed: completed, CompletedAt: &completedAt, UpdatedAt: completedAt}, nil
	}

	require.NoError(t, s.Toggle(context.Background(), 1, true))
	task, _ := s.Store().FindByID(1)
	assert.True(t, task.Completed)
	require.NotNil(t, task.CompletedAt)
	assert.Equal(t, completedAt, *task.CompletedAt)

	// Un-completing clears the stamp.
	remote.toggle = func(id int64, completed bool) (*model.Task, error) {
		return &model.Task{ID: id, Completed: completed, UpdatedAt: completedAt}, nil
	}
	require.NoError(t, s.Toggle(context.Background(), 1, false))
	task, _ = s.Store().FindByID(1)
	assert.False(t, task.Completed)
	assert.Nil(t, task.CompletedAt)
}

func TestToggle_RolledBack(t *testing.T) {
	remote := &fakeAPI{}
	s := seedSession(t, remote, []model.Task{{ID: 1, Title: "t"}})
	remote.toggle = func(int64, bool) (*model.Task, error) { return nil, errNetwork }

	err := s.Toggle(context.Background(), 1, true)
	require.Error(t, err)

	task, _ := s.Store().FindByID(1)
	assert.False(t, task.Completed)
	assert.Equal(t, "Failed to update task status", s.LastError())
}

// TestDelete_UndoRedo walks the full delete history: remove, undo
// restores the record at its old position locally, redo deletes it
// again remotely.
func TestDelete_UndoRedo(t *testing.T) {
	remote := &fakeAPI{}
	deleted := map[int64]int{}
	remote.delete = func(id int64) error {
		deleted[id]++
		return nil
	}
	s := seedSession(t, remote, []model.Task{{ID: 3}, {ID: 2, Title: "victim"}, {ID: 1}})

	require.NoError(t, s.Delete(context.Background(), 2))
	assert.Equal(t, 1, deleted[2])
	assert.Equal(t, 2, s.Store().Len())
	require.True(t, s.CanUndo())

	restored, ok := s.Undo()
	require.True(t, ok)
	assert.Equal(t, "victim", restored.Title)
	snap := s.Store().Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, int64(2), snap[1].ID)
	assert.True(t, s.CanRedo())

	task, ok, err := s.Redo(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), task.ID)
	assert.Equal(t, 2, deleted[2])
	assert.Equal(t, 2, s.Store().Len())
	assert.True(t, s.CanUndo())
	assert.False(t, s.CanRedo())
}

// TestDelete_RolledBack checks that a failed delete reinserts the
// record at its position and leaves nothing to undo.
func TestDelete_RolledBack(t *testing.T) {
	remote := &fakeAPI{}
	remote.delete = func(int64) error { return errNetwork }
	s := seedSession(t, remote, []model.Task{{ID: 3}, {ID: 2, Title: "victim"}, {ID: 1}})

	err := s.Delete(context.Background(), 2)
	require.Error(t, err)

	snap := s.Store().Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, int64(2), snap[1].ID)
	assert.False(t, s.CanUndo())
	assert.Equal(t, "Failed to delete task", s.LastError())
}

func TestDelete_UnknownID(t *testing.T) {
	remote := &fakeAPI{}
	remote.delete = func(int64) error {
		t.Fatal("remote delete should not be called for an unknown id")
		return nil
	}
	s := seedSession(t, remote, []model.Task{{ID: 1}})
	assert.NoError(t, s.Delete(context.Background(), 42))
}

func TestRedo_Failure(t *testing.T) {
	remote := &fakeAPI{}
	calls := 0
	remote.delete = func(int64) error {
		calls++
		if calls > 1 {
			return errNetwork
		}
		return nil
	}
	s := seedSession(t, remote, []model.Task{{ID: 1, Title: "t"}})

	require.NoError(t, s.Delete(context.Background(), 1))
	_, ok := s.Undo()
	require.True(t, ok)

	_, ok, err := s.Redo(context.Background())
	require.True(t, ok)
	require.Error(t, err)

	// The record stays and the action is redoable again.
	assert.Equal(t, 1, s.Store().Len())
	assert.True(t, s.CanRedo())
}

func TestReset(t *testing.T) {
	remote := &fakeAPI{}
	remote.delete = func(int64) error { return nil }
	s := seedSession(t, remote, []model.Task{{ID: 1}})
	require.NoError(t, s.Delete(context.Background(), 1))

	s.Reset()
	assert.Equal(t, 0, s.Store().Len())
	assert.False(t, s.CanUndo())
	assert.Empty(t, s.Recent())
	assert.Empty(t, s.LastError())
}

// TestRefreshWaitsForInFlightCreate checks that a background refresh
// firing while a create's remote call is outstanding cannot swap in a
// list that lacks the new record: the refresh must fetch after the
// create settles, so the confirmed task stays visible.
func TestRefreshWaitsForInFlightCreate(t *testing.T) {
	var mu sync.Mutex
	serverTasks := []model.Task{{ID: 1, Title: "existing"}}

	remote := &fakeAPI{}
	remote.list = func(api.ListFilters) ([]model.Task, error) {
		mu.Lock()
		defer mu.Unlock()
		return append([]model.Task(nil), serverTasks...), nil
	}

	createStarted := make(chan struct{})
	release := make(chan struct{})
	remote.create = func(in model.TaskCreate) (*model.Task, error) {
		close(createStarted)
		<-release
		task := model.Task{ID: 7, Title: in.Title, UserID: "u1"}
		mu.Lock()
		serverTasks = append([]model.Task{task}, serverTasks...)
		mu.Unlock()
		return &task, nil
	}

	s := newTestSession(remote)
	require.NoError(t, s.Refresh(context.Background()))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := s.Create(context.Background(), model.TaskCreate{Title: "new"})
		assert.NoError(t, err)
	}()
	<-createStarted
	go func() {
		defer wg.Done()
		assert.NoError(t, s.Refresh(context.Background()))
	}()
	time.Sleep(50 * time.Millisecond) // let the refresh reach the lock
	close(release)
	wg.Wait()

	task, ok := s.Store().FindByID(7)
	require.True(t, ok, "confirmed create must stay visible across the refresh")
	assert.Equal(t, "new", task.Title)
	assert.Equal(t, 2, s.Store().Len())
}

// TestRefreshWaitsForInFlightDelete checks the mirror case: a refresh
// landing during an unsettled delete cannot resurrect the record.
func TestRefreshWaitsForInFlightDelete(t *testing.T) {
	var mu sync.Mutex
	serverTasks := []model.Task{{ID: 1, Title: "victim"}, {ID: 2, Title: "keep"}}

	remote := &fakeAPI{}
	remote.list = func(api.ListFilters) ([]model.Task, error) {
		mu.Lock()
		defer mu.Unlock()
		return append([]model.Task(nil), serverTasks...), nil
	}

	deleteStarted := make(chan struct{})
	release := make(chan struct{})
	remote.delete = func(id int64) error {
		close(deleteStarted)
		<-release
		mu.Lock()
		defer mu.Unlock()
		for i, task := range serverTasks {
			if task.ID == id {
				serverTasks = append(serverTasks[:i], serverTasks[i+1:]...)
				break
			}
		}
		return nil
	}

	s := newTestSession(remote)
	require.NoError(t, s.Refresh(context.Background()))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.Delete(context.Background(), 1))
	}()
	<-deleteStarted
	go func() {
		defer wg.Done()
		assert.NoError(t, s.Refresh(context.Background()))
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	_, ok := s.Store().FindByID(1)
	assert.False(t, ok, "deleted task must not be resurrected by the refresh")
	assert.Equal(t, 1, s.Store().Len())
}

// TestTaskLocks_Released checks that per-task lock entries are removed
// once uncontended, so single-use provisional ids don't pile up.
func TestTaskLocks_Released(t *testing.T) {
	remote := &fakeAPI{}
	remote.create = func(in model.TaskCreate) (*model.Task, error) {
		return &model.Task{ID: 7, Title: in.Title}, nil
	}
	remote.toggle = func(id int64, completed bool) (*model.Task, error) {
		return &model.Task{ID: id, Completed: completed}, nil
	}
	remote.delete = func(int64) error { return nil }
	s := seedSession(t, remote, []model.Task{{ID: 1, Title: "t"}})

	_, err := s.Create(context.Background(), model.TaskCreate{Title: "new"})
	require.NoError(t, err)
	require.NoError(t, s.Toggle(context.Background(), 1, true))
	require.NoError(t, s.Delete(context.Background(), 7))

	s.mu.Lock()
	remaining := len(s.locks)
	s.mu.Unlock()
	assert.Zero(t, remaining)
}

// TestRecent_CapAndOrder checks the bounded newest-first history.
func TestRecent_CapAndOrder(t *testing.T) {
	remote := &fakeAPI{}
	remote.list = func(api.ListFilters) ([]model.Task, error) { return nil, nil }
	s := newTestSession(remote)

	for i := 0; i < recentMutations+5; i++ {
		require.NoError(t, s.Refresh(context.Background()))
	}
	recent := s.Recent()
	assert.Len(t, recent, recentMutations)
	assert.False(t, recent[0].SettledAt.Before(recent[len(recent)-1].SettledAt))
}
