package filter

import (
	"sort"
	"strings"
	"time"

	"taskdeck/internal/model"
)

// Status is the basic completion filter.
type Status string

const (
	StatusAll       Status = "all"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// SortField names a sortable task field.
type SortField string

const (
	SortCreatedAt SortField = "created_at"
	SortDueDate   SortField = "due_date"
	SortPriority  SortField = "priority"
	SortTitle     SortField = "title"
)

// Order is the sort direction.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Query is the compound view filter. Zero values mean "inactive":
// empty search matches everything, empty priority/tag constrain
// nothing, nil date bounds are open ended, empty SortBy falls back to
// newest-first by id.
type Query struct {
	Status   Status
	Search   string
	Priority model.Priority
	Tag      string
	DueFrom  *time.Time
	DueTo    *time.Time
	SortBy   SortField
	Order    Order
}

// Active reports whether any advanced predicate or sort is set.
func (q Query) Active() bool {
	return q.Priority != "" || q.Tag != "" || q.DueFrom != nil || q.DueTo != nil || q.SortBy != ""
}

// Visible returns the ordered subset of tasks satisfying every active
// predicate in q. It is a pure function: identical inputs yield an
// identical sequence, and the input slice is never mutated.
func Visible(tasks []model.Task, q Query) []model.Task {
	out := make([]model.Task, 0, len(tasks))
	for _, task := range tasks {
		if matches(task, q) {
			out = append(out, task)
		}
	}
	sortTasks(out, q)
	return out
}

func matches(task model.Task, q Query) bool {
	switch q.Status {
	case StatusPending:
		if task.Completed {
			return false
		}
	case StatusCompleted:
		if !task.Completed {
			return false
		}
	}

	if term := strings.ToLower(strings.TrimSpace(q.Search)); term != "" {
		if !strings.Contains(strings.ToLower(task.Title), term) &&
			!strings.Contains(strings.ToLower(task.Description), term) &&
			!strings.Contains(strings.ToLower(task.Tags), term) {
			return false
		}
	}

	if q.Priority != "" && task.Priority != q.Priority {
		return false
	}

	if tag := strings.ToLower(strings.TrimSpace(q.Tag)); tag != "" {
		if !strings.Contains(strings.ToLower(task.Tags), tag) {
			return false
		}
	}

	if q.DueFrom != nil {
		if task.DueDate == nil || task.DueDate.Before(*q.DueFrom) {
			return false
		}
	}
	if q.DueTo != nil {
		if task.DueDate == nil || task.DueDate.After(endOfDay(*q.DueTo)) {
			return false
		}
	}

	return true
}

// endOfDay pushes an inclusive upper bound to 23:59:59.999 so a task
// due anywhere on the boundary date still matches.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 999e6, t.Location())
}

func sortTasks(tasks []model.Task, q Query) {
	if q.SortBy == "" {
		// Newest-first heuristic: server ids are autoincrement.
		sort.SliceStable(tasks, func(i, j int) bool {
			return tasks[i].ID > tasks[j].ID
		})
		return
	}

	desc := q.Order == OrderDesc
	sort.SliceStable(tasks, func(i, j int) bool {
		c, ok := compare(tasks[i], tasks[j], q.SortBy)
		if !ok {
			// A missing field sorts after a present one no matter
			// the direction; c already encodes that.
			return c < 0
		}
		if desc {
			c = -c
		}
		return c < 0
	})
}

// compare orders a and b by the named field. ok is false when at least
// one side lacks the field; the returned value then places the missing
// side last regardless of direction.
func compare(a, b model.Task, field SortField) (int, bool) {
	switch field {
	case SortDueDate:
		switch {
		case a.DueDate == nil && b.DueDate == nil:
			return 0, false
		case a.DueDate == nil:
			return 1, false
		case b.DueDate == nil:
			return -1, false
		}
		return compareTime(*a.DueDate, *b.DueDate), true
	case SortPriority:
		if a.Priority.Rank() == 0 || b.Priority.Rank() == 0 {
			switch {
			case a.Priority.Rank() == b.Priority.Rank():
				return 0, false
			case a.Priority.Rank() == 0:
				return 1, false
			default:
				return -1, false
			}
		}
		return a.Priority.Rank() - b.Priority.Rank(), true
	case SortTitle:
		return strings.Compare(a.Title, b.Title), true
	default:
		return compareTime(a.CreatedAt, b.CreatedAt), true
	}
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}
