package model

import (
	"strings"
	"time"
)

// Priority is the fixed task priority scale used by the remote API.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities for sorting: urgent > high > medium > low.
// Unknown values rank below low, matching the server's CASE mapping.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// ParsePriority normalizes user input into a known priority.
func ParsePriority(raw string) (Priority, bool) {
	switch Priority(strings.ToLower(strings.TrimSpace(raw))) {
	case PriorityUrgent:
		return PriorityUrgent, true
	case PriorityHigh:
		return PriorityHigh, true
	case PriorityMedium:
		return PriorityMedium, true
	case PriorityLow:
		return PriorityLow, true
	default:
		return "", false
	}
}

// Task mirrors the remote API's task resource. Server-assigned ids are
// positive autoincrement integers; an in-flight optimistic create
// carries a negative client-side id until the server confirms.
type Task struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	Priority    Priority   `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Tags        string     `json:"tags,omitempty"`
	UserID      string     `json:"user_id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TagList splits the comma-delimited tag string into trimmed,
// non-empty tokens.
func (t Task) TagList() []string {
	return SplitTags(t.Tags)
}

// SplitTags parses a comma-delimited tag string; empty tokens are
// dropped after trimming.
func SplitTags(tags string) []string {
	if strings.TrimSpace(tags) == "" {
		return nil
	}
	var out []string
	for _, raw := range strings.Split(tags, ",") {
		if tag := strings.TrimSpace(raw); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// JoinTags builds the wire representation from individual tags.
func JoinTags(tags []string) string {
	var clean []string
	for _, raw := range tags {
		if tag := strings.TrimSpace(raw); tag != "" {
			clean = append(clean, tag)
		}
	}
	return strings.Join(clean, ",")
}

// TaskCreate is the payload for creating a task.
type TaskCreate struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	Priority    Priority   `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Tags        string     `json:"tags,omitempty"`
}

// TaskUpdate is a partial edit; nil fields are left untouched.
type TaskUpdate struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Completed   *bool      `json:"completed,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Tags        *string    `json:"tags,omitempty"`
}

// Account identifies the signed-in user against the remote API. It is
// passed explicitly into every operation instead of living in a global.
type Account struct {
	UserID string
	Token  string
}
