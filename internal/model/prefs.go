package model

import "time"

// ChatPrefs stores the view state a Telegram chat has configured:
// active status filter, search term, advanced filters and sort order.
// Task state itself is never persisted; this is UI preference only.
type ChatPrefs struct {
	ID        uint  `gorm:"primaryKey"`
	ChatID    int64 `gorm:"uniqueIndex"`
	Status    string
	Search    string
	Priority  string
	Tag       string
	DueFrom   *time.Time
	DueTo     *time.Time
	SortBy    string
	SortOrder string
	CreatedAt time.Time
	UpdatedAt time.Time
}
