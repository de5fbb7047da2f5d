package service

import (
	"fmt"
	"html"
	"strings"
	"time"

	"taskdeck/internal/filter"
	"taskdeck/internal/model"
	"taskdeck/internal/store"
)

// DigestService builds the daily at-a-glance summary: overdue tasks,
// tasks due soon, and the pending/completed tally. It reads the task
// store through the filter engine and never mutates anything.
type DigestService struct {
	store *store.TaskStore
}

func NewDigestService(taskStore *store.TaskStore) *DigestService {
	return &DigestService{store: taskStore}
}

const dueSoonWindow = 48 * time.Hour

// DailySummary renders the digest as HTML-mode Telegram text.
func (s *DigestService) DailySummary(now time.Time) string {
	counts := s.store.Counts()
	pending := filter.Visible(s.store.Snapshot(), filter.Query{
		Status: filter.StatusPending,
		SortBy: filter.SortDueDate,
		Order:  filter.OrderAsc,
	})

	var overdue, dueSoon []model.Task
	for _, task := range pending {
		if task.DueDate == nil {
			continue
		}
		due := task.DueDate.In(now.Location())
		switch {
		case now.After(due):
			overdue = append(overdue, task)
		case due.Sub(now) <= dueSoonWindow:
			dueSoon = append(dueSoon, task)
		}
	}

	var b strings.Builder
	b.WriteString("📋 <b>Daily digest</b>\n")
	b.WriteString(fmt.Sprintf("🗓 %s\n", now.Format("2006-01-02")))
	b.WriteString(fmt.Sprintf("%d pending · %d completed\n\n", counts.Pending, counts.Completed))

	b.WriteString("⚠️ <b>Overdue</b>\n")
	if len(overdue) == 0 {
		b.WriteString("— nothing overdue\n")
	} else {
		for _, task := range overdue {
			b.WriteString(formatDigestTask(task, now))
		}
	}

	b.WriteString("\n⏳ <b>Due within 48h</b>\n")
	if len(dueSoon) == 0 {
		b.WriteString("— nothing due soon\n")
	} else {
		for _, task := range dueSoon {
			b.WriteString(formatDigestTask(task, now))
		}
	}

	return strings.TrimSpace(b.String())
}

func formatDigestTask(task model.Task, now time.Time) string {
	var sb strings.Builder

	title := html.EscapeString(strings.TrimSpace(task.Title))
	sb.WriteString(fmt.Sprintf("• #%d %s", task.ID, title))

	if task.Priority != "" {
		sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", task.Priority))
	}

	if task.DueDate != nil {
		due := task.DueDate.In(now.Location())
		if now.After(due) {
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s — <b>overdue</b>", due.Format("2006-01-02")))
		} else {
			daysLeft := int(due.Sub(now).Hours()/24) + 1
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s · ≈%d day(s) left", due.Format("2006-01-02"), daysLeft))
		}
	}

	if tags := task.TagList(); len(tags) > 0 {
		sb.WriteString(fmt.Sprintf("\n   🏷 %s", html.EscapeString(strings.Join(tags, ", "))))
	}

	sb.WriteByte('\n')
	return sb.String()
}
