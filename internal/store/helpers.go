package store

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/BTreeMap/TrialRelay/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanReminder scans a Reminder from sql.Rows.
func scanReminder(rows *sql.Rows) (models.Reminder, error) {
	var r models.Reminder
	var lastAttempt, lockedAt sql.NullTime
	err := rows.Scan(
		&r.ID, &r.ParticipantID, &r.Message, &r.ScheduledAt, &r.TemplateType, &r.Status,
		&r.RetryCount, &r.OccurrenceKey, &lastAttempt, &lockedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return r, fmt.Errorf("scan reminder failed: %w", err)
	}
	if lastAttempt.Valid {
		r.LastAttempt = &lastAttempt.Time
	}
	if lockedAt.Valid {
		r.LockedAt = &lockedAt.Time
	}
	return r, nil
}

// sortRemindersByScheduledAt orders reminders oldest first.
func sortRemindersByScheduledAt(reminders []models.Reminder) {
	sort.Slice(reminders, func(i, j int) bool {
		return reminders[i].ScheduledAt.Before(reminders[j].ScheduledAt)
	})
}
