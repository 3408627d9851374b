package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/TrialRelay/internal/models"
)

// Compile-time check that SQLiteStore implements ReminderRepo.
var _ ReminderRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) InsertReminderIfAbsent(r models.Reminder) (bool, error) {
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO reminders (id, participant_id, message, scheduled_at, template_type, status, retry_count, occurrence_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ParticipantID, r.Message, r.ScheduledAt, r.TemplateType, r.Status, r.RetryCount, r.OccurrenceKey, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert reminder failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert reminder rows affected: %w", err)
	}
	if n == 0 {
		slog.Debug("SQLiteStore.InsertReminderIfAbsent: dedup hit", "participantID", r.ParticipantID, "template", r.TemplateType, "occurrenceKey", r.OccurrenceKey)
		return false, nil
	}
	slog.Debug("SQLiteStore.InsertReminderIfAbsent: inserted", "id", r.ID, "participantID", r.ParticipantID, "template", r.TemplateType)
	return true, nil
}

func (s *SQLiteStore) ClaimDueReminders(now time.Time, limit int) ([]models.Reminder, error) {
	rows, err := s.db.Query(
		`SELECT id, participant_id, message, scheduled_at, template_type, status, retry_count, occurrence_key, last_attempt, locked_at, created_at, updated_at
		 FROM reminders WHERE status = 'pending' AND scheduled_at <= ?
		 ORDER BY scheduled_at ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due reminders failed: %w", err)
	}
	defer rows.Close()

	var due []models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim reminders iteration failed: %w", err)
	}

	// Conditional per-row claim: a row already taken by a concurrent
	// dispatcher is skipped, not double-sent.
	var claimed []models.Reminder
	for i := range due {
		result, err := s.db.Exec(
			`UPDATE reminders SET status = 'sending', locked_at = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
			now, now, due[i].ID,
		)
		if err != nil {
			return nil, fmt.Errorf("mark reminder sending failed: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			continue
		}
		due[i].Status = models.ReminderStatusSending
		lockedAt := now
		due[i].LockedAt = &lockedAt
		claimed = append(claimed, due[i])
	}

	return claimed, nil
}

func (s *SQLiteStore) MarkReminderSent(id string) error {
	now := time.Now()
	_, err := s.db.Exec(
		`UPDATE reminders SET status = 'sent', last_attempt = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("mark reminder sent failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FailReminder(id string) error {
	now := time.Now()
	_, err := s.db.Exec(
		`UPDATE reminders SET status = 'failed', last_attempt = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("fail reminder failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RetryReminder(id string, retryCount int, nextAttempt time.Time) error {
	now := time.Now()
	_, err := s.db.Exec(
		`UPDATE reminders SET status = 'pending', retry_count = ?, scheduled_at = ?, last_attempt = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
		retryCount, nextAttempt, now, now, id,
	)
	if err != nil {
		return fmt.Errorf("retry reminder failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RequeueStaleReminders(staleBefore time.Time) (int, error) {
	now := time.Now()
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'pending', locked_at = NULL, updated_at = ? WHERE status = 'sending' AND locked_at < ?`,
		now, staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale reminders failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("SQLiteStore.RequeueStaleReminders", "requeued", n)
	}
	return int(n), nil
}

func (s *SQLiteStore) PurgeTerminalReminders(before time.Time) (int, error) {
	result, err := s.db.Exec(
		`DELETE FROM reminders WHERE status IN ('sent', 'failed') AND scheduled_at < ?`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("purge terminal reminders failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
