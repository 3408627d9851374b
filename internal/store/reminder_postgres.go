package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/TrialRelay/internal/models"
)

// Compile-time check that PostgresStore implements ReminderRepo.
var _ ReminderRepo = (*PostgresStore)(nil)

func (s *PostgresStore) InsertReminderIfAbsent(r models.Reminder) (bool, error) {
	result, err := s.db.Exec(
		`INSERT INTO reminders (id, participant_id, message, scheduled_at, template_type, status, retry_count, occurrence_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (participant_id, template_type, occurrence_key) DO NOTHING`,
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
		slog.Debug("PostgresStore.InsertReminderIfAbsent: dedup hit", "participantID", r.ParticipantID, "template", r.TemplateType, "occurrenceKey", r.OccurrenceKey)
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) ClaimDueReminders(now time.Time, limit int) ([]models.Reminder, error) {
	// Claim atomically: flip the due rows to sending and return them in one
	// statement, so concurrent dispatcher instances never double-send.
	rows, err := s.db.Query(
		`UPDATE reminders SET status = 'sending', locked_at = $1, updated_at = $1
		 WHERE id IN (
			SELECT id FROM reminders WHERE status = 'pending' AND scheduled_at <= $1
			ORDER BY scheduled_at ASC LIMIT $2
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, participant_id, message, scheduled_at, template_type, status, retry_count, occurrence_key, last_attempt, locked_at, created_at, updated_at`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due reminders failed: %w", err)
	}
	defer rows.Close()

	var claimed []models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim reminders iteration failed: %w", err)
	}

	// RETURNING does not preserve the subquery order.
	sortRemindersByScheduledAt(claimed)
	return claimed, nil
}

func (s *PostgresStore) MarkReminderSent(id string) error {
	now := time.Now()
	_, err := s.db.Exec(
		`UPDATE reminders SET status = 'sent', last_attempt = $1, locked_at = NULL, updated_at = $1 WHERE id = $2`,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("mark reminder sent failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) FailReminder(id string) error {
	now := time.Now()
	_, err := s.db.Exec(
		`UPDATE reminders SET status = 'failed', last_attempt = $1, locked_at = NULL, updated_at = $1 WHERE id = $2`,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("fail reminder failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) RetryReminder(id string, retryCount int, nextAttempt time.Time) error {
	now := time.Now()
	_, err := s.db.Exec(
		`UPDATE reminders SET status = 'pending', retry_count = $1, scheduled_at = $2, last_attempt = $3, locked_at = NULL, updated_at = $3 WHERE id = $4`,
		retryCount, nextAttempt, now, id,
	)
	if err != nil {
		return fmt.Errorf("retry reminder failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) RequeueStaleReminders(staleBefore time.Time) (int, error) {
	now := time.Now()
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'pending', locked_at = NULL, updated_at = $1 WHERE status = 'sending' AND locked_at < $2`,
		now, staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale reminders failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("PostgresStore.RequeueStaleReminders", "requeued", n)
	}
	return int(n), nil
}

func (s *PostgresStore) PurgeTerminalReminders(before time.Time) (int, error) {
	result, err := s.db.Exec(
		`DELETE FROM reminders WHERE status IN ('sent', 'failed') AND scheduled_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("purge terminal reminders failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
