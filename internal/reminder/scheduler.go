// Package reminder implements the reminder scheduler and dispatcher for
// TrialRelay.
//
// The scheduler creates deduplicated reminder records for future delivery;
// the dispatcher is a polling loop that delivers due reminders with bounded
// retries. Reminder rows are owned jointly by the two: the scheduler creates
// them, the dispatcher performs all lifecycle transitions.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/TrialRelay/internal/models"
	"github.com/BTreeMap/TrialRelay/internal/store"
	"github.com/BTreeMap/TrialRelay/internal/util"
)

// Visit reminder lead times.
const (
	// VisitReminderLeadLong is how far before a visit the two-day reminder fires.
	VisitReminderLeadLong = 48 * time.Hour
	// VisitReminderLeadShort is how far before a visit the two-hour reminder fires.
	VisitReminderLeadShort = 2 * time.Hour
)

// Scheduler creates reminder records. Scheduling is idempotent on
// (participant, template type, occurrence key): repeat calls for the same
// occurrence are silent no-ops.
type Scheduler struct {
	repo store.ReminderRepo
}

// NewScheduler creates a Scheduler backed by the given reminder store.
func NewScheduler(repo store.ReminderRepo) *Scheduler {
	slog.Debug("Creating reminder Scheduler")
	return &Scheduler{repo: repo}
}

// Schedule creates a pending reminder for delivery after delay (or now, when
// immediate is set). If a reminder with the same (participantID,
// templateType, occurrenceKey) already exists the call is a no-op.
func (s *Scheduler) Schedule(ctx context.Context, participantID, message string, delay time.Duration, templateType, occurrenceKey string, immediate bool) error {
	if delay < 0 {
		return models.ErrNegativeDelay
	}

	now := time.Now()
	scheduledAt := now
	if !immediate {
		scheduledAt = now.Add(delay)
	}

	r := models.Reminder{
		ID:            util.GenerateReminderID(),
		ParticipantID: participantID,
		Message:       message,
		ScheduledAt:   scheduledAt,
		TemplateType:  templateType,
		Status:        models.ReminderStatusPending,
		OccurrenceKey: occurrenceKey,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.Validate(); err != nil {
		slog.Error("Scheduler.Schedule validation failed", "error", err, "participantID", participantID, "template", templateType)
		return err
	}

	inserted, err := s.repo.InsertReminderIfAbsent(r)
	if err != nil {
		slog.Error("Scheduler.Schedule insert failed", "error", err, "participantID", participantID, "template", templateType)
		return fmt.Errorf("%w: insert reminder: %v", models.ErrStoreUnavailable, err)
	}
	if !inserted {
		slog.Debug("Scheduler.Schedule duplicate reminder skipped", "participantID", participantID, "template", templateType, "occurrenceKey", occurrenceKey)
		return nil
	}

	slog.Info("Scheduler.Schedule reminder created", "id", r.ID, "participantID", participantID, "template", templateType, "scheduledAt", scheduledAt)
	return nil
}

// ScheduleVisitReminders creates the three standard reminders for a newly
// scheduled visit: an immediate confirmation, a two-day advance notice, and a
// two-hour advance notice. All three share the visit timestamp as their
// occurrence key and are independently deduplicated; lead times that have
// already passed fire immediately.
func (s *Scheduler) ScheduleVisitReminders(ctx context.Context, participantID string, visitAt time.Time) error {
	occurrenceKey := visitAt.UTC().Format(time.RFC3339)

	created := fmt.Sprintf("Visit scheduled on %s UTC.", visitAt.UTC().Format("02 Jan 2006 15:04"))
	if err := s.Schedule(ctx, participantID, created, 0, models.TemplateVisitCreated, occurrenceKey, true); err != nil {
		return err
	}

	twoDays := "Reminder: your visit is in 2 days."
	if err := s.scheduleBefore(ctx, participantID, twoDays, visitAt, VisitReminderLeadLong, models.TemplateVisit2Days, occurrenceKey); err != nil {
		return err
	}

	twoHours := "Reminder: your visit is in 2 hours."
	return s.scheduleBefore(ctx, participantID, twoHours, visitAt, VisitReminderLeadShort, models.TemplateVisit2Hours, occurrenceKey)
}

// scheduleBefore schedules a reminder at (visitAt - lead), clamped to
// immediate when that instant has passed.
func (s *Scheduler) scheduleBefore(ctx context.Context, participantID, message string, visitAt time.Time, lead time.Duration, templateType, occurrenceKey string) error {
	delay := time.Until(visitAt.Add(-lead))
	if delay < 0 {
		return s.Schedule(ctx, participantID, message, 0, templateType, occurrenceKey, true)
	}
	return s.Schedule(ctx, participantID, message, delay, templateType, occurrenceKey, false)
}
