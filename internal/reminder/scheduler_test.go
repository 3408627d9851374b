package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/TrialRelay/internal/models"
	"github.com/BTreeMap/TrialRelay/internal/store"
)

func claimAll(t *testing.T, st *store.InMemoryStore, horizon time.Time) []models.Reminder {
	t.Helper()
	due, err := st.ClaimDueReminders(horizon, 100)
	if err != nil {
		t.Fatalf("ClaimDueReminders failed: %v", err)
	}
	return due
}

func TestScheduleCreatesPendingReminder(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewScheduler(st)
	ctx := context.Background()

	before := time.Now()
	err := s.Schedule(ctx, "p1", "time for your visit", 30*time.Minute, models.TemplateGeneric, "occ-1", false)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	due := claimAll(t, st, time.Now().Add(time.Hour))
	if len(due) != 1 {
		t.Fatalf("got %d reminders, want 1", len(due))
	}
	r := due[0]
	if r.ParticipantID != "p1" || r.TemplateType != models.TemplateGeneric || r.OccurrenceKey != "occ-1" {
		t.Errorf("reminder fields = %+v", r)
	}
	if r.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", r.RetryCount)
	}
	wantAt := before.Add(30 * time.Minute)
	if r.ScheduledAt.Before(wantAt.Add(-time.Second)) || r.ScheduledAt.After(wantAt.Add(time.Minute)) {
		t.Errorf("scheduled_at = %v, want ~%v", r.ScheduledAt, wantAt)
	}
}

func TestScheduleImmediateIgnoresDelay(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewScheduler(st)

	err := s.Schedule(context.Background(), "p1", "now", 24*time.Hour, models.TemplateGeneric, "occ-now", true)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	due := claimAll(t, st, time.Now().Add(time.Second))
	if len(due) != 1 {
		t.Fatalf("immediate reminder not due, got %d", len(due))
	}
}

func TestScheduleDuplicateOccurrenceIsNoOp(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewScheduler(st)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.Schedule(ctx, "p1", "visit soon", time.Hour, models.TemplateVisit2Days, "2026-09-10T14:00:00Z", false)
		if err != nil {
			t.Fatalf("Schedule call %d failed: %v", i, err)
		}
	}

	due := claimAll(t, st, time.Now().Add(2*time.Hour))
	if len(due) != 1 {
		t.Errorf("got %d reminders after repeated scheduling, want 1", len(due))
	}
}

func TestScheduleValidation(t *testing.T) {
	s := NewScheduler(store.NewInMemoryStore())
	ctx := context.Background()

	tests := []struct {
		name          string
		participantID string
		message       string
		delay         time.Duration
		templateType  string
		occurrenceKey string
		wantErr       error
	}{
		{"negative delay", "p1", "msg", -time.Minute, models.TemplateGeneric, "k", models.ErrNegativeDelay},
		{"empty participant", "", "msg", 0, models.TemplateGeneric, "k", models.ErrEmptyParticipant},
		{"empty message", "p1", "", 0, models.TemplateGeneric, "k", models.ErrEmptyMessage},
		{"empty template", "p1", "msg", 0, "", "k", models.ErrEmptyTemplateType},
		{"empty occurrence key", "p1", "msg", 0, models.TemplateGeneric, "", models.ErrEmptyOccurrenceKey},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := s.Schedule(ctx, tc.participantID, tc.message, tc.delay, tc.templateType, tc.occurrenceKey, false)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Schedule error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestScheduleStoreFailure(t *testing.T) {
	repo := &failingReminderRepo{}
	s := NewScheduler(repo)

	err := s.Schedule(context.Background(), "p1", "msg", 0, models.TemplateGeneric, "k", true)
	if !errors.Is(err, models.ErrStoreUnavailable) {
		t.Errorf("Schedule error = %v, want ErrStoreUnavailable", err)
	}
}

func TestScheduleVisitReminders(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewScheduler(st)

	visitAt := time.Now().Add(72 * time.Hour)
	if err := s.ScheduleVisitReminders(context.Background(), "p1", visitAt); err != nil {
		t.Fatalf("ScheduleVisitReminders failed: %v", err)
	}

	due := claimAll(t, st, visitAt)
	if len(due) != 3 {
		t.Fatalf("got %d reminders, want 3", len(due))
	}

	byTemplate := make(map[string]models.Reminder)
	occurrenceKey := visitAt.UTC().Format(time.RFC3339)
	for _, r := range due {
		byTemplate[r.TemplateType] = r
		if r.OccurrenceKey != occurrenceKey {
			t.Errorf("reminder %s occurrence key = %q, want %q", r.TemplateType, r.OccurrenceKey, occurrenceKey)
		}
	}

	created, ok := byTemplate[models.TemplateVisitCreated]
	if !ok {
		t.Fatal("missing visit_created reminder")
	}
	if time.Until(created.ScheduledAt) > time.Minute {
		t.Errorf("visit_created scheduled at %v, want immediate", created.ScheduledAt)
	}

	twoDays, ok := byTemplate[models.TemplateVisit2Days]
	if !ok {
		t.Fatal("missing visit_2days reminder")
	}
	wantTwoDays := visitAt.Add(-VisitReminderLeadLong)
	if d := twoDays.ScheduledAt.Sub(wantTwoDays); d < -time.Minute || d > time.Minute {
		t.Errorf("visit_2days scheduled at %v, want ~%v", twoDays.ScheduledAt, wantTwoDays)
	}

	twoHours, ok := byTemplate[models.TemplateVisit2Hours]
	if !ok {
		t.Fatal("missing visit_2hours reminder")
	}
	wantTwoHours := visitAt.Add(-VisitReminderLeadShort)
	if d := twoHours.ScheduledAt.Sub(wantTwoHours); d < -time.Minute || d > time.Minute {
		t.Errorf("visit_2hours scheduled at %v, want ~%v", twoHours.ScheduledAt, wantTwoHours)
	}
}

func TestScheduleVisitRemindersClampsPastLeadTimes(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewScheduler(st)

	// Visit in one hour: both lead times have already passed, so all three
	// reminders fire immediately.
	visitAt := time.Now().Add(time.Hour)
	if err := s.ScheduleVisitReminders(context.Background(), "p1", visitAt); err != nil {
		t.Fatalf("ScheduleVisitReminders failed: %v", err)
	}

	due := claimAll(t, st, time.Now().Add(time.Minute))
	if len(due) != 3 {
		t.Errorf("got %d immediately due reminders, want 3", len(due))
	}
}

func TestScheduleVisitRemindersIdempotent(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewScheduler(st)
	ctx := context.Background()

	visitAt := time.Now().Add(72 * time.Hour)
	if err := s.ScheduleVisitReminders(ctx, "p1", visitAt); err != nil {
		t.Fatalf("first ScheduleVisitReminders failed: %v", err)
	}
	if err := s.ScheduleVisitReminders(ctx, "p1", visitAt); err != nil {
		t.Fatalf("second ScheduleVisitReminders failed: %v", err)
	}

	due := claimAll(t, st, visitAt)
	if len(due) != 3 {
		t.Errorf("got %d reminders after re-scheduling, want 3", len(due))
	}
}
