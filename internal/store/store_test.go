package store

import (
	"testing"
	"time"

	"github.com/BTreeMap/TrialRelay/internal/models"
	"github.com/BTreeMap/TrialRelay/internal/util"
)

func testReminder(participantID, templateType, occurrenceKey string, scheduledAt time.Time) models.Reminder {
	now := time.Now()
	return models.Reminder{
		ID:            util.GenerateReminderID(),
		ParticipantID: participantID,
		Message:       "test message",
		ScheduledAt:   scheduledAt,
		TemplateType:  templateType,
		Status:        models.ReminderStatusPending,
		OccurrenceKey: occurrenceKey,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// runStoreSuite exercises the full Store contract against any backend.
func runStoreSuite(t *testing.T, s Store) {
	t.Run("ConversationState", func(t *testing.T) { testConversationState(t, s) })
	t.Run("ReminderDedup", func(t *testing.T) { testReminderDedup(t, s) })
	t.Run("ClaimOrderingAndLimit", func(t *testing.T) { testClaimOrderingAndLimit(t, s) })
	t.Run("ClaimExcludesFutureAndTerminal", func(t *testing.T) { testClaimExcludesFutureAndTerminal(t, s) })
	t.Run("RetryReminder", func(t *testing.T) { testRetryReminder(t, s) })
	t.Run("RequeueStaleReminders", func(t *testing.T) { testRequeueStaleReminders(t, s) })
	t.Run("PurgeTerminalReminders", func(t *testing.T) { testPurgeTerminalReminders(t, s) })
	t.Run("Participants", func(t *testing.T) { testParticipants(t, s) })
}

func testConversationState(t *testing.T, s Store) {
	cs, err := s.GetConversationState("cs-p1", "claims_upload")
	if err != nil {
		t.Fatalf("GetConversationState failed: %v", err)
	}
	if cs != nil {
		t.Fatalf("expected nil for absent state, got %+v", cs)
	}

	now := time.Now()
	state := models.ConversationState{
		ParticipantID: "cs-p1",
		WorkflowName:  "claims_upload",
		State:         "awaiting_claim_pdf",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.SaveConversationState(state); err != nil {
		t.Fatalf("SaveConversationState failed: %v", err)
	}

	cs, err = s.GetConversationState("cs-p1", "claims_upload")
	if err != nil {
		t.Fatalf("GetConversationState failed: %v", err)
	}
	if cs == nil || cs.State != "awaiting_claim_pdf" {
		t.Fatalf("state = %+v, want awaiting_claim_pdf", cs)
	}

	// Upsert: last write wins.
	state.State = "idle"
	state.UpdatedAt = time.Now()
	if err := s.SaveConversationState(state); err != nil {
		t.Fatalf("SaveConversationState upsert failed: %v", err)
	}
	cs, _ = s.GetConversationState("cs-p1", "claims_upload")
	if cs == nil || cs.State != "idle" {
		t.Fatalf("state after upsert = %+v, want idle", cs)
	}

	if err := s.DeleteConversationState("cs-p1", "claims_upload"); err != nil {
		t.Fatalf("DeleteConversationState failed: %v", err)
	}
	cs, _ = s.GetConversationState("cs-p1", "claims_upload")
	if cs != nil {
		t.Fatalf("state after delete = %+v, want nil", cs)
	}

	// Deleting an absent row is not an error.
	if err := s.DeleteConversationState("cs-p1", "claims_upload"); err != nil {
		t.Fatalf("DeleteConversationState on absent row failed: %v", err)
	}
}

func testReminderDedup(t *testing.T, s Store) {
	r := testReminder("dd-p1", "visit_2days", "2026-09-10T14:00:00Z", time.Now().Add(time.Hour))

	inserted, err := s.InsertReminderIfAbsent(r)
	if err != nil {
		t.Fatalf("InsertReminderIfAbsent failed: %v", err)
	}
	if !inserted {
		t.Fatal("first insert reported duplicate")
	}

	dup := testReminder("dd-p1", "visit_2days", "2026-09-10T14:00:00Z", time.Now().Add(2*time.Hour))
	inserted, err = s.InsertReminderIfAbsent(dup)
	if err != nil {
		t.Fatalf("duplicate InsertReminderIfAbsent failed: %v", err)
	}
	if inserted {
		t.Error("duplicate occurrence was inserted")
	}

	// Different occurrence key is a distinct reminder.
	other := testReminder("dd-p1", "visit_2days", "2026-09-17T14:00:00Z", time.Now().Add(time.Hour))
	inserted, err = s.InsertReminderIfAbsent(other)
	if err != nil {
		t.Fatalf("InsertReminderIfAbsent failed: %v", err)
	}
	if !inserted {
		t.Error("distinct occurrence reported duplicate")
	}

	// Different template type for the same occurrence is a distinct reminder.
	tpl := testReminder("dd-p1", "visit_2hours", "2026-09-10T14:00:00Z", time.Now().Add(time.Hour))
	if inserted, err = s.InsertReminderIfAbsent(tpl); err != nil || !inserted {
		t.Errorf("distinct template insert = (%v, %v), want (true, nil)", inserted, err)
	}
}

func testClaimOrderingAndLimit(t *testing.T, s Store) {
	now := time.Now()
	oldest := testReminder("cl-p1", "generic", "k1", now.Add(-3*time.Hour))
	middle := testReminder("cl-p1", "generic", "k2", now.Add(-2*time.Hour))
	newest := testReminder("cl-p1", "generic", "k3", now.Add(-time.Hour))
	// Insert out of order.
	for _, r := range []models.Reminder{middle, newest, oldest} {
		if _, err := s.InsertReminderIfAbsent(r); err != nil {
			t.Fatalf("InsertReminderIfAbsent failed: %v", err)
		}
	}

	claimed, err := s.ClaimDueReminders(now, 2)
	if err != nil {
		t.Fatalf("ClaimDueReminders failed: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed %d reminders, want 2", len(claimed))
	}
	if claimed[0].ID != oldest.ID || claimed[1].ID != middle.ID {
		t.Errorf("claim order = %s, %s; want oldest first", claimed[0].ID, claimed[1].ID)
	}
	for _, r := range claimed {
		if r.Status != models.ReminderStatusSending {
			t.Errorf("claimed reminder %s status = %q, want sending", r.ID, r.Status)
		}
		if r.LockedAt == nil {
			t.Errorf("claimed reminder %s has no locked_at", r.ID)
		}
	}

	// A second claim sees only the remaining pending reminder.
	claimed, err = s.ClaimDueReminders(now, 5)
	if err != nil {
		t.Fatalf("second ClaimDueReminders failed: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != newest.ID {
		t.Fatalf("second claim = %+v, want just %s", claimed, newest.ID)
	}

	// Nothing left.
	claimed, err = s.ClaimDueReminders(now, 5)
	if err != nil {
		t.Fatalf("third ClaimDueReminders failed: %v", err)
	}
	if len(claimed) != 0 {
		t.Errorf("third claim returned %d reminders, want 0", len(claimed))
	}
}

func testClaimExcludesFutureAndTerminal(t *testing.T, s Store) {
	now := time.Now()
	future := testReminder("ex-p1", "generic", "future", now.Add(time.Hour))
	due := testReminder("ex-p1", "generic", "due", now.Add(-time.Minute))
	for _, r := range []models.Reminder{future, due} {
		if _, err := s.InsertReminderIfAbsent(r); err != nil {
			t.Fatalf("InsertReminderIfAbsent failed: %v", err)
		}
	}

	claimed, err := s.ClaimDueReminders(now, 10)
	if err != nil {
		t.Fatalf("ClaimDueReminders failed: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != due.ID {
		t.Fatalf("claim = %+v, want just the due reminder", claimed)
	}

	if err := s.MarkReminderSent(due.ID); err != nil {
		t.Fatalf("MarkReminderSent failed: %v", err)
	}

	// Sent reminders never reappear, even when due.
	claimed, err = s.ClaimDueReminders(now.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("ClaimDueReminders failed: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != future.ID {
		t.Fatalf("claim = %+v, want just the future reminder", claimed)
	}
	if err := s.FailReminder(future.ID); err != nil {
		t.Fatalf("FailReminder failed: %v", err)
	}
	claimed, _ = s.ClaimDueReminders(now.Add(3*time.Hour), 10)
	if len(claimed) != 0 {
		t.Errorf("claim after terminal transitions = %+v, want empty", claimed)
	}
}

func testRetryReminder(t *testing.T, s Store) {
	now := time.Now()
	r := testReminder("rt-p1", "generic", "retry", now.Add(-time.Minute))
	if _, err := s.InsertReminderIfAbsent(r); err != nil {
		t.Fatalf("InsertReminderIfAbsent failed: %v", err)
	}

	claimed, err := s.ClaimDueReminders(now, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimDueReminders = (%v, %v), want one reminder", claimed, err)
	}

	nextAttempt := now.Add(2 * time.Minute)
	if err := s.RetryReminder(r.ID, 1, nextAttempt); err != nil {
		t.Fatalf("RetryReminder failed: %v", err)
	}

	// Not due before the pushed-forward scheduled_at.
	claimed, _ = s.ClaimDueReminders(now.Add(time.Minute), 10)
	if len(claimed) != 0 {
		t.Fatalf("claimed before retry backoff elapsed: %+v", claimed)
	}

	claimed, err = s.ClaimDueReminders(now.Add(3*time.Minute), 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimDueReminders after backoff = (%v, %v), want one reminder", claimed, err)
	}
	if claimed[0].RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", claimed[0].RetryCount)
	}
	if err := s.MarkReminderSent(r.ID); err != nil {
		t.Fatalf("MarkReminderSent failed: %v", err)
	}
}

func testRequeueStaleReminders(t *testing.T, s Store) {
	now := time.Now()
	r := testReminder("st-p1", "generic", "stale", now.Add(-time.Minute))
	if _, err := s.InsertReminderIfAbsent(r); err != nil {
		t.Fatalf("InsertReminderIfAbsent failed: %v", err)
	}
	if claimed, err := s.ClaimDueReminders(now, 1); err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimDueReminders = (%v, %v), want one reminder", claimed, err)
	}

	// Claim is fresh: nothing to requeue.
	n, err := s.RequeueStaleReminders(now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("RequeueStaleReminders failed: %v", err)
	}
	if n != 0 {
		t.Errorf("requeued %d fresh claims, want 0", n)
	}

	// Treat everything locked before the future cutoff as abandoned.
	n, err = s.RequeueStaleReminders(now.Add(time.Hour))
	if err != nil {
		t.Fatalf("RequeueStaleReminders failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued %d reminders, want 1", n)
	}

	claimed, err := s.ClaimDueReminders(now, 10)
	if err != nil || len(claimed) != 1 || claimed[0].ID != r.ID {
		t.Fatalf("claim after requeue = (%+v, %v), want the stale reminder", claimed, err)
	}
	if err := s.MarkReminderSent(r.ID); err != nil {
		t.Fatalf("MarkReminderSent failed: %v", err)
	}
}

func testPurgeTerminalReminders(t *testing.T, s Store) {
	now := time.Now()
	old := testReminder("pg-p1", "generic", "old", now.Add(-48*time.Hour))
	pending := testReminder("pg-p1", "generic", "pending", now.Add(-47*time.Hour))
	for _, r := range []models.Reminder{old, pending} {
		if _, err := s.InsertReminderIfAbsent(r); err != nil {
			t.Fatalf("InsertReminderIfAbsent failed: %v", err)
		}
	}
	if claimed, err := s.ClaimDueReminders(now, 10); err != nil || len(claimed) != 2 {
		t.Fatalf("ClaimDueReminders = (%v, %v), want both", claimed, err)
	}
	if err := s.MarkReminderSent(old.ID); err != nil {
		t.Fatalf("MarkReminderSent failed: %v", err)
	}
	// Return the second reminder to pending so the purge must skip it.
	if err := s.RetryReminder(pending.ID, 1, now.Add(-time.Hour)); err != nil {
		t.Fatalf("RetryReminder failed: %v", err)
	}

	n, err := s.PurgeTerminalReminders(now)
	if err != nil {
		t.Fatalf("PurgeTerminalReminders failed: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d reminders, want 1", n)
	}

	// The pending reminder survived the sweep.
	claimed, err := s.ClaimDueReminders(now, 10)
	if err != nil || len(claimed) != 1 || claimed[0].ID != pending.ID {
		t.Fatalf("claim after purge = (%+v, %v), want the pending reminder", claimed, err)
	}
	if err := s.MarkReminderSent(pending.ID); err != nil {
		t.Fatalf("MarkReminderSent failed: %v", err)
	}
}

func testParticipants(t *testing.T, s Store) {
	phone, err := s.GetParticipantPhone("pp-unknown")
	if err != nil {
		t.Fatalf("GetParticipantPhone failed: %v", err)
	}
	if phone != "" {
		t.Errorf("phone for unknown participant = %q, want empty", phone)
	}

	p := models.Participant{
		ID:          "pp-p1",
		Name:        "Test Participant",
		PhoneNumber: "15551234567",
		CreatedAt:   time.Now(),
	}
	if err := s.SaveParticipant(p); err != nil {
		t.Fatalf("SaveParticipant failed: %v", err)
	}

	phone, err = s.GetParticipantPhone("pp-p1")
	if err != nil {
		t.Fatalf("GetParticipantPhone failed: %v", err)
	}
	if phone != "15551234567" {
		t.Errorf("phone = %q, want 15551234567", phone)
	}

	// Upsert replaces the address.
	p.PhoneNumber = "15559876543"
	if err := s.SaveParticipant(p); err != nil {
		t.Fatalf("SaveParticipant upsert failed: %v", err)
	}
	phone, _ = s.GetParticipantPhone("pp-p1")
	if phone != "15559876543" {
		t.Errorf("phone after upsert = %q, want 15559876543", phone)
	}

	found, err := s.GetParticipantByPhone("15559876543")
	if err != nil {
		t.Fatalf("GetParticipantByPhone failed: %v", err)
	}
	if found == nil || found.ID != "pp-p1" {
		t.Errorf("GetParticipantByPhone = %+v, want pp-p1", found)
	}

	found, err = s.GetParticipantByPhone("10000000000")
	if err != nil {
		t.Fatalf("GetParticipantByPhone failed: %v", err)
	}
	if found != nil {
		t.Errorf("GetParticipantByPhone for unknown number = %+v, want nil", found)
	}
}

func TestInMemoryStore(t *testing.T) {
	s := NewInMemoryStore()
	defer s.Close()
	runStoreSuite(t, s)
}
