// Package store provides storage backends for TrialRelay.
//
// It defines the durable contracts for conversation state, reminders, and the
// participant directory, with in-memory, SQLite, and PostgreSQL
// implementations.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TrialRelay/internal/models"
)

// StateRepo is the durable conversation-state contract. The workflow engine
// is its only writer.
type StateRepo interface {
	// GetConversationState returns the row for (participantID, workflowName),
	// or nil if none exists.
	GetConversationState(participantID, workflowName string) (*models.ConversationState, error)

	// SaveConversationState upserts on (participant_id, workflow_name);
	// last write wins.
	SaveConversationState(state models.ConversationState) error

	// DeleteConversationState removes the row, if any.
	DeleteConversationState(participantID, workflowName string) error
}

// ReminderRepo is the durable reminder contract. The scheduler creates rows;
// the dispatcher owns all lifecycle transitions.
type ReminderRepo interface {
	// InsertReminderIfAbsent inserts the reminder unless a row with the same
	// (participant_id, template_type, occurrence_key) already exists. The
	// check-and-insert is atomic (unique constraint, not read-then-insert).
	// Returns whether a row was inserted.
	InsertReminderIfAbsent(r models.Reminder) (bool, error)

	// ClaimDueReminders returns up to limit pending reminders with
	// scheduled_at <= now, oldest first, atomically flipping each to the
	// sending status so a concurrent dispatcher cannot claim them again.
	ClaimDueReminders(now time.Time, limit int) ([]models.Reminder, error)

	// MarkReminderSent marks a reminder as delivered (terminal).
	MarkReminderSent(id string) error

	// FailReminder marks a reminder as permanently failed (terminal).
	FailReminder(id string) error

	// RetryReminder returns a claimed reminder to pending with the given
	// retry count and pushed-forward scheduled_at.
	RetryReminder(id string, retryCount int, nextAttempt time.Time) error

	// RequeueStaleReminders resets reminders stuck in sending since before
	// staleBefore back to pending (crash recovery).
	RequeueStaleReminders(staleBefore time.Time) (int, error)

	// PurgeTerminalReminders deletes sent/failed reminders scheduled before
	// the cutoff. Returns the number of rows removed.
	PurgeTerminalReminders(before time.Time) (int, error)
}

// ParticipantRepo is the participant directory contract.
type ParticipantRepo interface {
	// SaveParticipant upserts a participant record.
	SaveParticipant(p models.Participant) error

	// GetParticipantPhone returns the participant's delivery address, or an
	// empty string if the participant is unknown.
	GetParticipantPhone(participantID string) (string, error)

	// GetParticipantByPhone returns the participant enrolled with the given
	// phone number, or nil if none matches.
	GetParticipantByPhone(phone string) (*models.Participant, error)
}

// Store combines all durable contracts behind one backend.
type Store interface {
	StateRepo
	ReminderRepo
	ParticipantRepo
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-style DSNs and "sqlite"
// for anything else (assumed to be a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a mutex-guarded in-process Store, used in tests and for
// running without a database. The single mutex serializes same-participant
// writes, satisfying the last-write-wins contract.
type InMemoryStore struct {
	mu           sync.Mutex
	states       map[string]models.ConversationState
	reminders    map[string]models.Reminder
	participants map[string]models.Participant
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:       make(map[string]models.ConversationState),
		reminders:    make(map[string]models.Reminder),
		participants: make(map[string]models.Participant),
	}
}

func stateKey(participantID, workflowName string) string {
	return participantID + "|" + workflowName
}

func dedupKey(r models.Reminder) string {
	return r.ParticipantID + "|" + r.TemplateType + "|" + r.OccurrenceKey
}

func (s *InMemoryStore) GetConversationState(participantID, workflowName string) (*models.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[stateKey(participantID, workflowName)]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *InMemoryStore) SaveConversationState(state models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[stateKey(state.ParticipantID, state.WorkflowName)] = state
	return nil
}

func (s *InMemoryStore) DeleteConversationState(participantID, workflowName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, stateKey(participantID, workflowName))
	return nil
}

func (s *InMemoryStore) InsertReminderIfAbsent(r models.Reminder) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dedupKey(r)
	for _, existing := range s.reminders {
		if dedupKey(existing) == key {
			return false, nil
		}
	}
	s.reminders[r.ID] = r
	return true, nil
}

func (s *InMemoryStore) ClaimDueReminders(now time.Time, limit int) ([]models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []models.Reminder
	for _, r := range s.reminders {
		if r.Status == models.ReminderStatusPending && !r.ScheduledAt.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := now
	for i := range due {
		r := s.reminders[due[i].ID]
		r.Status = models.ReminderStatusSending
		r.LockedAt = &claimed
		r.UpdatedAt = claimed
		s.reminders[r.ID] = r
		due[i] = r
	}
	return due, nil
}

func (s *InMemoryStore) MarkReminderSent(id string) error {
	return s.finishReminder(id, models.ReminderStatusSent)
}

func (s *InMemoryStore) FailReminder(id string) error {
	return s.finishReminder(id, models.ReminderStatusFailed)
}

func (s *InMemoryStore) finishReminder(id string, status models.ReminderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil
	}
	now := time.Now()
	r.Status = status
	r.LastAttempt = &now
	r.LockedAt = nil
	r.UpdatedAt = now
	s.reminders[id] = r
	return nil
}

func (s *InMemoryStore) RetryReminder(id string, retryCount int, nextAttempt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil
	}
	now := time.Now()
	r.Status = models.ReminderStatusPending
	r.RetryCount = retryCount
	r.ScheduledAt = nextAttempt
	r.LastAttempt = &now
	r.LockedAt = nil
	r.UpdatedAt = now
	s.reminders[id] = r
	return nil
}

func (s *InMemoryStore) RequeueStaleReminders(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.reminders {
		if r.Status == models.ReminderStatusSending && r.LockedAt != nil && r.LockedAt.Before(staleBefore) {
			r.Status = models.ReminderStatusPending
			r.LockedAt = nil
			r.UpdatedAt = time.Now()
			s.reminders[id] = r
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) PurgeTerminalReminders(before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.reminders {
		if r.Status.IsTerminal() && r.ScheduledAt.Before(before) {
			delete(s.reminders, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) SaveParticipant(p models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[p.ID] = p
	return nil
}

func (s *InMemoryStore) GetParticipantPhone(participantID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return "", nil
	}
	return p.PhoneNumber, nil
}

func (s *InMemoryStore) GetParticipantByPhone(phone string) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participants {
		if p.PhoneNumber == phone {
			participant := p
			return &participant, nil
		}
	}
	return nil, nil
}

// GetReminder returns a reminder by ID (for tests).
func (s *InMemoryStore) GetReminder(id string) (*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
