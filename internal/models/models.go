// Package models defines the core data structures for TrialRelay.
//
// It includes types for reminders, participants, and conversation state,
// which are shared across modules.
package models

import (
	"errors"
	"time"
)

// ReminderStatus represents the lifecycle state of a reminder.
type ReminderStatus string

const (
	// ReminderStatusPending means the reminder is waiting for delivery.
	ReminderStatusPending ReminderStatus = "pending"
	// ReminderStatusSending means a dispatcher has claimed the reminder for delivery.
	ReminderStatusSending ReminderStatus = "sending"
	// ReminderStatusSent means the reminder was delivered successfully (terminal).
	ReminderStatusSent ReminderStatus = "sent"
	// ReminderStatusFailed means delivery was abandoned (terminal).
	ReminderStatusFailed ReminderStatus = "failed"
)

// Template type constants categorize what a reminder is about.
const (
	// TemplateVisitCreated confirms a newly scheduled visit.
	TemplateVisitCreated = "visit_created"
	// TemplateVisit2Days is the two-day advance visit reminder.
	TemplateVisit2Days = "visit_2days"
	// TemplateVisit2Hours is the two-hour advance visit reminder.
	TemplateVisit2Hours = "visit_2hours"
	// TemplateGeneric is used for ad hoc reminders.
	TemplateGeneric = "generic"
)

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum allowed length for a reminder message (WhatsApp limit)
	MaxMessageLength = 4096
	// MaxRetryCount defines the retry ceiling for reminder delivery
	MaxRetryCount = 3
)

// Error variables for better error handling and testability
var (
	// ErrStoreUnavailable indicates the persistence backend could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrUnknownWorkflow indicates a workflow name outside the declared set.
	ErrUnknownWorkflow = errors.New("unknown workflow")
	// ErrDeliveryFailed indicates a transient message delivery failure.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrAddressUnresolved indicates the participant has no known delivery address.
	ErrAddressUnresolved = errors.New("participant address unresolved")

	ErrEmptyParticipant   = errors.New("participant ID cannot be empty")
	ErrEmptyMessage       = errors.New("reminder message cannot be empty")
	ErrMessageTooLong     = errors.New("reminder message exceeds maximum length")
	ErrEmptyTemplateType  = errors.New("template type cannot be empty")
	ErrEmptyOccurrenceKey = errors.New("occurrence key cannot be empty")
	ErrNegativeDelay      = errors.New("reminder delay cannot be negative")
)

// IsValidReminderStatus checks if the given reminder status is supported.
func IsValidReminderStatus(s ReminderStatus) bool {
	switch s {
	case ReminderStatusPending, ReminderStatusSending, ReminderStatusSent, ReminderStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status ends the reminder lifecycle.
func (s ReminderStatus) IsTerminal() bool {
	return s == ReminderStatusSent || s == ReminderStatusFailed
}

// Reminder represents a durable time-triggered notification record.
//
// No two reminders may share (participant_id, template_type, occurrence_key);
// the occurrence key identifies the real-world event (e.g. a visit timestamp)
// the reminder refers to.
type Reminder struct {
	ID            string         `json:"id"`
	ParticipantID string         `json:"participant_id"`
	Message       string         `json:"message"`
	ScheduledAt   time.Time      `json:"scheduled_at"`
	TemplateType  string         `json:"template_type"`
	Status        ReminderStatus `json:"status"`
	RetryCount    int            `json:"retry_count"`
	OccurrenceKey string         `json:"occurrence_key"`
	LastAttempt   *time.Time     `json:"last_attempt,omitempty"`
	LockedAt      *time.Time     `json:"locked_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Validate performs validation on a Reminder structure before persistence.
func (r *Reminder) Validate() error {
	if r.ParticipantID == "" {
		return ErrEmptyParticipant
	}
	if r.Message == "" {
		return ErrEmptyMessage
	}
	if len(r.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if r.TemplateType == "" {
		return ErrEmptyTemplateType
	}
	if r.OccurrenceKey == "" {
		return ErrEmptyOccurrenceKey
	}
	return nil
}

// Participant represents an enrolled trial participant.
type Participant struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	PhoneNumber string     `json:"phone_number"`
	NextVisitAt *time.Time `json:"next_visit_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
