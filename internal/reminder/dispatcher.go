package reminder

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/TrialRelay/internal/messaging"
	"github.com/BTreeMap/TrialRelay/internal/models"
	"github.com/BTreeMap/TrialRelay/internal/store"
)

// Dispatcher defaults.
const (
	// DefaultPollInterval is the period between dispatch cycles.
	DefaultPollInterval = 60 * time.Second
	// DefaultBatchLimit caps how many due reminders one cycle processes.
	DefaultBatchLimit = 5
	// DefaultSendTimeout bounds a single delivery attempt.
	DefaultSendTimeout = 30 * time.Second
	// DefaultStaleThreshold is how long a claim may be held before it is
	// considered abandoned by a crashed dispatcher.
	DefaultStaleThreshold = 5 * time.Minute
)

// Dispatcher periodically claims due reminders and attempts delivery. It is
// the sole writer of reminder status transitions. All coordination with the
// request path happens through the durable store; the dispatcher holds no
// shared in-process state.
type Dispatcher struct {
	repo           store.ReminderRepo
	directory      store.ParticipantRepo
	msgService     messaging.Service
	pollInterval   time.Duration
	batchLimit     int
	sendTimeout    time.Duration
	staleThreshold time.Duration
}

// NewDispatcher creates a Dispatcher. Non-positive pollInterval or batchLimit
// fall back to the defaults.
func NewDispatcher(repo store.ReminderRepo, directory store.ParticipantRepo, msgService messaging.Service, pollInterval time.Duration, batchLimit int) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	return &Dispatcher{
		repo:           repo,
		directory:      directory,
		msgService:     msgService,
		pollInterval:   pollInterval,
		batchLimit:     batchLimit,
		sendTimeout:    DefaultSendTimeout,
		staleThreshold: DefaultStaleThreshold,
	}
}

// RecoverStaleReminders requeues reminders stuck in the sending status
// (crash recovery). Should be called once at startup.
func (d *Dispatcher) RecoverStaleReminders() error {
	staleBefore := time.Now().Add(-d.staleThreshold)
	n, err := d.repo.RequeueStaleReminders(staleBefore)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("Dispatcher.RecoverStaleReminders: requeued stale reminders", "count", n)
	}
	return nil
}

// Run starts the polling loop. It blocks until the context is cancelled; an
// in-flight cycle finishes before Run returns.
func (d *Dispatcher) Run(ctx context.Context) {
	slog.Info("Dispatcher.Run: starting reminder dispatcher", "pollInterval", d.pollInterval, "batchLimit", d.batchLimit)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher.Run: stopping")
			return
		case <-ticker.C:
			d.Poll(ctx)
		}
	}
}

// Poll executes one dispatch cycle: claim up to batchLimit due reminders and
// attempt each in scheduled order. Failures are contained per reminder; one
// failing delivery never aborts the rest of the batch, and nothing is ever
// propagated out of the loop.
func (d *Dispatcher) Poll(ctx context.Context) {
	now := time.Now()
	due, err := d.repo.ClaimDueReminders(now, d.batchLimit)
	if err != nil {
		slog.Error("Dispatcher.Poll: claim failed", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	slog.Debug("Dispatcher.Poll: processing due reminders", "count", len(due))
	for _, r := range due {
		d.process(ctx, r)
	}
}

// process attempts delivery of one claimed reminder and applies the
// corresponding status transition.
func (d *Dispatcher) process(ctx context.Context, r models.Reminder) {
	phone, err := d.directory.GetParticipantPhone(r.ParticipantID)
	if err != nil {
		// Directory unavailable is transient; treat like a delivery failure
		// so the reminder is not lost.
		slog.Error("Dispatcher.process: address lookup failed", "id", r.ID, "participantID", r.ParticipantID, "error", err)
		d.retryOrFail(r, time.Now())
		return
	}
	if phone == "" {
		// A missing address will not resolve itself; fail without retry.
		slog.Error("Dispatcher.process: no address for participant", "id", r.ID, "participantID", r.ParticipantID, "error", models.ErrAddressUnresolved)
		if err := d.repo.FailReminder(r.ID); err != nil {
			slog.Error("Dispatcher.process: fail reminder error", "id", r.ID, "error", err)
		}
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	err = d.msgService.SendMessage(sendCtx, phone, r.Message)
	cancel()

	if err != nil {
		slog.Warn("Dispatcher.process: delivery failed", "id", r.ID, "participantID", r.ParticipantID, "retryCount", r.RetryCount, "error", err)
		d.retryOrFail(r, time.Now())
		return
	}

	if err := d.repo.MarkReminderSent(r.ID); err != nil {
		slog.Error("Dispatcher.process: mark sent error", "id", r.ID, "error", err)
		return
	}
	slog.Info("Dispatcher.process: reminder sent", "id", r.ID, "participantID", r.ParticipantID, "template", r.TemplateType)
}

// retryOrFail applies the retry policy after a failed attempt: below the
// retry ceiling the reminder returns to pending with scheduled_at pushed
// forward by 2^k minutes for the k-th retry; at the ceiling it becomes
// terminally failed.
func (d *Dispatcher) retryOrFail(r models.Reminder, attemptAt time.Time) {
	if r.RetryCount >= models.MaxRetryCount {
		if err := d.repo.FailReminder(r.ID); err != nil {
			slog.Error("Dispatcher.retryOrFail: fail reminder error", "id", r.ID, "error", err)
			return
		}
		slog.Error("Dispatcher.retryOrFail: reminder failed after retries", "id", r.ID, "participantID", r.ParticipantID, "retryCount", r.RetryCount)
		return
	}

	retry := r.RetryCount + 1
	backoff := time.Duration(1<<retry) * time.Minute
	nextAttempt := attemptAt.Add(backoff)
	if err := d.repo.RetryReminder(r.ID, retry, nextAttempt); err != nil {
		slog.Error("Dispatcher.retryOrFail: retry reminder error", "id", r.ID, "error", err)
		return
	}
	slog.Warn("Dispatcher.retryOrFail: retry scheduled", "id", r.ID, "retry", retry, "maxRetries", models.MaxRetryCount, "nextAttempt", nextAttempt)
}
