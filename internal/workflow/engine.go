// Package workflow provides the engine that orchestrates transition tables
// with the durable state store.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/TrialRelay/internal/models"
	"github.com/BTreeMap/TrialRelay/internal/store"
)

// Engine advances participants through workflow state machines, persisting
// every step. It owns the conversation_state table; no other component may
// mutate it.
type Engine struct {
	store store.StateRepo
}

// NewEngine creates a workflow engine backed by the given state store.
func NewEngine(st store.StateRepo) *Engine {
	slog.Debug("Creating workflow Engine")
	return &Engine{store: st}
}

// Advance computes and persists the participant's next state for the event.
//
// The stored state defaults to the workflow's start state when no row exists
// or when the stored value is not a member of the workflow's declared state
// set (corrupt or foreign state is reset to start, not propagated as an
// error). Exactly one store write happens per call, including no-op
// transitions. Entering the terminal state clears the stored row so the next
// event re-enters the workflow at its start state.
//
// Store failures are reported as models.ErrStoreUnavailable; the caller must
// not acknowledge the event without a successful persist.
func (e *Engine) Advance(ctx context.Context, participantID, workflowName, event string) (string, error) {
	slog.Debug("Engine.Advance invoked", "participantID", participantID, "workflow", workflowName, "event", event)

	w, ok := Lookup(workflowName)
	if !ok {
		slog.Error("Engine.Advance unknown workflow", "participantID", participantID, "workflow", workflowName)
		return "", fmt.Errorf("%w: %s", models.ErrUnknownWorkflow, workflowName)
	}

	cs, err := e.store.GetConversationState(participantID, workflowName)
	if err != nil {
		slog.Error("Engine.Advance state read failed", "error", err, "participantID", participantID, "workflow", workflowName)
		return "", fmt.Errorf("%w: read state: %v", models.ErrStoreUnavailable, err)
	}

	current := w.Start
	if cs != nil {
		if w.HasState(cs.State) {
			current = cs.State
		} else {
			slog.Warn("Engine.Advance stored state not in workflow, resetting to start", "participantID", participantID, "workflow", workflowName, "stored", cs.State)
		}
	}

	next := w.Next(current, event)

	if next == w.Terminal {
		if err := e.store.DeleteConversationState(participantID, workflowName); err != nil {
			slog.Error("Engine.Advance terminal delete failed", "error", err, "participantID", participantID, "workflow", workflowName)
			return "", fmt.Errorf("%w: clear state: %v", models.ErrStoreUnavailable, err)
		}
		slog.Info("Engine.Advance workflow completed", "participantID", participantID, "workflow", workflowName, "from", current, "event", event)
		return next, nil
	}

	now := time.Now()
	state := models.ConversationState{
		ParticipantID: participantID,
		WorkflowName:  workflowName,
		State:         next,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if cs != nil {
		state.CreatedAt = cs.CreatedAt
	}
	if err := e.store.SaveConversationState(state); err != nil {
		slog.Error("Engine.Advance state write failed", "error", err, "participantID", participantID, "workflow", workflowName, "state", next)
		return "", fmt.Errorf("%w: write state: %v", models.ErrStoreUnavailable, err)
	}

	slog.Info("Engine.Advance succeeded", "participantID", participantID, "workflow", workflowName, "from", current, "event", event, "to", next)
	return next, nil
}

// Reset re-enters the workflow's declared start state for the participant.
func (e *Engine) Reset(ctx context.Context, participantID, workflowName string) error {
	slog.Debug("Engine.Reset invoked", "participantID", participantID, "workflow", workflowName)

	w, ok := Lookup(workflowName)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownWorkflow, workflowName)
	}

	now := time.Now()
	state := models.ConversationState{
		ParticipantID: participantID,
		WorkflowName:  workflowName,
		State:         w.Start,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.SaveConversationState(state); err != nil {
		slog.Error("Engine.Reset state write failed", "error", err, "participantID", participantID, "workflow", workflowName)
		return fmt.Errorf("%w: write state: %v", models.ErrStoreUnavailable, err)
	}

	slog.Info("Engine.Reset succeeded", "participantID", participantID, "workflow", workflowName)
	return nil
}
