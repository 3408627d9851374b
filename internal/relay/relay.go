// Package relay handles inbound participant messages for TrialRelay.
//
// It resolves the sender to an enrolled participant, classifies the message
// into an intent, advances the matching workflow, and sends the reply for the
// resulting state.
package relay

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BTreeMap/TrialRelay/internal/intent"
	"github.com/BTreeMap/TrialRelay/internal/messaging"
	"github.com/BTreeMap/TrialRelay/internal/models"
	"github.com/BTreeMap/TrialRelay/internal/store"
	"github.com/BTreeMap/TrialRelay/internal/workflow"
)

// Replies sent after a workflow advances into the named state.
var statePrompts = map[string]string{
	workflow.StateAwaitingClaimPDF:     "Please upload a photo or PDF of your receipt.",
	workflow.StateAwaitingConfirmation: "Please confirm your upcoming visit by replying 'confirm'.",
	workflow.StateConfirmed:            "Thank you, your visit is confirmed.",
	workflow.StateAwaitingID:           "Please reply with your participant ID.",
	workflow.StateIDReceived:           "Got it, validating your ID.",
	workflow.StateValidated:            "Your ID has been validated.",
	workflow.StateDone:                 "All done. Thank you!",
}

// Relay wires inbound messages to the workflow engine.
type Relay struct {
	engine     *workflow.Engine
	classifier *intent.Classifier
	directory  store.ParticipantRepo
	msgService messaging.Service
}

// NewRelay creates a Relay.
func NewRelay(engine *workflow.Engine, classifier *intent.Classifier, directory store.ParticipantRepo, msgService messaging.Service) *Relay {
	return &Relay{
		engine:     engine,
		classifier: classifier,
		directory:  directory,
		msgService: msgService,
	}
}

// HandleInbound processes one inbound message from the given sender address.
// Messages from unenrolled numbers and messages that map to no workflow event
// are dropped with a log line; handler errors never propagate to the
// transport layer.
func (r *Relay) HandleInbound(ctx context.Context, from, text string) {
	phone, err := r.msgService.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Warn("Relay.HandleInbound: invalid sender address", "from", from, "error", err)
		return
	}

	participant, err := r.directory.GetParticipantByPhone(phone)
	if err != nil {
		slog.Error("Relay.HandleInbound: participant lookup failed", "error", err)
		return
	}
	if participant == nil {
		slog.Debug("Relay.HandleInbound: message from unenrolled number dropped")
		return
	}

	detected := r.classifier.Classify(ctx, text)
	slog.Debug("Relay.HandleInbound: intent classified", "participantID", participant.ID, "intent", detected)

	switch detected {
	case intent.IntentOptOut:
		r.reset(ctx, participant.ID)
		r.reply(ctx, phone, "You will no longer receive messages. Reply START to resume.")
		return
	case intent.IntentOptIn:
		r.reply(ctx, phone, "Welcome back. You will receive trial messages again.")
		return
	case intent.IntentOther:
		slog.Debug("Relay.HandleInbound: no actionable intent", "participantID", participant.ID)
		return
	}

	workflowName, ok := workflow.Route(detected)
	if !ok {
		slog.Warn("Relay.HandleInbound: intent has no workflow route", "intent", detected)
		return
	}

	next, err := r.engine.Advance(ctx, participant.ID, workflowName, detected)
	if err != nil {
		if errors.Is(err, models.ErrUnknownWorkflow) {
			slog.Error("Relay.HandleInbound: route points at undeclared workflow", "workflow", workflowName)
			return
		}
		slog.Error("Relay.HandleInbound: advance failed", "participantID", participant.ID, "workflow", workflowName, "error", err)
		return
	}

	if prompt, ok := statePrompts[next]; ok {
		r.reply(ctx, phone, prompt)
	}
}

// reset returns every declared workflow to its start state for the
// participant.
func (r *Relay) reset(ctx context.Context, participantID string) {
	for _, name := range workflow.Names() {
		if err := r.engine.Reset(ctx, participantID, name); err != nil {
			slog.Error("Relay.reset: reset failed", "participantID", participantID, "workflow", name, "error", err)
		}
	}
}

func (r *Relay) reply(ctx context.Context, phone, body string) {
	if err := r.msgService.SendMessage(ctx, phone, body); err != nil {
		slog.Error("Relay.reply: send failed", "error", err)
	}
}
