// Package workflow implements the per-participant conversation state machines
// for TrialRelay.
//
// Each workflow is a named finite-state process with a static transition
// table. Transitions are pure: unknown (state, event) pairs leave the state
// unchanged, which is the documented fallback for off-script participant
// messages.
package workflow

import (
	"fmt"

	"github.com/BTreeMap/TrialRelay/internal/models"
)

// Workflow name constants.
const (
	WorkflowClaimsUpload = "claims_upload"
	WorkflowVisitPrep    = "visit_prep"
	WorkflowRun          = "run"
)

// State constants shared across workflows.
const (
	StateIdle = "idle"
	StateDone = "done"
)

// Claims upload states.
const (
	StateAwaitingClaimPDF = "awaiting_claim_pdf"
)

// Visit prep states.
const (
	StateAwaitingConfirmation = "awaiting_confirmation"
	StateConfirmed            = "confirmed"
)

// Run (enrollment) states.
const (
	StateAwaitingID = "awaiting_id"
	StateIDReceived = "id_received"
	StateValidated  = "validated"
)

// Event constants.
const (
	EventBegin      = "begin"
	EventUpload     = "upload"
	EventConfirm    = "confirm"
	EventProvideID  = "provide_id"
	EventValidateOK = "validate_ok"
	EventFinish     = "finish"
	EventReset      = "reset"
)

// Workflow describes a finite-state process: a start state, a terminal state,
// and a state x event -> state transition table. Entering the terminal state
// ends the conversation and clears the stored row.
type Workflow struct {
	Name        string
	Start       string
	Terminal    string
	Transitions map[string]map[string]string
}

var claimsUpload = &Workflow{
	Name:     WorkflowClaimsUpload,
	Start:    StateIdle,
	Terminal: StateDone,
	Transitions: map[string]map[string]string{
		StateIdle:             {EventBegin: StateAwaitingClaimPDF},
		StateAwaitingClaimPDF: {EventUpload: StateDone, EventReset: StateIdle},
	},
}

var visitPrep = &Workflow{
	Name:     WorkflowVisitPrep,
	Start:    StateIdle,
	Terminal: StateDone,
	Transitions: map[string]map[string]string{
		StateIdle:                 {EventBegin: StateAwaitingConfirmation},
		StateAwaitingConfirmation: {EventConfirm: StateConfirmed, EventReset: StateIdle},
		StateConfirmed:            {EventFinish: StateDone, EventReset: StateIdle},
	},
}

var run = &Workflow{
	Name:     WorkflowRun,
	Start:    StateIdle,
	Terminal: StateDone,
	Transitions: map[string]map[string]string{
		StateIdle:       {EventBegin: StateAwaitingID},
		StateAwaitingID: {EventProvideID: StateIDReceived, EventReset: StateIdle},
		StateIDReceived: {EventValidateOK: StateValidated, EventReset: StateIdle},
		StateValidated:  {EventFinish: StateDone, EventReset: StateIdle},
	},
}

// workflows is the fixed, statically known set of declared workflows.
var workflows = map[string]*Workflow{
	WorkflowClaimsUpload: claimsUpload,
	WorkflowVisitPrep:    visitPrep,
	WorkflowRun:          run,
}

// Lookup returns the declared workflow with the given name.
func Lookup(name string) (*Workflow, bool) {
	w, ok := workflows[name]
	return w, ok
}

// Names returns the names of all declared workflows.
func Names() []string {
	names := make([]string, 0, len(workflows))
	for name := range workflows {
		names = append(names, name)
	}
	return names
}

// Next computes the successor state for (current, event). Unknown events are
// a no-op: the current state is returned unchanged.
func (w *Workflow) Next(current, event string) string {
	if next, ok := w.Transitions[current][event]; ok {
		return next
	}
	return current
}

// HasState reports whether s is a member of the workflow's declared state set.
func (w *Workflow) HasState(s string) bool {
	if s == w.Start || s == w.Terminal {
		return true
	}
	if _, ok := w.Transitions[s]; ok {
		return true
	}
	for _, edges := range w.Transitions {
		for _, target := range edges {
			if target == s {
				return true
			}
		}
	}
	return false
}

// Accepts reports whether the workflow handles the event in any state.
func (w *Workflow) Accepts(event string) bool {
	for _, edges := range w.Transitions {
		if _, ok := edges[event]; ok {
			return true
		}
	}
	return false
}

// Next computes the successor state within the named workflow. An unrecognized
// workflow name is an explicit error, never a silent fallback to a default
// workflow.
func Next(workflowName, current, event string) (string, error) {
	w, ok := Lookup(workflowName)
	if !ok {
		return "", fmt.Errorf("%w: %s", models.ErrUnknownWorkflow, workflowName)
	}
	return w.Next(current, event), nil
}
