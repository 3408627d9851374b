// Package models defines state management structures for TrialRelay workflows.
package models

import "time"

// ConversationState represents the current step of a participant in a workflow.
// There is at most one row per (participant_id, workflow_name); writes are
// idempotent upserts.
type ConversationState struct {
	ParticipantID string    `json:"participant_id"`
	WorkflowName  string    `json:"workflow_name"`
	State         string    `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
