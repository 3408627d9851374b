// Package store provides storage backends for TrialRelay.
//
// This file implements an SQLite-backed store for conversation state and
// participants.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/TrialRelay/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// GetConversationState retrieves the stored step for a participant/workflow.
func (s *SQLiteStore) GetConversationState(participantID, workflowName string) (*models.ConversationState, error) {
	query := `SELECT participant_id, workflow_name, state, created_at, updated_at
			  FROM conversation_state WHERE participant_id = ? AND workflow_name = ?`

	var state models.ConversationState
	err := s.db.QueryRow(query, participantID, workflowName).Scan(
		&state.ParticipantID, &state.WorkflowName, &state.State, &state.CreatedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConversationState not found", "participantID", participantID, "workflow", workflowName)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversationState failed", "error", err, "participantID", participantID, "workflow", workflowName)
		return nil, fmt.Errorf("failed to query conversation state: %w", err)
	}
	slog.Debug("SQLiteStore GetConversationState found", "participantID", participantID, "workflow", workflowName, "state", state.State)
	return &state, nil
}

// SaveConversationState stores or updates the step for a participant/workflow.
func (s *SQLiteStore) SaveConversationState(state models.ConversationState) error {
	query := `
		INSERT INTO conversation_state (participant_id, workflow_name, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (participant_id, workflow_name) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`

	_, err := s.db.Exec(query, state.ParticipantID, state.WorkflowName, state.State, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState failed", "error", err, "participantID", state.ParticipantID, "workflow", state.WorkflowName)
		return fmt.Errorf("failed to upsert conversation state: %w", err)
	}
	slog.Debug("SQLiteStore SaveConversationState succeeded", "participantID", state.ParticipantID, "workflow", state.WorkflowName, "state", state.State)
	return nil
}

// DeleteConversationState removes the step for a participant/workflow.
func (s *SQLiteStore) DeleteConversationState(participantID, workflowName string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_state WHERE participant_id = ? AND workflow_name = ?`, participantID, workflowName)
	if err != nil {
		slog.Error("SQLiteStore DeleteConversationState failed", "error", err, "participantID", participantID, "workflow", workflowName)
		return fmt.Errorf("failed to delete conversation state: %w", err)
	}
	slog.Debug("SQLiteStore DeleteConversationState succeeded", "participantID", participantID, "workflow", workflowName)
	return nil
}

// SaveParticipant stores or updates a participant record.
func (s *SQLiteStore) SaveParticipant(p models.Participant) error {
	query := `
		INSERT INTO participants (id, name, phone_number, next_visit_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, phone_number = excluded.phone_number, next_visit_at = excluded.next_visit_at`

	_, err := s.db.Exec(query, p.ID, nilIfEmpty(p.Name), p.PhoneNumber, p.NextVisitAt, p.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveParticipant failed", "error", err, "participantID", p.ID)
		return fmt.Errorf("failed to upsert participant %s: %w", p.ID, err)
	}
	return nil
}

// GetParticipantPhone resolves a participant's delivery address. Returns an
// empty string for unknown participants.
func (s *SQLiteStore) GetParticipantPhone(participantID string) (string, error) {
	var phone string
	err := s.db.QueryRow(`SELECT phone_number FROM participants WHERE id = ?`, participantID).Scan(&phone)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetParticipantPhone failed", "error", err, "participantID", participantID)
		return "", fmt.Errorf("failed to query participant phone: %w", err)
	}
	return phone, nil
}

// GetParticipantByPhone resolves a participant from a delivery address.
// Returns nil for unknown numbers.
func (s *SQLiteStore) GetParticipantByPhone(phone string) (*models.Participant, error) {
	query := `SELECT id, name, phone_number, next_visit_at, created_at FROM participants WHERE phone_number = ?`

	var p models.Participant
	var name sql.NullString
	err := s.db.QueryRow(query, phone).Scan(&p.ID, &name, &p.PhoneNumber, &p.NextVisitAt, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetParticipantByPhone failed", "error", err)
		return nil, fmt.Errorf("failed to query participant by phone: %w", err)
	}
	p.Name = name.String
	return &p, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
