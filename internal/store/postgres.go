// Package store provides storage backends for TrialRelay.
//
// This file implements a PostgreSQL-backed store for conversation state and
// participants.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/TrialRelay/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// GetConversationState retrieves the stored step for a participant/workflow.
func (s *PostgresStore) GetConversationState(participantID, workflowName string) (*models.ConversationState, error) {
	query := `SELECT participant_id, workflow_name, state, created_at, updated_at
			  FROM conversation_state WHERE participant_id = $1 AND workflow_name = $2`

	var state models.ConversationState
	err := s.db.QueryRow(query, participantID, workflowName).Scan(
		&state.ParticipantID, &state.WorkflowName, &state.State, &state.CreatedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversationState failed", "error", err, "participantID", participantID, "workflow", workflowName)
		return nil, fmt.Errorf("failed to query conversation state: %w", err)
	}
	return &state, nil
}

// SaveConversationState stores or updates the step for a participant/workflow.
func (s *PostgresStore) SaveConversationState(state models.ConversationState) error {
	query := `
		INSERT INTO conversation_state (participant_id, workflow_name, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (participant_id, workflow_name) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`

	_, err := s.db.Exec(query, state.ParticipantID, state.WorkflowName, state.State, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState failed", "error", err, "participantID", state.ParticipantID, "workflow", state.WorkflowName)
		return fmt.Errorf("failed to upsert conversation state: %w", err)
	}
	return nil
}

// DeleteConversationState removes the step for a participant/workflow.
func (s *PostgresStore) DeleteConversationState(participantID, workflowName string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_state WHERE participant_id = $1 AND workflow_name = $2`, participantID, workflowName)
	if err != nil {
		slog.Error("PostgresStore DeleteConversationState failed", "error", err, "participantID", participantID, "workflow", workflowName)
		return fmt.Errorf("failed to delete conversation state: %w", err)
	}
	return nil
}

// SaveParticipant stores or updates a participant record.
func (s *PostgresStore) SaveParticipant(p models.Participant) error {
	query := `
		INSERT INTO participants (id, name, phone_number, next_visit_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, phone_number = EXCLUDED.phone_number, next_visit_at = EXCLUDED.next_visit_at`

	_, err := s.db.Exec(query, p.ID, nilIfEmpty(p.Name), p.PhoneNumber, p.NextVisitAt, p.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveParticipant failed", "error", err, "participantID", p.ID)
		return fmt.Errorf("failed to upsert participant %s: %w", p.ID, err)
	}
	return nil
}

// GetParticipantPhone resolves a participant's delivery address. Returns an
// empty string for unknown participants.
func (s *PostgresStore) GetParticipantPhone(participantID string) (string, error) {
	var phone string
	err := s.db.QueryRow(`SELECT phone_number FROM participants WHERE id = $1`, participantID).Scan(&phone)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresStore GetParticipantPhone failed", "error", err, "participantID", participantID)
		return "", fmt.Errorf("failed to query participant phone: %w", err)
	}
	return phone, nil
}

// GetParticipantByPhone resolves a participant from a delivery address.
// Returns nil for unknown numbers.
func (s *PostgresStore) GetParticipantByPhone(phone string) (*models.Participant, error) {
	query := `SELECT id, name, phone_number, next_visit_at, created_at FROM participants WHERE phone_number = $1`

	var p models.Participant
	var name sql.NullString
	err := s.db.QueryRow(query, phone).Scan(&p.ID, &name, &p.PhoneNumber, &p.NextVisitAt, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetParticipantByPhone failed", "error", err)
		return nil, fmt.Errorf("failed to query participant by phone: %w", err)
	}
	p.Name = name.String
	return &p, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
