// Package messaging provides the pluggable message delivery abstraction for
// TrialRelay.
package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Service defines a pluggable message delivery abstraction. The reminder
// dispatcher and the inbound request path consume only this interface.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	// This allows each service to implement its own recipient validation rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., connection handling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error
}

// Recipient validation constants.
const (
	MinPhoneDigits = 7
	MaxPhoneDigits = 15
)

// canonicalizePhone strips formatting characters and validates that the
// remainder is a plausible international phone number. Returns digits only.
func canonicalizePhone(recipient string) (string, error) {
	cleaned := strings.NewReplacer("+", "", " ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(recipient))
	if cleaned == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	for _, c := range cleaned {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("recipient %q contains non-digit characters", recipient)
		}
	}
	if len(cleaned) < MinPhoneDigits || len(cleaned) > MaxPhoneDigits {
		return "", fmt.Errorf("recipient %q has invalid length", recipient)
	}
	return cleaned, nil
}

// MockService is an in-memory Service that records sends, for tests.
type MockService struct {
	mu sync.Mutex
	// SendErr, when set, is returned from every SendMessage call.
	SendErr error
	sent    []SentMessage
}

// SentMessage records one delivered message.
type SentMessage struct {
	To   string
	Body string
}

// NewMockService creates an empty MockService.
func NewMockService() *MockService {
	return &MockService{}
}

func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

func (m *MockService) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockService) Start(ctx context.Context) error { return nil }

func (m *MockService) Stop() error { return nil }

// Sent returns a copy of the recorded messages.
func (m *MockService) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SetSendErr configures the error returned by subsequent SendMessage calls.
func (m *MockService) SetSendErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SendErr = err
}
