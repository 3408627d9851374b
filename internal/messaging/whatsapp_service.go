package messaging

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/TrialRelay/internal/whatsapp"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client whatsapp.Sender
}

// Compile-time check that WhatsAppService implements Service.
var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a new WhatsAppService wrapping the given Sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	slog.Debug("Creating WhatsAppService")
	return &WhatsAppService{client: client}
}

// ValidateAndCanonicalizeRecipient reduces the recipient to the bare digit
// form whatsmeow expects as a JID user part.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// SendMessage sends a message through the WhatsApp client.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	slog.Debug("WhatsAppService message sent", "to", to)
	return nil
}

// Start is a no-op; the underlying client connects during construction.
func (s *WhatsAppService) Start(ctx context.Context) error {
	return nil
}

// Stop disconnects the underlying client if it supports disconnection.
func (s *WhatsAppService) Stop() error {
	if c, ok := s.client.(*whatsapp.Client); ok {
		c.Disconnect()
	}
	return nil
}
