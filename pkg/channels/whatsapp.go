package channels

import (
	"context"

	"github.com/caiodcamargo999/rarityleads-engine/pkg/bus"
)

// WhatsAppSender is the slice of the session manager the adapter needs.
type WhatsAppSender interface {
	Send(ctx context.Context, recipient, content string) (bus.Receipt, error)
	HasConnected() bool
}

// WhatsAppAdapter delivers through whichever paired session is connected.
// Pairing and reconnects are the session manager's problem.
type WhatsAppAdapter struct {
	sessions WhatsAppSender
}

func NewWhatsAppAdapter(sessions WhatsAppSender) *WhatsAppAdapter {
	return &WhatsAppAdapter{sessions: sessions}
}

func (a *WhatsAppAdapter) Name() string { return "whatsapp" }

func (a *WhatsAppAdapter) Send(ctx context.Context, msg bus.OutboundMessage) (bus.Receipt, error) {
	return a.sessions.Send(ctx, msg.Recipient, msg.Content)
}

func (a *WhatsAppAdapter) Connected() bool { return a.sessions.HasConnected() }

func (a *WhatsAppAdapter) Start(context.Context) error { return nil }

func (a *WhatsAppAdapter) Stop() error { return nil }
