package bus

import "time"

// InboundEnvelope is the channel-agnostic form of a message received on any
// channel. Adapters normalize into this shape and hand it off; they never
// process messages inside their own read loops.
type InboundEnvelope struct {
	Channel   string    `json:"channel"`
	From      string    `json:"from"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"sessionId"`
}

// OutboundMessage is a send instruction routed to one channel adapter.
type OutboundMessage struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
	Type      string `json:"type,omitempty"`
}

// Receipt is returned by an adapter after a successful send.
type Receipt struct {
	ProviderID string    `json:"providerId,omitempty"`
	SentAt     time.Time `json:"sentAt"`
}
