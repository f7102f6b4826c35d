package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// BridgeEvent is one frame pushed by the WhatsApp bridge. The bridge owns the
// wire protocol; this process only reacts to its lifecycle events.
type BridgeEvent struct {
	Type        string    `json:"type"` // qr | scanned | connected | disconnected | message
	QR          string    `json:"qr,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Credentials []byte    `json:"credentials,omitempty"`
	LoggedOut   bool      `json:"loggedOut,omitempty"`
	From        string    `json:"from,omitempty"`
	Content     string    `json:"content,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

// Transport is one live bridge connection for one session.
type Transport interface {
	// Events yields bridge frames until the transport closes; the channel is
	// closed on transport loss.
	Events() <-chan BridgeEvent
	// SendText delivers one outbound message through the session.
	SendText(ctx context.Context, recipient, content string) error
	// RequestQR asks the bridge for a fresh pairing payload.
	RequestQR() error
	Close() error
}

// Dialer opens a transport for a session. Swapped for a fake in tests.
type Dialer func(ctx context.Context, sessionID string) (Transport, error)

const bridgeDialTimeout = 10 * time.Second

// WebSocketDialer connects to the bridge process over a WebSocket, the same
// way the rest of the product talks to its WhatsApp bridge.
func WebSocketDialer(bridgeURL string) Dialer {
	return func(ctx context.Context, sessionID string) (Transport, error) {
		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = bridgeDialTimeout

		conn, _, err := dialer.DialContext(ctx, bridgeURL+"?session="+sessionID, nil)
		if err != nil {
			return nil, fmt.Errorf("dial whatsapp bridge: %w", err)
		}

		t := &wsTransport{conn: conn, events: make(chan BridgeEvent, 64)}
		go t.readLoop()
		return t, nil
	}
}

type wsTransport struct {
	conn   *websocket.Conn
	events chan BridgeEvent

	writeMu sync.Mutex
}

func (t *wsTransport) Events() <-chan BridgeEvent { return t.events }

func (t *wsTransport) readLoop() {
	defer close(t.events)
	for {
		_, payload, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		var ev BridgeEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			continue
		}
		t.events <- ev
	}
}

func (t *wsTransport) SendText(ctx context.Context, recipient, content string) error {
	payload, err := json.Marshal(map[string]string{
		"type":    "message",
		"to":      recipient,
		"content": content,
	})
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("bridge send: %w", err)
	}
	return nil
}

func (t *wsTransport) RequestQR() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"qr_refresh"}`))
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
