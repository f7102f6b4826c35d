// Package session owns the WhatsApp channel sessions: one connection state
// machine per user session, QR pairing, encrypted credential persistence and
// the reconnect policy. All mutation of a session happens on its own event
// loop goroutine.
package session

// State is the connection state of one channel session.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateQRPending     State = "qr_pending"
	StateQRReady       State = "qr_ready"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateReconnecting  State = "reconnecting"
	StateLoggedOut     State = "logged_out"
	StateError         State = "error"
)

// Terminal reports whether the state has no outgoing transitions.
func (s State) Terminal() bool {
	return s == StateLoggedOut || s == StateError
}

// Snapshot is the externally visible view of a session.
type Snapshot struct {
	SessionID     string `json:"sessionId"`
	UserID        string `json:"userId"`
	Channel       string `json:"channel"`
	State         State  `json:"state"`
	PhoneOrHandle string `json:"phoneOrHandle,omitempty"`
}
