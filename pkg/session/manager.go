package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caiodcamargo999/rarityleads-engine/pkg/apperr"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/bus"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/store"
)

const (
	channelName        = "whatsapp"
	reconnectBaseDelay = 2 * time.Second
	reconnectMaxDelay  = 60 * time.Second
	persistTimeout     = 5 * time.Second
)

// ErrUnknownSession is returned for session IDs the registry has never seen.
var ErrUnknownSession = errors.New("unknown session")

var errDisconnected = errors.New("session disconnected")

// StatusStore is the slice of the datastore the manager persists through.
type StatusStore interface {
	SaveSessionStatus(ctx context.Context, r store.SessionRecord) error
	SaveCredentials(ctx context.Context, sessionID string, nonce, blob []byte) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// Notifier pushes session lifecycle events to connected frontends.
type Notifier interface {
	Broadcast(event string, data any)
}

type cmdKind int

const cmdDisconnect cmdKind = iota

type command struct {
	kind cmdKind
}

// Session is one WhatsApp pairing. The run loop is the only writer of its
// mutable fields; everything else reads under mu.
type Session struct {
	id     string
	userID string

	mu            sync.RWMutex
	state         State
	phone         string
	qrPayload     string
	qrGen         int
	transport     Transport
	everConnected bool

	cmds   chan command
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *Session) currentState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		SessionID:     s.id,
		UserID:        s.userID,
		Channel:       channelName,
		State:         s.state,
		PhoneOrHandle: s.phone,
	}
}

func (s *Session) setQR(payload string) {
	s.mu.Lock()
	s.qrPayload = payload
	s.qrGen++
	s.mu.Unlock()
}

func (s *Session) setTransport(t Transport) {
	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()
}

func (s *Session) currentTransport() Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transport
}

// Manager is the registry of WhatsApp sessions, at most one live session per
// user.
type Manager struct {
	dial     Dialer
	store    StatusStore
	notifier Notifier
	inbound  bus.Publisher
	box      *CredentialBox
	qrTTL    time.Duration
	redialIn time.Duration
	log      zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]string
}

func NewManager(dial Dialer, st StatusStore, notifier Notifier, inbound bus.Publisher, box *CredentialBox, qrTTL time.Duration, log zerolog.Logger) *Manager {
	if qrTTL <= 0 {
		qrTTL = 30 * time.Second
	}
	return &Manager{
		dial:     dial,
		store:    st,
		notifier: notifier,
		inbound:  inbound,
		box:      box,
		qrTTL:    qrTTL,
		redialIn: reconnectBaseDelay,
		log:      log.With().Str("component", "session").Logger(),
		sessions: make(map[string]*Session),
		byUser:   make(map[string]string),
	}
}

// Create starts a session for the user, or returns the existing live one.
func (m *Manager) Create(ctx context.Context, userID string) (Snapshot, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Snapshot{}, apperr.New(apperr.KindValidation, "userId is required")
	}

	m.mu.Lock()
	if id, ok := m.byUser[userID]; ok {
		if existing := m.sessions[id]; existing != nil && !existing.currentState().Terminal() {
			m.mu.Unlock()
			return existing.snapshot(), nil
		}
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     uuid.NewString(),
		userID: userID,
		state:  StateUninitialized,
		cmds:   make(chan command, 1),
		done:   make(chan struct{}),
		ctx:    sctx,
		cancel: cancel,
	}
	m.sessions[s.id] = s
	m.byUser[userID] = s.id
	m.mu.Unlock()

	go m.run(s)
	return s.snapshot(), nil
}

// QRInfo is what the QR endpoint serves.
type QRInfo struct {
	SessionID string `json:"sessionId"`
	State     State  `json:"state"`
	QRCode    string `json:"qrCode,omitempty"` // base64 PNG
	// Generation increments on every refresh or invalidation, so clients can
	// tell a re-issued code from the one they already rendered.
	Generation int `json:"generation"`
}

// QR returns the current pairing code for the session. Only a qr_ready
// session carries an image; stale codes are never served.
func (m *Manager) QR(sessionID string) (QRInfo, error) {
	s := m.get(sessionID)
	if s == nil {
		return QRInfo{}, ErrUnknownSession
	}

	s.mu.RLock()
	state, payload, gen := s.state, s.qrPayload, s.qrGen
	s.mu.RUnlock()

	info := QRInfo{SessionID: sessionID, State: state, Generation: gen}
	if state == StateQRReady && payload != "" {
		png, err := renderQR(payload)
		if err != nil {
			return QRInfo{}, apperr.Wrap(apperr.KindInternal, "render qr", err)
		}
		info.QRCode = png
	}
	return info, nil
}

// Snapshot returns the current view of one session.
func (m *Manager) Snapshot(sessionID string) (Snapshot, error) {
	s := m.get(sessionID)
	if s == nil {
		return Snapshot{}, ErrUnknownSession
	}
	return s.snapshot(), nil
}

// Disconnect logs the session out and purges its credentials. Idempotent.
func (m *Manager) Disconnect(sessionID string) error {
	s := m.get(sessionID)
	if s == nil {
		return ErrUnknownSession
	}
	select {
	case s.cmds <- command{kind: cmdDisconnect}:
	case <-s.done:
	}
	return nil
}

// Send delivers one message through any connected session.
func (m *Manager) Send(ctx context.Context, recipient, content string) (bus.Receipt, error) {
	s := m.anyConnected()
	if s == nil {
		return bus.Receipt{}, apperr.New(apperr.KindSessionUnavailable, "no connected whatsapp session")
	}
	t := s.currentTransport()
	if t == nil || s.currentState() != StateConnected {
		return bus.Receipt{}, apperr.New(apperr.KindSessionUnavailable, "no connected whatsapp session")
	}
	if err := t.SendText(ctx, recipient, content); err != nil {
		return bus.Receipt{}, apperr.Wrap(apperr.KindUpstream, "whatsapp send", err)
	}
	return bus.Receipt{ProviderID: s.id, SentAt: time.Now()}, nil
}

// HasConnected reports whether at least one session can send.
func (m *Manager) HasConnected() bool {
	return m.anyConnected() != nil
}

// Shutdown stops every session loop without logging anyone out.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		s.cancel()
	}
}

func (m *Manager) get(sessionID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

func (m *Manager) anyConnected() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.currentState() == StateConnected {
			return s
		}
	}
	return nil
}

// run owns all state mutation for one session.
func (m *Manager) run(s *Session) {
	defer close(s.done)
	log := m.log.With().Str("session_id", s.id).Str("user_id", s.userID).Logger()

	m.transition(s, StateQRPending)

	t, err := m.dial(s.ctx, s.id)
	if err != nil {
		log.Error().Err(err).Msg("bridge dial failed")
		m.transition(s, StateError)
		return
	}
	s.setTransport(t)

	qrTimer := time.NewTimer(m.qrTTL)
	qrTimer.Stop()
	defer qrTimer.Stop()

	events := t.Events()
	reconnectAttempts := 0

	for {
		select {
		case <-s.ctx.Done():
			_ = t.Close()
			return

		case cmd := <-s.cmds:
			if cmd.kind == cmdDisconnect {
				m.transition(s, StateLoggedOut)
				m.purge(s)
				_ = t.Close()
				return
			}

		case <-qrTimer.C:
			// Code expired unscanned; drop it and wait for a fresh one so a
			// stale scan can never complete pairing.
			if s.currentState() != StateQRReady {
				continue
			}
			s.setQR("")
			m.transition(s, StateQRPending)
			if err := t.RequestQR(); err != nil {
				log.Warn().Err(err).Msg("qr refresh request failed")
			}

		case ev, ok := <-events:
			if !ok {
				if !s.everConnectedOnce() {
					log.Error().Msg("bridge dropped before pairing completed")
					m.transition(s, StateError)
					return
				}
				m.transition(s, StateReconnecting)
				t2, err := m.redial(s, &reconnectAttempts, log)
				if err != nil {
					if errors.Is(err, errDisconnected) {
						_ = t.Close()
						return
					}
					m.transition(s, StateError)
					return
				}
				t = t2
				events = t.Events()
				s.setTransport(t)
				continue
			}

			switch ev.Type {
			case "qr":
				s.setQR(ev.QR)
				qrTimer.Reset(m.qrTTL)
				m.transition(s, StateQRReady)

			case "scanned":
				if s.currentState() != StateQRReady {
					continue // stale scan
				}
				qrTimer.Stop()
				s.setQR("")
				m.transition(s, StateConnecting)

			case "connected":
				s.mu.Lock()
				s.phone = ev.Phone
				s.everConnected = true
				s.mu.Unlock()
				reconnectAttempts = 0
				m.transition(s, StateConnected)
				if len(ev.Credentials) > 0 {
					m.sealCredentials(s, ev.Credentials, log)
				}

			case "disconnected":
				if ev.LoggedOut {
					m.transition(s, StateLoggedOut)
					m.purge(s)
					_ = t.Close()
					return
				}
				// Transient drop: the bridge will close the socket next; the
				// events-closed path drives the reconnect.
				_ = t.Close()

			case "message":
				if s.currentState() != StateConnected {
					continue
				}
				ts := ev.Timestamp
				if ts.IsZero() {
					ts = time.Now()
				}
				delivered := m.inbound.PublishInbound(bus.InboundEnvelope{
					Channel:   channelName,
					From:      ev.From,
					Content:   ev.Content,
					Timestamp: ts,
					SessionID: s.id,
				})
				if !delivered {
					log.Warn().Str("from", ev.From).Msg("inbound bus full, message dropped")
				}
			}
		}
	}
}

// redial reconnects with exponential backoff, forever, until the session is
// cancelled or explicitly disconnected.
func (m *Manager) redial(s *Session, attempts *int, log zerolog.Logger) (Transport, error) {
	for {
		delay := m.redialIn << *attempts
		if delay > reconnectMaxDelay || delay <= 0 {
			delay = reconnectMaxDelay
		}
		*attempts++

		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return nil, s.ctx.Err()
		case cmd := <-s.cmds:
			timer.Stop()
			if cmd.kind == cmdDisconnect {
				m.transition(s, StateLoggedOut)
				m.purge(s)
				return nil, errDisconnected
			}
		case <-timer.C:
		}

		t, err := m.dial(s.ctx, s.id)
		if err != nil {
			log.Warn().Err(err).Int("attempt", *attempts).Msg("bridge redial failed")
			continue
		}
		log.Info().Int("attempt", *attempts).Msg("bridge reconnected")
		return t, nil
	}
}

func (s *Session) everConnectedOnce() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.everConnected
}

// transition moves the session to a new state, persisting and broadcasting
// exactly once per change. No-op for same-state or out of a terminal state.
func (m *Manager) transition(s *Session, to State) {
	s.mu.Lock()
	from := s.state
	if from == to || from.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	err := m.store.SaveSessionStatus(ctx, store.SessionRecord{
		SessionID:     s.id,
		UserID:        s.userID,
		Channel:       channelName,
		State:         string(to),
		PhoneOrHandle: s.snapshot().PhoneOrHandle,
	})
	cancel()
	if err != nil {
		m.log.Error().Err(err).Str("session_id", s.id).Msg("persist session status")
	}

	m.notifier.Broadcast("session_status", s.snapshot())
	m.log.Info().
		Str("session_id", s.id).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("session state changed")
}

func (m *Manager) sealCredentials(s *Session, creds []byte, log zerolog.Logger) {
	nonce, blob, err := m.box.Seal(creds)
	if err != nil {
		log.Error().Err(err).Msg("seal credentials")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.store.SaveCredentials(ctx, s.id, nonce, blob); err != nil {
		log.Error().Err(err).Msg("persist credentials")
	}
}

func (m *Manager) purge(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.store.DeleteSession(ctx, s.id); err != nil {
		m.log.Error().Err(err).Str("session_id", s.id).Msg("purge session")
	}
	m.mu.Lock()
	if m.byUser[s.userID] == s.id {
		delete(m.byUser, s.userID)
	}
	m.mu.Unlock()
}
