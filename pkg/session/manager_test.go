package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caiodcamargo999/rarityleads-engine/pkg/bus"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/logx"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/store"
)

type fakeTransport struct {
	events chan BridgeEvent

	mu         sync.Mutex
	sent       []string
	qrRequests int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan BridgeEvent, 16)}
}

func (f *fakeTransport) Events() <-chan BridgeEvent { return f.events }

func (f *fakeTransport) SendText(_ context.Context, recipient, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, recipient+":"+content)
	return nil
}

func (f *fakeTransport) RequestQR() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qrRequests++
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) push(ev BridgeEvent) { f.events <- ev }

func (f *fakeTransport) drop() { close(f.events) }

type memoryStatusStore struct {
	mu       sync.Mutex
	statuses []string
	creds    map[string][]byte
	deleted  []string
}

func newMemoryStatusStore() *memoryStatusStore {
	return &memoryStatusStore{creds: make(map[string][]byte)}
}

func (m *memoryStatusStore) SaveSessionStatus(_ context.Context, r store.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, r.State)
	return nil
}

func (m *memoryStatusStore) SaveCredentials(_ context.Context, sessionID string, nonce, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[sessionID] = append(append([]byte{}, nonce...), blob...)
	return nil
}

func (m *memoryStatusStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, sessionID)
	m.deleted = append(m.deleted, sessionID)
	return nil
}

func (m *memoryStatusStore) states() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.statuses...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Broadcast(event string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func newTestManager(t *testing.T, dial Dialer) (*Manager, *memoryStatusStore, *recordingNotifier, *bus.InboundBus) {
	t.Helper()
	box, err := NewRandomCredentialBox()
	require.NoError(t, err)
	st := newMemoryStatusStore()
	notifier := &recordingNotifier{}
	inbound := bus.NewInboundBus()
	m := NewManager(dial, st, notifier, inbound, box, 30*time.Second, logx.Nop())
	m.redialIn = 10 * time.Millisecond
	t.Cleanup(func() {
		m.Shutdown()
		inbound.Close()
	})
	return m, st, notifier, inbound
}

func waitForState(t *testing.T, m *Manager, id string, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, err := m.Snapshot(id)
		return err == nil && snap.State == want
	}, 2*time.Second, 5*time.Millisecond, "never reached state %s", want)
}

func TestPairingToConnected(t *testing.T) {
	ft := newFakeTransport()
	m, st, _, inbound := newTestManager(t, func(context.Context, string) (Transport, error) {
		return ft, nil
	})

	snap, err := m.Create(context.Background(), "user-1")
	require.NoError(t, err)

	ft.push(BridgeEvent{Type: "qr", QR: "pairing-payload"})
	waitForState(t, m, snap.SessionID, StateQRReady)

	info, err := m.QR(snap.SessionID)
	require.NoError(t, err)
	assert.NotEmpty(t, info.QRCode)

	ft.push(BridgeEvent{Type: "scanned"})
	waitForState(t, m, snap.SessionID, StateConnecting)

	ft.push(BridgeEvent{Type: "connected", Phone: "+5511999", Credentials: []byte("auth-state")})
	waitForState(t, m, snap.SessionID, StateConnected)

	got, err := m.Snapshot(snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "+5511999", got.PhoneOrHandle)
	assert.True(t, m.HasConnected())
	st.mu.Lock()
	_, sealed := st.creds[snap.SessionID]
	st.mu.Unlock()
	assert.True(t, sealed, "credentials must be persisted on connect")

	receipt, err := m.Send(context.Background(), "+4477", "hello")
	require.NoError(t, err)
	assert.Equal(t, snap.SessionID, receipt.ProviderID)
	ft.mu.Lock()
	assert.Equal(t, []string{"+4477:hello"}, ft.sent)
	ft.mu.Unlock()

	// One persisted status per transition, in order.
	assert.Equal(t, []string{"qr_pending", "qr_ready", "connecting", "connected"}, st.states())

	ft.push(BridgeEvent{Type: "message", From: "+4477", Content: "hi back"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, ok := inbound.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "whatsapp", env.Channel)
	assert.Equal(t, "hi back", env.Content)
	assert.Equal(t, snap.SessionID, env.SessionID)
}

func TestExpiredQRIsInvalidated(t *testing.T) {
	ft := newFakeTransport()
	m, _, _, _ := newTestManager(t, func(context.Context, string) (Transport, error) {
		return ft, nil
	})
	m.qrTTL = 30 * time.Millisecond

	snap, err := m.Create(context.Background(), "user-1")
	require.NoError(t, err)

	ft.push(BridgeEvent{Type: "qr", QR: "first"})
	waitForState(t, m, snap.SessionID, StateQRReady)
	waitForState(t, m, snap.SessionID, StateQRPending)

	info, err := m.QR(snap.SessionID)
	require.NoError(t, err)
	assert.Empty(t, info.QRCode, "expired code must not be served")

	// A scan of the expired code is ignored.
	ft.push(BridgeEvent{Type: "scanned"})
	time.Sleep(50 * time.Millisecond)
	got, err := m.Snapshot(snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StateQRPending, got.State)

	ft.mu.Lock()
	refreshes := ft.qrRequests
	ft.mu.Unlock()
	assert.GreaterOrEqual(t, refreshes, 1, "expiry requests a fresh code from the bridge")
}

func TestLogoutIsTerminalAndPurges(t *testing.T) {
	ft := newFakeTransport()
	m, st, _, _ := newTestManager(t, func(context.Context, string) (Transport, error) {
		return ft, nil
	})

	snap, err := m.Create(context.Background(), "user-1")
	require.NoError(t, err)
	ft.push(BridgeEvent{Type: "qr", QR: "x"})
	ft.push(BridgeEvent{Type: "scanned"})
	ft.push(BridgeEvent{Type: "connected", Credentials: []byte("auth")})
	waitForState(t, m, snap.SessionID, StateConnected)

	ft.push(BridgeEvent{Type: "disconnected", LoggedOut: true})
	waitForState(t, m, snap.SessionID, StateLoggedOut)

	st.mu.Lock()
	deleted := append([]string{}, st.deleted...)
	st.mu.Unlock()
	assert.Equal(t, []string{snap.SessionID}, deleted)

	_, err = m.Send(context.Background(), "+1", "x")
	require.Error(t, err)

	// A fresh session can be created for the same user.
	again, err := m.Create(context.Background(), "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, snap.SessionID, again.SessionID)
}

func TestReconnectAfterTransportDrop(t *testing.T) {
	first := newFakeTransport()
	second := newFakeTransport()
	dials := 0
	var mu sync.Mutex
	m, _, _, _ := newTestManager(t, func(context.Context, string) (Transport, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	})

	snap, err := m.Create(context.Background(), "user-1")
	require.NoError(t, err)
	first.push(BridgeEvent{Type: "qr", QR: "x"})
	first.push(BridgeEvent{Type: "scanned"})
	first.push(BridgeEvent{Type: "connected"})
	waitForState(t, m, snap.SessionID, StateConnected)

	first.drop()
	waitForState(t, m, snap.SessionID, StateReconnecting)

	// The bridge re-authenticates from stored credentials on the new socket.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dials >= 2
	}, 2*time.Second, 5*time.Millisecond)
	second.push(BridgeEvent{Type: "connected", Phone: "+55"})
	waitForState(t, m, snap.SessionID, StateConnected)
}

func TestDropBeforePairingIsError(t *testing.T) {
	ft := newFakeTransport()
	m, _, _, _ := newTestManager(t, func(context.Context, string) (Transport, error) {
		return ft, nil
	})
	snap, err := m.Create(context.Background(), "user-1")
	require.NoError(t, err)

	ft.push(BridgeEvent{Type: "qr", QR: "x"})
	waitForState(t, m, snap.SessionID, StateQRReady)
	ft.drop()
	waitForState(t, m, snap.SessionID, StateError)
}

func TestCreateIsIdempotentPerUser(t *testing.T) {
	ft := newFakeTransport()
	m, _, _, _ := newTestManager(t, func(context.Context, string) (Transport, error) {
		return ft, nil
	})

	a, err := m.Create(context.Background(), "user-1")
	require.NoError(t, err)
	b, err := m.Create(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, a.SessionID, b.SessionID)

	_, err = m.Create(context.Background(), " ")
	require.Error(t, err)
}

func TestDisconnectUnknownSession(t *testing.T) {
	m, _, _, _ := newTestManager(t, func(context.Context, string) (Transport, error) {
		return newFakeTransport(), nil
	})
	assert.ErrorIs(t, m.Disconnect("nope"), ErrUnknownSession)
	_, err := m.QR("nope")
	assert.ErrorIs(t, err, ErrUnknownSession)
}
