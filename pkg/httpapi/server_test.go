package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caiodcamargo999/rarityleads-engine/pkg/apperr"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/bus"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/channels"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/config"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/enrich"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/logx"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/orchestrator"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/session"
)

type fakeAdapter struct{}

func (fakeAdapter) Name() string { return "whatsapp" }

func (fakeAdapter) Send(context.Context, bus.OutboundMessage) (bus.Receipt, error) {
	return bus.Receipt{ProviderID: "p-1", SentAt: time.Now()}, nil
}

func (fakeAdapter) Connected() bool             { return true }
func (fakeAdapter) Start(context.Context) error { return nil }
func (fakeAdapter) Stop() error                 { return nil }

type stubProvider struct{}

func (stubProvider) Name() string { return "clearbit" }

func (stubProvider) Fetch(context.Context, enrich.Request) (enrich.Partial, error) {
	return enrich.Partial{Company: &enrich.Company{Name: "Acme"}}, nil
}

type fakeSessions struct {
	created []string
}

func (f *fakeSessions) Create(_ context.Context, userID string) (session.Snapshot, error) {
	if strings.TrimSpace(userID) == "" {
		return session.Snapshot{}, apperr.New(apperr.KindValidation, "userId is required")
	}
	f.created = append(f.created, userID)
	return session.Snapshot{
		SessionID: "sess-1",
		UserID:    userID,
		Channel:   "whatsapp",
		State:     session.StateQRPending,
	}, nil
}

func (f *fakeSessions) QR(sessionID string) (session.QRInfo, error) {
	if sessionID != "sess-1" {
		return session.QRInfo{}, session.ErrUnknownSession
	}
	return session.QRInfo{SessionID: sessionID, State: session.StateQRReady, QRCode: "cGF5bG9hZA=="}, nil
}

func (f *fakeSessions) Disconnect(sessionID string) error {
	if sessionID != "sess-1" {
		return session.ErrUnknownSession
	}
	return nil
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.Queue.Workers = 1
	cfg.Queue.EnrichWorkers = 1

	ch := channels.NewManager(logx.Nop())
	ch.Register(fakeAdapter{})
	enricher := enrich.NewWithProviders([]enrich.Provider{stubProvider{}}, nil, nil, time.Hour, logx.Nop())
	inbound := bus.NewInboundBus()

	orch := orchestrator.New(cfg, ch, enricher, nil, noopNotifier{}, inbound, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	orch.Run(ctx)
	t.Cleanup(func() {
		cancel()
		inbound.Close()
		orch.Wait()
	})

	return NewServer(cfg, orch, &fakeSessions{}, nil, inbound, logx.Nop())
}

type noopNotifier struct{}

func (noopNotifier) Broadcast(string, any) {}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.RemoteAddr = "203.0.113.7:1234"
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestSendMessageEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/send-message",
		`{"channel":"whatsapp","recipient":"+5511999","content":"hello"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "jobId")

	rec = do(t, s, http.MethodPost, "/send-message",
		`{"channel":"telegram","recipient":"+1","content":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/send-message", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestBulkEndpointRejectsOversizedBatch(t *testing.T) {
	s := newTestServer(t, nil)

	var b strings.Builder
	b.WriteString(`{"messages":[`)
	for i := 0; i < 101; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"channel":"whatsapp","recipient":"+1","content":"x"}`)
	}
	b.WriteString(`]}`)

	rec := do(t, s, http.MethodPost, "/send-bulk-messages", b.String())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnrichEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/enrich-lead", `{"leadId":"l-1","domain":"acme.com"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/enrich-lead", `{"leadId":"l-2"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/enrich/batch",
		`{"leads":[{"domain":"acme.com"},{"companyName":"Beta"}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"queued":2`)
}

func TestQueueStatusAndHealth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/queue/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "whatsapp")
	assert.Contains(t, rec.Body.String(), "enrichment")

	rec = do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestDeadLettersEmptyWithoutStore(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/queue/dead-letters?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deadLetters":[]`)
}

func TestCancelUnknownJob(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, http.MethodDelete, "/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/sessions/create", `{"userId":"user-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "sess-1")

	rec = do(t, s, http.MethodPost, "/sessions/create", `{"userId":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/sessions/sess-1/qr", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "qrCode")

	rec = do(t, s, http.MethodGet, "/sessions/ghost/qr", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodDelete, "/sessions/sess-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodDelete, "/sessions/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInboundWebhook(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/webhooks/inbound",
		`{"channel":"whatsapp","from":"+31","content":"hi"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, s, http.MethodPost, "/webhooks/inbound", `{"content":"orphan"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit.Points = 2
	cfg.RateLimit.Window = time.Minute
	s := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		rec := do(t, s, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}
	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}
