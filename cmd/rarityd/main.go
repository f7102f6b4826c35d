// rarityd is the message orchestration engine: multi-channel outbound
// messaging with per-channel queues, WhatsApp session management and the lead
// enrichment pipeline, fronted by a REST+WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/caiodcamargo999/rarityleads-engine/pkg/bus"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/channels"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/config"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/enrich"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/httpapi"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/logx"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/notify"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/orchestrator"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/session"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "rarityd:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logx.New(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.SQLitePath == "" {
		return errors.New("SQLITE_PATH is required")
	}
	st, err := store.Open(cfg.SQLitePath, log)
	if err != nil {
		return err
	}
	defer st.Close()

	var relay notify.Relay = notify.NopRelay{}
	if cfg.AMQPURL != "" {
		amqpRelay, err := notify.NewAMQPRelay(ctx, cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			return err
		}
		relay = amqpRelay
	}
	hub := notify.NewHub(relay, log)
	defer hub.Close()

	inbound := bus.NewInboundBus()
	defer inbound.Close()

	box, err := credentialBox(cfg, log)
	if err != nil {
		return err
	}
	sessions := session.NewManager(
		session.WebSocketDialer(cfg.WhatsAppBridge),
		st, hub, inbound, box, cfg.QRRefreshPeriod, log,
	)
	defer sessions.Shutdown()

	ch := channels.NewManager(log)
	ch.Register(channels.NewWhatsAppAdapter(sessions))
	ch.Register(channels.NewHTTPAdapter("instagram", cfg.Channels.Instagram))
	ch.Register(channels.NewHTTPAdapter("facebook", cfg.Channels.Facebook))
	ch.Register(channels.NewHTTPAdapter("linkedin", cfg.Channels.LinkedIn))
	ch.Register(channels.NewHTTPAdapter("x", cfg.Channels.X))
	if err := ch.StartAll(ctx); err != nil {
		return err
	}
	defer ch.StopAll()

	enricher := enrich.New(cfg.Enrich, st.EnrichmentCache(), st, log)

	orch := orchestrator.New(cfg, ch, enricher, st, hub, inbound, log)
	orch.Run(ctx)

	api := httpapi.NewServer(cfg, orch, sessions, http.HandlerFunc(hub.ServeWS), inbound, log)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("engine listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	orch.Wait()
	return nil
}

func credentialBox(cfg *config.Config, log zerolog.Logger) (*session.CredentialBox, error) {
	if cfg.SessionKey != "" {
		return session.NewCredentialBox(cfg.SessionKey)
	}
	log.Warn().Msg("SESSION_ENC_KEY not set, using an ephemeral key; stored credentials will not survive a restart")
	return session.NewRandomCredentialBox()
}
