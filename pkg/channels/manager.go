// Package channels holds the outbound channel adapters and their registry.
// Each adapter turns a normalized outbound message into one provider API call;
// routing, retries and rate limits live above it.
package channels

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/caiodcamargo999/rarityleads-engine/pkg/apperr"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/bus"
)

// Adapter is one messaging channel.
type Adapter interface {
	Name() string
	// Send performs exactly one delivery attempt. The caller owns retries.
	Send(ctx context.Context, msg bus.OutboundMessage) (bus.Receipt, error)
	// Connected reports whether the channel can currently deliver.
	Connected() bool
	Start(ctx context.Context) error
	Stop() error
}

// Manager is the adapter registry keyed by channel name.
type Manager struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	log      zerolog.Logger
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		adapters: make(map[string]Adapter),
		log:      log.With().Str("component", "channels").Logger(),
	}
}

func (m *Manager) Register(a Adapter) {
	m.mu.Lock()
	m.adapters[a.Name()] = a
	m.mu.Unlock()
	m.log.Info().Str("channel", a.Name()).Msg("channel registered")
}

// Get resolves a channel by name.
func (m *Manager) Get(name string) (Adapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[name]
	if !ok {
		return nil, apperr.Newf(apperr.KindValidation, "unknown channel %q", name)
	}
	return a, nil
}

// Names lists registered channels in no particular order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.adapters))
	for name := range m.adapters {
		names = append(names, name)
	}
	return names
}

// Health reports per-channel connectivity.
func (m *Manager) Health() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.adapters))
	for name, a := range m.adapters {
		out[name] = a.Connected()
	}
	return out
}

func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, a := range m.adapters {
		if err := a.Start(ctx); err != nil {
			m.log.Error().Err(err).Str("channel", name).Msg("channel start failed")
			return err
		}
	}
	return nil
}

func (m *Manager) StopAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, a := range m.adapters {
		if err := a.Stop(); err != nil {
			m.log.Warn().Err(err).Str("channel", name).Msg("channel stop failed")
		}
	}
}
