// Package store is the SQLite-backed status datastore: job status records and
// dead letters, inbound message log, session state, encrypted credentials,
// enrichment profiles and the enrichment cache.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Store struct {
	db  *sql.DB
	log zerolog.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

// Open opens (creating if needed) the SQLite database at path and applies
// migrations.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	s := &Store{db: db, log: log.With().Str("component", "store").Logger(), pruneEvery: 500}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not open")
	}
	return s.db.PingContext(ctx)
}

// JobRecord is one job status row. Terminal states stay in the table as the
// archive (dead letters are rows with state failed_dead).
type JobRecord struct {
	JobID     string
	MessageID string
	Kind      string
	Channel   string
	State     string
	Attempts  int
	LastError string
	UpdatedAt time.Time
}

func (s *Store) RecordJob(ctx context.Context, r JobRecord) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(job_id, message_id, kind, channel, state, attempts, last_error, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(job_id) DO UPDATE SET
		   state=excluded.state, attempts=excluded.attempts,
		   last_error=excluded.last_error, updated_at=excluded.updated_at`,
		r.JobID, r.MessageID, r.Kind, r.Channel, r.State, r.Attempts,
		nullStr(r.LastError), r.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// DeadLetters returns jobs in state failed_dead, newest first.
func (s *Store) DeadLetters(ctx context.Context, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, message_id, kind, channel, state, attempts, COALESCE(last_error,''), updated_at
		 FROM jobs WHERE state = 'failed_dead' ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		var r JobRecord
		var at string
		if err := rows.Scan(&r.JobID, &r.MessageID, &r.Kind, &r.Channel, &r.State, &r.Attempts, &r.LastError, &at); err != nil {
			return nil, err
		}
		r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SaveInbound(ctx context.Context, channel, from, content, sessionID string, receivedAt time.Time) error {
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages_inbound(channel, sender, content, session_id, received_at) VALUES(?,?,?,?,?)`,
		channel, from, content, sessionID, receivedAt.Format(time.RFC3339Nano),
	)
	return err
}

// SessionRecord mirrors one channel session's externally visible state.
type SessionRecord struct {
	SessionID     string
	UserID        string
	Channel       string
	State         string
	PhoneOrHandle string
	UpdatedAt     time.Time
}

func (s *Store) SaveSessionStatus(ctx context.Context, r SessionRecord) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, user_id, channel, state, phone, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   state=excluded.state, phone=excluded.phone, updated_at=excluded.updated_at`,
		r.SessionID, r.UserID, r.Channel, r.State, r.PhoneOrHandle,
		r.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_credentials WHERE session_id = ?`, sessionID)
	return err
}

// SaveCredentials stores AEAD-sealed auth material. The nonce is persisted
// per record so decryption binds to it.
func (s *Store) SaveCredentials(ctx context.Context, sessionID string, nonce, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_credentials(session_id, nonce, blob, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   nonce=excluded.nonce, blob=excluded.blob, updated_at=excluded.updated_at`,
		sessionID, nonce, blob, time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) LoadCredentials(ctx context.Context, sessionID string) (nonce, blob []byte, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT nonce, blob FROM session_credentials WHERE session_id = ?`, sessionID,
	).Scan(&nonce, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	return nonce, blob, true, nil
}

func (s *Store) SaveProfile(ctx context.Context, leadKey string, payload []byte, aiScore int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_profiles(lead_key, payload, ai_score, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(lead_key) DO UPDATE SET
		   payload=excluded.payload, ai_score=excluded.ai_score, updated_at=excluded.updated_at`,
		leadKey, string(payload), aiScore, time.Now().Format(time.RFC3339Nano),
	)
	return err
}

// CachePut replaces the cache entry for key wholesale. Entries are never
// patched in place.
func (s *Store) CachePut(ctx context.Context, key string, payload []byte, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_cache(cache_key, payload, expires_at) VALUES(?,?,?)
		 ON CONFLICT(cache_key) DO UPDATE SET
		   payload=excluded.payload, expires_at=excluded.expires_at`,
		key, string(payload), expiresAt.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *Store) CacheGet(ctx context.Context, key string) ([]byte, bool, error) {
	var payload string
	var expires int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM enrichment_cache WHERE cache_key = ?`, key,
	).Scan(&payload, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if time.Now().UnixMilli() >= expires {
		return nil, false, nil
	}
	return []byte(payload), true, nil
}

// EnrichmentCache exposes the cache rows under the Get/Put contract the
// enrichment aggregator consumes.
func (s *Store) EnrichmentCache() *EnrichmentCache {
	return &EnrichmentCache{s: s}
}

type EnrichmentCache struct {
	s *Store
}

func (c *EnrichmentCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return c.s.CacheGet(ctx, key)
}

func (c *EnrichmentCache) Put(ctx context.Context, key string, payload []byte, expiresAt time.Time) error {
	return c.s.CachePut(ctx, key, payload, expiresAt)
}

func (s *Store) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM enrichment_cache WHERE expires_at < ?`, time.Now().UnixMilli())
	return err
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
