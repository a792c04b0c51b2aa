package auth

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/99designs/keyring"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// EnvToken is the environment override checked before any store.
const EnvToken = "PRACTICE_AUTH_TOKEN"

const keyringKey = "practice-access-token"

// Session is one row of the auth_sessions table maintained by the desktop
// login flow.
type Session struct {
	SessionID    string         `db:"session_id"`
	AccessToken  string         `db:"access_token"`
	RefreshToken sql.NullString `db:"refresh_token"`
	ExpiresAt    sql.NullTime   `db:"expires_at"`
	UserID       sql.NullString `db:"user_id"`
	UserName     sql.NullString `db:"user_name"`
	CreatedAt    time.Time      `db:"created_at"`
}

// Manager resolves the active token from the env override, the system
// keyring, and the session database, in that order.
type Manager struct {
	db          *sqlx.DB
	keyringName string
	now         func() time.Time
	logger      *log.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the expiry clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager opens the session database at dbPath. A missing database is not
// an error: the env override and keyring still work without it.
func NewManager(dbPath, keyringName string, opts ...Option) (*Manager, error) {
	m := &Manager{
		keyringName: keyringName,
		now:         time.Now,
		logger:      log.New(log.Writer(), "[AUTH] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(m)
	}

	if dbPath != "" {
		if _, err := os.Stat(dbPath); err == nil {
			db, err := sqlx.Open("sqlite", dbPath)
			if err != nil {
				return nil, fmt.Errorf("opening auth database: %w", err)
			}
			m.db = db
		} else {
			m.logger.Printf("⚠️ auth database not found at %s, relying on env/keyring", dbPath)
		}
	}
	return m, nil
}

// NewManagerFromDB wraps an already-open database, for tests.
func NewManagerFromDB(db *sqlx.DB, opts ...Option) *Manager {
	m := &Manager{
		db:     db,
		now:    time.Now,
		logger: log.New(log.Writer(), "[AUTH] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Close releases the session database handle.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// ActiveToken implements Provider.
func (m *Manager) ActiveToken() (*Token, error) {
	if v := os.Getenv(EnvToken); v != "" {
		m.logger.Printf("using access token from environment override")
		return &Token{Value: v, Source: SourceEnv}, nil
	}

	if tok := m.fromKeyring(); tok != nil {
		m.logger.Printf("using access token from system keyring")
		return tok, nil
	}

	return m.fromStore()
}

func (m *Manager) fromKeyring() *Token {
	if m.keyringName == "" {
		return nil
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: m.keyringName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/nlagent/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("nlagent-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil
	}
	item, err := ring.Get(keyringKey)
	if err != nil || len(item.Data) == 0 {
		return nil
	}
	return &Token{Value: string(item.Data), Source: SourceKeyring}
}

// fromStore returns the most recent live session, preferring non-expired
// rows. An expired-only store yields ErrExpired so the caller can surface
// auth-expired rather than auth-missing.
func (m *Manager) fromStore() (*Token, error) {
	if m.db == nil {
		return nil, ErrMissing
	}

	var s Session
	err := m.db.Get(&s, `
		SELECT session_id, access_token, refresh_token, expires_at, user_id, user_name, created_at
		FROM auth_sessions
		WHERE expires_at IS NULL OR expires_at > ?
		ORDER BY created_at DESC
		LIMIT 1`, m.now().UTC())
	if err == nil {
		return s.token(), nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("querying auth sessions: %w", err)
	}

	err = m.db.Get(&s, `
		SELECT session_id, access_token, refresh_token, expires_at, user_id, user_name, created_at
		FROM auth_sessions
		ORDER BY created_at DESC
		LIMIT 1`)
	if err == sql.ErrNoRows {
		return nil, ErrMissing
	}
	if err != nil {
		return nil, fmt.Errorf("querying auth sessions: %w", err)
	}
	m.logger.Printf("⚠️ most recent session for %s is expired", s.UserName.String)
	return nil, ErrExpired
}

// Sessions lists all stored sessions newest-first, for the status surface.
// Token values are blanked before return.
func (m *Manager) Sessions() ([]Session, error) {
	if m.db == nil {
		return nil, nil
	}
	var out []Session
	err := m.db.Select(&out, `
		SELECT session_id, access_token, refresh_token, expires_at, user_id, user_name, created_at
		FROM auth_sessions
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing auth sessions: %w", err)
	}
	for i := range out {
		out[i].AccessToken = ""
		out[i].RefreshToken = sql.NullString{}
	}
	return out, nil
}

func (s *Session) token() *Token {
	tok := &Token{Value: s.AccessToken, Owner: s.UserName.String, Source: SourceStore}
	if s.ExpiresAt.Valid {
		tok.ExpiresAt = s.ExpiresAt.Time
	}
	return tok
}
