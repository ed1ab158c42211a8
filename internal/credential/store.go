package credential

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store persists credentials, settings, and a generic TTL cache in a
// SQLite database. The database file is chmod 0600 and its parent
// directory 0700: credentials are secrets.
type Store struct {
	db    *sql.DB
	clock Clock
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS credentials (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  provider TEXT NOT NULL,
  credential_type TEXT NOT NULL CHECK (credential_type IN ('api_key','oauth')),
  data TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credentials_provider ON credentials(provider);
CREATE TABLE IF NOT EXISTS settings (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cache (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  expires_at INTEGER NOT NULL
);
`

// OpenStore opens (creating if needed) the credential database at path.
func OpenStore(path string, clock Clock) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return nil, fmt.Errorf("chmod credential dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open credential db: %w", err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply credential schema: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		db.Close()
		return nil, fmt.Errorf("chmod credential db: %w", err)
	}
	return &Store{db: db, clock: clock}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// credentialData is the JSON blob in the data column.
type credentialData struct {
	Secret        string `json:"secret,omitempty"`
	Access        string `json:"access,omitempty"`
	Refresh       string `json:"refresh,omitempty"`
	ExpiresAtMs   int64  `json:"expires_at_ms,omitempty"`
	AccountID     string `json:"account_id,omitempty"`
	Email         string `json:"email,omitempty"`
	ProjectID     string `json:"project_id,omitempty"`
	EnterpriseURL string `json:"enterprise_url,omitempty"`
}

func encodeCredential(c Credential) (kind, data string, err error) {
	var payload credentialData
	switch c.Kind {
	case KindAPIKey:
		if c.APIKey == nil {
			return "", "", fmt.Errorf("api_key credential without secret")
		}
		payload.Secret = c.APIKey.Secret
	case KindOAuth:
		if c.OAuth == nil {
			return "", "", fmt.Errorf("oauth credential without tokens")
		}
		payload = credentialData{
			Access:        c.OAuth.Access,
			Refresh:       c.OAuth.Refresh,
			ExpiresAtMs:   c.OAuth.ExpiresAtMs,
			AccountID:     c.OAuth.AccountID,
			Email:         c.OAuth.Email,
			ProjectID:     c.OAuth.ProjectID,
			EnterpriseURL: c.OAuth.EnterpriseURL,
		}
	default:
		return "", "", fmt.Errorf("unknown credential kind %q", c.Kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}
	return string(c.Kind), string(raw), nil
}

func decodeCredential(id int64, provider, kind, data string) (Credential, error) {
	var payload credentialData
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return Credential{}, fmt.Errorf("decode credential %d: %w", id, err)
	}
	c := Credential{ID: id, Provider: provider, Kind: Kind(kind)}
	switch c.Kind {
	case KindAPIKey:
		c.APIKey = &APIKeyCredential{Secret: payload.Secret}
	case KindOAuth:
		c.OAuth = &OAuthCredential{
			Access:        payload.Access,
			Refresh:       payload.Refresh,
			ExpiresAtMs:   payload.ExpiresAtMs,
			AccountID:     payload.AccountID,
			Email:         payload.Email,
			ProjectID:     payload.ProjectID,
			EnterpriseURL: payload.EnterpriseURL,
		}
	default:
		return Credential{}, fmt.Errorf("unknown credential kind %q in row %d", kind, id)
	}
	return c, nil
}

// ReplaceCredentials deletes a provider's rows and inserts creds,
// returning them with their assigned row ids.
func (s *Store) ReplaceCredentials(provider string, creds []Credential) ([]Credential, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM credentials WHERE provider = ?`, provider); err != nil {
		return nil, fmt.Errorf("clear provider credentials: %w", err)
	}

	now := nowMs(s.clock)
	out := make([]Credential, 0, len(creds))
	for _, c := range creds {
		kind, data, err := encodeCredential(c)
		if err != nil {
			return nil, err
		}
		res, err := tx.Exec(
			`INSERT INTO credentials (provider, credential_type, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			provider, kind, data, now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert credential: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		c.ID = id
		c.Provider = provider
		out = append(out, c)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateCredential rewrites one row in place, used after OAuth refresh.
func (s *Store) UpdateCredential(c Credential) error {
	if c.ID == 0 {
		return fmt.Errorf("credential has no row id")
	}
	kind, data, err := encodeCredential(c)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE credentials SET credential_type = ?, data = ?, updated_at = ? WHERE id = ?`,
		kind, data, nowMs(s.clock), c.ID,
	)
	return err
}

// DeleteCredential removes one row, used when a refresh fails
// definitively.
func (s *Store) DeleteCredential(id int64) error {
	_, err := s.db.Exec(`DELETE FROM credentials WHERE id = ?`, id)
	return err
}

// LoadCredentials returns a provider's credentials in insertion order.
func (s *Store) LoadCredentials(provider string) ([]Credential, error) {
	rows, err := s.db.Query(
		`SELECT id, provider, credential_type, data FROM credentials WHERE provider = ? ORDER BY id`,
		provider,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		var (
			id               int64
			prov, kind, data string
		)
		if err := rows.Scan(&id, &prov, &kind, &data); err != nil {
			return nil, err
		}
		c, err := decodeCredential(id, prov, kind, data)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Providers lists every provider with at least one stored credential.
func (s *Store) Providers() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT provider FROM credentials ORDER BY provider`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetSetting writes a key-value setting.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetSetting reads a setting; ok is false when absent.
func (s *Store) GetSetting(key string) (value string, ok bool, err error) {
	err = s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// CachePut stores a cache entry expiring at the given epoch seconds.
func (s *Store) CachePut(key, value string, expiresAt int64) error {
	_, err := s.db.Exec(
		`INSERT INTO cache (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	return err
}

// CacheGet reads a cache entry, treating expired rows as absent and
// deleting them lazily.
func (s *Store) CacheGet(key string) (string, bool, error) {
	var (
		value     string
		expiresAt int64
	)
	err := s.db.QueryRow(`SELECT value, expires_at FROM cache WHERE key = ?`, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if expiresAt > 0 && expiresAt <= nowMs(s.clock)/1000 {
		_, _ = s.db.Exec(`DELETE FROM cache WHERE key = ?`, key)
		return "", false, nil
	}
	return value, true, nil
}

// PruneCache drops every expired cache row.
func (s *Store) PruneCache() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM cache WHERE expires_at > 0 AND expires_at <= ?`, nowMs(s.clock)/1000)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
