// Package creds reads OAuth credentials from the Antigravity credential
// store and refreshes expired access tokens.
//
// The store is the host application's state.vscdb: a SQLite file with a
// generic ItemTable(key, value) schema. The app writes either a single JSON
// blob or a set of discrete keys, depending on version; both layouts are
// supported.
package creds

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	tokenEndpoint = "https://oauth2.googleapis.com/token"

	// Public OAuth client id for the Gemini code-assist installed-app flow.
	// Not a secret.
	oauthClientID = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"

	// Credentials within this window of a known expiry are reloaded.
	expirySkew = 60 * time.Second

	// Layout 1: one JSON blob {name, apiKey, email} under a single key.
	authBlobKey = "antigravity.auth"

	httpTimeout = 10 * time.Second
)

// Discrete-key layout, probed under both naming conventions the host app
// has shipped (bare keys and namespaced keys).
var keyPrefixes = []string{"", "antigravity."}

var (
	ErrDatabaseNotFound    = errors.New("credential database not found")
	ErrCredentialsNotFound = errors.New("credentials not found in store")
)

// TokenRefreshError reports a non-200 response from the OAuth token endpoint.
type TokenRefreshError struct {
	Status int
	Body   string
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: HTTP %d: %s", e.Status, e.Body)
}

// Credentials is one complete set of stored OAuth material. AccessToken is
// always present; a zero ExpiresAt means the expiry is unknown and the token
// is never judged expired locally.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Email        string
	ProjectID    string
	ExpiresAt    time.Time
}

// Store reads credentials from disk and caches them in memory. All mutation
// goes through one mutex; callers never see a partially updated value.
type Store struct {
	paths    []string
	tokenURL string
	clientID string
	client   *http.Client
	now      func() time.Time

	mu     sync.Mutex
	cached *Credentials
}

// NewStore builds a reader over the default candidate database paths:
// the Antigravity app itself, then the two host-editor extension storage
// locations.
func NewStore() *Store {
	return &Store{
		paths:    defaultPaths(),
		tokenURL: tokenEndpoint,
		clientID: oauthClientID,
		client:   &http.Client{Timeout: httpTimeout},
		now:      time.Now,
	}
}

func defaultPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	support := filepath.Join(home, "Library", "Application Support")
	return []string{
		filepath.Join(support, "Antigravity", "User", "globalStorage", "state.vscdb"),
		filepath.Join(support, "Code", "User", "globalStorage", "state.vscdb"),
		filepath.Join(support, "Windsurf", "User", "globalStorage", "state.vscdb"),
	}
}

// HasCredentials reports whether any candidate store file exists. It does
// not validate contents.
func (s *Store) HasCredentials() bool {
	_, err := s.storePath()
	return err == nil
}

// Invalidate drops the in-memory cache. The next Credentials call reloads
// from disk.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Credentials returns cached credentials when they are not within 60 seconds
// of a known expiry; otherwise it reloads from the store. Loaded credentials
// with a known, passed expiry and a non-empty refresh token are refreshed;
// anything else is returned as-is, even if technically expired — the store
// frequently carries no expiry and leaves token lifecycle to the host app.
func (s *Store) Credentials(ctx context.Context) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.fresh(*s.cached) {
		return *s.cached, nil
	}

	loaded, err := s.load(ctx)
	if err != nil {
		return Credentials{}, err
	}

	if !loaded.ExpiresAt.IsZero() && !s.now().Before(loaded.ExpiresAt) && loaded.RefreshToken != "" {
		refreshed, err := s.refreshToken(ctx, loaded)
		if err != nil {
			return Credentials{}, err
		}
		s.cached = &refreshed
		return refreshed, nil
	}

	s.cached = &loaded
	return loaded, nil
}

func (s *Store) fresh(c Credentials) bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return s.now().Add(expirySkew).Before(c.ExpiresAt)
}

func (s *Store) storePath() (string, error) {
	for _, p := range s.paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", ErrDatabaseNotFound
}

func (s *Store) load(ctx context.Context) (Credentials, error) {
	path, err := s.storePath()
	if err != nil {
		return Credentials{}, err
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return Credentials{}, fmt.Errorf("open credential store: %w", err)
	}
	defer db.Close()

	if c, ok, err := readAuthBlob(ctx, db); err != nil {
		return Credentials{}, err
	} else if ok {
		return c, nil
	}

	for _, prefix := range keyPrefixes {
		c, ok, err := readDiscreteKeys(ctx, db, prefix)
		if err != nil {
			return Credentials{}, err
		}
		if ok {
			return c, nil
		}
	}

	return Credentials{}, ErrCredentialsNotFound
}

// readAuthBlob handles the preferred layout: a single JSON value holding
// {name, apiKey, email}. The apiKey is the access token; this layout carries
// no refresh token and no expiry.
func readAuthBlob(ctx context.Context, db *sql.DB) (Credentials, bool, error) {
	raw, ok, err := itemValue(ctx, db, authBlobKey)
	if err != nil || !ok {
		return Credentials{}, false, err
	}

	var blob struct {
		Name   string `json:"name"`
		APIKey string `json:"apiKey"`
		Email  string `json:"email"`
	}
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		return Credentials{}, false, nil
	}
	if blob.APIKey == "" || blob.Email == "" {
		return Credentials{}, false, nil
	}
	return Credentials{AccessToken: blob.APIKey, Email: blob.Email}, true, nil
}

func readDiscreteKeys(ctx context.Context, db *sql.DB, prefix string) (Credentials, bool, error) {
	get := func(name string) (string, error) {
		v, _, err := itemValue(ctx, db, prefix+name)
		return v, err
	}

	access, err := get("accessToken")
	if err != nil {
		return Credentials{}, false, err
	}
	email, err := get("userEmail")
	if err != nil {
		return Credentials{}, false, err
	}
	if access == "" || email == "" {
		return Credentials{}, false, nil
	}

	refresh, err := get("refreshToken")
	if err != nil {
		return Credentials{}, false, err
	}
	project, err := get("projectId")
	if err != nil {
		return Credentials{}, false, err
	}
	expiry, err := get("tokenExpiry")
	if err != nil {
		return Credentials{}, false, err
	}

	return Credentials{
		AccessToken:  access,
		RefreshToken: refresh,
		Email:        email,
		ProjectID:    project,
		ExpiresAt:    parseExpiry(expiry),
	}, true, nil
}

func itemValue(ctx context.Context, db *sql.DB, key string) (string, bool, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM ItemTable WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read credential store: %w", err)
	}
	return value, true, nil
}

// parseExpiry accepts RFC 3339 or unix milliseconds; anything else means
// "unknown".
func parseExpiry(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}

// refreshToken exchanges the refresh token for a new access token. The
// endpoint does not echo the email back, so the previous value is carried
// over.
func (s *Store) refreshToken(ctx context.Context, cur Credentials) (Credentials, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {cur.RefreshToken},
		"client_id":     {s.clientID},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return Credentials{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Credentials{}, fmt.Errorf("token refresh: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Credentials{}, &TokenRefreshError{Status: resp.StatusCode, Body: string(body)}
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		TokenType   string `json:"token_type"`
		Scope       string `json:"scope"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return Credentials{}, fmt.Errorf("token refresh: parse response: %w", err)
	}
	if tok.AccessToken == "" {
		return Credentials{}, &TokenRefreshError{Status: resp.StatusCode, Body: string(body)}
	}

	email := cur.Email
	if email == "" {
		email = "unknown"
	}

	return Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: cur.RefreshToken,
		Email:        email,
		ProjectID:    cur.ProjectID,
		ExpiresAt:    s.now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}, nil
}
