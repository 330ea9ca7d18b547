// Package authsession owns the single optional authentication credential of
// a running client.
package authsession

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

const sessionFile = "session.json"

// Manager exchanges credentials with the remote collaborator and persists
// the resulting AuthSession durably across process restarts. Token and
// identity are always stored and cleared together.
type Manager struct {
	baseURL string
	client  *http.Client
	path    string

	mu      sync.Mutex
	current *models.AuthSession
}

// NewManager creates a manager persisting under stateDir. A previously
// persisted session is restored if present; a corrupt state file is
// discarded rather than failing startup.
func NewManager(baseURL string, timeout time.Duration, stateDir string) (*Manager, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("authsession: create state dir: %w", err)
	}

	m := &Manager{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		path:    filepath.Join(stateDir, sessionFile),
	}

	if data, err := os.ReadFile(m.path); err == nil {
		var s models.AuthSession
		if json.Unmarshal(data, &s) == nil && s.Token != "" && s.Identity != "" {
			m.current = &s
		}
	}
	return m, nil
}

// Login exchanges identity and secret for a bearer token at the token
// endpoint (form-encoded) and persists the resulting session.
func (m *Manager) Login(ctx context.Context, identity, secret string) error {
	form := url.Values{}
	form.Set("username", identity)
	form.Set("password", secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("authsession: login: %w: %v", apperr.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authsession: login: %w", apperr.ErrAuthRejected)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.AccessToken == "" {
		return fmt.Errorf("authsession: login: %w: malformed token response", apperr.ErrAuthRejected)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = &models.AuthSession{Token: body.AccessToken, Identity: identity}
	return m.persistLocked()
}

// Register creates a new account at the registration endpoint (JSON). The
// session is not established; callers log in afterwards.
func (m *Manager) Register(ctx context.Context, name, identity, secret string) error {
	payload, _ := json.Marshal(map[string]string{
		"username": name,
		"email":    identity,
		"password": secret,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/register", strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("authsession: register: %w: %v", apperr.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var body struct {
		Detail string `json:"detail"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Detail == "" {
		body.Detail = resp.Status
	}
	return fmt.Errorf("authsession: register: %w: %s", apperr.ErrRegistrationRejected, body.Detail)
}

// Logout clears the current session and removes its persisted state.
func (m *Manager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("authsession: remove state: %w", err)
	}
	return nil
}

// Current returns the active session, if any.
func (m *Manager) Current() (models.AuthSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return models.AuthSession{}, false
	}
	return *m.current, true
}

// Credential returns the bearer token if a session is active. It satisfies
// notestore.CredentialSource.
func (m *Manager) Credential() (string, bool) {
	s, ok := m.Current()
	return s.Token, ok
}

// persistLocked atomically writes the current session: tmp → rename.
func (m *Manager) persistLocked() error {
	data, err := json.Marshal(m.current)
	if err != nil {
		return fmt.Errorf("authsession: marshal session: %w", err)
	}

	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("authsession: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("authsession: write temp: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("authsession: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("authsession: close temp: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		return fmt.Errorf("authsession: rename: %w", err)
	}
	success = true
	return nil
}
