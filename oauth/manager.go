// Package oauth implements the OAuth Token Manager: authorization-server
// discovery, the refresh-grant flow, preemptive refresh, and persistence of
// renewed tokens via the Secret Store. The refresh/preserve-refresh-token
// logic is grounded directly on the teacher's
// client/auth/transport/roundtripper.go refreshToken helper; discovery and
// the token manager's standalone Option-configured shape follow the same
// package's RoundTripper/New(options...) convention.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/mcpbridge/mcpbridge/registry"
	"github.com/mcpbridge/mcpbridge/secretstore"
)

// DefaultRefreshBuffer is how long before expiry a token is preemptively
// refreshed, per spec's refreshBufferSec default.
const DefaultRefreshBuffer = 60 * time.Second

// ErrReauthenticate is returned when a refresh attempt fails because the
// refresh token itself is invalid or expired; callers surface this as an
// AuthError with a re-authentication hint.
var ErrReauthenticate = fmt.Errorf("oauth: refresh token invalid or expired; run the re-authenticate command")

// discoveryPaths are tried in order against the server URL, then again
// against the origin root, per spec's discovery algorithm.
var discoveryPaths = []string{
	"/.well-known/oauth-authorization-server",
	"/.well-known/openid-configuration",
}

// ServerMetadata is the subset of discovery document fields the manager needs.
type ServerMetadata struct {
	Issuer        string `json:"issuer"`
	TokenEndpoint string `json:"token_endpoint"`
}

// PersistFunc is invoked after every successful refresh so the caller can
// update the non-secret auth-profile record (expiresAt, scopes, timestamps)
// atomically alongside the Secret Store write.
type PersistFunc func(profile *registry.AuthProfile)

// Manager keeps one server's tokens warm for the lifetime of a bridge
// process. It is not shared across servers with different URLs.
type Manager struct {
	httpClient *http.Client
	secrets    *secretstore.Store

	refreshBuffer time.Duration

	mu         sync.Mutex
	discovered map[string]*ServerMetadata // serverURL -> metadata, cached for process lifetime
	inflight   map[string]chan struct{}   // serverURL|profile -> coalescing gate
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithHTTPClient overrides the client used for discovery and refresh requests.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

// WithRefreshBuffer overrides the preemptive-refresh window.
func WithRefreshBuffer(d time.Duration) Option {
	return func(m *Manager) { m.refreshBuffer = d }
}

// New constructs a Manager backed by secrets.
func New(secrets *secretstore.Store, opts ...Option) *Manager {
	m := &Manager{
		httpClient:    http.DefaultClient,
		secrets:       secrets,
		refreshBuffer: DefaultRefreshBuffer,
		discovered:    map[string]*ServerMetadata{},
		inflight:      map[string]chan struct{}{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Discover resolves the token endpoint for serverURL, trying each
// well-known path against serverURL and then against its origin root, and
// caches the result for the manager's lifetime since an issuer's discovery
// document does not change during a bridge's run.
func (m *Manager) Discover(ctx context.Context, serverURL string) (*ServerMetadata, error) {
	m.mu.Lock()
	if cached, ok := m.discovered[serverURL]; ok {
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("oauth: parse server url: %w", err)
	}
	origin := &url.URL{Scheme: u.Scheme, Host: u.Host}

	bases := []string{strings.TrimSuffix(serverURL, "/"), strings.TrimSuffix(origin.String(), "/")}
	seen := map[string]bool{}
	for _, base := range bases {
		if seen[base] {
			continue
		}
		seen[base] = true
		for _, p := range discoveryPaths {
			meta, err := m.fetchMetadata(ctx, base+p)
			if err != nil {
				continue
			}
			m.mu.Lock()
			m.discovered[serverURL] = meta
			m.mu.Unlock()
			return meta, nil
		}
	}
	return nil, fmt.Errorf("oauth: no discovery document found for %s", serverURL)
}

func (m *Manager) fetchMetadata(ctx context.Context, docURL string) (*ServerMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oauth: discovery %s: status %d", docURL, resp.StatusCode)
	}
	var meta ServerMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("oauth: decode discovery document: %w", err)
	}
	if meta.TokenEndpoint == "" {
		return nil, fmt.Errorf("oauth: discovery document missing token_endpoint")
	}
	return &meta, nil
}

// Token returns a currently-valid access token for (serverURL, profile),
// refreshing it first if it is absent or within the refresh buffer of
// expiresAt (the non-secret value the caller reads off the auth-profile
// record — the Secret Store itself never holds expiry). A zero expiresAt
// means no expiry is known yet (first use) and is treated as due for
// refresh. Concurrent callers for the same (serverURL, profile) within one
// Manager share a single in-flight refresh.
func (m *Manager) Token(ctx context.Context, serverURL, profile string, expiresAt time.Time, persist PersistFunc) (string, error) {
	creds, ok, err := m.secrets.GetCredentials(serverURL, profile)
	if err != nil {
		return "", fmt.Errorf("oauth: load credentials: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("oauth: no credentials stored for profile %q", profile)
	}

	if creds.AccessToken != "" && !expiresAt.IsZero() && time.Until(expiresAt) > m.refreshBuffer {
		return creds.AccessToken, nil
	}

	return m.coalescedRefresh(ctx, serverURL, profile, creds, persist)
}

// coalescedRefresh ensures only one goroutine per (serverURL, profile)
// performs the actual refresh-grant round trip at a time; followers wait
// for the leader and then re-read the freshly persisted credentials,
// mirroring spec's "concurrent refresh attempts ... coalesced to one
// in-flight refresh".
func (m *Manager) coalescedRefresh(ctx context.Context, serverURL, profile string, cached *secretstore.Credentials, persist PersistFunc) (string, error) {
	key := serverURL + "|" + profile

	m.mu.Lock()
	if gate, ok := m.inflight[key]; ok {
		m.mu.Unlock()
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		creds, ok, err := m.secrets.GetCredentials(serverURL, profile)
		if err != nil || !ok {
			return "", fmt.Errorf("oauth: credentials missing after concurrent refresh")
		}
		return creds.AccessToken, nil
	}
	gate := make(chan struct{})
	m.inflight[key] = gate
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.inflight, key)
		m.mu.Unlock()
		close(gate)
	}()

	return m.refresh(ctx, serverURL, profile, cached, persist)
}

func (m *Manager) refresh(ctx context.Context, serverURL, profile string, cached *secretstore.Credentials, persist PersistFunc) (string, error) {
	if cached.RefreshToken == "" {
		return "", ErrReauthenticate
	}
	meta, err := m.Discover(ctx, serverURL)
	if err != nil {
		return "", fmt.Errorf("oauth: discovery failed during refresh: %w", err)
	}

	cfg := &oauth2.Config{
		ClientID:     cached.ClientID,
		ClientSecret: cached.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: meta.TokenEndpoint},
	}
	ctxWithClient := context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	ts := cfg.TokenSource(ctxWithClient, &oauth2.Token{RefreshToken: cached.RefreshToken})

	refreshed, err := ts.Token()
	if err != nil {
		var rErr *oauth2.RetrieveError
		if ok := asRetrieveError(err, &rErr); ok && (rErr.Response.StatusCode == http.StatusBadRequest || rErr.Response.StatusCode == http.StatusUnauthorized) {
			return "", ErrReauthenticate
		}
		return "", fmt.Errorf("oauth: refresh failed: %w", err)
	}

	refreshToken := refreshed.RefreshToken
	if refreshToken == "" {
		// Provider omitted a new refresh token: keep the one we already have,
		// the same preservation the teacher's refreshToken helper performs.
		refreshToken = cached.RefreshToken
	}

	scopeRaw, _ := refreshed.Extra("scope").(string)

	newCreds := secretstore.Credentials{
		AccessToken:  refreshed.AccessToken,
		RefreshToken: refreshToken,
		ClientID:     cached.ClientID,
		ClientSecret: cached.ClientSecret,
		TokenType:    refreshed.TokenType,
	}
	if err := m.secrets.SetCredentials(serverURL, profile, newCreds); err != nil {
		return "", fmt.Errorf("oauth: persist refreshed credentials: %w", err)
	}

	if persist != nil {
		var scopes []string
		if scopeRaw != "" {
			scopes = strings.Fields(scopeRaw)
		}
		persist(&registry.AuthProfile{
			Name:            profile,
			ServerURL:       serverURL,
			Scopes:          scopes,
			ExpiresAt:       refreshed.Expiry,
			AuthenticatedAt: time.Now(),
		})
	}

	return newCreds.AccessToken, nil
}

func asRetrieveError(err error, target **oauth2.RetrieveError) bool {
	re, ok := err.(*oauth2.RetrieveError)
	if !ok {
		return false
	}
	*target = re
	return true
}
