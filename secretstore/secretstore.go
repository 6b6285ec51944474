// Package secretstore is the thin typed facade over the OS-native keychain
// that the rest of the bridge uses for every value that must never touch a
// disk file: OAuth credential triples, per-session HTTP headers, and a
// session's proxy bearer token. Its namespacing generalizes the teacher's
// Store interface (client.auth.store.Store, keyed by TokenKey{Issuer,
// Scopes}) from a single "token" concern to the three namespaces the
// session-bridge spec assigns it, backed by github.com/zalando/go-keyring
// instead of the teacher's in-memory/file Store, since persisting secret
// material in a plain file is exactly what this component exists to avoid.
package secretstore

import (
	"encoding/json"
	"fmt"

	"github.com/zalando/go-keyring"
)

// service is the keyring "service" namespace every key in this process is
// stored under, keeping the bridge's secrets out of other applications'
// keychain entries.
const service = "mcpbridge"

// Credentials is the OAuth credential triple stored per (serverURL, profile).
type Credentials struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	TokenType    string `json:"tokenType,omitempty"`
}

// Store is the secret-store facade. It holds no secret material itself
// beyond the duration of a single Get/Set call.
type Store struct{}

// New constructs a Store. It carries no state; every method talks directly
// to the OS keychain.
func New() *Store { return &Store{} }

func credentialsKey(serverURL, profile string) string {
	return fmt.Sprintf("auth:%s:%s", serverURL, profile)
}

func headersKey(sessionName string) string {
	return fmt.Sprintf("session:%s:headers", sessionName)
}

func proxyBearerKey(sessionName string) string {
	return fmt.Sprintf("session:%s:proxy-bearer", sessionName)
}

// GetCredentials returns the stored OAuth credentials for a profile, or
// ok=false if none are stored yet.
func (s *Store) GetCredentials(serverURL, profile string) (*Credentials, bool, error) {
	var creds Credentials
	ok, err := s.getJSON(credentialsKey(serverURL, profile), &creds)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &creds, true, nil
}

// SetCredentials stores (overwriting) the OAuth credentials for a profile.
func (s *Store) SetCredentials(serverURL, profile string, creds Credentials) error {
	return s.setJSON(credentialsKey(serverURL, profile), creds)
}

// DeleteCredentials removes a profile's credentials. Deleting an absent
// entry is not an error.
func (s *Store) DeleteCredentials(serverURL, profile string) error {
	return s.delete(credentialsKey(serverURL, profile))
}

// GetHeaders returns the per-session HTTP headers configured for a
// session, or ok=false if none were configured.
func (s *Store) GetHeaders(sessionName string) (map[string]string, bool, error) {
	var headers map[string]string
	ok, err := s.getJSON(headersKey(sessionName), &headers)
	if !ok || err != nil {
		return nil, ok, err
	}
	return headers, true, nil
}

// SetHeaders stores the per-session HTTP headers.
func (s *Store) SetHeaders(sessionName string, headers map[string]string) error {
	return s.setJSON(headersKey(sessionName), headers)
}

// DeleteHeaders removes a session's stored headers.
func (s *Store) DeleteHeaders(sessionName string) error {
	return s.delete(headersKey(sessionName))
}

// GetProxyBearer returns the bearer token the proxy server for this
// session requires callers to present.
func (s *Store) GetProxyBearer(sessionName string) (string, bool, error) {
	v, err := keyring.Get(service, proxyBearerKey(sessionName))
	if err != nil {
		if err == keyring.ErrNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("secretstore: get proxy bearer: %w", err)
	}
	return v, true, nil
}

// SetProxyBearer stores the bearer token a session's proxy requires.
func (s *Store) SetProxyBearer(sessionName, token string) error {
	if err := keyring.Set(service, proxyBearerKey(sessionName), token); err != nil {
		return fmt.Errorf("secretstore: set proxy bearer: %w", err)
	}
	return nil
}

// DeleteProxyBearer removes a session's proxy bearer token.
func (s *Store) DeleteProxyBearer(sessionName string) error {
	return s.delete(proxyBearerKey(sessionName))
}

// DeleteSession removes every secret namespaced under sessionName; called
// by close/clean so no stray keychain entry survives a removed session.
func (s *Store) DeleteSession(sessionName string) error {
	if err := s.DeleteHeaders(sessionName); err != nil {
		return err
	}
	return s.DeleteProxyBearer(sessionName)
}

func (s *Store) getJSON(key string, out any) (bool, error) {
	v, err := keyring.Get(service, key)
	if err != nil {
		if err == keyring.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("secretstore: get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(v), out); err != nil {
		return false, fmt.Errorf("secretstore: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("secretstore: encode %s: %w", key, err)
	}
	if err := keyring.Set(service, key, string(data)); err != nil {
		return fmt.Errorf("secretstore: set %s: %w", key, err)
	}
	return nil
}

func (s *Store) delete(key string) error {
	if err := keyring.Delete(service, key); err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("secretstore: delete %s: %w", key, err)
	}
	return nil
}
