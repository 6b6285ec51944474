// Package config defines the session-level configuration options the CLI
// collects and the bridge consumes, tagged for both the YAML session
// descriptor and go-flags' struct-tag CLI surface, following the dual
// yaml/go-flags tagging the teacher's ServerOptions uses throughout
// server.go.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport selects which MCP transport a session's bridge terminates.
type Transport struct {
	Type string `yaml:"type" json:"type" long:"type" choice:"http" choice:"stdio" description:"transport kind for this session"`

	// HTTP fields
	URL     string            `yaml:"url,omitempty" json:"url,omitempty" long:"url" description:"MCP server URL (http transport)"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// stdio fields
	Command string   `yaml:"command,omitempty" json:"command,omitempty" long:"command" description:"child process to spawn (stdio transport)"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`
	Env     []string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Proxy describes an optional local proxy listener for a session.
type Proxy struct {
	Host   string `yaml:"host,omitempty" json:"host,omitempty" long:"proxy-host" default:"127.0.0.1"`
	Port   int    `yaml:"port" json:"port" long:"proxy" description:"bind the proxy server on this port"`
	Bearer string `yaml:"-" json:"-" long:"proxy-bearer" description:"bearer token the proxy requires (stored in the secret store, never persisted)"`
}

// Session is the full set of recognized configuration options on a
// session, per spec's §6 list, with every timing knob exposed in
// milliseconds/seconds the way the spec names them.
type Session struct {
	Name        string    `yaml:"name" json:"name" long:"name" required:"true" description:"session name, alphanumerics and '-'"`
	Transport   Transport `yaml:"transport" json:"transport"`
	ProfileName string    `yaml:"profileName,omitempty" json:"profileName,omitempty" long:"profile" description:"OAuth profile name to authenticate with"`
	Proxy       *Proxy    `yaml:"proxy,omitempty" json:"proxy,omitempty"`

	TTLMs            int `yaml:"ttlMs,omitempty" json:"ttlMs,omitempty" long:"cache-ttl-ms" default:"300000" description:"list cache TTL in milliseconds"`
	TimeoutMs        int `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty" long:"timeout-ms" default:"30000" description:"IPC call timeout in milliseconds"`
	RefreshBufferSec int `yaml:"refreshBufferSec,omitempty" json:"refreshBufferSec,omitempty" long:"refresh-buffer-sec" default:"60" description:"OAuth preemptive-refresh window in seconds"`
	LockTimeoutMs    int `yaml:"lockTimeoutMs,omitempty" json:"lockTimeoutMs,omitempty" long:"lock-timeout-ms" default:"5000" description:"registry file lock retry budget in milliseconds"`

	MetricsAddr string `yaml:"metricsAddr,omitempty" json:"metricsAddr,omitempty" long:"metrics-addr" description:"optional loopback address to serve /metrics on"`
}

// TTL returns the cache TTL as a time.Duration, defaulting when unset.
func (s *Session) TTL() time.Duration {
	if s.TTLMs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.TTLMs) * time.Millisecond
}

// Timeout returns the IPC call timeout as a time.Duration, defaulting when unset.
func (s *Session) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// RefreshBuffer returns the OAuth preemptive-refresh window, defaulting when unset.
func (s *Session) RefreshBuffer() time.Duration {
	if s.RefreshBufferSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.RefreshBufferSec) * time.Second
}

// LockTimeout returns the registry lock retry budget, defaulting when unset.
func (s *Session) LockTimeout() time.Duration {
	if s.LockTimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.LockTimeoutMs) * time.Millisecond
}

// Paths groups the well-known filesystem locations the bridge subsystem
// reads and writes, all rooted under one home directory.
type Paths struct {
	Home string
}

// SessionsFile is the path to the session registry JSON file.
func (p Paths) SessionsFile() string { return p.Home + "/sessions.json" }

// AuthProfilesFile is the path to the auth profile registry JSON file.
func (p Paths) AuthProfilesFile() string { return p.Home + "/auth-profiles.json" }

// LogDir is where Bridge Manager redirects a spawned bridge's stdout/stderr.
func (p Paths) LogDir() string { return p.Home + "/logs" }

// SocketDir is where bridge Unix-domain sockets are created.
func (p Paths) SocketDir() string { return p.Home + "/sockets" }

// LogPath returns the log file path for a named session's bridge.
func (p Paths) LogPath(name string) string { return p.LogDir() + "/" + name + ".log" }

// SocketPath returns the IPC socket path for a named session's bridge.
func (p Paths) SocketPath(name string) string { return p.SocketDir() + "/" + name + ".sock" }

// DescriptorDir is where a session's non-secret YAML descriptor lives,
// written once by `connect` and read by the bridge daemon on every spawn
// (including respawns, so the transport descriptor always survives a
// bridge crash without the CLI needing to resend it).
func (p Paths) DescriptorDir() string { return p.Home + "/descriptors" }

// DescriptorPath returns the descriptor file path for a named session.
func (p Paths) DescriptorPath(name string) string { return p.DescriptorDir() + "/" + name + ".yaml" }

// SaveSessionDescriptor writes sess's non-secret fields to its descriptor
// file. Headers and the proxy bearer are never included here — callers
// must route those through the secret store before calling this.
func SaveSessionDescriptor(paths Paths, sess *Session) error {
	if err := os.MkdirAll(paths.DescriptorDir(), 0o700); err != nil {
		return fmt.Errorf("config: create descriptor dir: %w", err)
	}
	// Headers are cleared on the copy that is written; Proxy.Bearer is
	// already excluded by its yaml:"-" tag.
	cp := *sess
	cp.Transport.Headers = nil
	data, err := yaml.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("config: marshal descriptor: %w", err)
	}
	path := paths.DescriptorPath(sess.Name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("config: write descriptor: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadSessionDescriptor reads back a session's descriptor file.
func LoadSessionDescriptor(paths Paths, name string) (*Session, error) {
	data, err := os.ReadFile(paths.DescriptorPath(name))
	if err != nil {
		return nil, fmt.Errorf("config: read descriptor: %w", err)
	}
	var sess Session
	if err := yaml.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("config: decode descriptor: %w", err)
	}
	return &sess, nil
}
