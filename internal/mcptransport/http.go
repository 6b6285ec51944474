package mcptransport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	// go-sse parses the Streamable HTTP SSE body; the reference repo's own
	// SSE transport is github.com/viant/jsonrpc/transport, but that client
	// abstraction owns its own request/response lifecycle end to end and
	// has no hook for this transport's session-id tracking, Last-Event-ID
	// resume, or AuthRetry-on-401 wrapping, so go-sse (the SSE library the
	// TangGee-go-mcp repo in the pack pulls in for the same wire format) is
	// used as the event scanner underneath that logic instead.
	"github.com/tmaxmax/go-sse"
)

// ErrSessionExpired is returned by Send when the server rejected the
// MCP-Session-Id with a 404 whose body matches the patterns spec.md
// assigns to session expiry. The bridge terminates on this error without
// retrying — there is no transport-level recovery from it.
type ErrSessionExpired struct {
	Detail string
}

func (e *ErrSessionExpired) Error() string {
	return fmt.Sprintf("mcptransport: session expired: %s", e.Detail)
}

var sessionExpiredPhrases = []string{
	"session not found",
	"not found",
	"session expired",
	"invalid session",
	"session is no longer valid",
}

// looksLikeSessionExpired applies spec's 404-body heuristic: any of the
// named phrases, or a 404 whose body never mentions "tool" (distinguishing
// a rejected MCP session from an ordinary unknown-tool 404).
func looksLikeSessionExpired(body string) bool {
	lower := strings.ToLower(body)
	if strings.Contains(lower, "session") {
		for _, p := range sessionExpiredPhrases {
			if strings.Contains(lower, p) {
				return true
			}
		}
	}
	return !strings.Contains(lower, "tool")
}

const (
	headerSessionID   = "MCP-Session-Id"
	headerLastEventID = "Last-Event-ID"
	contentTypeJSON   = "application/json"
	contentTypeSSE    = "text/event-stream"
)

// AuthRetry is called once when a POST or the SSE GET comes back 401/403.
// It should refresh credentials and return an error only if refresh itself
// failed; the caller retries the original request exactly once afterward.
// This mirrors the teacher's roundtripper.go probe-then-refresh-then-retry
// shape, lifted up one layer because the transport, not an http.RoundTripper,
// is what needs to distinguish a 401 from a genuine protocol error here.
type AuthRetry func(ctx context.Context) error

// HTTP implements Transport over MCP's Streamable HTTP binding: every
// outbound message is a POST to a single endpoint, whose response is either
// an immediate JSON body or an SSE stream of one or more messages; a
// long-lived GET on the same endpoint carries server-initiated pushes and
// resumes with Last-Event-ID after a drop.
type HTTP struct {
	client  *http.Client
	baseURL string
	log     *slog.Logger
	onAuth  AuthRetry

	mu              sync.Mutex
	sessionID       string
	protocolVersion string
	lastEventID     string
	extraHeaders    map[string]string

	incoming chan Frame
	readErr  chan error
	done     chan struct{}
	once     sync.Once
	closeErr error
}

// HTTPOption configures an HTTP transport at construction time.
type HTTPOption func(*HTTP)

// WithHTTPClient overrides the default http.Client, typically to install a
// RoundTripper that injects a bearer token from the OAuth manager.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithAuthRetry installs the callback invoked once on a 401/403 before the
// transport gives up and surfaces the error to the client core.
func WithAuthRetry(fn AuthRetry) HTTPOption {
	return func(h *HTTP) { h.onAuth = fn }
}

// WithHeader adds a static header (e.g. a proxy-scoped bearer token) sent on
// every request this transport issues.
func WithHeader(key, value string) HTTPOption {
	return func(h *HTTP) {
		if h.extraHeaders == nil {
			h.extraHeaders = map[string]string{}
		}
		h.extraHeaders[key] = value
	}
}

// NewHTTP constructs an HTTP transport against baseURL and starts its
// long-lived SSE listener goroutine for server-initiated pushes.
func NewHTTP(ctx context.Context, baseURL string, log *slog.Logger, opts ...HTTPOption) (*HTTP, error) {
	if log == nil {
		log = slog.Default()
	}
	h := &HTTP{
		client:   http.DefaultClient,
		baseURL:  baseURL,
		log:      log,
		incoming: make(chan Frame, 64),
		readErr:  make(chan error, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.listen(ctx)
	return h, nil
}

// SessionID returns the MCP-Session-Id assigned by the server on the first
// response that carried one, or "" if none has been assigned yet.
func (h *HTTP) SessionID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessionID
}

func (h *HTTP) setSessionID(id string) {
	if id == "" {
		return
	}
	h.mu.Lock()
	h.sessionID = id
	h.mu.Unlock()
}

// SetProtocolVersion records the protocol version negotiated at
// initialize, sent on every subsequent request as MCP-Protocol-Version.
func (h *HTTP) SetProtocolVersion(version string) {
	h.mu.Lock()
	h.protocolVersion = version
	h.mu.Unlock()
}

func (h *HTTP) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON+", "+contentTypeSSE)
	if sid := h.SessionID(); sid != "" {
		req.Header.Set(headerSessionID, sid)
	}
	h.mu.Lock()
	pv := h.protocolVersion
	h.mu.Unlock()
	if pv != "" {
		req.Header.Set("MCP-Protocol-Version", pv)
	}
	for k, v := range h.extraHeaders {
		req.Header.Set(k, v)
	}
}

// Send POSTs one JSON-RPC frame. If the immediate response is a JSON body
// (a synchronous reply to a request), it is delivered to the caller's next
// Recv via the incoming channel; if it is an SSE stream, each event is
// delivered the same way as it arrives.
func (h *HTTP) Send(ctx context.Context, frame Frame) error {
	err := h.post(ctx, frame)
	if err == nil {
		return nil
	}
	if isAuthError(err) && h.onAuth != nil {
		if rerr := h.onAuth(ctx); rerr != nil {
			return fmt.Errorf("mcptransport: auth retry failed: %w", rerr)
		}
		return h.post(ctx, frame)
	}
	return err
}

type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("http status %d", e.code) }

func isAuthError(err error) bool {
	se, ok := err.(*statusError)
	return ok && (se.code == http.StatusUnauthorized || se.code == http.StatusForbidden)
}

func (h *HTTP) post(ctx context.Context, frame Frame) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL, bytes.NewReader(frame.Data))
	if err != nil {
		return fmt.Errorf("mcptransport: build request: %w", err)
	}
	h.applyHeaders(req)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("mcptransport: post: %w", err)
	}
	defer resp.Body.Close()

	h.setSessionID(resp.Header.Get(headerSessionID))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &statusError{code: resp.StatusCode}
	}
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if looksLikeSessionExpired(string(body)) {
			return &ErrSessionExpired{Detail: string(body)}
		}
		return fmt.Errorf("mcptransport: post status 404: %s", string(body))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("mcptransport: post status %d: %s", resp.StatusCode, string(body))
	}

	ct := resp.Header.Get("Content-Type")
	switch {
	case stringsHasPrefix(ct, contentTypeSSE):
		return h.drainSSE(resp.Body)
	default:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("mcptransport: read body: %w", err)
		}
		if len(body) == 0 {
			return nil
		}
		return h.deliver(body)
	}
}

func (h *HTTP) drainSSE(body io.Reader) error {
	for ev, err := range sse.Read(body, nil) {
		if err != nil {
			return fmt.Errorf("mcptransport: sse read: %w", err)
		}
		if ev.LastEventID != "" {
			h.mu.Lock()
			h.lastEventID = ev.LastEventID
			h.mu.Unlock()
		}
		if string(ev.Type) != "" && string(ev.Type) != "message" {
			continue
		}
		if err := h.deliver([]byte(ev.Data)); err != nil {
			return err
		}
	}
	return nil
}

func (h *HTTP) deliver(data []byte) error {
	select {
	case h.incoming <- Frame{Data: data}:
		return nil
	case <-h.done:
		return ErrClosed
	}
}

// listen holds a long-lived GET open against baseURL for server-initiated
// notifications, resuming with Last-Event-ID after a disconnect. It is
// optional from the server's point of view: a server that rejects the GET
// with 405 simply never pushes unsolicited notifications, which is within
// spec for servers that only reply synchronously to POSTs.
func (h *HTTP) listen(ctx context.Context) {
	for {
		select {
		case <-h.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL, nil)
		if err != nil {
			h.log.Warn("mcp http listen: build request", "err", err)
			return
		}
		h.applyHeaders(req)
		req.Header.Set("Accept", contentTypeSSE)
		h.mu.Lock()
		leid := h.lastEventID
		h.mu.Unlock()
		if leid != "" {
			req.Header.Set(headerLastEventID, leid)
		}

		resp, err := h.client.Do(req)
		if err != nil {
			h.log.Debug("mcp http listen: connect failed", "err", err)
			return
		}
		if resp.StatusCode == http.StatusMethodNotAllowed {
			resp.Body.Close()
			return
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			h.log.Warn("mcp http listen: unexpected status", "status", resp.StatusCode)
			return
		}
		h.setSessionID(resp.Header.Get(headerSessionID))

		err = h.drainSSE(resp.Body)
		resp.Body.Close()
		if err != nil {
			select {
			case <-h.done:
				return
			default:
			}
			h.log.Info("mcp http listen: stream dropped, reconnecting", "err", err)
			continue
		}
		return
	}
}

// Recv returns the next frame delivered by either a POST response or the
// background SSE listener.
func (h *HTTP) Recv(ctx context.Context) (Frame, error) {
	select {
	case f := <-h.incoming:
		return f, nil
	case err := <-h.readErr:
		return Frame{}, err
	case <-h.done:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close terminates the session with a best-effort DELETE, per the
// Streamable HTTP binding's session-termination convention, then stops the
// background listener.
func (h *HTTP) Close() error {
	h.once.Do(func() {
		sid := h.SessionID()
		if sid != "" {
			req, err := http.NewRequest(http.MethodDelete, h.baseURL, nil)
			if err == nil {
				req.Header.Set(headerSessionID, sid)
				for k, v := range h.extraHeaders {
					req.Header.Set(k, v)
				}
				if resp, derr := h.client.Do(req); derr == nil {
					resp.Body.Close()
				}
			}
		}
		close(h.done)
	})
	return h.closeErr
}

func stringsHasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
