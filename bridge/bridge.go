// Package bridge implements the Bridge Daemon: the long-lived,
// per-session process that terminates one MCP transport, owns one client
// core and one list cache, and serves IPC calls from short-lived CLI
// invocations over a Unix-domain socket. Its startup sequence, state
// machine, and shutdown discipline are the core engineering spec.md calls
// out; the IPC dispatch loop is grounded on the teacher's own
// clientImplementer proxy (bridge/service.go in the example pack) adapted
// from forwarding to a downstream client.Interface to forwarding from a
// socket listener instead.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcpbridge/mcpbridge/cache"
	"github.com/mcpbridge/mcpbridge/clierr"
	"github.com/mcpbridge/mcpbridge/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcpbridge/mcpbridge/internal/jsonrpc"
	"github.com/mcpbridge/mcpbridge/internal/mcpclient"
	"github.com/mcpbridge/mcpbridge/internal/mcpschema"
	"github.com/mcpbridge/mcpbridge/internal/mcptransport"
	"github.com/mcpbridge/mcpbridge/ipc"
	"github.com/mcpbridge/mcpbridge/metrics"
	"github.com/mcpbridge/mcpbridge/oauth"
	"github.com/mcpbridge/mcpbridge/proxy"
	"github.com/mcpbridge/mcpbridge/registry"
	"github.com/mcpbridge/mcpbridge/secretstore"
)

const clientName = "mcpbridge"

// Version is the bridge binary's reported client version, set by the main
// package at link time in a real build; kept as a plain constant here.
const Version = "0.1.0"

// Bridge owns one MCP session end to end: transport, client core, cache,
// registry bookkeeping, and the IPC socket short-lived CLIs talk to.
type Bridge struct {
	name  string
	paths config.Paths
	log   *slog.Logger

	reg      *registry.Registry
	profs    *registry.AuthProfileStore
	secrets  *secretstore.Store
	oauthMgr *oauth.Manager
	metrics  *metrics.Registry

	transport mcptransport.Transport
	client    *mcpclient.Client
	cache     *cache.Cache

	sess config.Session

	state      *stateMachine
	listener   net.Listener
	proxySrv   *proxy.Server
	metricsSrv *http.Server

	outstanding atomic.Int64
	shutdownCh  chan struct{}
	closeOnce   sync.Once
}

// New runs the bridge's startup sequence: constructs the transport and
// client core from sess, performs the initialize handshake, and records
// the session as live in the registry. It does not yet bind the IPC
// socket or serve requests — call Run for that.
func New(ctx context.Context, sess config.Session, paths config.Paths, log *slog.Logger) (*Bridge, error) {
	if log == nil {
		log = slog.Default()
	}

	b := &Bridge{
		name:       sess.Name,
		paths:      paths,
		log:        log,
		reg:        registry.New(paths.SessionsFile(), sess.LockTimeout()),
		profs:      registry.NewAuthProfileStore(paths.AuthProfilesFile(), sess.LockTimeout()),
		secrets:    secretstore.New(),
		metrics:    metrics.New(),
		cache:      cache.New(sess.TTL()),
		sess:       sess,
		state:      newStateMachine(),
		shutdownCh: make(chan struct{}),
	}
	b.oauthMgr = oauth.New(b.secrets, oauth.WithRefreshBuffer(sess.RefreshBuffer()))

	transport, err := b.buildTransport(ctx)
	if err != nil {
		b.state.set(StateStopping)
		return nil, fmt.Errorf("bridge: build transport: %w", err)
	}
	b.transport = transport

	b.client = mcpclient.New(transport, mcpschema.Implementation{Name: clientName, Version: Version},
		mcpclient.WithLogger(log),
		mcpclient.WithNotificationHandler(b.onNotification),
	)

	if err := b.client.Connect(ctx); err != nil {
		b.state.set(StateStopping)
		_ = b.transport.Close()
		return nil, fmt.Errorf("bridge: initialize handshake: %w", err)
	}
	b.state.set(StateReady)

	if ht, ok := transport.(*mcptransport.HTTP); ok {
		ht.SetProtocolVersion(b.client.ProtocolVersion())
	}

	pid := os.Getpid()
	socketPath := paths.SocketPath(sess.Name)
	rec := &registry.Session{
		Name:            sess.Name,
		Transport:       toRegistryTransport(sess.Transport),
		ProfileName:     sess.ProfileName,
		McpSessionID:    transport.SessionID(),
		ProtocolVersion: b.client.ProtocolVersion(),
		PID:             pid,
		SocketPath:      socketPath,
		Status:          registry.StatusLive,
		BridgeLogPath:   paths.LogPath(sess.Name),
		MetricsAddr:     sess.MetricsAddr,
	}
	if sess.Proxy != nil && sess.Proxy.Port != 0 {
		rec.ProxyConfig = &registry.ProxyConfig{Host: sess.Proxy.Host, Port: sess.Proxy.Port}
	}
	if err := b.reg.Save(rec); err != nil {
		return nil, fmt.Errorf("bridge: write registry: %w", err)
	}

	if sess.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(b.metrics.Gatherer(), promhttp.HandlerOpts{}))
		b.metricsSrv = &http.Server{Addr: sess.MetricsAddr, Handler: mux}
		go func() {
			if err := b.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				b.log.Warn("bridge: metrics listener stopped", "err", err)
			}
		}()
	}

	if sess.Proxy != nil && sess.Proxy.Port != 0 {
		bearer, _, err := b.secrets.GetProxyBearer(sess.Name)
		if err != nil {
			return nil, fmt.Errorf("bridge: load proxy bearer: %w", err)
		}
		addr := fmt.Sprintf("%s:%d", sess.Proxy.Host, sess.Proxy.Port)
		b.proxySrv = proxy.New(addr, b, bearer, b.metrics.Gatherer(), log)
		go func() {
			if err := b.proxySrv.ListenAndServe(); err != nil {
				b.log.Warn("bridge: proxy server stopped", "err", err)
			}
		}()
	}

	return b, nil
}

func toRegistryTransport(t config.Transport) registry.Transport {
	switch t.Type {
	case "stdio":
		return registry.Transport{Kind: registry.TransportStdio, Command: t.Command, Args: t.Args, Env: t.Env}
	default:
		return registry.Transport{Kind: registry.TransportHTTP, URL: t.URL, Headers: clierr.RedactHeaders(t.Headers), TimeoutMs: 30000}
	}
}

func (b *Bridge) buildTransport(ctx context.Context) (mcptransport.Transport, error) {
	switch b.sess.Transport.Type {
	case "stdio":
		return mcptransport.NewStdio(ctx, append([]string{b.sess.Transport.Command}, b.sess.Transport.Args...), b.sess.Transport.Env, b.log)
	case "http":
		return b.buildHTTPTransport(ctx)
	default:
		return nil, fmt.Errorf("bridge: unknown transport type %q", b.sess.Transport.Type)
	}
}

// buildHTTPTransport wires the OAuth Token Manager into the transport's
// AuthRetry hook: a 401/403 triggers exactly one synchronous refresh, then
// the transport retries the original request itself, per spec's
// "Authentication errors ... trigger a single synchronous token refresh
// ... then one retry".
func (b *Bridge) buildHTTPTransport(ctx context.Context) (mcptransport.Transport, error) {
	var opts []mcptransport.HTTPOption
	for k, v := range b.sess.Transport.Headers {
		opts = append(opts, mcptransport.WithHeader(k, v))
	}

	if b.sess.ProfileName != "" {
		bearer := &atomic.Value{}
		opts = append(opts, mcptransport.WithAuthRetry(func(ctx context.Context) error {
			b.state.set(StateRefreshingAuth)
			defer b.state.set(StateReady)

			profile, _ := b.profs.Get(b.sess.Transport.URL, b.sess.ProfileName)
			var expiresAt time.Time
			if profile != nil {
				expiresAt = profile.ExpiresAt
			}
			token, err := b.oauthMgr.Token(ctx, b.sess.Transport.URL, b.sess.ProfileName, expiresAt, func(p *registry.AuthProfile) {
				_ = b.profs.Save(p)
			})
			if err != nil {
				return clierr.New(clierr.KindAuth, "%s", clierr.AuthHint)
			}
			bearer.Store(token)
			return nil
		}))
		httpClient := &http.Client{Transport: &bearerTransport{bearer: bearer, base: http.DefaultTransport}}
		opts = append(opts, mcptransport.WithHTTPClient(httpClient))
	}

	return mcptransport.NewHTTP(ctx, b.sess.Transport.URL, b.log, opts...)
}

// bearerTransport injects whatever token is currently stored, refreshed
// out-of-band by the AuthRetry hook above. Until the first refresh stores a
// token, requests go out with no Authorization header.
type bearerTransport struct {
	bearer *atomic.Value
	base   http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if v := t.bearer.Load(); v != nil {
		req.Header.Set("Authorization", "Bearer "+v.(string))
	}
	return t.base.RoundTrip(req)
}

// Run binds the IPC socket and serves connections until Shutdown is
// called, a session-expired signal arrives, or ctx is done. It implements
// startup steps 4-5: exclusive socket bind, then the main accept loop.
func (b *Bridge) Run(ctx context.Context) error {
	socketPath := b.paths.SocketPath(b.name)
	if err := os.MkdirAll(b.paths.SocketDir(), 0o700); err != nil {
		return fmt.Errorf("bridge: create socket dir: %w", err)
	}

	listener, err := bindExclusive(socketPath)
	if err != nil {
		return fmt.Errorf("bridge: bind socket: %w", err)
	}
	b.listener = listener
	defer os.Remove(socketPath)

	go func() {
		<-ctx.Done()
		b.Shutdown()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-b.shutdownCh:
				return nil
			default:
			}
			if b.state.get() == StateExpired || b.state.get() == StateStopping {
				return nil
			}
			b.log.Warn("bridge: accept failed", "err", err)
			continue
		}
		b.outstanding.Add(1)
		go func() {
			defer b.outstanding.Add(-1)
			b.serveConn(conn)
		}()
	}
}

// bindExclusive refuses to start if another bridge already holds the
// socket: a failed connect to an existing socket file means it is stale
// (the owning process died without cleaning up), so it is removed before
// binding.
func bindExclusive(path string) (net.Listener, error) {
	if conn, err := net.DialTimeout("unix", path, 200*time.Millisecond); err == nil {
		conn.Close()
		return nil, fmt.Errorf("another bridge is already bound to %s", path)
	}
	_ = os.Remove(path)
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, err
	}
	return listener, nil
}

func (b *Bridge) serveConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		var req ipc.Request
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}

		start := time.Now()
		result, ipcErr := b.dispatch(context.Background(), req.Method, req.Params)
		outcome := "ok"
		if ipcErr != nil {
			outcome = "error"
		}
		b.metrics.ObserveIPC(req.Method, outcome, time.Since(start))

		resp := ipc.Response{ID: req.ID, Result: result, Error: ipcErr}
		data, err := json.Marshal(resp)
		if err != nil {
			return
		}
		if _, err := conn.Write(append(data, '\n')); err != nil {
			return
		}

		if ipcErr != nil && clierr.Kind(ipcErr.Kind) == clierr.KindSessionExpired {
			go b.MarkExpired(ipcErr.Message)
			return
		}
	}
}

// dispatch serves one IPC method against the client core. MCP-side
// effects are naturally serialized because the client core's dispatch
// loop owns the only path to the transport; dispatch itself may run
// concurrently across IPC connections, matching spec's "IPC reads are
// concurrent" while "MCP-side effects ... serialized through transport".
func (b *Bridge) dispatch(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, *ipc.Error) {
	switch method {
	case "ping":
		if err := b.client.Ping(ctx); err != nil {
			return nil, toIPCError(err)
		}
		return nil, nil
	case "listTools":
		return b.listWithCache(ctx, cache.KindTools, func(cursor *string) (any, *string, error) {
			res, err := b.client.ListTools(ctx, mcpschema.ListToolsRequestParams{Cursor: cursor})
			if err != nil {
				return nil, nil, err
			}
			return res, res.NextCursor, nil
		})
	case "listResources":
		return b.listWithCache(ctx, cache.KindResources, func(cursor *string) (any, *string, error) {
			res, err := b.client.ListResources(ctx, mcpschema.ListResourcesRequestParams{Cursor: cursor})
			if err != nil {
				return nil, nil, err
			}
			return res, res.NextCursor, nil
		})
	case "listResourceTemplates":
		return b.listWithCache(ctx, cache.KindResourceTemplates, func(cursor *string) (any, *string, error) {
			res, err := b.client.ListResourceTemplates(ctx, mcpschema.ListResourceTemplatesRequestParams{Cursor: cursor})
			if err != nil {
				return nil, nil, err
			}
			return res, res.NextCursor, nil
		})
	case "listPrompts":
		return b.listWithCache(ctx, cache.KindPrompts, func(cursor *string) (any, *string, error) {
			res, err := b.client.ListPrompts(ctx, mcpschema.ListPromptsRequestParams{Cursor: cursor})
			if err != nil {
				return nil, nil, err
			}
			return res, res.NextCursor, nil
		})
	case "callTool":
		var p mcpschema.CallToolRequestParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &ipc.Error{Kind: string(clierr.KindClient), Message: err.Error()}
		}
		res, err := b.client.CallTool(ctx, p)
		if err != nil {
			return nil, toIPCError(err)
		}
		return marshal(res)
	case "readResource":
		var p mcpschema.ReadResourceRequestParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &ipc.Error{Kind: string(clierr.KindClient), Message: err.Error()}
		}
		res, err := b.client.ReadResource(ctx, p)
		if err != nil {
			return nil, toIPCError(err)
		}
		return marshal(res)
	case "subscribeResource":
		var p mcpschema.SubscribeRequestParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &ipc.Error{Kind: string(clierr.KindClient), Message: err.Error()}
		}
		if err := b.client.Subscribe(ctx, p.Uri); err != nil {
			return nil, toIPCError(err)
		}
		return nil, nil
	case "unsubscribeResource":
		var p mcpschema.UnsubscribeRequestParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &ipc.Error{Kind: string(clierr.KindClient), Message: err.Error()}
		}
		if err := b.client.Unsubscribe(ctx, p.Uri); err != nil {
			return nil, toIPCError(err)
		}
		return nil, nil
	case "getPrompt":
		var p mcpschema.GetPromptRequestParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &ipc.Error{Kind: string(clierr.KindClient), Message: err.Error()}
		}
		res, err := b.client.GetPrompt(ctx, p)
		if err != nil {
			return nil, toIPCError(err)
		}
		return marshal(res)
	case "getServerCapabilities":
		return marshal(b.client.ServerCapabilities())
	case "getServerVersion":
		return marshal(b.client.ServerInfo())
	case "getProtocolVersion":
		return marshal(b.client.ProtocolVersion())
	case "getInstructions":
		return marshal(b.client.Instructions())
	case "setLoggingLevel":
		var p mcpschema.SetLevelRequestParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &ipc.Error{Kind: string(clierr.KindClient), Message: err.Error()}
		}
		if err := b.client.SetLevel(ctx, string(p.Level)); err != nil {
			return nil, toIPCError(err)
		}
		return nil, nil
	case "shutdown":
		go b.Shutdown()
		return nil, nil
	case "restart":
		// Restart is driven by the Bridge Manager (stop then respawn), not
		// by the running bridge itself; acknowledge and let the caller
		// orchestrate the process replacement.
		go b.Shutdown()
		return nil, nil
	default:
		return nil, &ipc.Error{Kind: string(clierr.KindClient), Message: "unknown method " + method}
	}
}

// proxyAllowedMethods is the method surface the Proxy Server is permitted
// to forward, per spec's "forwards tools/*, resources/*, prompts/*,
// logging/setLevel, and ping" allowance; everything else (initialize,
// roots/sampling/elicitation) stays internal to the bridge's own handshake.
var proxyAllowedMethods = map[string]bool{
	mcpschema.MethodPing:                   true,
	mcpschema.MethodToolsList:              true,
	mcpschema.MethodToolsCall:              true,
	mcpschema.MethodResourcesList:          true,
	mcpschema.MethodResourcesTemplatesList: true,
	mcpschema.MethodResourcesRead:          true,
	mcpschema.MethodResourcesSubscribe:     true,
	mcpschema.MethodResourcesUnsubscribe:   true,
	mcpschema.MethodPromptsList:            true,
	mcpschema.MethodPromptsGet:             true,
	mcpschema.MethodLoggingSetLevel:        true,
}

// ForwardMCP serves one JSON-RPC request on behalf of the Proxy Server,
// restricted to proxyAllowedMethods, by delegating to the same client-core
// calls and cache the bridge's own IPC dispatch uses.
func (b *Bridge) ForwardMCP(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	resp := &jsonrpc.Response{Jsonrpc: jsonrpc.Version, Id: req.Id}
	if !proxyAllowedMethods[req.Method] {
		resp.Error = jsonrpc.NewMethodNotFound("method not exposed by proxy: "+req.Method, nil)
		return resp
	}

	ipcMethod, ok := mcpMethodToIPCMethod[req.Method]
	if !ok {
		resp.Error = jsonrpc.NewMethodNotFound(req.Method, nil)
		return resp
	}
	result, ipcErr := b.dispatch(ctx, ipcMethod, req.Params)
	if ipcErr != nil {
		if clierr.Kind(ipcErr.Kind) == clierr.KindMcp {
			resp.Error = &jsonrpc.Error{Code: ipcErr.McpCode, Message: ipcErr.McpMessage}
		} else {
			resp.Error = jsonrpc.NewInternalError(clierr.Redact(ipcErr.Message), nil)
		}
		return resp
	}
	resp.Result = result
	return resp
}

var mcpMethodToIPCMethod = map[string]string{
	mcpschema.MethodPing:                   "ping",
	mcpschema.MethodToolsList:              "listTools",
	mcpschema.MethodToolsCall:              "callTool",
	mcpschema.MethodResourcesList:          "listResources",
	mcpschema.MethodResourcesTemplatesList: "listResourceTemplates",
	mcpschema.MethodResourcesRead:          "readResource",
	mcpschema.MethodResourcesSubscribe:     "subscribeResource",
	mcpschema.MethodResourcesUnsubscribe:   "unsubscribeResource",
	mcpschema.MethodPromptsList:            "listPrompts",
	mcpschema.MethodPromptsGet:             "getPrompt",
	mcpschema.MethodLoggingSetLevel:        "setLoggingLevel",
}

func marshal(v any) (json.RawMessage, *ipc.Error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &ipc.Error{Kind: string(clierr.KindClient), Message: err.Error()}
	}
	return data, nil
}

// toIPCError classifies an error returned by the client core into the wire
// Error shape the IPC Request Client reconstructs a clierr.Error from:
// session expiry first (it overrides anything else), then a verbatim
// upstream JSON-RPC error, then the bridge's own typed errors, defaulting
// to NetworkError for anything unrecognized (transport I/O failures).
func toIPCError(err error) *ipc.Error {
	var se *mcptransport.ErrSessionExpired
	if errors.As(err, &se) {
		return &ipc.Error{Kind: string(clierr.KindSessionExpired), Message: se.Error()}
	}
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return &ipc.Error{Kind: string(clierr.KindMcp), McpCode: rpcErr.Code, McpMessage: rpcErr.Message}
	}
	var ce *clierr.Error
	if errors.As(err, &ce) {
		return &ipc.Error{Kind: string(ce.Kind), Message: ce.Message, McpCode: ce.McpCode, McpMessage: ce.McpMessage}
	}
	return &ipc.Error{Kind: string(clierr.KindNetwork), Message: clierr.Redact(err.Error())}
}

// listWithCache consults the cache, and on miss fetches and caches only the
// first page, per spec's "cache stores first-page ... payload" allowance —
// it does not walk subsequent cursors itself, since doing so and then
// discarding every page but the first would be pure wasted round trips.
func (b *Bridge) listWithCache(ctx context.Context, kind cache.Kind, fetch func(cursor *string) (any, *string, error)) (json.RawMessage, *ipc.Error) {
	if payload, ok := b.cache.Get(kind); ok {
		b.metrics.ObserveCacheHit(string(kind))
		return marshal(payload)
	}
	b.metrics.ObserveCacheMiss(string(kind))

	payload, _, err := fetch(nil)
	if err != nil {
		return nil, toIPCError(err)
	}
	b.cache.Put(kind, payload)
	return marshal(payload)
}

// onNotification is the MCP client core's NotificationHandler: it
// invalidates the cache and touches the registry's notification
// timestamp atomically, before dispatch returns the IPC response that
// triggered the upstream call that produced the notification. Session
// expiry is not handled here; serveConn reacts to a SessionExpired error.
func (b *Bridge) onNotification(method string, params json.RawMessage) {
	now := time.Now()
	switch method {
	case mcpschema.MethodNotificationToolsListChanged:
		b.cache.Invalidate(cache.KindTools)
		_ = b.reg.Update(b.name, func(s *registry.Session) { s.Notifications.ToolsListChangedAt = &now })
	case mcpschema.MethodNotificationResourcesListChanged:
		b.cache.Invalidate(cache.KindResources)
		b.cache.Invalidate(cache.KindResourceTemplates)
		_ = b.reg.Update(b.name, func(s *registry.Session) { s.Notifications.ResourcesListChangedAt = &now })
	case mcpschema.MethodNotificationResourceUpdated:
		_ = b.reg.Update(b.name, func(s *registry.Session) { s.Notifications.ResourcesUpdatedAt = &now })
	case mcpschema.MethodNotificationPromptsListChanged:
		b.cache.Invalidate(cache.KindPrompts)
		_ = b.reg.Update(b.name, func(s *registry.Session) { s.Notifications.PromptsListChangedAt = &now })
	case mcpschema.MethodNotificationMessage:
		b.log.Debug("upstream log notification", "params", string(params))
	}
}

// Shutdown drains outstanding IPC work, releases the upstream session over
// HTTP transports, removes the registry record, and stops the accept loop.
// It is idempotent and is the path taken by both the `shutdown` IPC verb
// and a canceled Run context.
func (b *Bridge) Shutdown() {
	b.closeOnce.Do(func() {
		b.state.set(StateDraining)
		deadline := time.Now().Add(5 * time.Second)
		for b.outstanding.Load() > 0 && time.Now().Before(deadline) {
			time.Sleep(20 * time.Millisecond)
		}
		b.state.set(StateStopping)

		if b.proxySrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = b.proxySrv.Shutdown(sctx)
			cancel()
		}
		if b.metricsSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = b.metricsSrv.Shutdown(sctx)
			cancel()
		}
		_ = b.client.Close()
		if b.listener != nil {
			_ = b.listener.Close()
		}
		_ = b.reg.Delete(b.name)
		close(b.shutdownCh)
	})
}

// MarkExpired transitions the bridge to the expired state, records it in
// the registry, and stops serving IPC requests. The session is never
// auto-reconnected; a subsequent `restart` obtains a fresh MCP-Session-Id.
func (b *Bridge) MarkExpired(reason string) {
	b.state.set(StateExpired)
	_ = b.reg.Update(b.name, func(s *registry.Session) {
		s.Status = registry.StatusExpired
		s.PID = 0
		s.LastError = clierr.Redact(reason)
	})
	b.closeOnce.Do(func() {
		if b.proxySrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = b.proxySrv.Shutdown(sctx)
			cancel()
		}
		if b.metricsSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = b.metricsSrv.Shutdown(sctx)
			cancel()
		}
		_ = b.client.Close()
		if b.listener != nil {
			_ = b.listener.Close()
		}
		close(b.shutdownCh)
	})
}
