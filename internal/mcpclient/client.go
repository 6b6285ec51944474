// Package mcpclient implements the MCP client core: the single dispatch
// loop that owns a Transport, correlates outbound requests with inbound
// responses by JSON-RPC id, and fans inbound notifications out to a
// caller-supplied handler. This is the piece spec.md calls out as the
// hard engineering the rest of the bridge is built around.
package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcpbridge/mcpbridge/internal/collection"
	"github.com/mcpbridge/mcpbridge/internal/jsonrpc"
	"github.com/mcpbridge/mcpbridge/internal/mcpschema"
	"github.com/mcpbridge/mcpbridge/internal/mcptransport"
)

// idSeq is the monotonically increasing request id source for outbound
// calls. The upstream jsonrpc.NewRequest leaves a request's id at its zero
// value (see github.com/viant/mcp's server/client.go send() helper, which
// assigns req.Id itself after construction); this client core does the same
// before handing the request to the transport.
var idSeq atomic.Int64

// NotificationHandler receives every server-initiated notification in the
// order the dispatch loop read it off the transport. It must not block for
// long: the dispatch loop cannot correlate the next response until it
// returns, matching the teacher's own use of short, mostly-async handlers.
type NotificationHandler func(method string, params json.RawMessage)

// Option configures a Client at construction time.
type Option func(*Client)

// WithWriteTimeout bounds how long Send on the transport may take for a
// single outbound frame.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Client) { c.writeTimeout = d }
}

// WithReadTimeout bounds how long a request waits for its matching response
// once it has been sent.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) { c.readTimeout = d }
}

// WithNotificationHandler installs the callback the dispatch loop invokes
// for every inbound notification.
func WithNotificationHandler(h NotificationHandler) Option {
	return func(c *Client) { c.onNotification = h }
}

// WithLogger installs the structured logger the client core writes to.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

var (
	defaultWriteTimeout = 10 * time.Second
	defaultReadTimeout  = 60 * time.Second
)

// Client drives one MCP session over one Transport. It is not safe to
// share across independently-authenticated sessions; the Bridge Daemon
// owns exactly one Client per bridge process.
type Client struct {
	transport mcptransport.Transport
	log       *slog.Logger

	writeTimeout time.Duration
	readTimeout  time.Duration

	clientInfo   mcpschema.Implementation
	capabilities mcpschema.ClientCapabilities

	onNotification NotificationHandler

	pending *collection.SyncMap[int64, chan *jsonrpc.Response]

	mu                 sync.RWMutex
	initialized        bool
	serverInfo         mcpschema.Implementation
	serverCapabilities mcpschema.ServerCapabilities
	protocolVersion    string
	instructions       string

	loopDone chan struct{}
	loopErr  error
	once     sync.Once
}

// New constructs a Client bound to transport. Connect must be called before
// any other method.
func New(transport mcptransport.Transport, clientInfo mcpschema.Implementation, opts ...Option) *Client {
	c := &Client{
		transport:    transport,
		log:          slog.Default(),
		writeTimeout: defaultWriteTimeout,
		readTimeout:  defaultReadTimeout,
		clientInfo:   clientInfo,
		capabilities: mcpschema.ClientCapabilities{},
		pending:      collection.NewSyncMap[int64, chan *jsonrpc.Response](),
		loopDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect starts the dispatch loop and performs the initialize handshake.
// It blocks until the handshake completes, fails, or ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	go c.dispatchLoop()

	params := mcpschema.InitializeRequestParams{
		ProtocolVersion: mcpschema.LatestProtocolVersion,
		Capabilities:    c.capabilities,
		ClientInfo:      c.clientInfo,
	}
	var result mcpschema.InitializeResult
	if err := c.call(ctx, mcpschema.MethodInitialize, params, &result); err != nil {
		return fmt.Errorf("mcpclient: initialize: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.serverCapabilities = result.Capabilities
	c.protocolVersion = result.ProtocolVersion
	if result.Instructions != nil {
		c.instructions = *result.Instructions
	}
	c.initialized = true
	c.mu.Unlock()

	notif, err := jsonrpc.NewNotification(mcpschema.MethodNotificationInitialized, nil)
	if err != nil {
		return err
	}
	return c.send(ctx, notif)
}

// ServerInfo returns the implementation info the server reported at
// initialize. It is only meaningful after Connect returns successfully.
func (c *Client) ServerInfo() mcpschema.Implementation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// ServerCapabilities returns the capabilities the server advertised.
func (c *Client) ServerCapabilities() mcpschema.ServerCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCapabilities
}

// ProtocolVersion returns the protocol version negotiated at initialize.
func (c *Client) ProtocolVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.protocolVersion
}

// Instructions returns the server's free-text initialize instructions, if any.
func (c *Client) Instructions() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instructions
}

// Close shuts down the underlying transport and stops the dispatch loop.
func (c *Client) Close() error {
	err := c.transport.Close()
	<-c.loopDone
	return err
}

// Ping issues a liveness probe and waits for the empty result, used when
// the bridge serves the Bridge Manager's "ping" health check.
func (c *Client) Ping(ctx context.Context) error {
	var result mcpschema.PingResult
	return c.call(ctx, mcpschema.MethodPing, nil, &result)
}

func (c *Client) ListTools(ctx context.Context, params mcpschema.ListToolsRequestParams) (*mcpschema.ListToolsResult, error) {
	var result mcpschema.ListToolsResult
	if err := c.call(ctx, mcpschema.MethodToolsList, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) CallTool(ctx context.Context, params mcpschema.CallToolRequestParams) (*mcpschema.CallToolResult, error) {
	var result mcpschema.CallToolResult
	if err := c.call(ctx, mcpschema.MethodToolsCall, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ListResources(ctx context.Context, params mcpschema.ListResourcesRequestParams) (*mcpschema.ListResourcesResult, error) {
	var result mcpschema.ListResourcesResult
	if err := c.call(ctx, mcpschema.MethodResourcesList, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ListResourceTemplates(ctx context.Context, params mcpschema.ListResourceTemplatesRequestParams) (*mcpschema.ListResourceTemplatesResult, error) {
	var result mcpschema.ListResourceTemplatesResult
	if err := c.call(ctx, mcpschema.MethodResourcesTemplatesList, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ReadResource(ctx context.Context, params mcpschema.ReadResourceRequestParams) (*mcpschema.ReadResourceResult, error) {
	var result mcpschema.ReadResourceResult
	if err := c.call(ctx, mcpschema.MethodResourcesRead, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Subscribe(ctx context.Context, uri string) error {
	var result mcpschema.SubscribeResult
	return c.call(ctx, mcpschema.MethodResourcesSubscribe, mcpschema.SubscribeRequestParams{Uri: uri}, &result)
}

func (c *Client) Unsubscribe(ctx context.Context, uri string) error {
	var result mcpschema.UnsubscribeResult
	return c.call(ctx, mcpschema.MethodResourcesUnsubscribe, mcpschema.UnsubscribeRequestParams{Uri: uri}, &result)
}

func (c *Client) ListPrompts(ctx context.Context, params mcpschema.ListPromptsRequestParams) (*mcpschema.ListPromptsResult, error) {
	var result mcpschema.ListPromptsResult
	if err := c.call(ctx, mcpschema.MethodPromptsList, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetPrompt(ctx context.Context, params mcpschema.GetPromptRequestParams) (*mcpschema.GetPromptResult, error) {
	var result mcpschema.GetPromptResult
	if err := c.call(ctx, mcpschema.MethodPromptsGet, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) SetLevel(ctx context.Context, level string) error {
	var result mcpschema.SetLevelResult
	return c.call(ctx, mcpschema.MethodLoggingSetLevel, mcpschema.SetLevelRequestParams{Level: mcpschema.LoggingLevel(level)}, &result)
}

// call sends a request and blocks for its matching response, honoring
// ctx and the client's configured write/read timeouts.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	req, err := jsonrpc.NewRequest(method, params)
	if err != nil {
		return err
	}
	id := idSeq.Add(1)
	req.Id = jsonrpc.RequestId(id)

	resCh := make(chan *jsonrpc.Response, 1)
	c.pending.Put(id, resCh)
	defer c.pending.Delete(id)

	wCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := c.send(wCtx, req); err != nil {
		return fmt.Errorf("mcpclient: send %s: %w", method, err)
	}

	timer := time.NewTimer(c.readTimeout)
	defer timer.Stop()

	select {
	case resp := <-resCh:
		if resp.Error != nil {
			return resp.Error
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		return json.Unmarshal(resp.Result, out)
	case <-timer.C:
		return fmt.Errorf("mcpclient: %s: %w", method, context.DeadlineExceeded)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.loopDone:
		return errors.New("mcpclient: dispatch loop stopped")
	}
}

func (c *Client) send(ctx context.Context, v any) error {
	var data []byte
	var err error
	switch m := v.(type) {
	case *jsonrpc.Request:
		data, err = json.Marshal(m)
	case *jsonrpc.Notification:
		data, err = json.Marshal(m)
	default:
		return fmt.Errorf("mcpclient: unsupported send type %T", v)
	}
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, mcptransport.Frame{Data: data})
}

// dispatchLoop is the single goroutine that owns the transport's receive
// side: it decodes every inbound frame and either resolves a pending
// request or forwards a notification, exactly the correlation scheme the
// teacher's Client.start()/listenMessages() pair implements with channels
// instead of a mutex-guarded map.
func (c *Client) dispatchLoop() {
	defer close(c.loopDone)
	ctx := context.Background()
	for {
		frame, err := c.transport.Recv(ctx)
		if err != nil {
			if !errors.Is(err, mcptransport.ErrClosed) {
				c.log.Warn("mcpclient: transport recv failed", "err", err)
				c.loopErr = err
			}
			c.failAllPending(err)
			return
		}

		req, resp, notif, err := jsonrpc.Unmarshal(frame.Data)
		if err != nil {
			c.log.Warn("mcpclient: malformed frame", "err", err)
			continue
		}

		switch {
		case resp != nil:
			if id, ok := jsonrpc.AsRequestIntId(resp.Id); ok {
				if ch, found := c.pending.Get(int64(id)); found {
					ch <- resp
				}
			}
		case notif != nil:
			if c.onNotification != nil {
				c.onNotification(notif.Method, notif.Params)
			}
		case req != nil:
			// The bridge never advertises roots/sampling/elicitation, so a
			// server should not send us requests; reply with method-not-found
			// rather than silently hanging the server's wait.
			c.replyMethodNotFound(ctx, req)
		}
	}
}

func (c *Client) replyMethodNotFound(ctx context.Context, req *jsonrpc.Request) {
	resp := &jsonrpc.Response{
		Jsonrpc: jsonrpc.Version,
		Id:      req.Id,
		Error:   jsonrpc.NewMethodNotFound("client does not implement "+req.Method, nil),
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = c.transport.Send(ctx, mcptransport.Frame{Data: data})
}

func (c *Client) failAllPending(err error) {
	resp := &jsonrpc.Response{Error: jsonrpc.NewInternalError("transport closed", nil)}
	c.pending.Range(func(_ int64, ch chan *jsonrpc.Response) bool {
		select {
		case ch <- resp:
		default:
		}
		return true
	})
}
