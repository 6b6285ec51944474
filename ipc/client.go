package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/mcpbridge/mcpbridge/clierr"
)

// DefaultTimeout is how long a single call waits for a response before
// giving up, per spec's "Timeout configurable (default 30s)".
const DefaultTimeout = 30 * time.Second

// Client opens one connection per call to a bridge's socket: write one
// request, read one response, close. This matches the one-shot-per-
// invocation lifecycle of the CLI process driving it — there is no
// connection pool to keep warm between commands.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// New constructs a Client bound to socketPath.
func New(socketPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{socketPath: socketPath, timeout: timeout}
}

// Call sends method/params and decodes the result into out. It translates
// the bridge's Error into the clierr taxonomy so callers never need to
// inspect the wire shape.
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return clierr.New(clierr.KindNetwork, "connect to bridge socket: %v", err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	var paramsRaw json.RawMessage
	if params != nil {
		paramsRaw, err = json.Marshal(params)
		if err != nil {
			return clierr.New(clierr.KindClient, "encode params: %v", err)
		}
	}

	req := Request{ID: uuid.NewString(), Method: method, Params: paramsRaw}
	data, err := json.Marshal(req)
	if err != nil {
		return clierr.New(clierr.KindClient, "encode request: %v", err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return clierr.New(clierr.KindNetwork, "write request: %v", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return clierr.New(clierr.KindNetwork, "read response: %v", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return clierr.New(clierr.KindClient, "decode response: %v", err)
	}

	if resp.Error != nil {
		return toClierr(resp.Error)
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return clierr.New(clierr.KindClient, "decode result: %v", err)
		}
	}
	return nil
}

func toClierr(e *Error) error {
	switch clierr.Kind(e.Kind) {
	case clierr.KindSessionExpired:
		return clierr.New(clierr.KindSessionExpired, "%s", clierr.SessionExpiredHint)
	case clierr.KindAuth:
		return clierr.New(clierr.KindAuth, "%s", e.Message)
	case clierr.KindNetwork:
		return clierr.New(clierr.KindNetwork, "%s", e.Message)
	case clierr.KindMcp:
		return clierr.Mcp(e.McpCode, e.McpMessage)
	default:
		return clierr.New(clierr.KindClient, "%s", e.Message)
	}
}
