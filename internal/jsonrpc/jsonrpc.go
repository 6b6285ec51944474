// Package jsonrpc re-exports the JSON-RPC 2.0 envelope and error types the
// bridge speaks to upstream MCP servers, to spawned stdio children, and to
// proxy clients, from github.com/viant/jsonrpc — the same envelope the
// reference repo's own client and server cores (client/client.go,
// server/handler.go, server/adapter.go) are built on. The one piece that is
// not imported is the request/response correlation itself: matching an
// inbound Response back to the call() still blocked waiting on it is the
// core engineering problem this subsystem exists to solve, and it is
// implemented in internal/mcpclient on top of these types rather than
// inside this package.
package jsonrpc

import (
	"encoding/json"
	"fmt"

	viantjsonrpc "github.com/viant/jsonrpc"
)

// Version is the JSON-RPC protocol version string every envelope carries.
const Version = viantjsonrpc.Version

// Request, Response, Notification, Error and RequestId are the exact types
// github.com/viant/jsonrpc's own client and server cores exchange; aliasing
// them here means every call site in this module imports one local package
// instead of threading the upstream one through every file individually.
type (
	Request      = viantjsonrpc.Request
	Response     = viantjsonrpc.Response
	Notification = viantjsonrpc.Notification
	Error        = viantjsonrpc.Error
	RequestId    = viantjsonrpc.RequestId
)

// InvalidParams is the standard JSON-RPC error code the upstream package
// exports for malformed call arguments.
const InvalidParams = viantjsonrpc.InvalidParams

var (
	// NewRequest builds a Request with marshaled params; the caller assigns
	// an id afterward, the same two-step construct-then-req.Id=... sequence
	// server/client.go's send() helper uses.
	NewRequest = viantjsonrpc.NewRequest

	NewError              = viantjsonrpc.NewError
	NewParsingError       = viantjsonrpc.NewParsingError
	NewInvalidRequest     = viantjsonrpc.NewInvalidRequest
	NewMethodNotFound     = viantjsonrpc.NewMethodNotFound
	NewInvalidParamsError = viantjsonrpc.NewInvalidParamsError
	NewInternalError      = viantjsonrpc.NewInternalError

	// AsRequestIntId extracts the integer value of a RequestId, the same
	// helper server/tools.go and server/resources.go use to turn an inbound
	// Id into a plain int for correlation bookkeeping.
	AsRequestIntId = viantjsonrpc.AsRequestIntId
)

// NewNotification builds a Notification with marshaled params. The upstream
// package leaves notifications to be built as plain struct literals at the
// call site (server/adapter.go's `&jsonrpc.Notification{Method: ...}`); this
// wraps that literal with the same params-marshaling convenience NewRequest
// gives requests.
func NewNotification(method string, params any) (*Notification, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params for %s: %w", method, err)
		}
		raw = b
	}
	return &Notification{Jsonrpc: Version, Method: method, Params: raw}, nil
}

// Unmarshal decodes a line of bytes into whichever of Request/Response/
// Notification it represents, inspecting the presence of "id"/"method"/
// "result"/"error". This is the bridge's own frame classifier: the upstream
// package's transports speak in terms of whichever channel they already
// own (an SSE event, an HTTP response body), not a bare frame handed over
// by another layer, so the client core's dispatch loop and the proxy
// server need this decoder that they don't.
func Unmarshal(line []byte) (req *Request, resp *Response, notif *Notification, err error) {
	var probe struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
	}
	if err = json.Unmarshal(line, &probe); err != nil {
		return nil, nil, nil, err
	}
	switch {
	case probe.Method != "" && len(probe.ID) > 0:
		req = &Request{}
		err = json.Unmarshal(line, req)
	case probe.Method != "":
		notif = &Notification{}
		if err = json.Unmarshal(line, notif); err == nil {
			// viantjsonrpc.Notification's UnmarshalJSON only validates and
			// copies Jsonrpc/Method, leaving Params at its zero value; fill
			// it in ourselves from the already-parsed line.
			var p struct {
				Params json.RawMessage `json:"params"`
			}
			if pErr := json.Unmarshal(line, &p); pErr == nil {
				notif.Params = p.Params
			}
		}
	default:
		resp = &Response{}
		err = json.Unmarshal(line, resp)
	}
	return
}
