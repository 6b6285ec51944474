package mcpclient

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpbridge/mcpbridge/internal/jsonrpc"
	"github.com/mcpbridge/mcpbridge/internal/mcpschema"
	"github.com/mcpbridge/mcpbridge/internal/mcptransport"
)

// fakeTransport is an in-memory Transport driven directly by the test: Send
// appends to sent, Recv drains a queue the test fills via push.
type fakeTransport struct {
	sent   chan mcptransport.Frame
	inbox  chan mcptransport.Frame
	closed chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sent:   make(chan mcptransport.Frame, 16),
		inbox:  make(chan mcptransport.Frame, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Send(ctx context.Context, frame mcptransport.Frame) error {
	select {
	case f.sent <- frame:
		return nil
	case <-f.closed:
		return mcptransport.ErrClosed
	}
}

func (f *fakeTransport) Recv(ctx context.Context) (mcptransport.Frame, error) {
	select {
	case frame := <-f.inbox:
		return frame, nil
	case <-f.closed:
		return mcptransport.Frame{}, mcptransport.ErrClosed
	case <-ctx.Done():
		return mcptransport.Frame{}, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func (f *fakeTransport) SessionID() string { return "" }

func (f *fakeTransport) push(v any) {
	data, _ := json.Marshal(v)
	f.inbox <- mcptransport.Frame{Data: data}
}

// nextRequest reads the next frame the client sent, waiting up to 2s, and
// decodes it as a jsonrpc.Request.
func (f *fakeTransport) nextRequest(t *testing.T) *jsonrpc.Request {
	t.Helper()
	select {
	case frame := <-f.sent:
		var req jsonrpc.Request
		require.NoError(t, json.Unmarshal(frame.Data, &req))
		return &req

	case <-time.After(2 * time.Second):
		t.Fatal("no request sent")
		return nil
	}
}

func connectedClient(t *testing.T) (*Client, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	c := New(ft, mcpschema.Implementation{Name: "test-client", Version: "0.0.1"})

	done := make(chan error, 1)
	go func() {
		done <- c.Connect(context.Background())
	}()

	initReq := ft.nextRequest(t)
	assert.Equal(t, mcpschema.MethodInitialize, initReq.Method)
	ft.push(&jsonrpc.Response{
		Jsonrpc: jsonrpc.Version,
		Id:      initReq.Id,
		Result:  mustMarshal(t, mcpschema.InitializeResult{ProtocolVersion: mcpschema.LatestProtocolVersion, ServerInfo: mcpschema.Implementation{Name: "srv", Version: "1.0"}}),
	})

	require.NoError(t, <-done)
	// Drain the notifications/initialized one-way message Connect sends.
	ft.nextRequestOrNotification(t)
	return c, ft
}

func (f *fakeTransport) nextRequestOrNotification(t *testing.T) {
	t.Helper()
	select {
	case <-f.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("no notification sent")
	}
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestClient_ConnectNegotiatesServerInfo(t *testing.T) {
	c, _ := connectedClient(t)
	assert.Equal(t, "srv", c.ServerInfo().Name)
	assert.Equal(t, mcpschema.LatestProtocolVersion, c.ProtocolVersion())
}

func TestClient_ListToolsRoundTrip(t *testing.T) {
	c, ft := connectedClient(t)

	resCh := make(chan *mcpschema.ListToolsResult, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := c.ListTools(context.Background(), mcpschema.ListToolsRequestParams{})
		resCh <- res
		errCh <- err
	}()

	req := ft.nextRequest(t)
	assert.Equal(t, mcpschema.MethodToolsList, req.Method)
	ft.push(&jsonrpc.Response{
		Jsonrpc: jsonrpc.Version,
		Id:      req.Id,
		Result:  mustMarshal(t, mcpschema.ListToolsResult{Tools: []mcpschema.Tool{{Name: "echo"}}}),
	})

	require.NoError(t, <-errCh)
	result := <-resCh
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "echo", result.Tools[0].Name)
}

func TestClient_CallErrorPropagates(t *testing.T) {
	c, ft := connectedClient(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.ListTools(context.Background(), mcpschema.ListToolsRequestParams{})
		errCh <- err
	}()

	req := ft.nextRequest(t)
	ft.push(&jsonrpc.Response{
		Jsonrpc: jsonrpc.Version,
		Id:      req.Id,
		Error:   jsonrpc.NewInternalError("boom", nil),
	})

	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestClient_NotificationHandlerInvoked(t *testing.T) {
	ft := newFakeTransport()
	var gotMethod string
	var gotParams json.RawMessage
	done := make(chan struct{})
	c := New(ft, mcpschema.Implementation{Name: "test-client", Version: "0.0.1"}, WithNotificationHandler(func(method string, params json.RawMessage) {
		gotMethod = method
		gotParams = params
		close(done)
	}))

	connectDone := make(chan error, 1)
	go func() { connectDone <- c.Connect(context.Background()) }()
	initReq := ft.nextRequest(t)
	ft.push(&jsonrpc.Response{Jsonrpc: jsonrpc.Version, Id: initReq.Id, Result: mustMarshal(t, mcpschema.InitializeResult{})})
	require.NoError(t, <-connectDone)
	ft.nextRequestOrNotification(t)

	notif, err := jsonrpc.NewNotification(mcpschema.MethodNotificationToolsListChanged, map[string]string{"x": "y"})
	require.NoError(t, err)
	ft.push(notif)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("notification handler was not invoked")
	}
	assert.Equal(t, mcpschema.MethodNotificationToolsListChanged, gotMethod)
	assert.JSONEq(t, `{"x":"y"}`, string(gotParams))
}

func TestClient_CloseUnblocksPendingCalls(t *testing.T) {
	c, ft := connectedClient(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.ListTools(context.Background(), mcpschema.ListToolsRequestParams{})
		errCh <- err
	}()
	ft.nextRequest(t) // consume the outbound tools/list request, never answer it

	require.NoError(t, c.Close())

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call did not fail after Close")
	}
}
