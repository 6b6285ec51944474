package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpbridge/mcpbridge/internal/jsonrpc"
)

type fakeForwarder struct {
	resp *jsonrpc.Response
}

func (f *fakeForwarder) ForwardMCP(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	return f.resp
}

func TestServer_HealthNeverRequiresAuth(t *testing.T) {
	srv := httptest.NewServer(newTestMux(&fakeForwarder{}, "secret"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_MissingBearerRejected(t *testing.T) {
	srv := httptest.NewServer(newTestMux(&fakeForwarder{}, "secret"))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_WrongBearerForbidden(t *testing.T) {
	srv := httptest.NewServer(newTestMux(&fakeForwarder{}, "secret"))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/", strings.NewReader(`{}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_EmptyBearerAcceptsAnyRequest(t *testing.T) {
	srv := httptest.NewServer(newTestMux(&fakeForwarder{resp: &jsonrpc.Response{Jsonrpc: jsonrpc.Version, Id: jsonrpc.RequestId(1), Result: []byte(`{}`)}}, ""))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ForwardsValidJSONRPCRequest(t *testing.T) {
	fwd := &fakeForwarder{resp: &jsonrpc.Response{Jsonrpc: jsonrpc.Version, Id: jsonrpc.RequestId(1), Result: []byte(`{"pong":true}`)}}
	srv := httptest.NewServer(newTestMux(fwd, "secret"))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_MalformedBodyRejected(t *testing.T) {
	srv := httptest.NewServer(newTestMux(&fakeForwarder{}, "secret"))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/", strings.NewReader(`not json`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_DeleteAcknowledgesTermination(t *testing.T) {
	srv := httptest.NewServer(newTestMux(&fakeForwarder{}, "secret"))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// newTestMux builds a Server and returns its handler for use with httptest,
// since Server itself only exposes ListenAndServe/Shutdown bound to a fixed
// address.
func newTestMux(forwarder Forwarder, bearer string) http.Handler {
	s := New("127.0.0.1:0", forwarder, bearer, nil, nil)
	return s.httpSrv.Handler
}
