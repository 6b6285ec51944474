package mcptransport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rejectGET answers every GET with 405, so the background SSE listener
// started by NewHTTP exits immediately instead of holding the test server
// open for the life of the test.
func rejectGET(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return true
	}
	return false
}

func TestHTTP_SendReceivesSynchronousJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rejectGET(w, r) {
			return
		}
		w.Header().Set(headerSessionID, "sess-1")
		w.Header().Set("Content-Type", contentTypeJSON)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	defer srv.Close()

	h, err := NewHTTP(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Send(context.Background(), Frame{Data: []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := h.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, string(frame.Data))
	assert.Equal(t, "sess-1", h.SessionID())
}

func TestHTTP_SendDeliversSSEResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rejectGET(w, r) {
			return
		}
		w.Header().Set("Content-Type", contentTypeSSE)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n\n"))
	}))
	defer srv.Close()

	h, err := NewHTTP(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Send(context.Background(), Frame{Data: []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := h.Recv(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, string(frame.Data))
}

func TestHTTP_SendRetriesOnceAfter401(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rejectGET(w, r) {
			return
		}
		n := posts.Add(1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", contentTypeJSON)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	defer srv.Close()

	var authCalls int
	h, err := NewHTTP(context.Background(), srv.URL, nil, WithAuthRetry(func(ctx context.Context) error {
		authCalls++
		return nil
	}))
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Send(context.Background(), Frame{Data: []byte(`{}`)}))
	assert.Equal(t, 1, authCalls)
	assert.EqualValues(t, 2, posts.Load())
}

func TestHTTP_Send404WithSessionPhraseIsSessionExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rejectGET(w, r) {
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("session not found"))
	}))
	defer srv.Close()

	h, err := NewHTTP(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	defer h.Close()

	err = h.Send(context.Background(), Frame{Data: []byte(`{}`)})
	var expired *ErrSessionExpired
	require.ErrorAs(t, err, &expired)
}

func TestHTTP_Send404AboutUnknownToolIsNotSessionExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rejectGET(w, r) {
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("unknown tool requested"))
	}))
	defer srv.Close()

	h, err := NewHTTP(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	defer h.Close()

	err = h.Send(context.Background(), Frame{Data: []byte(`{}`)})
	var expired *ErrSessionExpired
	assert.False(t, errors.As(err, &expired))
	assert.Error(t, err)
}
