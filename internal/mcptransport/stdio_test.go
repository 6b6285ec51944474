package mcptransport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdio_SendRecvEchoesThroughChild(t *testing.T) {
	ctx := context.Background()
	s, err := NewStdio(ctx, []string{"cat"}, nil, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Send(ctx, Frame{Data: []byte(`{"hello":"world"}`)}))

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	frame, err := s.Recv(recvCtx)
	require.NoError(t, err)
	assert.Equal(t, `{"hello":"world"}`, string(frame.Data))
}

func TestStdio_SessionIDAlwaysEmpty(t *testing.T) {
	s, err := NewStdio(context.Background(), []string{"cat"}, nil, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.Empty(t, s.SessionID())
}

func TestStdio_CloseUnblocksRecv(t *testing.T) {
	s, err := NewStdio(context.Background(), []string{"cat"}, nil, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Recv(context.Background())
		done <- err
	}()

	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not unblock after Close")
	}
}

func TestNewStdio_EmptyArgvIsError(t *testing.T) {
	_, err := NewStdio(context.Background(), nil, nil, nil)
	assert.Error(t, err)
}
