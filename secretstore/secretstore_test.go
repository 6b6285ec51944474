package secretstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	keyring.MockInit()
	return New()
}

func TestStore_CredentialsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.GetCredentials("https://example.test", "work")
	require.NoError(t, err)
	assert.False(t, ok)

	in := Credentials{AccessToken: "at", RefreshToken: "rt", ClientID: "cid", ClientSecret: "csec", TokenType: "Bearer"}
	require.NoError(t, s.SetCredentials("https://example.test", "work", in))

	out, ok, err := s.GetCredentials("https://example.test", "work")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in, *out)

	require.NoError(t, s.DeleteCredentials("https://example.test", "work"))
	_, ok, err = s.GetCredentials("https://example.test", "work")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DeleteCredentialsAbsentIsNotError(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.DeleteCredentials("https://example.test", "ghost"))
}

func TestStore_HeadersRoundTrip(t *testing.T) {
	s := newTestStore(t)

	headers := map[string]string{"X-Api-Key": "secret"}
	require.NoError(t, s.SetHeaders("sess1", headers))

	out, ok, err := s.GetHeaders("sess1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, headers, out)
}

func TestStore_ProxyBearerRoundTrip(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.GetProxyBearer("sess1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetProxyBearer("sess1", "bearer-token"))
	out, ok, err := s.GetProxyBearer("sess1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bearer-token", out)
}

func TestStore_DeleteSessionRemovesHeadersAndBearer(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetHeaders("sess1", map[string]string{"A": "b"}))
	require.NoError(t, s.SetProxyBearer("sess1", "tok"))

	require.NoError(t, s.DeleteSession("sess1"))

	_, ok, err := s.GetHeaders("sess1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.GetProxyBearer("sess1")
	require.NoError(t, err)
	assert.False(t, ok)
}
