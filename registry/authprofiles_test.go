package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthProfileStore(t *testing.T) *AuthProfileStore {
	t.Helper()
	return NewAuthProfileStore(filepath.Join(t.TempDir(), "auth-profiles.json"), 0)
}

func TestAuthProfileStore_SaveGetRoundTrip(t *testing.T) {
	s := newTestAuthProfileStore(t)

	require.NoError(t, s.Save(&AuthProfile{Name: "work", ServerURL: "https://a", Scopes: []string{"openid"}}))

	out, err := s.Get("https://a", "work")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, []string{"openid"}, out.Scopes)
}

func TestAuthProfileStore_GetMissing(t *testing.T) {
	s := newTestAuthProfileStore(t)
	out, err := s.Get("https://a", "ghost")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestAuthProfileStore_NamesAreScopedPerServerURL(t *testing.T) {
	s := newTestAuthProfileStore(t)
	require.NoError(t, s.Save(&AuthProfile{Name: "work", ServerURL: "https://a"}))
	require.NoError(t, s.Save(&AuthProfile{Name: "work", ServerURL: "https://b"}))

	a, err := s.Get("https://a", "work")
	require.NoError(t, err)
	b, err := s.Get("https://b", "work")
	require.NoError(t, err)
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, "https://a", a.ServerURL)
	assert.Equal(t, "https://b", b.ServerURL)
}

func TestAuthProfileStore_Delete(t *testing.T) {
	s := newTestAuthProfileStore(t)
	require.NoError(t, s.Save(&AuthProfile{Name: "work", ServerURL: "https://a"}))

	require.NoError(t, s.Delete("https://a", "work"))
	out, err := s.Get("https://a", "work")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestAuthProfileStore_DeleteAbsentIsNotError(t *testing.T) {
	s := newTestAuthProfileStore(t)
	assert.NoError(t, s.Delete("https://a", "ghost"))
}
