package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "sessions.json"), 0)
}

func TestRegistry_SaveGetRoundTrip(t *testing.T) {
	r := newTestRegistry(t)

	in := &Session{Name: "a", Transport: Transport{Kind: TransportHTTP, URL: "http://x"}, Status: StatusLive, PID: 123}
	require.NoError(t, r.Save(in))

	out, err := r.Get("a")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "a", out.Name)
	assert.Equal(t, 123, out.PID)
	assert.False(t, out.CreatedAt.IsZero())
	assert.False(t, out.UpdatedAt.IsZero())
}

func TestRegistry_GetMissing(t *testing.T) {
	r := newTestRegistry(t)
	out, err := r.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRegistry_SavePreservesCreatedAt(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Save(&Session{Name: "a", Status: StatusLive}))

	first, err := r.Get("a")
	require.NoError(t, err)

	require.NoError(t, r.Save(&Session{Name: "a", Status: StatusCrashed}))
	second, err := r.Get("a")
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, StatusCrashed, second.Status)
}

func TestRegistry_Update(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Save(&Session{Name: "a", Status: StatusLive}))

	err := r.Update("a", func(s *Session) { s.Status = StatusExpired })
	require.NoError(t, err)

	out, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, out.Status)
}

func TestRegistry_UpdateMissingReturnsNotFound(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Update("ghost", func(s *Session) {})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_DeleteAbsentIsNotError(t *testing.T) {
	r := newTestRegistry(t)
	assert.NoError(t, r.Delete("ghost"))
}

func TestRegistry_List(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Save(&Session{Name: "a", Status: StatusLive}))
	require.NoError(t, r.Save(&Session{Name: "b", Status: StatusLive}))

	all, err := r.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRegistry_ConsolidateMarksDeadPIDsCrashed(t *testing.T) {
	r := newTestRegistry(t)
	// A pid that is extremely unlikely to be alive in the test sandbox.
	require.NoError(t, r.Save(&Session{Name: "a", Status: StatusLive, PID: 999999}))
	require.NoError(t, r.Save(&Session{Name: "b", Status: StatusExpired, PID: 999998}))

	changed, err := r.Consolidate()
	require.NoError(t, err)
	assert.Len(t, changed, 2)

	a, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, StatusCrashed, a.Status)
	assert.Equal(t, 0, a.PID)

	b, err := r.Get("b")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, b.Status, "an already-expired record is never reclassified as crashed")
}

func TestRegistry_LoadMalformedJSONTreatedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	r := New(path, 0)
	require.NoError(t, r.Save(&Session{Name: "a", Status: StatusLive}))

	// Corrupt the file directly; the registry must not surface this as an error.
	require.NoError(t, os.WriteFile(path, []byte("{not valid json"), 0o600))

	out, err := r.Get("a")
	require.NoError(t, err)
	assert.Nil(t, out)
}
