package control

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPauseGateLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pause.json")

	gate, err := NewPauseGate(path)
	require.NoError(t, err)
	assert.False(t, gate.Paused())

	require.NoError(t, gate.Pause("admin", "mantenimiento"))
	assert.True(t, gate.Paused())
	state := gate.State()
	assert.Equal(t, "admin", state.PausedBy)
	assert.Equal(t, "mantenimiento", state.Reason)
	assert.False(t, state.PausedAt.IsZero())

	// A new gate over the same file sees the persisted pause.
	gate2, err := NewPauseGate(path)
	require.NoError(t, err)
	assert.True(t, gate2.Paused())

	require.NoError(t, gate2.Resume("admin"))
	assert.False(t, gate2.Paused())
	state = gate2.State()
	assert.Equal(t, "admin", state.ResumedBy)
	assert.False(t, state.ResumedAt.IsZero())

	// The resume record survives a reload too.
	gate3, err := NewPauseGate(path)
	require.NoError(t, err)
	assert.False(t, gate3.Paused())
	assert.Equal(t, "admin", gate3.State().ResumedBy)
}

func TestPauseGateCorruptFileResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pause.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	gate, err := NewPauseGate(path)
	require.NoError(t, err)
	assert.False(t, gate.Paused())
}

func TestPauseGateCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state", "pause.json")

	gate, err := NewPauseGate(path)
	require.NoError(t, err)
	require.NoError(t, gate.Pause("ops", ""))

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
