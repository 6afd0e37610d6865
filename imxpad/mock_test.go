package imxpad

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockRoundTripsConfigG(t *testing.T) {
	m := NewMockCamera(S140)
	require.NoError(t, m.LoadConfigG(ITHL, 33))
	path := filepath.Join(t.TempDir(), "a.cfg")
	require.NoError(t, m.SaveConfigGToFile(path))

	require.NoError(t, m.LoadDefaultConfigGValues())
	vals, err := m.ReadConfigG(ITHL)
	require.NoError(t, err)
	assert.Equal(t, 25, vals[0])

	require.NoError(t, m.LoadConfigGFromFile(path))
	vals, err = m.ReadConfigG(ITHL)
	require.NoError(t, err)
	assert.Len(t, vals, 14)
	assert.Equal(t, 33, vals[13])
}

func TestMockRejectsShortConfigG(t *testing.T) {
	m := NewMockCamera(S70)
	path := filepath.Join(t.TempDir(), "bad.cfg")
	require.NoError(t, os.WriteFile(path, []byte("1 2 3\n"), 0o644))
	assert.Error(t, m.LoadConfigGFromFile(path))
}

func TestMockConfigL(t *testing.T) {
	m := NewMockCamera(S10)
	require.NoError(t, m.LoadFlatConfigL(2))
	path := filepath.Join(t.TempDir(), "a.cfl")
	require.NoError(t, m.SaveConfigLToFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, data, 80*120)
	assert.Equal(t, byte(17), data[0])
}

func TestMockITHLSteps(t *testing.T) {
	m := NewMockCamera(S70)
	require.NoError(t, m.ITHLIncrease())
	vals, _ := m.ReadConfigG(ITHL)
	assert.Equal(t, 26, vals[0])
	require.NoError(t, m.LoadConfigG(ITHL, 0))
	assert.Error(t, m.ITHLDecrease())
}

func TestMockReady(t *testing.T) {
	m := NewMockCamera(S70)
	code, _ := m.AskReady()
	assert.NotEqual(t, 0, code)
	require.NoError(t, m.Init())
	code, _ = m.AskReady()
	assert.Equal(t, 0, code)
	mask, _ := m.GetModuleMask()
	assert.Equal(t, uint(1), mask)
}
