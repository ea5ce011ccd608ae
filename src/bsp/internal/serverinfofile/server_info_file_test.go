package serverinfofile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/config"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func newTestInfoFile(t *testing.T, path string) (ServerInfoFile, *fxtest.Lifecycle) {
	t.Helper()

	provider, err := config.NewStaticProvider(map[string]interface{}{
		_configKeyInfoFile: path,
	})
	require.NoError(t, err)

	lc := fxtest.NewLifecycle(t)
	m, err := New(Params{
		Config:    provider,
		Lifecycle: lc,
		Logger:    zap.NewNop().Sugar(),
	})
	require.NoError(t, err)
	return m, lc
}

func TestUpdateAndReadField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server-info.json")
	m, _ := newTestInfoFile(t, path)

	require.NoError(t, m.UpdateField("bsp-address", "127.0.0.1:27400"))
	require.NoError(t, m.UpdateField("pid", "12345"))

	// Earlier fields survive later updates.
	value, err := m.ReadField("bsp-address")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:27400", value)

	value, err = m.ReadField("pid")
	require.NoError(t, err)
	assert.Equal(t, "12345", value)
}

func TestReadMissingField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server-info.json")
	m, _ := newTestInfoFile(t, path)

	require.NoError(t, m.UpdateField("bsp-address", "127.0.0.1:27400"))

	_, err := m.ReadField("nonexistent")
	assert.Error(t, err)
}

func TestReadBeforeAnyWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server-info.json")
	m, _ := newTestInfoFile(t, path)

	_, err := m.ReadField("bsp-address")
	assert.Error(t, err)
}

func TestMissingConfig(t *testing.T) {
	provider, err := config.NewStaticProvider(map[string]interface{}{})
	require.NoError(t, err)

	_, err = New(Params{
		Config:    provider,
		Lifecycle: fxtest.NewLifecycle(t),
		Logger:    zap.NewNop().Sugar(),
	})
	assert.Error(t, err)
}

func TestOnStopRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server-info.json")
	m, lc := newTestInfoFile(t, path)

	lc.RequireStart()
	require.NoError(t, m.UpdateField("bsp-address", "127.0.0.1:27400"))

	_, err := os.Stat(path)
	require.NoError(t, err)

	lc.RequireStop()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestOnStopWithoutFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server-info.json")
	_, lc := newTestInfoFile(t, path)

	// Stopping before any field was written is not an error.
	lc.RequireStart()
	lc.RequireStop()
}
