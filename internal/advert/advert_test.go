package advert

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndReleaseLock(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, AcquireLock(dir))

	b, err := os.ReadFile(filepath.Join(dir, "daemon.pid"))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(b))

	// re-acquiring our own lock is allowed (same pid)
	require.NoError(t, AcquireLock(dir))

	ReleaseLock(dir)
	_, err = os.Stat(filepath.Join(dir, "daemon.pid"))
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireLockHeldByLiveProcess(t *testing.T) {
	dir := t.TempDir()
	// PID 1 is always alive
	require.NoError(t, os.WriteFile(filepath.Join(dir, "daemon.pid"), []byte("1"), 0o600))

	err := AcquireLock(dir)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestAcquireLockStaleTakeover(t *testing.T) {
	dir := t.TempDir()
	// An implausibly large PID that cannot be alive.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "daemon.pid"), []byte("999999999"), 0o600))

	require.NoError(t, AcquireLock(dir))
	b, _ := os.ReadFile(filepath.Join(dir, "daemon.pid"))
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(b))
}

func TestAdvertisementRoundtrip(t *testing.T) {
	dir := t.TempDir()
	in := Advertisement{
		PID:       os.Getpid(),
		Port:      43111,
		Token:     "deadbeef",
		StartedAt: time.Now().UTC().Truncate(time.Second),
		StateDir:  dir,
	}
	require.NoError(t, Write(dir, in))

	fi, err := os.Stat(filepath.Join(dir, "daemon.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm(), "advertisement carries the token")

	out, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, "http://127.0.0.1:43111", out.BaseURL())

	Remove(dir)
	_, err = Read(dir)
	assert.Error(t, err)
}

func TestReadCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "daemon.json"), []byte("{nope"), 0o600))
	_, err := Read(dir)
	assert.ErrorContains(t, err, "corrupt advertisement")
}
