package profiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFlags(t *testing.T) *Flags {
	t.Helper()
	f, err := NewFlags(t.TempDir())
	require.NoError(t, err)
	return f
}

func TestFlags_BootProfileRoundTrip(t *testing.T) {
	f := newTestFlags(t)

	assert.Equal(t, "", f.BootProfile())
	require.NoError(t, f.SetBootProfile("gaming"))
	assert.Equal(t, "gaming", f.BootProfile())
	require.NoError(t, f.ClearBootProfile())
	assert.Equal(t, "", f.BootProfile())

	// clearing twice is fine
	require.NoError(t, f.ClearBootProfile())
}

func TestFlags_CrashMarker(t *testing.T) {
	f := newTestFlags(t)

	assert.False(t, f.CheckCrashRecovery())

	require.NoError(t, f.SetApplying())
	// the check consumes the marker
	assert.True(t, f.CheckCrashRecovery())
	assert.False(t, f.CheckCrashRecovery())
}

func TestBootApply_Success(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "profiles"))
	require.NoError(t, err)
	flags, err := NewFlags(dir)
	require.NoError(t, err)

	watts := 250.0
	require.NoError(t, store.Save(&Profile{Name: "boot", PowerLimitWatts: &watts, FanMode: FanModeAuto}))
	require.NoError(t, flags.SetBootProfile("boot"))

	w := &recordingWriter{}
	status, reason, err := BootApply(store, flags, w, "")
	require.NoError(t, err)
	assert.Equal(t, BootStatusSuccess, status)
	assert.Empty(t, reason)
	assert.Contains(t, w.calls, StepPowerLimit)

	// the marker never survives a completed apply
	_, statErr := os.Stat(filepath.Join(dir, ".applying"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestBootApply_CrashMarkerSkips(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "profiles"))
	require.NoError(t, err)
	flags, err := NewFlags(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(&Profile{Name: "boot", FanMode: FanModeAuto}))
	require.NoError(t, flags.SetBootProfile("boot"))
	require.NoError(t, flags.SetApplying())

	w := &recordingWriter{}
	status, reason, err := BootApply(store, flags, w, "")
	require.NoError(t, err)
	assert.Equal(t, BootStatusSkipped, status)
	assert.Equal(t, BootReasonCrashRecovery, reason)
	assert.Empty(t, w.calls)

	// the marker was consumed, the next boot applies normally
	status, _, err = BootApply(store, flags, w, "")
	require.NoError(t, err)
	assert.Equal(t, BootStatusSuccess, status)
}

func TestBootApply_NoProfileConfigured(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "profiles"))
	require.NoError(t, err)
	flags, err := NewFlags(dir)
	require.NoError(t, err)

	status, reason, err := BootApply(store, flags, &recordingWriter{}, "")
	require.NoError(t, err)
	assert.Equal(t, BootStatusSkipped, status)
	assert.Equal(t, BootReasonNoBootProfile, reason)
}

func TestBootApply_FallbackName(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "profiles"))
	require.NoError(t, err)
	flags, err := NewFlags(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(&Profile{Name: "fallback", FanMode: FanModeAuto}))

	status, _, err := BootApply(store, flags, &recordingWriter{}, "fallback")
	require.NoError(t, err)
	assert.Equal(t, BootStatusSuccess, status)
}

func TestBootApply_MissingProfileClearsMarker(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "profiles"))
	require.NoError(t, err)
	flags, err := NewFlags(dir)
	require.NoError(t, err)

	require.NoError(t, flags.SetBootProfile("ghost"))

	_, _, err = BootApply(store, flags, &recordingWriter{}, "")
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, ".applying"))
	assert.True(t, os.IsNotExist(statErr))
}
