package profiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvoc-project/nvoc/internal/xerrors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestStore_SaveLoad(t *testing.T) {
	s := newTestStore(t)

	watts := 250.0
	core := 100
	p := &Profile{
		Name:            "Gaming OC",
		PowerLimitWatts: &watts,
		CoreOffsetMHz:   &core,
		FanMode:         FanModeAuto,
		Description:     "daily driver",
	}
	require.NoError(t, s.Save(p))
	assert.NotEmpty(t, p.CreatedAt)
	assert.NotEmpty(t, p.UpdatedAt)

	// lookup goes through the same sanitized identifier
	loaded, err := s.Load("gaming oc")
	require.NoError(t, err)
	assert.Equal(t, "Gaming OC", loaded.Name)
	assert.Equal(t, 250.0, *loaded.PowerLimitWatts)
	assert.Equal(t, 100, *loaded.CoreOffsetMHz)
	assert.Nil(t, loaded.MemoryOffsetMHz)
	assert.Equal(t, "daily driver", loaded.Description)
}

func TestStore_SavePreservesCreatedAt(t *testing.T) {
	s := newTestStore(t)

	p := &Profile{Name: "p1", FanMode: FanModeAuto}
	require.NoError(t, s.Save(p))
	created := p.CreatedAt

	p.Description = "edited"
	require.NoError(t, s.Save(p))
	assert.Equal(t, created, p.CreatedAt)
	assert.GreaterOrEqual(t, p.UpdatedAt, created)
}

func TestStore_LoadMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load("nope")
	require.Error(t, err)
	assert.True(t, xerrors.IsProfileNotFoundError(err))
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save(&Profile{Name: "doomed", FanMode: FanModeAuto}))
	require.NoError(t, s.Delete("doomed"))

	_, err := s.Load("doomed")
	assert.True(t, xerrors.IsProfileNotFoundError(err))

	err = s.Delete("doomed")
	assert.True(t, xerrors.IsProfileNotFoundError(err))
}

func TestStore_ListSkipsCorrupt(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Save(&Profile{Name: "beta", FanMode: FanModeAuto}))
	require.NoError(t, s.Save(&Profile{Name: "alpha", FanMode: FanModeAuto}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0644))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "beta", list[1].Name)
}

func TestStore_ExportImport(t *testing.T) {
	src := newTestStore(t)
	dst := newTestStore(t)

	watts := 300.0
	require.NoError(t, src.Save(&Profile{Name: "travel", PowerLimitWatts: &watts, FanMode: FanModeAuto}))

	data, err := src.ExportBytes("travel")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"nvoc_version"`)

	imported, err := dst.ImportBytes(data, false)
	require.NoError(t, err)
	assert.Equal(t, "travel", imported.Name)
	assert.Equal(t, 300.0, *imported.PowerLimitWatts)

	// a second import without overwrite must refuse
	_, err = dst.ImportBytes(data, false)
	require.Error(t, err)

	_, err = dst.ImportBytes(data, true)
	require.NoError(t, err)
}

func TestStore_ImportBareProfile(t *testing.T) {
	s := newTestStore(t)

	p, err := s.ImportBytes([]byte(`{"name":"bare","fan_mode":"manual","fan_speed_percent":55}`), false)
	require.NoError(t, err)
	assert.Equal(t, "bare", p.Name)
	assert.Equal(t, FanModeManual, p.FanMode)
	assert.Equal(t, 55, *p.FanSpeedPercent)
}

func TestFromCurrent(t *testing.T) {
	r := &fakeSettingsReader{watts: 280, core: 120, mem: 400}

	p, err := FromCurrent("snapshot", "captured", r)
	require.NoError(t, err)
	assert.Equal(t, 280.0, *p.PowerLimitWatts)
	assert.Equal(t, 120, *p.CoreOffsetMHz)
	assert.Equal(t, 400, *p.MemoryOffsetMHz)
	assert.Equal(t, FanModeAuto, p.FanMode)
	assert.Equal(t, "captured", p.Description)
}
