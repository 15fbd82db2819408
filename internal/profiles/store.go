package profiles

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ngaut/log"
	"github.com/pkg/errors"

	"github.com/nvoc-project/nvoc/internal/nvml"
	"github.com/nvoc-project/nvoc/internal/xerrors"
)

// Store keeps one JSON record per profile under a directory, keyed by the
// sanitized profile name. Records are human-diffable text.
type Store struct {
	dir string
}

// NewStore opens (and creates if needed) the profile directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create profiles dir %s", dir)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, Sanitize(name)+".json")
}

// Save persists a profile. created_at is set only on first save;
// updated_at always advances.
func (s *Store) Save(p *Profile) error {
	now := time.Now().Format(time.RFC3339Nano)
	if p.CreatedAt == "" {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "marshal profile %s", p.Name)
	}
	if err := os.WriteFile(s.path(p.Name), data, 0644); err != nil {
		return errors.Wrapf(err, "write profile %s", p.Name)
	}
	log.Infof("profile saved: %s", p.Name)
	return nil
}

// Load reads a profile by name.
func (s *Store) Load(name string) (*Profile, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(xerrors.NewProfileNotFoundError(), "profile %q", name)
		}
		return nil, errors.Wrapf(err, "read profile %s", name)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrapf(err, "decode profile %s", name)
	}
	return &p, nil
}

// Delete removes a profile record.
func (s *Store) Delete(name string) error {
	if err := os.Remove(s.path(name)); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(xerrors.NewProfileNotFoundError(), "profile %q", name)
		}
		return errors.Wrapf(err, "delete profile %s", name)
	}
	log.Infof("profile deleted: %s", name)
	return nil
}

// List returns every readable profile, sorted by name. Unreadable records
// are logged and skipped rather than failing the listing.
func (s *Store) List() ([]*Profile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read profiles dir %s", s.dir)
	}

	result := make([]*Profile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			log.Warnf("could not read profile file %s: %v", e.Name(), err)
			continue
		}
		var p Profile
		if err := json.Unmarshal(data, &p); err != nil {
			log.Warnf("could not decode profile file %s: %v", e.Name(), err)
			continue
		}
		result = append(result, &p)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// exportEnvelope wraps a profile for interchange with other machines.
type exportEnvelope struct {
	Version    string   `json:"nvoc_version"`
	ExportDate string   `json:"export_date"`
	Profile    *Profile `json:"profile"`
}

// ExportBytes renders one profile wrapped in the interchange envelope.
func (s *Store) ExportBytes(name string) ([]byte, error) {
	p, err := s.Load(name)
	if err != nil {
		return nil, err
	}

	env := exportEnvelope{
		Version:    "1.0",
		ExportDate: time.Now().Format(time.RFC3339),
		Profile:    p,
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, errors.Wrapf(err, "marshal export of %s", name)
	}
	return data, nil
}

// Export writes one profile to an external file with an envelope.
func (s *Store) Export(name, destPath string) error {
	data, err := s.ExportBytes(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(destPath, data, 0644); err != nil {
		return errors.Wrapf(err, "write export %s", destPath)
	}
	log.Infof("profile %s exported to %s", name, destPath)
	return nil
}

// ImportBytes decodes a profile from interchange data, accepting both
// the envelope and a bare profile. Existing profiles are only replaced
// when overwrite is set.
func (s *Store) ImportBytes(data []byte, overwrite bool) (*Profile, error) {
	var env exportEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Profile != nil {
		return s.importProfile(env.Profile, overwrite)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "decode imported profile")
	}
	return s.importProfile(&p, overwrite)
}

// Import reads a profile from an external file.
func (s *Store) Import(srcPath string, overwrite bool) (*Profile, error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return nil, errors.Wrapf(err, "read import %s", srcPath)
	}
	return s.ImportBytes(data, overwrite)
}

func (s *Store) importProfile(p *Profile, overwrite bool) (*Profile, error) {
	if p.Name == "" {
		return nil, errors.New("imported profile has no name")
	}
	if _, err := s.Load(p.Name); err == nil && !overwrite {
		return nil, errors.Errorf("profile %q already exists", p.Name)
	}
	if err := s.Save(p); err != nil {
		return nil, err
	}
	return p, nil
}

// settingsReader is the slice of the facade needed to capture a profile
// from the running device state.
type settingsReader interface {
	GetPowerLimits() (nvml.PowerLimits, error)
	GetClockOffsets() (nvml.ClockOffsets, error)
}

// FromCurrent builds a new profile from the device's current power limit
// and clock offsets.
func FromCurrent(name, description string, r settingsReader) (*Profile, error) {
	power, err := r.GetPowerLimits()
	if err != nil {
		return nil, errors.WithMessage(err, "read power limits")
	}
	offsets, err := r.GetClockOffsets()
	if err != nil {
		return nil, errors.WithMessage(err, "read clock offsets")
	}

	watts := power.CurrentWatts
	core := offsets.CoreOffsetMHz
	mem := offsets.MemoryOffsetMHz
	return &Profile{
		Name:            name,
		PowerLimitWatts: &watts,
		CoreOffsetMHz:   &core,
		MemoryOffsetMHz: &mem,
		FanMode:         FanModeAuto,
		Description:     description,
	}, nil
}
