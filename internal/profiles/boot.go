package profiles

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ngaut/log"
	"github.com/pkg/errors"
)

const (
	bootProfileFile = "default_profile.txt"
	applyingMarker  = ".applying"
)

// Boot-apply statuses reported by BootApply.
const (
	BootStatusSuccess = "success"
	BootStatusSkipped = "skipped"

	BootReasonCrashRecovery = "crash_recovery"
	BootReasonNoBootProfile = "no_boot_profile"
)

// Flags holds the two single-record flag files next to the profile store:
// the boot-profile name and the crash marker. The marker is a bare
// existence flag; its content carries no meaning.
type Flags struct {
	dir string
}

// NewFlags binds the flag files to a directory, creating it if needed.
func NewFlags(dir string) (*Flags, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create flags dir %s", dir)
	}
	return &Flags{dir: dir}, nil
}

func (f *Flags) bootProfilePath() string { return filepath.Join(f.dir, bootProfileFile) }
func (f *Flags) markerPath() string      { return filepath.Join(f.dir, applyingMarker) }

// BootProfile returns the configured boot-profile name, or empty when none
// is set.
func (f *Flags) BootProfile() string {
	data, err := os.ReadFile(f.bootProfilePath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SetBootProfile records the profile to apply at boot.
func (f *Flags) SetBootProfile(name string) error {
	if err := os.WriteFile(f.bootProfilePath(), []byte(name), 0644); err != nil {
		return errors.Wrap(err, "write boot profile record")
	}
	log.Infof("boot profile set to %s", name)
	return nil
}

// ClearBootProfile removes the boot-profile record.
func (f *Flags) ClearBootProfile() error {
	if err := os.Remove(f.bootProfilePath()); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "clear boot profile record")
	}
	return nil
}

// SetApplying creates the crash marker. It must exist only strictly
// between "apply started" and "apply completed or failed".
func (f *Flags) SetApplying() error {
	file, err := os.OpenFile(f.markerPath(), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "set applying marker")
	}
	return file.Close()
}

// ClearApplying removes the crash marker. Missing markers are not errors.
func (f *Flags) ClearApplying() {
	if err := os.Remove(f.markerPath()); err != nil && !os.IsNotExist(err) {
		log.Warnf("failed to clear applying marker: %v", err)
	}
}

// CheckCrashRecovery reports whether a previous apply was interrupted.
// When the marker exists it is cleared and true is returned; the
// interrupted apply is treated as abandoned, never retried.
func (f *Flags) CheckCrashRecovery() bool {
	if _, err := os.Stat(f.markerPath()); err != nil {
		return false
	}
	log.Warn("crash marker found, previous apply did not complete")
	f.ClearApplying()
	return true
}

// BootApply runs the boot-time profile apply. The crash marker is
// consulted first: if present the apply is skipped entirely. Otherwise the
// marker brackets the orchestration and is cleared on every exit path, so
// it only outlives this call if the process itself dies mid-apply.
func BootApply(store *Store, flags *Flags, w DeviceWriter, fallbackName string) (status, reason string, err error) {
	if flags.CheckCrashRecovery() {
		return BootStatusSkipped, BootReasonCrashRecovery, nil
	}

	name := flags.BootProfile()
	if name == "" {
		name = fallbackName
	}
	if name == "" {
		return BootStatusSkipped, BootReasonNoBootProfile, nil
	}

	if err := flags.SetApplying(); err != nil {
		return "", "", err
	}
	defer flags.ClearApplying()

	p, err := store.Load(name)
	if err != nil {
		return "", "", errors.WithMessagef(err, "boot profile %q", name)
	}
	if err := Apply(p, w); err != nil {
		return "", "", errors.WithMessagef(err, "boot apply of %q", name)
	}
	return BootStatusSuccess, "", nil
}
