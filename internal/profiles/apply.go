package profiles

import (
	"github.com/ngaut/log"

	"github.com/nvoc-project/nvoc/internal/xerrors"
)

// Apply step names, surfaced in PartialApplyError.
const (
	StepPowerLimit   = "power_limit"
	StepClockOffsets = "clock_offsets"
	StepClockLock    = "clock_lock"
	StepFans         = "fans"
)

// DeviceWriter is the set of mutations an apply needs. It is satisfied by
// the facade (inside the elevated helper) and by the gateway (for
// interactive applies from the unprivileged process).
type DeviceWriter interface {
	SetPowerLimit(watts float64) (float64, error)
	SetClockOffsets(coreMHz, memoryMHz *int) (int, int, error)
	SetLockedClocks(minMHz, maxMHz int) error
	SetAllFansSpeed(percent int) (int, error)
	SetAllFansAuto() error
}

// Apply sequences a profile onto the device: power limit, clock offsets,
// frequency lock, then fans. Steps with unset fields are skipped, except
// the frequency lock which is explicitly reset when the profile carries
// none, so an apply always leaves the lock in a known state. A failure
// partway is reported as a PartialApplyError naming the step; earlier
// steps are not rolled back.
func Apply(p *Profile, w DeviceWriter) error {
	if p.PowerLimitWatts != nil {
		if _, err := w.SetPowerLimit(*p.PowerLimitWatts); err != nil {
			return xerrors.NewPartialApplyError(StepPowerLimit, err)
		}
	}

	if p.CoreOffsetMHz != nil || p.MemoryOffsetMHz != nil {
		if _, _, err := w.SetClockOffsets(p.CoreOffsetMHz, p.MemoryOffsetMHz); err != nil {
			return xerrors.NewPartialApplyError(StepClockOffsets, err)
		}
	}

	if p.MaxClockMHz != nil && *p.MaxClockMHz > 0 {
		if err := w.SetLockedClocks(0, *p.MaxClockMHz); err != nil {
			return xerrors.NewPartialApplyError(StepClockLock, err)
		}
	} else {
		if err := w.SetLockedClocks(0, 0); err != nil {
			return xerrors.NewPartialApplyError(StepClockLock, err)
		}
	}

	switch {
	case p.FanMode == FanModeAuto:
		if err := w.SetAllFansAuto(); err != nil {
			return xerrors.NewPartialApplyError(StepFans, err)
		}
	case p.FanMode == FanModeManual && p.FanSpeedPercent != nil:
		if _, err := w.SetAllFansSpeed(*p.FanSpeedPercent); err != nil {
			return xerrors.NewPartialApplyError(StepFans, err)
		}
	}

	log.Infof("applied profile: %s", p.Name)
	return nil
}
