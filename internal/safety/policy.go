// Package safety holds the hard limits and pure clamping rules that every
// write path must pass through before a value reaches the driver. The limits
// are intentionally conservative; users who want to push past them can use
// nvidia-smi directly at their own risk.
package safety

// Limits are the process-wide safety constants. They are constructed once
// from config and threaded into the components that need them.
type Limits struct {
	// MaxCoreOffset is the largest allowed |core clock offset| in MHz.
	MaxCoreOffset int
	// MaxMemoryOffset is the largest allowed |memory clock offset| in MHz.
	MaxMemoryOffset int
	// MinFanPercent is the floor for any manually commanded fan speed.
	MinFanPercent int
	// WarningTemp is the temperature at which fan speed is escalated.
	WarningTemp int
	// CriticalTemp forces fans to 100% and refuses clock offset writes.
	CriticalTemp int
}

// DefaultLimits mirrors the shipped configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxCoreOffset:   200,
		MaxMemoryOffset: 500,
		MinFanPercent:   30,
		WarningTemp:     80,
		CriticalTemp:    90,
	}
}

// ClampOffset bounds a signed clock offset into [-maxAbs, maxAbs].
// Clamping is not an error; callers log when the result differs.
func ClampOffset(value, maxAbs int) int {
	if value > maxAbs {
		return maxAbs
	}
	if value < -maxAbs {
		return -maxAbs
	}
	return value
}

// ClampPower bounds a power limit into the hardware-reported [min, max] watts.
func ClampPower(value, minWatts, maxWatts float64) float64 {
	if value < minWatts {
		return minWatts
	}
	if value > maxWatts {
		return maxWatts
	}
	return value
}

// FanFloor returns the fan speed that will actually be commanded for a
// request at the given temperature. At or above critical the request is
// overridden to 100%. At or above warning a minimum of 70% is enforced.
// Below that the configured floor applies. The result is always in
// [l.MinFanPercent, 100].
func FanFloor(requested, temp int, l Limits) int {
	switch {
	case temp >= l.CriticalTemp:
		return 100
	case temp >= l.WarningTemp && requested < 70:
		requested = 70
	}
	if requested < l.MinFanPercent {
		requested = l.MinFanPercent
	}
	if requested > 100 {
		requested = 100
	}
	return requested
}

// ThermalGuardOK reports whether a clock offset write may proceed at the
// given temperature. A false result is a hard refusal, never a clamp.
func ThermalGuardOK(temp int, l Limits) bool {
	return temp < l.CriticalTemp
}
