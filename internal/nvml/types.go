package nvml

import (
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// DeviceInfo is static information about a GPU. Immutable per session.
type DeviceInfo struct {
	Index         int    `json:"index"`
	Name          string `json:"name"`
	UUID          string `json:"uuid"`
	DriverVersion string `json:"driver_version"`
	VBIOSVersion  string `json:"vbios_version"`
	PCIeGen       int    `json:"pcie_gen"`
	PCIeWidth     int    `json:"pcie_width"`
	MemoryTotalMB int    `json:"memory_total_mb"`
}

// DeviceStats is a telemetry snapshot, recomputed on every poll. Peak and
// rolling-average clocks are controller-owned running state, reset only by
// explicit user action.
type DeviceStats struct {
	TemperatureCelsius int     `json:"temperature"`
	FanSpeedPercent    int     `json:"fan_speed"`
	PowerDrawWatts     float64 `json:"power_draw"`
	PowerLimitWatts    float64 `json:"power_limit"`
	GPUUtilPercent     int     `json:"gpu_util"`
	MemoryUtilPercent  int     `json:"mem_util"`
	MemoryUsedMB       int     `json:"vram_used_mb"`
	MemoryTotalMB      int     `json:"vram_total_mb"`

	CoreClockMHz     int              `json:"core_clock"`
	MemoryClockMHz   int              `json:"memory_clock"`
	ThrottleReasons  []ThrottleReason `json:"throttle_reasons"`
	PeakCoreClockMHz int              `json:"peak_core_clock"`
	AvgCoreClockMHz  int              `json:"avg_core_clock"`

	PCIeGen                  int  `json:"pcie_gen"`
	PCIeWidth                int  `json:"pcie_width"`
	PCIeGenMax               int  `json:"pcie_gen_max"`
	PCIeWidthMax             int  `json:"pcie_width_max"`
	ThermalThresholdCelsius  int  `json:"thermal_threshold"`
	ThermalHeadroomCelsius   int  `json:"thermal_headroom"`
	PowerLimitActive         bool `json:"power_limit_active"`
	MemoryErrors             int  `json:"memory_errors"`
}

// PowerLimits are the hardware-reported power constraints. Min and max are
// re-queried whenever a power write occurs, never cached across calls.
type PowerLimits struct {
	CurrentWatts float64 `json:"current"`
	DefaultWatts float64 `json:"default"`
	MinWatts     float64 `json:"min"`
	MaxWatts     float64 `json:"max"`
}

// ClockOffsets are the current overclock offsets. The authoritative value
// lives in the driver and may read as 0 after a reset.
type ClockOffsets struct {
	CoreOffsetMHz   int `json:"core"`
	MemoryOffsetMHz int `json:"memory"`
}

// ThrottleReason is a named tag decoded from the driver's throttle bitmask.
// Tags are independent; several may be active at once and order carries no
// meaning.
type ThrottleReason string

const (
	ThrottleIdle          ThrottleReason = "idle"
	ThrottlePowerSW       ThrottleReason = "power_sw"
	ThrottlePowerHW       ThrottleReason = "power_hw"
	ThrottleThermalSW     ThrottleReason = "thermal_sw"
	ThrottleThermalHW     ThrottleReason = "thermal_hw"
	ThrottleHWSlowdown    ThrottleReason = "hw_slowdown"
	ThrottleSyncBoost     ThrottleReason = "sync_boost"
	ThrottleDisplayClocks ThrottleReason = "display_clocks"
	ThrottleAppClocks     ThrottleReason = "app_clocks"
)

var throttleBits = []struct {
	bit    uint64
	reason ThrottleReason
}{
	{nvml.ClocksThrottleReasonGpuIdle, ThrottleIdle},
	{nvml.ClocksThrottleReasonSwPowerCap, ThrottlePowerSW},
	{nvml.ClocksThrottleReasonHwPowerBrakeSlowdown, ThrottlePowerHW},
	{nvml.ClocksThrottleReasonSwThermalSlowdown, ThrottleThermalSW},
	{nvml.ClocksThrottleReasonHwThermalSlowdown, ThrottleThermalHW},
	{nvml.ClocksThrottleReasonHwSlowdown, ThrottleHWSlowdown},
	{nvml.ClocksThrottleReasonSyncBoost, ThrottleSyncBoost},
	{nvml.ClocksThrottleReasonDisplayClockSetting, ThrottleDisplayClocks},
	{nvml.ClocksThrottleReasonApplicationsClocksSetting, ThrottleAppClocks},
}

// decodeThrottleReasons turns the raw bitmask into a tag set. The raw mask
// never leaves this package.
func decodeThrottleReasons(mask uint64) []ThrottleReason {
	reasons := make([]ThrottleReason, 0, 4)
	for _, tb := range throttleBits {
		if mask&tb.bit != 0 {
			reasons = append(reasons, tb.reason)
		}
	}
	return reasons
}

// powerConstrained reports whether any power tag is in the set, which is
// what PowerLimitActive means.
func powerConstrained(reasons []ThrottleReason) bool {
	for _, r := range reasons {
		if r == ThrottlePowerSW || r == ThrottlePowerHW {
			return true
		}
	}
	return false
}
