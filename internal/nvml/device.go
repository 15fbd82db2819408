package nvml

import "github.com/NVIDIA/go-nvml/pkg/nvml"

// device is the slice of the NVML device surface the facade actually
// calls. nvml.Device satisfies it directly; tests substitute a fake.
type device interface {
	GetName() (string, nvml.Return)
	GetUUID() (string, nvml.Return)
	GetVbiosVersion() (string, nvml.Return)
	GetTemperature(nvml.TemperatureSensors) (uint32, nvml.Return)
	GetUtilizationRates() (nvml.Utilization, nvml.Return)
	GetMemoryInfo() (nvml.Memory, nvml.Return)
	GetFanSpeed() (uint32, nvml.Return)
	GetPowerUsage() (uint32, nvml.Return)
	GetPowerManagementLimit() (uint32, nvml.Return)
	GetPowerManagementDefaultLimit() (uint32, nvml.Return)
	GetPowerManagementLimitConstraints() (uint32, uint32, nvml.Return)
	SetPowerManagementLimit(uint32) nvml.Return
	GetClockInfo(nvml.ClockType) (uint32, nvml.Return)
	GetCurrentClocksThrottleReasons() (uint64, nvml.Return)
	GetCurrPcieLinkGeneration() (int, nvml.Return)
	GetCurrPcieLinkWidth() (int, nvml.Return)
	GetMaxPcieLinkGeneration() (int, nvml.Return)
	GetMaxPcieLinkWidth() (int, nvml.Return)
	GetTemperatureThreshold(nvml.TemperatureThresholds) (uint32, nvml.Return)
	GetTotalEccErrors(nvml.MemoryErrorType, nvml.EccCounterType) (uint64, nvml.Return)
	GetGpcClkVfOffset() (int, nvml.Return)
	SetGpcClkVfOffset(int) nvml.Return
	GetMemClkVfOffset() (int, nvml.Return)
	SetMemClkVfOffset(int) nvml.Return
	GetNumFans() (int, nvml.Return)
	GetFanSpeed_v2(int) (uint32, nvml.Return)
	SetFanSpeed_v2(int, int) nvml.Return
	SetFanControlPolicy(int, nvml.FanControlPolicy) nvml.Return
	SetGpuLockedClocks(uint32, uint32) nvml.Return
	ResetGpuLockedClocks() nvml.Return
}

// nvml.Device is a generated struct with value-receiver methods; this
// assignment breaks at compile time if the binding surface drifts.
var _ device = nvml.Device{}
