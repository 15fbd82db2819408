// Package nvml is the typed control facade over the NVIDIA management
// library. Every mutation passes through the safety policy before it
// reaches the driver, and all optional telemetry degrades to documented
// defaults on hardware or drivers that do not support it.
package nvml

import (
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/ngaut/log"
	"github.com/pkg/errors"
	"github.com/siddontang/go/sync2"

	"github.com/nvoc-project/nvoc/internal/safety"
	"github.com/nvoc-project/nvoc/internal/xerrors"
)

const (
	// clockSampleWindow is the number of core-clock samples kept for the
	// rolling average (about 30 s at one poll per second).
	clockSampleWindow = 30

	// fallbackSlowdownThreshold is reported when the driver does not
	// expose the thermal slowdown threshold.
	fallbackSlowdownThreshold = 83
)

// Controller owns one device handle exclusively for its process lifetime.
// It is not safe for unsynchronized sharing; the embedded mutex serializes
// all device access including read-modify-write sequences.
type Controller struct {
	sync.Mutex

	index       int
	limits      safety.Limits
	dev         device
	initialized bool

	peakCoreClock sync2.AtomicInt64
	clockSamples  []int
}

// New initializes NVML, resolves the device handle for index and returns a
// facade bound to it. Callers must Close when done.
func New(index int, limits safety.Limits) (*Controller, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, errors.Wrapf(xerrors.NewDeviceUnavailableError(), "nvml init: %s", nvml.ErrorString(ret))
	}

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, errors.Wrapf(xerrors.NewDeviceUnavailableError(), "device count: %s", nvml.ErrorString(ret))
	}
	if count == 0 {
		return nil, errors.Wrap(xerrors.NewDeviceUnavailableError(), "no NVIDIA GPU found")
	}
	if index < 0 || index >= count {
		return nil, errors.Wrapf(xerrors.NewDeviceUnavailableError(), "GPU index %d not found, available: 0-%d", index, count-1)
	}

	dev, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return nil, errors.Wrapf(xerrors.NewDeviceUnavailableError(), "device handle: %s", nvml.ErrorString(ret))
	}

	log.Infof("nvml initialized for GPU %d", index)
	return &Controller{
		index:        index,
		limits:       limits,
		dev:          dev,
		initialized:  true,
		clockSamples: make([]int, 0, clockSampleWindow),
	}, nil
}

// newWithDevice binds the facade to an existing device handle. Used by
// tests to substitute a fake device.
func newWithDevice(dev device, index int, limits safety.Limits) *Controller {
	return &Controller{
		index:        index,
		limits:       limits,
		dev:          dev,
		initialized:  true,
		clockSamples: make([]int, 0, clockSampleWindow),
	}
}

// Close shuts NVML down and releases the handle.
func (c *Controller) Close() {
	c.Lock()
	defer c.Unlock()

	if !c.initialized {
		return
	}
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		log.Warnf("nvml shutdown: %s", nvml.ErrorString(ret))
	}
	c.initialized = false
	c.dev = nil
}

// DeviceCount enumerates NVIDIA GPUs without holding a handle open.
func DeviceCount() (int, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return 0, errors.Wrapf(xerrors.NewDeviceUnavailableError(), "nvml init: %s", nvml.ErrorString(ret))
	}
	defer nvml.Shutdown()

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return 0, errors.Wrapf(xerrors.NewDeviceUnavailableError(), "device count: %s", nvml.ErrorString(ret))
	}
	return count, nil
}

// ListDevices returns index and name for every NVIDIA GPU in the system.
func ListDevices() ([]DeviceInfo, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, errors.Wrapf(xerrors.NewDeviceUnavailableError(), "nvml init: %s", nvml.ErrorString(ret))
	}
	defer nvml.Shutdown()

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, errors.Wrapf(xerrors.NewDeviceUnavailableError(), "device count: %s", nvml.ErrorString(ret))
	}

	devices := make([]DeviceInfo, 0, count)
	for i := 0; i < count; i++ {
		dev, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			continue
		}
		name, ret := dev.GetName()
		if ret != nvml.SUCCESS {
			name = "Unknown"
		}
		devices = append(devices, DeviceInfo{Index: i, Name: name})
	}
	return devices, nil
}

func (c *Controller) ensureInitialized() error {
	if !c.initialized || c.dev == nil {
		return errors.Wrap(xerrors.NewDeviceUnavailableError(), "nvml not initialized")
	}
	return nil
}

// wrapReturn converts a non-success NVML return into the error taxonomy.
func wrapReturn(ret nvml.Return, op string) error {
	switch ret {
	case nvml.SUCCESS:
		return nil
	case nvml.ERROR_NO_PERMISSION:
		return errors.Wrap(xerrors.NewPermissionDeniedError(), op)
	default:
		return errors.Errorf("%s: %s", op, nvml.ErrorString(ret))
	}
}

// GetInfo fetches static device information.
func (c *Controller) GetInfo() (DeviceInfo, error) {
	c.Lock()
	defer c.Unlock()

	var info DeviceInfo
	if err := c.ensureInitialized(); err != nil {
		return info, err
	}

	name, ret := c.dev.GetName()
	if ret != nvml.SUCCESS {
		return info, wrapReturn(ret, "get name")
	}
	uuid, ret := c.dev.GetUUID()
	if ret != nvml.SUCCESS {
		return info, wrapReturn(ret, "get uuid")
	}
	// Driver version, VBIOS and PCIe state are optional on some platforms.
	driver, ret := nvml.SystemGetDriverVersion()
	if ret != nvml.SUCCESS {
		driver = "Unknown"
	}
	vbios, ret := c.dev.GetVbiosVersion()
	if ret != nvml.SUCCESS {
		vbios = "Unknown"
	}
	pcieGen, ret := c.dev.GetCurrPcieLinkGeneration()
	if ret != nvml.SUCCESS {
		pcieGen = 0
	}
	pcieWidth, ret := c.dev.GetCurrPcieLinkWidth()
	if ret != nvml.SUCCESS {
		pcieWidth = 0
	}

	mem, ret := c.dev.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return info, wrapReturn(ret, "get memory info")
	}

	return DeviceInfo{
		Index:         c.index,
		Name:          name,
		UUID:          uuid,
		DriverVersion: driver,
		VBIOSVersion:  vbios,
		PCIeGen:       pcieGen,
		PCIeWidth:     pcieWidth,
		MemoryTotalMB: int(mem.Total / (1024 * 1024)),
	}, nil
}

// GetStats reads a telemetry snapshot. Temperature, utilization and memory
// are mandatory and propagate failure; everything else independently falls
// back to its documented default on unsupported hardware.
func (c *Controller) GetStats() (DeviceStats, error) {
	c.Lock()
	defer c.Unlock()
	return c.getStatsLocked()
}

func (c *Controller) getStatsLocked() (DeviceStats, error) {
	var stats DeviceStats
	if err := c.ensureInitialized(); err != nil {
		return stats, err
	}

	temp, ret := c.dev.GetTemperature(nvml.TEMPERATURE_GPU)
	if ret != nvml.SUCCESS {
		return stats, wrapReturn(ret, "get temperature")
	}
	util, ret := c.dev.GetUtilizationRates()
	if ret != nvml.SUCCESS {
		return stats, wrapReturn(ret, "get utilization")
	}
	mem, ret := c.dev.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return stats, wrapReturn(ret, "get memory info")
	}

	fanSpeed := 0
	if speed, ret := c.dev.GetFanSpeed(); ret == nvml.SUCCESS {
		fanSpeed = int(speed)
	}

	var powerDraw, powerLimit float64
	if mw, ret := c.dev.GetPowerUsage(); ret == nvml.SUCCESS {
		powerDraw = float64(mw) / 1000.0
	}
	if mw, ret := c.dev.GetPowerManagementLimit(); ret == nvml.SUCCESS {
		powerLimit = float64(mw) / 1000.0
	}

	coreClock := 0
	if clk, ret := c.dev.GetClockInfo(nvml.CLOCK_GRAPHICS); ret == nvml.SUCCESS {
		coreClock = int(clk)
	}
	memClock := 0
	if clk, ret := c.dev.GetClockInfo(nvml.CLOCK_MEM); ret == nvml.SUCCESS {
		memClock = int(clk)
	}

	reasons := []ThrottleReason{}
	if mask, ret := c.dev.GetCurrentClocksThrottleReasons(); ret == nvml.SUCCESS {
		reasons = decodeThrottleReasons(mask)
	}

	if int64(coreClock) > c.peakCoreClock.Get() {
		c.peakCoreClock.Set(int64(coreClock))
	}

	c.clockSamples = append(c.clockSamples, coreClock)
	if len(c.clockSamples) > clockSampleWindow {
		c.clockSamples = c.clockSamples[1:]
	}
	avgClock := 0
	if len(c.clockSamples) > 0 {
		sum := 0
		for _, s := range c.clockSamples {
			sum += s
		}
		avgClock = sum / len(c.clockSamples)
	}

	pcieGen, pcieWidth, pcieGenMax, pcieWidthMax := 0, 0, 0, 0
	if g, ret := c.dev.GetCurrPcieLinkGeneration(); ret == nvml.SUCCESS {
		pcieGen = g
	}
	if w, ret := c.dev.GetCurrPcieLinkWidth(); ret == nvml.SUCCESS {
		pcieWidth = w
	}
	if g, ret := c.dev.GetMaxPcieLinkGeneration(); ret == nvml.SUCCESS {
		pcieGenMax = g
	}
	if w, ret := c.dev.GetMaxPcieLinkWidth(); ret == nvml.SUCCESS {
		pcieWidthMax = w
	}

	threshold := fallbackSlowdownThreshold
	if t, ret := c.dev.GetTemperatureThreshold(nvml.TEMPERATURE_THRESHOLD_SLOWDOWN); ret == nvml.SUCCESS {
		threshold = int(t)
	}

	memoryErrors := 0
	if count, ret := c.dev.GetTotalEccErrors(nvml.MEMORY_ERROR_TYPE_UNCORRECTED, nvml.VOLATILE_ECC); ret == nvml.SUCCESS {
		memoryErrors = int(count)
	}

	return DeviceStats{
		TemperatureCelsius:      int(temp),
		FanSpeedPercent:         fanSpeed,
		PowerDrawWatts:          powerDraw,
		PowerLimitWatts:         powerLimit,
		GPUUtilPercent:          int(util.Gpu),
		MemoryUtilPercent:       int(util.Memory),
		MemoryUsedMB:            int(mem.Used / (1024 * 1024)),
		MemoryTotalMB:           int(mem.Total / (1024 * 1024)),
		CoreClockMHz:            coreClock,
		MemoryClockMHz:          memClock,
		ThrottleReasons:         reasons,
		PeakCoreClockMHz:        int(c.peakCoreClock.Get()),
		AvgCoreClockMHz:         avgClock,
		PCIeGen:                 pcieGen,
		PCIeWidth:               pcieWidth,
		PCIeGenMax:              pcieGenMax,
		PCIeWidthMax:            pcieWidthMax,
		ThermalThresholdCelsius: threshold,
		ThermalHeadroomCelsius:  threshold - int(temp),
		PowerLimitActive:        powerConstrained(reasons),
		MemoryErrors:            memoryErrors,
	}, nil
}

// ResetPeakClock zeroes the tracked peak core clock.
func (c *Controller) ResetPeakClock() {
	c.peakCoreClock.Set(0)
	log.Info("peak clock counter reset")
}

// GetPowerLimits queries current power constraints from the device.
func (c *Controller) GetPowerLimits() (PowerLimits, error) {
	c.Lock()
	defer c.Unlock()
	return c.getPowerLimitsLocked()
}

func (c *Controller) getPowerLimitsLocked() (PowerLimits, error) {
	var limits PowerLimits
	if err := c.ensureInitialized(); err != nil {
		return limits, err
	}

	current, ret := c.dev.GetPowerManagementLimit()
	if ret != nvml.SUCCESS {
		return limits, wrapReturn(ret, "get power limit")
	}
	def, ret := c.dev.GetPowerManagementDefaultLimit()
	if ret != nvml.SUCCESS {
		return limits, wrapReturn(ret, "get default power limit")
	}
	min, max, ret := c.dev.GetPowerManagementLimitConstraints()
	if ret != nvml.SUCCESS {
		return limits, wrapReturn(ret, "get power limit constraints")
	}

	return PowerLimits{
		CurrentWatts: float64(current) / 1000.0,
		DefaultWatts: float64(def) / 1000.0,
		MinWatts:     float64(min) / 1000.0,
		MaxWatts:     float64(max) / 1000.0,
	}, nil
}

// SetPowerLimit clamps watts into the freshly re-read hardware constraints
// and writes it. Returns the value actually applied.
func (c *Controller) SetPowerLimit(watts float64) (float64, error) {
	c.Lock()
	defer c.Unlock()

	if err := c.ensureInitialized(); err != nil {
		return 0, err
	}

	limits, err := c.getPowerLimitsLocked()
	if err != nil {
		return 0, err
	}

	clamped := safety.ClampPower(watts, limits.MinWatts, limits.MaxWatts)
	if clamped != watts {
		log.Warnf("power limit %.1fW clamped to %.1fW (valid range %.1fW-%.1fW)",
			watts, clamped, limits.MinWatts, limits.MaxWatts)
	}

	milliwatts := uint32(clamped * 1000)
	if ret := c.dev.SetPowerManagementLimit(milliwatts); ret != nvml.SUCCESS {
		return 0, wrapReturn(ret, "set power limit")
	}

	log.Infof("power limit set to %.1fW", clamped)
	return clamped, nil
}

// GetClockOffsets reads the current core and memory offsets. Either may
// read as 0 after a driver reset even if previously set.
func (c *Controller) GetClockOffsets() (ClockOffsets, error) {
	c.Lock()
	defer c.Unlock()
	return c.getClockOffsetsLocked()
}

func (c *Controller) getClockOffsetsLocked() (ClockOffsets, error) {
	var offsets ClockOffsets
	if err := c.ensureInitialized(); err != nil {
		return offsets, err
	}

	if core, ret := c.dev.GetGpcClkVfOffset(); ret == nvml.SUCCESS {
		offsets.CoreOffsetMHz = core
	}
	if mem, ret := c.dev.GetMemClkVfOffset(); ret == nvml.SUCCESS {
		offsets.MemoryOffsetMHz = mem
	}
	return offsets, nil
}

// SetClockOffsets writes clamped clock offsets. A nil component defaults
// to the current read value, not zero. The thermal guard is checked
// against a fresh stats read immediately before writing; when it trips no
// write happens at all. Returns the values actually applied.
func (c *Controller) SetClockOffsets(coreMHz, memoryMHz *int) (int, int, error) {
	c.Lock()
	defer c.Unlock()

	if err := c.ensureInitialized(); err != nil {
		return 0, 0, err
	}

	current, err := c.getClockOffsetsLocked()
	if err != nil {
		return 0, 0, err
	}

	core := current.CoreOffsetMHz
	if coreMHz != nil {
		core = *coreMHz
	}
	mem := current.MemoryOffsetMHz
	if memoryMHz != nil {
		mem = *memoryMHz
	}

	safeCore := safety.ClampOffset(core, c.limits.MaxCoreOffset)
	safeMem := safety.ClampOffset(mem, c.limits.MaxMemoryOffset)
	if safeCore != core {
		log.Warnf("core offset %dMHz clamped to %dMHz (limit ±%dMHz)", core, safeCore, c.limits.MaxCoreOffset)
	}
	if safeMem != mem {
		log.Warnf("memory offset %dMHz clamped to %dMHz (limit ±%dMHz)", mem, safeMem, c.limits.MaxMemoryOffset)
	}

	stats, err := c.getStatsLocked()
	if err != nil {
		return 0, 0, errors.WithMessage(err, "thermal guard stats read")
	}
	if !safety.ThermalGuardOK(stats.TemperatureCelsius, c.limits) {
		return 0, 0, errors.Wrapf(xerrors.NewThermalGuardTrippedError(),
			"GPU at %d°C, offsets refused at or above %d°C", stats.TemperatureCelsius, c.limits.CriticalTemp)
	}

	if ret := c.dev.SetGpcClkVfOffset(safeCore); ret != nvml.SUCCESS {
		return 0, 0, wrapReturn(ret, "set core offset")
	}
	if ret := c.dev.SetMemClkVfOffset(safeMem); ret != nvml.SUCCESS {
		return 0, 0, wrapReturn(ret, "set memory offset")
	}

	log.Infof("clock offsets set, core: %dMHz, memory: %dMHz", safeCore, safeMem)
	return safeCore, safeMem, nil
}

// ResetClockOffsets returns both offsets to stock.
func (c *Controller) ResetClockOffsets() error {
	zero := 0
	_, _, err := c.SetClockOffsets(&zero, &zero)
	return err
}

// SetLockedClocks pins the core clock into [minMHz, maxMHz]. The pair
// (0, 0) disables the lock.
func (c *Controller) SetLockedClocks(minMHz, maxMHz int) error {
	c.Lock()
	defer c.Unlock()

	if err := c.ensureInitialized(); err != nil {
		return err
	}

	if minMHz == 0 && maxMHz == 0 {
		if ret := c.dev.ResetGpuLockedClocks(); ret != nvml.SUCCESS {
			return wrapReturn(ret, "reset locked clocks")
		}
		log.Info("GPU locked clocks reset")
		return nil
	}

	if ret := c.dev.SetGpuLockedClocks(uint32(minMHz), uint32(maxMHz)); ret != nvml.SUCCESS {
		return wrapReturn(ret, "set locked clocks")
	}
	log.Infof("GPU locked clocks set to %d-%dMHz", minMHz, maxMHz)
	return nil
}

// GetFanCount reports how many fans the device exposes.
func (c *Controller) GetFanCount() (int, error) {
	c.Lock()
	defer c.Unlock()

	if err := c.ensureInitialized(); err != nil {
		return 0, err
	}
	count, ret := c.dev.GetNumFans()
	if ret != nvml.SUCCESS {
		return 0, nil
	}
	return count, nil
}

// GetFanSpeed reads the reported speed for one fan, falling back to the
// legacy whole-device query on drivers without per-fan support.
func (c *Controller) GetFanSpeed(fanIndex int) (int, error) {
	c.Lock()
	defer c.Unlock()

	if err := c.ensureInitialized(); err != nil {
		return 0, err
	}

	if speed, ret := c.dev.GetFanSpeed_v2(fanIndex); ret == nvml.SUCCESS {
		return int(speed), nil
	}
	if speed, ret := c.dev.GetFanSpeed(); ret == nvml.SUCCESS {
		return int(speed), nil
	}
	return 0, nil
}

// SetFanSpeed applies the fan floor and thermal escalation at the current
// temperature, switches the fan policy to manual and commands the speed.
// Returns the value actually applied.
func (c *Controller) SetFanSpeed(percent, fanIndex int) (int, error) {
	c.Lock()
	defer c.Unlock()

	if err := c.ensureInitialized(); err != nil {
		return 0, err
	}

	stats, err := c.getStatsLocked()
	if err != nil {
		return 0, errors.WithMessage(err, "fan floor stats read")
	}

	safe := safety.FanFloor(percent, stats.TemperatureCelsius, c.limits)
	if safe != percent {
		log.Warnf("fan speed %d%% adjusted to %d%% at %d°C", percent, safe, stats.TemperatureCelsius)
	}

	if ret := c.dev.SetFanControlPolicy(fanIndex, nvml.FAN_POLICY_MANUAL); ret != nvml.SUCCESS {
		return 0, wrapReturn(ret, "set fan policy manual")
	}
	if ret := c.dev.SetFanSpeed_v2(fanIndex, safe); ret != nvml.SUCCESS {
		return 0, wrapReturn(ret, "set fan speed")
	}

	log.Infof("fan %d speed set to %d%%", fanIndex, safe)
	return safe, nil
}

// SetFanAuto restores the firmware's automatic control policy for one fan.
func (c *Controller) SetFanAuto(fanIndex int) error {
	c.Lock()
	defer c.Unlock()

	if err := c.ensureInitialized(); err != nil {
		return err
	}

	if ret := c.dev.SetFanControlPolicy(fanIndex, nvml.FAN_POLICY_TEMPERATURE_CONTINOUS_SW); ret != nvml.SUCCESS {
		return wrapReturn(ret, "set fan policy auto")
	}
	log.Infof("fan %d set to automatic control", fanIndex)
	return nil
}

// SetAllFansSpeed commands every fan to the same percentage. Not atomic
// across fans: the first failure aborts the loop and fans already written
// keep their new state. Returns the applied speed of the last fan written.
func (c *Controller) SetAllFansSpeed(percent int) (int, error) {
	count, err := c.GetFanCount()
	if err != nil {
		return 0, err
	}
	if count < 1 {
		count = 1
	}

	applied := 0
	for i := 0; i < count; i++ {
		applied, err = c.SetFanSpeed(percent, i)
		if err != nil {
			return applied, errors.WithMessagef(err, "fan %d of %d", i, count)
		}
	}
	return applied, nil
}

// SetAllFansAuto restores automatic control on every fan, with the same
// partial-failure behavior as SetAllFansSpeed.
func (c *Controller) SetAllFansAuto() error {
	count, err := c.GetFanCount()
	if err != nil {
		return err
	}
	if count < 1 {
		count = 1
	}

	for i := 0; i < count; i++ {
		if err := c.SetFanAuto(i); err != nil {
			return errors.WithMessagef(err, "fan %d of %d", i, count)
		}
	}
	return nil
}
