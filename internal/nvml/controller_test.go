package nvml

import (
	"testing"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvoc-project/nvoc/internal/safety"
	"github.com/nvoc-project/nvoc/internal/xerrors"
)

// fakeDevice implements the package device interface in memory, so the
// facade's clamping and guard logic runs without hardware.
type fakeDevice struct {
	temp      uint32
	coreClock uint32
	memClock  uint32

	powerLimitMW   uint32
	powerDefaultMW uint32
	powerMinMW     uint32
	powerMaxMW     uint32
	setPowerMW     []uint32

	coreOffset int
	memOffset  int

	throttleMask uint64

	numFans    int
	fanSpeeds  map[int]int
	fanPolicy  map[int]nvml.FanControlPolicy
	fanSetErr  nvml.Return
	failAtFan  int

	lockedMin, lockedMax uint32
	lockReset            bool

	eccSupported       bool
	thresholdSupported bool
	thresholdVal       uint32
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		temp:           50,
		coreClock:      1800,
		memClock:       9000,
		powerLimitMW:   300000,
		powerDefaultMW: 320000,
		powerMinMW:     100000,
		powerMaxMW:     450000,
		numFans:        2,
		fanSpeeds:      map[int]int{},
		fanPolicy:      map[int]nvml.FanControlPolicy{},
		fanSetErr:      nvml.SUCCESS,
		failAtFan:      -1,
	}
}

func (f *fakeDevice) GetName() (string, nvml.Return) {
	return "NVIDIA GeForce RTX 4080", nvml.SUCCESS
}

func (f *fakeDevice) GetUUID() (string, nvml.Return) {
	return "GPU-7a9f1e7c", nvml.SUCCESS
}

func (f *fakeDevice) GetVbiosVersion() (string, nvml.Return) {
	return "95.04.31.00.1C", nvml.SUCCESS
}

func (f *fakeDevice) GetTemperature(nvml.TemperatureSensors) (uint32, nvml.Return) {
	return f.temp, nvml.SUCCESS
}

func (f *fakeDevice) GetUtilizationRates() (nvml.Utilization, nvml.Return) {
	return nvml.Utilization{Gpu: 42, Memory: 17}, nvml.SUCCESS
}

func (f *fakeDevice) GetMemoryInfo() (nvml.Memory, nvml.Return) {
	return nvml.Memory{Total: 8 << 30, Used: 2 << 30}, nvml.SUCCESS
}

func (f *fakeDevice) GetFanSpeed() (uint32, nvml.Return) {
	return 35, nvml.SUCCESS
}

func (f *fakeDevice) GetPowerUsage() (uint32, nvml.Return) {
	return 150000, nvml.SUCCESS
}

func (f *fakeDevice) GetPowerManagementLimit() (uint32, nvml.Return) {
	return f.powerLimitMW, nvml.SUCCESS
}

func (f *fakeDevice) GetPowerManagementDefaultLimit() (uint32, nvml.Return) {
	return f.powerDefaultMW, nvml.SUCCESS
}

func (f *fakeDevice) GetPowerManagementLimitConstraints() (uint32, uint32, nvml.Return) {
	return f.powerMinMW, f.powerMaxMW, nvml.SUCCESS
}

func (f *fakeDevice) SetPowerManagementLimit(mw uint32) nvml.Return {
	f.setPowerMW = append(f.setPowerMW, mw)
	f.powerLimitMW = mw
	return nvml.SUCCESS
}

func (f *fakeDevice) GetClockInfo(clock nvml.ClockType) (uint32, nvml.Return) {
	if clock == nvml.CLOCK_MEM {
		return f.memClock, nvml.SUCCESS
	}
	return f.coreClock, nvml.SUCCESS
}

func (f *fakeDevice) GetCurrentClocksThrottleReasons() (uint64, nvml.Return) {
	return f.throttleMask, nvml.SUCCESS
}

func (f *fakeDevice) GetCurrPcieLinkGeneration() (int, nvml.Return) {
	return 4, nvml.SUCCESS
}

func (f *fakeDevice) GetCurrPcieLinkWidth() (int, nvml.Return) {
	return 16, nvml.SUCCESS
}

func (f *fakeDevice) GetMaxPcieLinkGeneration() (int, nvml.Return) {
	return 4, nvml.SUCCESS
}

func (f *fakeDevice) GetMaxPcieLinkWidth() (int, nvml.Return) {
	return 16, nvml.SUCCESS
}

func (f *fakeDevice) GetTemperatureThreshold(nvml.TemperatureThresholds) (uint32, nvml.Return) {
	if !f.thresholdSupported {
		return 0, nvml.ERROR_NOT_SUPPORTED
	}
	return f.thresholdVal, nvml.SUCCESS
}

func (f *fakeDevice) GetTotalEccErrors(nvml.MemoryErrorType, nvml.EccCounterType) (uint64, nvml.Return) {
	if !f.eccSupported {
		return 0, nvml.ERROR_NOT_SUPPORTED
	}
	return 3, nvml.SUCCESS
}

func (f *fakeDevice) GetGpcClkVfOffset() (int, nvml.Return) {
	return f.coreOffset, nvml.SUCCESS
}

func (f *fakeDevice) GetMemClkVfOffset() (int, nvml.Return) {
	return f.memOffset, nvml.SUCCESS
}

func (f *fakeDevice) SetGpcClkVfOffset(offset int) nvml.Return {
	f.coreOffset = offset
	return nvml.SUCCESS
}

func (f *fakeDevice) SetMemClkVfOffset(offset int) nvml.Return {
	f.memOffset = offset
	return nvml.SUCCESS
}

func (f *fakeDevice) GetNumFans() (int, nvml.Return) {
	return f.numFans, nvml.SUCCESS
}

func (f *fakeDevice) GetFanSpeed_v2(fan int) (uint32, nvml.Return) {
	return uint32(f.fanSpeeds[fan]), nvml.SUCCESS
}

func (f *fakeDevice) SetFanSpeed_v2(fan int, speed int) nvml.Return {
	if fan == f.failAtFan {
		return f.fanSetErr
	}
	f.fanSpeeds[fan] = speed
	return nvml.SUCCESS
}

func (f *fakeDevice) SetFanControlPolicy(fan int, policy nvml.FanControlPolicy) nvml.Return {
	f.fanPolicy[fan] = policy
	return nvml.SUCCESS
}

func (f *fakeDevice) SetGpuLockedClocks(minMHz uint32, maxMHz uint32) nvml.Return {
	f.lockedMin, f.lockedMax = minMHz, maxMHz
	return nvml.SUCCESS
}

func (f *fakeDevice) ResetGpuLockedClocks() nvml.Return {
	f.lockReset = true
	f.lockedMin, f.lockedMax = 0, 0
	return nvml.SUCCESS
}

var _ device = (*fakeDevice)(nil)

func newTestFacade(dev *fakeDevice) *Controller {
	return newWithDevice(dev, 0, safety.DefaultLimits())
}

func TestSetClockOffsets_Clamped(t *testing.T) {
	dev := newFakeDevice()
	c := newTestFacade(dev)

	core, mem := 300, -9000
	appliedCore, appliedMem, err := c.SetClockOffsets(&core, &mem)
	require.NoError(t, err)

	assert.Equal(t, 200, appliedCore)
	assert.Equal(t, -500, appliedMem)
	assert.Equal(t, 200, dev.coreOffset)
	assert.Equal(t, -500, dev.memOffset)
}

func TestSetClockOffsets_NilKeepsCurrent(t *testing.T) {
	dev := newFakeDevice()
	dev.memOffset = 250
	c := newTestFacade(dev)

	core := 100
	appliedCore, appliedMem, err := c.SetClockOffsets(&core, nil)
	require.NoError(t, err)

	assert.Equal(t, 100, appliedCore)
	assert.Equal(t, 250, appliedMem)
}

func TestSetClockOffsets_ThermalGuard(t *testing.T) {
	dev := newFakeDevice()
	dev.temp = 92
	dev.coreOffset = 50
	c := newTestFacade(dev)

	core := 100
	_, _, err := c.SetClockOffsets(&core, nil)
	require.Error(t, err)
	assert.True(t, xerrors.IsThermalGuardTrippedError(err))

	// a tripped guard is a refusal, the device was never written
	assert.Equal(t, 50, dev.coreOffset)
}

func TestResetClockOffsets(t *testing.T) {
	dev := newFakeDevice()
	dev.coreOffset = 150
	dev.memOffset = 400
	c := newTestFacade(dev)

	require.NoError(t, c.ResetClockOffsets())
	assert.Equal(t, 0, dev.coreOffset)
	assert.Equal(t, 0, dev.memOffset)
}

func TestSetPowerLimit_Clamped(t *testing.T) {
	dev := newFakeDevice()
	c := newTestFacade(dev)

	applied, err := c.SetPowerLimit(600)
	require.NoError(t, err)
	assert.Equal(t, 450.0, applied)
	assert.Equal(t, []uint32{450000}, dev.setPowerMW)

	applied, err = c.SetPowerLimit(50)
	require.NoError(t, err)
	assert.Equal(t, 100.0, applied)
}

func TestGetPowerLimits(t *testing.T) {
	dev := newFakeDevice()
	c := newTestFacade(dev)

	limits, err := c.GetPowerLimits()
	require.NoError(t, err)
	assert.Equal(t, 300.0, limits.CurrentWatts)
	assert.Equal(t, 320.0, limits.DefaultWatts)
	assert.Equal(t, 100.0, limits.MinWatts)
	assert.Equal(t, 450.0, limits.MaxWatts)
}

func TestSetLockedClocks(t *testing.T) {
	dev := newFakeDevice()
	c := newTestFacade(dev)

	require.NoError(t, c.SetLockedClocks(300, 2100))
	assert.Equal(t, uint32(300), dev.lockedMin)
	assert.Equal(t, uint32(2100), dev.lockedMax)

	// (0, 0) releases the lock rather than pinning to zero
	require.NoError(t, c.SetLockedClocks(0, 0))
	assert.True(t, dev.lockReset)
}

func TestGetStats_FallbacksAndMandatory(t *testing.T) {
	dev := newFakeDevice()
	c := newTestFacade(dev)

	stats, err := c.GetStats()
	require.NoError(t, err)

	assert.Equal(t, 50, stats.TemperatureCelsius)
	assert.Equal(t, 42, stats.GPUUtilPercent)
	assert.Equal(t, 8192, stats.MemoryTotalMB)
	assert.Equal(t, 2048, stats.MemoryUsedMB)
	assert.Equal(t, 150.0, stats.PowerDrawWatts)
	assert.Equal(t, 1800, stats.CoreClockMHz)

	// unsupported threshold and ECC fall back, never fail the read
	assert.Equal(t, 83, stats.ThermalThresholdCelsius)
	assert.Equal(t, 33, stats.ThermalHeadroomCelsius)
	assert.Equal(t, 0, stats.MemoryErrors)
	assert.Empty(t, stats.ThrottleReasons)
	assert.False(t, stats.PowerLimitActive)
}

func TestGetStats_SupportedThresholdAndEcc(t *testing.T) {
	dev := newFakeDevice()
	dev.thresholdSupported = true
	dev.thresholdVal = 90
	dev.eccSupported = true
	c := newTestFacade(dev)

	stats, err := c.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 90, stats.ThermalThresholdCelsius)
	assert.Equal(t, 40, stats.ThermalHeadroomCelsius)
	assert.Equal(t, 3, stats.MemoryErrors)
}

func TestGetStats_PeakAndAverage(t *testing.T) {
	dev := newFakeDevice()
	dev.coreClock = 0
	c := newTestFacade(dev)

	for i := 0; i < 29; i++ {
		_, err := c.GetStats()
		require.NoError(t, err)
	}

	dev.coreClock = 300
	stats, err := c.GetStats()
	require.NoError(t, err)

	// 29 zero samples and one at 300 average to 10 over the window
	assert.Equal(t, 10, stats.AvgCoreClockMHz)
	assert.Equal(t, 300, stats.PeakCoreClockMHz)

	// the window slides: old samples age out
	for i := 0; i < 29; i++ {
		_, err := c.GetStats()
		require.NoError(t, err)
	}
	stats, err = c.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 300, stats.AvgCoreClockMHz)

	// peak persists across samples until reset
	dev.coreClock = 100
	stats, err = c.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 300, stats.PeakCoreClockMHz)

	c.ResetPeakClock()
	stats, err = c.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 100, stats.PeakCoreClockMHz)
}

func TestGetStats_ThrottleDecode(t *testing.T) {
	dev := newFakeDevice()
	dev.throttleMask = nvml.ClocksThrottleReasonSwPowerCap | nvml.ClocksThrottleReasonSwThermalSlowdown
	c := newTestFacade(dev)

	stats, err := c.GetStats()
	require.NoError(t, err)
	assert.ElementsMatch(t, []ThrottleReason{ThrottlePowerSW, ThrottleThermalSW}, stats.ThrottleReasons)
	assert.True(t, stats.PowerLimitActive)
}

func TestSetFanSpeed_FloorAndEscalation(t *testing.T) {
	dev := newFakeDevice()
	c := newTestFacade(dev)

	// below the floor at a cool temperature
	applied, err := c.SetFanSpeed(10, 0)
	require.NoError(t, err)
	assert.Equal(t, 30, applied)
	assert.Equal(t, nvml.FanControlPolicy(nvml.FAN_POLICY_MANUAL), dev.fanPolicy[0])

	// warning temperature escalates to at least 70
	dev.temp = 82
	applied, err = c.SetFanSpeed(40, 0)
	require.NoError(t, err)
	assert.Equal(t, 70, applied)

	// critical forces 100 regardless of the request
	dev.temp = 91
	applied, err = c.SetFanSpeed(20, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, applied)
}

func TestSetAllFansSpeed(t *testing.T) {
	dev := newFakeDevice()
	c := newTestFacade(dev)

	applied, err := c.SetAllFansSpeed(55)
	require.NoError(t, err)
	assert.Equal(t, 55, applied)
	assert.Equal(t, 55, dev.fanSpeeds[0])
	assert.Equal(t, 55, dev.fanSpeeds[1])
}

func TestSetAllFansSpeed_PartialFailure(t *testing.T) {
	dev := newFakeDevice()
	dev.failAtFan = 1
	dev.fanSetErr = nvml.ERROR_NO_PERMISSION
	c := newTestFacade(dev)

	_, err := c.SetAllFansSpeed(55)
	require.Error(t, err)
	assert.True(t, xerrors.IsPermissionDeniedError(err))

	// fan 0 was written before the failure and keeps its new speed
	assert.Equal(t, 55, dev.fanSpeeds[0])
	_, ok := dev.fanSpeeds[1]
	assert.False(t, ok)
}

func TestSetAllFansAuto(t *testing.T) {
	dev := newFakeDevice()
	c := newTestFacade(dev)

	require.NoError(t, c.SetAllFansAuto())
	assert.Equal(t, nvml.FanControlPolicy(nvml.FAN_POLICY_TEMPERATURE_CONTINOUS_SW), dev.fanPolicy[0])
	assert.Equal(t, nvml.FanControlPolicy(nvml.FAN_POLICY_TEMPERATURE_CONTINOUS_SW), dev.fanPolicy[1])
}

func TestDecodeThrottleReasons_Empty(t *testing.T) {
	assert.Empty(t, decodeThrottleReasons(0))
}

func TestGetInfo(t *testing.T) {
	dev := newFakeDevice()
	c := newTestFacade(dev)

	info, err := c.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, "NVIDIA GeForce RTX 4080", info.Name)
	assert.Equal(t, 8192, info.MemoryTotalMB)
	assert.Equal(t, 4, info.PCIeGen)
	assert.Equal(t, 16, info.PCIeWidth)
}
