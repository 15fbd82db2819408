package routers

import (
	"github.com/gin-gonic/gin"
	"github.com/ngaut/log"
	"github.com/pkg/errors"

	"github.com/nvoc-project/nvoc/internal/gateway"
	"github.com/nvoc-project/nvoc/internal/models"
	"github.com/nvoc-project/nvoc/internal/nvml"
	"github.com/nvoc-project/nvoc/internal/xerrors"
)

type GPUHandler struct {
	Gateway *gateway.Gateway
}

func (gh *GPUHandler) RegisterRoute(g *gin.RouterGroup) {
	// enumerate every GPU NVML can see
	g.GET("/gpus", gh.List)

	// static identity of the managed GPU
	g.GET("/gpu/info", gh.Info)
	// live telemetry snapshot
	g.GET("/gpu/stats", gh.Stats)
	// reset the peak core clock tracker
	g.POST("/gpu/peak/reset", gh.ResetPeak)

	g.GET("/gpu/power", gh.GetPower)
	g.PUT("/gpu/power", gh.SetPower)

	g.GET("/gpu/offsets", gh.GetOffsets)
	g.PUT("/gpu/offsets", gh.SetOffsets)

	// lock the core clock to a range, or reset everything to stock
	g.PUT("/gpu/clocks/lock", gh.LockClocks)
	g.POST("/gpu/clocks/reset", gh.ResetClocks)
}

func (gh *GPUHandler) List(c *gin.Context) {
	devices, err := nvml.ListDevices()
	if err != nil {
		log.Errorf("nvml.ListDevices failed, original error: %T %v", errors.Cause(err), err)
		ResponseError(c, CodeGpuListFailed)
		return
	}

	ResponseSuccess(c, gin.H{
		"gpuCount": len(devices),
		"gpus":     devices,
	})
}

func (gh *GPUHandler) Info(c *gin.Context) {
	info, err := gh.Gateway.GetInfo()
	if err != nil {
		log.Errorf("gateway.GetInfo failed, original error: %T %v", errors.Cause(err), err)
		ResponseError(c, CodeGpuGetInfoFailed)
		return
	}

	ResponseSuccess(c, gin.H{
		"info": info,
	})
}

func (gh *GPUHandler) Stats(c *gin.Context) {
	stats, err := gh.Gateway.GetStats()
	if err != nil {
		log.Errorf("gateway.GetStats failed, original error: %T %v", errors.Cause(err), err)
		ResponseError(c, CodeGpuGetStatsFailed)
		return
	}

	ResponseSuccess(c, gin.H{
		"stats": stats,
	})
}

func (gh *GPUHandler) ResetPeak(c *gin.Context) {
	if err := gh.Gateway.ResetPeakClock(); err != nil {
		log.Errorf("gateway.ResetPeakClock failed, original error: %T %v", errors.Cause(err), err)
		ResponseError(c, CodeGpuResetPeakFailed)
		return
	}

	ResponseSuccess(c, nil)
}

func (gh *GPUHandler) GetPower(c *gin.Context) {
	limits, err := gh.Gateway.GetPowerLimits()
	if err != nil {
		log.Errorf("gateway.GetPowerLimits failed, original error: %T %v", errors.Cause(err), err)
		ResponseError(c, CodeGpuGetPowerFailed)
		return
	}

	ResponseSuccess(c, gin.H{
		"power": limits,
	})
}

func (gh *GPUHandler) SetPower(c *gin.Context) {
	var spec models.SetPowerLimit
	if err := c.ShouldBindJSON(&spec); err != nil {
		log.Error("failed to set power limit, error:", err.Error())
		ResponseError(c, CodeInvalidParams)
		return
	}

	if spec.Watts <= 0 {
		log.Error("failed to set power limit, watts must be positive")
		ResponseError(c, CodeInvalidParams)
		return
	}

	applied, err := gh.Gateway.SetPowerLimit(spec.Watts)
	if err != nil {
		log.Errorf("gateway.SetPowerLimit failed, original error: %T %v", errors.Cause(err), err)
		log.Errorf("stack trace: \n%+v\n", err)
		if code, ok := elevationErrorCode(err); ok {
			ResponseError(c, code)
			return
		}
		ResponseError(c, CodeGpuSetPowerFailed)
		return
	}

	ResponseSuccess(c, gin.H{
		"powerLimit": applied,
	})
}

func (gh *GPUHandler) GetOffsets(c *gin.Context) {
	offsets, err := gh.Gateway.GetClockOffsets()
	if err != nil {
		log.Errorf("gateway.GetClockOffsets failed, original error: %T %v", errors.Cause(err), err)
		ResponseError(c, CodeGpuGetOffsetsFailed)
		return
	}

	ResponseSuccess(c, gin.H{
		"offsets": offsets,
	})
}

func (gh *GPUHandler) SetOffsets(c *gin.Context) {
	var spec models.SetClockOffsets
	if err := c.ShouldBindJSON(&spec); err != nil {
		log.Error("failed to set clock offsets, error:", err.Error())
		ResponseError(c, CodeInvalidParams)
		return
	}

	if spec.CoreMHz == nil && spec.MemoryMHz == nil {
		log.Error("failed to set clock offsets, at least one offset is required")
		ResponseError(c, CodeInvalidParams)
		return
	}

	core, mem, err := gh.Gateway.SetClockOffsets(spec.CoreMHz, spec.MemoryMHz)
	if err != nil {
		log.Errorf("gateway.SetClockOffsets failed, original error: %T %v", errors.Cause(err), err)
		log.Errorf("stack trace: \n%+v\n", err)
		if xerrors.IsThermalGuardTrippedError(err) {
			ResponseError(c, CodeGpuThermalGuard)
			return
		}
		if code, ok := elevationErrorCode(err); ok {
			ResponseError(c, code)
			return
		}
		ResponseError(c, CodeGpuSetOffsetsFailed)
		return
	}

	ResponseSuccess(c, gin.H{
		"coreOffset":   core,
		"memoryOffset": mem,
	})
}

func (gh *GPUHandler) LockClocks(c *gin.Context) {
	var spec models.LockClocks
	if err := c.ShouldBindJSON(&spec); err != nil {
		log.Error("failed to lock clocks, error:", err.Error())
		ResponseError(c, CodeInvalidParams)
		return
	}

	if spec.MinMHz < 0 || spec.MaxMHz < spec.MinMHz {
		log.Error("failed to lock clocks, range must satisfy 0 <= min <= max")
		ResponseError(c, CodeInvalidParams)
		return
	}

	if err := gh.Gateway.SetLockedClocks(spec.MinMHz, spec.MaxMHz); err != nil {
		log.Errorf("gateway.SetLockedClocks failed, original error: %T %v", errors.Cause(err), err)
		log.Errorf("stack trace: \n%+v\n", err)
		if code, ok := elevationErrorCode(err); ok {
			ResponseError(c, code)
			return
		}
		ResponseError(c, CodeGpuLockClocksFailed)
		return
	}

	ResponseSuccess(c, gin.H{
		"minMHz": spec.MinMHz,
		"maxMHz": spec.MaxMHz,
	})
}

func (gh *GPUHandler) ResetClocks(c *gin.Context) {
	if err := gh.Gateway.ResetClocks(); err != nil {
		log.Errorf("gateway.ResetClocks failed, original error: %T %v", errors.Cause(err), err)
		log.Errorf("stack trace: \n%+v\n", err)
		if code, ok := elevationErrorCode(err); ok {
			ResponseError(c, code)
			return
		}
		ResponseError(c, CodeGpuResetClocksFailed)
		return
	}

	ResponseSuccess(c, nil)
}

// elevationErrorCode maps the pkexec terminal outcomes every privileged
// route shares; other errors keep their route-specific code.
func elevationErrorCode(err error) (ResCode, bool) {
	if xerrors.IsElevationCancelledError(err) {
		return CodeElevationCancelled, true
	}
	if xerrors.IsElevationTimeoutError(err) {
		return CodeElevationTimeout, true
	}
	return 0, false
}
