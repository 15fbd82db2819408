// Package helper implements the elevated executor: the command dispatch
// run under pkexec. Each invocation parses exactly one command, performs
// one facade mutation (or the apply composite), emits exactly one JSON
// object on stdout and exits. Logs go to stderr only.
package helper

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/nvoc-project/nvoc/internal/nvml"
	"github.com/nvoc-project/nvoc/internal/profiles"
	"github.com/nvoc-project/nvoc/internal/safety"
)

const usage = `nvoc-helper commands:
  status                         - Get GPU status
  list-gpus                      - List all GPUs
  list-profiles                  - List saved profiles
  set-power-limit <watts>        - Set power limit
  set-clock-offsets <core> <mem> - Set clock offsets
  set-locked-clocks <min> <max>  - Set frequency lock
  reset-clocks                   - Reset clocks to default
  set-fan-speed <pct> [idx]      - Set fan speed
  set-fan-auto [idx]             - Set fan to auto
  apply-profile <json>           - Apply profile JSON
  apply-boot-profile             - Apply boot profile
  help                           - Show this help`

// ControlPlane is the slice of the device facade the executor drives.
// Satisfied by *nvml.Controller; tests substitute a fake.
type ControlPlane interface {
	profiles.DeviceWriter
	GetInfo() (nvml.DeviceInfo, error)
	GetStats() (nvml.DeviceStats, error)
	GetPowerLimits() (nvml.PowerLimits, error)
	GetClockOffsets() (nvml.ClockOffsets, error)
	ResetClockOffsets() error
	SetFanSpeed(percent, fanIndex int) (int, error)
	SetFanAuto(fanIndex int) error
	Close()
}

// Executor dispatches one helper command.
type Executor struct {
	GPUIndex     int
	Limits       safety.Limits
	Store        *profiles.Store
	Flags        *profiles.Flags
	BootFallback string

	// OpenControlPlane opens the device facade; defaults to nvml.New.
	OpenControlPlane func(index int, limits safety.Limits) (ControlPlane, error)

	// ListDevices enumerates GPUs; defaults to nvml.ListDevices.
	ListDevices func() ([]nvml.DeviceInfo, error)
}

func (e *Executor) open() (ControlPlane, error) {
	if e.OpenControlPlane != nil {
		return e.OpenControlPlane(e.GPUIndex, e.Limits)
	}
	return nvml.New(e.GPUIndex, e.Limits)
}

func (e *Executor) listDevices() ([]nvml.DeviceInfo, error) {
	if e.ListDevices != nil {
		return e.ListDevices()
	}
	return nvml.ListDevices()
}

// Run executes one command and writes the single JSON response to out.
// The returned code is the process exit code: 0 on success, 1 on failure.
func (e *Executor) Run(args []string, out io.Writer) int {
	if len(args) == 0 {
		writeError(out, "no command given, see 'help'")
		return 1
	}

	fields, err := e.dispatch(args[0], args[1:])
	if err != nil {
		writeError(out, err.Error())
		return 1
	}
	writeSuccess(out, fields)
	return 0
}

func (e *Executor) dispatch(command string, args []string) (map[string]interface{}, error) {
	switch command {
	case "status":
		return e.cmdStatus()
	case "set-power-limit":
		if len(args) < 1 {
			return nil, errors.New("usage: set-power-limit <watts>")
		}
		watts, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return nil, errors.Errorf("invalid watts: %s", args[0])
		}
		return e.cmdSetPowerLimit(watts)
	case "set-clock-offsets":
		if len(args) < 2 {
			return nil, errors.New("usage: set-clock-offsets <core_mhz> <mem_mhz>")
		}
		core, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, errors.Errorf("invalid core offset: %s", args[0])
		}
		mem, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, errors.Errorf("invalid memory offset: %s", args[1])
		}
		return e.cmdSetClockOffsets(core, mem)
	case "set-locked-clocks":
		if len(args) < 2 {
			return nil, errors.New("usage: set-locked-clocks <min_mhz> <max_mhz>")
		}
		minMHz, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, errors.Errorf("invalid min clock: %s", args[0])
		}
		maxMHz, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, errors.Errorf("invalid max clock: %s", args[1])
		}
		return e.cmdSetLockedClocks(minMHz, maxMHz)
	case "reset-clocks":
		return e.cmdResetClocks()
	case "set-fan-speed":
		if len(args) < 1 {
			return nil, errors.New("usage: set-fan-speed <percent> [fan_idx]")
		}
		percent, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, errors.Errorf("invalid percent: %s", args[0])
		}
		fanIdx := 0
		if len(args) > 1 {
			if fanIdx, err = strconv.Atoi(args[1]); err != nil {
				return nil, errors.Errorf("invalid fan index: %s", args[1])
			}
		}
		return e.cmdSetFanSpeed(percent, fanIdx)
	case "set-fan-auto":
		fanIdx := 0
		if len(args) > 0 {
			var err error
			if fanIdx, err = strconv.Atoi(args[0]); err != nil {
				return nil, errors.Errorf("invalid fan index: %s", args[0])
			}
		}
		return e.cmdSetFanAuto(fanIdx)
	case "apply-profile":
		if len(args) < 1 {
			return nil, errors.New("usage: apply-profile <json>")
		}
		return e.cmdApplyProfile(args[0])
	case "apply-boot-profile":
		return e.cmdApplyBootProfile()
	case "list-profiles":
		return e.cmdListProfiles()
	case "list-gpus":
		return e.cmdListGPUs()
	case "help":
		return map[string]interface{}{"usage": usage}, nil
	default:
		return nil, errors.Errorf("unknown command: %s", command)
	}
}

func (e *Executor) cmdStatus() (map[string]interface{}, error) {
	ctrl, err := e.open()
	if err != nil {
		return nil, err
	}
	defer ctrl.Close()

	info, err := ctrl.GetInfo()
	if err != nil {
		return nil, err
	}
	stats, err := ctrl.GetStats()
	if err != nil {
		return nil, err
	}
	power, err := ctrl.GetPowerLimits()
	if err != nil {
		return nil, err
	}
	offsets, err := ctrl.GetClockOffsets()
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"gpu": map[string]interface{}{
			"name":          info.Name,
			"driver":        info.DriverVersion,
			"vbios":         info.VBIOSVersion,
			"vram_total_mb": info.MemoryTotalMB,
		},
		"stats":        stats,
		"power_limits": power,
		"offsets":      offsets,
		"safety_limits": map[string]interface{}{
			"max_core_offset":   e.Limits.MaxCoreOffset,
			"max_memory_offset": e.Limits.MaxMemoryOffset,
			"min_fan_speed":     e.Limits.MinFanPercent,
		},
	}, nil
}

func (e *Executor) cmdSetPowerLimit(watts float64) (map[string]interface{}, error) {
	ctrl, err := e.open()
	if err != nil {
		return nil, err
	}
	defer ctrl.Close()

	applied, err := ctrl.SetPowerLimit(watts)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"power_limit": applied}, nil
}

func (e *Executor) cmdSetClockOffsets(core, mem int) (map[string]interface{}, error) {
	ctrl, err := e.open()
	if err != nil {
		return nil, err
	}
	defer ctrl.Close()

	actualCore, actualMem, err := ctrl.SetClockOffsets(&core, &mem)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"core_offset":   actualCore,
		"memory_offset": actualMem,
	}, nil
}

func (e *Executor) cmdSetLockedClocks(minMHz, maxMHz int) (map[string]interface{}, error) {
	ctrl, err := e.open()
	if err != nil {
		return nil, err
	}
	defer ctrl.Close()

	if err := ctrl.SetLockedClocks(minMHz, maxMHz); err != nil {
		return nil, err
	}
	return map[string]interface{}{"min_mhz": minMHz, "max_mhz": maxMHz}, nil
}

func (e *Executor) cmdResetClocks() (map[string]interface{}, error) {
	ctrl, err := e.open()
	if err != nil {
		return nil, err
	}
	defer ctrl.Close()

	if err := ctrl.ResetClockOffsets(); err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}

func (e *Executor) cmdSetFanSpeed(percent, fanIdx int) (map[string]interface{}, error) {
	ctrl, err := e.open()
	if err != nil {
		return nil, err
	}
	defer ctrl.Close()

	applied, err := ctrl.SetFanSpeed(percent, fanIdx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"fan_speed": applied, "fan_index": fanIdx}, nil
}

func (e *Executor) cmdSetFanAuto(fanIdx int) (map[string]interface{}, error) {
	ctrl, err := e.open()
	if err != nil {
		return nil, err
	}
	defer ctrl.Close()

	if err := ctrl.SetFanAuto(fanIdx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"fan_index": fanIdx, "mode": "auto"}, nil
}

// cmdApplyProfile sequences power limit, clock offsets, frequency lock
// and fan settings inside this single elevated invocation, reporting
// per-field results for the steps that ran. The lock is explicitly reset
// when the profile carries none, so an apply always leaves it in a known
// state.
func (e *Executor) cmdApplyProfile(blob string) (map[string]interface{}, error) {
	var p profiles.Profile
	if err := json.Unmarshal([]byte(blob), &p); err != nil {
		return nil, errors.Wrap(err, "invalid profile JSON")
	}

	ctrl, err := e.open()
	if err != nil {
		return nil, err
	}
	defer ctrl.Close()

	results := map[string]interface{}{}

	if p.PowerLimitWatts != nil {
		applied, err := ctrl.SetPowerLimit(*p.PowerLimitWatts)
		if err != nil {
			return nil, errors.WithMessage(err, "power limit")
		}
		results["power_limit"] = applied
	}

	if p.CoreOffsetMHz != nil || p.MemoryOffsetMHz != nil {
		core, mem, err := ctrl.SetClockOffsets(p.CoreOffsetMHz, p.MemoryOffsetMHz)
		if err != nil {
			return nil, errors.WithMessage(err, "clock offsets")
		}
		results["core_offset"] = core
		results["memory_offset"] = mem
	}

	if p.MaxClockMHz != nil && *p.MaxClockMHz > 0 {
		if err := ctrl.SetLockedClocks(0, *p.MaxClockMHz); err != nil {
			return nil, errors.WithMessage(err, "clock lock")
		}
		results["max_clock"] = *p.MaxClockMHz
	} else {
		if err := ctrl.SetLockedClocks(0, 0); err != nil {
			return nil, errors.WithMessage(err, "clock lock reset")
		}
		results["max_clock"] = 0
	}

	switch {
	case p.FanMode == profiles.FanModeAuto:
		if err := ctrl.SetAllFansAuto(); err != nil {
			return nil, errors.WithMessage(err, "fan auto")
		}
		results["fan_mode"] = "auto"
	case p.FanMode == profiles.FanModeManual && p.FanSpeedPercent != nil:
		applied, err := ctrl.SetAllFansSpeed(*p.FanSpeedPercent)
		if err != nil {
			return nil, errors.WithMessage(err, "fan speed")
		}
		results["fan_mode"] = "manual"
		results["fan_speed"] = applied
	}

	return results, nil
}

func (e *Executor) cmdApplyBootProfile() (map[string]interface{}, error) {
	if e.Store == nil || e.Flags == nil {
		return nil, errors.New("profile store not configured")
	}

	ctrl, err := e.open()
	if err != nil {
		return nil, err
	}
	defer ctrl.Close()

	status, reason, err := profiles.BootApply(e.Store, e.Flags, ctrl, e.BootFallback)
	if err != nil {
		return nil, errors.WithMessage(err, "boot apply")
	}

	fields := map[string]interface{}{"action": "boot-apply", "status": status}
	if reason != "" {
		fields["reason"] = reason
	}
	return fields, nil
}

func (e *Executor) cmdListProfiles() (map[string]interface{}, error) {
	if e.Store == nil {
		return nil, errors.New("profile store not configured")
	}

	list, err := e.Store.List()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(list))
	for _, p := range list {
		names = append(names, p.Name)
	}
	return map[string]interface{}{"profiles": names}, nil
}

func (e *Executor) cmdListGPUs() (map[string]interface{}, error) {
	devices, err := e.listDevices()
	if err != nil {
		return nil, err
	}

	gpus := make([]map[string]interface{}, 0, len(devices))
	for _, d := range devices {
		gpus = append(gpus, map[string]interface{}{"index": d.Index, "name": d.Name})
	}
	return map[string]interface{}{"gpu_count": len(devices), "gpus": gpus}, nil
}

func writeSuccess(out io.Writer, fields map[string]interface{}) {
	result := map[string]interface{}{"success": true}
	for k, v := range fields {
		result[k] = v
	}
	writeJSON(out, result)
}

func writeError(out io.Writer, message string) {
	writeJSON(out, map[string]interface{}{"success": false, "error": message})
}

func writeJSON(out io.Writer, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(out, `{"success": false, "error": "encode response: %s"}`+"\n", err)
		return
	}
	fmt.Fprintln(out, string(data))
}
