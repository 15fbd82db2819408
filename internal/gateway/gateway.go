// Package gateway routes device operations across the privilege boundary.
// Reads run in-process against a facade the gateway owns; writes are
// dispatched one at a time to the elevated helper through pkexec and its
// JSON-on-stdout response protocol.
package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/commander-cli/cmd"
	"github.com/ngaut/log"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"

	"github.com/nvoc-project/nvoc/internal/nvml"
	"github.com/nvoc-project/nvoc/internal/profiles"
	"github.com/nvoc-project/nvoc/internal/safety"
	"github.com/nvoc-project/nvoc/internal/xerrors"
)

const (
	// helperTimeout bounds one elevated invocation, including the time
	// the user spends at the authentication dialog.
	helperTimeout = 30 * time.Second

	// pkexec exits 126 when the authentication dialog is dismissed.
	pkexecDismissedExit = 126
)

// Gateway is the single entry point for device access from the
// unprivileged process. Elevated writes are serialized: no two helper
// invocations are ever in flight at once.
type Gateway struct {
	index      int
	limits     safety.Limits
	pkexecPath string
	helperPath string

	writeMu sync.Mutex
	readers cmap.ConcurrentMap[string, *nvml.Controller]
}

// New builds a gateway for the given GPU index. pkexecPath and helperPath
// locate the elevation mechanism and the elevated executor binary.
func New(index int, limits safety.Limits, pkexecPath, helperPath string) (*Gateway, error) {
	g := &Gateway{
		index:      index,
		limits:     limits,
		pkexecPath: pkexecPath,
		helperPath: helperPath,
		readers:    cmap.New[*nvml.Controller](),
	}
	// Fail fast when the default device is missing.
	if _, err := g.Reader(index); err != nil {
		return nil, err
	}
	return g, nil
}

// Reader returns the process-owned facade for a GPU index, creating it on
// first use. Reads never require elevation.
func (g *Gateway) Reader(index int) (*nvml.Controller, error) {
	key := strconv.Itoa(index)
	if ctrl, ok := g.readers.Get(key); ok {
		return ctrl, nil
	}
	ctrl, err := nvml.New(index, g.limits)
	if err != nil {
		return nil, err
	}
	if !g.readers.SetIfAbsent(key, ctrl) {
		// Lost the race; use the one that won.
		ctrl.Close()
		ctrl, _ = g.readers.Get(key)
	}
	return ctrl, nil
}

// Close releases every cached facade.
func (g *Gateway) Close() {
	for item := range g.readers.IterBuffered() {
		item.Val.Close()
	}
	g.readers.Clear()
}

// Read operations.

func (g *Gateway) GetInfo() (nvml.DeviceInfo, error) {
	ctrl, err := g.Reader(g.index)
	if err != nil {
		return nvml.DeviceInfo{}, err
	}
	return ctrl.GetInfo()
}

func (g *Gateway) GetStats() (nvml.DeviceStats, error) {
	ctrl, err := g.Reader(g.index)
	if err != nil {
		return nvml.DeviceStats{}, err
	}
	return ctrl.GetStats()
}

func (g *Gateway) GetPowerLimits() (nvml.PowerLimits, error) {
	ctrl, err := g.Reader(g.index)
	if err != nil {
		return nvml.PowerLimits{}, err
	}
	return ctrl.GetPowerLimits()
}

func (g *Gateway) GetClockOffsets() (nvml.ClockOffsets, error) {
	ctrl, err := g.Reader(g.index)
	if err != nil {
		return nvml.ClockOffsets{}, err
	}
	return ctrl.GetClockOffsets()
}

func (g *Gateway) GetFanCount() (int, error) {
	ctrl, err := g.Reader(g.index)
	if err != nil {
		return 0, err
	}
	return ctrl.GetFanCount()
}

func (g *Gateway) GetFanSpeed(fanIndex int) (int, error) {
	ctrl, err := g.Reader(g.index)
	if err != nil {
		return 0, err
	}
	return ctrl.GetFanSpeed(fanIndex)
}

// Temperature reads the current GPU temperature. The fan-curve loop polls
// this on every tick.
func (g *Gateway) Temperature() (int, error) {
	stats, err := g.GetStats()
	if err != nil {
		return 0, err
	}
	return stats.TemperatureCelsius, nil
}

func (g *Gateway) ResetPeakClock() error {
	ctrl, err := g.Reader(g.index)
	if err != nil {
		return err
	}
	ctrl.ResetPeakClock()
	return nil
}

// Write operations, dispatched through the elevated helper.

// SetPowerLimit requests a power limit write and returns the value the
// helper actually applied after clamping.
func (g *Gateway) SetPowerLimit(watts float64) (float64, error) {
	resp, err := g.runHelper("set-power-limit", strconv.FormatFloat(watts, 'f', -1, 64))
	if err != nil {
		return 0, err
	}
	return resp.Float("power_limit", watts), nil
}

// SetClockOffsets requests an offset write. Nil components default to the
// current read value before crossing the boundary, so the helper always
// receives a complete pair. Returns the applied values.
func (g *Gateway) SetClockOffsets(coreMHz, memoryMHz *int) (int, int, error) {
	if coreMHz == nil || memoryMHz == nil {
		current, err := g.GetClockOffsets()
		if err != nil {
			return 0, 0, err
		}
		if coreMHz == nil {
			coreMHz = &current.CoreOffsetMHz
		}
		if memoryMHz == nil {
			memoryMHz = &current.MemoryOffsetMHz
		}
	}

	resp, err := g.runHelper("set-clock-offsets", strconv.Itoa(*coreMHz), strconv.Itoa(*memoryMHz))
	if err != nil {
		return 0, 0, err
	}
	return resp.Int("core_offset", *coreMHz), resp.Int("memory_offset", *memoryMHz), nil
}

// ResetClocks returns both offsets to stock.
func (g *Gateway) ResetClocks() error {
	_, err := g.runHelper("reset-clocks")
	return err
}

// SetLockedClocks pins the core clock range; (0, 0) disables the lock.
func (g *Gateway) SetLockedClocks(minMHz, maxMHz int) error {
	_, err := g.runHelper("set-locked-clocks", strconv.Itoa(minMHz), strconv.Itoa(maxMHz))
	return err
}

// SetFanSpeed commands one fan and returns the speed actually applied.
func (g *Gateway) SetFanSpeed(percent, fanIndex int) (int, error) {
	resp, err := g.runHelper("set-fan-speed", strconv.Itoa(percent), strconv.Itoa(fanIndex))
	if err != nil {
		return 0, err
	}
	return resp.Int("fan_speed", percent), nil
}

// SetFanAuto restores firmware control of one fan.
func (g *Gateway) SetFanAuto(fanIndex int) error {
	_, err := g.runHelper("set-fan-auto", strconv.Itoa(fanIndex))
	return err
}

// SetAllFansSpeed iterates the device's fans through the single-fan write.
// Not atomic: a mid-loop failure leaves a mixed state the caller must
// treat as a partial failure.
func (g *Gateway) SetAllFansSpeed(percent int) (int, error) {
	count, err := g.GetFanCount()
	if err != nil {
		return 0, err
	}
	if count < 1 {
		count = 1
	}

	applied := 0
	for i := 0; i < count; i++ {
		applied, err = g.SetFanSpeed(percent, i)
		if err != nil {
			return applied, errors.WithMessagef(err, "fan %d of %d", i, count)
		}
	}
	return applied, nil
}

// SetAllFansAuto restores automatic control on every fan.
func (g *Gateway) SetAllFansAuto() error {
	count, err := g.GetFanCount()
	if err != nil {
		return err
	}
	if count < 1 {
		count = 1
	}

	for i := 0; i < count; i++ {
		if err := g.SetFanAuto(i); err != nil {
			return errors.WithMessagef(err, "fan %d of %d", i, count)
		}
	}
	return nil
}

// ApplyProfile sends the whole profile to the helper, which sequences
// power limit, clock offsets, frequency lock and fan settings inside
// one elevated invocation.
func (g *Gateway) ApplyProfile(p *profiles.Profile) error {
	blob, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "marshal profile")
	}
	_, err = g.runHelper("apply-profile", string(blob))
	return err
}

// ApplyBootProfile asks the helper to run the boot-time apply, honoring
// the crash marker. Returns the helper's status and skip reason.
func (g *Gateway) ApplyBootProfile() (status, reason string, err error) {
	resp, err := g.runHelper("apply-boot-profile")
	if err != nil {
		return "", "", err
	}
	return resp.String("status", ""), resp.String("reason", ""), nil
}

// runHelper spawns one elevated helper invocation and parses its response.
// The write mutex guarantees a single invocation in flight per process.
func (g *Gateway) runHelper(args ...string) (Response, error) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	parts := make([]string, 0, len(args)+2)
	parts = append(parts, shellQuote(g.pkexecPath), shellQuote(g.helperPath))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	command := strings.Join(parts, " ")
	log.Debugf("running helper: %s", command)

	c := cmd.NewCommand(command, cmd.WithTimeout(helperTimeout))
	execErr := c.Execute()

	return parseHelperResponse(c.Stdout(), c.Stderr(), c.ExitCode(), execErr)
}

// parseHelperResponse applies the response protocol to one helper run.
// Separated from process spawning so the protocol is testable.
func parseHelperResponse(stdout, stderr string, exitCode int, execErr error) (Response, error) {
	if execErr != nil && strings.Contains(execErr.Error(), "timed out") {
		return nil, errors.Wrap(xerrors.NewElevationTimeoutError(), "helper abandoned after timeout")
	}

	if exitCode != 0 && strings.TrimSpace(stdout) == "" {
		// The helper never ran: pkexec failed or was dismissed.
		if exitCode == pkexecDismissedExit || strings.Contains(strings.ToLower(stderr), "dismissed") {
			return nil, errors.Wrap(xerrors.NewElevationCancelledError(), "authentication dialog dismissed")
		}
		if execErr != nil {
			return nil, errors.Wrapf(execErr, "helper failed with exit code %d", exitCode)
		}
		return nil, errors.Errorf("helper failed with exit code %d: %s", exitCode, strings.TrimSpace(stderr))
	}

	var resp Response
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		return nil, errors.Wrapf(xerrors.NewProtocolError(), "invalid helper response: %q", strings.TrimSpace(stdout))
	}

	if !resp.Success() {
		msg := resp.String("error", "unknown helper error")
		return nil, errors.New(msg)
	}
	return resp, nil
}

// Response is the decoded success object from one helper invocation.
type Response map[string]interface{}

func (r Response) Success() bool {
	ok, _ := r["success"].(bool)
	return ok
}

// Int extracts a numeric field, returning fallback when absent.
func (r Response) Int(key string, fallback int) int {
	if v, ok := r[key].(float64); ok {
		return int(v)
	}
	return fallback
}

// Float extracts a numeric field, returning fallback when absent.
func (r Response) Float(key string, fallback float64) float64 {
	if v, ok := r[key].(float64); ok {
		return v
	}
	return fallback
}

// String extracts a string field, returning fallback when absent.
func (r Response) String(key, fallback string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return fallback
}

// shellQuote wraps one argument in single quotes for the shell the command
// runner uses, so JSON blobs survive the trip intact.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// String describes the gateway for logs.
func (g *Gateway) String() string {
	return fmt.Sprintf("gateway{gpu: %d, helper: %s}", g.index, g.helperPath)
}
