package fancurve

import (
	"sync"
	"time"

	"github.com/ngaut/log"
	"github.com/pkg/errors"

	"github.com/nvoc-project/nvoc/internal/safety"
)

// stopWait bounds how long Stop waits for the in-flight iteration, so a
// write never races a stop.
const stopWait = 3 * time.Second

// TempReader is the gateway's read path the loop polls each tick.
type TempReader interface {
	Temperature() (int, error)
}

// FanWriter is the gateway's fan write path.
type FanWriter interface {
	SetAllFansSpeed(percent int) (int, error)
	SetAllFansAuto() error
}

// Options tune the control loop. Zero values fall back to the reference
// cadence (1.5 s), 3 °C hysteresis and a 5 %/cycle ramp step.
type Options struct {
	Interval   time.Duration
	Hysteresis int
	RampStep   int
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 1500 * time.Millisecond
	}
	if o.Hysteresis <= 0 {
		o.Hysteresis = 3
	}
	if o.RampStep <= 0 {
		o.RampStep = 5
	}
	return o
}

// Controller runs the fan-curve loop. Transitions into ModeCurve start the
// background task; any transition away stops it with a bounded wait.
type Controller struct {
	reader TempReader
	writer FanWriter
	limits safety.Limits
	opts   Options
	state  *State

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}

	// Loop-owned hysteresis memory; only touched from the loop goroutine.
	lastCurveTemp  int
	haveLastTemp   bool
	lastTarget     int
	haveLastTarget bool
}

// New builds a controller in ModeAuto with no loop running.
func New(reader TempReader, writer FanWriter, limits safety.Limits, opts Options) *Controller {
	return &Controller{
		reader: reader,
		writer: writer,
		limits: limits,
		opts:   opts.withDefaults(),
		state:  NewState(),
	}
}

// State exposes the lock-guarded fan state for pollers.
func (c *Controller) State() *State {
	return c.state
}

// StartCurve switches to curve mode and starts the loop on the given
// curve. A running loop is restarted.
func (c *Controller) StartCurve(curve Curve) error {
	if len(curve) == 0 {
		return errors.New("fan curve has no control points")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.haveLastTemp = false
	c.haveLastTarget = false
	c.state.setMode(ModeCurve, curve)

	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.run(c.stopCh, c.doneCh)
	log.Info("fan curve loop started")
	return nil
}

// SetManual stops any loop and commands a one-shot fan speed.
func (c *Controller) SetManual(percent int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	applied, err := c.writer.SetAllFansSpeed(percent)
	if err != nil {
		return 0, err
	}
	c.state.setMode(ModeManual, nil)
	c.state.setCommanded(applied)
	return applied, nil
}

// SetAuto stops any loop and returns fan control to the firmware.
func (c *Controller) SetAuto() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	if err := c.writer.SetAllFansAuto(); err != nil {
		return err
	}
	c.state.setMode(ModeAuto, nil)
	return nil
}

// Stop halts the loop if running, waiting bounded for the current
// iteration to finish. The fan keeps its last commanded speed.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	select {
	case <-c.doneCh:
	case <-time.After(stopWait):
		log.Warn("fan curve loop did not stop within the wait bound")
	}
	c.stopCh = nil
	c.doneCh = nil
	log.Info("fan curve loop stopped")
}

func (c *Controller) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// A failed iteration is logged and the loop keeps going;
			// it is never fatal to the controller.
			if err := c.step(); err != nil {
				log.Errorf("fan curve iteration: %v", err)
			}
		case <-stopCh:
			return
		}
	}
}

// step is one control iteration: sample, hysteresis, interpolate, floor,
// ramp, write.
func (c *Controller) step() error {
	temp, err := c.reader.Temperature()
	if err != nil {
		return errors.WithMessage(err, "temperature read")
	}
	c.state.setTemp(temp)

	curve := c.state.activeCurve()
	if len(curve) == 0 {
		return nil
	}

	var target int
	if c.haveLastTemp && c.haveLastTarget && abs(temp-c.lastCurveTemp) < c.opts.Hysteresis {
		// Within the hysteresis band: reuse the previous target instead
		// of recomputing, so 1 °C jitter cannot oscillate the fans.
		// lastCurveTemp deliberately stays put.
		target = c.lastTarget
	} else {
		c.lastCurveTemp = temp
		c.haveLastTemp = true

		target = safety.FanFloor(curve.Interpolate(temp), temp, c.limits)
		c.lastTarget = target
		c.haveLastTarget = true
	}

	commanded := c.rampLimit(target)
	if _, err := c.writer.SetAllFansSpeed(commanded); err != nil {
		return errors.WithMessage(err, "fan write")
	}
	c.state.setCommanded(commanded)
	return nil
}

// rampLimit moves at most RampStep percent per cycle from the last
// commanded speed toward the target.
func (c *Controller) rampLimit(target int) int {
	current, ok := c.state.commandedSpeed()
	if !ok {
		return target
	}
	switch {
	case target > current+c.opts.RampStep:
		return current + c.opts.RampStep
	case target < current-c.opts.RampStep:
		return current - c.opts.RampStep
	default:
		return target
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
