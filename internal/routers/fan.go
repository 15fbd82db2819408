package routers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ngaut/log"
	"github.com/pkg/errors"

	"github.com/nvoc-project/nvoc/internal/fancurve"
	"github.com/nvoc-project/nvoc/internal/gateway"
	"github.com/nvoc-project/nvoc/internal/models"
)

type FanHandler struct {
	Gateway    *gateway.Gateway
	Controller *fancurve.Controller
	// DefaultCurve is used when a curve start request carries no points.
	DefaultCurve fancurve.Curve
}

func (fh *FanHandler) RegisterRoute(g *gin.RouterGroup) {
	// fan count, reported speeds and the control loop snapshot
	g.GET("/fans", fh.State)

	g.PUT("/fans/speed", fh.SetSpeed)
	g.POST("/fans/auto", fh.SetAuto)

	// start drives every fan from the temperature curve until stop
	g.POST("/fans/curve/start", fh.StartCurve)
	g.POST("/fans/curve/stop", fh.StopCurve)
}

func (fh *FanHandler) State(c *gin.Context) {
	count, err := fh.Gateway.GetFanCount()
	if err != nil {
		log.Errorf("gateway.GetFanCount failed, original error: %T %v", errors.Cause(err), err)
		ResponseError(c, CodeFanGetStateFailed)
		return
	}

	speeds := make([]int, 0, count)
	for i := 0; i < count; i++ {
		speed, err := fh.Gateway.GetFanSpeed(i)
		if err != nil {
			log.Errorf("gateway.GetFanSpeed(%d) failed, original error: %T %v", i, errors.Cause(err), err)
			ResponseError(c, CodeFanGetStateFailed)
			return
		}
		speeds = append(speeds, speed)
	}

	if len(speeds) > 0 {
		fh.Controller.State().SetReported(speeds[0])
	}
	snap := fh.Controller.State().Snapshot()
	ResponseSuccess(c, gin.H{
		"fanCount": count,
		"speeds":   speeds,
		"state":    snap,
	})
}

func (fh *FanHandler) SetSpeed(c *gin.Context) {
	var spec models.SetFanSpeed
	if err := c.ShouldBindJSON(&spec); err != nil {
		log.Error("failed to set fan speed, error:", err.Error())
		ResponseError(c, CodeInvalidParams)
		return
	}

	if spec.Percent < 0 || spec.Percent > 100 {
		log.Error("failed to set fan speed, percent must be 0-100")
		ResponseError(c, CodeInvalidParams)
		return
	}

	// a single-fan request bypasses the loop, an all-fans request hands
	// control to the manual mode of the controller
	if spec.FanIndex != nil {
		applied, err := fh.Gateway.SetFanSpeed(spec.Percent, *spec.FanIndex)
		if err != nil {
			log.Errorf("gateway.SetFanSpeed failed, original error: %T %v", errors.Cause(err), err)
			log.Errorf("stack trace: \n%+v\n", err)
			if code, ok := elevationErrorCode(err); ok {
				ResponseError(c, code)
				return
			}
			ResponseError(c, CodeFanSetSpeedFailed)
			return
		}
		ResponseSuccess(c, gin.H{
			"fanSpeed": applied,
			"fanIndex": *spec.FanIndex,
		})
		return
	}

	applied, err := fh.Controller.SetManual(spec.Percent)
	if err != nil {
		log.Errorf("fancurve.SetManual failed, original error: %T %v", errors.Cause(err), err)
		log.Errorf("stack trace: \n%+v\n", err)
		if code, ok := elevationErrorCode(err); ok {
			ResponseError(c, code)
			return
		}
		ResponseError(c, CodeFanSetSpeedFailed)
		return
	}

	ResponseSuccess(c, gin.H{
		"fanSpeed": applied,
	})
}

func (fh *FanHandler) SetAuto(c *gin.Context) {
	if err := fh.Controller.SetAuto(); err != nil {
		log.Errorf("fancurve.SetAuto failed, original error: %T %v", errors.Cause(err), err)
		log.Errorf("stack trace: \n%+v\n", err)
		if code, ok := elevationErrorCode(err); ok {
			ResponseError(c, code)
			return
		}
		ResponseError(c, CodeFanSetAutoFailed)
		return
	}

	ResponseSuccess(c, nil)
}

func (fh *FanHandler) StartCurve(c *gin.Context) {
	var spec models.FanCurveStart
	if err := c.ShouldBindJSON(&spec); err != nil && err.Error() != "EOF" {
		log.Error("failed to start fan curve, error:", err.Error())
		ResponseError(c, CodeInvalidParams)
		return
	}

	curve := fh.DefaultCurve
	if len(spec.Points) > 0 {
		points, ok := parseCurvePoints(spec.Points)
		if !ok {
			ResponseError(c, CodeFanCurveInvalid)
			return
		}
		curve = fancurve.NewCurve(points)
	}

	if len(curve) == 0 {
		log.Error("failed to start fan curve, no points configured")
		ResponseError(c, CodeFanCurveInvalid)
		return
	}

	if err := fh.Controller.StartCurve(curve); err != nil {
		log.Errorf("fancurve.StartCurve failed, original error: %T %v", errors.Cause(err), err)
		ResponseError(c, CodeFanSetSpeedFailed)
		return
	}

	ResponseSuccess(c, gin.H{
		"points": curve.Points(),
	})
}

func (fh *FanHandler) StopCurve(c *gin.Context) {
	fh.Controller.Stop()

	// fans stay at the last commanded speed unless the caller asks for
	// auto explicitly, except that stopping from curve mode always hands
	// the fans back to the driver
	if err := fh.Controller.SetAuto(); err != nil {
		log.Errorf("fancurve.SetAuto failed, original error: %T %v", errors.Cause(err), err)
		if code, ok := elevationErrorCode(err); ok {
			ResponseError(c, code)
			return
		}
		ResponseError(c, CodeFanCurveStopFailed)
		return
	}

	ResponseSuccess(c, nil)
}

func parseCurvePoints(raw map[string]int) (map[int]int, bool) {
	points := make(map[int]int, len(raw))
	for k, percent := range raw {
		temp, err := strconv.Atoi(k)
		if err != nil || temp < 0 || temp > 120 || percent < 0 || percent > 100 {
			log.Errorf("invalid fan curve point %q: %d", k, percent)
			return nil, false
		}
		points[temp] = percent
	}
	return points, true
}
