package nav

import (
	"math"
	"time"

	"usv-nav/internal/estimator"
	"usv-nav/internal/geo"
	"usv-nav/internal/pid"
)

// forwardBandDeg is the heading PID output magnitude below which the vessel
// drives straight instead of turning.
const forwardBandDeg = 10.0

// Speed tier cut points on the speed PID output (0..100).
const (
	fastOutputAbove   = 60.0
	mediumOutputAbove = 30.0
)

type ControllerConfig struct {
	Heading pid.Config
	Speed   pid.Config

	// TargetPrecisionM is the arrival radius.
	TargetPrecisionM float64
	// SpeedReductionDistanceM forces SpeedSlow inside this range of the target.
	SpeedReductionDistanceM float64
	// MaxHeadingErrorDeg switches to a pure turn when exceeded.
	MaxHeadingErrorDeg float64
}

// Guidance is one control decision with the intermediate terms kept for
// status reporting and tests.
type Guidance struct {
	DistanceM       float64 `json:"distance_m"`
	BearingDeg      float64 `json:"bearing_deg"`
	HeadingErrorDeg float64 `json:"heading_error_deg"`
	HeadingOutput   float64 `json:"heading_output"`
	SpeedOutput     float64 `json:"speed_output"`

	Arrived bool `json:"arrived"`

	Direction Direction `json:"-"`
	Speed     SpeedTier `json:"-"`
}

// Controller turns a fused state and a target into drive decisions using a
// heading PID and a speed PID. Not safe for concurrent use; the navigation
// loop owns it.
type Controller struct {
	cfg ControllerConfig

	heading *pid.Controller
	speed   *pid.Controller

	enabled bool
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.TargetPrecisionM <= 0 {
		cfg.TargetPrecisionM = 5.0
	}
	if cfg.SpeedReductionDistanceM <= 0 {
		cfg.SpeedReductionDistanceM = 50.0
	}
	if cfg.MaxHeadingErrorDeg <= 0 {
		cfg.MaxHeadingErrorDeg = 45.0
	}
	return &Controller{
		cfg:     cfg,
		heading: pid.New(cfg.Heading),
		speed:   pid.New(cfg.Speed),
	}
}

// Enable arms the controller, discarding any PID history from a previous leg.
func (c *Controller) Enable() {
	c.heading.Reset()
	c.speed.Reset()
	c.enabled = true
}

func (c *Controller) Disable() {
	c.enabled = false
}

func (c *Controller) Enabled() bool {
	return c.enabled
}

// Steer computes one guidance decision toward the target. Disabled
// controllers always answer stop.
func (c *Controller) Steer(st estimator.StateEstimate, target Target, now time.Time) Guidance {
	g := Guidance{Direction: DirectionStop, Speed: SpeedStop}
	if !c.enabled || !st.Valid {
		return g
	}

	g.DistanceM = geo.HaversineM(st.LatDeg, st.LonDeg, target.LatDeg, target.LonDeg)
	g.BearingDeg = geo.BearingDeg(st.LatDeg, st.LonDeg, target.LatDeg, target.LonDeg)

	if g.DistanceM <= c.cfg.TargetPrecisionM {
		g.Arrived = true
		return g
	}

	// Heading reference: course over ground when moving, yaw otherwise.
	heading := st.CourseDeg
	if st.SpeedMS < 0.1 {
		heading = st.YawDeg
	}
	g.HeadingErrorDeg = geo.NormalizeDeg(g.BearingDeg - heading)

	if math.Abs(g.HeadingErrorDeg) > c.cfg.MaxHeadingErrorDeg {
		// Way off: rotate in place before making way. Positive heading error
		// commands a port turn, matching the hull's steering convention.
		if g.HeadingErrorDeg > 0 {
			g.Direction = DirectionLeft
		} else {
			g.Direction = DirectionRight
		}
		g.Speed = SpeedSlow
		return g
	}

	g.HeadingOutput = c.heading.Update(g.HeadingErrorDeg, now)
	switch {
	case math.Abs(g.HeadingOutput) < forwardBandDeg:
		g.Direction = DirectionForward
	case g.HeadingOutput > 0:
		g.Direction = DirectionLeft
	default:
		g.Direction = DirectionRight
	}

	// Speed error is the remaining distance past the arrival radius.
	g.SpeedOutput = c.speed.Update(g.DistanceM-c.cfg.TargetPrecisionM, now)
	switch {
	case g.DistanceM < c.cfg.SpeedReductionDistanceM:
		g.Speed = SpeedSlow
	case g.SpeedOutput > fastOutputAbove:
		g.Speed = SpeedFast
	case g.SpeedOutput > mediumOutputAbove:
		g.Speed = SpeedMedium
	default:
		g.Speed = SpeedSlow
	}
	return g
}
