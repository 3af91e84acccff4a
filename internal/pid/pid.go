// Package pid implements the clamped PID controller the navigator uses for
// heading and speed. It adds the three guards the plant needs over a textbook
// loop: a deadband so tiny errors do not twitch the thrusters, an integral
// clamp for anti-windup, and an output clamp matching the actuator range.
package pid

import "time"

type Config struct {
	Kp float64
	Ki float64
	Kd float64

	OutputMin float64
	OutputMax float64

	IntegralMin float64
	IntegralMax float64

	// Deadband: errors with |err| <= Deadband produce zero output and do not
	// accumulate integral.
	Deadband float64

	// SampleTime is the dt used on the first update and whenever wall time
	// does not advance.
	SampleTime time.Duration
}

// Controller is a single PID loop. Not safe for concurrent use; the navigator
// owns one per axis and calls it from its control loop only.
type Controller struct {
	cfg Config

	integral float64
	prevErr  float64
	havePrev bool
	lastAt   time.Time
}

func New(cfg Config) *Controller {
	if cfg.SampleTime <= 0 {
		cfg.SampleTime = 100 * time.Millisecond
	}
	return &Controller{cfg: cfg}
}

// Reset discards the integral and derivative history. Called whenever the
// loop is (re-)enabled so stale windup never carries into a new leg.
func (c *Controller) Reset() {
	c.integral = 0
	c.prevErr = 0
	c.havePrev = false
	c.lastAt = time.Time{}
}

// Update advances the loop with the given error at the given time and returns
// the clamped control output.
func (c *Controller) Update(err float64, now time.Time) float64 {
	dt := c.cfg.SampleTime.Seconds()
	if c.havePrev && now.After(c.lastAt) {
		dt = now.Sub(c.lastAt).Seconds()
	}
	c.lastAt = now

	if abs(err) <= c.cfg.Deadband {
		// Inside the deadband the output is quiet; derivative history still
		// tracks so leaving the band does not kick.
		c.prevErr = err
		c.havePrev = true
		return 0
	}

	c.integral += err * dt
	c.integral = clamp(c.integral, c.cfg.IntegralMin, c.cfg.IntegralMax)

	derivative := 0.0
	if c.havePrev && dt > 0 {
		derivative = (err - c.prevErr) / dt
	}
	c.prevErr = err
	c.havePrev = true

	out := c.cfg.Kp*err + c.cfg.Ki*c.integral + c.cfg.Kd*derivative
	return clamp(out, c.cfg.OutputMin, c.cfg.OutputMax)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
