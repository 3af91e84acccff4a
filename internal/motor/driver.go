// Package motor drives the twin thrusters through hardware PWM channels,
// mapping drive directions and speed tiers onto ESC pulse widths. It is the
// propulsion actuator behind the navigation orchestrator.
package motor

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"usv-nav/internal/nav"
)

// pwmChannel is one exported PWM line. The linux backend writes sysfs; tests
// substitute a fake.
type pwmChannel interface {
	SetPeriodNS(ns int64) error
	SetDutyNS(ns int64) error
	Enable(on bool) error
	Close() error
}

var openChannelFn = openChannel

type Config struct {
	Enable bool

	// ChipPath is the sysfs PWM chip, e.g. /sys/class/pwm/pwmchip0.
	ChipPath     string
	LeftChannel  int
	RightChannel int

	// ESC pulse plan in nanoseconds. Reverse < Stop < Forward.
	PeriodNS       int64
	StopPulseNS    int64
	ForwardPulseNS int64
	ReversePulseNS int64

	// Throttle fractions per speed tier, 0..1 of full deflection.
	SlowFraction   float64
	MediumFraction float64
	FastFraction   float64
}

type Snapshot struct {
	Enabled bool `json:"enabled"`

	Direction string `json:"direction"`
	Speed     string `json:"speed"`

	LeftPulseNS  int64 `json:"left_pulse_ns"`
	RightPulseNS int64 `json:"right_pulse_ns"`

	EmergencyStopped bool `json:"emergency_stopped"`

	LastUpdateAt time.Time `json:"last_update_utc,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// Driver implements the navigation actuator contract over two PWM channels.
type Driver struct {
	cfg Config

	mu       sync.Mutex
	left     pwmChannel
	right    pwmChannel
	estopped bool
	snap     Snapshot
}

func New(cfg Config) *Driver {
	if cfg.PeriodNS == 0 {
		cfg.PeriodNS = 20_000_000
	}
	if cfg.StopPulseNS == 0 {
		cfg.StopPulseNS = 1_500_000
	}
	if cfg.ForwardPulseNS == 0 {
		cfg.ForwardPulseNS = 2_000_000
	}
	if cfg.ReversePulseNS == 0 {
		cfg.ReversePulseNS = 1_000_000
	}
	if cfg.SlowFraction == 0 {
		cfg.SlowFraction = 0.3
	}
	if cfg.MediumFraction == 0 {
		cfg.MediumFraction = 0.6
	}
	if cfg.FastFraction == 0 {
		cfg.FastFraction = 1.0
	}
	return &Driver{cfg: cfg}
}

// Open exports and arms both channels at the stop pulse.
func (d *Driver) Open() error {
	if !d.cfg.Enable {
		return nil
	}
	left, err := openChannelFn(d.cfg.ChipPath, d.cfg.LeftChannel)
	if err != nil {
		return fmt.Errorf("motor: open left channel %d: %w", d.cfg.LeftChannel, err)
	}
	right, err := openChannelFn(d.cfg.ChipPath, d.cfg.RightChannel)
	if err != nil {
		_ = left.Close()
		return fmt.Errorf("motor: open right channel %d: %w", d.cfg.RightChannel, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.left = left
	d.right = right
	for _, ch := range []pwmChannel{left, right} {
		if err := ch.SetPeriodNS(d.cfg.PeriodNS); err != nil {
			return fmt.Errorf("motor: set period: %w", err)
		}
		if err := ch.SetDutyNS(d.cfg.StopPulseNS); err != nil {
			return fmt.Errorf("motor: arm at stop pulse: %w", err)
		}
		if err := ch.Enable(true); err != nil {
			return fmt.Errorf("motor: enable channel: %w", err)
		}
	}
	d.snap.Enabled = true
	d.snap.Direction = "stop"
	d.snap.Speed = "stop"
	d.snap.LeftPulseNS = d.cfg.StopPulseNS
	d.snap.RightPulseNS = d.cfg.StopPulseNS
	log.Printf("motor enabled chip=%s left=%d right=%d period=%dns",
		d.cfg.ChipPath, d.cfg.LeftChannel, d.cfg.RightChannel, d.cfg.PeriodNS)
	return nil
}

func (d *Driver) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writePulsesLocked(d.cfg.StopPulseNS, d.cfg.StopPulseNS)
	if d.left != nil {
		_ = d.left.Close()
		d.left = nil
	}
	if d.right != nil {
		_ = d.right.Close()
		d.right = nil
	}
	d.snap.Enabled = false
}

func (d *Driver) Snapshot() Snapshot {
	if d == nil {
		return Snapshot{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snap
}

// fraction maps a speed tier name onto throttle deflection.
func (d *Driver) fraction(speed string) float64 {
	switch speed {
	case "slow":
		return d.cfg.SlowFraction
	case "medium":
		return d.cfg.MediumFraction
	case "fast":
		return d.cfg.FastFraction
	default:
		return 0
	}
}

// pulseFor maps a signed throttle (-1..1) onto the ESC pulse plan.
func (d *Driver) pulseFor(throttle float64) int64 {
	if throttle > 1 {
		throttle = 1
	} else if throttle < -1 {
		throttle = -1
	}
	switch {
	case throttle > 0:
		return d.cfg.StopPulseNS + int64(throttle*float64(d.cfg.ForwardPulseNS-d.cfg.StopPulseNS))
	case throttle < 0:
		return d.cfg.StopPulseNS + int64(throttle*float64(d.cfg.StopPulseNS-d.cfg.ReversePulseNS))
	default:
		return d.cfg.StopPulseNS
	}
}

// throttles returns the per-side throttle for a direction at the given
// deflection. Turns are differential: one side forward, the other reverse.
func throttles(direction string, f float64) (left, right float64, err error) {
	switch direction {
	case "stop":
		return 0, 0, nil
	case "forward":
		return f, f, nil
	case "backward":
		return -f, -f, nil
	case "left":
		return -f, f, nil
	case "right":
		return f, -f, nil
	default:
		return 0, 0, fmt.Errorf("motor: unknown direction %q", direction)
	}
}

var errEmergencyStopped = errors.New("motor: emergency stopped; issue a stop to re-arm")

// Drive implements the orchestrator's actuator contract.
func (d *Driver) Drive(dir nav.Direction, speed nav.SpeedTier) error {
	return d.apply(dir.String(), speed.String())
}

// Stop writes the stop pulse to both sides and clears an emergency latch.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.estopped = false
	d.snap.EmergencyStopped = false
	return d.stopLocked()
}

// EmergencyStop writes the stop pulse and latches the driver: further Drive
// calls fail until Stop re-arms it. The physical stop always goes out even if
// the latch was already set.
func (d *Driver) EmergencyStop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.estopped = true
	d.snap.EmergencyStopped = true
	return d.stopLocked()
}

func (d *Driver) apply(direction, speed string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.snap.Enabled {
		return nil
	}
	if d.estopped {
		return errEmergencyStopped
	}

	lt, rt, err := throttles(direction, d.fraction(speed))
	if err != nil {
		return err
	}
	if err := d.writePulsesLocked(d.pulseFor(lt), d.pulseFor(rt)); err != nil {
		return err
	}
	d.snap.Direction = direction
	d.snap.Speed = speed
	d.snap.LastUpdateAt = time.Now().UTC()
	d.snap.LastError = ""
	return nil
}

func (d *Driver) stopLocked() error {
	if !d.snap.Enabled {
		return nil
	}
	if err := d.writePulsesLocked(d.cfg.StopPulseNS, d.cfg.StopPulseNS); err != nil {
		return err
	}
	d.snap.Direction = "stop"
	d.snap.Speed = "stop"
	d.snap.LastUpdateAt = time.Now().UTC()
	return nil
}

func (d *Driver) writePulsesLocked(leftNS, rightNS int64) error {
	if d.left == nil || d.right == nil {
		return nil
	}
	if err := d.left.SetDutyNS(leftNS); err != nil {
		d.snap.LastError = err.Error()
		return fmt.Errorf("motor: left duty: %w", err)
	}
	if err := d.right.SetDutyNS(rightNS); err != nil {
		d.snap.LastError = err.Error()
		return fmt.Errorf("motor: right duty: %w", err)
	}
	d.snap.LeftPulseNS = leftNS
	d.snap.RightPulseNS = rightNS
	return nil
}
