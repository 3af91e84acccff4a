// Package sim synthesizes GPS fixes and IMU attitude for bench runs without
// hardware. The vessel follows a deterministic figure-eight around a
// configured center, so fusion and navigation can be exercised end to end on
// a desk.
package sim

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"usv-nav/internal/estimator"
	"usv-nav/internal/geo"
)

type Config struct {
	Enable bool

	CenterLatDeg float64
	CenterLonDeg float64
	RadiusM      float64
	SpeedMS      float64

	FixInterval time.Duration
	AttInterval time.Duration
}

type Snapshot struct {
	Enabled bool `json:"enabled"`

	Fixes   uint64 `json:"fixes"`
	Samples uint64 `json:"samples"`
}

// Vessel emits position fixes and attitude samples on independent cadences.
// It satisfies the fix and attitude source contracts of the fusion loop.
type Vessel struct {
	cfg   Config
	frame *geo.LocalFrame
	start time.Time

	fixSeq atomic.Uint64
	attSeq atomic.Uint64

	lastFix    atomic.Value // estimator.PositionFix
	lastSample atomic.Value // estimator.AttitudeSample

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config) *Vessel {
	if cfg.CenterLatDeg == 0 && cfg.CenterLonDeg == 0 {
		cfg.CenterLatDeg = 31.2304
		cfg.CenterLonDeg = 121.4737
	}
	if cfg.RadiusM <= 0 {
		cfg.RadiusM = 100
	}
	if cfg.SpeedMS <= 0 {
		cfg.SpeedMS = 1.5
	}
	if cfg.FixInterval <= 0 {
		cfg.FixInterval = 200 * time.Millisecond
	}
	if cfg.AttInterval <= 0 {
		cfg.AttInterval = 50 * time.Millisecond
	}
	return &Vessel{
		cfg:    cfg,
		frame:  geo.NewLocalFrame(cfg.CenterLatDeg, cfg.CenterLonDeg),
		start:  time.Now(),
		stopCh: make(chan struct{}),
	}
}

func (v *Vessel) Start(ctx context.Context) error {
	if v == nil {
		return fmt.Errorf("sim: vessel is nil")
	}
	if !v.cfg.Enable {
		return nil
	}
	log.Printf("sim enabled center=%.4f,%.4f radius_m=%.0f speed_ms=%.1f",
		v.cfg.CenterLatDeg, v.cfg.CenterLonDeg, v.cfg.RadiusM, v.cfg.SpeedMS)

	v.wg.Add(2)
	go func() {
		defer v.wg.Done()
		v.run(ctx, v.cfg.FixInterval, v.stepFix)
	}()
	go func() {
		defer v.wg.Done()
		v.run(ctx, v.cfg.AttInterval, v.stepAttitude)
	}()
	return nil
}

func (v *Vessel) Close() {
	if v == nil {
		return
	}
	v.stopOnce.Do(func() { close(v.stopCh) })
	v.wg.Wait()
}

func (v *Vessel) Snapshot() Snapshot {
	if v == nil {
		return Snapshot{}
	}
	return Snapshot{
		Enabled: v.cfg.Enable,
		Fixes:   v.fixSeq.Load(),
		Samples: v.attSeq.Load(),
	}
}

// Fix returns the latest synthesized position fix.
func (v *Vessel) Fix() estimator.PositionFix {
	if v == nil {
		return estimator.PositionFix{}
	}
	f, ok := v.lastFix.Load().(estimator.PositionFix)
	if !ok {
		return estimator.PositionFix{}
	}
	return f
}

// Sample returns the latest synthesized attitude sample.
func (v *Vessel) Sample() estimator.AttitudeSample {
	if v == nil {
		return estimator.AttitudeSample{}
	}
	s, ok := v.lastSample.Load().(estimator.AttitudeSample)
	if !ok {
		return estimator.AttitudeSample{}
	}
	return s
}

func (v *Vessel) run(ctx context.Context, interval time.Duration, step func(time.Time)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.stopCh:
			return
		case now := <-t.C:
			step(now)
		}
	}
}

func (v *Vessel) stepFix(now time.Time) {
	east, north, ve, vn := v.kinematics(now)
	lat, lon := v.frame.ToGeodetic(east, north)
	speed, course := geo.VelocityCourse(ve, vn)

	v.lastFix.Store(estimator.PositionFix{
		Seq:        v.fixSeq.Add(1),
		Time:       now.UTC(),
		LatDeg:     lat,
		LonDeg:     lon,
		AltM:       0,
		SpeedMS:    speed,
		CourseDeg:  course,
		Satellites: 10,
		HDOP:       0.8,
		Valid:      true,
	})
}

func (v *Vessel) stepAttitude(now time.Time) {
	_, _, ve, vn := v.kinematics(now)
	_, course := geo.VelocityCourse(ve, vn)

	// Yaw tracks the course; roll and pitch wobble gently as a hull would.
	t := now.Sub(v.start).Seconds()
	roll := 2.0 * math.Sin(2*math.Pi*t/7)
	pitch := 1.0 * math.Sin(2*math.Pi*t/11)

	// Yaw rate from a small finite difference along the path.
	const dt = 0.1
	_, _, ve2, vn2 := v.kinematics(now.Add(time.Duration(dt * float64(time.Second))))
	_, course2 := geo.VelocityCourse(ve2, vn2)
	gyroZ := geo.NormalizeDeg(course2-course) / dt

	v.lastSample.Store(estimator.AttitudeSample{
		Seq:      v.attSeq.Add(1),
		Time:     now.UTC(),
		RollDeg:  roll,
		PitchDeg: pitch,
		YawDeg:   geo.NormalizeDeg(course),
		GyroDPS:  [3]float64{0, 0, gyroZ},
		AccelG:   [3]float64{0, 0, 1},
		Valid:    true,
	})
}

// kinematics places the vessel on a figure-eight Lissajous path scaled to the
// configured radius, with the phase rate chosen so average speed matches the
// configured speed.
func (v *Vessel) kinematics(now time.Time) (east, north, ve, vn float64) {
	r := v.cfg.RadiusM
	// Rough figure-eight path length is ~6.1r; one lap takes length/speed.
	period := 6.1 * r / v.cfg.SpeedMS
	w := 2 * math.Pi * math.Mod(now.Sub(v.start).Seconds(), period) / period

	east = r * math.Cos(w)
	north = 0.5 * r * math.Sin(2*w)

	rate := 2 * math.Pi / period
	ve = -r * rate * math.Sin(w)
	vn = r * rate * math.Cos(2*w)
	return east, north, ve, vn
}
