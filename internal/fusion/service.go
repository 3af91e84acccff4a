// Package fusion runs the estimator's predict/update loop over the live
// sensor sources. The loop predicts on a fixed tick and applies a GPS or IMU
// measurement only when the source has produced a new sample since the last
// one applied, so a stalled sensor degrades the filter to predict-only
// instead of re-fusing stale data.
package fusion

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"usv-nav/internal/estimator"
)

// FixSource yields the most recent GPS fix; the zero value means none yet.
type FixSource interface {
	Fix() estimator.PositionFix
}

// AttitudeSource yields the most recent IMU attitude sample.
type AttitudeSource interface {
	Sample() estimator.AttitudeSample
}

type Config struct {
	Interval   time.Duration
	StaleAfter time.Duration

	Noise estimator.NoiseConfig
}

type Snapshot struct {
	Initialized bool `json:"initialized"`

	State estimator.StateEstimate `json:"state"`

	Predicts   uint64 `json:"predicts"`
	GPSUpdates uint64 `json:"gps_updates"`
	IMUUpdates uint64 `json:"imu_updates"`

	LastError string `json:"last_error,omitempty"`
}

type Service struct {
	cfg    Config
	filter *estimator.Filter

	fixSrc FixSource
	attSrc AttitudeSource

	mu         sync.RWMutex
	home       estimator.PositionFix
	haveHome   bool
	predicts   uint64
	gpsUpdates uint64
	imuUpdates uint64
	lastErr    string

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config, fixSrc FixSource, attSrc AttitudeSource) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 50 * time.Millisecond
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Second
	}
	return &Service{
		cfg:    cfg,
		filter: estimator.NewFilter(cfg.Noise),
		fixSrc: fixSrc,
		attSrc: attSrc,
		stopCh: make(chan struct{}),
	}
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("fusion: service is nil")
	}
	if s.fixSrc == nil {
		return fmt.Errorf("fusion: fix source is required")
	}

	log.Printf("fusion started interval=%v stale_after=%v", s.cfg.Interval, s.cfg.StaleAfter)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
	return nil
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context) {
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()

	var lastFixSeq, lastAttSeq uint64
	lastTick := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-t.C:
			dt := now.Sub(lastTick)
			lastTick = now

			if s.filter.Initialized() {
				s.filter.Predict(dt)
				s.count(func() { s.predicts++ })
			}

			fix := s.fixSrc.Fix()
			if fix.Valid && fix.Seq != lastFixSeq && s.fresh(now, fix.Time) {
				lastFixSeq = fix.Seq
				if !s.filter.Initialized() {
					s.filter.Init(fix)
					s.setHome(fix)
					log.Printf("fusion initialized lat=%.6f lon=%.6f satellites=%d",
						fix.LatDeg, fix.LonDeg, fix.Satellites)
				} else {
					s.filter.UpdateGPS(fix)
					s.count(func() { s.gpsUpdates++ })
				}
			}

			if s.attSrc != nil && s.filter.Initialized() {
				if att := s.attSrc.Sample(); att.Valid && att.Seq != lastAttSeq && s.fresh(now, att.Time) {
					lastAttSeq = att.Seq
					s.filter.UpdateIMU(att)
					s.count(func() { s.imuUpdates++ })
				}
			}
		}
	}
}

func (s *Service) fresh(now, sampleAt time.Time) bool {
	if sampleAt.IsZero() {
		return false
	}
	return now.Sub(sampleAt) <= s.cfg.StaleAfter
}

// State returns the current fused estimate. Before initialization the zero
// estimate (Valid=false) is returned.
func (s *Service) State() estimator.StateEstimate {
	if s == nil {
		return estimator.StateEstimate{}
	}
	return s.filter.State()
}

// Home returns the anchor fix recorded at first initialization. The vessel
// returns here on an emergency return.
func (s *Service) Home() (estimator.PositionFix, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.home, s.haveHome
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Initialized: s.filter.Initialized(),
		State:       s.filter.State(),
		Predicts:    s.predicts,
		GPSUpdates:  s.gpsUpdates,
		IMUUpdates:  s.imuUpdates,
		LastError:   s.lastErr,
	}
}

func (s *Service) setHome(fix estimator.PositionFix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.home = fix
	s.haveHome = true
}

func (s *Service) count(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f()
}
