package fusion

import (
	"context"
	"sync"
	"testing"
	"time"

	"usv-nav/internal/estimator"
)

type fakeFixSource struct {
	mu  sync.Mutex
	fix estimator.PositionFix
}

func (f *fakeFixSource) Fix() estimator.PositionFix {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fix
}

func (f *fakeFixSource) set(fix estimator.PositionFix) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fix = fix
}

type fakeAttSource struct {
	mu     sync.Mutex
	sample estimator.AttitudeSample
}

func (f *fakeAttSource) Sample() estimator.AttitudeSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sample
}

func testNoise() estimator.NoiseConfig {
	return estimator.NoiseConfig{
		PInit: 10, QPos: 0.01, QVel: 0.1, QAtt: 0.1,
		RGPSPos: 5, RGPSVel: 1, RIMUAtt: 0.1,
	}
}

func validFix(seq uint64) estimator.PositionFix {
	return estimator.PositionFix{
		Seq: seq, Time: time.Now().UTC(),
		LatDeg: 31.2304, LonDeg: 121.4737, AltM: 3,
		SpeedMS: 1, CourseDeg: 90, Satellites: 8, Valid: true,
	}
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", d)
}

func TestInitializesOnFirstValidFix(t *testing.T) {
	fixes := &fakeFixSource{}
	s := New(Config{Interval: 5 * time.Millisecond, Noise: testNoise()}, fixes, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	// No fix yet: stays uninitialized.
	time.Sleep(30 * time.Millisecond)
	if s.Snapshot().Initialized {
		t.Fatalf("initialized without a fix")
	}

	fixes.set(validFix(1))
	waitFor(t, time.Second, func() bool { return s.Snapshot().Initialized })

	home, ok := s.Home()
	if !ok {
		t.Fatalf("home not recorded")
	}
	if home.LatDeg != 31.2304 {
		t.Fatalf("home lat got=%v want=31.2304", home.LatDeg)
	}
}

func TestSameFixSeqAppliedOnce(t *testing.T) {
	fixes := &fakeFixSource{}
	fixes.set(validFix(1))
	s := New(Config{Interval: 5 * time.Millisecond, Noise: testNoise()}, fixes, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	waitFor(t, time.Second, func() bool { return s.Snapshot().Initialized })
	time.Sleep(50 * time.Millisecond)

	// Seq never advanced past the init fix, so no GPS updates were applied.
	if n := s.Snapshot().GPSUpdates; n != 0 {
		t.Fatalf("gps updates got=%d want=0", n)
	}

	fixes.set(validFix(2))
	waitFor(t, time.Second, func() bool { return s.Snapshot().GPSUpdates == 1 })
}

func TestStaleFixIgnored(t *testing.T) {
	fixes := &fakeFixSource{}
	old := validFix(1)
	old.Time = time.Now().Add(-time.Minute)
	fixes.set(old)

	s := New(Config{Interval: 5 * time.Millisecond, StaleAfter: time.Second, Noise: testNoise()}, fixes, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	time.Sleep(50 * time.Millisecond)
	if s.Snapshot().Initialized {
		t.Fatalf("initialized from a stale fix")
	}
}

func TestPredictsBetweenUpdates(t *testing.T) {
	fixes := &fakeFixSource{}
	fixes.set(validFix(1))
	s := New(Config{Interval: 5 * time.Millisecond, Noise: testNoise()}, fixes, &fakeAttSource{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	waitFor(t, time.Second, func() bool { return s.Snapshot().Predicts > 3 })
	st := s.State()
	if !st.Valid {
		t.Fatalf("state invalid after init")
	}
	if st.PosUncertaintyM <= 0 {
		t.Fatalf("pos uncertainty got=%v want > 0", st.PosUncertaintyM)
	}
}
