package estimator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNoise() NoiseConfig {
	return NoiseConfig{
		PInit:   10.0,
		QPos:    0.01,
		QVel:    0.1,
		QAtt:    0.1,
		RGPSPos: 5.0,
		RGPSVel: 1.0,
		RIMUAtt: 0.1,
	}
}

func baseFix(seq uint64) PositionFix {
	return PositionFix{
		Seq:        seq,
		Time:       time.Unix(1700000000, 0).Add(time.Duration(seq) * time.Second),
		LatDeg:     31.2304,
		LonDeg:     121.4737,
		AltM:       3.0,
		SpeedMS:    1.0,
		CourseDeg:  90,
		Satellites: 8,
		Valid:      true,
	}
}

func TestPredictMovesAlongVelocity(t *testing.T) {
	f := NewFilter(testNoise())
	f.Init(baseFix(1))

	// 1 m/s due east for 10 s.
	f.Predict(10 * time.Second)

	st := f.State()
	require.True(t, st.Valid)
	assert.InDelta(t, 90, st.CourseDeg, 1e-9)
	assert.InDelta(t, 1.0, st.SpeedMS, 1e-9)

	// Displacement east should be ~10 m.
	eastM := (st.LonDeg - 121.4737) * math.Pi / 180 * math.Cos(31.2304*math.Pi/180) * 6378137.0
	assert.InDelta(t, 10.0, eastM, 0.01)
}

func TestPredictGrowsCovariance(t *testing.T) {
	f := NewFilter(testNoise())
	f.Init(baseFix(1))

	before := f.CovarianceTrace()
	f.Predict(time.Second)
	after := f.CovarianceTrace()
	require.Greater(t, after, before)

	st := f.State()
	assert.Greater(t, st.PosUncertaintyM, math.Sqrt(10.0)-0.1)
}

func TestGPSUpdateContractsCovariance(t *testing.T) {
	f := NewFilter(testNoise())
	f.Init(baseFix(1))
	f.Predict(time.Second)

	before := f.CovarianceTrace()
	f.UpdateGPS(baseFix(2))
	after := f.CovarianceTrace()
	require.Less(t, after, before)

	st := f.State()
	require.True(t, st.Valid)
	assert.Less(t, st.PosUncertaintyM, math.Sqrt(10.0))
}

func TestIMUUpdatePullsAttitude(t *testing.T) {
	f := NewFilter(testNoise())
	f.Init(baseFix(1))

	s := AttitudeSample{
		Seq:      1,
		Time:     time.Unix(1700000001, 0),
		RollDeg:  2.0,
		PitchDeg: -1.0,
		YawDeg:   90,
		Valid:    true,
	}
	// Repeated identical measurements converge on the measurement.
	for i := 0; i < 50; i++ {
		f.Predict(50 * time.Millisecond)
		f.UpdateIMU(s)
	}
	st := f.State()
	assert.InDelta(t, 2.0, st.RollDeg, 0.05)
	assert.InDelta(t, -1.0, st.PitchDeg, 0.05)
	assert.InDelta(t, 90, st.YawDeg, 0.5)
}

func TestYawInnovationWrapsThroughNorth(t *testing.T) {
	f := NewFilter(testNoise())
	fix := baseFix(1)
	fix.CourseDeg = 350 // seeds yaw at 350
	f.Init(fix)

	s := AttitudeSample{Seq: 1, Time: time.Unix(1700000001, 0), YawDeg: 10, Valid: true}
	f.UpdateIMU(s)

	st := f.State()
	// The innovation is -20 wrapped, i.e. +20 through north: yaw must land
	// between 350 and 10 going clockwise, never near 180.
	offNorth := math.Abs(st.YawDeg)
	if st.YawDeg > 180 {
		offNorth = 360 - st.YawDeg
	}
	assert.Less(t, offNorth, 20.0, "yaw=%v took the long way around", st.YawDeg)
}

func TestInvalidFixIgnored(t *testing.T) {
	f := NewFilter(testNoise())
	f.Init(baseFix(1))
	f.Predict(time.Second)

	before := f.CovarianceTrace()
	bad := baseFix(2)
	bad.Valid = false
	f.UpdateGPS(bad)
	assert.Equal(t, before, f.CovarianceTrace())
}

func TestNonFiniteMeasurementInvalidatesEstimate(t *testing.T) {
	f := NewFilter(testNoise())
	f.Init(baseFix(1))

	bad := baseFix(2)
	bad.AltM = math.NaN()
	f.UpdateGPS(bad)

	st := f.State()
	require.False(t, st.Valid)
}

func TestUninitializedStateIsZero(t *testing.T) {
	f := NewFilter(testNoise())
	require.False(t, f.Initialized())
	st := f.State()
	assert.False(t, st.Valid)
	f.Predict(time.Second) // no-op before init
	f.UpdateGPS(baseFix(1))
	assert.False(t, f.Initialized())
}
