// Package estimator implements the vessel state estimator: a 9-state linear
// Kalman filter over position, velocity, and attitude, fed by GPS fixes and
// IMU attitude samples.
//
// State vector (working frame is east-north-up meters anchored at the first
// valid fix):
//
//	[e, n, u, ve, vn, vu, roll, pitch, yaw]
//
// The motion model is constant-velocity for position and constant for
// attitude. GPS observes states 0..5, the IMU observes 6..8.
package estimator

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"usv-nav/internal/geo"
)

const stateDim = 9

// NoiseConfig holds the filter's variance tuning.
type NoiseConfig struct {
	PInit   float64
	QPos    float64
	QVel    float64
	QAtt    float64
	RGPSPos float64
	RGPSVel float64
	RIMUAtt float64
}

// Filter is the 9-state Kalman filter. Safe for concurrent use.
type Filter struct {
	mu sync.Mutex

	noise NoiseConfig
	frame *geo.LocalFrame

	x *mat.VecDense // state, 9
	p *mat.Dense    // covariance, 9x9
	q *mat.Dense    // process noise per second, 9x9

	initialized bool
	valid       bool
	lastAt      time.Time
}

func NewFilter(noise NoiseConfig) *Filter {
	q := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < 3; i++ {
		q.Set(i, i, noise.QPos)
		q.Set(i+3, i+3, noise.QVel)
		q.Set(i+6, i+6, noise.QAtt)
	}
	return &Filter{noise: noise, q: q}
}

// Initialized reports whether the filter has anchored its local frame.
func (f *Filter) Initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized
}

// Init anchors the local frame at the fix and seeds the state from it.
// The covariance starts at PInit on every diagonal entry.
func (f *Filter) Init(fix PositionFix) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.frame = geo.NewLocalFrame(fix.LatDeg, fix.LonDeg)
	ve, vn := geo.CourseVelocity(fix.SpeedMS, fix.CourseDeg)

	f.x = mat.NewVecDense(stateDim, []float64{0, 0, fix.AltM, ve, vn, 0, 0, 0, fix.CourseDeg})
	f.p = mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < stateDim; i++ {
		f.p.Set(i, i, f.noise.PInit)
	}
	f.initialized = true
	f.valid = true
	f.lastAt = fix.Time
}

// Predict propagates the state dt forward under the constant-velocity model
// and inflates the covariance by Q*dt.
func (f *Filter) Predict(dt time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.initialized || dt <= 0 {
		return
	}
	sec := dt.Seconds()

	ff := identity(stateDim)
	for i := 0; i < 3; i++ {
		ff.Set(i, i+3, sec)
	}

	var nx mat.VecDense
	nx.MulVec(ff, f.x)
	f.x.CopyVec(&nx)

	var fp, fpft mat.Dense
	fp.Mul(ff, f.p)
	fpft.Mul(&fp, ff.T())
	var qdt mat.Dense
	qdt.Scale(sec, f.q)
	fpft.Add(&fpft, &qdt)
	f.p.Copy(&fpft)

	f.checkFinite()
}

// UpdateGPS fuses a position fix. Invalid fixes are ignored.
func (f *Filter) UpdateGPS(fix PositionFix) {
	if !fix.Valid {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.initialized {
		return
	}

	e, n := f.frame.ToLocal(fix.LatDeg, fix.LonDeg)
	ve, vn := geo.CourseVelocity(fix.SpeedMS, fix.CourseDeg)
	z := []float64{e, n, fix.AltM, ve, vn, 0}
	idx := []int{0, 1, 2, 3, 4, 5}
	r := []float64{
		f.noise.RGPSPos, f.noise.RGPSPos, f.noise.RGPSPos,
		f.noise.RGPSVel, f.noise.RGPSVel, f.noise.RGPSVel,
	}
	f.update(z, idx, r, -1)
	f.lastAt = fix.Time
}

// UpdateIMU fuses an attitude sample. The yaw innovation is wrapped into
// (-180,180] so a 350 vs 10 degree disagreement pulls through north rather
// than the long way around.
func (f *Filter) UpdateIMU(s AttitudeSample) {
	if !s.Valid {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.initialized {
		return
	}

	z := []float64{s.RollDeg, s.PitchDeg, s.YawDeg}
	idx := []int{6, 7, 8}
	r := []float64{f.noise.RIMUAtt, f.noise.RIMUAtt, f.noise.RIMUAtt}
	f.update(z, idx, r, 2)
	f.lastAt = s.Time
}

// update applies one measurement of the selected states. wrapPos, if >= 0,
// names the measurement row whose innovation is an angle to be wrapped.
func (f *Filter) update(z []float64, idx []int, r []float64, wrapPos int) {
	m := len(idx)

	h := mat.NewDense(m, stateDim, nil)
	for row, col := range idx {
		h.Set(row, col, 1)
	}

	innov := mat.NewVecDense(m, nil)
	for row, col := range idx {
		d := z[row] - f.x.AtVec(col)
		if row == wrapPos {
			d = geo.NormalizeDeg(d)
		}
		innov.SetVec(row, d)
	}

	// S = H P Ht + R
	var hp, s mat.Dense
	hp.Mul(h, f.p)
	s.Mul(&hp, h.T())
	for i := 0; i < m; i++ {
		s.Set(i, i, s.At(i, i)+r[i])
	}

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		f.valid = false
		return
	}

	// K = P Ht S^-1
	var pht, k mat.Dense
	pht.Mul(f.p, h.T())
	k.Mul(&pht, &sInv)

	var dx mat.VecDense
	dx.MulVec(&k, innov)
	f.x.AddVec(f.x, &dx)

	// P = (I - K H) P
	var kh mat.Dense
	kh.Mul(&k, h)
	ikh := identity(stateDim)
	ikh.Sub(ikh, &kh)
	var np mat.Dense
	np.Mul(ikh, f.p)
	f.p.Copy(&np)

	f.checkFinite()
}

// checkFinite marks the filter invalid if any state or covariance entry has
// gone non-finite. Callers hold f.mu.
func (f *Filter) checkFinite() {
	for i := 0; i < stateDim; i++ {
		if !finite(f.x.AtVec(i)) {
			f.valid = false
			return
		}
		for j := 0; j < stateDim; j++ {
			if !finite(f.p.At(i, j)) {
				f.valid = false
				return
			}
		}
	}
	f.valid = true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// State returns the current estimate in geodetic coordinates.
func (f *Filter) State() StateEstimate {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.initialized {
		return StateEstimate{}
	}

	lat, lon := f.frame.ToGeodetic(f.x.AtVec(0), f.x.AtVec(1))
	speed, course := geo.VelocityCourse(f.x.AtVec(3), f.x.AtVec(4))

	return StateEstimate{
		Time:                  f.lastAt,
		LatDeg:                lat,
		LonDeg:                lon,
		AltM:                  f.x.AtVec(2),
		SpeedMS:               speed,
		CourseDeg:             course,
		RollDeg:               f.x.AtVec(6),
		PitchDeg:              f.x.AtVec(7),
		YawDeg:                geo.CompassDeg(f.x.AtVec(8)),
		PosUncertaintyM:       math.Sqrt((f.p.At(0, 0) + f.p.At(1, 1)) / 2),
		HeadingUncertaintyDeg: math.Sqrt(f.p.At(8, 8)),
		Valid:                 f.valid,
	}
}

// CovarianceTrace is the trace of P; test and diagnostics hook.
func (f *Filter) CovarianceTrace() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.initialized {
		return 0
	}
	return mat.Trace(f.p)
}

func identity(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}
