package geo

import (
	"math"
	"testing"
)

func TestHaversineM(t *testing.T) {
	// One degree of latitude at the equator.
	got := HaversineM(0, 0, 1, 0)
	want := EarthRadiusM * math.Pi / 180
	if math.Abs(got-want) > 1 {
		t.Fatalf("got=%v want=%v", got, want)
	}

	if d := HaversineM(31.2304, 121.4737, 31.2304, 121.4737); d != 0 {
		t.Fatalf("zero-distance got=%v want=0", d)
	}
}

func TestBearingDeg(t *testing.T) {
	cases := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
	}{
		{"due north", 0, 0, 1, 0, 0},
		{"due east", 0, 0, 0, 1, 90},
		{"due south", 1, 0, 0, 0, 180},
		{"due west", 0, 1, 0, 0, 270},
	}
	for _, tc := range cases {
		got := BearingDeg(tc.lat1, tc.lon1, tc.lat2, tc.lon2)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%s: got=%v want=%v", tc.name, got, tc.want)
		}
	}
}

func TestNormalizeDeg(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0, 0},
		{180, 180},
		{-180, 180},
		{181, -179},
		{-181, 179},
		{340, -20},
		{720, 0},
	}
	for _, tc := range cases {
		if got := NormalizeDeg(tc.in); math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("NormalizeDeg(%v) got=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestLocalFrameRoundTrip(t *testing.T) {
	f := NewLocalFrame(31.2304, 121.4737)

	// 50 m due north.
	lat, lon := f.ToGeodetic(0, 50)
	e, n := f.ToLocal(lat, lon)
	if math.Abs(e) > 1e-3 || math.Abs(n-50) > 1e-3 {
		t.Fatalf("north round trip got=(%v,%v) want=(0,50)", e, n)
	}

	// 120 m east, 80 m south.
	lat, lon = f.ToGeodetic(120, -80)
	e, n = f.ToLocal(lat, lon)
	if math.Abs(e-120) > 1e-2 || math.Abs(n+80) > 1e-2 {
		t.Fatalf("mixed round trip got=(%v,%v) want=(120,-80)", e, n)
	}
}

func TestCourseVelocityRoundTrip(t *testing.T) {
	for _, course := range []float64{0, 45, 90, 135, 180, 225, 270, 315} {
		ve, vn := CourseVelocity(2.5, course)
		speed, back := VelocityCourse(ve, vn)
		if math.Abs(speed-2.5) > 1e-12 {
			t.Fatalf("course=%v speed got=%v want=2.5", course, speed)
		}
		if math.Abs(NormalizeDeg(back-course)) > 1e-9 {
			t.Fatalf("course got=%v want=%v", back, course)
		}
	}
}

func TestVelocityCourseZero(t *testing.T) {
	speed, course := VelocityCourse(0, 0)
	if speed != 0 || course != 0 {
		t.Fatalf("got=(%v,%v) want=(0,0)", speed, course)
	}
}
