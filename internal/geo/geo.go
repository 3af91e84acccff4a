// Package geo provides the small set of spherical-earth helpers the navigator
// needs: great-circle distance, initial bearing, compass angle normalization,
// and a local east-north-up frame for the Kalman filter.
package geo

import "math"

// EarthRadiusM is the equatorial radius used throughout (WGS-84 semi-major axis).
const EarthRadiusM = 6378137.0

// HaversineM returns the great-circle distance in meters between two
// lat/lon points in degrees.
func HaversineM(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := lat1 * math.Pi / 180
	p2 := lat2 * math.Pi / 180
	dp := (lat2 - lat1) * math.Pi / 180
	dl := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dp/2)*math.Sin(dp/2) +
		math.Cos(p1)*math.Cos(p2)*math.Sin(dl/2)*math.Sin(dl/2)
	return EarthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// BearingDeg returns the initial great-circle bearing from point 1 to point 2,
// in compass degrees [0,360).
func BearingDeg(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := lat1 * math.Pi / 180
	p2 := lat2 * math.Pi / 180
	dl := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(dl) * math.Cos(p2)
	x := math.Cos(p1)*math.Sin(p2) - math.Sin(p1)*math.Cos(p2)*math.Cos(dl)
	b := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(b+360, 360)
}

// NormalizeDeg wraps an angle into (-180, 180].
func NormalizeDeg(a float64) float64 {
	a = math.Mod(a, 360)
	if a > 180 {
		a -= 360
	} else if a <= -180 {
		a += 360
	}
	return a
}

// CompassDeg wraps an angle into [0, 360).
func CompassDeg(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	return a
}

// LocalFrame converts between geodetic coordinates and a flat east-north plane
// anchored at an origin. The equirectangular approximation is fine for the
// sub-kilometer working areas this vessel operates in.
type LocalFrame struct {
	originLatDeg float64
	originLonDeg float64
}

func NewLocalFrame(latDeg, lonDeg float64) *LocalFrame {
	return &LocalFrame{originLatDeg: latDeg, originLonDeg: lonDeg}
}

func (f *LocalFrame) OriginLatDeg() float64 { return f.originLatDeg }
func (f *LocalFrame) OriginLonDeg() float64 { return f.originLonDeg }

// ToLocal returns east/north offsets in meters from the origin.
func (f *LocalFrame) ToLocal(latDeg, lonDeg float64) (eastM, northM float64) {
	dLat := (latDeg - f.originLatDeg) * math.Pi / 180
	dLon := (lonDeg - f.originLonDeg) * math.Pi / 180
	meanLat := (latDeg + f.originLatDeg) / 2 * math.Pi / 180
	eastM = dLon * math.Cos(meanLat) * EarthRadiusM
	northM = dLat * EarthRadiusM
	return eastM, northM
}

// ToGeodetic inverts ToLocal for small offsets.
func (f *LocalFrame) ToGeodetic(eastM, northM float64) (latDeg, lonDeg float64) {
	latDeg = f.originLatDeg + northM/EarthRadiusM*180/math.Pi
	meanLat := (latDeg + f.originLatDeg) / 2 * math.Pi / 180
	lonDeg = f.originLonDeg + eastM/(EarthRadiusM*math.Cos(meanLat))*180/math.Pi
	return latDeg, lonDeg
}

// CourseVelocity splits a speed/course pair into east/north components.
// Course is compass degrees (0 = north, 90 = east).
func CourseVelocity(speedMS, courseDeg float64) (veMS, vnMS float64) {
	rad := courseDeg * math.Pi / 180
	return speedMS * math.Sin(rad), speedMS * math.Cos(rad)
}

// VelocityCourse is the inverse of CourseVelocity. Speed is always >= 0 and
// course is compass degrees [0,360); a zero velocity reports course 0.
func VelocityCourse(veMS, vnMS float64) (speedMS, courseDeg float64) {
	speedMS = math.Hypot(veMS, vnMS)
	if speedMS == 0 {
		return 0, 0
	}
	courseDeg = CompassDeg(math.Atan2(veMS, vnMS) * 180 / math.Pi)
	return speedMS, courseDeg
}
