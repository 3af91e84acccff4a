package estimator

import "time"

// PositionFix is one GPS solution in geodetic coordinates.
//
// Seq increments for every fix a source produces; consumers use it to tell a
// fresh fix from a re-read of the same one.
type PositionFix struct {
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`

	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`
	AltM   float64 `json:"alt_m"`

	SpeedMS   float64 `json:"speed_ms"`
	CourseDeg float64 `json:"course_deg"`

	Satellites int     `json:"satellites"`
	HDOP       float64 `json:"hdop"`

	Valid bool `json:"valid"`
}

// AttitudeSample is one IMU reading: orientation in degrees plus the raw
// angular-rate and acceleration vectors (x, y, z). The filter observes only
// the attitude; the vectors ride along for telemetry and diagnostics.
type AttitudeSample struct {
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`

	RollDeg  float64 `json:"roll_deg"`
	PitchDeg float64 `json:"pitch_deg"`
	YawDeg   float64 `json:"yaw_deg"`

	GyroDPS [3]float64 `json:"gyro_dps"`
	AccelG  [3]float64 `json:"accel_g"`

	Valid bool `json:"valid"`
}

// StateEstimate is the fused vessel state published to the navigator.
type StateEstimate struct {
	Time time.Time `json:"time"`

	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`
	AltM   float64 `json:"alt_m"`

	SpeedMS   float64 `json:"speed_ms"`
	CourseDeg float64 `json:"course_deg"`

	RollDeg  float64 `json:"roll_deg"`
	PitchDeg float64 `json:"pitch_deg"`
	YawDeg   float64 `json:"yaw_deg"`

	// 1-sigma confidence derived from the filter covariance.
	PosUncertaintyM       float64 `json:"pos_uncertainty_m"`
	HeadingUncertaintyDeg float64 `json:"heading_uncertainty_deg"`

	Valid bool `json:"valid"`
}
