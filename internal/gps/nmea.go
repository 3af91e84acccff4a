package gps

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"usv-nav/internal/estimator"
)

const knotsToMS = 0.514444

type nmeaSentence struct {
	Type string
	// Fields is the comma-split NMEA payload (excluding $ and checksum).
	Fields []string
}

func parseNMEASentence(line string) (nmeaSentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nmeaSentence{}, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return nmeaSentence{}, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return nmeaSentence{}, fmt.Errorf("nmea: short checksum")
	}
	want, err := hex.DecodeString(ck[:2])
	if err != nil || len(want) != 1 {
		return nmeaSentence{}, fmt.Errorf("nmea: bad checksum")
	}
	got := byte(0)
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return nmeaSentence{}, fmt.Errorf("nmea: checksum mismatch")
	}

	parts := strings.Split(payload, ",")
	if len(parts[0]) < 3 {
		return nmeaSentence{}, fmt.Errorf("nmea: short type")
	}
	// Accept any talker ID (GP, GN, BD, ...); normalize to the last 3 chars.
	t := parts[0]
	if len(t) > 3 {
		t = t[len(t)-3:]
	}
	return nmeaSentence{Type: strings.ToUpper(t), Fields: parts}, nil
}

// fixState accumulates RMC and GGA sentences into PositionFix values. RMC
// carries position/speed/course, GGA carries altitude, satellite count and
// HDOP; a fix is published whenever either refreshes the position.
type fixState struct {
	minSatellites int

	latDeg, lonDeg float64
	havePos        bool

	speedMS   float64
	courseDeg float64

	altM float64

	satellites int
	hdop       float64

	seq uint64
}

func (s *fixState) apply(nowUTC time.Time, sent nmeaSentence) (estimator.PositionFix, bool) {
	switch sent.Type {
	case "RMC":
		return s.applyRMC(nowUTC, sent.Fields)
	case "GGA":
		return s.applyGGA(nowUTC, sent.Fields)
	default:
		return estimator.PositionFix{}, false
	}
}

func (s *fixState) emit(nowUTC time.Time) (estimator.PositionFix, bool) {
	if !s.havePos {
		return estimator.PositionFix{}, false
	}
	s.seq++
	return estimator.PositionFix{
		Seq:        s.seq,
		Time:       nowUTC,
		LatDeg:     s.latDeg,
		LonDeg:     s.lonDeg,
		AltM:       s.altM,
		SpeedMS:    s.speedMS,
		CourseDeg:  s.courseDeg,
		Satellites: s.satellites,
		HDOP:       s.hdop,
		Valid:      s.satellites >= s.minSatellites,
	}, true
}

// RMC fields: 1 time, 2 status (A/V), 3-4 lat N/S, 5-6 lon E/W,
// 7 speed over ground (knots), 8 course over ground (deg), 9 date.
func (s *fixState) applyRMC(nowUTC time.Time, f []string) (estimator.PositionFix, bool) {
	if len(f) < 10 {
		return estimator.PositionFix{}, false
	}
	if strings.TrimSpace(f[2]) != "A" {
		// Void fix: keep the previous state untouched.
		return estimator.PositionFix{}, false
	}

	lat, latOK := parseNMEALatLon(f[3], f[4])
	lon, lonOK := parseNMEALatLon(f[5], f[6])
	if !latOK || !lonOK {
		return estimator.PositionFix{}, false
	}
	s.latDeg = lat
	s.lonDeg = lon
	s.havePos = true

	if gs, ok := parseFloat(f[7]); ok {
		s.speedMS = gs * knotsToMS
	}
	if trk, ok := parseFloat(f[8]); ok {
		s.courseDeg = math.Mod(trk+360, 360)
	}
	return s.emit(nowUTC)
}

// GGA fields: 2-3 lat N/S, 4-5 lon E/W, 6 fix quality, 7 satellites,
// 8 HDOP, 9 altitude (meters).
func (s *fixState) applyGGA(nowUTC time.Time, f []string) (estimator.PositionFix, bool) {
	if len(f) < 11 {
		return estimator.PositionFix{}, false
	}
	q := strings.TrimSpace(f[6])
	if q == "" || q == "0" {
		return estimator.PositionFix{}, false
	}
	if sats, err := strconv.Atoi(strings.TrimSpace(f[7])); err == nil {
		s.satellites = sats
	}
	if hdop, ok := parseFloat(f[8]); ok {
		s.hdop = hdop
	}
	if altM, ok := parseFloat(f[9]); ok {
		s.altM = altM
	}

	lat, latOK := parseNMEALatLon(f[2], f[3])
	lon, lonOK := parseNMEALatLon(f[4], f[5])
	if latOK && lonOK {
		s.latDeg = lat
		s.lonDeg = lon
		s.havePos = true
	}
	return s.emit(nowUTC)
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseNMEALatLon parses ddmm.mmmm (lat) or dddmm.mmmm (lon) plus hemisphere.
func parseNMEALatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	dot := strings.IndexByte(v, '.')
	intPart := v
	if dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}

	deg, err := strconv.Atoi(intPart[:len(intPart)-2])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[len(intPart)-2:], 64)
	if err != nil {
		return 0, false
	}

	dec := float64(deg) + mins/60.0
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}
