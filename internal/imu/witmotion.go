// Package imu reads a WitMotion WT901-style serial IMU and publishes attitude
// samples for the state estimator.
package imu

import "fmt"

// Wire format: 11-byte frames, 0x55 header, a type byte, four little-endian
// int16 payload words, and an additive checksum over the first ten bytes.
const (
	frameHeader = 0x55
	frameLen    = 11

	frameAccel = 0x51
	frameGyro  = 0x52
	frameAngle = 0x53
)

// rawFrame is one decoded sensor packet before calibration.
type rawFrame struct {
	kind byte
	v    [3]float64 // x, y, z in physical units
}

type frameDecoder struct {
	buf []byte
}

// Feed consumes serial bytes and returns all checksum-valid frames found.
func (d *frameDecoder) Feed(p []byte) []rawFrame {
	d.buf = append(d.buf, p...)
	var out []rawFrame
	for {
		i := 0
		for i < len(d.buf) && d.buf[i] != frameHeader {
			i++
		}
		d.buf = d.buf[i:]
		if len(d.buf) < frameLen {
			return out
		}
		f, err := parseFrame(d.buf[:frameLen])
		if err != nil {
			d.buf = d.buf[1:]
			continue
		}
		d.buf = d.buf[frameLen:]
		out = append(out, f)
	}
}

func parseFrame(b []byte) (rawFrame, error) {
	if len(b) != frameLen || b[0] != frameHeader {
		return rawFrame{}, fmt.Errorf("imu: malformed frame % X", b)
	}
	var sum byte
	for _, c := range b[:frameLen-1] {
		sum += c
	}
	if sum != b[frameLen-1] {
		return rawFrame{}, fmt.Errorf("imu: checksum mismatch got=%02X want=%02X", b[frameLen-1], sum)
	}

	w := func(i int) float64 {
		return float64(int16(uint16(b[2+2*i]) | uint16(b[3+2*i])<<8))
	}

	f := rawFrame{kind: b[1]}
	switch b[1] {
	case frameAccel:
		// +-16 g full scale.
		for i := 0; i < 3; i++ {
			f.v[i] = w(i) / 32768.0 * 16.0
		}
	case frameGyro:
		// +-2000 deg/s full scale.
		for i := 0; i < 3; i++ {
			f.v[i] = w(i) / 32768.0 * 2000.0
		}
	case frameAngle:
		// +-180 deg.
		for i := 0; i < 3; i++ {
			f.v[i] = w(i) / 32768.0 * 180.0
		}
	default:
		return rawFrame{}, fmt.Errorf("imu: unknown frame type 0x%02X", b[1])
	}
	return f, nil
}
