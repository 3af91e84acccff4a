// Package ultrasonic reads a DYP-A02 style serial rangefinder and publishes a
// median-filtered forward distance for the obstacle avoidance loop.
package ultrasonic

import "fmt"

// Frame format: 0xFF, Data_H, Data_L, SUM where SUM = (0xFF+H+L)&0xFF and the
// distance is Data_H<<8|Data_L in millimeters.
const (
	frameHeader = 0xFF
	frameLen    = 4
)

// decoder resynchronizes on the header byte and yields one distance per
// checksum-valid frame.
type decoder struct {
	buf []byte
}

// Feed consumes raw serial bytes and returns the distances of all complete
// valid frames found. Frames failing the checksum are dropped and the stream
// re-syncs on the next header byte.
func (d *decoder) Feed(p []byte) []int {
	d.buf = append(d.buf, p...)
	var out []int
	for {
		// Drop garbage before the header.
		i := 0
		for i < len(d.buf) && d.buf[i] != frameHeader {
			i++
		}
		d.buf = d.buf[i:]
		if len(d.buf) < frameLen {
			return out
		}
		mm, err := parseFrame(d.buf[:frameLen])
		if err != nil {
			// Bad checksum: skip this header byte and re-sync.
			d.buf = d.buf[1:]
			continue
		}
		d.buf = d.buf[frameLen:]
		out = append(out, mm)
	}
}

func parseFrame(f []byte) (int, error) {
	if len(f) != frameLen || f[0] != frameHeader {
		return 0, fmt.Errorf("ultrasonic: malformed frame % X", f)
	}
	sum := (int(f[0]) + int(f[1]) + int(f[2])) & 0xFF
	if sum != int(f[3]) {
		return 0, fmt.Errorf("ultrasonic: checksum mismatch got=%02X want=%02X", f[3], sum)
	}
	return int(f[1])<<8 | int(f[2]), nil
}
