package imu

import (
	"math"
	"testing"
)

func buildFrame(kind byte, words [4]int16) []byte {
	b := []byte{frameHeader, kind}
	for _, w := range words {
		b = append(b, byte(uint16(w)&0xFF), byte(uint16(w)>>8))
	}
	var sum byte
	for _, c := range b {
		sum += c
	}
	return append(b, sum)
}

func angleWord(deg float64) int16 {
	return int16(math.Round(deg / 180.0 * 32768.0))
}

func TestParseAngleFrame(t *testing.T) {
	b := buildFrame(frameAngle, [4]int16{angleWord(10), angleWord(-5), angleWord(90), 0})
	f, err := parseFrame(b)
	if err != nil {
		t.Fatalf("parseFrame: %v", err)
	}
	if f.kind != frameAngle {
		t.Fatalf("kind got=0x%02X want=0x%02X", f.kind, frameAngle)
	}
	if math.Abs(f.v[0]-10) > 0.01 || math.Abs(f.v[1]+5) > 0.01 || math.Abs(f.v[2]-90) > 0.01 {
		t.Fatalf("angles got=%v want=[10 -5 90]", f.v)
	}
}

func TestParseGyroFrame(t *testing.T) {
	// 100 deg/s on z.
	w := int16(math.Round(100.0 / 2000.0 * 32768.0))
	f, err := parseFrame(buildFrame(frameGyro, [4]int16{0, 0, w, 0}))
	if err != nil {
		t.Fatalf("parseFrame: %v", err)
	}
	if math.Abs(f.v[2]-100) > 0.1 {
		t.Fatalf("gyro z got=%v want=100", f.v[2])
	}
}

func TestParseFrameBadChecksum(t *testing.T) {
	b := buildFrame(frameAngle, [4]int16{100, 200, 300, 0})
	b[10]++
	if _, err := parseFrame(b); err == nil {
		t.Fatalf("expected checksum error")
	}
}

func TestDecoderResyncAcrossReads(t *testing.T) {
	good := buildFrame(frameAngle, [4]int16{angleWord(45), 0, 0, 0})
	var d frameDecoder

	// Noise, then a frame split across two reads.
	got := d.Feed(append([]byte{0x01, 0x55, 0x02}, good[:6]...))
	if len(got) != 0 {
		t.Fatalf("partial feed got=%v want none", got)
	}
	got = d.Feed(good[6:])
	if len(got) != 1 {
		t.Fatalf("got %d frames want 1", len(got))
	}
	if math.Abs(got[0].v[0]-45) > 0.01 {
		t.Fatalf("roll got=%v want=45", got[0].v[0])
	}
}

func TestCalibrationOffsets(t *testing.T) {
	c := newCalibrator(2)

	// Stationary with a small roll bias and gyro drift.
	gyro := rawFrame{kind: frameGyro, v: [3]float64{0.5, -0.2, 0.1}}
	angle := rawFrame{kind: frameAngle, v: [3]float64{1.5, -0.5, 120}}
	c.observe(gyro)
	c.observe(angle)
	c.observe(gyro)
	if c.Done() {
		t.Fatalf("calibration finished early")
	}
	if !c.observe(angle) {
		t.Fatalf("calibration did not finish on target sample")
	}

	roll, pitch, yaw := c.applyAngle(1.5, -0.5, 120)
	if math.Abs(roll) > 1e-9 || math.Abs(pitch) > 1e-9 {
		t.Fatalf("calibrated angles got=(%v,%v) want=(0,0)", roll, pitch)
	}
	// Yaw passes through untouched.
	if yaw != 120 {
		t.Fatalf("yaw got=%v want=120", yaw)
	}

	g := c.applyGyro([3]float64{0.5, -0.2, 0.1})
	for i, v := range g {
		if math.Abs(v) > 1e-9 {
			t.Fatalf("gyro[%d] got=%v want=0", i, v)
		}
	}
}

func TestZeroSampleCalibrationIsPassthrough(t *testing.T) {
	c := newCalibrator(0)
	if !c.Done() {
		t.Fatalf("zero-sample calibrator must start done")
	}
	roll, _, _ := c.applyAngle(3, 0, 0)
	if roll != 3 {
		t.Fatalf("roll got=%v want=3", roll)
	}
}

func TestIngestCarriesRateAndAccelVectors(t *testing.T) {
	s := New(Config{})

	// Rate and acceleration frames arrive before the angle frame that emits
	// the sample; the sample must carry all three.
	s.ingest(rawFrame{kind: frameAccel, v: [3]float64{0.1, -0.2, 0.98}})
	s.ingest(rawFrame{kind: frameGyro, v: [3]float64{1, 2, 3}})
	s.ingest(rawFrame{kind: frameAngle, v: [3]float64{5, -5, 90}})

	sample := s.Sample()
	if !sample.Valid {
		t.Fatalf("no sample after angle frame")
	}
	if sample.GyroDPS != [3]float64{1, 2, 3} {
		t.Fatalf("gyro got=%v want=[1 2 3]", sample.GyroDPS)
	}
	if sample.AccelG != [3]float64{0.1, -0.2, 0.98} {
		t.Fatalf("accel got=%v want=[0.1 -0.2 0.98]", sample.AccelG)
	}
	if sample.YawDeg != 90 {
		t.Fatalf("yaw got=%v want=90", sample.YawDeg)
	}
}
