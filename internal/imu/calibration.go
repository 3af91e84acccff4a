package imu

// calibrator averages N stationary frames into zero-point offsets for the
// gyro and accelerometer. Yaw is deliberately left uncalibrated: its zero
// comes from the magnetometer, not from a level start.
type calibrator struct {
	target int
	count  int

	gyroSum  [3]float64
	rollSum  float64
	pitchSum float64

	gyroOffset  [3]float64
	rollOffset  float64
	pitchOffset float64

	done bool
}

func newCalibrator(samples int) *calibrator {
	c := &calibrator{target: samples}
	if samples <= 0 {
		c.done = true
	}
	return c
}

func (c *calibrator) Done() bool { return c.done }

// observe accumulates one frame; returns true when calibration just finished.
func (c *calibrator) observe(f rawFrame) bool {
	if c.done {
		return false
	}
	switch f.kind {
	case frameGyro:
		for i := 0; i < 3; i++ {
			c.gyroSum[i] += f.v[i]
		}
	case frameAngle:
		c.rollSum += f.v[0]
		c.pitchSum += f.v[1]
		c.count++
		if c.count >= c.target {
			n := float64(c.count)
			for i := 0; i < 3; i++ {
				c.gyroOffset[i] = c.gyroSum[i] / n
			}
			c.rollOffset = c.rollSum / n
			c.pitchOffset = c.pitchSum / n
			c.done = true
			return true
		}
	}
	return false
}

func (c *calibrator) applyAngle(roll, pitch, yaw float64) (float64, float64, float64) {
	if !c.done {
		return roll, pitch, yaw
	}
	return roll - c.rollOffset, pitch - c.pitchOffset, yaw
}

func (c *calibrator) applyGyro(v [3]float64) [3]float64 {
	if !c.done {
		return v
	}
	for i := 0; i < 3; i++ {
		v[i] -= c.gyroOffset[i]
	}
	return v
}
