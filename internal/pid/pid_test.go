package pid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func headingConfig() Config {
	return Config{
		Kp: 1.0, Ki: 0.1, Kd: 0.05,
		OutputMin: -100, OutputMax: 100,
		IntegralMin: -50, IntegralMax: 50,
		Deadband:   2.0,
		SampleTime: 100 * time.Millisecond,
	}
}

func TestDeadbandSuppressesOutput(t *testing.T) {
	c := New(headingConfig())
	now := time.Unix(1700000000, 0)

	assert.Zero(t, c.Update(0, now))
	assert.Zero(t, c.Update(1.9, now.Add(100*time.Millisecond)))
	assert.Zero(t, c.Update(-2.0, now.Add(200*time.Millisecond)))
}

func TestProportionalResponse(t *testing.T) {
	cfg := headingConfig()
	cfg.Ki = 0
	cfg.Kd = 0
	c := New(cfg)

	out := c.Update(30, time.Unix(1700000000, 0))
	assert.InDelta(t, 30.0, out, 1e-9)
}

func TestOutputClamped(t *testing.T) {
	c := New(headingConfig())
	out := c.Update(500, time.Unix(1700000000, 0))
	assert.Equal(t, 100.0, out)

	out = c.Update(-500, time.Unix(1700000001, 0))
	assert.Equal(t, -100.0, out)
}

func TestIntegralClamped(t *testing.T) {
	cfg := headingConfig()
	cfg.Kp = 0
	cfg.Kd = 0
	cfg.Ki = 1.0
	c := New(cfg)

	// Push a large constant error for a long simulated time; the integral
	// term must saturate at IntegralMax, not grow without bound.
	now := time.Unix(1700000000, 0)
	var out float64
	for i := 0; i < 1000; i++ {
		now = now.Add(time.Second)
		out = c.Update(10, now)
	}
	assert.InDelta(t, 50.0, out, 1e-9)
}

func TestFirstUpdateUsesSampleTime(t *testing.T) {
	cfg := headingConfig()
	cfg.Kp = 0
	cfg.Kd = 0
	cfg.Ki = 1.0
	c := New(cfg)

	// First call has no previous timestamp: dt falls back to 100ms.
	out := c.Update(10, time.Unix(1700000000, 0))
	assert.InDelta(t, 1.0, out, 1e-9)
}

func TestResetClearsWindup(t *testing.T) {
	cfg := headingConfig()
	cfg.Kp = 0
	cfg.Kd = 0
	cfg.Ki = 1.0
	c := New(cfg)

	now := time.Unix(1700000000, 0)
	for i := 0; i < 20; i++ {
		now = now.Add(time.Second)
		c.Update(10, now)
	}
	c.Reset()

	out := c.Update(10, now.Add(time.Second))
	// After reset the first update is back on SampleTime dt.
	assert.InDelta(t, 1.0, out, 1e-9)
}

func TestDerivativeDampens(t *testing.T) {
	cfg := headingConfig()
	cfg.Ki = 0
	c := New(cfg)

	now := time.Unix(1700000000, 0)
	c.Update(40, now)
	// Error shrinking: derivative is negative and reduces the output below
	// the pure proportional term.
	out := c.Update(30, now.Add(100*time.Millisecond))
	assert.Less(t, out, 30.0)
}
