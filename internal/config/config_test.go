package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "usv-nav.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeTempConfig(t, "mqtt:\n  enable: false\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got, want := cfg.Fusion.Interval, 50*time.Millisecond; got != want {
		t.Fatalf("fusion.interval got=%v want=%v", got, want)
	}
	if got, want := cfg.Fusion.PInit, 10.0; got != want {
		t.Fatalf("fusion.p_init got=%v want=%v", got, want)
	}
	if got, want := cfg.Fusion.RGPSPos, 5.0; got != want {
		t.Fatalf("fusion.r_gps_pos got=%v want=%v", got, want)
	}
	if got, want := cfg.GPS.MinSatellites, 4; got != want {
		t.Fatalf("gps.min_satellites got=%v want=%v", got, want)
	}
	if got, want := cfg.Nav.TargetPrecisionM, 5.0; got != want {
		t.Fatalf("nav.target_precision_m got=%v want=%v", got, want)
	}
	if got, want := cfg.Nav.MaxHeadingErrorDeg, 45.0; got != want {
		t.Fatalf("nav.max_heading_error_deg got=%v want=%v", got, want)
	}
	if got, want := cfg.Nav.CommandQueueSize, 100; got != want {
		t.Fatalf("nav.command_queue_size got=%v want=%v", got, want)
	}
	if got, want := cfg.Nav.Heading.Kp, 1.0; got != want {
		t.Fatalf("nav.heading_pid.kp got=%v want=%v", got, want)
	}
	if got, want := cfg.Nav.Heading.OutputMax, 100.0; got != want {
		t.Fatalf("nav.heading_pid.output_max got=%v want=%v", got, want)
	}
	if got, want := cfg.Nav.Speed.Deadband, 0.5; got != want {
		t.Fatalf("nav.speed_pid.deadband got=%v want=%v", got, want)
	}
	if got, want := cfg.Nav.Avoidance.ImmediateStopMM, 500; got != want {
		t.Fatalf("nav.avoidance.immediate_stop_mm got=%v want=%v", got, want)
	}
	if got, want := cfg.Ultrasonic.FilterWindow, 5; got != want {
		t.Fatalf("ultrasonic.filter_window got=%v want=%v", got, want)
	}
	if got, want := cfg.Ultrasonic.MaxRangeMM, 4500; got != want {
		t.Fatalf("ultrasonic.max_range_mm got=%v want=%v", got, want)
	}
	if got, want := cfg.Motor.StopPulseNS, int64(1_500_000); got != want {
		t.Fatalf("motor.stop_pulse_ns got=%v want=%v", got, want)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeTempConfig(t, `
fusion:
  interval: 25ms
  q_pos: 0.05
nav:
  loop_interval: 200ms
  heading_pid:
    kp: 2.5
  avoidance:
    turn_direction: right
mqtt:
  broker: broker.local:1883
  client_id: hull-7
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.Fusion.Interval, 25*time.Millisecond; got != want {
		t.Fatalf("fusion.interval got=%v want=%v", got, want)
	}
	if got, want := cfg.Fusion.QPos, 0.05; got != want {
		t.Fatalf("fusion.q_pos got=%v want=%v", got, want)
	}
	if got, want := cfg.Nav.LoopInterval, 200*time.Millisecond; got != want {
		t.Fatalf("nav.loop_interval got=%v want=%v", got, want)
	}
	if got, want := cfg.Nav.Heading.Kp, 2.5; got != want {
		t.Fatalf("nav.heading_pid.kp got=%v want=%v", got, want)
	}
	// Override of one PID field must not zero the rest.
	if got, want := cfg.Nav.Heading.Ki, 0.1; got != want {
		t.Fatalf("nav.heading_pid.ki got=%v want=%v", got, want)
	}
	if got, want := cfg.Nav.Avoidance.TurnDirection, "right"; got != want {
		t.Fatalf("nav.avoidance.turn_direction got=%v want=%v", got, want)
	}
	if got, want := cfg.MQTT.Broker, "broker.local:1883"; got != want {
		t.Fatalf("mqtt.broker got=%v want=%v", got, want)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "imu device required",
			body: "imu:\n  enable: true\n",
			want: "imu.device is required",
		},
		{
			name: "ultrasonic device required",
			body: "ultrasonic:\n  enable: true\n",
			want: "ultrasonic.device is required",
		},
		{
			name: "avoidance threshold order",
			body: "nav:\n  avoidance:\n    immediate_stop_mm: 2000\n",
			want: "thresholds must be ordered",
		},
		{
			name: "turn direction",
			body: "nav:\n  avoidance:\n    turn_direction: up\n",
			want: "turn_direction must be 'left' or 'right'",
		},
		{
			name: "status dest required",
			body: "status:\n  enable: true\n",
			want: "status.dest is required",
		},
		{
			name: "sim conflicts with gps",
			body: "sim:\n  enable: true\ngps:\n  enable: true\n",
			want: "sim.enable cannot be combined",
		},
		{
			name: "motor channel clash",
			body: "motor:\n  enable: true\n  left_channel: 1\n  right_channel: 1\n",
			want: "must differ",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempConfig(t, tc.body)
			_, err := Load(path)
			if err == nil {
				t.Fatalf("Load: expected error containing %q, got nil", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load: err=%q want substring %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatalf("Load: expected error for missing file")
	}
}
