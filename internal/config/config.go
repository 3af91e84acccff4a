package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Fusion     FusionConfig     `yaml:"fusion"`
	GPS        GPSConfig        `yaml:"gps"`
	IMU        IMUConfig        `yaml:"imu"`
	Ultrasonic UltrasonicConfig `yaml:"ultrasonic"`
	Nav        NavConfig        `yaml:"nav"`
	Motor      MotorConfig      `yaml:"motor"`
	Pump       PumpConfig       `yaml:"pump"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Bluetooth  BluetoothConfig  `yaml:"bluetooth"`
	Status     StatusConfig     `yaml:"status"`
	Sim        SimConfig        `yaml:"sim"`
}

// FusionConfig holds the Kalman filter noise model and the fusion loop timing.
//
// Noise values are variances in the filter's working units (meters, m/s,
// degrees). The defaults come from bench tuning on the target hull; they are
// deliberately conservative about GPS position noise.
type FusionConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`

	PInit   float64 `yaml:"p_init"`
	QPos    float64 `yaml:"q_pos"`
	QVel    float64 `yaml:"q_vel"`
	QAtt    float64 `yaml:"q_att"`
	RGPSPos float64 `yaml:"r_gps_pos"`
	RGPSVel float64 `yaml:"r_gps_vel"`
	RIMUAtt float64 `yaml:"r_imu_att"`
}

type GPSConfig struct {
	Enable bool   `yaml:"enable"`
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`

	// MinSatellites gates fix validity; below this the fix is published invalid.
	MinSatellites int `yaml:"min_satellites"`
}

type IMUConfig struct {
	Enable bool   `yaml:"enable"`
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`

	// CalibrationSamples is how many stationary samples the startup zero-point
	// calibration averages. 0 disables calibration.
	CalibrationSamples int `yaml:"calibration_samples"`
}

type UltrasonicConfig struct {
	Enable bool   `yaml:"enable"`
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`

	PollInterval time.Duration `yaml:"poll_interval"`
	FilterWindow int           `yaml:"filter_window"`

	// Measurement gate in millimeters (DYP-A02 datasheet range is 30..4500).
	MinRangeMM int `yaml:"min_range_mm"`
	MaxRangeMM int `yaml:"max_range_mm"`
}

// AvoidanceConfig is the ordered threshold table, nearest first.
type AvoidanceConfig struct {
	SafeDistanceMM    int `yaml:"safe_distance_mm"`
	WarningDistanceMM int `yaml:"warning_distance_mm"`
	ImmediateStopMM   int `yaml:"immediate_stop_mm"`
	SlowApproachMM    int `yaml:"slow_approach_mm"`
	TurnMM            int `yaml:"turn_mm"`

	// TurnDirection selects which way the vessel dodges: "left" or "right".
	TurnDirection string `yaml:"turn_direction"`
}

type PIDConfig struct {
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`

	OutputMin   float64 `yaml:"output_min"`
	OutputMax   float64 `yaml:"output_max"`
	IntegralMin float64 `yaml:"integral_min"`
	IntegralMax float64 `yaml:"integral_max"`

	Deadband   float64       `yaml:"deadband"`
	SampleTime time.Duration `yaml:"sample_time"`
}

type NavConfig struct {
	LoopInterval      time.Duration `yaml:"loop_interval"`
	AvoidanceInterval time.Duration `yaml:"avoidance_interval"`
	PositionInterval  time.Duration `yaml:"position_interval"`
	StatusInterval    time.Duration `yaml:"status_interval"`
	StopTimeout       time.Duration `yaml:"stop_timeout"`

	TargetPrecisionM        float64 `yaml:"target_precision_m"`
	SpeedReductionDistanceM float64 `yaml:"speed_reduction_distance_m"`
	MaxHeadingErrorDeg      float64 `yaml:"max_heading_error_deg"`

	CommandQueueSize int `yaml:"command_queue_size"`

	Heading   PIDConfig       `yaml:"heading_pid"`
	Speed     PIDConfig       `yaml:"speed_pid"`
	Avoidance AvoidanceConfig `yaml:"avoidance"`
}

type MotorConfig struct {
	Enable bool `yaml:"enable"`

	ChipPath     string `yaml:"chip_path"`
	LeftChannel  int    `yaml:"left_channel"`
	RightChannel int    `yaml:"right_channel"`

	PeriodNS         int64 `yaml:"period_ns"`
	StopPulseNS      int64 `yaml:"stop_pulse_ns"`
	ForwardPulseNS   int64 `yaml:"forward_pulse_ns"`
	ReversePulseNS   int64 `yaml:"reverse_pulse_ns"`

	// Speed tier fractions of full throttle, 0..1.
	SlowFraction   float64 `yaml:"slow_fraction"`
	MediumFraction float64 `yaml:"medium_fraction"`
	FastFraction   float64 `yaml:"fast_fraction"`
}

type PumpConfig struct {
	Enable bool `yaml:"enable"`

	Chip    string `yaml:"chip"`
	Bay1Pin int    `yaml:"bay1_pin"`
	Bay2Pin int    `yaml:"bay2_pin"`

	FlowRateMLPerSec float64       `yaml:"flow_rate_ml_per_sec"`
	PulseDuration    time.Duration `yaml:"pulse_duration"`
	Iterations       int           `yaml:"iterations"`
}

type MQTTConfig struct {
	Enable   bool   `yaml:"enable"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	Keepalive time.Duration `yaml:"keepalive"`
}

type BluetoothConfig struct {
	Enable bool   `yaml:"enable"`
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

type StatusConfig struct {
	Enable   bool          `yaml:"enable"`
	Dest     string        `yaml:"dest"`
	Interval time.Duration `yaml:"interval"`
}

type SimConfig struct {
	Enable bool `yaml:"enable"`

	CenterLatDeg float64       `yaml:"center_lat_deg"`
	CenterLonDeg float64       `yaml:"center_lon_deg"`
	RadiusM      float64       `yaml:"radius_m"`
	SpeedMS      float64       `yaml:"speed_ms"`
	FixInterval  time.Duration `yaml:"fix_interval"`
	AttInterval  time.Duration `yaml:"att_interval"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := applyDefaults(&cfg); err != nil {
		return Config{}, err
	}
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) error {
	f := &cfg.Fusion
	if f.Interval <= 0 {
		f.Interval = 50 * time.Millisecond
	}
	if f.StaleAfter <= 0 {
		f.StaleAfter = 2 * time.Second
	}
	if f.PInit == 0 {
		f.PInit = 10.0
	}
	if f.QPos == 0 {
		f.QPos = 0.01
	}
	if f.QVel == 0 {
		f.QVel = 0.1
	}
	if f.QAtt == 0 {
		f.QAtt = 0.1
	}
	if f.RGPSPos == 0 {
		f.RGPSPos = 5.0
	}
	if f.RGPSVel == 0 {
		f.RGPSVel = 1.0
	}
	if f.RIMUAtt == 0 {
		f.RIMUAtt = 0.1
	}

	if cfg.GPS.Baud == 0 {
		cfg.GPS.Baud = 9600
	}
	if cfg.GPS.MinSatellites == 0 {
		cfg.GPS.MinSatellites = 4
	}

	if cfg.IMU.Baud == 0 {
		cfg.IMU.Baud = 115200
	}
	if cfg.IMU.CalibrationSamples == 0 {
		cfg.IMU.CalibrationSamples = 100
	}

	u := &cfg.Ultrasonic
	if u.Baud == 0 {
		u.Baud = 9600
	}
	if u.PollInterval <= 0 {
		u.PollInterval = 50 * time.Millisecond
	}
	if u.FilterWindow <= 0 {
		u.FilterWindow = 5
	}
	if u.MinRangeMM == 0 {
		u.MinRangeMM = 30
	}
	if u.MaxRangeMM == 0 {
		u.MaxRangeMM = 4500
	}

	n := &cfg.Nav
	if n.LoopInterval <= 0 {
		n.LoopInterval = 100 * time.Millisecond
	}
	if n.AvoidanceInterval <= 0 {
		n.AvoidanceInterval = 50 * time.Millisecond
	}
	if n.PositionInterval <= 0 {
		n.PositionInterval = 100 * time.Millisecond
	}
	if n.StatusInterval <= 0 {
		n.StatusInterval = 1 * time.Second
	}
	if n.StopTimeout <= 0 {
		n.StopTimeout = 5 * time.Second
	}
	if n.TargetPrecisionM == 0 {
		n.TargetPrecisionM = 5.0
	}
	if n.SpeedReductionDistanceM == 0 {
		n.SpeedReductionDistanceM = 50.0
	}
	if n.MaxHeadingErrorDeg == 0 {
		n.MaxHeadingErrorDeg = 45.0
	}
	if n.CommandQueueSize == 0 {
		n.CommandQueueSize = 100
	}

	applyPIDDefaults(&n.Heading, PIDConfig{
		Kp: 1.0, Ki: 0.1, Kd: 0.05,
		OutputMin: -100, OutputMax: 100,
		IntegralMin: -50, IntegralMax: 50,
		Deadband: 2.0, SampleTime: 100 * time.Millisecond,
	})
	applyPIDDefaults(&n.Speed, PIDConfig{
		Kp: 0.8, Ki: 0.05, Kd: 0.02,
		OutputMin: 0, OutputMax: 100,
		IntegralMin: -30, IntegralMax: 30,
		Deadband: 0.5, SampleTime: 100 * time.Millisecond,
	})

	a := &n.Avoidance
	if a.SafeDistanceMM == 0 {
		a.SafeDistanceMM = 1500
	}
	if a.WarningDistanceMM == 0 {
		a.WarningDistanceMM = 3000
	}
	if a.ImmediateStopMM == 0 {
		a.ImmediateStopMM = 500
	}
	if a.SlowApproachMM == 0 {
		a.SlowApproachMM = 1000
	}
	if a.TurnMM == 0 {
		a.TurnMM = 1500
	}
	if a.TurnDirection == "" {
		a.TurnDirection = "left"
	}

	m := &cfg.Motor
	if m.ChipPath == "" {
		m.ChipPath = "/sys/class/pwm/pwmchip0"
	}
	if m.RightChannel == 0 && m.LeftChannel == 0 {
		m.RightChannel = 1
	}
	if m.PeriodNS == 0 {
		m.PeriodNS = 20_000_000 // 50 Hz ESC frame
	}
	if m.StopPulseNS == 0 {
		m.StopPulseNS = 1_500_000
	}
	if m.ForwardPulseNS == 0 {
		m.ForwardPulseNS = 2_000_000
	}
	if m.ReversePulseNS == 0 {
		m.ReversePulseNS = 1_000_000
	}
	if m.SlowFraction == 0 {
		m.SlowFraction = 0.3
	}
	if m.MediumFraction == 0 {
		m.MediumFraction = 0.6
	}
	if m.FastFraction == 0 {
		m.FastFraction = 1.0
	}

	p := &cfg.Pump
	if p.Chip == "" {
		p.Chip = "gpiochip0"
	}
	if p.FlowRateMLPerSec == 0 {
		p.FlowRateMLPerSec = 2.0
	}
	if p.PulseDuration <= 0 {
		p.PulseDuration = 500 * time.Millisecond
	}
	if p.Iterations == 0 {
		p.Iterations = 5
	}

	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "localhost:1883"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "usv-nav"
	}
	if cfg.MQTT.Keepalive <= 0 {
		cfg.MQTT.Keepalive = 60 * time.Second
	}

	if cfg.Bluetooth.Device == "" {
		cfg.Bluetooth.Device = "/dev/rfcomm0"
	}
	if cfg.Bluetooth.Baud == 0 {
		cfg.Bluetooth.Baud = 9600
	}

	if cfg.Status.Interval <= 0 {
		cfg.Status.Interval = 1 * time.Second
	}

	s := &cfg.Sim
	if s.RadiusM == 0 {
		s.RadiusM = 50
	}
	if s.SpeedMS == 0 {
		s.SpeedMS = 1.5
	}
	if s.FixInterval <= 0 {
		s.FixInterval = 200 * time.Millisecond
	}
	if s.AttInterval <= 0 {
		s.AttInterval = 50 * time.Millisecond
	}
	return nil
}

func applyPIDDefaults(p *PIDConfig, def PIDConfig) {
	if p.Kp == 0 {
		p.Kp = def.Kp
	}
	if p.Ki == 0 {
		p.Ki = def.Ki
	}
	if p.Kd == 0 {
		p.Kd = def.Kd
	}
	if p.OutputMin == 0 && p.OutputMax == 0 {
		p.OutputMin = def.OutputMin
		p.OutputMax = def.OutputMax
	}
	if p.IntegralMin == 0 && p.IntegralMax == 0 {
		p.IntegralMin = def.IntegralMin
		p.IntegralMax = def.IntegralMax
	}
	if p.Deadband == 0 {
		p.Deadband = def.Deadband
	}
	if p.SampleTime <= 0 {
		p.SampleTime = def.SampleTime
	}
}

func validate(cfg *Config) error {
	if cfg.GPS.Enable && !strings.HasPrefix(cfg.GPS.Device, "/dev/") && cfg.GPS.Device != "" {
		return fmt.Errorf("gps.device must be a /dev path")
	}
	if cfg.IMU.Enable && cfg.IMU.Device == "" {
		return fmt.Errorf("imu.device is required when imu.enable is true")
	}
	if cfg.Ultrasonic.Enable && cfg.Ultrasonic.Device == "" {
		return fmt.Errorf("ultrasonic.device is required when ultrasonic.enable is true")
	}
	if cfg.Ultrasonic.MinRangeMM >= cfg.Ultrasonic.MaxRangeMM {
		return fmt.Errorf("ultrasonic.min_range_mm must be below ultrasonic.max_range_mm")
	}

	a := cfg.Nav.Avoidance
	if a.TurnDirection != "left" && a.TurnDirection != "right" {
		return fmt.Errorf("nav.avoidance.turn_direction must be 'left' or 'right'")
	}
	if !(a.ImmediateStopMM < a.SlowApproachMM && a.SlowApproachMM < a.TurnMM) {
		return fmt.Errorf("nav.avoidance thresholds must be ordered: immediate_stop < slow_approach < turn")
	}
	if a.SafeDistanceMM < a.ImmediateStopMM {
		return fmt.Errorf("nav.avoidance.safe_distance_mm must cover immediate_stop_mm")
	}

	for _, pc := range []struct {
		name string
		p    PIDConfig
	}{{"heading_pid", cfg.Nav.Heading}, {"speed_pid", cfg.Nav.Speed}} {
		if pc.p.Kp <= 0 {
			return fmt.Errorf("nav.%s.kp must be > 0", pc.name)
		}
		if pc.p.OutputMin >= pc.p.OutputMax {
			return fmt.Errorf("nav.%s output limits must satisfy min < max", pc.name)
		}
		if pc.p.IntegralMin >= pc.p.IntegralMax {
			return fmt.Errorf("nav.%s integral limits must satisfy min < max", pc.name)
		}
	}

	if cfg.Motor.Enable {
		m := cfg.Motor
		if m.LeftChannel == m.RightChannel {
			return fmt.Errorf("motor.left_channel and motor.right_channel must differ")
		}
		if !(m.ReversePulseNS < m.StopPulseNS && m.StopPulseNS < m.ForwardPulseNS) {
			return fmt.Errorf("motor pulse widths must be ordered: reverse < stop < forward")
		}
		if m.ForwardPulseNS > m.PeriodNS {
			return fmt.Errorf("motor.forward_pulse_ns must not exceed motor.period_ns")
		}
	}

	if cfg.Pump.Enable && cfg.Pump.Bay1Pin == 0 {
		return fmt.Errorf("pump.bay1_pin is required when pump.enable is true")
	}

	if cfg.Status.Enable && cfg.Status.Dest == "" {
		return fmt.Errorf("status.dest is required when status.enable is true")
	}

	if cfg.Sim.Enable && (cfg.GPS.Enable || cfg.IMU.Enable) {
		return fmt.Errorf("sim.enable cannot be combined with gps.enable or imu.enable")
	}
	return nil
}
