package nav

// Direction is the commanded drive direction.
type Direction int

const (
	DirectionStop Direction = iota
	DirectionForward
	DirectionBackward
	DirectionLeft
	DirectionRight
)

func (d Direction) String() string {
	switch d {
	case DirectionStop:
		return "stop"
	case DirectionForward:
		return "forward"
	case DirectionBackward:
		return "backward"
	case DirectionLeft:
		return "left"
	case DirectionRight:
		return "right"
	default:
		return "unknown"
	}
}

// SpeedTier is the coarse throttle setting the thruster driver maps to pulse
// widths.
type SpeedTier int

const (
	SpeedStop SpeedTier = iota
	SpeedSlow
	SpeedMedium
	SpeedFast
)

func (s SpeedTier) String() string {
	switch s {
	case SpeedStop:
		return "stop"
	case SpeedSlow:
		return "slow"
	case SpeedMedium:
		return "medium"
	case SpeedFast:
		return "fast"
	default:
		return "unknown"
	}
}

// Actuator is the propulsion contract the orchestrator drives. EmergencyStop
// must be safe to call from any goroutine at any time and must win over a
// concurrent Drive.
type Actuator interface {
	Drive(dir Direction, speed SpeedTier) error
	Stop() error
	EmergencyStop() error
}
