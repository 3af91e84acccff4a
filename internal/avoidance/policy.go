// Package avoidance maps a forward range reading onto an evasive action.
// The policy is pure; the navigator's avoidance loop owns the timing and the
// actuator.
package avoidance

import "fmt"

type Action int

const (
	ActionNone Action = iota
	ActionStop
	ActionSlow
	ActionTurnLeft
	ActionTurnRight
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionStop:
		return "stop"
	case ActionSlow:
		return "slow"
	case ActionTurnLeft:
		return "turn_left"
	case ActionTurnRight:
		return "turn_right"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

type ThreatLevel int

const (
	ThreatUnknown ThreatLevel = iota
	ThreatSafe
	ThreatLow
	ThreatMedium
	ThreatHigh
	ThreatCritical
)

func (t ThreatLevel) String() string {
	switch t {
	case ThreatSafe:
		return "safe"
	case ThreatLow:
		return "low"
	case ThreatMedium:
		return "medium"
	case ThreatHigh:
		return "high"
	case ThreatCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Config is the ordered threshold table in millimeters, nearest first.
// Policy behavior is undefined unless ImmediateStopMM < SlowApproachMM <
// TurnMM <= WarningMM (config validation enforces this).
type Config struct {
	ImmediateStopMM int
	SlowApproachMM  int
	TurnMM          int
	WarningMM       int

	// TurnRight selects the dodge direction for the turn band.
	TurnRight bool
}

// Decision is the policy verdict for one reading.
type Decision struct {
	Action     Action
	Threat     ThreatLevel
	DistanceMM int
}

// Obstructed reports whether the decision demands an evasive maneuver.
func (d Decision) Obstructed() bool {
	return d.Action != ActionNone
}

type Policy struct {
	cfg Config
}

func New(cfg Config) *Policy {
	return &Policy{cfg: cfg}
}

// Evaluate classifies one filtered range reading. Thresholds are checked
// nearest first so the most severe applicable action always wins.
func (p *Policy) Evaluate(distanceMM int, valid bool) Decision {
	d := Decision{DistanceMM: distanceMM}
	if !valid {
		d.Threat = ThreatUnknown
		return d
	}

	switch {
	case distanceMM < p.cfg.ImmediateStopMM:
		d.Action = ActionStop
		d.Threat = ThreatCritical
	case distanceMM < p.cfg.SlowApproachMM:
		d.Action = ActionSlow
		d.Threat = ThreatHigh
	case distanceMM < p.cfg.TurnMM:
		if p.cfg.TurnRight {
			d.Action = ActionTurnRight
		} else {
			d.Action = ActionTurnLeft
		}
		d.Threat = ThreatMedium
	case distanceMM < p.cfg.WarningMM:
		d.Threat = ThreatLow
	default:
		d.Threat = ThreatSafe
	}
	return d
}
