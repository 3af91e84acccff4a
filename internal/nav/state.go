package nav

import "fmt"

// State is the orchestrator's operating mode. Transitions are restricted to
// the table in allowedTransitions; everything else is rejected so a bug in a
// loop cannot teleport the vessel out of an emergency stop.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateNavigating
	StateAvoiding
	StateArrived
	StateError
	StateEmergencyStop
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateNavigating:
		return "navigating"
	case StateAvoiding:
		return "avoiding"
	case StateArrived:
		return "arrived"
	case StateError:
		return "error"
	case StateEmergencyStop:
		return "emergency_stop"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var allowedTransitions = map[State][]State{
	StateIdle:          {StateInitializing, StateNavigating, StateError, StateEmergencyStop},
	StateInitializing:  {StateIdle, StateNavigating, StateError, StateEmergencyStop},
	StateNavigating:    {StateAvoiding, StateArrived, StateIdle, StateError, StateEmergencyStop},
	StateAvoiding:      {StateNavigating, StateIdle, StateError, StateEmergencyStop},
	StateArrived:       {StateIdle, StateNavigating, StateError, StateEmergencyStop},
	StateError:         {StateIdle, StateEmergencyStop},
	StateEmergencyStop: {StateIdle},
}

func canTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
