package nav

import "time"

// Kind enumerates the closed set of commands the orchestrator accepts.
type Kind int

const (
	KindSetTarget Kind = iota
	KindNavigateStart
	KindNavigateStop
	KindGetPosition
	KindGetTarget
	KindGetStatus
	KindStartMedication
	KindStopMedication
	KindEmergencyStop
	KindEmergencyReturn
)

func (k Kind) String() string {
	switch k {
	case KindSetTarget:
		return "SET_TARGET"
	case KindNavigateStart:
		return "NAVIGATE_START"
	case KindNavigateStop:
		return "NAVIGATE_STOP"
	case KindGetPosition:
		return "GET_POSITION"
	case KindGetTarget:
		return "GET_TARGET"
	case KindGetStatus:
		return "GET_STATUS"
	case KindStartMedication:
		return "START_MEDICATION"
	case KindStopMedication:
		return "STOP_MEDICATION"
	case KindEmergencyStop:
		return "EMERGENCY_STOP"
	case KindEmergencyReturn:
		return "EMERGENCY_RETURN"
	default:
		return "UNKNOWN"
	}
}

// Priority orders command classes; lower wins. While the vessel is avoiding
// an obstacle, only PriorityEmergency commands are accepted.
type Priority int

const (
	PriorityEmergency Priority = iota + 1
	PriorityObstacleAvoidance
	PriorityNavigation
	PriorityMedication
	PrioritySystem
	PriorityStatus
	PriorityCommunication
)

func (k Kind) Priority() Priority {
	switch k {
	case KindEmergencyStop, KindEmergencyReturn:
		return PriorityEmergency
	case KindSetTarget, KindNavigateStart, KindNavigateStop:
		return PriorityNavigation
	case KindStartMedication, KindStopMedication:
		return PriorityMedication
	case KindGetPosition, KindGetTarget, KindGetStatus:
		return PriorityStatus
	default:
		return PriorityCommunication
	}
}

// Target is a navigation waypoint.
type Target struct {
	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`
	AltM   float64 `json:"alt_m"`
}

// Command is one control request. Target is meaningful for KindSetTarget,
// Bay for the medication kinds.
type Command struct {
	ID   string
	Kind Kind

	Target Target
	Bay    int

	IssuedAt time.Time
}

// Result is the outcome of submitting or executing a command. Rejections are
// expected outcomes, not errors.
type Result struct {
	Status string         `json:"status"` // accepted, completed, rejected, failed
	Detail string         `json:"detail,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

func accepted() Result               { return Result{Status: "accepted"} }
func completed() Result              { return Result{Status: "completed"} }
func rejected(detail string) Result  { return Result{Status: "rejected", Detail: detail} }
func failed(detail string) Result    { return Result{Status: "failed", Detail: detail} }
func completedData(d map[string]any) Result {
	return Result{Status: "completed", Data: d}
}

// Rejected reports whether the command was refused.
func (r Result) Rejected() bool { return r.Status == "rejected" }
