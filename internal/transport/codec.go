// Package transport is the MQTT control plane: it decodes operator commands
// from the control topics into navigation commands, publishes per-command
// feedback, and streams periodic status and position reports.
package transport

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"usv-nav/internal/nav"
)

// Control topics, one per command category.
const (
	TopicControlNavigation = "control/navigation"
	TopicControlMedication = "control/medication"
	TopicControlSystem     = "control/system"
	TopicControlEmergency  = "control/emergency"

	TopicStatus   = "system/status"
	TopicPosition = "navigation/position"

	feedbackPrefix = "feedback/"
)

// QoS per message class: commands must arrive exactly once, feedback at
// least once, telemetry is fire-and-forget.
const (
	qosCommand  = 2
	qosFeedback = 1
	qosStatus   = 0
)

// wireCommand is the inbound payload shape.
type wireCommand struct {
	Command   string          `json:"command"`
	Params    json.RawMessage `json:"params,omitempty"`
	Timestamp float64         `json:"timestamp,omitempty"`
}

// targetParams carries SET_TARGET coordinates. Lat and Lng are pointers so a
// payload with missing or misspelled keys is rejected instead of silently
// targeting 0,0.
type targetParams struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
	Alt float64  `json:"alt,omitempty"`
}

type medicationParams struct {
	Bay int `json:"bay"`
}

// categoryOf maps a control topic to its feedback category.
func categoryOf(topic string) (string, bool) {
	switch topic {
	case TopicControlNavigation:
		return "navigation", true
	case TopicControlMedication:
		return "medication", true
	case TopicControlSystem:
		return "system", true
	case TopicControlEmergency:
		return "emergency", true
	default:
		return "", false
	}
}

func feedbackTopic(category string) string {
	return feedbackPrefix + category
}

// decodeCommand turns one control payload into a navigation command.
func decodeCommand(id string, topic string, payload []byte) (nav.Command, error) {
	var wire wireCommand
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nav.Command{}, fmt.Errorf("transport: decode payload: %w", err)
	}

	cmd := nav.Command{ID: id, IssuedAt: time.Now().UTC()}
	switch strings.ToUpper(strings.TrimSpace(wire.Command)) {
	case "SET_TARGET":
		var p targetParams
		if wire.Params == nil {
			return nav.Command{}, fmt.Errorf("transport: SET_TARGET requires params")
		}
		if err := json.Unmarshal(wire.Params, &p); err != nil {
			return nav.Command{}, fmt.Errorf("transport: SET_TARGET params: %w", err)
		}
		if p.Lat == nil || p.Lng == nil {
			return nav.Command{}, fmt.Errorf("transport: SET_TARGET params require lat and lng")
		}
		cmd.Kind = nav.KindSetTarget
		cmd.Target = nav.Target{LatDeg: *p.Lat, LonDeg: *p.Lng, AltM: p.Alt}
	case "NAVIGATE_START":
		cmd.Kind = nav.KindNavigateStart
	case "NAVIGATE_STOP":
		cmd.Kind = nav.KindNavigateStop
	case "GET_POSITION":
		cmd.Kind = nav.KindGetPosition
	case "GET_TARGET":
		cmd.Kind = nav.KindGetTarget
	case "GET_STATUS":
		cmd.Kind = nav.KindGetStatus
	case "START_MEDICATION":
		var p medicationParams
		if wire.Params != nil {
			if err := json.Unmarshal(wire.Params, &p); err != nil {
				return nav.Command{}, fmt.Errorf("transport: START_MEDICATION params: %w", err)
			}
		}
		if p.Bay == 0 {
			p.Bay = 1
		}
		cmd.Kind = nav.KindStartMedication
		cmd.Bay = p.Bay
	case "STOP_MEDICATION":
		cmd.Kind = nav.KindStopMedication
	case "EMERGENCY_STOP":
		cmd.Kind = nav.KindEmergencyStop
	case "EMERGENCY_RETURN":
		cmd.Kind = nav.KindEmergencyReturn
	default:
		return nav.Command{}, fmt.Errorf("transport: unknown command %q on %s", wire.Command, topic)
	}

	// Emergency commands are honored from any control topic; everything else
	// must arrive on its own category.
	if cat, _ := categoryOf(topic); cmd.Kind.Priority() != nav.PriorityEmergency {
		if want := categoryFor(cmd.Kind); want != "" && cat != want && cat != "system" {
			return nav.Command{}, fmt.Errorf("transport: command %v not accepted on %s", cmd.Kind, topic)
		}
	}
	return cmd, nil
}

// categoryFor names the feedback category of a command kind.
func categoryFor(k nav.Kind) string {
	switch k {
	case nav.KindSetTarget, nav.KindNavigateStart, nav.KindNavigateStop, nav.KindGetPosition, nav.KindGetTarget:
		return "navigation"
	case nav.KindStartMedication, nav.KindStopMedication:
		return "medication"
	case nav.KindGetStatus:
		return "system"
	case nav.KindEmergencyStop, nav.KindEmergencyReturn:
		return "emergency"
	default:
		return ""
	}
}

// feedback is the outbound per-command response payload.
type feedback struct {
	ID        string         `json:"id"`
	Command   string         `json:"command"`
	Status    string         `json:"status"`
	Detail    string         `json:"detail,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// wireStatus maps the orchestrator's result vocabulary onto the feedback
// contract the shore tools match on: success, error or rejected.
func wireStatus(status string) string {
	switch status {
	case "completed":
		return "success"
	case "failed":
		return "error"
	default:
		return status
	}
}

func encodeFeedback(cmd nav.Command, res nav.Result) ([]byte, error) {
	return json.Marshal(feedback{
		ID:        cmd.ID,
		Command:   cmd.Kind.String(),
		Status:    wireStatus(res.Status),
		Detail:    res.Detail,
		Data:      res.Data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}
