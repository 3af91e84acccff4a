package transport

import (
	"encoding/json"
	"strings"
	"testing"

	"usv-nav/internal/nav"
)

func TestDecodeSetTarget(t *testing.T) {
	payload := []byte(`{"command":"SET_TARGET","params":{"lat":31.2304,"lng":121.4737,"alt":3.5},"timestamp":1700000000}`)
	cmd, err := decodeCommand("id-1", TopicControlNavigation, payload)
	if err != nil {
		t.Fatalf("decodeCommand: %v", err)
	}
	if cmd.Kind != nav.KindSetTarget {
		t.Fatalf("kind got=%v want=SET_TARGET", cmd.Kind)
	}
	if cmd.Target.LatDeg != 31.2304 || cmd.Target.LonDeg != 121.4737 || cmd.Target.AltM != 3.5 {
		t.Fatalf("target got=%+v", cmd.Target)
	}
	if cmd.ID != "id-1" {
		t.Fatalf("id got=%q", cmd.ID)
	}
}

func TestDecodeSetTargetRequiresParams(t *testing.T) {
	_, err := decodeCommand("id", TopicControlNavigation, []byte(`{"command":"SET_TARGET"}`))
	if err == nil {
		t.Fatalf("expected params error")
	}
}

func TestDecodeSetTargetRequiresCoordinateKeys(t *testing.T) {
	// Wrong key names must fail loudly, not decode as a 0,0 target.
	for _, payload := range []string{
		`{"command":"SET_TARGET","params":{"latitude":31.2304,"longitude":121.4737}}`,
		`{"command":"SET_TARGET","params":{"lat":31.2304}}`,
		`{"command":"SET_TARGET","params":{}}`,
	} {
		if _, err := decodeCommand("id", TopicControlNavigation, []byte(payload)); err == nil {
			t.Fatalf("%s: expected missing-coordinate error", payload)
		}
	}
}

func TestDecodeSimpleCommands(t *testing.T) {
	cases := []struct {
		command string
		topic   string
		want    nav.Kind
	}{
		{"NAVIGATE_START", TopicControlNavigation, nav.KindNavigateStart},
		{"NAVIGATE_STOP", TopicControlNavigation, nav.KindNavigateStop},
		{"GET_POSITION", TopicControlNavigation, nav.KindGetPosition},
		{"GET_TARGET", TopicControlNavigation, nav.KindGetTarget},
		{"GET_STATUS", TopicControlSystem, nav.KindGetStatus},
		{"STOP_MEDICATION", TopicControlMedication, nav.KindStopMedication},
		{"EMERGENCY_STOP", TopicControlEmergency, nav.KindEmergencyStop},
		{"EMERGENCY_RETURN", TopicControlEmergency, nav.KindEmergencyReturn},
	}
	for _, tc := range cases {
		payload, _ := json.Marshal(map[string]any{"command": tc.command})
		cmd, err := decodeCommand("id", tc.topic, payload)
		if err != nil {
			t.Fatalf("%s: %v", tc.command, err)
		}
		if cmd.Kind != tc.want {
			t.Fatalf("%s: kind got=%v want=%v", tc.command, cmd.Kind, tc.want)
		}
	}
}

func TestDecodeStartMedicationDefaultsBay(t *testing.T) {
	cmd, err := decodeCommand("id", TopicControlMedication, []byte(`{"command":"START_MEDICATION"}`))
	if err != nil {
		t.Fatalf("decodeCommand: %v", err)
	}
	if cmd.Bay != 1 {
		t.Fatalf("bay got=%d want=1", cmd.Bay)
	}

	cmd, err = decodeCommand("id", TopicControlMedication, []byte(`{"command":"START_MEDICATION","params":{"bay":2}}`))
	if err != nil {
		t.Fatalf("decodeCommand: %v", err)
	}
	if cmd.Bay != 2 {
		t.Fatalf("bay got=%d want=2", cmd.Bay)
	}
}

func TestDecodeRejectsWrongTopic(t *testing.T) {
	// Navigation command on the medication topic.
	_, err := decodeCommand("id", TopicControlMedication, []byte(`{"command":"NAVIGATE_START"}`))
	if err == nil {
		t.Fatalf("expected topic mismatch error")
	}
}

func TestDecodeEmergencyFromAnyTopic(t *testing.T) {
	for _, topic := range []string{TopicControlNavigation, TopicControlMedication, TopicControlSystem, TopicControlEmergency} {
		cmd, err := decodeCommand("id", topic, []byte(`{"command":"EMERGENCY_STOP"}`))
		if err != nil {
			t.Fatalf("%s: %v", topic, err)
		}
		if cmd.Kind != nav.KindEmergencyStop {
			t.Fatalf("%s: kind got=%v", topic, cmd.Kind)
		}
	}
}

func TestDecodeUnknownCommand(t *testing.T) {
	_, err := decodeCommand("id", TopicControlSystem, []byte(`{"command":"WARP_DRIVE"}`))
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("got=%v want unknown command error", err)
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	_, err := decodeCommand("id", TopicControlSystem, []byte(`{not json`))
	if err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestEncodeFeedback(t *testing.T) {
	cmd := nav.Command{ID: "id-9", Kind: nav.KindGetPosition}
	res := nav.Result{Status: "completed", Data: map[string]any{"lat_deg": 31.0}}
	b, err := encodeFeedback(cmd, res)
	if err != nil {
		t.Fatalf("encodeFeedback: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["id"] != "id-9" || out["command"] != "GET_POSITION" || out["status"] != "success" {
		t.Fatalf("feedback got=%v", out)
	}
}

func TestWireStatusVocabulary(t *testing.T) {
	cases := []struct{ in, want string }{
		{"completed", "success"},
		{"failed", "error"},
		{"rejected", "rejected"},
	}
	for _, tc := range cases {
		if got := wireStatus(tc.in); got != tc.want {
			t.Fatalf("%s: got=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestFeedbackTopics(t *testing.T) {
	if got := feedbackTopic(categoryFor(nav.KindEmergencyStop)); got != "feedback/emergency" {
		t.Fatalf("got=%q want=feedback/emergency", got)
	}
	if got := feedbackTopic(categoryFor(nav.KindSetTarget)); got != "feedback/navigation" {
		t.Fatalf("got=%q want=feedback/navigation", got)
	}
}
