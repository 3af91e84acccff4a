package gps

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func withChecksum(payload string) string {
	var ck byte
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, ck)
}

func TestParseNMEASentence(t *testing.T) {
	line := withChecksum("GNRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	sent, err := parseNMEASentence(line)
	if err != nil {
		t.Fatalf("parseNMEASentence: %v", err)
	}
	if sent.Type != "RMC" {
		t.Fatalf("type got=%q want=RMC", sent.Type)
	}
}

func TestParseNMEASentenceBadChecksum(t *testing.T) {
	if _, err := parseNMEASentence("$GPRMC,123519,A*00"); err == nil {
		t.Fatalf("expected checksum error")
	}
}

func TestParseNMEALatLon(t *testing.T) {
	lat, ok := parseNMEALatLon("4807.038", "N")
	if !ok || math.Abs(lat-(48+7.038/60)) > 1e-9 {
		t.Fatalf("lat got=%v ok=%v", lat, ok)
	}
	lon, ok := parseNMEALatLon("01131.000", "W")
	if !ok || math.Abs(lon-(-(11 + 31.0/60))) > 1e-9 {
		t.Fatalf("lon got=%v ok=%v", lon, ok)
	}
	if _, ok := parseNMEALatLon("", "N"); ok {
		t.Fatalf("empty value must not parse")
	}
}

func TestFixStateRMCThenGGA(t *testing.T) {
	st := fixState{minSatellites: 4}
	now := time.Unix(1700000000, 0).UTC()

	rmc, err := parseNMEASentence(withChecksum("GNRMC,123519,A,4807.038,N,01131.000,E,2.0,090.0,230394,,"))
	if err != nil {
		t.Fatalf("rmc: %v", err)
	}
	fix, ok := st.apply(now, rmc)
	if !ok {
		t.Fatalf("RMC did not produce a fix")
	}
	// No GGA yet: zero satellites, so the fix is published invalid.
	if fix.Valid {
		t.Fatalf("fix valid before satellite count known")
	}
	if math.Abs(fix.SpeedMS-2.0*knotsToMS) > 1e-9 {
		t.Fatalf("speed got=%v want=%v", fix.SpeedMS, 2.0*knotsToMS)
	}
	if fix.CourseDeg != 90 {
		t.Fatalf("course got=%v want=90", fix.CourseDeg)
	}

	gga, err := parseNMEASentence(withChecksum("GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"))
	if err != nil {
		t.Fatalf("gga: %v", err)
	}
	fix, ok = st.apply(now.Add(time.Second), gga)
	if !ok {
		t.Fatalf("GGA did not produce a fix")
	}
	if !fix.Valid {
		t.Fatalf("fix invalid with 8 satellites")
	}
	if fix.Satellites != 8 {
		t.Fatalf("satellites got=%d want=8", fix.Satellites)
	}
	if math.Abs(fix.AltM-545.4) > 1e-9 {
		t.Fatalf("alt got=%v want=545.4", fix.AltM)
	}
	if fix.Seq != 2 {
		t.Fatalf("seq got=%d want=2", fix.Seq)
	}
}

func TestFixStateVoidRMCIgnored(t *testing.T) {
	st := fixState{minSatellites: 4}
	void, err := parseNMEASentence(withChecksum("GPRMC,123519,V,,,,,,,230394,,"))
	if err != nil {
		t.Fatalf("rmc: %v", err)
	}
	if _, ok := st.apply(time.Now().UTC(), void); ok {
		t.Fatalf("void RMC must not produce a fix")
	}
}

func TestFixStateLowSatellitesInvalid(t *testing.T) {
	st := fixState{minSatellites: 4}
	gga, err := parseNMEASentence(withChecksum("GNGGA,123519,4807.038,N,01131.000,E,1,03,2.5,5.0,M,46.9,M,,"))
	if err != nil {
		t.Fatalf("gga: %v", err)
	}
	fix, ok := st.apply(time.Now().UTC(), gga)
	if !ok {
		t.Fatalf("GGA did not produce a fix")
	}
	if fix.Valid {
		t.Fatalf("fix must be invalid with 3 satellites")
	}
}
