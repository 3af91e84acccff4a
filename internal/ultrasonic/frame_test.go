package ultrasonic

import "testing"

func frame(mm int) []byte {
	h := byte(mm >> 8)
	l := byte(mm & 0xFF)
	return []byte{0xFF, h, l, byte((0xFF + int(h) + int(l)) & 0xFF)}
}

func TestParseFrame(t *testing.T) {
	// 0x07A1 = 1953 mm.
	mm, err := parseFrame([]byte{0xFF, 0x07, 0xA1, 0xA7})
	if err != nil {
		t.Fatalf("parseFrame: %v", err)
	}
	if mm != 1953 {
		t.Fatalf("got=%d want=1953", mm)
	}
}

func TestParseFrameBadChecksum(t *testing.T) {
	if _, err := parseFrame([]byte{0xFF, 0x07, 0xA1, 0xA8}); err == nil {
		t.Fatalf("expected checksum error")
	}
}

func TestDecoderResync(t *testing.T) {
	var d decoder
	// Garbage, a corrupt frame, then two good frames split across feeds.
	input := append([]byte{0x00, 0x13, 0xFF, 0x07, 0xA1, 0x00}, frame(1000)...)
	input = append(input, frame(2500)[:2]...)
	got := d.Feed(input)
	if len(got) != 1 || got[0] != 1000 {
		t.Fatalf("first feed got=%v want=[1000]", got)
	}
	got = d.Feed(frame(2500)[2:])
	if len(got) != 1 || got[0] != 2500 {
		t.Fatalf("second feed got=%v want=[2500]", got)
	}
}

func TestMedianFilterRejectsSpike(t *testing.T) {
	m := newMedianFilter(5)
	var out int
	for _, v := range []int{2000, 2010, 30, 2005, 1995} {
		out = m.Push(v)
	}
	if out != 2000 {
		t.Fatalf("median got=%d want=2000", out)
	}
}

func TestMedianFilterWarmup(t *testing.T) {
	m := newMedianFilter(5)
	if got := m.Push(1200); got != 1200 {
		t.Fatalf("got=%d want=1200", got)
	}
}
