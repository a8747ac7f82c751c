package prompt

import "testing"

func TestReadyMarker(t *testing.T) {
	m := ReadyMarker("")
	if !m.In("Ashell ready\r\nacm> ") {
		t.Error("default ready marker should match acm>")
	}
	if m.In("acm ") {
		t.Error("ready marker should not match without '>'")
	}

	custom := ReadyMarker("dev$")
	if !custom.In("root@dev$ ") {
		t.Error("custom prompt should be matched literally")
	}
	if custom.In("dev") {
		t.Error("'$' in a prompt must not act as a regex anchor")
	}
}

func TestReadyMarker_ColouredPrompt(t *testing.T) {
	raw := "\x1b[33macm> \x1b[39m"
	if !ReadyMarker("").In(Normalize(raw)) {
		t.Errorf("Normalize(%q) = %q should contain the prompt", raw, Normalize(raw))
	}
}

func TestEchoMarker(t *testing.T) {
	m := EchoMarker("run test.js\r")
	start, end, ok := m.Find("xx run test.js\r\nyy")
	if !ok {
		t.Fatal("EchoMarker should find the echoed command")
	}
	if start != 3 || end != 14 {
		t.Errorf("Find() = (%d, %d), want (3, 14)", start, end)
	}
	if m.String() != "echo of run test.js" {
		t.Errorf("String() = %q", m.String())
	}
}

func TestMarker_Empty(t *testing.T) {
	var m Marker
	if m.In("anything") {
		t.Error("zero Marker should never match")
	}
}
