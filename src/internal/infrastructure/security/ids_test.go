package security

import (
	"strings"
	"testing"
)

func TestControllerID(t *testing.T) {
	tests := []struct {
		prefix string
		index  int
		want   string
	}{
		{prefix: "device", index: 0, want: "device-0"},
		{prefix: "device", index: 12, want: "device-12"},
		{prefix: "  rack ", index: 3, want: "rack-3"},
	}

	for _, tt := range tests {
		if got := ControllerID(tt.prefix, tt.index); got != tt.want {
			t.Errorf("ControllerID(%q, %d) = %q, want %q", tt.prefix, tt.index, got, tt.want)
		}
	}
}

func TestControllerID_EmptyPrefixIsStableInProcess(t *testing.T) {
	first := ControllerID("", 0)
	again := ControllerID(" ", 0)
	second := ControllerID("", 1)

	if first != again {
		t.Errorf("device 0 changed between calls: %q then %q", first, again)
	}
	if !strings.HasPrefix(first, "sim-") || !strings.HasSuffix(first, "-0") {
		t.Errorf("unexpected generated id %q", first)
	}
	if strings.TrimSuffix(first, "-0") != strings.TrimSuffix(second, "-1") {
		t.Errorf("devices should share the generated prefix: %q, %q", first, second)
	}
}

func TestNewControllerID(t *testing.T) {
	a := NewControllerID()
	b := NewControllerID()

	if !strings.HasPrefix(a, "sim-") || len(a) != len("sim-")+12 {
		t.Errorf("unexpected generated id %q", a)
	}
	if a == b {
		t.Errorf("generated ids should differ, both %q", a)
	}
}
