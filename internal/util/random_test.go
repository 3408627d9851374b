package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomHex(t *testing.T) {
	hex := GenerateRandomHex(32)
	if len(hex) != 32 {
		t.Errorf("length = %d, want 32", len(hex))
	}
	for _, c := range hex {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("non-hex character %q in %q", c, hex)
		}
	}

	if GenerateRandomHex(0) != "" {
		t.Error("zero length should produce empty string")
	}
	if GenerateRandomHex(-1) != "" {
		t.Error("negative length should produce empty string")
	}
}

func TestGenerateIDs(t *testing.T) {
	rid := GenerateReminderID()
	if !strings.HasPrefix(rid, "rem_") || len(rid) != len("rem_")+32 {
		t.Errorf("reminder ID = %q", rid)
	}

	pid := GenerateParticipantID()
	if !strings.HasPrefix(pid, "p_") || len(pid) != len("p_")+32 {
		t.Errorf("participant ID = %q", pid)
	}

	// Collisions at this length would indicate a broken generator.
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateReminderID()
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}
