package budget

import "testing"

func TestGlobalBytes(t *testing.T) {
	if got := GlobalBytes(1); got != giB {
		t.Fatalf("GlobalBytes(1) = %d, want %d", got, giB)
	}
	if got := GlobalBytes(32); got != 32*giB {
		t.Fatalf("GlobalBytes(32) = %d, want %d", got, 32*giB)
	}
}

func TestPerParticipant(t *testing.T) {
	if got := PerParticipant(32*giB, 4); got != 8*giB {
		t.Fatalf("PerParticipant = %d, want %d", got, 8*giB)
	}
	if got := PerParticipant(32*giB, 0); got != 32*giB {
		t.Fatalf("PerParticipant with n=0 should fall back to n=1, got %d", got)
	}
}
