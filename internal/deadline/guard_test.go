package deadline

import (
	"testing"
	"time"
)

func TestGuardAllowsWorkOutsideMargin(t *testing.T) {
	g := NewGuard(10*time.Minute, 30*time.Second)
	if !g.ShouldContinue() {
		t.Fatal("fresh guard should permit work")
	}
}

func TestGuardStopsInsideMargin(t *testing.T) {
	start := time.Now()
	g := &Guard{
		deadline: start.Add(time.Minute),
		margin:   30 * time.Second,
		now:      func() time.Time { return start.Add(45 * time.Second) },
	}
	if g.ShouldContinue() {
		t.Fatal("guard inside safety margin must refuse new work")
	}
	if g.Remaining() != 15*time.Second {
		t.Fatalf("remaining = %v, want 15s", g.Remaining())
	}
}

func TestGuardDefaultsMargin(t *testing.T) {
	g := NewGuard(time.Hour, 0)
	if g.margin != DefaultMargin {
		t.Fatalf("margin = %v, want default", g.margin)
	}
}
