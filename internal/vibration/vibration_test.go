package vibration

import "testing"

type countingLogger struct{ calls int }

func (l *countingLogger) Criticalf(format string, args ...any) { l.calls++ }

func TestLatchesOnlyAfterDebounceWindow(t *testing.T) {
	log := &countingLogger{}
	m := New(0.5, log)

	if m.Check(0, Sources{Gyro: 0.9}) {
		t.Fatalf("expected no alert on first crossing")
	}
	if m.Check(5_000_000, Sources{Gyro: 0.9}) {
		t.Fatalf("expected no alert before the 10s debounce elapses")
	}
	if !m.Check(10_000_001, Sources{Gyro: 0.9}) {
		t.Fatalf("expected alert once debounce window elapses")
	}
	if log.calls != 1 {
		t.Fatalf("expected exactly one critical log, got %d", log.calls)
	}
	if m.Check(10_000_002, Sources{Gyro: 0.9}) {
		t.Fatalf("expected latch to suppress repeat alerts")
	}
}

func TestDebounceResetsBelowThreshold(t *testing.T) {
	log := &countingLogger{}
	m := New(0.5, log)

	m.Check(0, Sources{Accel: 0.9})
	m.Check(0, Sources{Accel: 0.1}) // drops below threshold, resets
	if m.Check(10_000_001, Sources{Accel: 0.9}) {
		t.Fatalf("expected the reset to require a fresh 10s window")
	}
}
