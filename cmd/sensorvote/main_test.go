package main

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/relabsflight/sensorvote/internal/sensordata"
)

func TestDeviceLookupOnlyWiresBaroSlotZero(t *testing.T) {
	lookup := deviceLookup(nil)

	if _, ok := lookup(sensordata.ClassGyro, 0); ok {
		t.Fatalf("expected no device for gyro")
	}
	if _, ok := lookup(sensordata.ClassBaro, 1); ok {
		t.Fatalf("expected no device for baro slot 1")
	}
	if _, ok := lookup(sensordata.ClassBaro, 0); ok {
		t.Fatalf("expected no device when baro handle is nil")
	}
}

func TestClassFromStringRoundTrips(t *testing.T) {
	for _, c := range []sensordata.Class{sensordata.ClassGyro, sensordata.ClassAccel, sensordata.ClassMag, sensordata.ClassBaro} {
		if got := classFromString(c.String()); got != c {
			t.Fatalf("classFromString(%q) = %v, want %v", c.String(), got, c)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "0"); got != "0" {
		t.Fatalf("expected fallback %q, got %q", "0", got)
	}
	if got := firstNonEmpty("1", "0"); got != "1" {
		t.Fatalf("expected original value %q, got %q", "1", got)
	}
}

func TestEngineSourceStatusBeforeBindingIsZeroValue(t *testing.T) {
	src := &engineSource{}
	got := src.Status()
	if len(got.Classes) != 0 || got.Snapshot.TimestampUS != 0 {
		t.Fatalf("expected zero-value status before binding, got %+v", got)
	}
}

func TestRunStopMissingPidFile(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "does-not-exist.pid")

	code := runStop([]string{"-pidfile", missing})
	if code != 1 {
		t.Fatalf("expected exit code 1 for a missing pidfile, got %d", code)
	}
}

func TestRunStopMalformedPidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0644); err != nil {
		t.Fatalf("write pidfile: %v", err)
	}

	code := runStop([]string{"-pidfile", path})
	if code != 1 {
		t.Fatalf("expected exit code 1 for a malformed pidfile, got %d", code)
	}
}

func TestRunStatusUnreachableMonitor(t *testing.T) {
	code := runStatus([]string{"-addr", "ws://127.0.0.1:1/ws"})
	if code != 1 {
		t.Fatalf("expected exit code 1 when the monitor is unreachable, got %d", code)
	}
}

func TestWritePidFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sensorvote.pid")

	if err := writePidFile(path); err != nil {
		t.Fatalf("writePidFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pidfile: %v", err)
	}
	want := strconv.Itoa(os.Getpid())
	if string(data) != want {
		t.Fatalf("expected pidfile to contain the current pid %s, got %q", want, data)
	}
}
