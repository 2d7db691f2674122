package calibration

import (
	"testing"

	"github.com/relabsflight/sensorvote/internal/paramstore"
	"github.com/relabsflight/sensorvote/internal/rotation"
	"github.com/relabsflight/sensorvote/internal/sensordata"
)

type fakeDevice struct {
	id       int64
	external bool
	applied  *Offsets
	failNext bool
}

func (d *fakeDevice) GetDeviceID() (int64, bool) { return d.id, true }
func (d *fakeDevice) IsExternalMag() bool        { return d.external }
func (d *fakeDevice) SetCalibration(o Offsets) error {
	if d.failNext {
		return errFake
	}
	cp := o
	d.applied = &cp
	return nil
}

var errFake = fakeErr("calibration push failed")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

type discardLogger struct{ calls int }

func (l *discardLogger) Errorf(format string, args ...any) { l.calls++ }

func newStore(t *testing.T) paramstore.Store {
	t.Helper()
	s, err := paramstore.NewFileStore("")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestApplyMatchesByDeviceID(t *testing.T) {
	store := newStore(t)
	_ = store.Set("CAL_GYRO0_ID", "555")
	_ = store.SetFloat("CAL_GYRO0_XOFF", 0.1)
	_ = store.SetFloat("CAL_GYRO0_YSCALE", 1.02)

	dev := &fakeDevice{id: 555}
	lookup := func(class sensordata.Class, slot int) (Device, bool) {
		if class == sensordata.ClassGyro && slot == 0 {
			return dev, true
		}
		return nil, false
	}

	a := New(store, lookup, &discardLogger{})
	a.Apply()

	if a.GyroCount != 1 {
		t.Fatalf("expected gyro_count 1, got %d", a.GyroCount)
	}
	if dev.applied == nil {
		t.Fatalf("expected calibration to be pushed to device")
	}
	if dev.applied.OffsetX != 0.1 || dev.applied.ScaleY != 1.02 {
		t.Fatalf("unexpected offsets pushed: %+v", dev.applied)
	}
}

func TestApplySkipsOnDeviceIDMismatch(t *testing.T) {
	store := newStore(t)
	_ = store.Set("CAL_ACC0_ID", "1")

	dev := &fakeDevice{id: 999}
	lookup := func(class sensordata.Class, slot int) (Device, bool) {
		if class == sensordata.ClassAccel && slot == 0 {
			return dev, true
		}
		return nil, false
	}

	a := New(store, lookup, &discardLogger{})
	a.Apply()

	if a.AccelCount != 0 {
		t.Fatalf("expected accel_count 0 on ID mismatch, got %d", a.AccelCount)
	}
	if dev.applied != nil {
		t.Fatalf("expected no calibration pushed on ID mismatch")
	}
}

func TestApplyLogsOnFailure(t *testing.T) {
	store := newStore(t)
	_ = store.Set("CAL_ACC0_ID", "7")

	dev := &fakeDevice{id: 7, failNext: true}
	lookup := func(class sensordata.Class, slot int) (Device, bool) {
		if class == sensordata.ClassAccel && slot == 0 {
			return dev, true
		}
		return nil, false
	}

	logger := &discardLogger{}
	a := New(store, lookup, logger)
	a.Apply()

	if logger.calls != 1 {
		t.Fatalf("expected exactly one error logged, got %d", logger.calls)
	}
	if a.AccelCount != 0 {
		t.Fatalf("expected accel_count 0 on push failure, got %d", a.AccelCount)
	}
}

func TestMagInternalForcesSentinelAndBoardRotation(t *testing.T) {
	store := newStore(t)
	_ = store.Set("CAL_MAG0_ID", "3")
	_ = store.Set("CAL_MAG0_ROT", "5") // stale value, must be overwritten

	dev := &fakeDevice{id: 3, external: false}
	lookup := func(class sensordata.Class, slot int) (Device, bool) {
		if class == sensordata.ClassMag && slot == 0 {
			return dev, true
		}
		return nil, false
	}

	a := New(store, lookup, &discardLogger{})
	a.Apply()

	got, _ := store.Get("CAL_MAG0_ROT")
	if got != "-1" {
		t.Fatalf("expected sentinel -1 for internal mag rotation, got %q", got)
	}
	if a.MagRotations[0] != a.BoardRotation {
		t.Fatalf("expected internal mag rotation to equal board rotation")
	}
}

func TestBoardRotationAppliedFromStoredIndex(t *testing.T) {
	store := newStore(t)
	_ = store.SetInt("SENS_BOARD_ROT", 1) // yaw 90

	a := New(store, func(sensordata.Class, int) (Device, bool) { return nil, false }, &discardLogger{})
	a.Apply()

	want := rotation.FromCode(1)
	if a.BoardRotation != want {
		t.Fatalf("expected board rotation %v, got %v", want, a.BoardRotation)
	}
}

func TestMagExternalMigratesLegacyRotation(t *testing.T) {
	store := newStore(t)
	_ = store.Set("CAL_MAG0_ID", "9")
	_ = store.Set("CAL_MAG0_ROT", "0")
	_ = store.Set("SENS_EXT_MAG_ROT", "4")

	dev := &fakeDevice{id: 9, external: true}
	lookup := func(class sensordata.Class, slot int) (Device, bool) {
		if class == sensordata.ClassMag && slot == 0 {
			return dev, true
		}
		return nil, false
	}

	a := New(store, lookup, &discardLogger{})
	a.Apply()

	rot, _ := store.Get("CAL_MAG0_ROT")
	if rot != "4" {
		t.Fatalf("expected per-slot rotation migrated to 4, got %q", rot)
	}
	legacy, _ := store.Get("SENS_EXT_MAG_ROT")
	if legacy != "0" {
		t.Fatalf("expected legacy rotation zeroed, got %q", legacy)
	}
}
