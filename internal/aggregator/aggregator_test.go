package aggregator

import (
	"testing"

	"github.com/relabsflight/sensorvote/internal/bus"
	"github.com/relabsflight/sensorvote/internal/combined"
	"github.com/relabsflight/sensorvote/internal/rotation"
	"github.com/relabsflight/sensorvote/internal/sensordata"
)

func TestGyroSingleInstanceIdentityRotation(t *testing.T) {
	b := bus.NewMemBus()
	identity := rotation.Identity()
	a := New(sensordata.ClassGyro, b, &identity, nil)

	if err := a.Adopt(0, 42); err != nil {
		t.Fatalf("adopt: %v", err)
	}

	var snap combined.Snapshot
	var derived combined.DerivedState

	b.Push(sensordata.ClassGyro, 0, sensordata.RawSample{
		TimestampUS: 1000,
		Value:       sensordata.Vector3{X: 0.1, Y: -0.2, Z: 0.3},
	})
	a.Poll(1000, &snap, &derived)

	b.Push(sensordata.ClassGyro, 0, sensordata.RawSample{
		TimestampUS: 2000,
		Value:       sensordata.Vector3{X: 0.1, Y: -0.2, Z: 0.3},
	})
	a.Poll(2000, &snap, &derived)

	if snap.GyroRad != (sensordata.Vector3{X: 0.1, Y: -0.2, Z: 0.3}) {
		t.Fatalf("unexpected gyro_rad: %+v", snap.GyroRad)
	}
	if snap.GyroIntegralDt != 0.001 {
		t.Fatalf("expected gyro_integral_dt 0.001, got %v", snap.GyroIntegralDt)
	}
	if snap.TimestampUS != 2000 {
		t.Fatalf("expected snapshot timestamp 2000, got %v", snap.TimestampUS)
	}
}

func TestAccelFailoverOnTimeout(t *testing.T) {
	b := bus.NewMemBus()
	identity := rotation.Identity()
	a := New(sensordata.ClassAccel, b, &identity, nil)

	if err := a.Adopt(0, 1); err != nil {
		t.Fatalf("adopt 0: %v", err)
	}
	if err := a.Adopt(1, 2); err != nil {
		t.Fatalf("adopt 1: %v", err)
	}

	var snap combined.Snapshot
	var derived combined.DerivedState

	b.Push(sensordata.ClassAccel, 0, sensordata.RawSample{TimestampUS: 1000, Value: sensordata.Vector3{X: 1}})
	b.Push(sensordata.ClassAccel, 1, sensordata.RawSample{TimestampUS: 1000, Value: sensordata.Vector3{X: 2}})
	a.Poll(1000, &snap, &derived)

	initial := a.State.LastBestVote

	other := 1 - initial
	timeout := int64(600_000)
	b.Push(sensordata.ClassAccel, other, sensordata.RawSample{TimestampUS: timeout, Value: sensordata.Vector3{X: 3}})
	a.Poll(timeout, &snap, &derived)

	if a.State.LastBestVote != other {
		t.Fatalf("expected failover to instance %d, got %d", other, a.State.LastBestVote)
	}
	if a.State.Validators.FailoverCount() != 1 {
		t.Fatalf("expected 1 failover, got %d", a.State.Validators.FailoverCount())
	}
}

func TestBaroSkipsRotationAndVotesOnAltitudeOnly(t *testing.T) {
	b := bus.NewMemBus()
	// A non-identity board rotation must have no effect on baro.
	m := rotation.FromCode(1)
	a := New(sensordata.ClassBaro, b, &m, nil)

	if err := a.Adopt(0, 7); err != nil {
		t.Fatalf("adopt: %v", err)
	}

	var snap combined.Snapshot
	var derived combined.DerivedState

	b.Push(sensordata.ClassBaro, 0, sensordata.RawSample{
		TimestampUS:  1000,
		Value:        sensordata.Vector3{X: 123.4},
		TemperatureC: 21.5,
		PressureHPa:  1013.25,
	})
	a.Poll(1000, &snap, &derived)

	if snap.BaroAltM != 123.4 {
		t.Fatalf("expected baro_alt_m 123.4 unrotated, got %v", snap.BaroAltM)
	}
	if snap.BaroTempC != 21.5 {
		t.Fatalf("expected baro_temp_c 21.5, got %v", snap.BaroTempC)
	}
	if derived.LastBestBaroPressureHPa != 1013.25 {
		t.Fatalf("expected last_best_baro_pressure 1013.25, got %v", derived.LastBestBaroPressureHPa)
	}
}
