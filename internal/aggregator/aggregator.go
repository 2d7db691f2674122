// Package aggregator generalizes the per-class acquire/rotate/vote/
// publish path across gyro/accel/mag/baro via a per-class strategy:
// four parallel class states driven by a strategy object selected by
// class tag, looping over up to validator.MaxInstances live instances
// instead of hardcoding a fixed instance count.
package aggregator

import (
	"github.com/relabsflight/sensorvote/internal/bus"
	"github.com/relabsflight/sensorvote/internal/combined"
	"github.com/relabsflight/sensorvote/internal/rotation"
	"github.com/relabsflight/sensorvote/internal/sensordata"
	"github.com/relabsflight/sensorvote/internal/validator"
)

// Instance is the per-slot cached state spec.md §3 calls
// SensorInstance: immutable device identity, priority, and the most
// recently processed (rotated, integrated) sample.
type Instance struct {
	DeviceID int64
	Priority uint8

	// prevTimestampUS is the dedicated previous-timestamp slot spec.md
	// §9's first Open Question asks implementers to keep separate from
	// any snapshot field, rather than overloading shared state.
	prevTimestampUS int64

	Cached CachedSample
}

// CachedSample is the per-instance processed-sample cache.
type CachedSample struct {
	TimestampUS  int64
	Vector       sensordata.Vector3
	IntegralDt   float64 // seconds, > 0 whenever written
	TemperatureC float64 // baro only
	PressureHPa  float64 // baro only
}

// ClassState is spec.md §3's SensorClassState: up to N=3 instance
// slots, live subscription count, last elected index, and a
// LastFailoverCount field. Poll does not update LastFailoverCount;
// failover edge detection is done by internal/failover.Reporter, which
// keeps its own last-seen count.
type ClassState struct {
	Class             sensordata.Class
	SubscriptionCount int
	Instances         [validator.MaxInstances]Instance
	Validators        *validator.Group
	LastBestVote       int
	LastFailoverCount  int
}

// classSpec is the per-class strategy: how to rotate a raw vector,
// what vector the validators should vote on, and how to copy an
// elected sample into the outbound snapshot.
type classSpec struct {
	skipRotation bool // true for baro: altitude is not a rotatable vector
	votingVector func(cached CachedSample, raw sensordata.RawSample) sensordata.Vector3
	copyToSnapshot func(snap *combined.Snapshot, derived *combined.DerivedState, cached CachedSample, rawTimestampUS int64)
}

func gyroSpec() classSpec {
	return classSpec{
		votingVector: func(cached CachedSample, _ sensordata.RawSample) sensordata.Vector3 { return cached.Vector },
		copyToSnapshot: func(snap *combined.Snapshot, _ *combined.DerivedState, cached CachedSample, rawTimestampUS int64) {
			snap.GyroRad = cached.Vector
			snap.GyroIntegralDt = cached.IntegralDt
			// Gyro paces the loop: its raw timestamp becomes the
			// snapshot's primary timestamp (spec.md §4.1 gyro
			// specialization).
			snap.TimestampUS = rawTimestampUS
		},
	}
}

func accelSpec() classSpec {
	return classSpec{
		votingVector: func(cached CachedSample, _ sensordata.RawSample) sensordata.Vector3 { return cached.Vector },
		copyToSnapshot: func(snap *combined.Snapshot, _ *combined.DerivedState, cached CachedSample, rawTimestampUS int64) {
			snap.AccelMS2 = cached.Vector
			snap.AccelIntegralDt = cached.IntegralDt
			snap.SetAccelTimestamp(rawTimestampUS)
		},
	}
}

func magSpec() classSpec {
	return classSpec{
		votingVector: func(cached CachedSample, _ sensordata.RawSample) sensordata.Vector3 { return cached.Vector },
		copyToSnapshot: func(snap *combined.Snapshot, _ *combined.DerivedState, cached CachedSample, rawTimestampUS int64) {
			snap.MagGa = cached.Vector
			snap.SetMagTimestamp(rawTimestampUS)
		},
	}
}

func baroSpec() classSpec {
	return classSpec{
		skipRotation: true,
		votingVector: func(cached CachedSample, _ sensordata.RawSample) sensordata.Vector3 {
			// Barometer specialization (spec.md §4.1): the validator
			// votes on altitude alone.
			return sensordata.Vector3{X: cached.Vector.X}
		},
		copyToSnapshot: func(snap *combined.Snapshot, derived *combined.DerivedState, cached CachedSample, rawTimestampUS int64) {
			snap.BaroAltM = cached.Vector.X
			snap.BaroTempC = cached.TemperatureC
			snap.SetBaroTimestamp(rawTimestampUS)
			derived.LastBestBaroPressureHPa = cached.PressureHPa
		},
	}
}

func specFor(class sensordata.Class) classSpec {
	switch class {
	case sensordata.ClassGyro:
		return gyroSpec()
	case sensordata.ClassAccel:
		return accelSpec()
	case sensordata.ClassMag:
		return magSpec()
	case sensordata.ClassBaro:
		return baroSpec()
	default:
		return accelSpec()
	}
}

func timeoutFor(class sensordata.Class) int64 {
	if class == sensordata.ClassMag {
		return validator.MagTimeoutUS
	}
	return validator.DefaultTimeoutUS
}

// Aggregator implements spec.md §4.1's poll(snapshot) contract for one
// sensor class.
type Aggregator struct {
	class sensordata.Class
	bus   bus.Bus
	spec  classSpec

	subs  [validator.MaxInstances]bus.Subscription[sensordata.RawSample]
	State *ClassState

	// BoardRotation and MagRotations are owned by the calibration
	// applier and read here; they are pointers so a parameter-update
	// recompute is visible on the next poll without re-wiring.
	BoardRotation *rotation.Matrix
	MagRotations  *[validator.MaxInstances]rotation.Matrix
}

// New creates an aggregator for one class. boardRotation is shared
// across all four classes; magRotations is only consulted when
// class == sensordata.ClassMag.
func New(class sensordata.Class, b bus.Bus, boardRotation *rotation.Matrix, magRotations *[validator.MaxInstances]rotation.Matrix) *Aggregator {
	return &Aggregator{
		class:         class,
		bus:           b,
		spec:          specFor(class),
		BoardRotation: boardRotation,
		MagRotations:  magRotations,
		State: &ClassState{
			Class:        class,
			Validators:   validator.NewGroup(timeoutFor(class)),
			LastBestVote: -1,
		},
	}
}

// Adopt subscribes to instance i if not already bound (idempotent: a
// second adoption of an already-bound slot is a no-op) and records its
// device_id. The priority is taken from each polled sample instead.
func (a *Aggregator) Adopt(i int, deviceID int64) error {
	if i < 0 || i >= validator.MaxInstances {
		return nil
	}
	if a.subs[i] == nil {
		sub, err := a.bus.SubscribeInstance(a.class, i)
		if err != nil {
			return err
		}
		a.subs[i] = sub
		if i+1 > a.State.SubscriptionCount {
			a.State.SubscriptionCount = i + 1
		}
	}
	a.State.Instances[i].DeviceID = deviceID
	return nil
}

func (a *Aggregator) rotate(i int, vec sensordata.Vector3) sensordata.Vector3 {
	if a.spec.skipRotation {
		return vec
	}
	var m rotation.Matrix
	if a.class == sensordata.ClassMag && a.MagRotations != nil {
		m = a.MagRotations[i]
	} else if a.BoardRotation != nil {
		m = *a.BoardRotation
	} else {
		m = rotation.Identity()
	}
	x, y, z := m.Apply(vec.X, vec.Y, vec.Z)
	return sensordata.Vector3{X: x, Y: y, Z: z}
}

// HasFreshData reports whether the currently elected instance has an
// unconsumed sample waiting, used by internal/engine's bounded wait on
// the currently-best gyro subscription (spec.md §5). Before any
// instance has been elected, any adopted instance counts.
func (a *Aggregator) HasFreshData() bool {
	if best := a.State.LastBestVote; best >= 0 && best < validator.MaxInstances && a.subs[best] != nil {
		return a.subs[best].Check()
	}
	for i := 0; i < a.State.SubscriptionCount; i++ {
		if a.subs[i] != nil && a.subs[i].Check() {
			return true
		}
	}
	return false
}

// Poll implements spec.md §4.1's contract. nowUS is the current tick
// time used for validator bookkeeping.
func (a *Aggregator) Poll(nowUS int64, snap *combined.Snapshot, derived *combined.DerivedState) {
	updated := false

	for i := 0; i < a.State.SubscriptionCount; i++ {
		sub := a.subs[i]
		if sub == nil || !sub.Check() {
			continue
		}
		raw, ok := sub.Copy()
		if !ok {
			continue
		}
		if raw.TimestampUS == 0 {
			// Transient sample anomaly (spec.md §4.1/§7): skip silently.
			continue
		}

		rotated := a.rotate(i, raw.Value)

		inst := &a.State.Instances[i]
		var cached CachedSample
		cached.TimestampUS = raw.TimestampUS
		cached.TemperatureC = raw.TemperatureC
		cached.PressureHPa = raw.PressureHPa

		if raw.HasIntegral && raw.IntegralDtUS != 0 {
			rotatedIntegral := a.rotate(i, raw.Integral)
			dtSeconds := float64(raw.IntegralDtUS) * 1e-6
			cached.Vector = sensordata.Vector3{
				X: rotatedIntegral.X / dtSeconds,
				Y: rotatedIntegral.Y / dtSeconds,
				Z: rotatedIntegral.Z / dtSeconds,
			}
			cached.IntegralDt = dtSeconds
		} else {
			cached.Vector = rotated
			var deltaUS int64
			if inst.prevTimestampUS == 0 {
				deltaUS = 1000 // bootstrap, spec.md §4.1
			} else {
				deltaUS = raw.TimestampUS - inst.prevTimestampUS
			}
			cached.IntegralDt = float64(deltaUS) * 1e-6
		}
		inst.prevTimestampUS = raw.TimestampUS
		inst.Cached = cached
		inst.Priority = raw.Priority

		votingVec := a.spec.votingVector(cached, raw)
		a.State.Validators.Validator(i).Put(nowUS, raw.TimestampUS, votingVec, raw.ErrorCount, raw.Priority)

		updated = true
	}

	if !updated {
		return
	}

	best := a.State.Validators.Best(nowUS)
	if best < 0 {
		return
	}

	a.State.LastBestVote = best
	cached := a.State.Instances[best].Cached
	a.spec.copyToSnapshot(snap, derived, cached, cached.TimestampUS)
}
