// Package bus is the abstract pub/sub transport spec.md §1 and §9
// treat as an external collaborator ("Raw subscription file
// descriptors → handles on an abstract bus with check, copy,
// subscribe_instance(i), group_count(), priority()"). The core engine
// never imports a concrete transport; it only sees these interfaces.
package bus

import "github.com/relabsflight/sensorvote/internal/sensordata"

// Subscription is a handle on one topic instance. Check reports
// whether a fresh sample has arrived since the last Copy; Copy returns
// the most recent sample (ok=false if none has ever arrived, matching
// spec.md §3's NO_DATA case).
type Subscription[T any] interface {
	Check() bool
	Copy() (T, bool)
}

// Bus is the abstract transport the engine depends on. A concrete
// adapter (internal/busmqtt for production, an in-memory fake for
// tests) implements it.
type Bus interface {
	// SubscribeInstance opens (idempotently: a second call for an
	// already-bound slot is a no-op that returns the same handle) a
	// subscription to one instance of one sensor class.
	SubscribeInstance(class sensordata.Class, instance int) (Subscription[sensordata.RawSample], error)

	// GroupCount reports how many live instances of class the bus has
	// observed publishing, capped at N=3 by the caller.
	GroupCount(class sensordata.Class) int

	// Priority reports the trust priority of one instance, 0..255,
	// lower = less trusted.
	Priority(class sensordata.Class, instance int) uint8

	SubscribeDiffPressure() (Subscription[sensordata.DiffPressureSample], error)
	SubscribeVehicleControlMode() (Subscription[sensordata.VehicleControlMode], error)
	SubscribeParameterUpdate() (Subscription[struct{}], error)
	SubscribeActuatorControls0() (Subscription[sensordata.ActuatorControls0], error)

	// Publish advertises/publishes a value on an outbound topic
	// (sensor_combined, airspeed, battery_status, differential_pressure
	// for ADC-synthesized readings).
	Publish(topic string, payload any) error

	// Close releases transport resources (e.g. disconnects MQTT).
	Close() error
}
