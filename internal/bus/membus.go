package bus

import (
	"sync"

	"github.com/relabsflight/sensorvote/internal/sensordata"
)

// memSub is a Subscription backed by a plain value plus a dirty flag.
// Check/Copy follow a "peek, then consume the freshness flag" pattern
// guarded by a mutex.
type memSub[T any] struct {
	mu    sync.Mutex
	value T
	fresh bool
	have  bool
	prio  uint8
}

func (s *memSub[T]) push(v T) {
	s.mu.Lock()
	s.value = v
	s.fresh = true
	s.have = true
	s.mu.Unlock()
}

func (s *memSub[T]) Check() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fresh
}

func (s *memSub[T]) Copy() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fresh = false
	return s.value, s.have
}

// MemBus is an in-process Bus used by tests. Its only job is to let
// internal/engine,
// internal/aggregator, and internal/validator be exercised without a
// running MQTT broker.
type MemBus struct {
	mu sync.Mutex

	instances map[sensordata.Class]map[int]*memSub[sensordata.RawSample]
	diffPres  *memSub[sensordata.DiffPressureSample]
	vcm       *memSub[sensordata.VehicleControlMode]
	paramUpd  *memSub[struct{}]
	actuators *memSub[sensordata.ActuatorControls0]

	published map[string]any
}

// NewMemBus returns an empty in-memory bus.
func NewMemBus() *MemBus {
	return &MemBus{
		instances: make(map[sensordata.Class]map[int]*memSub[sensordata.RawSample]),
		diffPres:  &memSub[sensordata.DiffPressureSample]{},
		vcm:       &memSub[sensordata.VehicleControlMode]{},
		paramUpd:  &memSub[struct{}]{},
		actuators: &memSub[sensordata.ActuatorControls0]{},
		published: make(map[string]any),
	}
}

func (b *MemBus) slot(class sensordata.Class, instance int) *memSub[sensordata.RawSample] {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.instances[class]
	if !ok {
		m = make(map[int]*memSub[sensordata.RawSample])
		b.instances[class] = m
	}
	s, ok := m[instance]
	if !ok {
		s = &memSub[sensordata.RawSample]{}
		m[instance] = s
	}
	return s
}

// Push publishes one raw sample for an instance: the test-side
// equivalent of a driver writing a new sample onto sensor_gyro[i].
func (b *MemBus) Push(class sensordata.Class, instance int, sample sensordata.RawSample) {
	b.slot(class, instance).push(sample)
}

// SetPriority sets the priority reported for one instance.
func (b *MemBus) SetPriority(class sensordata.Class, instance int, p uint8) {
	s := b.slot(class, instance)
	s.mu.Lock()
	s.prio = p
	s.mu.Unlock()
}

func (b *MemBus) PushDiffPressure(s sensordata.DiffPressureSample) { b.diffPres.push(s) }
func (b *MemBus) PushVehicleControlMode(s sensordata.VehicleControlMode) { b.vcm.push(s) }
func (b *MemBus) PushParameterUpdate() { b.paramUpd.push(struct{}{}) }
func (b *MemBus) PushActuatorControls0(s sensordata.ActuatorControls0) { b.actuators.push(s) }

func (b *MemBus) SubscribeInstance(class sensordata.Class, instance int) (Subscription[sensordata.RawSample], error) {
	return b.slot(class, instance), nil
}

func (b *MemBus) GroupCount(class sensordata.Class) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.instances[class]
	if !ok {
		return 0
	}
	count := 0
	for _, s := range m {
		s.mu.Lock()
		if s.have {
			count++
		}
		s.mu.Unlock()
	}
	return count
}

func (b *MemBus) Priority(class sensordata.Class, instance int) uint8 {
	s := b.slot(class, instance)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prio
}

func (b *MemBus) SubscribeDiffPressure() (Subscription[sensordata.DiffPressureSample], error) {
	return b.diffPres, nil
}

func (b *MemBus) SubscribeVehicleControlMode() (Subscription[sensordata.VehicleControlMode], error) {
	return b.vcm, nil
}

func (b *MemBus) SubscribeParameterUpdate() (Subscription[struct{}], error) {
	return b.paramUpd, nil
}

func (b *MemBus) SubscribeActuatorControls0() (Subscription[sensordata.ActuatorControls0], error) {
	return b.actuators, nil
}

func (b *MemBus) Publish(topic string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[topic] = payload
	return nil
}

// LastPublished returns the last value published to topic, for test
// assertions.
func (b *MemBus) LastPublished(topic string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.published[topic]
	return v, ok
}

func (b *MemBus) Close() error { return nil }
