// Package busmqtt implements bus.Bus over MQTT: connect with
// mqtt.NewClientOptions().AddBroker(...).SetClientID(...), wait on
// client.Connect()/token.Wait()/token.Error(), subscribe per topic with
// a closure, and publish JSON-marshaled payloads.
package busmqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabsflight/sensorvote/internal/bus"
	"github.com/relabsflight/sensorvote/internal/sensordata"
)

const (
	classGyro  = "sensor_gyro"
	classAccel = "sensor_accel"
	classMag   = "sensor_mag"
	classBaro  = "sensor_baro"
)

func classTopic(class sensordata.Class) string {
	switch class {
	case sensordata.ClassGyro:
		return classGyro
	case sensordata.ClassAccel:
		return classAccel
	case sensordata.ClassMag:
		return classMag
	case sensordata.ClassBaro:
		return classBaro
	default:
		return "sensor_unknown"
	}
}

type sub[T any] struct {
	mu    sync.Mutex
	value T
	fresh bool
	have  bool
}

func (s *sub[T]) set(v T) {
	s.mu.Lock()
	s.value = v
	s.fresh = true
	s.have = true
	s.mu.Unlock()
}

func (s *sub[T]) Check() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fresh
}

func (s *sub[T]) Copy() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fresh = false
	return s.value, s.have
}

// Bus is the MQTT-backed implementation of bus.Bus.
type Bus struct {
	client mqtt.Client
	logger *log.Logger

	mu        sync.Mutex
	instances map[sensordata.Class]map[int]*sub[sensordata.RawSample]

	diffPres  *sub[sensordata.DiffPressureSample]
	vcm       *sub[sensordata.VehicleControlMode]
	paramUpd  *sub[struct{}]
	actuators *sub[sensordata.ActuatorControls0]
}

// Options configures the broker connection.
type Options struct {
	Broker   string
	ClientID string
	Logger   *log.Logger
}

// Connect dials the broker and subscribes to every inbound topic
// spec.md §6 lists.
func Connect(opts Options) (*Bus, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID)

	client := mqtt.NewClient(clientOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("busmqtt: connect: %w", token.Error())
	}

	b := &Bus{
		client:    client,
		logger:    logger,
		instances: make(map[sensordata.Class]map[int]*sub[sensordata.RawSample]),
		diffPres:  &sub[sensordata.DiffPressureSample]{},
		vcm:       &sub[sensordata.VehicleControlMode]{},
		paramUpd:  &sub[struct{}]{},
		actuators: &sub[sensordata.ActuatorControls0]{},
	}

	if err := b.subscribeClasses(); err != nil {
		return nil, err
	}
	if err := b.subscribeSingletons(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bus) subscribeClasses() error {
	for _, class := range []sensordata.Class{
		sensordata.ClassGyro, sensordata.ClassAccel, sensordata.ClassMag, sensordata.ClassBaro,
	} {
		class := class
		prefix := classTopic(class)
		for i := 0; i < 3; i++ {
			i := i
			topic := fmt.Sprintf("%s/%d", prefix, i)
			token := b.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
				var s sensordata.RawSample
				if err := json.Unmarshal(msg.Payload(), &s); err != nil {
					b.logger.Printf("busmqtt: %s unmarshal error: %v", topic, err)
					return
				}
				b.instanceSub(class, i).set(s)
			})
			token.Wait()
			if token.Error() != nil {
				return fmt.Errorf("busmqtt: subscribe %s: %w", topic, token.Error())
			}
		}
	}
	return nil
}

func (b *Bus) subscribeSingletons() error {
	type binding struct {
		topic   string
		handler func([]byte)
	}
	bindings := []binding{
		{"differential_pressure", func(p []byte) {
			var s sensordata.DiffPressureSample
			if err := json.Unmarshal(p, &s); err == nil {
				b.diffPres.set(s)
			}
		}},
		{"vehicle_control_mode", func(p []byte) {
			var s sensordata.VehicleControlMode
			if err := json.Unmarshal(p, &s); err == nil {
				b.vcm.set(s)
			}
		}},
		{"parameter_update", func(p []byte) {
			b.paramUpd.set(struct{}{})
		}},
		{"actuator_controls_0", func(p []byte) {
			var s sensordata.ActuatorControls0
			if err := json.Unmarshal(p, &s); err == nil {
				b.actuators.set(s)
			}
		}},
	}

	for _, bd := range bindings {
		bd := bd
		token := b.client.Subscribe(bd.topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			bd.handler(msg.Payload())
		})
		token.Wait()
		if token.Error() != nil {
			return fmt.Errorf("busmqtt: subscribe %s: %w", bd.topic, token.Error())
		}
	}
	return nil
}

func (b *Bus) instanceSub(class sensordata.Class, instance int) *sub[sensordata.RawSample] {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.instances[class]
	if !ok {
		m = make(map[int]*sub[sensordata.RawSample])
		b.instances[class] = m
	}
	s, ok := m[instance]
	if !ok {
		s = &sub[sensordata.RawSample]{}
		m[instance] = s
	}
	return s
}

func (b *Bus) SubscribeInstance(class sensordata.Class, instance int) (bus.Subscription[sensordata.RawSample], error) {
	return b.instanceSub(class, instance), nil
}

func (b *Bus) GroupCount(class sensordata.Class) int {
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

func (b *Bus) Priority(class sensordata.Class, instance int) uint8 {
	s := b.instanceSub(class, instance)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value.Priority
}

func (b *Bus) SubscribeDiffPressure() (bus.Subscription[sensordata.DiffPressureSample], error) {
	return b.diffPres, nil
}

func (b *Bus) SubscribeVehicleControlMode() (bus.Subscription[sensordata.VehicleControlMode], error) {
	return b.vcm, nil
}

func (b *Bus) SubscribeParameterUpdate() (bus.Subscription[struct{}], error) {
	return b.paramUpd, nil
}

func (b *Bus) SubscribeActuatorControls0() (bus.Subscription[sensordata.ActuatorControls0], error) {
	return b.actuators, nil
}

func (b *Bus) Publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("busmqtt: marshal %s: %w", topic, err)
	}
	token := b.client.Publish(topic, 0, true, data)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("busmqtt: publish %s: %w", topic, token.Error())
	}
	return nil
}

func (b *Bus) Close() error {
	b.client.Disconnect(250)
	return nil
}
