// Package power implements a rate-limited ADC power monitor: battery
// voltage/current sensing, the battery-state estimator hand-off, and
// the analog-airspeed passthrough into internal/airspeed. Reads are
// gated by a minimum-interval clock check, and raw ADC counts are
// converted to physical units via a configured scale/offset.
package power

import (
	"github.com/relabsflight/sensorvote/internal/airspeed"
	"github.com/relabsflight/sensorvote/internal/bus"
	"github.com/relabsflight/sensorvote/internal/combined"
	"github.com/relabsflight/sensorvote/internal/sensordata"
)

// minReadIntervalUS is the 100 Hz rate limit spec.md §4.5 specifies.
const minReadIntervalUS = 10_000

// RawChannels is one ADC read's worth of raw counts, keyed by
// recognized channel name ("battery_voltage", "battery_current", or
// whatever Config.AirspeedChannel names).
type RawChannels map[string]uint16

// Config holds the scale/offset/selection parameters spec.md §4.5's
// prose leaves as configuration (voltage_scaling, divider,
// current_scaling/offset, amps_per_volt, source selection).
type Config struct {
	VoltageScaling float64
	VoltageDivider float64
	CurrentScaling float64
	CurrentOffset  float64
	AmpsPerVolt    float64

	// BatterySource selects which monitor instance feeds
	// battery_status; spec.md §4.5 only publishes "when battery is
	// selected as source \"0\"".
	BatterySource string

	AirspeedChannel string
	AirspeedScale   float64
	AirspeedOffset  float64
}

// Monitor implements the per-tick ADC power read.
type Monitor struct {
	cfg         Config
	b           bus.Bus
	actuatorSub bus.Subscription[sensordata.ActuatorControls0]
	airspeedMon *airspeed.Monitor
	estimator   *BatteryEstimator

	lastReadUS int64
	haveRead   bool
}

// New creates a Monitor. airspeedMon may be nil if no analog-airspeed
// channel is configured.
func New(cfg Config, b bus.Bus, airspeedMon *airspeed.Monitor, estimator *BatteryEstimator) (*Monitor, error) {
	sub, err := b.SubscribeActuatorControls0()
	if err != nil {
		return nil, err
	}
	return &Monitor{
		cfg:         cfg,
		b:           b,
		actuatorSub: sub,
		airspeedMon: airspeedMon,
		estimator:   estimator,
	}, nil
}

// Poll reads all recognized ADC channels in one shot, applies the
// 100 Hz rate limit, and publishes battery_status when this monitor is
// the selected battery source and a fresh voltage reading arrived.
func (m *Monitor) Poll(nowUS int64, armed bool, raw RawChannels) {
	if m.haveRead && nowUS-m.lastReadUS < minReadIntervalUS {
		return
	}
	m.lastReadUS = nowUS
	m.haveRead = true

	var voltage, current float64
	updated := false

	if rawV, ok := raw["battery_voltage"]; ok {
		voltage = float64(rawV) * m.cfg.VoltageScaling * m.cfg.VoltageDivider
		if voltage > 0.5 {
			updated = true
		}
	}
	if rawI, ok := raw["battery_current"]; ok {
		current = (float64(rawI)*m.cfg.CurrentScaling - m.cfg.CurrentOffset) * m.cfg.AmpsPerVolt
	}

	if m.airspeedMon != nil && m.cfg.AirspeedChannel != "" {
		if rawA, ok := raw[m.cfg.AirspeedChannel]; ok {
			m.airspeedMon.SynthesizeFromADC(rawA, m.cfg.AirspeedScale, m.cfg.AirspeedOffset)
		}
	}

	if !updated || m.cfg.BatterySource != "0" {
		return
	}

	throttle := m.currentThrottle()
	remainingPct := m.estimator.Push(nowUS, voltage, current, throttle, armed)

	_ = m.b.Publish("battery_status", combined.BatteryStatus{
		TimestampUS:  nowUS,
		VoltageV:     voltage,
		CurrentA:     current,
		RemainingPct: remainingPct,
		Throttle:     throttle,
		Armed:        armed,
	})
}

func (m *Monitor) currentThrottle() float64 {
	if m.actuatorSub == nil {
		return 0
	}
	// Throttle is sampled regardless of freshness: the last known
	// setpoint is still the right value to attach to a battery reading
	// even if actuator_controls_0 hasn't ticked this cycle.
	a, ok := m.actuatorSub.Copy()
	if !ok {
		return 0
	}
	return a.Throttle
}
