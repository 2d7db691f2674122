// Package combined holds the flat, JSON-tagged outbound record types
// the loop driver publishes each tick.
package combined

import (
	"sync/atomic"

	"github.com/relabsflight/sensorvote/internal/sensordata"
)

// InvalidRelativeTsUS is the sentinel for an invalid relative
// timestamp: the maximum 32-bit negative value, per spec.md §6.
const InvalidRelativeTsUS int32 = -2147483648

// Snapshot is the outbound sensor_combined record.
type Snapshot struct {
	GyroRad         sensordata.Vector3 `json:"gyro_rad"`
	GyroIntegralDt  float64            `json:"gyro_integral_dt"`
	AccelMS2        sensordata.Vector3 `json:"accel_m_s2"`
	AccelIntegralDt float64            `json:"accel_integral_dt"`
	AccelTsRelative int32              `json:"accel_ts_relative"`
	MagGa           sensordata.Vector3 `json:"mag_ga"`
	MagTsRelative   int32              `json:"mag_ts_relative"`
	BaroAltM        float64            `json:"baro_alt_m"`
	BaroTempC       float64            `json:"baro_temp_c"`
	BaroTsRelative  int32              `json:"baro_ts_relative"`
	TimestampUS     int64              `json:"timestamp"`

	// Raw per-class timestamps, not part of the wire record, used by
	// the loop driver to compute the *TsRelative fields above.
	accelTsUS int64
	magTsUS   int64
	baroTsUS  int64
}

// SetAccelTimestamp records the elected accel sample's own timestamp,
// used only to compute AccelTsRelative once the gyro timestamp (the
// pacing signal) is known.
func (s *Snapshot) SetAccelTimestamp(ts int64) { s.accelTsUS = ts }
func (s *Snapshot) SetMagTimestamp(ts int64)   { s.magTsUS = ts }
func (s *Snapshot) SetBaroTimestamp(ts int64)  { s.baroTsUS = ts }

// ComputeRelativeTimestamps fills *TsRelative from the per-class raw
// timestamps recorded this tick, relative to the gyro's TimestampUS
// (spec.md §4.8 step 4, §6). A class with no raw timestamp recorded
// this tick keeps the invalid sentinel.
func (s *Snapshot) ComputeRelativeTimestamps() {
	s.AccelTsRelative = relativeOrInvalid(s.accelTsUS, s.TimestampUS)
	s.MagTsRelative = relativeOrInvalid(s.magTsUS, s.TimestampUS)
	s.BaroTsRelative = relativeOrInvalid(s.baroTsUS, s.TimestampUS)
}

func relativeOrInvalid(classTsUS, gyroTsUS int64) int32 {
	if classTsUS == 0 {
		return InvalidRelativeTsUS
	}
	return int32(classTsUS - gyroTsUS)
}

// DerivedState carries values computed by one component but consumed
// by another within the same tick (spec.md §4.1's baro specialization:
// "pressure of the elected instance becomes last_best_baro_pressure
// (used downstream by airspeed)").
type DerivedState struct {
	LastBestBaroPressureHPa float64
}

// AirspeedReport is the outbound airspeed record.
type AirspeedReport struct {
	TimestampUS            int64   `json:"timestamp"`
	IndicatedMS            float64 `json:"indicated_m_s"`
	TrueMS                 float64 `json:"true_m_s"`
	TrueUnfilteredMS       float64 `json:"true_unfiltered_m_s"`
	Confidence             float64 `json:"confidence"`
	AirTemperatureCelsius  float64 `json:"air_temperature_celsius"`
}

// Handoff publishes the latest Snapshot lock-free: internal/engine's
// loop goroutine is the sole writer, internal/monitor's websocket
// goroutines and the panel renderer are concurrent readers (SPEC_FULL.md
// §5 expansion).
type Handoff struct {
	ptr atomic.Pointer[Snapshot]
}

// Store publishes a copy of snap as the latest snapshot.
func (h *Handoff) Store(snap Snapshot) {
	h.ptr.Store(&snap)
}

// Load returns the most recently stored snapshot, or ok=false if none
// has been stored yet.
func (h *Handoff) Load() (Snapshot, bool) {
	p := h.ptr.Load()
	if p == nil {
		return Snapshot{}, false
	}
	return *p, true
}

// BatteryStatus is the outbound battery_status record.
type BatteryStatus struct {
	TimestampUS  int64   `json:"timestamp"`
	VoltageV     float64 `json:"voltage_v"`
	CurrentA     float64 `json:"current_a"`
	RemainingPct float64 `json:"remaining_pct"`
	Throttle     float64 `json:"throttle"`
	Armed        bool    `json:"armed"`
}
