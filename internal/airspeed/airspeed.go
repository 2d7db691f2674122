// Package airspeed computes indicated and true airspeed from a
// differential-pressure reading, the local static pressure/temperature,
// and (optionally) an ADC-synthesized differential-pressure channel.
package airspeed

import (
	"math"

	"github.com/relabsflight/sensorvote/internal/bus"
	"github.com/relabsflight/sensorvote/internal/combined"
	"github.com/relabsflight/sensorvote/internal/sensordata"
	"github.com/relabsflight/sensorvote/internal/validator"
)

const (
	airDensitySeaLevel      = 1.225  // kg/m^3, ISA sea level
	specificGasConstantAir  = 287.05 // J/(kg*K), dry air
	pcbSelfHeatingOffsetC   = 5.0
	adcVoltsPerLSB          = 3.3 / 4096.0 * 2.0
	adcMinValidVoltage      = 0.4
	adcFilterOldWeight      = 0.9
	adcFilterNewWeight      = 0.1
	diffPresTimeoutUS       = validator.DefaultTimeoutUS
)

// HostSimulation, when true, forces the differential-pressure
// validator's reported confidence to 1.0 (spec.md §4.4: "except on
// host-simulation builds where it is forced to 1.0"). internal/engine's
// New sets this from Options.HostSimulation (the HOST_SIMULATION config
// key).
var HostSimulation = false

// Monitor implements diff_pres_poll and the ADC-synthesis path.
type Monitor struct {
	b   bus.Bus
	sub bus.Subscription[sensordata.DiffPressureSample]

	dpValidator *validator.Validator

	derived *combined.DerivedState

	filteredDpPa float64
	haveADCSample bool
}

// New creates an airspeed Monitor. derived supplies
// last_best_baro_pressure as updated by internal/aggregator's baro
// specialization.
func New(b bus.Bus, derived *combined.DerivedState) (*Monitor, error) {
	sub, err := b.SubscribeDiffPressure()
	if err != nil {
		return nil, err
	}
	return &Monitor{
		b:           b,
		sub:         sub,
		dpValidator: validator.New(diffPresTimeoutUS),
		derived:     derived,
	}, nil
}

// Poll checks for a fresh differential-pressure sample and, if one
// arrived, computes and publishes an airspeed report. nowUS is the
// current tick time.
func (m *Monitor) Poll(nowUS int64, baroTempC float64) {
	if !m.sub.Check() {
		return
	}
	sample, ok := m.sub.Copy()
	if !ok {
		return
	}
	m.process(nowUS, sample, baroTempC)
}

func (m *Monitor) process(nowUS int64, sample sensordata.DiffPressureSample, baroTempC float64) {
	airTempC := sample.TemperatureC
	if airTempC <= -300 {
		airTempC = baroTempC - pcbSelfHeatingOffsetC
	}

	m.dpValidator.Put(nowUS, sample.TimestampUS, sensordata.Vector3{X: sample.RawPa}, sample.ErrorCount, 0)
	confidence := m.dpValidator.Confidence(nowUS)
	if HostSimulation {
		confidence = 1.0
	}

	staticPressurePa := m.derived.LastBestBaroPressureHPa * 100

	report := combined.AirspeedReport{
		TimestampUS:           sample.TimestampUS,
		IndicatedMS:           math.Max(0, indicatedAirspeed(sample.FilteredPa)),
		TrueMS:                math.Max(0, trueAirspeed(sample.FilteredPa+staticPressurePa, staticPressurePa, airTempC)),
		TrueUnfilteredMS:      math.Max(0, trueAirspeed(sample.RawPa+staticPressurePa, staticPressurePa, airTempC)),
		Confidence:            confidence,
		AirTemperatureCelsius: airTempC,
	}

	_ = m.b.Publish("airspeed", report)
}

// indicatedAirspeed implements spec.md's f_indicated: the incompressible
// dynamic-pressure relation at sea-level reference density.
func indicatedAirspeed(diffPressurePa float64) float64 {
	if diffPressurePa <= 0 {
		return 0
	}
	return math.Sqrt(2 * diffPressurePa / airDensitySeaLevel)
}

// trueAirspeed implements spec.md's f_true: totalPressurePa is
// filtered_dp_pa + p_static_pa, staticPressurePa is the local static
// pressure used to derive air density via the ideal gas law.
func trueAirspeed(totalPressurePa, staticPressurePa, tempC float64) float64 {
	dp := totalPressurePa - staticPressurePa
	if dp <= 0 {
		return 0
	}
	tempK := tempC + 273.15
	if tempK <= 0 || staticPressurePa <= 0 {
		return indicatedAirspeed(dp)
	}
	rho := staticPressurePa / (specificGasConstantAir * tempK)
	if rho <= 0 {
		return 0
	}
	return math.Sqrt(2 * dp / rho)
}

// SynthesizeFromADC implements spec.md §4.4's ADC-synthesized
// differential-pressure path: raw is the ADC count, scale/offset the
// configured analog-channel calibration. Returns false if the reading
// is below the minimum valid voltage or the channel is unconfigured.
func (m *Monitor) SynthesizeFromADC(raw uint16, scale, offset float64) (float64, bool) {
	voltage := float64(raw) * adcVoltsPerLSB
	if voltage <= adcMinValidVoltage || scale <= 0 {
		return m.filteredDpPa, false
	}

	rawDp := voltage*scale - offset
	if !m.haveADCSample {
		m.filteredDpPa = rawDp
		m.haveADCSample = true
	} else {
		m.filteredDpPa = adcFilterOldWeight*m.filteredDpPa + adcFilterNewWeight*rawDp
	}

	_ = m.b.Publish("differential_pressure", sensordata.DiffPressureSample{
		RawPa:      rawDp,
		FilteredPa: m.filteredDpPa,
	})
	return m.filteredDpPa, true
}
