// Package validator implements the per-instance data validator and the
// per-class validator group: small exported structs with no
// unnecessary interfaces, tracking freshness, error rate, and variance
// against neighbors to decide which instance of a sensor class to
// trust.
package validator

import (
	"math"

	"github.com/relabsflight/sensorvote/internal/sensordata"
)

// FailoverFlag is one bit of the failover_state bitmask (spec.md §4.2).
type FailoverFlag uint8

const (
	FlagNoData FailoverFlag = 1 << iota
	FlagStale
	FlagTimeout
	FlagHighErrCount
	FlagHighErrDensity
)

// DefaultTimeoutUS is the default validator timeout; magnetometers use
// a tighter 300ms timeout per spec.md §3.
const (
	DefaultTimeoutUS = 500_000
	MagTimeoutUS     = 300_000
)

const (
	staleTickThreshold   = 5
	highErrRateThreshold = 5.0  // EMA of error-count increments per sample
	highErrDensityThresh = 0.20 // errors per sample
	vibrationEMAAlpha    = 0.2
	errorRateEMAAlpha    = 0.3
)

// Validator holds the rolling statistics for one sensor instance.
type Validator struct {
	timeoutUS int64

	everReceived   bool
	lastUpdateUS   int64
	lastSampleTsUS int64
	staleTicks     int

	lastErrorCount uint64
	errorSamples   uint64
	errorRateEMA   float64

	haveLastVector bool
	lastVector     sensordata.Vector3
	vibrationEMA   float64

	priority uint8
}

// New creates a Validator with the given timeout in microseconds.
func New(timeoutUS int64) *Validator {
	return &Validator{timeoutUS: timeoutUS}
}

// Put records a new sample observation taken at time nowUS (the
// engine's current tick time), for a sample whose own timestamp is
// tsUS, vector value, cumulative error_count, and reported priority.
func (v *Validator) Put(nowUS int64, tsUS int64, vec sensordata.Vector3, errorCount uint64, priority uint8) {
	if v.everReceived && tsUS == v.lastSampleTsUS {
		v.staleTicks++
	} else {
		v.staleTicks = 0
	}
	v.lastSampleTsUS = tsUS

	if v.everReceived {
		delta := errorCount - v.lastErrorCount
		// Treat a single sample as roughly one unit of time for the
		// rate EMA; the absolute cadence is tracked separately via
		// lastUpdateUS/timeout.
		v.errorRateEMA = errorRateEMAAlpha*float64(delta) + (1-errorRateEMAAlpha)*v.errorRateEMA
		v.errorSamples++

		if v.haveLastVector {
			dx := vec.X - v.lastVector.X
			dy := vec.Y - v.lastVector.Y
			dz := vec.Z - v.lastVector.Z
			mag2 := dx*dx + dy*dy + dz*dz
			v.vibrationEMA = vibrationEMAAlpha*mag2 + (1-vibrationEMAAlpha)*v.vibrationEMA
		}
	}

	v.lastErrorCount = errorCount
	v.lastVector = vec
	v.haveLastVector = true
	v.lastUpdateUS = nowUS
	v.priority = priority
	v.everReceived = true
}

// Flags returns the failover-state bitmask that would apply if this
// validator lost an election right now.
func (v *Validator) Flags(nowUS int64) FailoverFlag {
	var f FailoverFlag
	if !v.everReceived {
		f |= FlagNoData
		return f
	}
	if v.staleTicks >= staleTickThreshold {
		f |= FlagStale
	}
	if nowUS-v.lastUpdateUS > v.timeoutUS {
		f |= FlagTimeout
	}
	if v.errorRateEMA > highErrRateThreshold {
		f |= FlagHighErrCount
	}
	if v.errorSamples > 0 {
		density := v.errorRateEMA / math.Max(1, float64(v.errorSamples))
		if density > highErrDensityThresh {
			f |= FlagHighErrDensity
		}
	}
	return f
}

// Confidence returns a score in [0,1]. It falls to 0 as time since the
// last update approaches the timeout, drops as the error rate climbs,
// and drops as error density climbs, without locking in a specific
// formula.
func (v *Validator) Confidence(nowUS int64) float64 {
	if !v.everReceived {
		return 0
	}

	dt := nowUS - v.lastUpdateUS
	if dt < 0 {
		dt = 0
	}
	timeoutFrac := 1.0 - float64(dt)/float64(v.timeoutUS)
	if timeoutFrac < 0 {
		timeoutFrac = 0
	}

	errRatePenalty := v.errorRateEMA / (v.errorRateEMA + highErrRateThreshold)

	density := 0.0
	if v.errorSamples > 0 {
		density = v.errorRateEMA / math.Max(1, float64(v.errorSamples))
	}
	densityPenalty := density / (density + highErrDensityThresh)

	stalePenalty := 0.0
	if v.staleTicks >= staleTickThreshold {
		stalePenalty = 1.0
	}

	conf := timeoutFrac * (1 - errRatePenalty) * (1 - densityPenalty) * (1 - stalePenalty)
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

// VibrationFactor is a scalar rising with high-frequency signal
// variance, per spec.md's glossary definition.
func (v *Validator) VibrationFactor() float64 {
	return v.vibrationEMA
}

// Priority returns the last-reported trust priority.
func (v *Validator) Priority() uint8 { return v.priority }

// EverReceived reports whether Put has ever been called.
func (v *Validator) EverReceived() bool { return v.everReceived }
