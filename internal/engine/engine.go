// Package engine is the loop driver: bring-up, the six-step main loop
// paced by the currently-elected gyro, HIL publishing suppression,
// hot-plug re-adoption, and graceful shutdown.
//
// One function owns every collaborator and runs a single long-lived
// loop that reads, transforms, and publishes in a fixed order, logging
// failures and continuing. Rather than a time.Ticker, the loop blocks
// (briefly, boundedly) on the currently-best gyro subscription, since
// the paced sensor here is redundant and its pacing source can itself
// fail over.
package engine

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabsflight/sensorvote/internal/aggregator"
	"github.com/relabsflight/sensorvote/internal/airspeed"
	"github.com/relabsflight/sensorvote/internal/bus"
	"github.com/relabsflight/sensorvote/internal/calibration"
	"github.com/relabsflight/sensorvote/internal/combined"
	"github.com/relabsflight/sensorvote/internal/failover"
	"github.com/relabsflight/sensorvote/internal/monitor"
	"github.com/relabsflight/sensorvote/internal/paramstore"
	"github.com/relabsflight/sensorvote/internal/power"
	"github.com/relabsflight/sensorvote/internal/sensordata"
	"github.com/relabsflight/sensorvote/internal/validator"
	"github.com/relabsflight/sensorvote/internal/vibration"
)

// bestGyroWaitUS and adoptionRetryUS implement spec.md §4.8 step 1's
// "timeout 50 ms" / "sleep briefly" pair.
const (
	bestGyroWaitUS    = 50_000
	adoptionRetryUS   = 1_000
	hotPlugIntervalUS = 500_000
	shutdownProbes    = 50
	shutdownProbeWait = 20 * time.Millisecond
)

// ADCSource abstracts the one-shot ADC channel-bundle read internal/
// adcserial provides, so Options can be built with or without a real
// serial port attached (spec.md §7: "ADC open failure at startup:
// logged; loop continues without power/analog-airspeed").
type ADCSource interface {
	ReadBundle() (power.RawChannels, error)
}

// Options bundles every collaborator the loop needs. Only Bus and
// Store are required; the rest may be nil/zero to run without the
// corresponding hardware or transport (ADC, monitor server).
type Options struct {
	Bus   bus.Bus
	Store paramstore.Store

	Devices calibration.DeviceLookup // nil defaults to "no live devices"

	ADC ADCSource // nil disables power/analog-airspeed

	PowerConfig               power.Config
	BatteryFullVoltage        float64
	BatteryEmptyVoltage       float64
	VibrationWarningThreshold float64
	HostSimulation            bool

	// MonitorServer, when non-nil, receives a Broadcast() call once per
	// published tick so connected websocket clients see the new status.
	MonitorServer *monitor.Server

	// Clock supplies the current time in microseconds; defaults to
	// time.Now().UnixMicro(). Overridable for deterministic tests.
	Clock func() int64
}

func defaultClock() int64 { return time.Now().UnixNano() / 1000 }

// Engine owns every piece of per-tick state and implements
// monitor.Source for the live-status server.
type Engine struct {
	b     bus.Bus
	store paramstore.Store
	clock func() int64

	gyro, accel, mag, baro *aggregator.Aggregator
	classAggs              map[sensordata.Class]*aggregator.Aggregator

	calib       *calibration.Applier
	airspeedMon *airspeed.Monitor
	powerMon    *power.Monitor
	adc         ADCSource

	vibMon     *vibration.Monitor
	failoverRe map[sensordata.Class]*failover.Reporter

	vcmSub      bus.Subscription[sensordata.VehicleControlMode]
	paramUpdSub bus.Subscription[struct{}]

	monitorSrv *monitor.Server

	handoff combined.Handoff
	derived combined.DerivedState

	publishing bool
	hilEnabled bool
	armed      bool

	lastAdoptionUS int64
	lastBaroTempC  float64

	statusMu sync.Mutex
	status   monitor.StatusReport

	exit     atomic.Bool
	stopped  chan struct{}
	loopExit *log.Logger
}

// New builds an Engine from opts. It does not start the loop; call Run
// (typically from its own goroutine) to begin bring-up.
func New(opts Options) (*Engine, error) {
	if opts.Clock == nil {
		opts.Clock = defaultClock
	}
	if opts.Devices == nil {
		opts.Devices = func(sensordata.Class, int) (calibration.Device, bool) { return nil, false }
	}

	e := &Engine{
		b:             opts.Bus,
		store:         opts.Store,
		clock:         opts.Clock,
		adc:           opts.ADC,
		monitorSrv:    opts.MonitorServer,
		failoverRe:    make(map[sensordata.Class]*failover.Reporter),
		stopped:       make(chan struct{}),
		loopExit:      log.New(log.Writer(), "sensorvote[engine]: ", log.LstdFlags),
		publishing:    true,
		lastBaroTempC: -400, // unknown until the first baro sample is elected
	}
	// The calibration applier owns BoardRotation/MagRotations; every
	// aggregator points directly at its fields so a parameter-triggered
	// recompute (calib.Apply) is visible on the very next poll with no
	// separate copy step.
	e.calib = calibration.New(opts.Store, opts.Devices, newComponentLogger("calibration"))

	e.gyro = aggregator.New(sensordata.ClassGyro, e.b, &e.calib.BoardRotation, &e.calib.MagRotations)
	e.accel = aggregator.New(sensordata.ClassAccel, e.b, &e.calib.BoardRotation, &e.calib.MagRotations)
	e.mag = aggregator.New(sensordata.ClassMag, e.b, &e.calib.BoardRotation, &e.calib.MagRotations)
	e.baro = aggregator.New(sensordata.ClassBaro, e.b, &e.calib.BoardRotation, &e.calib.MagRotations)
	e.classAggs = map[sensordata.Class]*aggregator.Aggregator{
		sensordata.ClassGyro:  e.gyro,
		sensordata.ClassAccel: e.accel,
		sensordata.ClassMag:   e.mag,
		sensordata.ClassBaro:  e.baro,
	}

	var err error
	e.airspeedMon, err = airspeed.New(e.b, &e.derived)
	if err != nil {
		return nil, err
	}
	airspeed.HostSimulation = opts.HostSimulation

	e.powerMon, err = power.New(opts.PowerConfig, e.b, e.airspeedMon, power.NewBatteryEstimator(opts.BatteryFullVoltage, opts.BatteryEmptyVoltage))
	if err != nil {
		return nil, err
	}

	e.vibMon = vibration.New(opts.VibrationWarningThreshold, newComponentLogger("vibration"))

	for _, class := range []sensordata.Class{sensordata.ClassGyro, sensordata.ClassAccel, sensordata.ClassMag, sensordata.ClassBaro} {
		e.failoverRe[class] = failover.New(class, newComponentLogger("failover"))
	}

	e.vcmSub, err = e.b.SubscribeVehicleControlMode()
	if err != nil {
		return nil, err
	}
	e.paramUpdSub, err = e.b.SubscribeParameterUpdate()
	if err != nil {
		return nil, err
	}

	return e, nil
}

func (e *Engine) now() int64 { return e.clock() }

// adoptInstances runs first-seen instance adoption for one class,
// per spec.md §4.8's bring-up step and step 5's hot-plug re-run.
func (e *Engine) adoptInstances(class sensordata.Class) {
	agg := e.classAggs[class]
	count := e.b.GroupCount(class)
	if count > validator.MaxInstances {
		count = validator.MaxInstances
	}
	for i := 0; i < count; i++ {
		_ = agg.Adopt(i, int64(i))
	}
}

func (e *Engine) adoptAllInstances() {
	for _, class := range []sensordata.Class{sensordata.ClassGyro, sensordata.ClassAccel, sensordata.ClassMag, sensordata.ClassBaro} {
		e.adoptInstances(class)
	}
}

// bringUp implements spec.md §4.8's initial sequence.
func (e *Engine) bringUp() {
	e.adoptAllInstances()

	e.calib.Apply()
	e.store.OnUpdate(e.calib.Apply)

	var snap combined.Snapshot
	now := e.now()
	e.gyro.Poll(now, &snap, &e.derived)
	e.accel.Poll(now, &snap, &e.derived)
	e.mag.Poll(now, &snap, &e.derived)
	e.baro.Poll(now, &snap, &e.derived)

	// Advertise the combined-snapshot topic; the first real publish
	// happens once the main loop observes a valid gyro timestamp.
	_ = e.b.Publish("sensor_combined", combined.Snapshot{})

	e.lastAdoptionUS = now
}

// Run executes bring-up and the main loop until Stop is called. It
// blocks the calling goroutine; run it from its own goroutine.
func (e *Engine) Run() {
	e.bringUp()
	defer close(e.stopped)

	for !e.exit.Load() {
		e.tick()
	}
}

// Stop requests a graceful exit (spec.md §5: level-triggered flag) and
// waits up to ~1s (50 x 20ms probes) for the loop to observe it.
func (e *Engine) Stop() {
	e.exit.Store(true)
	for i := 0; i < shutdownProbes; i++ {
		select {
		case <-e.stopped:
			return
		case <-time.After(shutdownProbeWait):
		}
	}
	e.loopExit.Printf("WARNING loop did not exit within shutdown window, forcing teardown")
}

func (e *Engine) tick() {
	// Step 1: bounded wait on the currently-best gyro subscription.
	if !e.waitBestGyro() {
		if e.gyro.State.SubscriptionCount == 0 {
			e.adoptInstances(sensordata.ClassGyro)
			time.Sleep(time.Duration(adoptionRetryUS) * time.Microsecond)
		}
	}

	now := e.now()

	// Step 2: vehicle-control-mode (HIL + armed).
	e.pollVehicleControlMode()

	// Step 3: poll gyro, accel, mag, baro, ADC, diff-pres in order.
	var snap combined.Snapshot
	e.gyro.Poll(now, &snap, &e.derived)
	e.accel.Poll(now, &snap, &e.derived)
	e.mag.Poll(now, &snap, &e.derived)
	e.baro.Poll(now, &snap, &e.derived)
	if best := e.baro.State.LastBestVote; best >= 0 {
		e.lastBaroTempC = e.baro.State.Instances[best].Cached.TemperatureC
	}
	e.pollADC(now)
	e.airspeedMon.Poll(now, e.lastBaroTempC)

	// Step 4: publish when allowed and a real gyro sample paced this
	// tick, then report any class failover observed this tick.
	if e.publishing && snap.TimestampUS > 0 {
		snap.ComputeRelativeTimestamps()
		_ = e.b.Publish("sensor_combined", snap)
		e.handoff.Store(snap)
		e.reportFailovers()
		e.checkVibration(now)
		e.refreshStatus(snap)
		if e.monitorSrv != nil {
			e.monitorSrv.Broadcast()
		}
	}

	// HIL safeguard: spec.md §9 calls this branch unreachable under
	// documented transitions; kept defensive rather than deleted.
	if !e.publishing && !e.hilEnabled {
		e.loopExit.Printf("WARNING publishing suppressed with HIL disabled, resuming")
		e.publishing = true
	}

	// Step 5: hot-plug re-adoption while disarmed, else parameter/RC
	// map freshness checks.
	if !e.armed && now-e.lastAdoptionUS >= hotPlugIntervalUS {
		e.adoptAllInstances()
		e.lastAdoptionUS = now
	} else {
		e.pollParameterUpdate()
	}

	// Step 6: poll RC. RC input decoding is an external collaborator
	// per spec.md §1 (out of scope); nothing to do here but keep the
	// step so the six-step sequence stays literally in order.
}

// waitBestGyro implements step 1's bounded wait: poll the currently
// elected gyro's subscription (any adopted gyro before the first
// election) for a fresh sample, up to a real
// 50ms wall-clock timeout, sleeping ~1ms between checks. Returns false
// on timeout or when zero gyro instances are adopted (the caller then
// retries adoption per spec.md §4.8 step 1).
func (e *Engine) waitBestGyro() bool {
	if e.gyro.State.SubscriptionCount == 0 {
		return false
	}
	deadline := time.Now().Add(bestGyroWaitUS * time.Microsecond)
	for {
		if e.gyro.HasFreshData() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

func (e *Engine) pollVehicleControlMode() {
	if !e.vcmSub.Check() {
		return
	}
	vcm, ok := e.vcmSub.Copy()
	if !ok {
		return
	}
	if vcm.HilEnabled && !e.hilEnabled {
		e.publishing = false
	} else if !vcm.HilEnabled && e.hilEnabled {
		e.publishing = true
	}
	e.hilEnabled = vcm.HilEnabled
	e.armed = vcm.Armed
}

func (e *Engine) pollParameterUpdate() {
	if !e.paramUpdSub.Check() {
		return
	}
	if _, ok := e.paramUpdSub.Copy(); ok {
		e.calib.Apply()
	}
}

func (e *Engine) pollADC(now int64) {
	if e.adc == nil {
		return
	}
	bundle, err := e.adc.ReadBundle()
	if err != nil {
		return
	}
	e.powerMon.Poll(now, e.armed, bundle)
}

func (e *Engine) reportFailovers() {
	for class, rep := range e.failoverRe {
		rep.Check(e.classAggs[class].State.Validators)
	}
}

func (e *Engine) checkVibration(now int64) {
	e.vibMon.Check(now, vibration.Sources{
		Gyro:  e.gyro.State.Validators.VibrationFactor(now),
		Accel: e.accel.State.Validators.VibrationFactor(now),
		Mag:   e.mag.State.Validators.VibrationFactor(now),
	})
}

func (e *Engine) refreshStatus(snap combined.Snapshot) {
	classes := make([]monitor.ClassStatus, 0, 4)
	for _, class := range []sensordata.Class{sensordata.ClassGyro, sensordata.ClassAccel, sensordata.ClassMag, sensordata.ClassBaro} {
		st := e.classAggs[class].State
		classes = append(classes, monitor.ClassStatus{
			Class:         class.String(),
			SubCount:      st.SubscriptionCount,
			Best:          st.LastBestVote,
			FailoverCount: st.Validators.FailoverCount(),
		})
	}

	e.statusMu.Lock()
	e.status = monitor.StatusReport{Snapshot: snap, Classes: classes}
	e.statusMu.Unlock()
}

// Status implements monitor.Source.
func (e *Engine) Status() monitor.StatusReport {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status
}

// Snapshot returns the latest published snapshot via the lock-free
// handoff, for a panel renderer or any other concurrent reader.
func (e *Engine) Snapshot() (combined.Snapshot, bool) {
	return e.handoff.Load()
}
