// Package calibration implements the calibration applier: on every
// parameter-update event it scans the stored CAL_<CLASS><i>_* records
// and pushes matching offsets/scales to the live driver handles, plus
// the magnetometer rotation policy. It only ever applies an
// already-stored calibration to a live device; capturing a new
// calibration from live samples is out of scope.
package calibration

import (
	"fmt"
	"strconv"

	"github.com/relabsflight/sensorvote/internal/paramstore"
	"github.com/relabsflight/sensorvote/internal/rotation"
	"github.com/relabsflight/sensorvote/internal/sensordata"
)

// Offsets is the six-scalar bias/scale record pushed to a driver.
type Offsets struct {
	OffsetX, OffsetY, OffsetZ float64
	ScaleX, ScaleY, ScaleZ    float64
}

// Device is the small capability interface a driver handle exposes to
// the calibration applier: a plain Go method set standing in for a
// driver ioctl for calibration push.
type Device interface {
	GetDeviceID() (int64, bool)
	SetCalibration(Offsets) error
}

// MagDevice additionally reports whether it is wired externally
// (needed only for magnetometers, for the rotation policy).
type MagDevice interface {
	Device
	IsExternalMag() bool
}

// DeviceLookup opens (or returns a cached handle to) the driver for
// one class/slot. It returns ok=false if no live device occupies that
// slot this tick.
type DeviceLookup func(class sensordata.Class, slot int) (Device, bool)

// Logger is the minimal leveled-logging surface the applier needs
// (spec.md §7 expansion: per-component loggers, not global log.Printf).
type Logger interface {
	Errorf(format string, args ...any)
}

// Applier implements the per-tick calibration application described in
// spec.md §4.3.
type Applier struct {
	store  paramstore.Store
	lookup DeviceLookup
	log    Logger

	BoardRotation rotation.Matrix
	MagRotations  [3]rotation.Matrix

	GyroCount  int
	AccelCount int
	MagCount   int
}

// New creates an Applier. lookup is called once per class/slot per
// Apply to obtain the live driver handle, if any.
func New(store paramstore.Store, lookup DeviceLookup, log Logger) *Applier {
	return &Applier{
		store:         store,
		lookup:        lookup,
		log:           log,
		BoardRotation: rotation.Identity(),
		MagRotations:  [3]rotation.Matrix{rotation.Identity(), rotation.Identity(), rotation.Identity()},
	}
}

const numSlots = 3

const (
	boardRotKey      = "SENS_BOARD_ROT"
	boardOffRollKey  = "SENS_BOARD_OFF_X"
	boardOffPitchKey = "SENS_BOARD_OFF_Y"
	boardOffYawKey   = "SENS_BOARD_OFF_Z"
)

func classPrefix(class sensordata.Class) string {
	switch class {
	case sensordata.ClassGyro:
		return "CAL_GYRO"
	case sensordata.ClassAccel:
		return "CAL_ACC"
	case sensordata.ClassMag:
		return "CAL_MAG"
	default:
		return "CAL_BARO"
	}
}

// Apply scans all four classes' calibration records against their live
// devices and pushes matching ones. It is called on every
// parameter-update event, forced on first entry, per spec.md §4.3.
func (a *Applier) Apply() {
	a.applyBoardRotation()
	a.GyroCount = a.applyClass(sensordata.ClassGyro)
	a.AccelCount = a.applyClass(sensordata.ClassAccel)
	a.MagCount = a.applyMagClass()
	a.applyClass(sensordata.ClassBaro)
}

// applyBoardRotation recomputes BoardRotation from the stored
// enumerated rotation index plus a small continuous roll/pitch/yaw
// trim (spec.md §6: "board rotation index, board offset (roll/pitch/yaw
// degrees)"). Runs first in Apply so every per-class pass and the mag
// rotation policy see the current board rotation.
func (a *Applier) applyBoardRotation() {
	base := rotation.FromCode(a.store.GetInt(boardRotKey, 0))
	roll := a.store.GetFloat(boardOffRollKey, 0)
	pitch := a.store.GetFloat(boardOffPitchKey, 0)
	yaw := a.store.GetFloat(boardOffYawKey, 0)
	if roll == 0 && pitch == 0 && yaw == 0 {
		a.BoardRotation = base
		return
	}
	a.BoardRotation = rotation.Mul(rotation.FromEulerDegrees(roll, pitch, yaw), base)
}

// applyClass handles the device-ID-match-and-push logic shared by
// every class; magnetometers additionally run applyMagClass's rotation
// policy on top of this.
func (a *Applier) applyClass(class sensordata.Class) int {
	prefix := classPrefix(class)
	applied := 0

	for s := 0; s < numSlots; s++ {
		dev, ok := a.lookup(class, s)
		if !ok || dev == nil {
			continue
		}
		liveID, ok := dev.GetDeviceID()
		if !ok {
			continue
		}

		matched := false
		for i := 0; i < numSlots; i++ {
			idKey := fmt.Sprintf("%s%d_ID", prefix, i)
			storedID, present := a.store.Get(idKey)
			if !present {
				continue
			}
			if id, err := strconv.ParseInt(storedID, 10, 64); err != nil || id != liveID {
				continue
			}

			off := Offsets{
				OffsetX: a.store.GetFloat(fmt.Sprintf("%s%d_XOFF", prefix, i), 0),
				OffsetY: a.store.GetFloat(fmt.Sprintf("%s%d_YOFF", prefix, i), 0),
				OffsetZ: a.store.GetFloat(fmt.Sprintf("%s%d_ZOFF", prefix, i), 0),
				ScaleX:  a.store.GetFloat(fmt.Sprintf("%s%d_XSCALE", prefix, i), 1),
				ScaleY:  a.store.GetFloat(fmt.Sprintf("%s%d_YSCALE", prefix, i), 1),
				ScaleZ:  a.store.GetFloat(fmt.Sprintf("%s%d_ZSCALE", prefix, i), 1),
			}
			if err := dev.SetCalibration(off); err != nil {
				a.log.Errorf("FAILED APPLYING %s CAL #%d: %v", class, i, err)
				continue
			}
			matched = true
			break
		}
		if matched {
			applied++
		}
	}
	return applied
}

// applyMagClass runs applyClass's device-ID/offset-scale push, then the
// verbatim rotation policy spec.md §4.3 requires (kept as a distinct
// pass since it depends on MagDevice.IsExternalMag, unlike every other
// class).
func (a *Applier) applyMagClass() int {
	applied := a.applyClass(sensordata.ClassMag)

	for s := 0; s < numSlots; s++ {
		dev, ok := a.lookup(sensordata.ClassMag, s)
		if !ok || dev == nil {
			continue
		}
		magDev, ok := dev.(MagDevice)
		if !ok {
			continue
		}
		a.applyMagRotation(s, magDev)
	}
	return applied
}

func (a *Applier) applyMagRotation(slot int, dev MagDevice) {
	rotKey := fmt.Sprintf("CAL_MAG%d_ROT", slot)
	legacyKey := "SENS_EXT_MAG_ROT"

	if !dev.IsExternalMag() {
		// Internal: rotation is whatever the board rotation is; the
		// stored per-slot parameter is forced to the internal sentinel.
		a.MagRotations[slot] = a.BoardRotation
		_ = a.store.SetSilent(rotKey, "-1")
		return
	}

	stored := a.store.GetInt(rotKey, 0)

	if stored < 0 {
		// Was marked internal; external now, reset to "no rotation"
		// without notifying listeners.
		stored = 0
		_ = a.store.SetSilent(rotKey, "0")
	}

	legacy := a.store.GetInt(legacyKey, 0)
	if legacy != 0 && stored <= 0 {
		stored = legacy
		_ = a.store.SetSilent(rotKey, fmt.Sprintf("%d", stored))
		_ = a.store.SetSilent(legacyKey, "0")
	}

	if stored < 0 {
		stored = 0
	}

	a.MagRotations[slot] = rotation.FromCode(stored)
}
