// Package hwbaro adapts a real BMP280/BME280 barometer over I2C into
// one sensordata.RawSample per read, and optionally opens an SSD1306
// OLED for internal/panel to draw into. Host initialization is guarded
// by sync.Once since multiple Open calls may share a process; each Open
// call opens its own I2C bus handle.
package hwbaro

import (
	"fmt"
	"math"
	"sync"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/host/v3"

	"github.com/relabsflight/sensorvote/internal/calibration"
	"github.com/relabsflight/sensorvote/internal/sensordata"
)

var hostInitOnce sync.Once
var hostInitErr error

func ensureHostInit() error {
	hostInitOnce.Do(func() {
		_, hostInitErr = host.Init()
	})
	return hostInitErr
}

// Baro wraps one real BMP280/BME280 device.
type Baro struct {
	closer   interface{ Close() error }
	dev      *bmxx80.Dev
	deviceID int64
}

// Open opens the I2C bus named busName (empty string selects the
// default bus) and initializes a BMP280/BME280 at addr.
func Open(busName string, addr uint16, deviceID int64) (*Baro, error) {
	if err := ensureHostInit(); err != nil {
		return nil, fmt.Errorf("hwbaro: host init: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("hwbaro: open i2c bus %q: %w", busName, err)
	}

	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("hwbaro: init bmxx80 at 0x%x: %w", addr, err)
	}

	return &Baro{closer: bus, dev: dev, deviceID: deviceID}, nil
}

// Close releases the I2C bus.
func (b *Baro) Close() error { return b.closer.Close() }

// GetDeviceID implements calibration.Device.
func (b *Baro) GetDeviceID() (int64, bool) { return b.deviceID, true }

// SetCalibration implements calibration.Device. A BMP280 has no
// user-settable offset/scale registers comparable to an IMU's; the
// calibration applier's generic per-class pass still calls this for
// every class (spec.md §4.3 does not carve out an exception), so it is
// accepted and ignored rather than special-cased out of the pass.
func (b *Baro) SetCalibration(calibration.Offsets) error { return nil }

// Read samples the device and converts it into the RawSample shape
// internal/aggregator expects for the baro class: Value.X carries
// altitude, derived from the sensed pressure via the international
// barometric formula referenced to seaLevelPressureHPa (a stored
// parameter per spec.md §6).
func (b *Baro) Read(nowUS int64, seaLevelPressureHPa float64) (sensordata.RawSample, error) {
	var e physic.Env
	if err := b.dev.Sense(&e); err != nil {
		return sensordata.RawSample{}, fmt.Errorf("hwbaro: sense: %w", err)
	}

	pressurePa := float64(e.Pressure) / float64(physic.Pascal)
	pressureHPa := pressurePa / 100.0
	temperatureC := e.Temperature.Celsius()

	return sensordata.RawSample{
		TimestampUS:  nowUS,
		Value:        sensordata.Vector3{X: barometricAltitude(pressureHPa, seaLevelPressureHPa)},
		TemperatureC: temperatureC,
		PressureHPa:  pressureHPa,
	}, nil
}

// OpenSSD1306 opens a real SSD1306 OLED for internal/panel to draw
// into. addr is not passed to the driver: ssd1306.NewI2C opens the
// display at its own default address.
func OpenSSD1306(busName string, addr uint16) (*ssd1306.Dev, error) {
	if err := ensureHostInit(); err != nil {
		return nil, fmt.Errorf("hwbaro: host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("hwbaro: open i2c bus %q: %w", busName, err)
	}
	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("hwbaro: init ssd1306: %w", err)
	}
	return dev, nil
}

func barometricAltitude(pressureHPa, seaLevelHPa float64) float64 {
	if pressureHPa <= 0 || seaLevelHPa <= 0 {
		return 0
	}
	return 44330.0 * (1.0 - math.Pow(pressureHPa/seaLevelHPa, 0.1903))
}
