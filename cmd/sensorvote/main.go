// Command sensorvote runs the sensor voting/fusion engine, or controls
// an already-running instance.
//
// One binary dispatches on os.Args[1] into three subcommands, each with
// its own flag.NewFlagSet: start loads configuration, opens the
// collaborators, and blocks; stop signals a running instance via its
// pidfile; status queries the monitor websocket for a live snapshot.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabsflight/sensorvote/internal/adcserial"
	"github.com/relabsflight/sensorvote/internal/busmqtt"
	"github.com/relabsflight/sensorvote/internal/calibration"
	"github.com/relabsflight/sensorvote/internal/config"
	"github.com/relabsflight/sensorvote/internal/engine"
	"github.com/relabsflight/sensorvote/internal/hwbaro"
	"github.com/relabsflight/sensorvote/internal/monitor"
	"github.com/relabsflight/sensorvote/internal/panel"
	"github.com/relabsflight/sensorvote/internal/paramstore"
	"github.com/relabsflight/sensorvote/internal/power"
	"github.com/relabsflight/sensorvote/internal/sensordata"
)

func usage() {
	fmt.Println("usage: sensorvote <start|stop|status> [flags]")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var code int
	switch os.Args[1] {
	case "start":
		code = runStart(os.Args[2:])
	case "stop":
		code = runStop(os.Args[2:])
	case "status":
		code = runStatus(os.Args[2:])
	default:
		usage()
		code = 1
	}
	os.Exit(code)
}

// runStart wires every collaborator and blocks until SIGTERM is
// delivered (via stop's pidfile-targeted signal) or the process is
// otherwise killed.
func runStart(args []string) int {
	startCmd := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := startCmd.String("config", "/etc/sensorvote/sensorvote.conf", "path to configuration file")
	pidFile := startCmd.String("pidfile", "/var/run/sensorvote.pid", "path to write the running process's pid")
	baroAddr := startCmd.Uint("baro-i2c-addr", 0x76, "I2C address of the barometer, 0 to disable")
	panelAddr := startCmd.Uint("panel-i2c-addr", 0x3c, "nonzero enables the status OLED (opened at the driver's default I2C address), 0 to disable")
	startCmd.Parse(args)

	log.Println("starting sensorvote sensor voter/fusion engine")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	if err := writePidFile(*pidFile); err != nil {
		log.Fatalf("failed to write pidfile: %v", err)
	}
	defer os.Remove(*pidFile)

	store, err := paramstore.NewFileStore(cfg.ParamFilePath)
	if err != nil {
		log.Fatalf("failed to open parameter store: %v", err)
	}

	b, err := busmqtt.Connect(busmqtt.Options{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID,
		Logger:   log.New(os.Stderr, "sensorvote[bus]: ", log.LstdFlags),
	})
	if err != nil {
		log.Fatalf("failed to connect to MQTT broker: %v", err)
	}
	defer b.Close()

	var baro *hwbaro.Baro
	if *baroAddr != 0 {
		baro, err = hwbaro.Open("", uint16(*baroAddr), 0)
		if err != nil {
			// A driver open failure at startup is logged; the loop
			// continues without the affected hardware.
			log.Printf("sensorvote: failed to open barometer, running without a live baro device: %v", err)
			baro = nil
		} else {
			defer baro.Close()
		}
	}

	devices := deviceLookup(baro)

	var adc engine.ADCSource
	if cfg.ADCSerialPort != "" {
		reader, err := adcserial.Open(adcserial.DefaultOptions(cfg.ADCSerialPort, uint(cfg.ADCBaudRate)))
		if err != nil {
			log.Printf("sensorvote: failed to open ADC serial port, running without power/analog-airspeed: %v", err)
		} else {
			defer reader.Close()
			adc = reader
		}
	}

	// monitor.New needs a Source, but Source is the engine that does not
	// exist yet: indirect through a shim bound after New returns.
	src := &engineSource{}
	monitorSrv := monitor.New(src)

	e, err := engine.New(engine.Options{
		Bus:                       b,
		Store:                     store,
		Devices:                   devices,
		ADC:                       adc,
		PowerConfig:               powerConfigFromStore(store),
		BatteryFullVoltage:        store.GetFloat("BATT_V_FULL", 4.2),
		BatteryEmptyVoltage:       store.GetFloat("BATT_V_EMPTY", 3.3),
		VibrationWarningThreshold: cfg.VibrationWarningThreshold,
		HostSimulation:            cfg.HostSimulation,
		MonitorServer:             monitorSrv,
	})
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}
	src.e = e

	go serveMonitor(cfg.HTTPListenAddr, monitorSrv)
	if *panelAddr != 0 {
		go runPanel(e, *panelAddr)
	}

	sigDone := make(chan struct{})
	go waitForTermination(sigDone)

	go e.Run()
	<-sigDone
	log.Println("sensorvote: shutting down")
	e.Stop()
	return 0
}

// engineSource defers to an *engine.Engine bound after construction, so
// the monitor server can be built before the engine that satisfies
// monitor.Source exists.
type engineSource struct{ e *engine.Engine }

func (s *engineSource) Status() monitor.StatusReport {
	if s.e == nil {
		return monitor.StatusReport{}
	}
	return s.e.Status()
}

// deviceLookup only wires a live driver for the barometer: gyro/accel/
// mag raw samples originate from external upstream producers over the
// bus (spec.md §1), never from a local handle this process owns.
func deviceLookup(baro *hwbaro.Baro) calibration.DeviceLookup {
	return func(class sensordata.Class, slot int) (calibration.Device, bool) {
		if class == sensordata.ClassBaro && slot == 0 && baro != nil {
			return baro, true
		}
		return nil, false
	}
}

// powerConfigFromStore reads the battery/ADC scaling parameters spec.md
// §6 lists as contractual parameter names. They are read once at
// startup, matching internal/power.Monitor's own contract of a fixed
// Config for the process lifetime; only calibration/board-rotation
// parameters are re-applied on parameter_update (spec.md §4.3).
func powerConfigFromStore(store paramstore.Store) power.Config {
	return power.Config{
		VoltageScaling:  store.GetFloat("voltage_scaling", 1),
		VoltageDivider:  store.GetFloat("v_div", 1),
		CurrentScaling:  store.GetFloat("current_scaling", 1),
		CurrentOffset:   store.GetFloat("current_offset", 0),
		AmpsPerVolt:     store.GetFloat("a_per_v", 1),
		BatterySource:   firstNonEmpty(mustGet(store, "battery_source"), "0"),
		AirspeedChannel: mustGet(store, "airspeed_channel"),
		AirspeedScale:   store.GetFloat("diff_pres_analog_scale", 0),
		AirspeedOffset:  store.GetFloat("diff_pres_offset_pa", 0),
	}
}

func mustGet(store paramstore.Store, key string) string {
	v, _ := store.Get(key)
	return v
}

func firstNonEmpty(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func serveMonitor(addr string, srv *monitor.Server) {
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Printf("sensorvote: monitor server exited: %v", err)
	}
}

// runPanel pushes the live status panel to a real SSD1306 OLED once per
// second; the panel is a convenience surface, not the primary status
// channel (that is the monitor websocket), so a failed open just skips
// it rather than aborting startup.
func runPanel(e *engine.Engine, addr uint) {
	dev, err := hwbaro.OpenSSD1306("", uint16(addr))
	if err != nil {
		log.Printf("sensorvote: failed to open status panel, running without it: %v", err)
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		snap, ok := e.Snapshot()
		if !ok {
			continue
		}
		status := e.Status()
		classes := make([]panel.ClassStatus, 0, len(status.Classes))
		for _, c := range status.Classes {
			classes = append(classes, panel.ClassStatus{
				Class:         classFromString(c.Class),
				SubCount:      c.SubCount,
				Best:          c.Best,
				FailoverCount: c.FailoverCount,
			})
		}
		if err := panel.Push(dev, snap, classes); err != nil {
			log.Printf("sensorvote: panel push failed: %v", err)
		}
	}
}

func classFromString(s string) sensordata.Class {
	switch s {
	case sensordata.ClassGyro.String():
		return sensordata.ClassGyro
	case sensordata.ClassAccel.String():
		return sensordata.ClassAccel
	case sensordata.ClassMag.String():
		return sensordata.ClassMag
	default:
		return sensordata.ClassBaro
	}
}

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func waitForTermination(done chan<- struct{}) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	<-sig
	close(done)
}

// runStop reads the pidfile start wrote and sends SIGTERM to it.
func runStop(args []string) int {
	stopCmd := flag.NewFlagSet("stop", flag.ExitOnError)
	pidFile := stopCmd.String("pidfile", "/var/run/sensorvote.pid", "path to the running process's pidfile")
	stopCmd.Parse(args)

	data, err := os.ReadFile(*pidFile)
	if err != nil {
		fmt.Printf("sensorvote: not running (%v)\n", err)
		return 1
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		fmt.Printf("sensorvote: invalid pidfile %s: %v\n", *pidFile, err)
		return 1
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Printf("sensorvote: %v\n", err)
		return 1
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		fmt.Printf("sensorvote: failed to signal pid %d: %v\n", pid, err)
		return 1
	}
	fmt.Printf("sensorvote: sent SIGTERM to pid %d\n", pid)
	return 0
}

// runStatus connects to the monitor websocket, reads one pushed status
// report, and prints it: matching spec.md §6's "status" surface,
// per-class voter state (subscription count, elected instance,
// failover count).
func runStatus(args []string) int {
	statusCmd := flag.NewFlagSet("status", flag.ExitOnError)
	addr := statusCmd.String("addr", "ws://localhost:8088/ws", "monitor websocket address")
	statusCmd.Parse(args)

	conn, _, err := websocket.DefaultDialer.Dial(*addr, nil)
	if err != nil {
		fmt.Printf("sensorvote: not running (%v)\n", err)
		return 1
	}
	defer conn.Close()

	var report monitor.StatusReport
	if err := conn.ReadJSON(&report); err != nil {
		fmt.Printf("sensorvote: failed to read status: %v\n", err)
		return 1
	}

	fmt.Printf("snapshot t=%d\n", report.Snapshot.TimestampUS)
	for _, c := range report.Classes {
		fmt.Printf("  %-6s subs=%d best=%d failovers=%d\n", c.Class, c.SubCount, c.Best, c.FailoverCount)
	}
	return 0
}
