package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesOverridesOnDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sensorvote.conf")
	contents := "MQTT_BROKER=tcp://10.0.0.5:1883\nADC_BAUD_RATE=57600\n# a comment\n\nHOST_SIMULATION=true\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MQTTBroker != "tcp://10.0.0.5:1883" {
		t.Fatalf("unexpected broker: %s", cfg.MQTTBroker)
	}
	if cfg.ADCBaudRate != 57600 {
		t.Fatalf("unexpected baud rate: %d", cfg.ADCBaudRate)
	}
	if !cfg.HostSimulation {
		t.Fatalf("expected host simulation enabled")
	}
	// Untouched defaults survive.
	if cfg.HTTPListenAddr != ":8088" {
		t.Fatalf("unexpected default http addr: %s", cfg.HTTPListenAddr)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	if err != nil {
		t.Fatalf("expected missing file to be tolerated, got %v", err)
	}
	if cfg.MQTTBroker != defaults().MQTTBroker {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.conf")
	if err := os.WriteFile(path, []byte("NOT_A_KEY=1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for an unknown key")
	}
}
