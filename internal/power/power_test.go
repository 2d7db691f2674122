package power

import (
	"testing"

	"github.com/relabsflight/sensorvote/internal/bus"
	"github.com/relabsflight/sensorvote/internal/combined"
)

func baseConfig() Config {
	return Config{
		VoltageScaling: 0.001,
		VoltageDivider: 10,
		CurrentScaling: 0.01,
		CurrentOffset:  0,
		AmpsPerVolt:    1,
		BatterySource:  "0",
	}
}

func TestPollRateLimitedTo100Hz(t *testing.T) {
	b := bus.NewMemBus()
	est := NewBatteryEstimator(16.8, 12.0)
	m, err := New(baseConfig(), b, nil, est)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	m.Poll(0, true, RawChannels{"battery_voltage": 20000})
	if _, ok := b.LastPublished("battery_status"); !ok {
		t.Fatalf("expected first poll to publish")
	}

	// Second read arrives well inside the 10ms window: must be ignored.
	m.Poll(5000, true, RawChannels{"battery_voltage": 1})
	got, _ := b.LastPublished("battery_status")
	status := got.(combined.BatteryStatus)
	if status.VoltageV != 20000*0.001*10 {
		t.Fatalf("rate limit was not enforced, got %+v", status)
	}

	// Third read past the 10ms window is processed.
	m.Poll(11000, true, RawChannels{"battery_voltage": 5000})
	got, _ = b.LastPublished("battery_status")
	status = got.(combined.BatteryStatus)
	if status.VoltageV != 5000*0.001*10 {
		t.Fatalf("expected updated reading past rate-limit window, got %+v", status)
	}
}

func TestNoPublishWhenNotSelectedSource(t *testing.T) {
	b := bus.NewMemBus()
	cfg := baseConfig()
	cfg.BatterySource = "1" // not "0"
	est := NewBatteryEstimator(16.8, 12.0)
	m, _ := New(cfg, b, nil, est)

	m.Poll(0, true, RawChannels{"battery_voltage": 20000})
	if _, ok := b.LastPublished("battery_status"); ok {
		t.Fatalf("expected no publish when this monitor is not the selected source")
	}
}

func TestNoPublishBelowMinimumVoltage(t *testing.T) {
	b := bus.NewMemBus()
	est := NewBatteryEstimator(16.8, 12.0)
	m, _ := New(baseConfig(), b, nil, est)

	// raw*scale*divider = 10*0.001*10 = 0.1V, below the 0.5V threshold.
	m.Poll(0, true, RawChannels{"battery_voltage": 10})
	if _, ok := b.LastPublished("battery_status"); ok {
		t.Fatalf("expected no publish below the 0.5V minimum")
	}
}
