package adcserial

import "testing"

func TestParseLineExtractsNamedChannels(t *testing.T) {
	bundle := parseLine("battery_voltage=2048,battery_current=512,airspeed=300\n")
	if bundle["battery_voltage"] != 2048 {
		t.Fatalf("unexpected battery_voltage: %v", bundle["battery_voltage"])
	}
	if bundle["battery_current"] != 512 {
		t.Fatalf("unexpected battery_current: %v", bundle["battery_current"])
	}
	if bundle["airspeed"] != 300 {
		t.Fatalf("unexpected airspeed: %v", bundle["airspeed"])
	}
}

func TestParseLineSkipsMalformedFields(t *testing.T) {
	bundle := parseLine("battery_voltage=2048,garbage,current=notanumber\n")
	if len(bundle) != 1 {
		t.Fatalf("expected only the well-formed field to survive, got %+v", bundle)
	}
	if bundle["battery_voltage"] != 2048 {
		t.Fatalf("unexpected battery_voltage: %v", bundle["battery_voltage"])
	}
}

func TestParseLineEmpty(t *testing.T) {
	bundle := parseLine("   \n")
	if len(bundle) != 0 {
		t.Fatalf("expected empty bundle for blank line, got %+v", bundle)
	}
}
