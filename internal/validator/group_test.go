package validator

import (
	"testing"

	"github.com/relabsflight/sensorvote/internal/sensordata"
)

func TestGroupNoDataReturnsNoBest(t *testing.T) {
	g := NewGroup(DefaultTimeoutUS)
	if best := g.Best(1000); best != -1 {
		t.Fatalf("expected -1 with no data, got %d", best)
	}
	if g.FailoverCount() != 0 {
		t.Fatalf("expected 0 failovers, got %d", g.FailoverCount())
	}
}

func TestGroupElectsHigherConfidenceAndPriority(t *testing.T) {
	g := NewGroup(DefaultTimeoutUS)
	vec := sensordata.Vector3{X: 1, Y: 0, Z: 0}

	// Instance 0: stale (same timestamp across many ticks), low prio.
	for i := 0; i < 10; i++ {
		g.Validator(0).Put(int64(i*1000), 1000, vec, 0, 10)
	}
	// Instance 1: fresh, higher priority, strictly dominates.
	g.Validator(1).Put(9000, 9000, vec, 0, 100)

	best := g.Best(10000)
	if best != 1 {
		t.Fatalf("expected instance 1 to win, got %d", best)
	}
}

func TestFailoverOnTimeout(t *testing.T) {
	g := NewGroup(DefaultTimeoutUS)
	vec := sensordata.Vector3{}

	g.Validator(0).Put(0, 1000, vec, 0, 50)
	g.Validator(1).Put(0, 1000, vec, 0, 50)

	if best := g.Best(0); best < 0 {
		t.Fatalf("expected an initial winner, got %d", best)
	}
	initial := g.lastBest

	// Instance initial stops updating; the other keeps updating past
	// the timeout.
	other := 1 - initial
	now := int64(DefaultTimeoutUS + 100000)
	g.Validator(other).Put(now, now, vec, 0, 50)

	best := g.Best(now)
	if best != other {
		t.Fatalf("expected failover to instance %d, got %d", other, best)
	}
	if g.FailoverCount() != 1 {
		t.Fatalf("expected failover count 1, got %d", g.FailoverCount())
	}
	if g.FailoverState()&FlagTimeout == 0 {
		t.Fatalf("expected TIMEOUT flag set, got %b", g.FailoverState())
	}
}

func TestConfidenceDecaysWithErrorRate(t *testing.T) {
	v := New(DefaultTimeoutUS)
	vec := sensordata.Vector3{}

	v.Put(0, 0, vec, 0, 10)
	cleanConf := v.Confidence(1000)

	v2 := New(DefaultTimeoutUS)
	v2.Put(0, 0, vec, 0, 10)
	v2.Put(1000, 1000, vec, 50, 10) // large error jump
	noisyConf := v2.Confidence(2000)

	if noisyConf >= cleanConf {
		t.Fatalf("expected noisy confidence (%v) < clean confidence (%v)", noisyConf, cleanConf)
	}
}
