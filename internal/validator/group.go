package validator

const MaxInstances = 3

// Group owns up to MaxInstances validators for one sensor class and
// elects a "best" instance per tick, per spec.md §3/§4.2.
type Group struct {
	validators [MaxInstances]*Validator

	hasElected    bool
	lastBest      int
	failoverCount int
	failoverIndex int
	failoverState FailoverFlag
}

// NewGroup creates a group where every slot uses timeoutUS as its
// validator timeout (magnetometers pass validator.MagTimeoutUS; all
// other classes pass validator.DefaultTimeoutUS per spec.md §3).
func NewGroup(timeoutUS int64) *Group {
	g := &Group{lastBest: -1}
	for i := range g.validators {
		g.validators[i] = New(timeoutUS)
	}
	return g
}

// Validator returns the validator for slot i (0..MaxInstances-1).
func (g *Group) Validator(i int) *Validator { return g.validators[i] }

// Best elects the viable instance with the highest priority-weighted
// confidence, ties broken by the lower instance index, and updates the
// group's failover bookkeeping. Returns -1 if no instance has ever
// received data.
func (g *Group) Best(nowUS int64) int {
	best := -1
	var bestScore float64
	for i, v := range g.validators {
		if !v.EverReceived() {
			continue
		}
		score := v.Confidence(nowUS) * float64(uint16(v.Priority())+1)
		if best == -1 || score > bestScore {
			best = i
			bestScore = score
		}
	}

	if best == -1 {
		return -1
	}

	if g.hasElected && best != g.lastBest {
		loser := g.validators[g.lastBest]
		g.failoverCount++
		g.failoverIndex = best
		g.failoverState = loser.Flags(nowUS)
	}

	g.lastBest = best
	g.hasElected = true
	return best
}

// FailoverCount is the monotone-non-decreasing count of elections that
// switched the winning instance.
func (g *Group) FailoverCount() int { return g.failoverCount }

// FailoverIndex is the instance that won the most recent failover.
func (g *Group) FailoverIndex() int { return g.failoverIndex }

// FailoverState is the losing validator's flags at the moment of the
// most recent failover. Zero means the switch was "soft" (e.g. a
// higher-priority instance came online with no fault on the loser).
func (g *Group) FailoverState() FailoverFlag { return g.failoverState }

// VibrationFactor returns the vibration factor of the currently
// elected best instance (the signal actually feeding the snapshot), or
// 0 if no instance is elected.
func (g *Group) VibrationFactor(nowUS int64) float64 {
	if !g.hasElected || g.lastBest < 0 {
		return 0
	}
	return g.validators[g.lastBest].VibrationFactor()
}
