// Package failover emits one log line whenever a sensor class's
// failover count has advanced since the last check, at informational or
// emergency level depending on whether the switch was clean or
// fault-driven.
package failover

import (
	"fmt"
	"strings"

	"github.com/relabsflight/sensorvote/internal/sensordata"
	"github.com/relabsflight/sensorvote/internal/validator"
)

// Logger is the leveled logging surface the reporter needs.
type Logger interface {
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

// Reporter tracks the last-seen failover count for one sensor class and
// emits one message per Check that observes a changed count. If the
// count advanced by more than one between two checks, a single message
// covers all of those failovers.
type Reporter struct {
	class             sensordata.Class
	log               Logger
	lastFailoverCount int
}

// New creates a Reporter for one class.
func New(class sensordata.Class, log Logger) *Reporter {
	return &Reporter{class: class, log: log}
}

// Check compares the group's current failover_count against the last
// seen value, emits a message if it advanced, and reports whether a
// switch occurred.
func (r *Reporter) Check(g *validator.Group) bool {
	count := g.FailoverCount()
	if count == r.lastFailoverCount {
		return false
	}
	r.lastFailoverCount = count

	state := g.FailoverState()
	idx := g.FailoverIndex()

	if state == 0 {
		r.log.Infof("%s sensor switch from #%d", r.class, idx)
		return true
	}

	r.log.Errorf("%s sensor switch from #%d: %s", r.class, idx, decodeFlags(state))
	return true
}

func decodeFlags(state validator.FailoverFlag) string {
	var names []string
	if state&validator.FlagNoData != 0 {
		names = append(names, "no data")
	}
	if state&validator.FlagStale != 0 {
		names = append(names, "stale")
	}
	if state&validator.FlagTimeout != 0 {
		names = append(names, "timeout")
	}
	if state&validator.FlagHighErrCount != 0 {
		names = append(names, "high error count")
	}
	if state&validator.FlagHighErrDensity != 0 {
		names = append(names, "high error density")
	}
	if len(names) == 0 {
		return fmt.Sprintf("unknown flags 0x%02x", uint8(state))
	}
	return strings.Join(names, ", ")
}
