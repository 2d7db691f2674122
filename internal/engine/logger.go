package engine

import "log"

// componentLogger adapts a stdlib *log.Logger to the small leveled
// interfaces internal/failover, internal/calibration, and
// internal/vibration each declare locally: a per-component *log.Logger
// with a distinguishing prefix.
type componentLogger struct {
	l *log.Logger
}

func newComponentLogger(prefix string) *componentLogger {
	return &componentLogger{l: log.New(log.Writer(), "sensorvote["+prefix+"]: ", log.LstdFlags)}
}

func (c *componentLogger) Infof(format string, args ...any) {
	c.l.Printf("INFO "+format, args...)
}

func (c *componentLogger) Errorf(format string, args ...any) {
	c.l.Printf("ERROR "+format, args...)
}

func (c *componentLogger) Criticalf(format string, args ...any) {
	c.l.Printf("CRITICAL "+format, args...)
}
