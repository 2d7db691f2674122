// Package adcserial reads a line-oriented ADC channel-bundle protocol
// off a serial port: one line per sample cycle, comma-separated
// "name=count" fields, e.g. "battery_voltage=2048,battery_current=512".
package adcserial

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jacobsa/go-serial/serial"

	"github.com/relabsflight/sensorvote/internal/power"
)

// Options configures the serial connection.
type Options struct {
	PortName        string
	BaudRate        uint
	DataBits        uint
	StopBits        uint
	MinReadSize     uint
	ParityMode      serial.ParityMode
	ReadTimeout     time.Duration
}

// DefaultOptions returns typical 8N1 serial settings for a bundled ADC
// payload.
func DefaultOptions(portName string, baudRate uint) Options {
	return Options{
		PortName:    portName,
		BaudRate:    baudRate,
		DataBits:    8,
		StopBits:    1,
		MinReadSize: 1,
		ParityMode:  serial.PARITY_NONE,
		ReadTimeout: 500 * time.Millisecond,
	}
}

// Reader reads successive ADC channel bundles from a serial port.
type Reader struct {
	rc     io.ReadWriteCloser
	reader *bufio.Reader
}

// Open opens the serial port per opts.
func Open(opts Options) (*Reader, error) {
	rc, err := serial.Open(serial.OpenOptions{
		PortName:        opts.PortName,
		BaudRate:        opts.BaudRate,
		DataBits:        opts.DataBits,
		StopBits:        opts.StopBits,
		MinimumReadSize: opts.MinReadSize,
		ParityMode:      opts.ParityMode,
	})
	if err != nil {
		return nil, fmt.Errorf("adcserial: open %s: %w", opts.PortName, err)
	}
	return &Reader{rc: rc, reader: bufio.NewReader(rc)}, nil
}

// Close releases the serial port.
func (r *Reader) Close() error { return r.rc.Close() }

// ReadBundle blocks for one line and parses it into a
// power.RawChannels map. Malformed fields are skipped rather than
// failing the whole read, matching spec.md §7's no-fatal-errors policy
// for transient sample anomalies.
func (r *Reader) ReadBundle() (power.RawChannels, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil && line == "" {
		return nil, fmt.Errorf("adcserial: read: %w", err)
	}

	bundle := parseLine(line)
	return bundle, nil
}

func parseLine(line string) power.RawChannels {
	bundle := power.RawChannels{}
	line = strings.TrimSpace(line)
	if line == "" {
		return bundle
	}
	for _, field := range strings.Split(line, ",") {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		name := strings.TrimSpace(kv[0])
		raw, err := strconv.ParseUint(strings.TrimSpace(kv[1]), 10, 16)
		if err != nil {
			continue
		}
		bundle[name] = uint16(raw)
	}
	return bundle
}
