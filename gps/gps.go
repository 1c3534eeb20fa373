// Package gps reads NMEA 0183 position reports from a UART GPS receiver.
package gps

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

const DefaultBaudRate = 9600

// Fix is the receiver's latest position solution, merged from RMC and GGA.
type Fix struct {
	Latitude   float64
	Longitude  float64
	Altitude   float64
	Satellites int
	HDOP       float64
	// Valid is false until the receiver reports a satellite lock.
	Valid bool
	Time  time.Time
}

type Callbacks struct {
	Fix func(Fix)
}

type Conn struct {
	port io.ReadCloser

	closeOnce sync.Once
	closeErr  error
}

// to allow testing
var serialOpen = func(name string, baudRate int) (io.ReadCloser, error) {
	return serial.Open(name, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

// Connect opens the GPS UART at baudRate 8N1.
func Connect(portName string, baudRate int) (*Conn, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	port, err := serialOpen(portName, baudRate)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open gps port %s", portName)
	}
	return NewConn(port), nil
}

func NewConn(port io.ReadCloser) *Conn {
	return &Conn{port: port}
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.port.Close()
	})
	return c.closeErr
}

// Start reads sentences until ctx is done or the port fails. cb.Fix is called
// after every RMC or GGA sentence with the merged state.
func (c *Conn) Start(ctx context.Context, cb Callbacks) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// unblock the pending read
			_ = c.Close()
		case <-stop:
		}
	}()

	var fix Fix
	scanner := bufio.NewScanner(c.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		if !update(&fix, line) {
			continue
		}
		if cb.Fix != nil {
			cb.Fix(fix)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "gps read failed")
	}
	return errors.New("gps port closed")
}

// update merges one sentence into fix and reports whether it changed.
func update(fix *Fix, line string) bool {
	s, err := nmea.Parse(line)
	if err != nil {
		log.WithField("err", err).Debug("gps: ignoring sentence")
		return false
	}

	switch m := s.(type) {
	case nmea.RMC:
		fix.Valid = m.Validity == nmea.ValidRMC
		fix.Latitude = m.Latitude
		fix.Longitude = m.Longitude
		if m.Date.Valid && m.Time.Valid {
			fix.Time = time.Date(2000+m.Date.YY, time.Month(m.Date.MM), m.Date.DD,
				m.Time.Hour, m.Time.Minute, m.Time.Second, m.Time.Millisecond*int(time.Millisecond),
				time.UTC)
		}
		return true
	case nmea.GGA:
		fix.Valid = m.FixQuality != nmea.Invalid
		fix.Latitude = m.Latitude
		fix.Longitude = m.Longitude
		fix.Altitude = m.Altitude
		fix.Satellites = int(m.NumSatellites)
		fix.HDOP = m.HDOP
		return true
	}
	return false
}
