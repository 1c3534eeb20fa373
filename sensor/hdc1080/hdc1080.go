// Package hdc1080 reads the TI HDC1080 temperature and humidity sensor over I2C.
package hdc1080

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/jd3nn1s/lorasense/sensor"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	DefaultAddress = 0x40

	regTemperature    = 0x00
	regHumidity       = 0x01
	regConfiguration  = 0x02
	regManufacturerID = 0xFE
	regDeviceID       = 0xFF

	manufacturerTI = 0x5449

	// 14 bit conversions take 6.5ms, leave headroom
	conversionTime = 15 * time.Millisecond
)

// Conn is the part of i2c.Dev the driver uses.
type Conn interface {
	Tx(w, r []byte) error
}

// to allow testing
var sleep = time.Sleep

type Dev struct {
	mu     sync.Mutex
	c      Conn
	closer io.Closer
}

// Open initialises periph and connects to the sensor on the named I2C bus.
func Open(busName string, addr uint16) (*Dev, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "unable to initialise periph host")
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open I2C bus %q", busName)
	}
	d, err := New(&i2c.Dev{Bus: bus, Addr: addr})
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	d.closer = bus
	return d, nil
}

// New checks the manufacturer ID and selects 14 bit resolution with separate
// temperature and humidity acquisition.
func New(c Conn) (*Dev, error) {
	d := &Dev{c: c}
	id, err := d.readRegister(regManufacturerID, 0)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read manufacturer ID")
	}
	if id != manufacturerTI {
		return nil, errors.Errorf("unexpected manufacturer ID 0x%04x", id)
	}
	if deviceID, err := d.readRegister(regDeviceID, 0); err == nil {
		log.WithField("deviceID", deviceID).Debug("hdc1080 found")
	}
	if err := d.c.Tx([]byte{regConfiguration, 0x00, 0x00}, nil); err != nil {
		return nil, errors.Wrap(err, "unable to write configuration")
	}
	return d, nil
}

func (d *Dev) Name() string {
	return "hdc1080"
}

func (d *Dev) Read() (sensor.Sample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rawT, err := d.readRegister(regTemperature, conversionTime)
	if err != nil {
		return sensor.Sample{}, errors.Wrap(err, "unable to read temperature")
	}
	rawH, err := d.readRegister(regHumidity, conversionTime)
	if err != nil {
		return sensor.Sample{}, errors.Wrap(err, "unable to read humidity")
	}
	return sensor.Sample{
		Temperature: Temperature(rawT),
		Humidity:    Humidity(rawH),
		Timestamp:   time.Now(),
	}, nil
}

func (d *Dev) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

// readRegister sets the register pointer, waits for a conversion if one
// was triggered, and reads the 16 bit big-endian result.
func (d *Dev) readRegister(reg byte, wait time.Duration) (uint16, error) {
	if err := d.c.Tx([]byte{reg}, nil); err != nil {
		return 0, err
	}
	if wait > 0 {
		sleep(wait)
	}
	r := make([]byte, 2)
	if err := d.c.Tx(nil, r); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(r), nil
}

// Temperature converts a raw reading to degrees Celsius.
func Temperature(raw uint16) float64 {
	return float64(raw)/65536*165 - 40
}

// Humidity converts a raw reading to percent relative humidity.
func Humidity(raw uint16) float64 {
	return float64(raw) / 65536 * 100
}

var _ sensor.Sensor = (*Dev)(nil)
