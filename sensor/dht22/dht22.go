// Package dht22 adapts a DHT22/AM2302 on a GPIO pin to sensor.Sensor.
package dht22

import (
	"time"

	"github.com/MichaelS11/go-dht"
	"github.com/jd3nn1s/lorasense/sensor"
	"github.com/pkg/errors"
)

const maxRetries = 11

type reader interface {
	ReadRetry(maxRetries int) (humidity float64, temperature float64, err error)
}

type DHT22 struct {
	Pin string
	dht reader
}

// to allow testing
var newDHT = func(pin string) (reader, error) {
	if err := dht.HostInit(); err != nil {
		return nil, errors.Wrap(err, "unable to initialise host")
	}
	return dht.NewDHT(pin, dht.Celsius, "dht22")
}

func Open(pin string) (*DHT22, error) {
	r, err := newDHT(pin)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open dht22 on %s", pin)
	}
	return &DHT22{Pin: pin, dht: r}, nil
}

func (d *DHT22) Name() string {
	return "dht22"
}

func (d *DHT22) Read() (sensor.Sample, error) {
	humidity, temperature, err := d.dht.ReadRetry(maxRetries)
	if err != nil {
		return sensor.Sample{}, errors.Wrap(err, "dht22 read failed")
	}
	return sensor.Sample{
		Temperature: temperature,
		Humidity:    humidity,
		Timestamp:   time.Now(),
	}, nil
}

func (d *DHT22) Close() error {
	return nil
}
