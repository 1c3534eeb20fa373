package lorasense

import (
	"github.com/jd3nn1s/lorasense/radio"
	"github.com/jd3nn1s/lorasense/radio/rylr896"
	"github.com/jd3nn1s/lorasense/radio/sx127x"
	"github.com/jd3nn1s/lorasense/sensor"
	"github.com/jd3nn1s/lorasense/sensor/dht22"
	"github.com/jd3nn1s/lorasense/sensor/hdc1080"
	"github.com/pkg/errors"
)

// to allow testing
var radioOpen = func(c RadioConfig) (radio.Radio, error) {
	switch c.Driver {
	case "", "sx127x":
		opts := sx127x.DefaultOpts
		opts.SPIPort = c.SPIPort
		opts.ResetPin = c.ResetPin
		opts.DIO0Pin = c.DIO0Pin
		return sx127x.Open(opts)
	case "rylr896":
		opts := rylr896.DefaultOpts
		opts.Port = c.SerialPort
		if c.BaudRate != 0 {
			opts.BaudRate = c.BaudRate
		}
		opts.Address = c.Address
		opts.Destination = c.Destination
		opts.NetworkID = c.NetworkID
		return rylr896.Open(opts)
	case "loopback":
		return radio.NewLoopback(16), nil
	}
	return nil, errors.Errorf("unknown radio driver %q", c.Driver)
}

// to allow testing
var sensorOpen = func(c SensorConfig) (sensor.Sensor, error) {
	switch c.Driver {
	case "", "hdc1080":
		return hdc1080.Open(c.I2CBus, c.Address)
	case "dht22":
		return dht22.Open(c.Pin)
	}
	return nil, errors.Errorf("unknown sensor driver %q", c.Driver)
}

// OpenRadio opens the radio selected by the configuration. The radio is not
// configured until the transmitter or receiver runs.
func OpenRadio(c RadioConfig) (radio.Radio, error) {
	r, err := radioOpen(c)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s radio", c.Driver)
	}
	return r, nil
}

func OpenSensor(c SensorConfig) (sensor.Sensor, error) {
	s, err := sensorOpen(c)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s sensor", c.Driver)
	}
	return s, nil
}
