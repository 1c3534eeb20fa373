package sensor

import "time"

// Sample is one temperature/humidity measurement.
type Sample struct {
	Temperature float64 // degrees Celsius
	Humidity    float64 // percent relative humidity
	Timestamp   time.Time
}

// Sensor is implemented by every temperature/humidity sensor.
type Sensor interface {
	Read() (Sample, error)
	Name() string
	Close() error
}
