package lorasense

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jd3nn1s/lorasense/gps"
	"github.com/jd3nn1s/lorasense/radio"
	"github.com/jd3nn1s/lorasense/sensor"
)

// simSensor ramps temperature and humidity between fixed bounds.
type simSensor struct {
	mu          sync.Mutex
	temperature float64
	humidity    float64
	down        bool
}

func newSimSensor() *simSensor {
	return &simSensor{
		temperature: 15,
		humidity:    40,
	}
}

func (s *simSensor) Read() (sensor.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sample := sensor.Sample{
		Temperature: s.temperature,
		Humidity:    s.humidity,
		Timestamp:   time.Now(),
	}
	if s.down {
		s.temperature -= 0.25
		s.humidity -= 0.5
	} else {
		s.temperature += 0.25
		s.humidity += 0.5
	}

	if s.temperature >= 35 {
		s.down = true
	} else if s.temperature <= 15 {
		s.down = false
	}
	return sample, nil
}

func (s *simSensor) Name() string {
	return "simulated"
}

func (s *simSensor) Close() error {
	return nil
}

// simGPS walks in a circle around a fixed point.
type simGPS struct {
	latitude  float64
	longitude float64
	radius    float64
	interval  time.Duration
}

func (g *simGPS) Close() error {
	return nil
}

func (g *simGPS) Start(ctx context.Context, cb gps.Callbacks) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	step := 0
	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		angle := float64(step) * math.Pi / 180
		step = (step + 1) % 360
		if cb.Fix != nil {
			cb.Fix(gps.Fix{
				Latitude:   g.latitude + g.radius*math.Sin(angle),
				Longitude:  g.longitude + g.radius*math.Cos(angle),
				Satellites: 8,
				HDOP:       0.9,
				Valid:      true,
				Time:       time.Now().UTC(),
			})
		}
	}
}

// NewTestMode wires a transmitter with a simulated sensor and GPS to a
// receiver over one loopback radio, so the whole path runs without
// hardware.
func NewTestMode(cfg TransmitterConfig) (*Transmitter, *Receiver) {
	r := radio.NewLoopback(16)
	tx := NewTransmitter(cfg, r, newSimSensor())
	tx.setGPSConnect(func() (GPS, error) {
		return &simGPS{
			latitude:  4.6097,
			longitude: -74.0817,
			radius:    0.001,
			interval:  time.Second,
		}, nil
	})
	return tx, NewReceiver(cfg.Radio, r)
}
