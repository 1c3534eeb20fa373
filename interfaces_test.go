package lorasense

import (
	"context"
	"sync"

	"github.com/jd3nn1s/lorasense/gps"
	"github.com/jd3nn1s/lorasense/sensor"
)

type gpsStub struct {
	startChan chan struct{}
	errChan   chan error
	fnChan    chan func()
	callbacks gps.Callbacks

	mu      sync.Mutex
	closes  int
	running int
}

func createGPSStub() *gpsStub {
	return &gpsStub{
		startChan: make(chan struct{}),
		errChan:   make(chan error),
		fnChan:    make(chan func()),
	}
}

func (s *gpsStub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *gpsStub) state() (running, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, s.closes
}

func (s *gpsStub) Start(ctx context.Context, callbacks gps.Callbacks) error {
	s.mu.Lock()
	s.running++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running--
		s.mu.Unlock()
	}()

	s.callbacks = callbacks
	select {
	case s.startChan <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-s.errChan:
			return err
		case fn := <-s.fnChan:
			fn()
		}
	}
}

// sensorStub replays samples and errors in order, wrapping around.
type sensorStub struct {
	mu      sync.Mutex
	samples []sensor.Sample
	errs    []error
	reads   int
}

func (s *sensorStub) Read() (sensor.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.reads
	s.reads++
	var err error
	if len(s.errs) > 0 {
		err = s.errs[i%len(s.errs)]
	}
	if err != nil {
		return sensor.Sample{Temperature: -999, Humidity: -999}, err
	}
	return s.samples[i%len(s.samples)], nil
}

func (s *sensorStub) Name() string {
	return "sensor-stub"
}

func (s *sensorStub) Close() error {
	return nil
}

func (s *sensorStub) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

type forwarderStub struct {
	obsChan chan Observation
	err     error
}

func (fwd *forwarderStub) Forward(obs *Observation) error {
	fwd.obsChan <- *obs
	return fwd.err
}

type displayStub struct {
	mu       sync.Mutex
	payloads []string
	rssi     int
	snr      float64
}

func (d *displayStub) ShowPacket(payload string, rssi int, snr float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payloads = append(d.payloads, payload)
	d.rssi = rssi
	d.snr = snr
	return nil
}

func (d *displayStub) shown() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.payloads...)
}
