package lorasense

import (
	"context"
	"testing"
	"time"

	"github.com/jd3nn1s/lorasense/gps"
	"github.com/jd3nn1s/lorasense/radio"
	"github.com/jd3nn1s/lorasense/sensor"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when the transmitter sleeps.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
	// onSleep is called after every sleep, returning an error stops the run
	onSleep func(d time.Duration) error
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	if c.onSleep != nil {
		if err := c.onSleep(d); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (c *fakeClock) time() time.Time {
	return c.now
}

func newTestTransmitter(cfg TransmitterConfig, r radio.Radio, s sensor.Sensor) (*Transmitter, *fakeClock) {
	tx := NewTransmitter(cfg, r, s)
	clock := &fakeClock{now: time.Date(2024, 6, 13, 0, 0, 0, 0, time.UTC)}
	tx.sleep = clock.sleep
	tx.now = clock.time
	return tx, clock
}

func rampSensor() *sensorStub {
	s := &sensorStub{}
	for i := 0; i < SamplesPerCycle; i++ {
		s.samples = append(s.samples, sensor.Sample{
			Temperature: float64(20 + i),
			Humidity:    float64(40 + 2*i),
		})
	}
	return s
}

// stopAfterCycles stops the run once n cycle delays have elapsed.
func stopAfterCycles(cfg TransmitterConfig, n int) func(time.Duration) error {
	cycles := 0
	return func(d time.Duration) error {
		if d == cfg.CycleDelay {
			cycles++
			if cycles == n {
				return context.Canceled
			}
		}
		return nil
	}
}

func TestTransmitterHaltsOnRadioFailure(t *testing.T) {
	r := radio.NewLoopback(1)
	r.FailConfigure = true
	s := rampSensor()
	tx, _ := newTestTransmitter(DefaultTransmitterConfig(), r, s)

	err := tx.Run(context.Background())
	assert.Equal(t, ErrRadioInit, errors.Cause(err))
	assert.Empty(t, r.Sent(), "nothing may be sent after a failed radio start")
	assert.Equal(t, 0, s.readCount())
}

func TestTransmitterCycle(t *testing.T) {
	cfg := DefaultTransmitterConfig()
	r := radio.NewLoopback(4)
	tx, clock := newTestTransmitter(cfg, r, rampSensor())
	clock.onSleep = stopAfterCycles(cfg, 1)

	err := tx.Run(context.Background())
	assert.Equal(t, context.Canceled, err)

	sent := r.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, FormatMessage(DefaultTag, Reading{
		Temperature: 24.5,
		Humidity:    49,
	}), string(sent[0]))
	assert.Equal(t, 1, tx.Counter())

	expected := []time.Duration{}
	for i := 0; i < 2*SamplesPerCycle; i++ {
		expected = append(expected, cfg.SampleDelay)
	}
	expected = append(expected, cfg.SettleDelay, cfg.SettleDelay, cfg.CycleDelay)
	assert.Equal(t, expected, clock.sleeps)
}

func TestTransmitterSensorFailure(t *testing.T) {
	cfg := DefaultTransmitterConfig()
	r := radio.NewLoopback(4)
	s := &sensorStub{
		samples: []sensor.Sample{{Temperature: 10, Humidity: 20}},
		errs:    []error{nil, errors.New("i2c nack")},
	}
	tx, clock := newTestTransmitter(cfg, r, s)
	clock.onSleep = stopAfterCycles(cfg, 1)

	assert.Equal(t, context.Canceled, tx.Run(context.Background()))
	sent := r.Sent()
	require.Len(t, sent, 1)
	_, reading, err := ParseMessage(string(sent[0]))
	require.NoError(t, err)
	assert.Equal(t, 5.0, reading.Temperature, "failed reads count as zero")
	assert.Equal(t, 10.0, reading.Humidity)
}

type failingSendRadio struct {
	*radio.Loopback
	sends int
}

func (f *failingSendRadio) Send(ctx context.Context, payload []byte) error {
	f.sends++
	return errors.New("tx timeout")
}

func TestTransmitterSendFailureContinues(t *testing.T) {
	cfg := DefaultTransmitterConfig()
	r := &failingSendRadio{Loopback: radio.NewLoopback(1)}
	tx, clock := newTestTransmitter(cfg, r, rampSensor())
	clock.onSleep = stopAfterCycles(cfg, 2)

	assert.Equal(t, context.Canceled, tx.Run(context.Background()))
	assert.Equal(t, 2, r.sends)
	assert.Equal(t, 2, tx.Counter())
}

func TestTransmitterRestart(t *testing.T) {
	cfg := DefaultTransmitterConfig()
	cfg.RestartAfter = 20 * time.Second
	r := radio.NewLoopback(8)
	tx, _ := newTestTransmitter(cfg, r, rampSensor())
	restarts := 0
	tx.Restart = func() error {
		restarts++
		return nil
	}

	err := tx.Run(context.Background())
	assert.Equal(t, ErrRestart, err)
	assert.Equal(t, 1, restarts)
	// each cycle takes 7.2s, the third one crosses 20s
	assert.Len(t, r.Sent(), 3)
}

func TestTransmitterDefaultRestartThreshold(t *testing.T) {
	cfg := DefaultTransmitterConfig()
	r := radio.NewLoopback(128)
	tx, _ := newTestTransmitter(cfg, r, rampSensor())

	assert.Equal(t, ErrRestart, tx.Run(context.Background()))
	// ten minutes at 7.2s per cycle
	assert.Len(t, r.Sent(), 84)
}

func TestTransmitterRestartError(t *testing.T) {
	cfg := DefaultTransmitterConfig()
	cfg.RestartAfter = time.Second
	tx, _ := newTestTransmitter(cfg, radio.NewLoopback(2), rampSensor())
	tx.Restart = func() error {
		return errors.New("exec failed")
	}
	err := tx.Run(context.Background())
	assert.Error(t, err)
	assert.NotEqual(t, ErrRestart, err)
}

func TestTransmitterUsesGPSFix(t *testing.T) {
	cfg := DefaultTransmitterConfig()
	r := radio.NewLoopback(4)
	tx, clock := newTestTransmitter(cfg, r, rampSensor())
	clock.onSleep = stopAfterCycles(cfg, 1)

	stub := createGPSStub()
	tx.setGPSConnect(func() (GPS, error) {
		return stub, nil
	})
	tx.gps.fixFn(gps.Fix{Latitude: 4.6097, Longitude: -74.0817, Valid: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.Equal(t, context.Canceled, tx.Run(ctx))
	sent := r.Sent()
	require.Len(t, sent, 1)
	_, reading, err := ParseMessage(string(sent[0]))
	require.NoError(t, err)
	assert.Equal(t, 4.6097, reading.Latitude)
	assert.Equal(t, -74.0817, reading.Longitude)
}

func TestTransmitterReleasesGPSBeforeRestart(t *testing.T) {
	cfg := DefaultTransmitterConfig()
	cfg.RestartAfter = time.Second
	tx, clock := newTestTransmitter(cfg, radio.NewLoopback(2), rampSensor())

	stub := createGPSStub()
	tx.setGPSConnect(func() (GPS, error) {
		return stub, nil
	})
	started := false
	clock.onSleep = func(time.Duration) error {
		if !started {
			<-stub.startChan
			started = true
		}
		return nil
	}
	var runningAtRestart, closesAtRestart int
	tx.Restart = func() error {
		runningAtRestart, closesAtRestart = stub.state()
		return nil
	}

	// ctx stays live, only the restart may stop the GPS
	assert.Equal(t, ErrRestart, tx.Run(context.Background()))
	assert.Equal(t, 0, runningAtRestart, "gps still running when restarting")
	assert.Equal(t, 1, closesAtRestart, "gps port not closed before restarting")
}
