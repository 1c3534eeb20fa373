package lorasense

import (
	"context"
	"time"

	"github.com/jd3nn1s/lorasense/gps"
	"github.com/jd3nn1s/lorasense/radio"
	"github.com/jd3nn1s/lorasense/sensor"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrRadioInit means the radio could not be configured. Nothing is sent
	// or received after it.
	ErrRadioInit = errors.New("starting LoRa failed")
	// ErrRestart is returned by Transmitter.Run once the uptime threshold is
	// reached.
	ErrRestart = errors.New("restart requested")
)

type TransmitterConfig struct {
	Tag   string
	Radio radio.Config

	// SampleDelay is waited both before and after storing each sample.
	SampleDelay time.Duration
	// SettleDelay is waited before and after averaging.
	SettleDelay time.Duration
	// CycleDelay is waited after every transmission.
	CycleDelay time.Duration
	// RestartAfter is the uptime after which Run stops with ErrRestart,
	// 0 disables it.
	RestartAfter time.Duration
}

func DefaultTransmitterConfig() TransmitterConfig {
	return TransmitterConfig{
		Tag:          DefaultTag,
		Radio:        radio.DefaultConfig(),
		SampleDelay:  100 * time.Millisecond,
		SettleDelay:  100 * time.Millisecond,
		CycleDelay:   5 * time.Second,
		RestartAfter: 10 * time.Minute,
	}
}

type Transmitter struct {
	cfg    TransmitterConfig
	radio  radio.Radio
	sensor sensor.Sensor
	gps    *gpsRetryable

	buf     SampleBuffer
	counter int

	// Restart is called once the uptime threshold is reached, before Run
	// returns ErrRestart.
	Restart func() error

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewTransmitter(cfg TransmitterConfig, r radio.Radio, s sensor.Sensor) *Transmitter {
	if cfg.Tag == "" {
		cfg.Tag = DefaultTag
	}
	return &Transmitter{
		cfg:    cfg,
		radio:  r,
		sensor: s,
		sleep:  sleepOrDone,
		now:    time.Now,
	}
}

// SetGPS makes the transmitter follow a GPS on the given serial port.
func (tx *Transmitter) SetGPS(port string, baud int) {
	tx.setGPSConnect(func() (GPS, error) {
		return gpsConnect(port, baud)
	})
}

func (tx *Transmitter) setGPSConnect(connect func() (GPS, error)) {
	tx.gps = &gpsRetryable{connect: connect}
}

// Counter is the number of messages handed to the radio so far.
func (tx *Transmitter) Counter() int {
	return tx.counter
}

// Run configures the radio and transmits one averaged reading per cycle until
// ctx is done or the uptime threshold is reached.
func (tx *Transmitter) Run(ctx context.Context) error {
	if err := tx.radio.Configure(tx.cfg.Radio); err != nil {
		log.WithField("err", err).Error("starting LoRa failed")
		return errors.Wrapf(ErrRadioInit, "%v", err)
	}
	log.WithField("radio", tx.cfg.Radio.String()).Info("LoRa sender")

	stopGPS := tx.startGPS(ctx)
	defer stopGPS()

	started := tx.now()
	for {
		if err := tx.cycle(ctx); err != nil {
			return err
		}
		if tx.cfg.RestartAfter > 0 && tx.now().Sub(started) > tx.cfg.RestartAfter {
			log.WithField("uptime", tx.now().Sub(started)).Info("uptime threshold reached, restarting")
			// the GPS port must be released before the process is replaced
			stopGPS()
			if tx.Restart != nil {
				if err := tx.Restart(); err != nil {
					return errors.Wrap(err, "restart failed")
				}
			}
			return ErrRestart
		}
	}
}

// cycle samples, averages, formats and sends one message. Only context
// errors are returned: sensor and radio failures are logged and tolerated.
func (tx *Transmitter) cycle(ctx context.Context) error {
	log.WithField("counter", tx.counter).Info("sending packet")

	for i := 0; i < SamplesPerCycle; i++ {
		s, err := tx.sensor.Read()
		if err != nil {
			log.WithFields(log.Fields{
				"err":    err,
				"sensor": tx.sensor.Name(),
				"sample": i,
			}).Warn("sensor read failed")
			s = sensor.Sample{}
		}
		if err := tx.sleep(ctx, tx.cfg.SampleDelay); err != nil {
			return err
		}
		tx.buf.Set(i, s)
		if err := tx.sleep(ctx, tx.cfg.SampleDelay); err != nil {
			return err
		}
	}

	if err := tx.sleep(ctx, tx.cfg.SettleDelay); err != nil {
		return err
	}
	temperature, humidity := tx.buf.Mean()
	if err := tx.sleep(ctx, tx.cfg.SettleDelay); err != nil {
		return err
	}

	fix := tx.position()
	if !fix.Valid {
		log.Warn("no satellite fix, position reads as zero")
	}
	msg := FormatMessage(tx.cfg.Tag, Reading{
		Latitude:    fix.Latitude,
		Longitude:   fix.Longitude,
		Temperature: temperature,
		Humidity:    humidity,
	})
	log.WithField("message", msg).Info("transmitting")

	if err := tx.radio.Send(ctx, []byte(msg)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithField("err", err).Error("unable to send packet")
	}
	tx.counter++

	return tx.sleep(ctx, tx.cfg.CycleDelay)
}

// startGPS follows the GPS until the returned function is called, which
// blocks until the port is closed.
func (tx *Transmitter) startGPS(ctx context.Context) func() {
	if tx.gps == nil {
		return func() {}
	}
	gpsCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		runGPS(gpsCtx, tx.gps)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (tx *Transmitter) position() gps.Fix {
	if tx.gps == nil {
		return gps.Fix{}
	}
	return tx.gps.Latest()
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	sleepCtx(ctx, d)
	return ctx.Err()
}
