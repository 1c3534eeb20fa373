package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/jd3nn1s/lorasense"
	"github.com/jd3nn1s/lorasense/display"
	"github.com/jd3nn1s/lorasense/forwarder"
	"github.com/jd3nn1s/lorasense/web"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var cli struct {
	Config   string `help:"path to a config file. The default is lorasense.toml next to the binary." type:"path"`
	TestMode bool   `name:"testmode" help:"generate test data instead of using the hardware"`
	Debug    bool   `help:"enable debug logging"`

	Tx txCmd `cmd:"" help:"sample the sensor and transmit readings"`
	Rx rxCmd `cmd:"" help:"receive, display and forward readings"`
}

type globals struct {
	cfg      lorasense.Config
	testMode bool
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("lorasense"),
		kong.Description("LoRa temperature and humidity sender and receiver"),
		kong.UsageOnError())

	cfg, err := lorasense.LoadConfig(cli.Config)
	if err != nil {
		log.Fatal("unable to load configuration: ", err)
	}
	if err := lorasense.ConfigureLogging(cfg.LogLevel, cli.Debug); err != nil {
		log.Fatal(err)
	}

	err = kctx.Run(&globals{cfg: cfg, testMode: cli.TestMode})
	if err != nil && errors.Cause(err) != context.Canceled {
		log.Fatal(err)
	}
}

type txCmd struct{}

func (c *txCmd) Run(g *globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tx *lorasense.Transmitter
	if g.testMode {
		var rx *lorasense.Receiver
		tx, rx = lorasense.NewTestMode(g.cfg.TransmitterConfig())
		go func() {
			_ = rx.Run(ctx)
		}()
	} else {
		r, err := lorasense.OpenRadio(g.cfg.Radio)
		if err != nil {
			return err
		}
		s, err := lorasense.OpenSensor(g.cfg.Sensor)
		if err != nil {
			_ = r.Close()
			return err
		}
		tx = lorasense.NewTransmitter(g.cfg.TransmitterConfig(), r, s)
		if g.cfg.GPS.Port != "" {
			tx.SetGPS(g.cfg.GPS.Port, g.cfg.GPS.BaudRate)
		}
		tx.Restart = func() error {
			if err := s.Close(); err != nil {
				log.WithField("err", err).Warn("unable to close sensor")
			}
			return r.Close()
		}
	}

	err := tx.Run(ctx)
	switch errors.Cause(err) {
	case lorasense.ErrRadioInit:
		// without a radio there is nothing to do until someone intervenes
		log.Fatal(err)
	case lorasense.ErrRestart:
		return restart()
	}
	return err
}

type rxCmd struct{}

func (c *rxCmd) Run(g *globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rx *lorasense.Receiver
	if g.testMode {
		var tx *lorasense.Transmitter
		txCfg := g.cfg.TransmitterConfig()
		txCfg.RestartAfter = 0
		tx, rx = lorasense.NewTestMode(txCfg)
		go func() {
			_ = tx.Run(ctx)
		}()
	} else {
		r, err := lorasense.OpenRadio(g.cfg.Radio)
		if err != nil {
			return err
		}
		defer r.Close()
		rx = lorasense.NewReceiver(g.cfg.Radio.Config(), r)
	}

	if g.cfg.Display.Enabled && !g.testMode {
		oled, err := display.Open(g.cfg.Display.I2CBus)
		if err != nil {
			log.WithField("err", err).Warn("display unavailable")
		} else {
			defer oled.Close()
			rx.SetDisplay(oled)
		}
	}
	if err := startForwarders(ctx, g.cfg, rx); err != nil {
		return err
	}

	err := rx.Run(ctx)
	if errors.Cause(err) == lorasense.ErrRadioInit {
		log.Fatal(err)
	}
	return err
}

func startForwarders(ctx context.Context, cfg lorasense.Config, rx *lorasense.Receiver) error {
	udp, err := loadUDPForwarder(cfg)
	if err != nil {
		return errors.Wrap(err, "unable to load UDP forwarder")
	}
	if udp != nil {
		go func() {
			_ = udp.Start(ctx)
			_ = udp.Close()
		}()
		rx.AddForwarder(udp)
	}
	if cfg.Influx != nil {
		influx, err := forwarder.NewInfluxForwarder(*cfg.Influx)
		if err != nil {
			return errors.Wrap(err, "unable to load influx forwarder")
		}
		go func() {
			_ = influx.Start(ctx)
			_ = influx.Close()
		}()
		rx.AddForwarder(influx)
	}
	if cfg.HTTP != nil {
		srv := web.New()
		go func() {
			if err := srv.Start(ctx, cfg.HTTP.Addr); err != nil && err != context.Canceled {
				log.WithField("err", err).Error("http server stopped")
			}
		}()
		rx.AddForwarder(srv)
	}
	return nil
}

// loadUDPForwarder uses the [udp] section, falling back to a standalone
// udpforwarder.toml next to the binary. Neither present means no forwarder.
func loadUDPForwarder(cfg lorasense.Config) (*forwarder.UDPForwarder, error) {
	if cfg.UDP != nil {
		return forwarder.NewUDPForwarder(*cfg.UDP)
	}
	path, err := forwarder.UDPConfigPath()
	if err != nil {
		return nil, err
	}
	udp, err := forwarder.NewUDPForwarderFromFile(path)
	if os.IsNotExist(errors.Cause(err)) {
		return nil, nil
	}
	return udp, err
}

// restart replaces the process with a fresh copy of itself.
func restart() error {
	exe, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "unable to find executable")
	}
	log.WithField("exe", exe).Info("restarting")
	return errors.Wrap(syscall.Exec(exe, os.Args, os.Environ()), "unable to restart")
}
