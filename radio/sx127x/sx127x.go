// Package sx127x drives Semtech SX1276/77/78/79 LoRa transceivers over SPI.
package sx127x

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/jd3nn1s/lorasense/radio"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// ErrNotFound is returned by Configure when no SX127x answers on the bus.
var ErrNotFound = errors.New("sx127x not found")

// Bus is the part of spi.Conn the driver uses.
type Bus interface {
	Tx(w, r []byte) error
}

type Opts struct {
	SPIPort  string // "" selects the first registered port
	SPISpeed physic.Frequency
	ResetPin string
	DIO0Pin  string
	// PollInterval bounds how long Receive waits between IRQ flag reads.
	PollInterval time.Duration
	TxTimeout    time.Duration
}

var DefaultOpts = Opts{
	SPISpeed:     8 * physic.MegaHertz,
	PollInterval: 10 * time.Millisecond,
	TxTimeout:    10 * time.Second,
}

// to allow testing
var sleep = time.Sleep

type Dev struct {
	bus    Bus
	closer io.Closer
	reset  gpio.PinOut
	dio0   gpio.PinIn
	opts   Opts

	mu        sync.Mutex
	cfg       radio.Config
	receiving bool
}

// Open initialises the periph host drivers and connects to the radio on the
// given SPI port. The radio is not touched until Configure.
func Open(opts Opts) (*Dev, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "unable to initialise periph host")
	}
	p, err := spireg.Open(opts.SPIPort)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open SPI port %q", opts.SPIPort)
	}
	speed := opts.SPISpeed
	if speed == 0 {
		speed = DefaultOpts.SPISpeed
	}
	c, err := p.Connect(speed, spi.Mode0, 8)
	if err != nil {
		_ = p.Close()
		return nil, errors.Wrap(err, "unable to connect to SPI device")
	}

	var reset gpio.PinOut
	if opts.ResetPin != "" {
		pin := gpioreg.ByName(opts.ResetPin)
		if pin == nil {
			_ = p.Close()
			return nil, errors.Errorf("unknown reset pin %q", opts.ResetPin)
		}
		reset = pin
	}
	var dio0 gpio.PinIn
	if opts.DIO0Pin != "" {
		pin := gpioreg.ByName(opts.DIO0Pin)
		if pin == nil {
			_ = p.Close()
			return nil, errors.Errorf("unknown DIO0 pin %q", opts.DIO0Pin)
		}
		if err := pin.In(gpio.PullDown, gpio.RisingEdge); err != nil {
			_ = p.Close()
			return nil, errors.Wrapf(err, "unable to configure DIO0 pin %s", opts.DIO0Pin)
		}
		dio0 = pin
	}

	d := New(c, reset, dio0, opts)
	d.closer = p
	return d, nil
}

// New wraps an already connected bus. reset and dio0 may be nil.
func New(bus Bus, reset gpio.PinOut, dio0 gpio.PinIn, opts Opts) *Dev {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOpts.PollInterval
	}
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = DefaultOpts.TxTimeout
	}
	return &Dev{
		bus:   bus,
		reset: reset,
		dio0:  dio0,
		opts:  opts,
	}
}

func (d *Dev) String() string {
	return "sx127x"
}

func (d *Dev) Configure(cfg radio.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.reset != nil {
		if err := d.reset.Out(gpio.Low); err != nil {
			return errors.Wrap(err, "unable to assert reset")
		}
		sleep(10 * time.Millisecond)
		if err := d.reset.Out(gpio.High); err != nil {
			return errors.Wrap(err, "unable to release reset")
		}
		sleep(10 * time.Millisecond)
	}

	version, err := d.readReg(regVersion)
	if err != nil {
		return errors.Wrap(err, "unable to read version register")
	}
	if version != chipVersion {
		return errors.Wrapf(ErrNotFound, "unexpected version 0x%02x", version)
	}

	w := regWriter{d: d}
	// LoRa mode can only be entered from sleep
	w.write(regOpMode, modeLongRange|modeSleep)
	d.writeFrequency(&w, cfg.Frequency)
	w.write(regFifoTxBaseAddr, 0)
	w.write(regFifoRxBaseAddr, 0)
	w.update(regLna, 0x03, 0x03)
	w.write(regModemConfig3, 0x04)
	writeTxPower(&w, cfg.TxPower)
	w.write(regOpMode, modeLongRange|modeStandby)

	bw := byte(radio.BandwidthIndex(cfg.Bandwidth))
	w.update(regModemConfig1, 0xf0, bw<<4)
	sf := byte(cfg.SpreadingFactor)
	if sf == 6 {
		w.write(regDetectionOptimize, 0xc5)
		w.write(regDetectionThreshold, 0x0c)
	} else {
		w.write(regDetectionOptimize, 0xc3)
		w.write(regDetectionThreshold, 0x0a)
	}
	w.update(regModemConfig2, 0xf0, sf<<4)
	var ldo byte
	if lowDataRateOptimize(cfg) {
		ldo = 0x08
	}
	w.update(regModemConfig3, 0x08, ldo)

	w.write(regPreambleMsb, byte(cfg.PreambleLength>>8))
	w.write(regPreambleLsb, byte(cfg.PreambleLength))
	w.write(regSyncWord, cfg.SyncWord)
	var crc byte
	if cfg.CRC {
		crc = 0x04
	}
	w.update(regModemConfig2, 0x04, crc)
	if cfg.InvertIQ {
		w.write(regInvertIQ, 0x66)
		w.write(regInvertIQ2, 0x19)
	} else {
		w.write(regInvertIQ, 0x27)
		w.write(regInvertIQ2, 0x1d)
	}
	w.update(regModemConfig1, 0x0e, byte(cfg.CodingRate-4)<<1)
	if w.err != nil {
		return errors.Wrap(w.err, "unable to configure radio")
	}

	d.cfg = cfg
	d.receiving = false
	log.WithField("config", cfg.String()).Debug("sx127x configured")
	return nil
}

// Send transmits payload with an explicit header and waits for TX_DONE.
func (d *Dev) Send(ctx context.Context, payload []byte) error {
	if len(payload) > maxPayload {
		return errors.Errorf("payload of %d bytes exceeds %d", len(payload), maxPayload)
	}

	d.mu.Lock()
	w := regWriter{d: d}
	w.write(regOpMode, modeLongRange|modeStandby)
	w.update(regModemConfig1, 0x01, 0)
	w.write(regFifoAddrPtr, 0)
	w.writeFifo(payload)
	w.write(regPayloadLength, byte(len(payload)))
	w.write(regOpMode, modeLongRange|modeTx)
	d.receiving = false
	d.mu.Unlock()
	if w.err != nil {
		return errors.Wrap(w.err, "unable to start transmission")
	}

	deadline := time.Now().Add(d.opts.TxTimeout)
	for {
		d.mu.Lock()
		flags, err := d.readReg(regIrqFlags)
		if err == nil && flags&irqTxDone != 0 {
			err = d.writeReg(regIrqFlags, irqTxDone)
			d.mu.Unlock()
			return errors.Wrap(err, "unable to clear TX_DONE")
		}
		d.mu.Unlock()
		if err != nil {
			return errors.Wrap(err, "unable to read IRQ flags")
		}
		if time.Now().After(deadline) {
			return errors.Errorf("transmission not done after %v", d.opts.TxTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		sleep(time.Millisecond)
	}
}

// Receive puts the radio into continuous receive mode, if it is not already,
// and returns the next packet with a valid CRC.
func (d *Dev) Receive(ctx context.Context) (radio.Packet, error) {
	for {
		select {
		case <-ctx.Done():
			return radio.Packet{}, ctx.Err()
		default:
		}

		pkt, ok, err := d.pollReceive()
		if err != nil {
			return radio.Packet{}, err
		}
		if ok {
			return pkt, nil
		}

		if d.dio0 != nil {
			d.dio0.WaitForEdge(d.opts.PollInterval)
		} else {
			sleep(d.opts.PollInterval)
		}
	}
}

func (d *Dev) pollReceive() (radio.Packet, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.receiving {
		w := regWriter{d: d}
		w.update(regModemConfig1, 0x01, 0)
		// DIO0 -> RxDone
		w.write(regDioMapping1, 0x00)
		w.write(regFifoAddrPtr, 0)
		w.write(regOpMode, modeLongRange|modeRxContinuous)
		if w.err != nil {
			return radio.Packet{}, false, errors.Wrap(w.err, "unable to enter receive mode")
		}
		d.receiving = true
	}

	flags, err := d.readReg(regIrqFlags)
	if err != nil {
		return radio.Packet{}, false, errors.Wrap(err, "unable to read IRQ flags")
	}
	if flags&irqRxDone == 0 {
		return radio.Packet{}, false, nil
	}
	if err := d.writeReg(regIrqFlags, flags); err != nil {
		return radio.Packet{}, false, errors.Wrap(err, "unable to clear IRQ flags")
	}
	if flags&irqPayloadCRCError != 0 {
		log.Debug("sx127x: dropping packet with CRC error")
		return radio.Packet{}, false, nil
	}

	n, err := d.readReg(regRxNbBytes)
	if err != nil {
		return radio.Packet{}, false, errors.Wrap(err, "unable to read packet length")
	}
	cur, err := d.readReg(regFifoRxCurrentAddr)
	if err != nil {
		return radio.Packet{}, false, errors.Wrap(err, "unable to read RX address")
	}
	if err := d.writeReg(regFifoAddrPtr, cur); err != nil {
		return radio.Packet{}, false, errors.Wrap(err, "unable to set FIFO pointer")
	}
	payload, err := d.readFifo(int(n))
	if err != nil {
		return radio.Packet{}, false, errors.Wrap(err, "unable to read FIFO")
	}
	rawRSSI, err := d.readReg(regPktRssiValue)
	if err != nil {
		return radio.Packet{}, false, errors.Wrap(err, "unable to read RSSI")
	}
	rawSNR, err := d.readReg(regPktSnrValue)
	if err != nil {
		return radio.Packet{}, false, errors.Wrap(err, "unable to read SNR")
	}

	return radio.Packet{
		Payload:  payload,
		RSSI:     packetRSSI(rawRSSI, d.cfg.Frequency),
		SNR:      float64(int8(rawSNR)) * 0.25,
		Received: time.Now(),
	}, true, nil
}

func (d *Dev) Close() error {
	d.mu.Lock()
	err := d.writeReg(regOpMode, modeLongRange|modeSleep)
	d.receiving = false
	d.mu.Unlock()
	if d.closer != nil {
		if cerr := d.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (d *Dev) writeFrequency(w *regWriter, f physic.Frequency) {
	frf := frequencyRegister(f)
	w.write(regFrfMsb, byte(frf>>16))
	w.write(regFrfMid, byte(frf>>8))
	w.write(regFrfLsb, byte(frf))
}

func frequencyRegister(f physic.Frequency) uint64 {
	hz := uint64(f / physic.Hertz)
	return (hz << 19) / crystal
}

func writeTxPower(w *regWriter, level int) {
	if level > 17 {
		if level > 20 {
			level = 20
		}
		// the top 3dB come from the high power PA DAC
		level -= 3
		w.write(regPaDac, 0x87)
		w.write(regOcp, ocpTrim(140))
	} else {
		if level < 2 {
			level = 2
		}
		w.write(regPaDac, 0x84)
		w.write(regOcp, ocpTrim(100))
	}
	w.write(regPaConfig, paBoost|byte(level-2))
}

func ocpTrim(mA int) byte {
	trim := 27
	if mA <= 120 {
		trim = (mA - 45) / 5
	} else if mA <= 240 {
		trim = (mA + 30) / 10
	}
	return 0x20 | byte(0x1f&trim)
}

// lowDataRateOptimize is mandated when the symbol time exceeds 16ms.
func lowDataRateOptimize(cfg radio.Config) bool {
	bwHz := int64(cfg.Bandwidth / physic.Hertz)
	symbolRate := bwHz / (int64(1) << uint(cfg.SpreadingFactor))
	if symbolRate == 0 {
		return true
	}
	return 1000/symbolRate > 16
}

func packetRSSI(raw byte, f physic.Frequency) int {
	if f/physic.Hertz < hfPortThresholdHz {
		return int(raw) - rssiOffsetLF
	}
	return int(raw) - rssiOffsetHF
}
