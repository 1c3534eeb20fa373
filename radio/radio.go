package radio

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
)

// Radio is a half-duplex LoRa transceiver.
type Radio interface {
	// Configure brings the radio up with the given modulation parameters.
	// An error here means the radio is unusable.
	Configure(cfg Config) error
	Send(ctx context.Context, payload []byte) error
	// Receive blocks until a packet arrives or ctx is done.
	Receive(ctx context.Context) (Packet, error)
	Close() error
}

type Packet struct {
	Payload  []byte
	RSSI     int
	SNR      float64
	Received time.Time
}

type Config struct {
	Frequency       physic.Frequency
	Bandwidth       physic.Frequency
	SpreadingFactor int
	PreambleLength  int
	SyncWord        byte
	CRC             bool
	// CodingRate is the denominator of the 4/x coding rate.
	CodingRate int
	TxPower    int
	InvertIQ   bool
}

var ErrInvalidConfig = errors.New("invalid radio configuration")

// Bandwidths holds the LoRa signal bandwidths supported by SX127x based
// radios, in register order.
var Bandwidths = []physic.Frequency{
	7800 * physic.Hertz,
	10400 * physic.Hertz,
	15600 * physic.Hertz,
	20800 * physic.Hertz,
	31250 * physic.Hertz,
	41700 * physic.Hertz,
	62500 * physic.Hertz,
	125 * physic.KiloHertz,
	250 * physic.KiloHertz,
	500 * physic.KiloHertz,
}

func DefaultConfig() Config {
	return Config{
		Frequency:       915 * physic.MegaHertz,
		Bandwidth:       125 * physic.KiloHertz,
		SpreadingFactor: 10,
		PreambleLength:  16,
		SyncWord:        0xAB,
		CRC:             false,
		CodingRate:      7,
		TxPower:         17,
		InvertIQ:        false,
	}
}

// BandwidthIndex returns the register index of bw, or -1 if it is not a
// LoRa bandwidth.
func BandwidthIndex(bw physic.Frequency) int {
	for i, b := range Bandwidths {
		if b == bw {
			return i
		}
	}
	return -1
}

func (c Config) Validate() error {
	if c.Frequency <= 0 {
		return errors.Wrap(ErrInvalidConfig, "frequency must be positive")
	}
	if BandwidthIndex(c.Bandwidth) < 0 {
		return errors.Wrapf(ErrInvalidConfig, "unsupported bandwidth %s", c.Bandwidth)
	}
	if c.SpreadingFactor < 6 || c.SpreadingFactor > 12 {
		return errors.Wrapf(ErrInvalidConfig, "spreading factor %d not in 6..12", c.SpreadingFactor)
	}
	if c.CodingRate < 5 || c.CodingRate > 8 {
		return errors.Wrapf(ErrInvalidConfig, "coding rate 4/%d not in 4/5..4/8", c.CodingRate)
	}
	if c.PreambleLength < 6 || c.PreambleLength > 0xffff {
		return errors.Wrapf(ErrInvalidConfig, "preamble length %d out of range", c.PreambleLength)
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("%s bw=%s sf=%d cr=4/%d preamble=%d sync=0x%02X crc=%t power=%ddBm",
		c.Frequency, c.Bandwidth, c.SpreadingFactor, c.CodingRate,
		c.PreambleLength, c.SyncWord, c.CRC, c.TxPower)
}
