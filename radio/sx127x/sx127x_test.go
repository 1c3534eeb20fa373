package sx127x

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jd3nn1s/lorasense/radio"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
)

// fakeChip is an in-memory SX127x register file.
type fakeChip struct {
	mu   sync.Mutex
	regs [0x80]byte
	fifo [256]byte
	err  error
}

func newFakeChip() *fakeChip {
	c := &fakeChip{}
	c.regs[regVersion] = chipVersion
	return c
}

func (c *fakeChip) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}

	addr := w[0] & 0x7f
	write := w[0]&0x80 != 0
	if addr == regFifo {
		ptr := c.regs[regFifoAddrPtr]
		if write {
			for _, b := range w[1:] {
				c.fifo[ptr] = b
				ptr++
			}
		} else {
			for i := 1; i < len(r); i++ {
				r[i] = c.fifo[ptr]
				ptr++
			}
		}
		c.regs[regFifoAddrPtr] = ptr
		return nil
	}

	if !write {
		r[1] = c.regs[addr]
		return nil
	}
	v := w[1]
	switch addr {
	case regIrqFlags:
		c.regs[addr] &^= v
	case regOpMode:
		c.regs[addr] = v
		if v == modeLongRange|modeTx {
			c.regs[regIrqFlags] |= irqTxDone
		}
	default:
		c.regs[addr] = v
	}
	return nil
}

func (c *fakeChip) reg(addr byte) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[addr]
}

func (c *fakeChip) set(addr, v byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs[addr] = v
}

func noDelays() func() {
	origSleep := sleep
	sleep = func(time.Duration) {}
	return func() {
		sleep = origSleep
	}
}

func TestConfigureDefaults(t *testing.T) {
	defer noDelays()()
	chip := newFakeChip()
	d := New(chip, nil, nil, DefaultOpts)

	require.NoError(t, d.Configure(radio.DefaultConfig()))

	assert.Equal(t, byte(0xE4), chip.reg(regFrfMsb))
	assert.Equal(t, byte(0xC0), chip.reg(regFrfMid))
	assert.Equal(t, byte(0x00), chip.reg(regFrfLsb))
	assert.Equal(t, byte(0x76), chip.reg(regModemConfig1), "125kHz, 4/7, explicit header")
	assert.Equal(t, byte(0xA0), chip.reg(regModemConfig2), "SF10, CRC off")
	assert.Equal(t, byte(0x04), chip.reg(regModemConfig3), "AGC on, no LDO")
	assert.Equal(t, byte(0x00), chip.reg(regPreambleMsb))
	assert.Equal(t, byte(0x10), chip.reg(regPreambleLsb))
	assert.Equal(t, byte(0xAB), chip.reg(regSyncWord))
	assert.Equal(t, byte(0x8F), chip.reg(regPaConfig))
	assert.Equal(t, byte(0x84), chip.reg(regPaDac))
	assert.Equal(t, byte(0x2B), chip.reg(regOcp))
	assert.Equal(t, byte(0x03), chip.reg(regLna))
	assert.Equal(t, byte(0xc3), chip.reg(regDetectionOptimize))
	assert.Equal(t, byte(0x0a), chip.reg(regDetectionThreshold))
	assert.Equal(t, byte(0x27), chip.reg(regInvertIQ))
	assert.Equal(t, byte(0x1d), chip.reg(regInvertIQ2))
	assert.Equal(t, byte(modeLongRange|modeStandby), chip.reg(regOpMode))
}

func TestConfigureCRCAndSF6(t *testing.T) {
	defer noDelays()()
	chip := newFakeChip()
	d := New(chip, nil, nil, DefaultOpts)

	cfg := radio.DefaultConfig()
	cfg.CRC = true
	cfg.SpreadingFactor = 6
	cfg.CodingRate = 5
	require.NoError(t, d.Configure(cfg))
	assert.Equal(t, byte(0x64), chip.reg(regModemConfig2))
	assert.Equal(t, byte(0x72), chip.reg(regModemConfig1))
	assert.Equal(t, byte(0xc5), chip.reg(regDetectionOptimize))
	assert.Equal(t, byte(0x0c), chip.reg(regDetectionThreshold))
}

func TestConfigureNotFound(t *testing.T) {
	defer noDelays()()
	chip := newFakeChip()
	chip.set(regVersion, 0x00)
	d := New(chip, nil, nil, DefaultOpts)

	err := d.Configure(radio.DefaultConfig())
	assert.Equal(t, ErrNotFound, errors.Cause(err))
}

func TestConfigureBusError(t *testing.T) {
	defer noDelays()()
	chip := newFakeChip()
	chip.err = errors.New("spi gone")
	d := New(chip, nil, nil, DefaultOpts)
	assert.Error(t, d.Configure(radio.DefaultConfig()))
}

func TestConfigureInvalid(t *testing.T) {
	d := New(newFakeChip(), nil, nil, DefaultOpts)
	cfg := radio.DefaultConfig()
	cfg.SpreadingFactor = 20
	assert.Equal(t, radio.ErrInvalidConfig, errors.Cause(d.Configure(cfg)))
}

func TestSend(t *testing.T) {
	defer noDelays()()
	chip := newFakeChip()
	d := New(chip, nil, nil, DefaultOpts)
	require.NoError(t, d.Configure(radio.DefaultConfig()))

	require.NoError(t, d.Send(context.Background(), []byte("hello")))
	assert.Equal(t, "hello", string(chip.fifo[:5]))
	assert.Equal(t, byte(5), chip.reg(regPayloadLength))
	assert.Equal(t, byte(0), chip.reg(regIrqFlags)&irqTxDone, "TX_DONE should be cleared")
	assert.Equal(t, byte(modeLongRange|modeTx), chip.reg(regOpMode))
}

func TestSendTooLarge(t *testing.T) {
	d := New(newFakeChip(), nil, nil, DefaultOpts)
	assert.Error(t, d.Send(context.Background(), make([]byte, 256)))
}

func TestReceive(t *testing.T) {
	defer noDelays()()
	chip := newFakeChip()
	d := New(chip, nil, nil, DefaultOpts)
	require.NoError(t, d.Configure(radio.DefaultConfig()))

	copy(chip.fifo[0x10:], "abc")
	chip.set(regFifoRxCurrentAddr, 0x10)
	chip.set(regRxNbBytes, 3)
	chip.set(regPktRssiValue, 100)
	chip.set(regPktSnrValue, 0xF8)
	chip.set(regIrqFlags, irqRxDone|irqValidHeader)

	pkt, err := d.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", string(pkt.Payload))
	assert.Equal(t, -57, pkt.RSSI)
	assert.Equal(t, -2.0, pkt.SNR)
	assert.Equal(t, byte(0), chip.reg(regIrqFlags))
	assert.Equal(t, byte(modeLongRange|modeRxContinuous), chip.reg(regOpMode))
}

func TestReceiveDropsCRCError(t *testing.T) {
	chip := newFakeChip()
	d := New(chip, nil, nil, DefaultOpts)
	origSleep := sleep
	defer func() {
		sleep = origSleep
	}()
	sleep = func(time.Duration) {}
	require.NoError(t, d.Configure(radio.DefaultConfig()))

	chip.set(regIrqFlags, irqRxDone|irqPayloadCRCError)
	ctx, cancel := context.WithCancel(context.Background())
	sleep = func(time.Duration) {
		cancel()
	}

	_, err := d.Receive(ctx)
	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, byte(0), chip.reg(regIrqFlags))
}

func TestFrequencyRegister(t *testing.T) {
	assert.Equal(t, uint64(0xE4C000), frequencyRegister(915*physic.MegaHertz))
	assert.Equal(t, uint64(0xD90000), frequencyRegister(868*physic.MegaHertz))
	assert.Equal(t, uint64(0x6C8000), frequencyRegister(434*physic.MegaHertz))
}

func TestLowDataRateOptimize(t *testing.T) {
	cfg := radio.DefaultConfig()
	assert.False(t, lowDataRateOptimize(cfg))
	cfg.SpreadingFactor = 12
	assert.True(t, lowDataRateOptimize(cfg))
	cfg.SpreadingFactor = 11
	cfg.Bandwidth = 250 * physic.KiloHertz
	assert.False(t, lowDataRateOptimize(cfg))
}

func TestOCPTrim(t *testing.T) {
	assert.Equal(t, byte(0x2B), ocpTrim(100))
	assert.Equal(t, byte(0x31), ocpTrim(140))
	assert.Equal(t, byte(0x3B), ocpTrim(300))
}

func TestPacketRSSI(t *testing.T) {
	assert.Equal(t, -64, packetRSSI(100, 433*physic.MegaHertz))
	assert.Equal(t, -57, packetRSSI(100, 915*physic.MegaHertz))
}
