// Package rylr896 drives REYAX RYLR896 style LoRa modules, an SX1276 behind
// an AT command UART.
package rylr896

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jd3nn1s/lorasense/radio"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"periph.io/x/conn/v3/physic"
)

type Opts struct {
	Port     string
	BaudRate int
	// Address of this module and the Destination its packets are sent to,
	// 0 broadcasts.
	Address     uint16
	Destination uint16
	NetworkID   uint8
	// ResponseTimeout bounds the wait for +OK/+ERR after every command.
	ResponseTimeout time.Duration
}

var DefaultOpts = Opts{
	BaudRate:        115200,
	NetworkID:       0,
	ResponseTimeout: 10 * time.Second,
}

// to allow testing
var serialOpen = func(name string, baudRate int) (io.ReadWriteCloser, error) {
	return serial.Open(name, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

type Module struct {
	port io.ReadWriteCloser
	opts Opts

	cmdMu     sync.Mutex
	responses chan string
	packets   chan radio.Packet

	done    chan struct{}
	readErr error
}

func Open(opts Opts) (*Module, error) {
	if opts.BaudRate == 0 {
		opts.BaudRate = DefaultOpts.BaudRate
	}
	port, err := serialOpen(opts.Port, opts.BaudRate)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open serial port %s", opts.Port)
	}
	return New(port, opts), nil
}

// New starts reading from an already open port.
func New(port io.ReadWriteCloser, opts Opts) *Module {
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = DefaultOpts.ResponseTimeout
	}
	m := &Module{
		port:      port,
		opts:      opts,
		responses: make(chan string, 1),
		packets:   make(chan radio.Packet, 16),
		done:      make(chan struct{}),
	}
	go m.readLoop()
	return m
}

func (m *Module) String() string {
	return "rylr896"
}

func (m *Module) readLoop() {
	defer close(m.done)
	reader := bufio.NewReader(m.port)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			m.readErr = err
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		log.WithField("line", line).Debug("rylr896: rx")

		if payload, found := strings.CutPrefix(line, "+RCV="); found {
			pkt, err := parseReceived(payload)
			if err != nil {
				log.WithField("err", err).Warn("rylr896: unable to parse received packet")
				continue
			}
			select {
			case m.packets <- pkt:
			default:
				log.Warn("rylr896: packet buffer full, dropping packet")
			}
			continue
		}

		select {
		case m.responses <- line:
		default:
			log.WithField("line", line).Debug("rylr896: dropping unsolicited line")
		}
	}
}

// command writes one AT command and waits for its reply.
func (m *Module) command(ctx context.Context, cmd string) (string, error) {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	// discard a stale reply from a previously timed out command
	select {
	case <-m.responses:
	default:
	}

	log.WithField("cmd", cmd).Debug("rylr896: tx")
	if _, err := io.WriteString(m.port, cmd+"\r\n"); err != nil {
		return "", errors.Wrapf(err, "unable to write %q", cmd)
	}

	timeout := time.NewTimer(m.opts.ResponseTimeout)
	defer timeout.Stop()
	select {
	case line := <-m.responses:
		if codeStr, found := strings.CutPrefix(line, "+ERR="); found {
			code, err := strconv.Atoi(codeStr)
			if err != nil {
				return line, errors.Errorf("%s: malformed error reply %q", cmd, line)
			}
			return line, &ModuleError{Code: code, Command: commandName(cmd)}
		}
		return line, nil
	case <-timeout.C:
		return "", errors.Errorf("%s: no reply after %v", commandName(cmd), m.opts.ResponseTimeout)
	case <-m.done:
		return "", errors.Wrap(m.readErr, "serial port closed")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Module) Configure(cfg radio.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.SpreadingFactor < minSpreadingFactor {
		return errors.Wrapf(radio.ErrInvalidConfig, "rylr896 supports spreading factor %d..12, not %d",
			minSpreadingFactor, cfg.SpreadingFactor)
	}
	ctx := context.Background()

	// a bare AT proves the module is alive
	if _, err := m.command(ctx, "AT"); err != nil {
		return errors.Wrap(err, "module not responding")
	}

	pp := programmedPreamble(cfg.PreambleLength)
	if pp != cfg.PreambleLength {
		log.WithFields(log.Fields{
			"requested": cfg.PreambleLength,
			"used":      pp,
		}).Warn("rylr896: preamble length limited by module firmware")
	}
	power := cfg.TxPower
	if power > 15 {
		power = 15
	} else if power < 0 {
		power = 0
	}
	cmds := []string{
		fmt.Sprintf("AT+ADDRESS=%d", m.opts.Address),
		fmt.Sprintf("AT+NETWORKID=%d", m.opts.NetworkID),
		fmt.Sprintf("AT+BAND=%d", int64(cfg.Frequency/physic.Hertz)),
		fmt.Sprintf("AT+PARAMETER=%d,%d,%d,%d",
			cfg.SpreadingFactor,
			radio.BandwidthIndex(cfg.Bandwidth),
			cfg.CodingRate-4,
			pp),
		fmt.Sprintf("AT+CRFOP=%d", power),
	}
	for _, cmd := range cmds {
		if _, err := m.command(ctx, cmd); err != nil {
			return errors.Wrap(err, "unable to configure module")
		}
	}

	log.WithFields(log.Fields{
		"syncWord": fmt.Sprintf("0x%02X", cfg.SyncWord),
		"crc":      cfg.CRC,
	}).Debug("rylr896: sync word and CRC are fixed by module firmware")
	return nil
}

func (m *Module) Send(ctx context.Context, payload []byte) error {
	if len(payload) > maxPayload {
		return errors.Errorf("payload of %d bytes exceeds %d", len(payload), maxPayload)
	}
	cmd := fmt.Sprintf("AT+SEND=%d,%d,%s", m.opts.Destination, len(payload), payload)
	_, err := m.command(ctx, cmd)
	return errors.Wrap(err, "send failed")
}

func (m *Module) Receive(ctx context.Context) (radio.Packet, error) {
	select {
	case pkt := <-m.packets:
		return pkt, nil
	case <-m.done:
		return radio.Packet{}, errors.Wrap(m.readErr, "serial port closed")
	case <-ctx.Done():
		return radio.Packet{}, ctx.Err()
	}
}

func (m *Module) Close() error {
	return m.port.Close()
}

// programmedPreamble clamps a preamble length into the range AT+PARAMETER
// accepts.
func programmedPreamble(n int) int {
	if n < minPreamble {
		return minPreamble
	}
	if n > maxPreamble {
		return maxPreamble
	}
	return n
}

func commandName(cmd string) string {
	if i := strings.IndexByte(cmd, '='); i >= 0 {
		return cmd[:i]
	}
	return cmd
}

// parseReceived decodes <address>,<length>,<data>,<rssi>,<snr>. The data
// may itself contain commas, so it is sliced by length.
func parseReceived(payload string) (radio.Packet, error) {
	addrEnd := strings.IndexByte(payload, ',')
	if addrEnd < 0 {
		return radio.Packet{}, errors.Errorf("missing address in %q", payload)
	}
	if _, err := strconv.ParseUint(payload[:addrEnd], 10, 16); err != nil {
		return radio.Packet{}, errors.Wrap(err, "bad address")
	}

	rest := payload[addrEnd+1:]
	lenEnd := strings.IndexByte(rest, ',')
	if lenEnd < 0 {
		return radio.Packet{}, errors.Errorf("missing length in %q", payload)
	}
	length, err := strconv.ParseUint(rest[:lenEnd], 10, 8)
	if err != nil {
		return radio.Packet{}, errors.Wrap(err, "bad length")
	}

	rest = rest[lenEnd+1:]
	if int(length) > len(rest) {
		return radio.Packet{}, errors.Errorf("length %d exceeds line", length)
	}
	data := rest[:length]
	rest, found := strings.CutPrefix(rest[length:], ",")
	if !found {
		return radio.Packet{}, errors.Errorf("missing RSSI in %q", payload)
	}

	rssiStr, snrStr, found := strings.Cut(rest, ",")
	if !found {
		return radio.Packet{}, errors.Errorf("missing SNR in %q", payload)
	}
	rssi, err := strconv.Atoi(rssiStr)
	if err != nil {
		return radio.Packet{}, errors.Wrap(err, "bad RSSI")
	}
	snr, err := strconv.ParseFloat(snrStr, 64)
	if err != nil {
		return radio.Packet{}, errors.Wrap(err, "bad SNR")
	}

	return radio.Packet{
		Payload:  []byte(data),
		RSSI:     rssi,
		SNR:      snr,
		Received: time.Now(),
	}, nil
}
