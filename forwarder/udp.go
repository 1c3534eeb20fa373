package forwarder

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jd3nn1s/lorasense"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// minimum time between two datagrams
var sendInterval = 100 * time.Millisecond

type UDPForwarder struct {
	Config *lorasense.UDPConfig

	conn    net.Conn
	fwdChan chan *lorasense.Observation
}

// UDPConfigFile is the standalone {Server, Port} file read when the main
// configuration has no [udp] section.
const UDPConfigFile = "udpforwarder.toml"

// UDPConfigPath is UDPConfigFile next to the binary.
func UDPConfigPath() (string, error) {
	dir, err := filepath.Abs(filepath.Dir(os.Args[0]))
	if err != nil {
		return "", errors.Wrapf(err, "unable to determine binary location")
	}
	return filepath.Join(dir, UDPConfigFile), nil
}

// NewUDPForwarderFromFile loads a standalone {Server, Port} TOML file. A
// missing file is reported with an error satisfying os.IsNotExist after
// errors.Cause.
func NewUDPForwarderFromFile(path string) (*UDPForwarder, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open file %s", path)
	}
	defer file.Close()
	return NewUDPForwarderFromReader(file)
}

func NewUDPForwarderFromReader(configReader io.Reader) (*UDPForwarder, error) {
	configData, err := io.ReadAll(configReader)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read config reader")
	}
	config := lorasense.UDPConfig{}
	if _, err := toml.Decode(string(configData), &config); err != nil {
		return nil, errors.Wrapf(err, "unable to load udp forwarder configuration")
	}
	return NewUDPForwarder(config)
}

func NewUDPForwarder(config lorasense.UDPConfig) (*UDPForwarder, error) {
	udp := &UDPForwarder{
		Config:  &config,
		fwdChan: make(chan *lorasense.Observation, 1),
	}
	if err := udp.connect(); err != nil {
		return nil, err
	}
	return udp, nil
}

func (udp *UDPForwarder) Close() error {
	return udp.conn.Close()
}

func (udp *UDPForwarder) Forward(obs *lorasense.Observation) error {
	obsCopy := *obs
	select {
	// copy the observation as it is sent from another go-routine
	case udp.fwdChan <- &obsCopy:
	default:
		// if channel is full, skip
		log.Debug("udp forwarder busy, dropping observation")
	}
	return nil
}

func (udp *UDPForwarder) Start(ctx context.Context) error {
	limiter := time.NewTicker(sendInterval)
	defer limiter.Stop()
	for {
		select {
		case <-limiter.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case obs := <-udp.fwdChan:
			if err := udp.forward(obs); err != nil {
				log.WithField("err", err).Error("unable to forward observation to server")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (udp *UDPForwarder) forward(obs *lorasense.Observation) error {
	buf := bytes.NewBuffer(make([]byte, 0, maxRecordSize))
	hdr := Header{
		Type: TypeReading,
	}
	if err := binary.Write(buf, binary.LittleEndian, &hdr); err != nil {
		return errors.Wrap(err, "unable to write udp packet header")
	}
	rec := NewRecord(obs)
	if err := binary.Write(buf, binary.LittleEndian, &rec); err != nil {
		return errors.Wrap(err, "unable to write reading udp packet")
	}
	_, err := udp.conn.Write(buf.Bytes())
	return errors.Wrap(err, "unable to send udp packet")
}

func (udp *UDPForwarder) connect() error {
	writeBufSize := maxRecordSize * 2

	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d",
		udp.Config.Server,
		udp.Config.Port))
	if err != nil {
		return errors.Wrap(err, "unable to dial udp server")
	}
	udpConn := conn.(*net.UDPConn)
	if err = udpConn.SetWriteBuffer(writeBufSize); err != nil {
		_ = conn.Close()
		return errors.Wrapf(err, "unable to set OS write buffer to %v", writeBufSize)
	}

	udp.conn = conn
	return nil
}
