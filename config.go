package lorasense

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/jd3nn1s/lorasense/radio"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/physic"
)

const (
	DefaultConfigFile = "lorasense.toml"
	envPrefix         = "LORASENSE_"
)

type Config struct {
	LogLevel     string        `toml:"log_level"`
	Tag          string        `toml:"tag"`
	RestartAfter time.Duration `toml:"restart_after"`
	CycleDelay   time.Duration `toml:"cycle_delay"`

	Radio   RadioConfig   `toml:"radio"`
	Sensor  SensorConfig  `toml:"sensor"`
	GPS     GPSConfig     `toml:"gps"`
	Display DisplayConfig `toml:"display"`

	// forwarders are only started when their section is present
	UDP    *UDPConfig    `toml:"udp"`
	Influx *InfluxConfig `toml:"influx"`
	HTTP   *HTTPConfig   `toml:"http"`
}

type RadioConfig struct {
	// Driver is one of sx127x, rylr896 or loopback.
	Driver string `toml:"driver"`

	FrequencyHz     int64 `toml:"frequency_hz"`
	BandwidthHz     int64 `toml:"bandwidth_hz"`
	SpreadingFactor int   `toml:"spreading_factor"`
	PreambleLength  int   `toml:"preamble_length"`
	SyncWord        uint8 `toml:"sync_word"`
	CRC             bool  `toml:"crc"`
	CodingRate      int   `toml:"coding_rate"`
	TxPower         int   `toml:"tx_power"`

	// sx127x
	SPIPort  string `toml:"spi_port"`
	ResetPin string `toml:"reset_pin"`
	DIO0Pin  string `toml:"dio0_pin"`

	// rylr896
	SerialPort  string `toml:"serial_port"`
	BaudRate    int    `toml:"baud_rate"`
	Address     uint16 `toml:"address"`
	Destination uint16 `toml:"destination"`
	NetworkID   uint8  `toml:"network_id"`
}

type SensorConfig struct {
	// Driver is one of hdc1080 or dht22.
	Driver  string `toml:"driver"`
	I2CBus  string `toml:"i2c_bus"`
	Address uint16 `toml:"address"`
	Pin     string `toml:"pin"`
}

type GPSConfig struct {
	Port     string `toml:"port"`
	BaudRate int    `toml:"baud_rate"`
}

type DisplayConfig struct {
	Enabled bool   `toml:"enabled"`
	I2CBus  string `toml:"i2c_bus"`
}

type UDPConfig struct {
	Server string
	Port   int
}

type InfluxConfig struct {
	URL    string `toml:"url"`
	Token  string `toml:"token"`
	Org    string `toml:"org"`
	Bucket string `toml:"bucket"`
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

func DefaultConfig() Config {
	r := radio.DefaultConfig()
	tx := DefaultTransmitterConfig()
	return Config{
		LogLevel:     "info",
		Tag:          DefaultTag,
		RestartAfter: tx.RestartAfter,
		CycleDelay:   tx.CycleDelay,
		Radio: RadioConfig{
			Driver:          "sx127x",
			FrequencyHz:     int64(r.Frequency / physic.Hertz),
			BandwidthHz:     int64(r.Bandwidth / physic.Hertz),
			SpreadingFactor: r.SpreadingFactor,
			PreambleLength:  r.PreambleLength,
			SyncWord:        r.SyncWord,
			CRC:             r.CRC,
			CodingRate:      r.CodingRate,
			TxPower:         r.TxPower,
			ResetPin:        "GPIO23",
			DIO0Pin:         "GPIO26",
			SerialPort:      "/dev/ttyUSB0",
			BaudRate:        115200,
		},
		Sensor: SensorConfig{
			Driver:  "hdc1080",
			Address: 0x40,
			Pin:     "GPIO4",
		},
		GPS: GPSConfig{
			BaudRate: 9600,
		},
	}
}

// LoadConfig reads the TOML file at path on top of the defaults and then
// applies .env and LORASENSE_* environment overrides. An empty path looks
// for lorasense.toml next to the binary and tolerates it being absent.
func LoadConfig(path string) (Config, error) {
	optional := false
	if path == "" {
		dir, err := filepath.Abs(filepath.Dir(os.Args[0]))
		if err != nil {
			return Config{}, errors.Wrapf(err, "unable to determine binary location")
		}
		path = filepath.Join(dir, DefaultConfigFile)
		optional = true
	}

	cfg := DefaultConfig()
	file, err := os.Open(path)
	switch {
	case err == nil:
		defer file.Close()
		if cfg, err = LoadConfigFromReader(file); err != nil {
			return Config{}, errors.Wrapf(err, "unable to load %s", path)
		}
	case optional && os.IsNotExist(err):
		log.WithField("path", path).Debug("no configuration file, using defaults")
	default:
		return Config{}, errors.Wrapf(err, "unable to open file %s", path)
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(errors.Cause(err)) {
		log.WithField("err", err).Warn("unable to load .env")
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func LoadConfigFromReader(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, errors.Wrap(err, "unable to read config reader")
	}
	cfg := DefaultConfig()
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, errors.Wrap(err, "unable to decode configuration")
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := get("TAG"); ok {
		c.Tag = v
	}
	if v, ok := get("RADIO_DRIVER"); ok {
		c.Radio.Driver = v
	}
	if v, ok := get("FREQUENCY_HZ"); ok {
		hz, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid %sFREQUENCY_HZ", envPrefix)
		}
		c.Radio.FrequencyHz = hz
	}
	if v, ok := get("GPS_PORT"); ok {
		c.GPS.Port = v
	}
	if v, ok := get("INFLUX_URL"); ok {
		if c.Influx == nil {
			c.Influx = &InfluxConfig{}
		}
		c.Influx.URL = v
	}
	if v, ok := get("INFLUX_TOKEN"); ok {
		// a token alone still enables the section so the missing url is reported
		if c.Influx == nil {
			c.Influx = &InfluxConfig{}
		}
		c.Influx.Token = v
	}
	if v, ok := get("HTTP_ADDR"); ok {
		if c.HTTP == nil {
			c.HTTP = &HTTPConfig{}
		}
		c.HTTP.Addr = v
	}
	return nil
}

func (c RadioConfig) Config() radio.Config {
	return radio.Config{
		Frequency:       physic.Frequency(c.FrequencyHz) * physic.Hertz,
		Bandwidth:       physic.Frequency(c.BandwidthHz) * physic.Hertz,
		SpreadingFactor: c.SpreadingFactor,
		PreambleLength:  c.PreambleLength,
		SyncWord:        c.SyncWord,
		CRC:             c.CRC,
		CodingRate:      c.CodingRate,
		TxPower:         c.TxPower,
	}
}

func (c Config) TransmitterConfig() TransmitterConfig {
	tx := DefaultTransmitterConfig()
	tx.Tag = c.Tag
	tx.Radio = c.Radio.Config()
	tx.RestartAfter = c.RestartAfter
	if c.CycleDelay > 0 {
		tx.CycleDelay = c.CycleDelay
	}
	return tx
}

// ConfigureLogging sets the logrus level, debug wins over level.
func ConfigureLogging(level string, debug bool) error {
	if debug {
		log.SetLevel(log.DebugLevel)
		return nil
	}
	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	log.SetLevel(lvl)
	return nil
}
