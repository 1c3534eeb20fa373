package forwarder

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/jd3nn1s/lorasense"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	Measurement = "lora_reading"

	influxQueueLen = 16
)

var influxWriteTimeout = 5 * time.Second

// InfluxForwarder writes every observation as one point. Writes happen on the
// Start go-routine so a slow server never holds up the receiver.
type InfluxForwarder struct {
	Config lorasense.InfluxConfig

	client  influxdb2.Client
	writer  api.WriteAPIBlocking
	fwdChan chan *lorasense.Observation
}

func NewInfluxForwarder(config lorasense.InfluxConfig) (*InfluxForwarder, error) {
	if config.URL == "" {
		return nil, errors.New("influx url is required")
	}
	client := influxdb2.NewClient(config.URL, config.Token)
	return &InfluxForwarder{
		Config:  config,
		client:  client,
		writer:  client.WriteAPIBlocking(config.Org, config.Bucket),
		fwdChan: make(chan *lorasense.Observation, influxQueueLen),
	}, nil
}

func (f *InfluxForwarder) Forward(obs *lorasense.Observation) error {
	obsCopy := *obs
	select {
	case f.fwdChan <- &obsCopy:
		return nil
	default:
		return errors.New("influx queue full, dropping observation")
	}
}

func (f *InfluxForwarder) Start(ctx context.Context) error {
	for {
		select {
		case obs := <-f.fwdChan:
			if err := f.write(ctx, obs); err != nil {
				log.WithFields(log.Fields{
					"err":    err,
					"entity": obs.Entity,
				}).Error("unable to write observation to influx")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *InfluxForwarder) write(ctx context.Context, obs *lorasense.Observation) error {
	ctx, cancel := context.WithTimeout(ctx, influxWriteTimeout)
	defer cancel()
	return errors.Wrap(f.writer.WritePoint(ctx, NewPoint(obs)), "influx write failed")
}

func (f *InfluxForwarder) Close() error {
	f.client.Close()
	return nil
}

func NewPoint(obs *lorasense.Observation) *write.Point {
	ts := obs.Received
	if ts.IsZero() {
		ts = time.Now()
	}
	return influxdb2.NewPoint(Measurement,
		map[string]string{
			"entity": obs.Entity,
		},
		map[string]interface{}{
			"lat":         obs.Reading.Latitude,
			"lon":         obs.Reading.Longitude,
			"temperature": obs.Reading.Temperature,
			"humidity":    obs.Reading.Humidity,
			"rssi":        obs.RSSI,
			"snr":         obs.SNR,
		},
		ts)
}
