package lorasense

import (
	"context"

	"github.com/jd3nn1s/lorasense/radio"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type Receiver struct {
	radio      radio.Radio
	cfg        radio.Config
	display    Display
	forwarders []Forwarder
}

func NewReceiver(cfg radio.Config, r radio.Radio) *Receiver {
	return &Receiver{
		radio: r,
		cfg:   cfg,
	}
}

func (rx *Receiver) AddForwarder(fwd Forwarder) {
	rx.forwarders = append(rx.forwarders, fwd)
}

func (rx *Receiver) SetDisplay(d Display) {
	rx.display = d
}

// Run configures the radio and handles packets until ctx is done or the
// radio fails.
func (rx *Receiver) Run(ctx context.Context) error {
	if err := rx.radio.Configure(rx.cfg); err != nil {
		log.WithField("err", err).Error("starting LoRa failed")
		return errors.Wrapf(ErrRadioInit, "%v", err)
	}
	log.WithField("radio", rx.cfg.String()).Info("LoRa receiver")

	for {
		pkt, err := rx.radio.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "receive failed")
		}
		rx.handlePacket(pkt)
	}
}

func (rx *Receiver) handlePacket(pkt radio.Packet) {
	payload := string(pkt.Payload)
	log.WithFields(log.Fields{
		"rssi": pkt.RSSI,
		"snr":  pkt.SNR,
	}).Infof("received packet '%s' with RSSI %d", payload, pkt.RSSI)

	if rx.display != nil {
		if err := rx.display.ShowPacket(payload, pkt.RSSI, pkt.SNR); err != nil {
			log.WithField("err", err).Warn("unable to update display")
		}
	}

	tag, reading, err := ParseMessage(payload)
	if err != nil {
		log.WithField("err", err).Debug("packet is not a sensor message")
		return
	}
	obs := &Observation{
		Entity:   tag,
		Reading:  reading,
		RSSI:     pkt.RSSI,
		SNR:      pkt.SNR,
		Received: pkt.Received,
	}
	for _, fwd := range rx.forwarders {
		if err := fwd.Forward(obs); err != nil {
			log.WithField("err", err).Error("unable to forward observation")
		}
	}
}
