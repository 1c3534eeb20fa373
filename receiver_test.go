package lorasense

import (
	"context"
	"testing"
	"time"

	"github.com/jd3nn1s/lorasense/radio"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runReceiver(t *testing.T, rx *Receiver) (context.CancelFunc, chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- rx.Run(ctx)
	}()
	return cancel, done
}

func TestReceiverHaltsOnRadioFailure(t *testing.T) {
	r := radio.NewLoopback(1)
	r.FailConfigure = true
	rx := NewReceiver(radio.DefaultConfig(), r)

	err := rx.Run(context.Background())
	assert.Equal(t, ErrRadioInit, errors.Cause(err))
}

func TestReceiverForwardsObservation(t *testing.T) {
	r := radio.NewLoopback(2)
	rx := NewReceiver(radio.DefaultConfig(), r)
	fwd := &forwarderStub{obsChan: make(chan Observation, 1)}
	display := &displayStub{}
	rx.AddForwarder(fwd)
	rx.SetDisplay(display)

	cancel, done := runReceiver(t, rx)
	defer cancel()

	reading := Reading{Latitude: 4.6097, Longitude: -74.0817, Temperature: 24.5, Humidity: 49}
	msg := FormatMessage(DefaultTag, reading)
	received := time.Date(2024, 6, 13, 12, 0, 0, 0, time.UTC)
	r.Inject(radio.Packet{Payload: []byte(msg), RSSI: -97, SNR: 7.25, Received: received})

	select {
	case obs := <-fwd.obsChan:
		assert.Equal(t, Observation{
			Entity:   DefaultTag,
			Reading:  reading,
			RSSI:     -97,
			SNR:      7.25,
			Received: received,
		}, obs)
	case <-time.After(time.Second):
		t.Fatal("observation was not forwarded")
	}

	assert.Equal(t, []string{msg}, display.shown())
	display.mu.Lock()
	assert.Equal(t, -97, display.rssi)
	assert.Equal(t, 7.25, display.snr)
	display.mu.Unlock()

	cancel()
	assert.Equal(t, context.Canceled, <-done)
}

func TestReceiverMalformedPacket(t *testing.T) {
	r := radio.NewLoopback(2)
	rx := NewReceiver(radio.DefaultConfig(), r)
	fwd := &forwarderStub{obsChan: make(chan Observation, 2)}
	display := &displayStub{}
	rx.AddForwarder(fwd)
	rx.SetDisplay(display)

	cancel, done := runReceiver(t, rx)
	defer cancel()

	r.Inject(radio.Packet{Payload: []byte("hello world"), RSSI: -120})
	good := FormatMessage("Pedrito", Reading{Temperature: 1})
	r.Inject(radio.Packet{Payload: []byte(good), RSSI: -80})

	select {
	case obs := <-fwd.obsChan:
		assert.Equal(t, "Pedrito", obs.Entity, "the malformed packet must not be forwarded")
	case <-time.After(time.Second):
		t.Fatal("observation was not forwarded")
	}
	// every packet is still displayed
	assert.Equal(t, []string{"hello world", good}, display.shown())

	cancel()
	<-done
}

func TestReceiverForwarderError(t *testing.T) {
	r := radio.NewLoopback(2)
	rx := NewReceiver(radio.DefaultConfig(), r)
	failing := &forwarderStub{obsChan: make(chan Observation, 2), err: errors.New("network down")}
	ok := &forwarderStub{obsChan: make(chan Observation, 2)}
	rx.AddForwarder(failing)
	rx.AddForwarder(ok)

	cancel, done := runReceiver(t, rx)
	defer cancel()

	for i := 0; i < 2; i++ {
		r.Inject(radio.Packet{Payload: []byte(FormatMessage(DefaultTag, Reading{}))})
	}
	for i := 0; i < 2; i++ {
		select {
		case <-ok.obsChan:
		case <-time.After(time.Second):
			t.Fatal("receiver stopped after a forwarder error")
		}
	}

	cancel()
	<-done
}

type brokenRadio struct {
	*radio.Loopback
}

func (b brokenRadio) Receive(ctx context.Context) (radio.Packet, error) {
	return radio.Packet{}, errors.New("spi transfer failed")
}

func TestReceiverRadioError(t *testing.T) {
	rx := NewReceiver(radio.DefaultConfig(), brokenRadio{radio.NewLoopback(1)})
	err := rx.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spi transfer failed")
}
