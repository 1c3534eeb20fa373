package lorasense

import (
	"context"

	"github.com/jd3nn1s/lorasense/gps"
)

type GPS interface {
	Close() error
	Start(context.Context, gps.Callbacks) error
}

// Forwarder receives every decoded observation on the receiver side.
type Forwarder interface {
	Forward(obs *Observation) error
}

// Display shows the last received packet.
type Display interface {
	ShowPacket(payload string, rssi int, snr float64) error
}
