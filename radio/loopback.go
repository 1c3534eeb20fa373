package radio

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Loopback is an in-memory Radio. Every sent payload is delivered to
// Receive with a fixed signal report.
type Loopback struct {
	// FailConfigure makes Configure fail, emulating a missing radio.
	FailConfigure bool
	RSSI          int
	SNR           float64

	mu         sync.Mutex
	configured bool
	sent       [][]byte
	packets    chan Packet
}

func NewLoopback(bufferLen int) *Loopback {
	return &Loopback{
		RSSI:    -42,
		SNR:     9.5,
		packets: make(chan Packet, bufferLen),
	}
}

func (l *Loopback) Configure(cfg Config) error {
	if l.FailConfigure {
		return errors.New("loopback radio configured to fail")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.configured = true
	l.mu.Unlock()
	return nil
}

func (l *Loopback) Send(ctx context.Context, payload []byte) error {
	l.mu.Lock()
	configured := l.configured
	if configured {
		l.sent = append(l.sent, append([]byte(nil), payload...))
	}
	l.mu.Unlock()
	if !configured {
		return errors.New("loopback radio not configured")
	}

	pkt := Packet{
		Payload:  append([]byte(nil), payload...),
		RSSI:     l.RSSI,
		SNR:      l.SNR,
		Received: time.Now(),
	}
	select {
	case l.packets <- pkt:
	case <-ctx.Done():
		return ctx.Err()
	default:
		// receiver is not keeping up, drop like the air would
	}
	return nil
}

// Inject delivers a packet to Receive as if it came over the air.
func (l *Loopback) Inject(pkt Packet) {
	l.packets <- pkt
}

func (l *Loopback) Receive(ctx context.Context) (Packet, error) {
	select {
	case pkt := <-l.packets:
		return pkt, nil
	case <-ctx.Done():
		return Packet{}, ctx.Err()
	}
}

// Sent returns a copy of every payload accepted by Send.
func (l *Loopback) Sent() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.sent))
	copy(out, l.sent)
	return out
}

func (l *Loopback) Close() error {
	return nil
}
