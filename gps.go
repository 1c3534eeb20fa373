package lorasense

import (
	"context"
	"sync"

	"github.com/jd3nn1s/lorasense/gps"
	log "github.com/sirupsen/logrus"
)

const (
	// maximum horizontal dilution of precision before a fix is flagged
	maxHDOP = 20
)

var gpsConnect = func(port string, baud int) (GPS, error) {
	c, err := gps.Connect(port, baud)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// gpsRetryable keeps the most recent fix for the transmitter. Reads never
// block on the GPS: a missing fix reads as the zero value.
type gpsRetryable struct {
	connect func() (GPS, error)
	c       GPS

	mu      sync.Mutex
	fix     gps.Fix
	hadLock bool
}

func (g *gpsRetryable) Open() error {
	c, err := g.connect()
	g.c = c
	return err
}

func (g *gpsRetryable) Close() error {
	if g.c == nil {
		return nil
	}
	return g.c.Close()
}

func (g *gpsRetryable) Start(ctx context.Context) error {
	return g.c.Start(ctx, gps.Callbacks{
		Fix: g.fixFn,
	})
}

func (g *gpsRetryable) Name() string {
	return "gps"
}

func (g *gpsRetryable) fixFn(fix gps.Fix) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !fix.Valid {
		if g.hadLock {
			log.Warn("lost satellite fix")
		}
		g.hadLock = false
	} else {
		if !g.hadLock {
			log.WithFields(log.Fields{
				"satellites": fix.Satellites,
				"lat":        fix.Latitude,
				"lon":        fix.Longitude,
			}).Info("satellite fix acquired")
		}
		g.hadLock = true
		if fix.HDOP > maxHDOP {
			log.WithField("HDOP", fix.HDOP).Debug("poor resolution")
		}
	}
	g.fix = fix
}

// Latest returns the last fix. Without a satellite lock latitude and
// longitude are zero, which is what gets transmitted.
func (g *gpsRetryable) Latest() gps.Fix {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.fix.Valid {
		return gps.Fix{}
	}
	return g.fix
}

func runGPS(ctx context.Context, g *gpsRetryable) {
	err := retry(ctx, g)
	if err != nil && err != context.Canceled {
		log.Errorf("gps done: %v", err)
	}
}
