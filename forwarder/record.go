package forwarder

import (
	"encoding/binary"

	"github.com/jd3nn1s/lorasense"
)

type Header struct {
	Type uint8
}

const TypeReading = 1

const entityLen = 16

// Record is the fixed size little-endian encoding of an observation sent
// after the header.
type Record struct {
	Entity      [entityLen]byte
	Latitude    float64
	Longitude   float64
	Temperature float32
	Humidity    float32
	RSSI        int16
	SNR         float32
	// Received is in unix milliseconds
	Received int64
}

var maxRecordSize = binary.Size(Header{}) + binary.Size(Record{})

func NewRecord(obs *lorasense.Observation) Record {
	r := Record{
		Latitude:    obs.Reading.Latitude,
		Longitude:   obs.Reading.Longitude,
		Temperature: float32(obs.Reading.Temperature),
		Humidity:    float32(obs.Reading.Humidity),
		RSSI:        int16(obs.RSSI),
		SNR:         float32(obs.SNR),
		Received:    obs.Received.UnixMilli(),
	}
	// longer tags are truncated
	copy(r.Entity[:], obs.Entity)
	return r
}

// EntityName returns the tag with the zero padding removed.
func (r Record) EntityName() string {
	n := 0
	for n < entityLen && r.Entity[n] != 0 {
		n++
	}
	return string(r.Entity[:n])
}
