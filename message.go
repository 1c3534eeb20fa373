package lorasense

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// DefaultTag names the transmitting entity in every message.
const DefaultTag = "Joselito"

const tagSeparator = "$"

var ErrMalformedMessage = errors.New("malformed message")

// FormatMessage renders r as the tag followed by the pseudo-JSON body the
// downstream IoT agent expects. Field order is fixed.
func FormatMessage(tag string, r Reading) string {
	return fmt.Sprintf(`%s%s{"lat": {"value":%.6f},"lon": {"value":%.6f},"temp": {"value":%.2f},"humedad": {"value":%.2f}}`,
		tag, tagSeparator, r.Latitude, r.Longitude, r.Temperature, r.Humidity)
}

type messageValue struct {
	Value *float64 `json:"value"`
}

type messageBody struct {
	Lat     messageValue `json:"lat"`
	Lon     messageValue `json:"lon"`
	Temp    messageValue `json:"temp"`
	Humedad messageValue `json:"humedad"`
}

// ParseMessage is the inverse of FormatMessage.
func ParseMessage(payload string) (string, Reading, error) {
	tag, body, found := strings.Cut(payload, tagSeparator)
	if !found {
		return "", Reading{}, errors.Wrap(ErrMalformedMessage, "missing tag separator")
	}
	if tag == "" {
		return "", Reading{}, errors.Wrap(ErrMalformedMessage, "empty tag")
	}

	var m messageBody
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return "", Reading{}, errors.Wrapf(ErrMalformedMessage, "body: %v", err)
	}
	fields := []struct {
		name string
		v    *float64
	}{
		{"lat", m.Lat.Value},
		{"lon", m.Lon.Value},
		{"temp", m.Temp.Value},
		{"humedad", m.Humedad.Value},
	}
	for _, f := range fields {
		if f.v == nil {
			return "", Reading{}, errors.Wrapf(ErrMalformedMessage, "missing %s", f.name)
		}
	}

	return tag, Reading{
		Latitude:    *m.Lat.Value,
		Longitude:   *m.Lon.Value,
		Temperature: *m.Temp.Value,
		Humidity:    *m.Humedad.Value,
	}, nil
}
