package lorasense

import "time"

// Reading is the content of one transmitted message.
type Reading struct {
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lon"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// Observation is a Reading as seen by the receiver.
type Observation struct {
	Entity   string    `json:"entity"`
	Reading  Reading   `json:"reading"`
	RSSI     int       `json:"rssi"`
	SNR      float64   `json:"snr"`
	Received time.Time `json:"received"`
}
