package lorasense

import (
	"testing"

	"github.com/jd3nn1s/lorasense/sensor"
	"github.com/stretchr/testify/assert"
)

func TestSampleBufferMean(t *testing.T) {
	b := SampleBuffer{}
	for i := 0; i < SamplesPerCycle; i++ {
		b.Set(i, sensor.Sample{
			Temperature: float64(20 + i),
			Humidity:    float64(40 + 2*i),
		})
	}
	temp, hum := b.Mean()
	assert.InDelta(t, 24.5, temp, 1e-9)
	assert.InDelta(t, 49.0, hum, 1e-9)
}

func TestSampleBufferZero(t *testing.T) {
	b := SampleBuffer{}
	temp, hum := b.Mean()
	assert.Equal(t, 0.0, temp)
	assert.Equal(t, 0.0, hum)
}

func TestSampleBufferOverwrite(t *testing.T) {
	b := SampleBuffer{}
	for i := 0; i < SamplesPerCycle; i++ {
		b.Set(i, sensor.Sample{Temperature: 100, Humidity: 100})
	}
	for i := 0; i < SamplesPerCycle; i++ {
		b.Set(i, sensor.Sample{Temperature: 10, Humidity: 30})
	}
	temp, hum := b.Mean()
	assert.Equal(t, 10.0, temp)
	assert.Equal(t, 30.0, hum)
}
