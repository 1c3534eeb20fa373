package lorasense

import "github.com/jd3nn1s/lorasense/sensor"

// SamplesPerCycle is how many sensor samples are averaged into one message.
const SamplesPerCycle = 10

// SampleBuffer holds one cycle of samples. Slots are overwritten every cycle,
// there is no history.
type SampleBuffer struct {
	temperature [SamplesPerCycle]float64
	humidity    [SamplesPerCycle]float64
}

func (b *SampleBuffer) Set(i int, s sensor.Sample) {
	b.temperature[i] = s.Temperature
	b.humidity[i] = s.Humidity
}

// Mean returns the arithmetic mean over every slot.
func (b *SampleBuffer) Mean() (temperature, humidity float64) {
	return mean(b.temperature[:]), mean(b.humidity[:])
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
