// Package display renders the last received packet on an SSD1306 OLED.
package display

import (
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"
)

// baselines of the four text lines on a 64 pixel high panel
var baselines = []int{12, 26, 40, 56}

var face = basicfont.Face7x13

type drawer interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
	Halt() error
}

type OLED struct {
	mu     sync.Mutex
	dev    drawer
	closer io.Closer
}

func Open(busName string) (*OLED, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "unable to initialise periph host")
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open I2C bus %q", busName)
	}
	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		_ = bus.Close()
		return nil, errors.Wrap(err, "unable to open ssd1306")
	}
	o := New(dev)
	o.closer = bus
	return o, nil
}

func New(dev drawer) *OLED {
	return &OLED{dev: dev}
}

func (o *OLED) ShowPacket(payload string, rssi int, snr float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	bounds := o.dev.Bounds()
	img := Render(bounds, Lines(payload, rssi, snr, bounds.Dx()))
	return errors.Wrap(o.dev.Draw(bounds, img, image.Point{}), "unable to draw")
}

func (o *OLED) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	err := o.dev.Halt()
	if o.closer != nil {
		if cerr := o.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Lines returns the text shown for a packet, the payload cut to what fits in
// width pixels.
func Lines(payload string, rssi int, snr float64, width int) []string {
	maxChars := width / face.Advance
	if r := []rune(payload); len(r) > maxChars {
		payload = string(r[:maxChars])
	}
	return []string{
		"Received OK!",
		payload,
		fmt.Sprintf("RSSI:%d", rssi),
		fmt.Sprintf("SNR:%.1f", snr),
	}
}

func Render(bounds image.Rectangle, lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(bounds)
	d := font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{C: image1bit.On},
		Face: face,
	}
	for i, line := range lines {
		if i >= len(baselines) {
			break
		}
		d.Dot = fixed.P(0, baselines[i])
		d.DrawString(line)
	}
	return img
}
