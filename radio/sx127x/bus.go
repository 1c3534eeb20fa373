package sx127x

import "github.com/pkg/errors"

// SPI framing: the first byte carries the register address, with the top bit
// set for writes. Bursts auto-increment except on regFifo.

func (d *Dev) readReg(reg byte) (byte, error) {
	w := []byte{reg & 0x7f, 0}
	r := make([]byte, len(w))
	if err := d.bus.Tx(w, r); err != nil {
		return 0, err
	}
	return r[1], nil
}

func (d *Dev) writeReg(reg, v byte) error {
	return d.bus.Tx([]byte{reg | 0x80, v}, nil)
}

func (d *Dev) readFifo(n int) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	w := make([]byte, n+1)
	w[0] = regFifo
	r := make([]byte, len(w))
	if err := d.bus.Tx(w, r); err != nil {
		return nil, err
	}
	return r[1:], nil
}

// regWriter runs a sequence of register accesses and keeps the first error.
type regWriter struct {
	d   *Dev
	err error
}

func (w *regWriter) write(reg, v byte) {
	if w.err != nil {
		return
	}
	if err := w.d.writeReg(reg, v); err != nil {
		w.err = errors.Wrapf(err, "write 0x%02x", reg)
	}
}

// update replaces the bits selected by mask with bits.
func (w *regWriter) update(reg, mask, bits byte) {
	if w.err != nil {
		return
	}
	v, err := w.d.readReg(reg)
	if err != nil {
		w.err = errors.Wrapf(err, "read 0x%02x", reg)
		return
	}
	w.write(reg, (v&^mask)|(bits&mask))
}

func (w *regWriter) writeFifo(payload []byte) {
	if w.err != nil || len(payload) == 0 {
		return
	}
	buf := make([]byte, len(payload)+1)
	buf[0] = regFifo | 0x80
	copy(buf[1:], payload)
	if err := w.d.bus.Tx(buf, nil); err != nil {
		w.err = errors.Wrap(err, "write FIFO")
	}
}
