//go:build tinygo

package w5100

import (
	"device"
	"errors"
	"machine"
)

var errTxLength = errors.New("w5100: bit-bang transfer needs equal length buffers")

// SPIbb is a bit-banged mode 0 SPI bus for boards where no SPI peripheral or
// PIO state machine is free. Delay is a quarter clock period in busy loop
// iterations.
type SPIbb struct {
	SCK   machine.Pin
	SDO   machine.Pin
	SDI   machine.Pin
	Delay uint32
}

// Configure sets SCK and SDO as outputs driven low and SDI as input.
func (s *SPIbb) Configure() {
	s.SCK.Configure(machine.PinConfig{Mode: machine.PinOutput})
	s.SDO.Configure(machine.PinConfig{Mode: machine.PinOutput})
	s.SDI.Configure(machine.PinConfig{Mode: machine.PinInputPulldown})
	s.SCK.Low()
	s.SDO.Low()
	if s.Delay == 0 {
		s.Delay = 1
	}
}

// Tx shifts out w while shifting r in, most significant bit first.
func (s *SPIbb) Tx(w, r []byte) error {
	if len(w) != len(r) {
		return errTxLength
	}
	for i, b := range w {
		r[i] = s.transfer(b)
	}
	return nil
}

// Transfer shifts a single byte out and returns the byte shifted in.
func (s *SPIbb) Transfer(b byte) (byte, error) {
	return s.transfer(b), nil
}

//go:inline
func (s *SPIbb) transfer(b byte) (in byte) {
	for bit := 7; bit >= 0; bit-- {
		in <<= 1
		if s.clockBit(b&(1<<bit) != 0) {
			in |= 1
		}
	}
	return in
}

// clockBit sets SDO before the rising edge and samples SDI on it.
//
//go:inline
func (s *SPIbb) clockBit(out bool) bool {
	s.SDO.Set(out)
	s.delay()
	s.SCK.High()
	s.delay()
	in := s.SDI.Get()
	s.delay()
	s.SCK.Low()
	s.delay()
	return in
}

//go:inline
func (s *SPIbb) delay() {
	for i := uint32(0); i < s.Delay; i++ {
		device.Asm("nop")
	}
}

// ConfigBitBang returns a Config for a W5100 on a bit-banged bus. cs and rst
// may be machine.NoPin.
func ConfigBitBang(bus *SPIbb, cs, sen, rst machine.Pin) Config {
	cfg := ConfigTinyGo(bus, cs, sen, rst)
	setup := cfg.Setup
	cfg.Setup = func() error {
		bus.Configure()
		return setup()
	}
	// Frames are clocked by the CPU and cannot stall.
	cfg.TxTimeout = 0
	return cfg
}
