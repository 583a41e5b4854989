//go:build rp2040 && !w5100nopio

package w5100

import (
	"machine"

	pio "github.com/tinygo-org/pio/rp2-pio"
	"github.com/tinygo-org/pio/rp2-pio/piolib"
)

// PicoPIOPins are the RP2040 pins wired to the W5100.
type PicoPIOPins struct {
	SCK, SDO, SDI machine.Pin
	// CS is the chip select. The PIO SPI program does not drive it so it is
	// toggled by the device hooks together with SEN.
	CS    machine.Pin
	SEN   machine.Pin
	Reset machine.Pin
}

// ConfigPicoPIO returns a Config for a W5100 driven by a PIO state machine
// running the SPI program on the given block. Frequency of zero selects [DefaultFrequency].
func ConfigPicoPIO(block *pio.PIO, pins PicoPIOPins, frequency uint32) (Config, error) {
	if frequency == 0 {
		frequency = DefaultFrequency
	}
	sm, err := block.ClaimStateMachine()
	if err != nil {
		return Config{}, err
	}
	spi, err := piolib.NewSPI(sm, machine.SPIConfig{
		Frequency: frequency,
		SCK:       pins.SCK,
		SDO:       pins.SDO,
		SDI:       pins.SDI,
		Mode:      0,
	})
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig(spi)
	cfg.Setup = func() error {
		output := machine.PinConfig{Mode: machine.PinOutput}
		pins.CS.Configure(output)
		pins.SEN.Configure(output)
		pins.Reset.Configure(output)
		pins.CS.High()
		return nil
	}
	cfg.Hooks = TxHooks{
		Pre: func() {
			pins.SEN.High()
			pins.CS.Low()
		},
		Post: func() {
			pins.CS.High()
			pins.SEN.Low()
		},
	}
	cfg.Reset = pins.Reset.Set
	return cfg, nil
}
