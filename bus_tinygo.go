//go:build tinygo

package w5100

import (
	"machine"

	"tinygo.org/x/drivers"
)

// ConfigTinyGo returns a Config for a W5100 on a hardware SPI peripheral.
// The peripheral must already be configured with its own chip select handling
// or with cs wired as a GPIO, in which case cs is driven by the hooks.
// Pass machine.NoPin for cs or rst when they are not wired.
func ConfigTinyGo(spi drivers.SPI, cs, sen, rst machine.Pin) Config {
	cfg := DefaultConfig(spi)
	cfg.Setup = func() error {
		output := machine.PinConfig{Mode: machine.PinOutput}
		if cs != machine.NoPin {
			cs.Configure(output)
			cs.High()
		}
		sen.Configure(output)
		if rst != machine.NoPin {
			rst.Configure(output)
		}
		return nil
	}
	cfg.Hooks = TxHooks{
		Pre: func() {
			sen.High()
			if cs != machine.NoPin {
				cs.Low()
			}
		},
		Post: func() {
			if cs != machine.NoPin {
				cs.High()
			}
			sen.Low()
		},
	}
	if rst != machine.NoPin {
		cfg.Reset = rst.Set
	}
	return cfg
}
