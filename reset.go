package w5100

import (
	"log/slog"
	"time"
)

// HardwareReset pulses the chip's reset line: high for the configured
// ResetPulse, then low. It blocks for the duration of the pulse and does not
// wait for in-flight register accesses, so callers must not reset the chip
// while another goroutine is using it. Does nothing if no reset line is configured.
func (d *Device) HardwareReset() {
	if d == nil || d.reset == nil {
		return
	}
	d.debug("w5100:hw-reset", slog.Duration("pulse", d.resetPulse))
	d.reset(true)
	time.Sleep(d.resetPulse)
	d.reset(false)
}
