// Package w5100 implements the SPI link layer of the WIZnet W5100 hardwired
// TCP/IP Ethernet controller. It turns register accesses into the chip's
// 4 byte SPI frames, serializes concurrent callers and drives the SPI-enable
// and reset lines of the chip.
//
// Upper layers see the chip through [Device.Read] and [Device.Write], which
// access consecutive register addresses starting at a 16 bit base address.
package w5100

import (
	"log/slog"
	"time"
)

// Bus is a full duplex SPI connection to a single W5100. Each call to Tx is
// one SPI transaction: chip select is asserted for the whole call.
// periph.io spi.Conn, TinyGo machine.SPI and drivers.SPI satisfy Bus.
//
// If the Bus also implements [sync.Locker] the device holds the lock from
// Init until Deinit so no other device may use the bus in between. If it
// implements [io.Closer] it is closed on Deinit.
//
// When [Config.TxTimeout] is set, a Tx that overruns it is abandoned, not
// cancelled. The next transaction may call Tx again while the abandoned
// call is still running, with different buffers. Implementations that
// cannot tolerate that should return promptly or run without a timeout.
type Bus interface {
	Tx(w, r []byte) error
}

// OutputPin sets the level of a GPIO configured as output.
type OutputPin func(level bool)

// TxHooks are called synchronously before and after every SPI transaction.
// They must not block. The W5100 SEN line is usually driven from them.
type TxHooks struct {
	Pre  func()
	Post func()
}

// EnableHooks returns hooks that drive the chip's SPI-enable (SEN) line high
// during each transaction and low afterwards.
func EnableHooks(sen OutputPin) TxHooks {
	return TxHooks{
		Pre:  func() { sen(true) },
		Post: func() { sen(false) },
	}
}

func (h TxHooks) pre() {
	if h.Pre != nil {
		h.Pre()
	}
}

func (h TxHooks) post() {
	if h.Post != nil {
		h.Post()
	}
}

// Config configures a [Device]. Only Bus is required.
type Config struct {
	Bus   Bus
	Hooks TxHooks
	// Reset drives the chip's hardware reset line. May be nil if the line is not wired.
	Reset OutputPin
	// Setup runs once during Init before any other pin is touched. Typically
	// configures the reset and SEN GPIOs as outputs.
	Setup func() error
	// ResetPulse is how long the reset line is held high by HardwareReset.
	// Zero selects [DefaultResetPulse]. Other values under [MinResetPulse]
	// are raised to it.
	ResetPulse time.Duration
	// TxTimeout bounds a single SPI transaction. Zero disables the bound.
	TxTimeout time.Duration
	// LockTimeout bounds the wait for exclusive access to the chip. Zero waits forever.
	LockTimeout time.Duration
	// CheckBounds rejects accesses that would run past address 0xFFFF
	// instead of silently wrapping around.
	CheckBounds bool
	Logger      *slog.Logger
}

const (
	// MinResetPulse is the datasheet minimum reset pulse width.
	MinResetPulse = 2 * time.Microsecond
	// DefaultResetPulse is one 100Hz scheduler tick.
	DefaultResetPulse  = 10 * time.Millisecond
	DefaultTxTimeout   = 100 * time.Millisecond
	DefaultLockTimeout = 10 * time.Second
	// DefaultFrequency is the SPI clock the W5100 is known to run reliably at
	// on long wires. The chip is rated for 14MHz.
	DefaultFrequency = 1_200_000
)

// DefaultConfig returns a Config using bus with default timings and bounds checking enabled.
func DefaultConfig(bus Bus) Config {
	return Config{
		Bus:         bus,
		ResetPulse:  DefaultResetPulse,
		TxTimeout:   DefaultTxTimeout,
		LockTimeout: DefaultLockTimeout,
		CheckBounds: true,
	}
}
