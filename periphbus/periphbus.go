// Package periphbus connects a W5100 to a Linux host through periph.io SPI
// and GPIO drivers, e.g. on a Raspberry Pi or any board exposing spidev.
package periphbus

import (
	"io"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"github.com/soypat/w5100"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Config selects the host resources wired to the chip.
type Config struct {
	// Port is the SPI port name as registered in spireg, e.g. "SPI0.0".
	// Empty selects the first available port.
	Port      string
	Frequency physic.Frequency
	// SENPin and ResetPin are GPIO names as registered in gpioreg. An empty
	// name leaves the line undriven.
	SENPin   string
	ResetPin string
	Logger   *slog.Logger
}

// DefaultConfig returns the wiring used by the reference board: SEN on
// GPIO22 and RESET on GPIO12 at 1.2MHz.
func DefaultConfig() Config {
	return Config{
		Frequency: w5100.DefaultFrequency * physic.Hertz,
		SENPin:    "GPIO22",
		ResetPin:  "GPIO12",
	}
}

// Open initializes the host drivers, opens the SPI port and GPIOs and
// returns a device configuration ready for [w5100.Init]. The port is closed
// by the device's Deinit.
func Open(cfg Config) (w5100.Config, error) {
	if _, err := host.Init(); err != nil {
		return w5100.Config{}, errors.Wrap(err, "initializing periph host drivers")
	}
	port, err := spireg.Open(cfg.Port)
	if err != nil {
		return w5100.Config{}, errors.Wrapf(err, "opening SPI port %q", cfg.Port)
	}
	conn, err := port.Connect(cfg.Frequency, spi.Mode0, 8)
	if err != nil {
		return w5100.Config{}, multierr.Combine(errors.Wrapf(err, "connecting to %s", port), port.Close())
	}
	sen, err := pinByName(cfg.SENPin)
	if err == nil {
		var rst gpio.PinOut
		rst, err = pinByName(cfg.ResetPin)
		if err == nil {
			return New(conn, port, sen, rst, cfg.Logger), nil
		}
	}
	return w5100.Config{}, multierr.Combine(err, port.Close())
}

// New builds a device configuration from an already connected SPI conn.
// closer, sen and rst may be nil.
func New(conn spi.Conn, closer io.Closer, sen, rst gpio.PinOut, logger *slog.Logger) w5100.Config {
	bus := &Bus{conn: conn, closer: closer, mu: portLock(conn.String())}
	cfg := w5100.DefaultConfig(bus)
	cfg.Logger = logger
	cfg.Setup = func() error {
		var err error
		if sen != nil {
			err = multierr.Append(err, errors.Wrapf(sen.Out(gpio.Low), "configuring SEN %s", sen))
		}
		if rst != nil {
			err = multierr.Append(err, errors.Wrapf(rst.Out(gpio.Low), "configuring RESET %s", rst))
		}
		return err
	}
	if sen != nil {
		cfg.Hooks = w5100.EnableHooks(outputPin(sen, logger))
	}
	if rst != nil {
		cfg.Reset = outputPin(rst, logger)
	}
	return cfg
}

// Bus is an SPI connection to the chip. It implements [sync.Locker] so a
// device owns the port from Init to Deinit, and [io.Closer] to release it.
type Bus struct {
	conn   spi.Conn
	closer io.Closer
	mu     *sync.Mutex
}

func (b *Bus) Tx(w, r []byte) error { return b.conn.Tx(w, r) }
func (b *Bus) Lock()                { b.mu.Lock() }
func (b *Bus) Unlock()              { b.mu.Unlock() }
func (b *Bus) String() string       { return b.conn.String() }

func (b *Bus) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

var (
	portLocksMu sync.Mutex
	portLocks   = map[string]*sync.Mutex{}
)

// portLock returns the process wide lock for the named SPI port.
func portLock(name string) *sync.Mutex {
	portLocksMu.Lock()
	defer portLocksMu.Unlock()
	mu, ok := portLocks[name]
	if !ok {
		mu = new(sync.Mutex)
		portLocks[name] = mu
	}
	return mu
}

func pinByName(name string) (gpio.PinOut, error) {
	if name == "" {
		return nil, nil
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.Errorf("no GPIO pin found for %q", name)
	}
	return pin, nil
}

func outputPin(pin gpio.PinOut, logger *slog.Logger) w5100.OutputPin {
	return func(level bool) {
		if err := pin.Out(gpio.Level(level)); err != nil && logger != nil {
			logger.Error("periphbus:pin-out", slog.String("pin", pin.String()), slog.String("err", err.Error()))
		}
	}
}
