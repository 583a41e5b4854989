// Package wnet drives the W5100 above the SPI link layer: network
// configuration, hardware sockets, a raw Ethernet link over socket 0 in
// MACRAW mode and TCP connections handled entirely by the chip.
//
// wnet only needs the register access contract of [RegisterIO], which
// *w5100.Device implements.
package wnet

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/soypat/lneto/ethernet"
	"github.com/soypat/w5100/wreg"
)

// RegisterIO reads and writes consecutive chip registers.
type RegisterIO interface {
	Read(addr uint16, buf []byte) error
	Write(addr uint16, data []byte) error
}

var (
	errNotDetected   = errors.New("wnet: W5100 not detected, unexpected reset values")
	errNoSocket      = errors.New("wnet: no free socket")
	errSocketBusy    = errors.New("wnet: socket in use")
	errNoBuffer      = errors.New("wnet: socket has no buffer memory")
	errInvalidAddr   = errors.New("wnet: only IPv4 addresses are supported")
	errResetTimeout  = errors.New("wnet: software reset did not complete")
	errUnexpectState = errors.New("wnet: unexpected socket state")
	errSendTimeout   = errors.New("wnet: chip timed out sending data")
)

// NetConfig is the static network configuration of the chip.
type NetConfig struct {
	HardwareAddr [6]byte
	// Addr is the chip's IPv4 address and subnet.
	Addr    netip.Prefix
	Gateway netip.Addr
	// RetryTime is the TCP/ARP retransmission timeout, in steps of 100us.
	// Zero keeps the chip's value.
	RetryTime time.Duration
	// RetryCount is the number of retransmissions before a timeout. Zero keeps the chip's value.
	RetryCount uint8
	// TXSizes and RXSizes assign buffer memory to each socket. The zero value keeps the chip's split.
	TXSizes [wreg.SocketCount]uint16
	RXSizes [wreg.SocketCount]uint16
}

// DefaultNetConfig returns a static configuration on 192.168.88.0/27 with a
// locally administered hardware address.
func DefaultNetConfig() NetConfig {
	return NetConfig{
		HardwareAddr: [6]byte{0x02, 0x00, 0x57, 0x51, 0x00, 0x01},
		Addr:         netip.MustParsePrefix("192.168.88.10/27"),
		Gateway:      netip.MustParseAddr("192.168.88.1"),
	}
}

// ChipConfig configures a [Chip].
type ChipConfig struct {
	Logger *slog.Logger
	// PollInterval is the wait between register polls while waiting on the
	// chip. Zero selects 1ms.
	PollInterval time.Duration
	// CommandTimeout bounds waits for the chip to accept commands and finish
	// sending. Zero selects 1s.
	CommandTimeout time.Duration
}

// Chip is a W5100 accessed through its registers.
type Chip struct {
	regs    RegisterIO
	logger  *slog.Logger
	poll    time.Duration
	cmdWait time.Duration

	mu      sync.Mutex
	used    [wreg.SocketCount]bool
	txSizes [wreg.SocketCount]uint16
	rxSizes [wreg.SocketCount]uint16
}

// NewChip returns a Chip using the register access of regs. The chip's
// buffer split is assumed to be the reset default until [Chip.Configure]
// or [Chip.SoftReset] is called.
func NewChip(regs RegisterIO, cfg ChipConfig) *Chip {
	c := &Chip{
		regs:    regs,
		logger:  cfg.Logger,
		poll:    cfg.PollInterval,
		cmdWait: cfg.CommandTimeout,
	}
	if c.poll <= 0 {
		c.poll = time.Millisecond
	}
	if c.cmdWait <= 0 {
		c.cmdWait = time.Second
	}
	c.txSizes = wreg.DecodeMemSizes(wreg.TMSR_RESET)
	c.rxSizes = wreg.DecodeMemSizes(wreg.RMSR_RESET)
	return c
}

// SoftReset resets all chip registers through the MR reset bit and waits for
// the chip to clear it. Open sockets become unusable.
func (c *Chip) SoftReset(ctx context.Context) error {
	c.debug("chip:soft-reset")
	err := c.write8(wreg.MR, wreg.MR_RST)
	if err != nil {
		return err
	}
	err = c.waitFor(ctx, func() (bool, error) {
		mr, err := c.read8(wreg.MR)
		return mr&wreg.MR_RST == 0, err
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return errResetTimeout
	} else if err != nil {
		return err
	}
	c.mu.Lock()
	c.used = [wreg.SocketCount]bool{}
	c.txSizes = wreg.DecodeMemSizes(wreg.TMSR_RESET)
	c.rxSizes = wreg.DecodeMemSizes(wreg.RMSR_RESET)
	c.mu.Unlock()
	return nil
}

// Detect checks the retry registers hold their reset values. It is only
// meaningful right after a hardware or software reset and fails when no
// chip answers on the bus.
func (c *Chip) Detect() error {
	var buf [3]byte
	err := c.regs.Read(wreg.RTR, buf[:])
	if err != nil {
		return err
	}
	rtr := binary.BigEndian.Uint16(buf[:2])
	if rtr != wreg.RTR_RESET || buf[2] != wreg.RCR_RESET {
		c.logerr("chip:detect", slog.Uint64("rtr", uint64(rtr)), slog.Uint64("rcr", uint64(buf[2])))
		return errNotDetected
	}
	return nil
}

// Configure writes the network configuration to the chip.
func (c *Chip) Configure(cfg NetConfig) error {
	if !cfg.Addr.Addr().Is4() || (cfg.Gateway.IsValid() && !cfg.Gateway.Is4()) {
		return errInvalidAddr
	}
	var regs [wreg.SIPR + 4 - wreg.GAR]byte
	var gw [4]byte
	if cfg.Gateway.IsValid() {
		gw = cfg.Gateway.As4()
	}
	mask := prefixMask(cfg.Addr.Bits())
	ip := cfg.Addr.Addr().As4()
	copy(regs[wreg.GAR-wreg.GAR:], gw[:])
	copy(regs[wreg.SUBR-wreg.GAR:], mask[:])
	copy(regs[wreg.SHAR-wreg.GAR:], cfg.HardwareAddr[:])
	copy(regs[wreg.SIPR-wreg.GAR:], ip[:])
	err := c.regs.Write(wreg.GAR, regs[:])
	if err != nil {
		return err
	}
	if cfg.RetryTime > 0 {
		err = c.write16(wreg.RTR, uint16(cfg.RetryTime/(100*time.Microsecond)))
		if err != nil {
			return err
		}
	}
	if cfg.RetryCount > 0 {
		err = c.write8(wreg.RCR, cfg.RetryCount)
		if err != nil {
			return err
		}
	}
	if cfg.TXSizes != [wreg.SocketCount]uint16{} || cfg.RXSizes != [wreg.SocketCount]uint16{} {
		tmsr, err := wreg.EncodeMemSizes(cfg.TXSizes)
		if err != nil {
			return err
		}
		rmsr, err := wreg.EncodeMemSizes(cfg.RXSizes)
		if err != nil {
			return err
		}
		err = c.regs.Write(wreg.RMSR, []byte{rmsr, tmsr})
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.txSizes, c.rxSizes = cfg.TXSizes, cfg.RXSizes
		c.mu.Unlock()
	}
	c.info("chip:configured",
		slog.String("addr", cfg.Addr.String()),
		slog.String("gw", cfg.Gateway.String()),
		slog.String("hw", string(ethernet.AppendAddr(nil, cfg.HardwareAddr))),
	)
	return nil
}

// ReadNetConfig reads back the network configuration from the chip.
func (c *Chip) ReadNetConfig() (cfg NetConfig, err error) {
	var regs [wreg.TMSR + 1 - wreg.GAR]byte
	err = c.regs.Read(wreg.GAR, regs[:])
	if err != nil {
		return cfg, err
	}
	cfg.Gateway = netip.AddrFrom4([4]byte(regs[wreg.GAR-wreg.GAR:]))
	copy(cfg.HardwareAddr[:], regs[wreg.SHAR-wreg.GAR:])
	ip := netip.AddrFrom4([4]byte(regs[wreg.SIPR-wreg.GAR:]))
	bits := maskBits([4]byte(regs[wreg.SUBR-wreg.GAR:]))
	cfg.Addr = netip.PrefixFrom(ip, bits)
	cfg.RetryTime = time.Duration(binary.BigEndian.Uint16(regs[wreg.RTR-wreg.GAR:])) * 100 * time.Microsecond
	cfg.RetryCount = regs[wreg.RCR-wreg.GAR]
	cfg.RXSizes = wreg.DecodeMemSizes(regs[wreg.RMSR-wreg.GAR])
	cfg.TXSizes = wreg.DecodeMemSizes(regs[wreg.TMSR-wreg.GAR])
	return cfg, nil
}

// HardwareAddr6 returns the MAC address programmed in the chip.
func (c *Chip) HardwareAddr6() (hw [6]byte, err error) {
	err = c.regs.Read(wreg.SHAR, hw[:])
	return hw, err
}

// Addr returns the chip's IPv4 address.
func (c *Chip) Addr() (netip.Addr, error) {
	var ip [4]byte
	err := c.regs.Read(wreg.SIPR, ip[:])
	return netip.AddrFrom4(ip), err
}

// claim reserves socket n, or the first free socket if n is negative.
func (c *Chip) claim(n int) (*socket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 {
		for i := range c.used {
			if !c.used[i] && c.txSizes[i] != 0 && c.rxSizes[i] != 0 {
				n = i
				break
			}
		}
		if n < 0 {
			return nil, errNoSocket
		}
	} else if c.used[n] {
		return nil, errSocketBusy
	}
	if c.txSizes[n] == 0 || c.rxSizes[n] == 0 {
		return nil, errNoBuffer
	}
	c.used[n] = true
	txBases := wreg.BufferBases(wreg.TXBase, c.txSizes)
	rxBases := wreg.BufferBases(wreg.RXBase, c.rxSizes)
	return &socket{
		chip:   c,
		n:      uint8(n),
		txBase: txBases[n],
		txSize: c.txSizes[n],
		rxBase: rxBases[n],
		rxSize: c.rxSizes[n],
	}, nil
}

func (c *Chip) unclaim(n uint8) {
	c.mu.Lock()
	c.used[n] = false
	c.mu.Unlock()
}

// waitFor polls cond until it returns true, an error, or ctx is done.
func (c *Chip) waitFor(ctx context.Context, cond func() (bool, error)) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cmdWait)
		defer cancel()
	}
	for {
		done, err := cond()
		if err != nil || done {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.poll):
		}
	}
}

func (c *Chip) read8(addr uint16) (byte, error) {
	var buf [1]byte
	err := c.regs.Read(addr, buf[:])
	return buf[0], err
}

func (c *Chip) write8(addr uint16, v byte) error {
	return c.regs.Write(addr, []byte{v})
}

func (c *Chip) write16(addr uint16, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return c.regs.Write(addr, buf[:])
}

// read16 reads a 16 bit register the chip may update between the two byte
// accesses. The value is re-read until two consecutive reads agree.
func (c *Chip) read16(addr uint16) (uint16, error) {
	var buf [2]byte
	err := c.regs.Read(addr, buf[:])
	if err != nil {
		return 0, err
	}
	prev := binary.BigEndian.Uint16(buf[:])
	for {
		err = c.regs.Read(addr, buf[:])
		if err != nil {
			return 0, err
		}
		v := binary.BigEndian.Uint16(buf[:])
		if v == prev {
			return v, nil
		}
		prev = v
	}
}

func prefixMask(bits int) (mask [4]byte) {
	bits = max(0, min(bits, 32))
	binary.BigEndian.PutUint32(mask[:], ^uint32(0)<<(32-bits))
	return mask
}

func maskBits(mask [4]byte) int {
	v := binary.BigEndian.Uint32(mask[:])
	bits := 0
	for v&(1<<31) != 0 {
		bits++
		v <<= 1
	}
	return bits
}
