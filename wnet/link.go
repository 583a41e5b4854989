package wnet

import (
	"context"
	"errors"
	"log/slog"

	"github.com/soypat/lneto"
	"github.com/soypat/lneto/ethernet"
	"github.com/soypat/w5100/wreg"
)

var (
	// ErrFrameTooLarge is returned when a frame does not fit the buffer it
	// is copied to or the socket's TX memory. The link remains usable.
	ErrFrameTooLarge = errors.New("wnet: ethernet frame exceeds buffer")
	// ErrBadRxHeader means the receive ring lost frame alignment. The link
	// must be closed and reopened.
	ErrBadRxHeader = errors.New("wnet: corrupt MACRAW receive header")
	errLinkClosed  = errors.New("wnet: link closed")
)

// Link exchanges raw Ethernet frames through socket 0 in MACRAW mode so a
// software network stack can run on top of the chip.
type Link struct {
	s      *socket
	closed bool
	hw     [6]byte
	vld    lneto.Validator
}

// LinkConfig configures [Chip.OpenLink].
type LinkConfig struct {
	// FilterMAC only receives frames addressed to the chip or broadcast.
	FilterMAC bool
}

// OpenLink puts socket 0 in MACRAW mode. Socket 0 must have buffer memory
// assigned and not be in use.
func (c *Chip) OpenLink(ctx context.Context, cfg LinkConfig) (*Link, error) {
	s, err := c.claim(wreg.MACRAWSocket)
	if err != nil {
		return nil, err
	}
	mode := wreg.ModeMACRAW
	if cfg.FilterMAC {
		mode |= wreg.ModeMACFilter
	}
	err = s.open(ctx, mode, 0, wreg.StatusMACRAW)
	if err != nil {
		s.close()
		return nil, err
	}
	hw, err := c.HardwareAddr6()
	if err != nil {
		s.close()
		return nil, err
	}
	return &Link{s: s, hw: hw}, nil
}

// HardwareAddr6 returns the chip's MAC address read when the link was opened.
func (l *Link) HardwareAddr6() [6]byte { return l.hw }

// MTU returns the largest payload of an Ethernet frame the link can send.
func (l *Link) MTU() int {
	return min(int(l.s.txSize), wreg.MaxEthernetFrame) - 14
}

// SendEth transmits a complete Ethernet frame without FCS, which the chip appends.
func (l *Link) SendEth(frame []byte) error {
	if l.closed {
		return errLinkClosed
	}
	efrm, err := ethernet.NewFrame(frame)
	if err != nil {
		return err
	}
	l.vld.ResetErr()
	efrm.ValidateSize(&l.vld)
	if err := l.vld.ErrPop(); err != nil {
		return err
	}
	if len(frame) > wreg.MaxEthernetFrame || len(frame) > int(l.s.txSize) {
		return ErrFrameTooLarge
	}
	c := l.s.chip
	err = c.waitFor(context.Background(), func() (bool, error) {
		free, err := l.s.txFree()
		return int(free) >= len(frame), err
	})
	if err != nil {
		return err
	}
	err = l.s.writeTx(frame)
	if err != nil {
		return err
	}
	c.trace("link:send", slog.Int("len", len(frame)), slog.String("dst", string(ethernet.AppendAddr(nil, *efrm.DestinationHardwareAddr()))))
	return l.s.send(context.Background())
}

// RecvEth copies the next received Ethernet frame into buf and returns its
// length. It returns 0 and a nil error if no frame is pending. Frames that do
// not fit in buf are dropped and reported with an error.
func (l *Link) RecvEth(buf []byte) (int, error) {
	if l.closed {
		return 0, errLinkClosed
	}
	pending, err := l.s.rxReceived()
	if err != nil || pending == 0 {
		return 0, err
	}
	rd, err := l.s.rxPointer()
	if err != nil {
		return 0, err
	}
	var hdr [wreg.MACRAWHeaderSize]byte
	err = l.s.peekRx(rd, 0, hdr[:])
	if err != nil {
		return 0, err
	}
	total := get16(hdr[:])
	if total < wreg.MACRAWHeaderSize || total > pending {
		// Pointers are out of sync with the frame boundaries; only closing
		// and reopening the socket recovers.
		return 0, ErrBadRxHeader
	}
	n := int(total - wreg.MACRAWHeaderSize)
	if n > len(buf) {
		err = l.s.consumeRx(rd, total)
		if err != nil {
			return 0, err
		}
		return 0, ErrFrameTooLarge
	}
	err = l.s.peekRx(rd, wreg.MACRAWHeaderSize, buf[:n])
	if err != nil {
		return 0, err
	}
	err = l.s.consumeRx(rd, total)
	if err != nil {
		return 0, err
	}
	efrm, err := ethernet.NewFrame(buf[:n])
	if err != nil {
		return 0, err
	}
	l.vld.ResetErr()
	efrm.ValidateSize(&l.vld)
	if err := l.vld.ErrPop(); err != nil {
		return 0, err
	}
	l.s.chip.trace("link:recv", slog.Int("len", n), slog.String("src", string(ethernet.AppendAddr(nil, *efrm.SourceHardwareAddr()))))
	return n, nil
}

// Close closes the socket. The link cannot be used afterwards.
func (l *Link) Close() error {
	if l.closed {
		return errLinkClosed
	}
	l.closed = true
	return l.s.close()
}
