package wnet

import (
	"context"
	"encoding/binary"
	"log/slog"

	"github.com/soypat/w5100/wreg"
	"golang.org/x/exp/constraints"
)

// socket is one of the chip's four hardware sockets together with the
// location of its TX and RX ring buffers.
type socket struct {
	chip   *Chip
	n      uint8
	txBase uint16
	txSize uint16
	rxBase uint16
	rxSize uint16
}

func (s *socket) reg(off uint16) uint16 { return wreg.SocketReg(s.n, off) }

// open sets the socket mode and source port and issues OPEN, waiting for the
// chip to report want.
func (s *socket) open(ctx context.Context, mode wreg.SocketMode, port uint16, want wreg.Status) error {
	err := s.chip.write8(s.reg(wreg.Sn_MR), byte(mode))
	if err == nil {
		err = s.chip.write16(s.reg(wreg.Sn_PORT), port)
	}
	if err == nil {
		err = s.chip.write8(s.reg(wreg.Sn_IR), 0xff)
	}
	if err == nil {
		err = s.command(ctx, wreg.CmdOpen)
	}
	if err != nil {
		return err
	}
	st, err := s.status()
	if err != nil {
		return err
	}
	if st != want {
		s.chip.logerr("socket:open", slog.Int("n", int(s.n)), slog.String("status", st.String()))
		return errUnexpectState
	}
	s.chip.debug("socket:open", slog.Int("n", int(s.n)), slog.String("mode", mode.String()), slog.Uint64("port", uint64(port)))
	return nil
}

// command writes cmd to Sn_CR and waits for the chip to accept it.
func (s *socket) command(ctx context.Context, cmd wreg.Command) error {
	s.chip.trace("socket:cmd", slog.Int("n", int(s.n)), slog.String("cmd", cmd.String()))
	err := s.chip.write8(s.reg(wreg.Sn_CR), byte(cmd))
	if err != nil {
		return err
	}
	return s.chip.waitFor(ctx, func() (bool, error) {
		cr, err := s.chip.read8(s.reg(wreg.Sn_CR))
		return cr == 0, err
	})
}

// close issues CLOSE and releases the socket for reuse.
func (s *socket) close() error {
	err := s.command(context.Background(), wreg.CmdClose)
	if err == nil {
		err = s.chip.write8(s.reg(wreg.Sn_IR), 0xff)
	}
	s.chip.unclaim(s.n)
	return err
}

func (s *socket) status() (wreg.Status, error) {
	st, err := s.chip.read8(s.reg(wreg.Sn_SR))
	return wreg.Status(st), err
}

func (s *socket) interrupts() (byte, error) {
	return s.chip.read8(s.reg(wreg.Sn_IR))
}

func (s *socket) clearInterrupts(mask byte) error {
	return s.chip.write8(s.reg(wreg.Sn_IR), mask)
}

func (s *socket) txFree() (uint16, error) {
	return s.chip.read16(s.reg(wreg.Sn_TX_FSR))
}

func (s *socket) rxReceived() (uint16, error) {
	return s.chip.read16(s.reg(wreg.Sn_RX_RSR))
}

// writeTx copies data into the TX ring at the write pointer and advances it.
// The caller must check there is enough free space and issue SEND afterwards.
func (s *socket) writeTx(data []byte) error {
	wr, err := s.chip.read16(s.reg(wreg.Sn_TX_WR))
	if err != nil {
		return err
	}
	off, first := ringSpan(wr, uint16(len(data)), s.txSize)
	err = s.chip.regs.Write(s.txBase+off, data[:first])
	if err == nil && int(first) < len(data) {
		err = s.chip.regs.Write(s.txBase, data[first:])
	}
	if err != nil {
		return err
	}
	return s.chip.write16(s.reg(wreg.Sn_TX_WR), wr+uint16(len(data)))
}

// peekRx copies len(buf) bytes from the RX ring starting skip bytes past the
// read pointer rd. The read pointer is not modified.
func (s *socket) peekRx(rd, skip uint16, buf []byte) error {
	off, first := ringSpan(rd+skip, uint16(len(buf)), s.rxSize)
	err := s.chip.regs.Read(s.rxBase+off, buf[:first])
	if err == nil && int(first) < len(buf) {
		err = s.chip.regs.Read(s.rxBase, buf[first:])
	}
	return err
}

// consumeRx advances the RX read pointer by n and issues RECV so the chip
// can reuse the space.
func (s *socket) consumeRx(rd, n uint16) error {
	err := s.chip.write16(s.reg(wreg.Sn_RX_RD), rd+n)
	if err != nil {
		return err
	}
	return s.command(context.Background(), wreg.CmdRecv)
}

func (s *socket) rxPointer() (uint16, error) {
	return s.chip.read16(s.reg(wreg.Sn_RX_RD))
}

// send issues SEND and waits for the chip to finish transmitting.
func (s *socket) send(ctx context.Context) error {
	err := s.command(ctx, wreg.CmdSend)
	if err != nil {
		return err
	}
	var ir byte
	err = s.chip.waitFor(ctx, func() (bool, error) {
		var err error
		ir, err = s.interrupts()
		return ir&(wreg.Sn_IR_SEND_OK|wreg.Sn_IR_TIMEOUT) != 0, err
	})
	if err != nil {
		return err
	}
	if ir&wreg.Sn_IR_TIMEOUT != 0 {
		s.clearInterrupts(wreg.Sn_IR_TIMEOUT)
		return errSendTimeout
	}
	return s.clearInterrupts(wreg.Sn_IR_SEND_OK)
}

// ringSpan returns the offset of ptr inside a ring buffer of the given size
// and how many of n bytes fit before the ring wraps. size must be a power of two.
func ringSpan[T constraints.Unsigned](ptr, n, size T) (off, first T) {
	off = ptr & (size - 1)
	first = min(n, size-off)
	return off, first
}

func get16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
