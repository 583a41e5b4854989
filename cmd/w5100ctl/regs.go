package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"
	"github.com/soypat/w5100/wnet"
	"github.com/soypat/w5100/wreg"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
)

// commonRegsSize spans MR through UPORT.
const commonRegsSize = wreg.UPORT + 2

// socketRegsSize spans Sn_MR through Sn_RX_RD.
const socketRegsSize = wreg.Sn_RX_RD + 2

func resetAction(c *cli.Context) (err error) {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()
	s.dev.HardwareReset()
	if err = s.chip.SoftReset(c.Context); err != nil {
		return err
	}
	if err = s.chip.Detect(); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "W5100 detected")
	return nil
}

func dumpAction(c *cli.Context) (err error) {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()
	return dumpRegisters(c.App.Writer, s.dev, c.Bool(flagSockets))
}

func readAction(c *cli.Context) (err error) {
	if c.NArg() < 1 || c.NArg() > 2 {
		return errors.New("expected ADDR [N]")
	}
	addr, err := parseUint(c.Args().Get(0), 16)
	if err != nil {
		return err
	}
	n := uint64(1)
	if c.NArg() == 2 {
		n, err = parseUint(c.Args().Get(1), 17)
		if err != nil {
			return err
		}
	}
	if n == 0 || addr+n > 1<<16 {
		return errors.Errorf("cannot read %d bytes at %#04x", n, addr)
	}
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()
	buf := make([]byte, n)
	if err = s.dev.Read(uint16(addr), buf); err != nil {
		return err
	}
	return hexdump(c.App.Writer, uint16(addr), buf)
}

func writeAction(c *cli.Context) (err error) {
	if c.NArg() < 2 {
		return errors.New("expected ADDR BYTE...")
	}
	addr, err := parseUint(c.Args().Get(0), 16)
	if err != nil {
		return err
	}
	data, err := parseBytes(c.Args().Slice()[1:])
	if err != nil {
		return err
	}
	if addr+uint64(len(data)) > 1<<16 {
		return errors.Errorf("cannot write %d bytes at %#04x", len(data), addr)
	}
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()
	return s.dev.Write(uint16(addr), data)
}

func parseUint(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bits)
	return v, errors.Wrapf(err, "invalid number %q", s)
}

func parseBytes(args []string) ([]byte, error) {
	data := make([]byte, len(args))
	for i, arg := range args {
		v, err := parseUint(arg, 8)
		if err != nil {
			return nil, err
		}
		data[i] = byte(v)
	}
	return data, nil
}

func dumpRegisters(w io.Writer, regs wnet.RegisterIO, sockets bool) error {
	var buf [commonRegsSize]byte
	if err := regs.Read(0, buf[:]); err != nil {
		return err
	}
	fmt.Fprintln(w, "common registers:")
	if err := hexdump(w, 0, buf[:]); err != nil {
		return err
	}
	if !sockets {
		return nil
	}
	for n := uint8(0); n < wreg.SocketCount; n++ {
		var sbuf [socketRegsSize]byte
		base := wreg.SocketBase(n)
		if err := regs.Read(base, sbuf[:]); err != nil {
			return err
		}
		fmt.Fprintf(w, "socket %d: mode=%s status=%s\n", n, wreg.SocketMode(sbuf[wreg.Sn_MR]), wreg.Status(sbuf[wreg.Sn_SR]))
		if err := hexdump(w, base, sbuf[:]); err != nil {
			return err
		}
	}
	return nil
}

// hexdump prints data 16 bytes per line prefixed by the register address.
// A single byte is printed with its register name.
func hexdump(w io.Writer, addr uint16, data []byte) error {
	if len(data) == 1 {
		_, err := fmt.Fprintf(w, "0x%04x %s 0x%02x\n", addr, wreg.RegisterName(addr), data[0])
		return err
	}
	for off := 0; off < len(data); off += 16 {
		end := min(off+16, len(data))
		_, err := fmt.Fprintf(w, "0x%04x: % x\n", int(addr)+off, data[off:end])
		if err != nil {
			return err
		}
	}
	return nil
}
