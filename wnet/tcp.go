package wnet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/soypat/w5100/wreg"
)

var (
	errConnRefused = errors.New("wnet: connection refused or timed out")
	errConnClosed  = errors.New("wnet: use of closed connection")
)

// TCPConn is a TCP connection handled by the chip's TCP engine. It
// implements io.ReadWriteCloser. Read and Write may be used concurrently
// by one reader and one writer.
type TCPConn struct {
	s     *socket
	raddr netip.AddrPort
	lport uint16

	mu       sync.Mutex
	deadline time.Time
	closed   bool
}

// DialTCP opens a TCP connection from localPort to raddr and waits until it
// is established or ctx is done.
func (c *Chip) DialTCP(ctx context.Context, localPort uint16, raddr netip.AddrPort) (*TCPConn, error) {
	if !raddr.Addr().Is4() {
		return nil, errInvalidAddr
	}
	s, err := c.claim(-1)
	if err != nil {
		return nil, err
	}
	err = s.open(ctx, wreg.ModeTCP, localPort, wreg.StatusInit)
	if err != nil {
		s.close()
		return nil, err
	}
	ip := raddr.Addr().As4()
	err = c.regs.Write(s.reg(wreg.Sn_DIPR), ip[:])
	if err == nil {
		err = c.write16(s.reg(wreg.Sn_DPORT), raddr.Port())
	}
	if err == nil {
		err = s.command(ctx, wreg.CmdConnect)
	}
	if err != nil {
		s.close()
		return nil, err
	}
	c.debug("tcp:connect", slog.Int("n", int(s.n)), slog.String("raddr", raddr.String()))
	var st wreg.Status
	for {
		st, err = s.status()
		if err != nil || st == wreg.StatusEstablished {
			break
		}
		ir, ierr := s.interrupts()
		if ierr != nil {
			err = ierr
			break
		}
		if st == wreg.StatusClosed || ir&wreg.Sn_IR_TIMEOUT != 0 {
			err = errConnRefused
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(c.poll):
		}
		if err != nil {
			break
		}
	}
	if err != nil {
		c.logerr("tcp:connect", slog.String("raddr", raddr.String()), slog.String("status", st.String()), slog.String("err", err.Error()))
		s.close()
		return nil, err
	}
	s.clearInterrupts(wreg.Sn_IR_CON)
	c.info("tcp:established", slog.Int("n", int(s.n)), slog.String("raddr", raddr.String()))
	return &TCPConn{s: s, raddr: raddr, lport: localPort}, nil
}

// RemoteAddr returns the address the connection was dialed to.
func (t *TCPConn) RemoteAddr() netip.AddrPort { return t.raddr }

// LocalPort returns the source port of the connection.
func (t *TCPConn) LocalPort() uint16 { return t.lport }

// SetDeadline sets the time after which pending and future Read and Write
// calls fail with [os.ErrDeadlineExceeded]. A zero value disables the deadline.
func (t *TCPConn) SetDeadline(deadline time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errConnClosed
	}
	t.deadline = deadline
	return nil
}

// State returns the chip's TCP state for the connection.
func (t *TCPConn) State() (wreg.Status, error) {
	return t.s.status()
}

// Buffered returns the number of received bytes that can be read without blocking.
func (t *TCPConn) Buffered() (int, error) {
	n, err := t.s.rxReceived()
	return int(n), err
}

func (t *TCPConn) check() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errConnClosed
	}
	if !t.deadline.IsZero() && time.Now().After(t.deadline) {
		return os.ErrDeadlineExceeded
	}
	return nil
}

// Read reads received data into b. It blocks until data is available, the
// peer closes the connection (io.EOF) or the deadline expires.
func (t *TCPConn) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, t.check()
	}
	for {
		if err := t.check(); err != nil {
			return 0, err
		}
		pending, err := t.s.rxReceived()
		if err != nil {
			return 0, err
		}
		if pending > 0 {
			n := min(int(pending), len(b))
			rd, err := t.s.rxPointer()
			if err != nil {
				return 0, err
			}
			err = t.s.peekRx(rd, 0, b[:n])
			if err != nil {
				return 0, err
			}
			return n, t.s.consumeRx(rd, uint16(n))
		}
		st, err := t.s.status()
		if err != nil {
			return 0, err
		}
		if st != wreg.StatusEstablished {
			return 0, io.EOF
		}
		time.Sleep(t.s.chip.poll)
	}
}

// Write sends b over the connection, splitting it to fit the TX buffer.
func (t *TCPConn) Write(b []byte) (int, error) {
	written := 0
	for written < len(b) {
		if err := t.check(); err != nil {
			return written, err
		}
		st, err := t.s.status()
		if err != nil {
			return written, err
		}
		if st != wreg.StatusEstablished && st != wreg.StatusCloseWait {
			return written, io.ErrClosedPipe
		}
		free, err := t.s.txFree()
		if err != nil {
			return written, err
		}
		if free == 0 {
			time.Sleep(t.s.chip.poll)
			continue
		}
		n := min(int(free), len(b)-written)
		err = t.s.writeTx(b[written : written+n])
		if err != nil {
			return written, err
		}
		err = t.s.send(context.Background())
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// Close gracefully disconnects and releases the socket.
func (t *TCPConn) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errConnClosed
	}
	t.closed = true
	t.mu.Unlock()
	c := t.s.chip
	err := t.s.command(context.Background(), wreg.CmdDiscon)
	if err == nil {
		// The peer may never acknowledge; CLOSE below forces the socket shut.
		c.waitFor(context.Background(), func() (bool, error) {
			st, err := t.s.status()
			return st == wreg.StatusClosed, err
		})
	}
	c.debug("tcp:close", slog.Int("n", int(t.s.n)), slog.String("raddr", t.raddr.String()))
	cerr := t.s.close()
	if err != nil {
		return err
	}
	return cerr
}
