package w5100

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Device is a W5100 attached to an SPI bus. Create one per chip with [Init].
// Read and Write may be called from any number of goroutines; each call is
// performed atomically with respect to the others.
type Device struct {
	// sem guards every field below it and the bus itself.
	sem *semaphore.Weighted

	bus          Bus
	owned        sync.Locker // held bus lock, nil if bus is not a Locker or was released.
	hooks        TxHooks
	reset        OutputPin
	logger       *slog.Logger
	resetPulse   time.Duration
	txTimeout    time.Duration
	lockTimeout  time.Duration
	checkBounds  bool
	traceEnabled bool
	// txbuf holds the outgoing and incoming frame for unbounded transactions.
	txbuf [2 * FrameSize]byte
	// worker runs bounded transactions. Replaced after a timeout.
	worker *txWorker
	timer  *time.Timer

	closed atomic.Bool
}

// txWorker performs bounded transactions on its own goroutine so the caller
// can stop waiting on a stalled bus. Its buffers are owned by the worker
// until the in-flight Tx returns.
type txWorker struct {
	start chan struct{}
	done  chan error
	buf   [2 * FrameSize]byte
}

func startWorker(bus Bus) *txWorker {
	wk := &txWorker{
		start: make(chan struct{}),
		done:  make(chan error, 1),
	}
	go func() {
		for range wk.start {
			wk.done <- bus.Tx(wk.buf[:FrameSize], wk.buf[FrameSize:])
		}
	}()
	return wk
}

// stop makes the worker goroutine exit once its current Tx, if any, returns.
func (wk *txWorker) stop() { close(wk.start) }

// Init configures the control lines, claims the bus and returns a device
// ready for register access. On failure nothing is left claimed and the
// returned error is fatal.
func Init(cfg Config) (*Device, error) {
	if cfg.Bus == nil {
		return nil, opErr("init", 0, ErrNilBus)
	}
	d := &Device{
		bus:         cfg.Bus,
		hooks:       cfg.Hooks,
		reset:       cfg.Reset,
		logger:      cfg.Logger,
		resetPulse:  resetPulse(cfg.ResetPulse),
		txTimeout:   cfg.TxTimeout,
		lockTimeout: cfg.LockTimeout,
		checkBounds: cfg.CheckBounds,
	}
	d.traceEnabled = logEnabled(d.logger, levelTrace)
	d.debug("w5100:init-start")
	if locker, ok := cfg.Bus.(sync.Locker); ok {
		locker.Lock()
		d.owned = locker
	}
	if cfg.Setup != nil {
		if err := cfg.Setup(); err != nil {
			d.releaseBus()
			d.logerr("w5100:init-setup", slog.String("err", err.Error()))
			return nil, opErr("init", 0, err)
		}
	}
	if d.reset != nil {
		d.reset(false)
	}
	d.hooks.post()
	d.sem = semaphore.NewWeighted(1)
	d.info("w5100:init",
		slog.Bool("owned", d.owned != nil),
		slog.Duration("txTimeout", d.txTimeout),
		slog.Bool("bounds", d.checkBounds),
	)
	return d, nil
}

// Deinit releases the bus and closes it if it implements [io.Closer].
// Any later call on the device fails with [ErrClosed].
func (d *Device) Deinit() error {
	if err := d.acquire(); err != nil {
		return opErr("deinit", 0, err)
	}
	defer d.release()
	d.closed.Store(true)
	if d.worker != nil {
		d.worker.stop()
		d.worker = nil
	}
	d.releaseBus()
	var err error
	if c, ok := d.bus.(io.Closer); ok {
		err = c.Close()
	}
	if err != nil {
		d.logerr("w5100:deinit", slog.String("err", err.Error()))
		return opErr("deinit", 0, err)
	}
	d.info("w5100:deinit")
	return nil
}

// Read reads len(buf) consecutive registers starting at addr into buf.
// Each byte is one SPI transaction. A zero length read does not touch the bus.
func (d *Device) Read(addr uint16, buf []byte) error {
	if err := d.check(addr, len(buf)); err != nil || len(buf) == 0 {
		return opErrOrNil("read", addr, err)
	}
	if err := d.acquire(); err != nil {
		return opErr("read", addr, err)
	}
	defer d.release()
	for i := range buf {
		a := addr + uint16(i)
		v, err := d.transfer(EncodeRead(a))
		if err != nil {
			d.logerr("w5100:read", slog.Uint64("addr", uint64(a)), slog.String("err", err.Error()))
			return opErr("read", a, err)
		}
		buf[i] = v
		d.trace("w5100:rd", slog.Uint64("addr", uint64(a)), slog.Uint64("val", uint64(v)))
	}
	return nil
}

// Write writes data to consecutive registers starting at addr.
// Each byte is one SPI transaction. A zero length write does not touch the bus.
func (d *Device) Write(addr uint16, data []byte) error {
	if err := d.check(addr, len(data)); err != nil || len(data) == 0 {
		return opErrOrNil("write", addr, err)
	}
	if err := d.acquire(); err != nil {
		return opErr("write", addr, err)
	}
	defer d.release()
	for i, v := range data {
		a := addr + uint16(i)
		_, err := d.transfer(EncodeWrite(a, v))
		if err != nil {
			d.logerr("w5100:write", slog.Uint64("addr", uint64(a)), slog.String("err", err.Error()))
			return opErr("write", a, err)
		}
		d.trace("w5100:wr", slog.Uint64("addr", uint64(a)), slog.Uint64("val", uint64(v)))
	}
	return nil
}

// Read8 reads a single register.
func (d *Device) Read8(addr uint16) (byte, error) {
	var buf [1]byte
	err := d.Read(addr, buf[:])
	return buf[0], err
}

// Write8 writes a single register.
func (d *Device) Write8(addr uint16, v byte) error {
	return d.Write(addr, []byte{v})
}

// Read16 reads the big endian register pair at addr and addr+1.
func (d *Device) Read16(addr uint16) (uint16, error) {
	var buf [2]byte
	err := d.Read(addr, buf[:])
	return binary.BigEndian.Uint16(buf[:]), err
}

// Write16 writes v to the big endian register pair at addr and addr+1.
func (d *Device) Write16(addr uint16, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return d.Write(addr, buf[:])
}

// transfer performs a single frame transaction and returns the last byte
// shifted out by the chip. Must be called with sem held.
func (d *Device) transfer(f Frame) (byte, error) {
	d.hooks.pre()
	defer d.hooks.post()
	if d.txTimeout <= 0 {
		w, r := d.txbuf[:FrameSize], d.txbuf[FrameSize:]
		f.Put(w)
		err := d.bus.Tx(w, r)
		return r[FrameSize-1], err
	}
	if d.worker == nil {
		d.worker = startWorker(d.bus)
	}
	wk := d.worker
	f.Put(wk.buf[:FrameSize])
	wk.start <- struct{}{}
	if d.timer == nil {
		d.timer = time.NewTimer(d.txTimeout)
	} else {
		d.timer.Reset(d.txTimeout)
	}
	select {
	case err := <-wk.done:
		if !d.timer.Stop() {
			select {
			case <-d.timer.C:
			default:
			}
		}
		return wk.buf[2*FrameSize-1], err
	case <-d.timer.C:
		// The stalled Tx keeps its worker and buffers. The next transaction
		// starts a new worker and may enter Tx before the stalled call returns.
		wk.stop()
		d.worker = nil
		d.logerr("w5100:tx-timeout", slog.Duration("timeout", d.txTimeout))
		return 0, ErrTxTimeout
	}
}

func (d *Device) check(addr uint16, n int) error {
	if d == nil || d.sem == nil {
		return ErrNotInitialized
	}
	if d.closed.Load() {
		return ErrClosed
	}
	if d.checkBounds && int(addr)+n > 1<<16 {
		return ErrAddrRange
	}
	return nil
}

func (d *Device) acquire() error {
	if d == nil || d.sem == nil {
		return ErrNotInitialized
	}
	ctx := context.Background()
	if d.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.lockTimeout)
		defer cancel()
	}
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return ErrLockTimeout
	}
	if d.closed.Load() {
		d.sem.Release(1)
		return ErrClosed
	}
	return nil
}

func (d *Device) release() {
	d.sem.Release(1)
}

func (d *Device) releaseBus() {
	if d.owned != nil {
		d.owned.Unlock()
		d.owned = nil
	}
}

func resetPulse(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultResetPulse
	}
	return max(d, MinResetPulse)
}

func opErrOrNil(op string, addr uint16, err error) error {
	if err == nil {
		return nil
	}
	return opErr(op, addr, err)
}
