package periphbus

import (
	"errors"
	"testing"
	"time"

	"github.com/soypat/w5100"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// recordConn records SPI transactions and the SEN level seen during each.
type recordConn struct {
	name   string
	sen    *gpiotest.Pin
	frames [][]byte
	senLvl []gpio.Level
}

func (c *recordConn) String() string                 { return c.name }
func (c *recordConn) Halt() error                    { return nil }
func (c *recordConn) Duplex() conn.Duplex            { return conn.Full }
func (c *recordConn) TxPackets(p []spi.Packet) error { return errors.New("not supported") }

func (c *recordConn) Tx(w, r []byte) error {
	c.frames = append(c.frames, append([]byte(nil), w...))
	c.senLvl = append(c.senLvl, c.sen.Read())
	r[3] = 0x5a
	return nil
}

type countCloser struct{ n int }

func (c *countCloser) Close() error { c.n++; return nil }

func TestDeviceOverPeriphConn(t *testing.T) {
	sen := &gpiotest.Pin{N: "GPIO22", Num: 22, L: gpio.High}
	rst := &gpiotest.Pin{N: "GPIO12", Num: 12, L: gpio.High}
	rc := &recordConn{name: "SPI0.0-test", sen: sen}
	closer := &countCloser{}
	cfg := New(rc, closer, sen, rst, nil)
	cfg.TxTimeout = 0
	cfg.ResetPulse = time.Millisecond
	dev, err := w5100.Init(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if sen.Read() != gpio.Low || rst.Read() != gpio.Low {
		t.Error("Init must drive SEN and RESET low")
	}
	err = dev.Write(0x0004, []byte{0xaa})
	if err != nil {
		t.Fatal(err)
	}
	v, err := dev.Read8(0x0004)
	if err != nil || v != 0x5a {
		t.Fatalf("read got %#x, %v", v, err)
	}
	if len(rc.frames) != 2 {
		t.Fatalf("got %d transactions", len(rc.frames))
	}
	want := [][]byte{{0xf0, 0x00, 0x04, 0xaa}, {0x0f, 0x00, 0x04, 0x00}}
	for i := range want {
		if string(rc.frames[i]) != string(want[i]) {
			t.Errorf("frame %d: % x, want % x", i, rc.frames[i], want[i])
		}
		if rc.senLvl[i] != gpio.High {
			t.Errorf("SEN not asserted during transaction %d", i)
		}
	}
	if sen.Read() != gpio.Low {
		t.Error("SEN left asserted")
	}
	dev.HardwareReset()
	if rst.Read() != gpio.Low {
		t.Error("reset line left high")
	}
	err = dev.Deinit()
	if err != nil {
		t.Fatal(err)
	}
	if closer.n != 1 {
		t.Errorf("port closed %d times", closer.n)
	}
	// Port lock was released so the port can be claimed again.
	dev, err = w5100.Init(New(rc, nil, nil, nil, nil))
	if err != nil {
		t.Fatal(err)
	}
	dev.Deinit()
}

func TestPortLockShared(t *testing.T) {
	if portLock("SPI1.0") != portLock("SPI1.0") {
		t.Error("same port must share lock")
	}
	if portLock("SPI1.0") == portLock("SPI1.1") {
		t.Error("different ports must not share lock")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Frequency != 1200*physic.KiloHertz {
		t.Errorf("frequency %s", cfg.Frequency)
	}
	if cfg.SENPin == "" || cfg.ResetPin == "" {
		t.Error("default pins not set")
	}
}
