package main

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"net/netip"
	"strings"
	"testing"

	"github.com/soypat/w5100/wreg"
)

func TestParseLevel(t *testing.T) {
	var tests = []struct {
		s    string
		want slog.Level
	}{
		{"trace", levelTrace},
		{"TRACE", levelTrace},
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.s)
		if err != nil || got != tt.want {
			t.Errorf("parseLevel(%q) = %v, %v", tt.s, got, err)
		}
	}
	if _, err := parseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNetConfig(t *testing.T) {
	cfg, err := netConfig("", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != netip.MustParsePrefix("192.168.88.10/27") || cfg.Gateway != netip.MustParseAddr("192.168.88.1") {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	cfg, err = netConfig("de:ad:be:ef:00:01", "10.0.0.5/24", "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HardwareAddr != [6]byte{0xde, 0xad, 0xbe, 0xef, 0, 1} {
		t.Errorf("hw %x", cfg.HardwareAddr)
	}
	if cfg.Addr.Bits() != 24 || cfg.Gateway.String() != "10.0.0.1" {
		t.Errorf("addr %s gateway %s", cfg.Addr, cfg.Gateway)
	}
	for _, bad := range [][3]string{
		{"not-a-mac", "", ""},
		{"", "fe80::1/64", ""},
		{"", "", "10.0.0"},
	} {
		if _, err := netConfig(bad[0], bad[1], bad[2]); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestPortValue(t *testing.T) {
	if p, err := portValue(8080); err != nil || p != 8080 {
		t.Errorf("portValue(8080) = %d, %v", p, err)
	}
	for i := 0; i < 32; i++ {
		p, err := portValue(0)
		if err != nil || p < 49152 {
			t.Fatalf("ephemeral port %d, %v", p, err)
		}
	}
	for _, v := range []uint{65536, 70000} {
		if _, err := portValue(v); err == nil {
			t.Errorf("portValue(%d) accepted out of range port", v)
		}
	}
}

func TestParseBytes(t *testing.T) {
	got, err := parseBytes([]string{"0xc0", "168", "0b1011000", "0x0a"})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{192, 168, 88, 10}) {
		t.Errorf("got %v", got)
	}
	if _, err := parseBytes([]string{"256"}); err == nil {
		t.Error("expected overflow error")
	}
}

// memRegs is a flat register file.
type memRegs [1 << 16]byte

func (m *memRegs) Read(addr uint16, buf []byte) error {
	copy(buf, m[addr:])
	return nil
}

func (m *memRegs) Write(addr uint16, data []byte) error {
	copy(m[addr:], data)
	return nil
}

func TestDumpRegisters(t *testing.T) {
	regs := new(memRegs)
	copy(regs[wreg.SIPR:], []byte{192, 168, 88, 10})
	regs[wreg.SocketReg(1, wreg.Sn_MR)] = byte(wreg.ModeTCP)
	regs[wreg.SocketReg(1, wreg.Sn_SR)] = byte(wreg.StatusEstablished)
	var buf bytes.Buffer
	err := dumpRegisters(&buf, regs, true)
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "0x0000: 00 00") || !strings.Contains(out, "0x0010: a8 58 0a") {
		t.Errorf("common registers missing:\n%s", out)
	}
	wantSocket := "socket 1: mode=" + wreg.ModeTCP.String() + " status=" + wreg.StatusEstablished.String()
	if !strings.Contains(out, wantSocket) {
		t.Errorf("missing %q in:\n%s", wantSocket, out)
	}
	if !strings.Contains(out, "0x0700:") {
		t.Errorf("socket 3 not dumped:\n%s", out)
	}

	buf.Reset()
	err = hexdump(&buf, wreg.SIPR, []byte{192})
	if err != nil || buf.String() != "0x000f SIPR 0xc0\n" {
		t.Errorf("single register: %q, %v", buf.String(), err)
	}
}

func TestFormatFrame(t *testing.T) {
	frame := make([]byte, 60)
	copy(frame, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x02, 0, 0x57, 0x51, 0, 1})
	binary.BigEndian.PutUint16(frame[12:], 0x0806)
	got := formatFrame(frame)
	if !strings.HasSuffix(got, "type=0x0806 len=60") {
		t.Errorf("got %q", got)
	}
	if !strings.HasPrefix(formatFrame(frame[:5]), "invalid frame") {
		t.Error("short frame not reported")
	}
}

// fakeServer answers every request with a fixed response and then EOF.
type fakeServer struct {
	req  bytes.Buffer
	resp io.Reader
}

func (f *fakeServer) Write(b []byte) (int, error) { return f.req.Write(b) }
func (f *fakeServer) Read(b []byte) (int, error)  { return f.resp.Read(b) }

func TestHTTPGet(t *testing.T) {
	srv := &fakeServer{resp: strings.NewReader("HTTP/1.1 200 OK\r\nContent-Length: 5\r\nConnection: close\r\n\r\nhello")}
	status, body, err := httpGet(srv, "192.168.88.1:80", "/index.html")
	if err != nil {
		t.Fatal(err)
	}
	if status != "200 OK" || string(body) != "hello" {
		t.Errorf("got %q %q", status, body)
	}
	req := srv.req.String()
	if !strings.HasPrefix(req, "GET /index.html HTTP/1.1\r\n") || !strings.HasSuffix(req, "\r\n\r\n") {
		t.Errorf("bad request %q", req)
	}
	if !strings.Contains(req, "Host: 192.168.88.1:80\r\n") {
		t.Errorf("missing host header in %q", req)
	}

	srv = &fakeServer{resp: strings.NewReader("HTTP/1.1 200 OK\r\nContent-Le")}
	if _, _, err := httpGet(srv, "h", "/"); err == nil {
		t.Error("expected error on truncated response")
	}
}
