package wreg

import "testing"

func TestSocketAddresses(t *testing.T) {
	if SocketBase(0) != 0x0400 || SocketBase(3) != 0x0700 {
		t.Error("bad socket base")
	}
	if SocketReg(1, Sn_RX_RD) != 0x0528 {
		t.Errorf("got %#x", SocketReg(1, Sn_RX_RD))
	}
}

func TestMemSizes(t *testing.T) {
	var tests = []struct {
		sizes [SocketCount]uint16
		msr   byte
	}{
		{sizes: [4]uint16{2048, 2048, 2048, 2048}, msr: RMSR_RESET},
		{sizes: [4]uint16{8192, 0, 0, 0}, msr: 0x03},
		{sizes: [4]uint16{4096, 2048, 1024, 1024}, msr: 0b00_00_01_10},
	}
	for _, tt := range tests {
		got, err := EncodeMemSizes(tt.sizes)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.msr {
			t.Errorf("%v: got %#x, want %#x", tt.sizes, got, tt.msr)
		}
		if decoded := DecodeMemSizes(tt.msr); decoded != tt.sizes {
			t.Errorf("%#x: decoded %v, want %v", tt.msr, decoded, tt.sizes)
		}
	}
	for _, bad := range [][SocketCount]uint16{
		{8192, 1024, 0, 0},
		{4096, 0, 2048, 2048},
		{3000, 1024, 1024, 1024},
	} {
		if _, err := EncodeMemSizes(bad); err == nil {
			t.Errorf("%v: expected error", bad)
		}
	}
	bases := BufferBases(TXBase, [4]uint16{4096, 2048, 1024, 1024})
	if bases != [4]uint16{0x4000, 0x5000, 0x5800, 0x5c00} {
		t.Errorf("bad bases %#x", bases)
	}
}

func TestStatusStrings(t *testing.T) {
	if StatusEstablished.String() != "ESTABLISHED" || Status(0x99).String() != "status(153)" {
		t.Error("bad status string")
	}
	if !StatusCloseWait.IsClosing() || StatusEstablished.IsClosing() {
		t.Error("bad closing classification")
	}
	if (ModeMACRAW | ModeMACFilter).String() != "macraw" {
		t.Error("flags must not affect protocol string")
	}
	if CmdSend.String() != "SEND" {
		t.Error("bad command string")
	}
}

func TestRegisterName(t *testing.T) {
	var tests = []struct {
		addr uint16
		want string
	}{
		{MR, "MR"},
		{SIPR + 1, "SIPR+1"},
		{SHAR + 5, "SHAR+5"},
		{0x0030, "0x0030"},
		{SocketReg(0, Sn_SR), "S0_SR"},
		{SocketReg(2, Sn_TX_WR), "S2_TX_WR"},
		{SocketReg(3, Sn_RX_RD+1), "S3_RX_RD+1"},
		{SocketReg(1, 0x30), "0x0530"},
		{TXBase + 0x1f0, "TX+0x01f0"},
		{RXBase, "RX+0x0000"},
		{0xffff, "0xffff"},
	}
	for _, tt := range tests {
		if got := RegisterName(tt.addr); got != tt.want {
			t.Errorf("RegisterName(%#04x) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}
